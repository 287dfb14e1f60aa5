package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/vpaquet/readalong/internal/document"
)

// scriptedSynthesizer fails with the scripted errors first, then succeeds.
type scriptedSynthesizer struct {
	mu    sync.Mutex
	errs  []error
	calls int
	texts []string
}

func (s *scriptedSynthesizer) Synthesize(_ context.Context, req Request) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.texts = append(s.texts, req.Text)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &Result{
		Text:     req.Text,
		MimeType: "audio/wav",
		Content:  io.NopCloser(bytes.NewReader([]byte(req.Text))),
		Words: []WordTimestamp{
			{Word: req.Text, Time: TimeRange{0, 1}, Text: TextRange{0, len(req.Text)}},
		},
	}, nil
}

func (s *scriptedSynthesizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
	mimes  []string
	ended  bool
}

func (r *recordingSink) Next(mimeType string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mimes = append(r.mimes, mimeType)
	r.chunks = append(r.chunks, data)
	return nil
}

func (r *recordingSink) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
}

func segments(texts ...string) []document.Segment {
	out := make([]document.Segment, len(texts))
	for i, text := range texts {
		out[i] = document.Segment{Index: i, Runs: []document.TextRun{{ID: "r", Text: text}}}
	}
	return out
}

func TestPipelineHandsChunksToSinkInOrder(t *testing.T) {
	synth := &scriptedSynthesizer{}
	sink := &recordingSink{}
	p := NewPipeline(synth, Request{})

	if err := p.Run(context.Background(), segments("one", "two", "three"), sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sink.chunks) != 3 {
		t.Fatalf("sink chunks = %d, want 3", len(sink.chunks))
	}
	for i, want := range []string{"one", "two", "three"} {
		if string(sink.chunks[i]) != want {
			t.Fatalf("chunk %d = %q, want %q", i, sink.chunks[i], want)
		}
	}
	if !sink.ended {
		t.Fatalf("sink.End() not called after last segment")
	}
	if !p.Terminated() || p.Err() != nil {
		t.Fatalf("Terminated() = %v, Err() = %v, want clean termination", p.Terminated(), p.Err())
	}
}

func TestPipelineRetainsResponsesIndexAligned(t *testing.T) {
	synth := &scriptedSynthesizer{}
	p := NewPipeline(synth, Request{})

	if err := p.Run(context.Background(), segments("alpha", "beta"), &recordingSink{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if p.ResponseCount() != 2 {
		t.Fatalf("ResponseCount() = %d, want 2", p.ResponseCount())
	}
	resp, ok := p.Response(1)
	if !ok {
		t.Fatalf("Response(1) missing")
	}
	if resp.Text != "beta" || string(resp.Data) != "beta" {
		t.Fatalf("Response(1) = %+v, want beta", resp)
	}
	if len(resp.Words) != 1 || resp.Words[0].Text != (TextRange{0, 4}) {
		t.Fatalf("Response(1) words = %+v", resp.Words)
	}
	if _, ok := p.Response(2); ok {
		t.Fatalf("Response(2) exists, want miss")
	}
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	synth := &scriptedSynthesizer{errs: []error{
		&transportError{err: errors.New("reset")},
		&RequestError{StatusCode: 503, Body: "busy"},
	}}
	sink := &recordingSink{}
	p := NewPipeline(synth, Request{})

	if err := p.Run(context.Background(), segments("one"), sink); err != nil {
		t.Fatalf("Run() error = %v, want success on third attempt", err)
	}
	if got := synth.callCount(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if !sink.ended {
		t.Fatalf("sink.End() not called")
	}
}

func TestPipelineFailsFastOnNonRetryableError(t *testing.T) {
	fatal := &RequestError{StatusCode: 401, Body: "bad key"}
	synth := &scriptedSynthesizer{errs: []error{fatal}}
	sink := &recordingSink{}
	p := NewPipeline(synth, Request{})

	err := p.Run(context.Background(), segments("one", "two"), sink)
	if err == nil {
		t.Fatalf("Run() = nil, want error")
	}
	if !errors.Is(err, fatal) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, fatal)
	}
	if got := synth.callCount(); got != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on auth failure)", got)
	}
	if sink.ended {
		t.Fatalf("sink.End() called on failed run")
	}
}

func TestPipelineAbortsRemainingSegmentsAfterExhaustion(t *testing.T) {
	synth := &scriptedSynthesizer{errs: []error{
		&RequestError{StatusCode: 503, Body: "busy"},
		&RequestError{StatusCode: 503, Body: "busy"},
		&RequestError{StatusCode: 503, Body: "busy"},
	}}
	p := NewPipeline(synth, Request{})

	err := p.Run(context.Background(), segments("one", "two"), &recordingSink{})
	if err == nil {
		t.Fatalf("Run() = nil, want error after exhausted retries")
	}
	// All three attempts belong to the first segment; the second was never
	// requested.
	if got := synth.callCount(); got != MaxAttempts {
		t.Fatalf("attempts = %d, want %d", got, MaxAttempts)
	}
	if p.ResponseCount() != 0 {
		t.Fatalf("ResponseCount() = %d, want 0", p.ResponseCount())
	}
	if !p.Terminated() {
		t.Fatalf("pipeline not marked terminated after failure")
	}
}

func TestPipelineStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	synth := &scriptedSynthesizer{errs: []error{&transportError{err: errors.New("reset")}}}
	p := NewPipeline(synth, Request{})

	err := p.Run(ctx, segments("one"), &recordingSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if got := synth.callCount(); got != 1 {
		t.Fatalf("attempts = %d, want 1 with canceled context", got)
	}
}

func TestPipelineNormalizesRequestText(t *testing.T) {
	synth := &scriptedSynthesizer{}
	p := NewPipeline(synth, Request{})

	segs := []document.Segment{{Index: 0, Runs: []document.TextRun{{ID: "r", Text: "NASA wins"}}}}
	if err := p.Run(context.Background(), segs, &recordingSink{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if synth.texts[0] != "nasa wins" {
		t.Fatalf("request text = %q, want normalized %q", synth.texts[0], "nasa wins")
	}
}
