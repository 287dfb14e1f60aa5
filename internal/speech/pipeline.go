package speech

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/vpaquet/readalong/internal/document"
	"github.com/vpaquet/readalong/internal/reliability"
)

// MaxAttempts bounds the synthesis retries per segment. A segment that still
// fails after this many attempts fails the whole pipeline.
const MaxAttempts = 3

const (
	retryBackoffBase = 500 * time.Millisecond
	retryBackoffCap  = 5 * time.Second
)

// Sink consumes the pipeline's output in order, one fully drained chunk per
// segment.
type Sink interface {
	Next(mimeType string, data []byte) error
	End()
}

// Response is one retained synthesis result, index-aligned with the chunks
// handed to the sink.
type Response struct {
	Text     string
	MimeType string
	Data     []byte
	Words    []WordTimestamp
}

// Pipeline converts an ordered list of text segments into audio chunks,
// strictly one request in flight at a time. Responses are retained for word
// lookup after the audio has been handed off.
type Pipeline struct {
	synth    Synthesizer
	template Request

	mu         sync.Mutex
	responses  []*Response
	terminated bool
	runErr     error
}

// NewPipeline builds a pipeline; template carries the voice, model, language
// and speed applied to every request.
func NewPipeline(synth Synthesizer, template Request) *Pipeline {
	return &Pipeline{synth: synth, template: template}
}

// Run synthesizes every segment in order, handing each drained chunk to the
// sink. The first segment to exhaust its retries fails the run with that
// error and the remaining segments are abandoned; on success the sink is
// notified that no more chunks will come. Run is single-use.
func (p *Pipeline) Run(ctx context.Context, segments []document.Segment, sink Sink) error {
	for _, seg := range segments {
		text := seg.SpeechText()
		resp, err := p.synthesizeWithRetry(ctx, text)
		if err != nil {
			p.finish(fmt.Errorf("segment %d: %w", seg.Index, err))
			return p.Err()
		}

		p.mu.Lock()
		p.responses = append(p.responses, resp)
		p.mu.Unlock()

		if err := sink.Next(resp.MimeType, resp.Data); err != nil {
			p.finish(fmt.Errorf("segment %d: hand off chunk: %w", seg.Index, err))
			return p.Err()
		}
	}
	sink.End()
	p.finish(nil)
	return nil
}

func (p *Pipeline) synthesizeWithRetry(ctx context.Context, text string) (*Response, error) {
	req := p.template
	req.Text = text

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		resp, err := p.synthesizeOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !reliability.Retryable(err) || attempt == MaxAttempts {
			break
		}
		log.Printf("speech: attempt %d/%d failed, retrying: %v", attempt, MaxAttempts, err)
		if err := sleepCtx(ctx, reliability.ExponentialBackoff(attempt-1, retryBackoffBase, retryBackoffCap)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// synthesizeOnce performs one request and drains the audio stream completely
// before returning, so the sink always receives one whole segment's audio.
func (p *Pipeline) synthesizeOnce(ctx context.Context, req Request) (*Response, error) {
	res, err := p.synth.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(res.Content)
	closeErr := res.Content.Close()
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("drain audio stream: %w", err)}
	}
	if closeErr != nil {
		return nil, &transportError{err: fmt.Errorf("close audio stream: %w", closeErr)}
	}
	return &Response{
		Text:     res.Text,
		MimeType: res.MimeType,
		Data:     data,
		Words:    AlignWords(res.Words, req.Text),
	}, nil
}

func (p *Pipeline) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return
	}
	p.terminated = true
	p.runErr = err
}

// Response returns the retained result for the given segment index, if it has
// been produced.
func (p *Pipeline) Response(i int) (*Response, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.responses) {
		return nil, false
	}
	return p.responses[i], true
}

// ResponseCount reports how many segments have completed synthesis.
func (p *Pipeline) ResponseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses)
}

// Terminated reports whether the run has finished, successfully or not.
func (p *Pipeline) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Err returns the run's failure, nil while running or after success.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
