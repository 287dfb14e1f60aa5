package media

import (
	"sync"
	"testing"
	"time"
)

// scriptedBuffer records mutations and lets tests complete them manually, so
// the single-in-flight invariant is observable.
type scriptedBuffer struct {
	mu       sync.Mutex
	ops      []scriptedOp
	inflight int
	maxInfl  int
	start    float64
	end      float64
	has      bool
	ended    bool
	aborted  bool
	// appendErrs is consumed one error per append completion; nil means ok.
	appendErrs []error
}

type scriptedOp struct {
	kind  string
	bytes int
	start float64
	end   float64
	done  chan error
}

func (b *scriptedBuffer) Append(data []byte) <-chan error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight++
	if b.inflight > b.maxInfl {
		b.maxInfl = b.inflight
	}
	op := scriptedOp{kind: "append", bytes: len(data), done: make(chan error, 1)}
	b.ops = append(b.ops, op)
	return b.completeLater(op)
}

func (b *scriptedBuffer) Remove(start, end float64) <-chan error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight++
	if b.inflight > b.maxInfl {
		b.maxInfl = b.inflight
	}
	op := scriptedOp{kind: "remove", start: start, end: end, done: make(chan error, 1)}
	b.ops = append(b.ops, op)
	return b.completeLater(op)
}

// completeLater resolves the op asynchronously, like a real platform buffer.
// Callers hold mu.
func (b *scriptedBuffer) completeLater(op scriptedOp) <-chan error {
	var err error
	if op.kind == "append" && len(b.appendErrs) > 0 {
		err = b.appendErrs[0]
		b.appendErrs = b.appendErrs[1:]
	}
	if err == nil {
		switch op.kind {
		case "append":
			if !b.has {
				b.has = true
				b.start = 0
				b.end = 0
			}
			b.end += 1.0
		case "remove":
			if op.end > b.start {
				b.start = op.end
			}
		}
	}
	out := make(chan error, 1)
	go func() {
		time.Sleep(time.Millisecond)
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
		out <- err
	}()
	return out
}

func (b *scriptedBuffer) Buffered() (float64, float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start, b.end, b.has
}

func (b *scriptedBuffer) EndOfStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
	return nil
}

func (b *scriptedBuffer) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = true
}

func (b *scriptedBuffer) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.ops))
	for i, op := range b.ops {
		out[i] = op.kind
	}
	return out
}

func TestAppenderNeverOverlapsMutations(t *testing.T) {
	buf := &scriptedBuffer{}
	a := NewAppender(buf, func() float64 { return 0 }, 30)

	for i := 0; i < 8; i++ {
		if err := a.Append("audio/mpeg", make([]byte, 16)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	waitFor(t, func() bool {
		buf.mu.Lock()
		defer buf.mu.Unlock()
		return len(buf.ops) == 8 && buf.inflight == 0
	}, "all appends applied")

	buf.mu.Lock()
	maxInflight := buf.maxInfl
	buf.mu.Unlock()
	if maxInflight != 1 {
		t.Fatalf("max concurrent mutations = %d, want 1", maxInflight)
	}
}

func TestAppenderEvictsHistoryBeyondWindowBeforeAppend(t *testing.T) {
	buf := &scriptedBuffer{has: true, start: 0, end: 50}
	cursor := 45.0
	a := NewAppender(buf, func() float64 { return cursor }, 30)

	if err := a.Append("audio/mpeg", make([]byte, 16)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	waitFor(t, func() bool {
		kinds := buf.kinds()
		return len(kinds) == 2
	}, "eviction plus append")

	kinds := buf.kinds()
	if kinds[0] != "remove" || kinds[1] != "append" {
		t.Fatalf("operation order = %v, want [remove append]", kinds)
	}

	buf.mu.Lock()
	cut := buf.ops[0].end
	buf.mu.Unlock()
	if cut != 15.0 {
		t.Fatalf("eviction cut = %v, want cursor-30 = 15", cut)
	}
}

func TestAppenderQuotaRejectionEvictsAggressivelyAndRetriesOnce(t *testing.T) {
	buf := &scriptedBuffer{has: true, start: 0, end: 20, appendErrs: []error{ErrQuotaExceeded}}
	a := NewAppender(buf, func() float64 { return 20 }, 30)

	if err := a.Append("audio/mpeg", make([]byte, 16)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	waitFor(t, func() bool { return len(buf.kinds()) == 3 }, "failed append, eviction, retried append")

	kinds := buf.kinds()
	want := []string{"append", "remove", "append"}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("operation order = %v, want %v", kinds, want)
		}
	}

	buf.mu.Lock()
	cut := buf.ops[1].end
	buf.mu.Unlock()
	if cut != 15.0 {
		t.Fatalf("aggressive eviction cut = %v, want cursor-5 = 15", cut)
	}

	select {
	case err := <-a.Errors():
		t.Fatalf("unexpected surfaced error after successful retry: %v", err)
	default:
	}
}

func TestAppenderQuotaFailureAfterRetrySurfaces(t *testing.T) {
	buf := &scriptedBuffer{
		has: true, start: 0, end: 20,
		appendErrs: []error{ErrQuotaExceeded, ErrQuotaExceeded},
	}
	a := NewAppender(buf, func() float64 { return 20 }, 30)

	if err := a.Append("audio/mpeg", make([]byte, 16)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	select {
	case err := <-a.Errors():
		if err == nil {
			t.Fatalf("surfaced error = nil, want quota failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected surfaced error after retry also failed")
	}

	kinds := buf.kinds()
	appends := 0
	for _, k := range kinds {
		if k == "append" {
			appends++
		}
	}
	if appends != 2 {
		t.Fatalf("append attempts = %d, want exactly 2 (original + one retry)", appends)
	}
}

func TestAppenderEndIsIdempotentAndRejectsLaterAppends(t *testing.T) {
	buf := &scriptedBuffer{}
	a := NewAppender(buf, func() float64 { return 0 }, 30)

	a.End()
	a.End()

	waitFor(t, func() bool {
		buf.mu.Lock()
		defer buf.mu.Unlock()
		return buf.ended
	}, "end of stream")

	if err := a.Append("audio/mpeg", []byte{1}); err != ErrBufferFinalized {
		t.Fatalf("Append() after End error = %v, want ErrBufferFinalized", err)
	}
}

func TestAppenderDisposeCancelsQueueAndAbortsBuffer(t *testing.T) {
	buf := &scriptedBuffer{}
	a := NewAppender(buf, func() float64 { return 0 }, 30)

	_ = a.Append("audio/mpeg", make([]byte, 16))
	a.Dispose()

	waitFor(t, func() bool {
		buf.mu.Lock()
		defer buf.mu.Unlock()
		return buf.aborted
	}, "buffer aborted")

	if err := a.Append("audio/mpeg", []byte{1}); err != ErrAppenderDisposed {
		t.Fatalf("Append() after Dispose error = %v, want ErrAppenderDisposed", err)
	}
}

func TestAppenderObserverHooksReportMutations(t *testing.T) {
	buf := &scriptedBuffer{has: true, start: 0, end: 50, appendErrs: []error{ErrQuotaExceeded}}
	cursor := 45.0
	a := NewAppender(buf, func() float64 { return cursor }, 30)

	var mu sync.Mutex
	ops := map[string]int{}
	triggers := map[string]int{}
	a.ObserveOp = func(kind, outcome string) {
		mu.Lock()
		ops[kind+"/"+outcome]++
		mu.Unlock()
	}
	a.ObserveEviction = func(trigger string) {
		mu.Lock()
		triggers[trigger]++
		mu.Unlock()
	}

	if err := a.Append("audio/mpeg", make([]byte, 16)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Window eviction, failed append, quota eviction, retried append.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ops["append/ok"] == 1
	}, "retried append observed")

	mu.Lock()
	defer mu.Unlock()
	if ops["append/error"] != 1 {
		t.Fatalf("append/error observations = %d, want 1", ops["append/error"])
	}
	if triggers["window"] != 1 || triggers["quota"] != 1 {
		t.Fatalf("eviction triggers = %v, want one window and one quota", triggers)
	}
}
