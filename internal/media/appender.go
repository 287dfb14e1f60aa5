package media

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

const (
	// DefaultEvictWindow is how much played-back history is retained behind
	// the cursor before routine eviction kicks in, in seconds.
	DefaultEvictWindow = 30.0
	// quotaEvictMargin is the narrower margin used when an append is rejected
	// for quota exhaustion, in seconds.
	quotaEvictMargin = 5.0
)

type opKind int

const (
	opAppend opKind = iota
	opEvict
	opEnd
)

type bufferOp struct {
	kind opKind
	data []byte
	// evict bounds
	start, end float64
	// set on the single retry after a quota-triggered eviction
	retried bool
	// set once the routine window check ran for this append
	windowChecked bool
}

// Appender serializes mutations against a Buffer. The buffer accepts only one
// mutation in flight; further requests queue in arrival order and drain
// strictly FIFO as completions arrive. Played-back history outside a sliding
// window behind the cursor is evicted ahead of appends, and a quota-rejected
// append triggers one aggressive eviction plus a single retry before the
// failure surfaces.
type Appender struct {
	buf    Buffer
	cursor func() float64
	window float64

	// ObserveOp, when set, is called after each buffer mutation completes
	// with its kind ("append" or "remove") and outcome ("ok" or "error").
	// ObserveEviction is called when an eviction is queued, with the trigger
	// ("window" or "quota"). Set both before the first Append.
	ObserveOp       func(kind, outcome string)
	ObserveEviction func(trigger string)

	mu       sync.Mutex
	queue    []bufferOp
	busy     bool
	ended    bool
	disposed bool

	errCh chan error
}

// NewAppender builds an appender over buf. cursor reports the playback
// position used for eviction decisions; windowSeconds <= 0 selects
// DefaultEvictWindow.
func NewAppender(buf Buffer, cursor func() float64, windowSeconds float64) *Appender {
	if windowSeconds <= 0 {
		windowSeconds = DefaultEvictWindow
	}
	return &Appender{
		buf:    buf,
		cursor: cursor,
		window: windowSeconds,
		errCh:  make(chan error, 8),
	}
}

// Errors delivers failures that survived local recovery.
func (a *Appender) Errors() <-chan error { return a.errCh }

// Append queues the chunk bytes for insertion. The mime type is recorded for
// diagnostics only; the buffer consumes raw bytes.
func (a *Appender) Append(mimeType string, data []byte) error {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return ErrAppenderDisposed
	}
	if a.ended {
		a.mu.Unlock()
		return ErrBufferFinalized
	}
	_ = mimeType
	a.queue = append(a.queue, bufferOp{kind: opAppend, data: data})
	a.mu.Unlock()
	a.pump()
	return nil
}

// End finalizes the buffer once all queued mutations have drained. Idempotent.
func (a *Appender) End() {
	a.mu.Lock()
	if a.disposed || a.ended {
		a.mu.Unlock()
		return
	}
	a.ended = true
	a.queue = append(a.queue, bufferOp{kind: opEnd})
	a.mu.Unlock()
	a.pump()
}

// Duration reports the end of the retained buffered range.
func (a *Appender) Duration() float64 {
	_, end, ok := a.buf.Buffered()
	if !ok {
		return 0
	}
	return end
}

// Dispose cancels all queued and in-flight operations and releases the buffer.
func (a *Appender) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	a.queue = nil
	a.mu.Unlock()
	a.buf.Abort()
}

// pump issues the next queued operation unless one is already in flight.
func (a *Appender) pump() {
	a.mu.Lock()
	if a.busy || a.disposed || len(a.queue) == 0 {
		a.mu.Unlock()
		return
	}

	op := a.queue[0]
	windowEvicted := false
	if op.kind == opAppend && !op.windowChecked {
		a.queue[0].windowChecked = true
		if evict, start, end := a.windowEviction(); evict {
			a.queue = append([]bufferOp{{kind: opEvict, start: start, end: end}}, a.queue...)
			windowEvicted = true
		}
		op = a.queue[0]
	}
	a.queue = a.queue[1:]

	if op.kind == opEnd {
		a.mu.Unlock()
		if err := a.buf.EndOfStream(); err != nil {
			a.surface(fmt.Errorf("end of stream: %w", err))
		}
		return
	}

	a.busy = true
	a.mu.Unlock()
	if windowEvicted {
		a.observeEviction("window")
	}

	var done <-chan error
	switch op.kind {
	case opAppend:
		done = a.buf.Append(op.data)
	case opEvict:
		done = a.buf.Remove(op.start, op.end)
	}

	go func() {
		err := <-done
		if op.kind == opEvict {
			a.observeOp("remove", err)
		} else {
			a.observeOp("append", err)
		}
		a.mu.Lock()
		a.busy = false
		disposed := a.disposed
		a.mu.Unlock()
		if disposed {
			return
		}
		if err != nil {
			a.handleFailure(op, err)
		}
		a.pump()
	}()
}

// windowEviction decides whether retained history behind the cursor exceeds
// the sliding window. Callers hold mu.
func (a *Appender) windowEviction() (bool, float64, float64) {
	start, _, ok := a.buf.Buffered()
	if !ok {
		return false, 0, 0
	}
	cut := a.cursor() - a.window
	if cut <= start {
		return false, 0, 0
	}
	return true, start, cut
}

func (a *Appender) handleFailure(op bufferOp, err error) {
	if op.kind == opEvict {
		log.Printf("media: eviction failed: %v", err)
		return
	}
	if op.kind != opAppend {
		a.surface(err)
		return
	}
	if errors.Is(err, ErrQuotaExceeded) && !op.retried {
		// Evict aggressively right behind the cursor and retry this append
		// exactly once.
		start, _, ok := a.buf.Buffered()
		cut := a.cursor() - quotaEvictMargin
		a.mu.Lock()
		if a.disposed {
			a.mu.Unlock()
			return
		}
		retry := bufferOp{kind: opAppend, data: op.data, retried: true, windowChecked: true}
		if ok && cut > start {
			a.queue = append([]bufferOp{
				{kind: opEvict, start: start, end: cut},
				retry,
			}, a.queue...)
		} else {
			a.queue = append([]bufferOp{retry}, a.queue...)
		}
		a.mu.Unlock()
		if ok && cut > start {
			a.observeEviction("quota")
		}
		return
	}
	a.surface(fmt.Errorf("append failed: %w", err))
}

func (a *Appender) observeOp(kind string, err error) {
	if a.ObserveOp == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	a.ObserveOp(kind, outcome)
}

func (a *Appender) observeEviction(trigger string) {
	if a.ObserveEviction != nil {
		a.ObserveEviction(trigger)
	}
}

func (a *Appender) surface(err error) {
	select {
	case a.errCh <- err:
	default:
	}
}
