package media

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Platform supplies the primitives backing one chunk handle: a playable
// element and the buffer that stores its media bytes. duration is the
// already-measured chunk duration in seconds.
type Platform interface {
	NewHandle(mimeType string, duration float64) (Element, Buffer, error)
}

// BufferedFactory builds chunk handles by routing the chunk bytes through an
// Appender into the platform's buffer, then finalizing it. Closing the handle
// disposes the appender and releases the element.
type BufferedFactory struct {
	Platform    Platform
	EvictWindow float64

	// Observer hooks copied onto every appender the factory builds.
	ObserveOp       func(kind, outcome string)
	ObserveEviction func(trigger string)
}

func (f *BufferedFactory) NewHandle(mimeType string, data []byte, duration float64) (Element, error) {
	el, buf, err := f.Platform.NewHandle(mimeType, duration)
	if err != nil {
		return nil, fmt.Errorf("new handle: %w", err)
	}
	app := NewAppender(buf, el.CurrentTime, f.EvictWindow)
	app.ObserveOp = f.ObserveOp
	app.ObserveEviction = f.ObserveEviction
	if err := app.Append(mimeType, data); err != nil {
		app.Dispose()
		_ = el.Close()
		return nil, err
	}
	app.End()
	return &bufferedHandle{Element: el, app: app}, nil
}

type bufferedHandle struct {
	Element
	app *Appender
}

func (h *bufferedHandle) Close() error {
	h.app.Dispose()
	return h.Element.Close()
}

// ClockPlatform simulates playback against the wall clock. It stands in for a
// real audio output when the service runs headless; rate > 1 plays faster
// than real time.
type ClockPlatform struct {
	Rate  float64
	Quota int
}

func NewClockPlatform(rate float64) *ClockPlatform {
	if rate <= 0 {
		rate = 1
	}
	return &ClockPlatform{Rate: rate, Quota: 64 << 20}
}

func (p *ClockPlatform) NewHandle(_ string, duration float64) (Element, Buffer, error) {
	buf := NewMemoryBuffer(p.Quota, duration)
	el := newClockElement(duration, p.Rate, buf)
	return el, buf, nil
}

// clockElement advances its position by elapsed wall time while playing and
// emits the element event vocabulary a controller expects.
type clockElement struct {
	duration float64
	rate     float64
	buf      *MemoryBuffer

	mu        sync.Mutex
	position  float64
	playing   bool
	playStart time.Time
	playBase  float64
	closed    bool

	events chan Event
	stop   chan struct{}
}

func newClockElement(duration, rate float64, buf *MemoryBuffer) *clockElement {
	return &clockElement{
		duration: duration,
		rate:     rate,
		buf:      buf,
		events:   make(chan Event, 64),
		stop:     make(chan struct{}),
	}
}

func (e *clockElement) Play() error {
	e.mu.Lock()
	if e.closed || e.playing {
		e.mu.Unlock()
		return nil
	}
	e.playing = true
	e.playBase = e.position
	e.playStart = time.Now()
	e.mu.Unlock()

	e.emit(Event{Kind: EventPlaying, Time: e.CurrentTime()})
	go e.tickLoop()
	return nil
}

func (e *clockElement) tickLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if !e.playing || e.closed {
				e.mu.Unlock()
				return
			}
			e.position = e.playBase + time.Since(e.playStart).Seconds()*e.rate
			done := e.position >= e.duration
			if done {
				e.position = e.duration
				e.playing = false
			}
			pos := e.position
			e.mu.Unlock()

			e.emit(Event{Kind: EventTimeUpdate, Time: pos})
			if done {
				e.emit(Event{Kind: EventEnded, Time: pos})
				return
			}
		}
	}
}

func (e *clockElement) Pause() {
	e.mu.Lock()
	if e.closed || !e.playing {
		e.mu.Unlock()
		return
	}
	e.position = e.playBase + time.Since(e.playStart).Seconds()*e.rate
	if e.position > e.duration {
		e.position = e.duration
	}
	e.playing = false
	pos := e.position
	e.mu.Unlock()
	e.emit(Event{Kind: EventPaused, Time: pos})
}

func (e *clockElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		t := e.playBase + time.Since(e.playStart).Seconds()*e.rate
		return math.Min(t, e.duration)
	}
	return e.position
}

func (e *clockElement) Seek(seconds float64) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if seconds > e.duration {
		seconds = e.duration
	}
	e.position = seconds
	e.playBase = seconds
	e.playStart = time.Now()
	e.mu.Unlock()
	e.emit(Event{Kind: EventTimeUpdate, Time: seconds})
}

func (e *clockElement) Duration() float64 { return e.duration }

func (e *clockElement) ReadyState() ReadyState {
	if _, end, ok := e.buf.Buffered(); ok && end >= e.duration {
		return HaveEnoughData
	}
	if _, _, ok := e.buf.Buffered(); ok {
		return HaveCurrentData
	}
	return HaveMetadata
}

func (e *clockElement) Events() <-chan Event { return e.events }

func (e *clockElement) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.playing = false
	e.mu.Unlock()
	close(e.stop)
	close(e.events)
	return nil
}

func (e *clockElement) emit(evt Event) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	select {
	case e.events <- evt:
	default:
	}
}

// MemoryBuffer is an in-memory Buffer with a byte quota. Appended bytes map
// linearly onto the handle's time span so eviction bookkeeping works in
// seconds.
type MemoryBuffer struct {
	quota int
	span  float64

	mu       sync.Mutex
	bytes    int
	total    int
	start    float64
	end      float64
	appended bool
	ended    bool
	aborted  bool
}

func NewMemoryBuffer(quota int, spanSeconds float64) *MemoryBuffer {
	if quota <= 0 {
		quota = 16 << 20
	}
	return &MemoryBuffer{quota: quota, span: spanSeconds}
}

func (b *MemoryBuffer) Append(data []byte) <-chan error {
	done := make(chan error, 1)
	go func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		switch {
		case b.aborted:
			done <- ErrAppenderDisposed
		case b.ended:
			done <- ErrBufferFinalized
		case b.bytes+len(data) > b.quota:
			done <- ErrQuotaExceeded
		case !b.appended:
			b.appended = true
			b.total = len(data)
			b.bytes += len(data)
			b.start = 0
			b.end = b.span
			done <- nil
		default:
			// Later appends extend proportionally to the first chunk's span.
			secs := b.span
			if b.total > 0 {
				secs = b.span * float64(len(data)) / float64(b.total)
			}
			b.bytes += len(data)
			b.end += secs
			done <- nil
		}
	}()
	return done
}

func (b *MemoryBuffer) Remove(start, end float64) <-chan error {
	done := make(chan error, 1)
	go func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.aborted {
			done <- ErrAppenderDisposed
			return
		}
		if !b.appended || end <= b.start {
			done <- nil
			return
		}
		if end > b.end {
			end = b.end
		}
		spanRemoved := end - b.start
		if b.end > b.start {
			removedBytes := int(float64(b.bytes) * spanRemoved / (b.end - b.start))
			if removedBytes > b.bytes {
				removedBytes = b.bytes
			}
			b.bytes -= removedBytes
		}
		b.start = end
		done <- nil
	}()
	return done
}

func (b *MemoryBuffer) Buffered() (float64, float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.appended {
		return 0, 0, false
	}
	return b.start, b.end, true
}

func (b *MemoryBuffer) EndOfStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return ErrAppenderDisposed
	}
	b.ended = true
	return nil
}

func (b *MemoryBuffer) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = true
	b.bytes = 0
}
