package timeline

import (
	"errors"
	"log"
	"sync"

	"github.com/vpaquet/readalong/internal/media"
)

// Chunk is one segment's worth of fully-received, independently decodable
// audio, pinned to its place on the virtual timeline. Start/End are virtual
// seconds, immutable once assigned.
type Chunk struct {
	MimeType string
	Data     []byte
	Start    float64
	End      float64
}

func (c *Chunk) Duration() float64 { return c.End - c.Start }

// Chapter is the virtual-timeline range occupied by one chunk. Chapters
// partition [0, totalDuration) with no gaps: chapter i starts where chapter
// i-1 ended.
type Chapter struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains uses an inclusive end so the final instant of a chapter still
// resolves to it.
func (c Chapter) Contains(t float64) bool { return t >= c.Start && t <= c.End }

// HandleFactory builds the playable handle for one chunk. duration is the
// already-probed chunk duration.
type HandleFactory interface {
	NewHandle(mimeType string, data []byte, duration float64) (media.Element, error)
}

// ErrDisposed is returned by mutating calls after Dispose.
var ErrDisposed = errors.New("timeline: compositor disposed")

// Compositor composes independently fetched audio chunks into one seekable
// virtual timeline. It owns the chunk list, the running duration, the active
// chunk index and the cursor; all other components interact through its
// methods and notification channels. At most one chunk handle is active at a
// time; hand-off between chunks is transparent to callers.
type Compositor struct {
	factory HandleFactory
	prober  DurationProber

	mu         sync.Mutex
	chunks     []*Chunk
	chapters   []Chapter
	running    float64
	cursor     float64
	state      media.PlaybackState
	inputEnded bool
	buffering  bool
	closed     bool

	activeIdx int
	active    *media.Controller
	stop      chan struct{}
	gen       int

	stateCh     chan media.PlaybackState
	bufferingCh chan media.BufferingState
	timeCh      chan float64
	durationCh  chan float64
	chapterCh   chan Chapter
}

func NewCompositor(factory HandleFactory, prober DurationProber) *Compositor {
	return &Compositor{
		factory:     factory,
		prober:      prober,
		state:       media.Pause,
		activeIdx:   -1,
		stateCh:     make(chan media.PlaybackState, 8),
		bufferingCh: make(chan media.BufferingState, 8),
		timeCh:      make(chan float64, 64),
		durationCh:  make(chan float64, 8),
		chapterCh:   make(chan Chapter, 16),
	}
}

func (c *Compositor) StateChanges() <-chan media.PlaybackState     { return c.stateCh }
func (c *Compositor) BufferingChanges() <-chan media.BufferingState { return c.bufferingCh }
func (c *Compositor) TimeChanges() <-chan float64                  { return c.timeCh }
func (c *Compositor) DurationChanges() <-chan float64              { return c.durationCh }

// ChapterAdded delivers each chapter as its chunk is registered, in order.
func (c *Compositor) ChapterAdded() <-chan Chapter { return c.chapterCh }

// Next registers one chunk: its duration is measured by an independent
// decode, it is appended at the current end of the timeline, and playback
// resumes automatically if the cursor was waiting for it. A chunk that fails
// to decode occupies a zero-width slot rather than aborting the timeline.
func (c *Compositor) Next(mimeType string, data []byte) error {
	d, err := c.prober.Probe(mimeType, data)
	if err != nil {
		log.Printf("timeline: chunk %d duration probe failed, assuming zero: %v", c.chunkCount(), err)
		d = 0
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDisposed
	}
	chunk := &Chunk{MimeType: mimeType, Data: data, Start: c.running, End: c.running + d}
	c.chunks = append(c.chunks, chunk)
	chapter := Chapter{Start: chunk.Start, End: chunk.End}
	c.chapters = append(c.chapters, chapter)
	c.running = chunk.End

	emit(c.durationCh, c.running)
	emit(c.chapterCh, chapter)

	// A cursor parked at the previous frontier is waiting for exactly this
	// chunk.
	if c.activeIdx == -1 {
		if idx := c.chunkIndexAtLocked(c.cursor); idx != -1 {
			c.activateLocked(idx)
		}
	}
	c.recomputeBufferingLocked()
	c.mu.Unlock()
	return nil
}

// End marks the input as complete: no more chunks will arrive. A cursor
// waiting past the frontier clamps to the final duration and the state
// becomes Ended.
func (c *Compositor) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.inputEnded {
		return
	}
	c.inputEnded = true
	if c.activeIdx == -1 && c.cursor >= c.running {
		c.cursor = c.running
		emit(c.timeCh, c.cursor)
		c.setStateLocked(media.Ended)
	}
	c.recomputeBufferingLocked()
}

// InputEnded reports whether End has been called.
func (c *Compositor) InputEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputEnded
}

// Play sets the preferred state to Play. Playing from Ended restarts from the
// top of the timeline; an ended input with nothing playable stays Ended.
func (c *Compositor) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.state == media.Ended {
		if c.inputEnded && c.chunkIndexAtLocked(0) == -1 {
			return
		}
		c.cursor = 0
		emit(c.timeCh, c.cursor)
		c.deactivateLocked()
	}
	c.setStateLocked(media.Play)
	c.applyCursorLocked()
	c.recomputeBufferingLocked()
}

// Pause sets the preferred state to Pause. Pausing while Ended is a no-op.
func (c *Compositor) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == media.Ended {
		return
	}
	c.setStateLocked(media.Pause)
	if c.active != nil {
		c.active.Pause()
	}
}

// SetState forces a preferred state; Ended is honored from any state.
func (c *Compositor) SetState(s media.PlaybackState) {
	switch s {
	case media.Play:
		c.Play()
	case media.Pause:
		c.Pause()
	case media.Ended:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.setStateLocked(media.Ended)
		if c.active != nil {
			c.active.Pause()
		}
	}
}

// State returns the virtual preferred state.
func (c *Compositor) State() media.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsBuffering reports whether the cursor currently lacks a covering chunk (or
// the active handle itself is starved).
func (c *Compositor) IsBuffering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffering
}

// CurrentTime reports the virtual cursor.
func (c *Compositor) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.activeIdx >= 0 && c.activeIdx < len(c.chunks) {
		return c.chunks[c.activeIdx].Start + c.active.CurrentTime()
	}
	return c.cursor
}

// Seek moves the virtual cursor. Seeking past all known chunks clamps to the
// final duration and forces Ended when the input has ended; with the input
// still open it parks the cursor there and waits, buffering.
func (c *Compositor) Seek(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if t < 0 {
		t = 0
	}

	if t >= c.running {
		if c.inputEnded {
			c.cursor = c.running
			emit(c.timeCh, c.cursor)
			c.deactivateLocked()
			c.setStateLocked(media.Ended)
		} else {
			c.cursor = t
			emit(c.timeCh, c.cursor)
			c.deactivateLocked()
		}
		c.recomputeBufferingLocked()
		return
	}

	c.cursor = t
	emit(c.timeCh, c.cursor)
	c.applyCursorLocked()
	c.recomputeBufferingLocked()
}

// Duration reports the total composed duration so far.
func (c *Compositor) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Chapters returns a copy of the chapter list.
func (c *Compositor) Chapters() []Chapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Chapter, len(c.chapters))
	copy(out, c.chapters)
	return out
}

// Dispose tears down the active handle and rejects further mutations.
func (c *Compositor) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.deactivateLocked()
}

func (c *Compositor) chunkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// chunkIndexAtLocked finds the chunk with start <= t < end. Zero-width chunks
// never match. Callers hold mu.
func (c *Compositor) chunkIndexAtLocked(t float64) int {
	for i, ch := range c.chunks {
		if t >= ch.Start && t < ch.End {
			return i
		}
	}
	return -1
}

// applyCursorLocked makes the handle situation match the cursor: activates
// the covering chunk (re-applying the preferred state), or tears the handle
// down when nothing covers the cursor yet. Callers hold mu.
func (c *Compositor) applyCursorLocked() {
	idx := c.chunkIndexAtLocked(c.cursor)
	if idx == -1 {
		c.deactivateLocked()
		return
	}
	if idx != c.activeIdx || c.active == nil {
		c.activateLocked(idx)
		return
	}
	local := c.cursor - c.chunks[idx].Start
	c.active.Seek(local)
	if c.state == media.Play {
		c.active.Play()
	}
}

// activateLocked switches the active chunk: the old handle's bindings are
// torn down and it is paused and released; the new chunk's handle is created,
// positioned at the cursor's chunk-local time, and the preferred state is
// re-applied. Callers hold mu.
func (c *Compositor) activateLocked(idx int) {
	c.deactivateLocked()

	chunk := c.chunks[idx]
	el, err := c.factory.NewHandle(chunk.MimeType, chunk.Data, chunk.Duration())
	if err != nil {
		log.Printf("timeline: handle for chunk %d unavailable: %v", idx, err)
		return
	}
	ctrl := media.NewController(el)
	ctrl.Seek(c.cursor - chunk.Start)

	c.gen++
	gen := c.gen
	stop := make(chan struct{})
	c.active = ctrl
	c.activeIdx = idx
	c.stop = stop

	go c.forward(gen, idx, chunk, ctrl, stop)

	if c.state == media.Play {
		ctrl.Play()
	}
}

func (c *Compositor) deactivateLocked() {
	if c.active == nil {
		return
	}
	close(c.stop)
	_ = c.active.Close()
	c.active = nil
	c.activeIdx = -1
	c.gen++
}

// forward relays the active handle's notifications onto the virtual timeline.
// gen guards against notifications from a chunk that is no longer active;
// those are discarded.
func (c *Compositor) forward(gen, idx int, chunk *Chunk, ctrl *media.Controller, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case t, ok := <-ctrl.TimeChanges():
			if !ok {
				return
			}
			c.onChunkTime(gen, chunk, t)
		case s, ok := <-ctrl.StateChanges():
			if !ok {
				return
			}
			switch s {
			case media.Ended:
				c.onChunkEnded(gen, idx, chunk)
			case media.Pause:
				// The handle reverted to Pause on its own, which only
				// happens on a platform policy denial. Follow it.
				c.onChunkDenied(gen)
			}
		case b, ok := <-ctrl.BufferingChanges():
			if !ok {
				return
			}
			c.onChunkBuffering(gen, b)
		}
	}
}

func (c *Compositor) onChunkTime(gen int, chunk *Chunk, local float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	c.cursor = chunk.Start + local
	emit(c.timeCh, c.cursor)
}

// onChunkEnded advances the cursor to the chunk's exact end and hands off to
// the next chunk. Hand-off to a chunk that does not exist yet suspends
// playback until Next supplies it; with the input ended the whole timeline is
// done.
func (c *Compositor) onChunkEnded(gen, idx int, chunk *Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	c.cursor = chunk.End
	emit(c.timeCh, c.cursor)

	next := idx + 1
	switch {
	case next < len(c.chunks):
		c.activateLocked(next)
	case c.inputEnded:
		c.deactivateLocked()
		c.setStateLocked(media.Ended)
	default:
		c.deactivateLocked()
	}
	c.recomputeBufferingLocked()
}

func (c *Compositor) onChunkDenied(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	if c.state == media.Play {
		c.setStateLocked(media.Pause)
	}
}

func (c *Compositor) onChunkBuffering(gen int, b media.BufferingState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	c.emitBufferingLocked(b == media.Buffering)
}

func (c *Compositor) recomputeBufferingLocked() {
	covered := c.chunkIndexAtLocked(c.cursor) != -1
	buffering := !covered && !c.inputEnded && c.state != media.Ended
	c.emitBufferingLocked(buffering)
}

func (c *Compositor) emitBufferingLocked(buffering bool) {
	if buffering == c.buffering {
		return
	}
	c.buffering = buffering
	if buffering {
		emit(c.bufferingCh, media.Buffering)
	} else {
		emit(c.bufferingCh, media.Ready)
	}
}

func (c *Compositor) setStateLocked(s media.PlaybackState) {
	if c.state == s {
		return
	}
	c.state = s
	emit(c.stateCh, s)
}

func emit[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
