package media

import (
	"errors"
	"log"
	"sync"
)

// Controller wraps one Element and continuously re-asserts a preferred
// play/pause/ended state against the element's own asynchronous transitions.
// If the element reports "playing" while the preference is Pause it is
// re-paused; if it reports "paused" or stalls while the preference is Play, a
// new play attempt is issued. The only transition the controller initiates on
// its own is Pause/Play -> Ended when the element reaches natural end of media.
type Controller struct {
	el Element

	mu        sync.Mutex
	preferred PlaybackState
	buffering bool
	closed    bool

	stateCh     chan PlaybackState
	bufferingCh chan BufferingState
	timeCh      chan float64
	durationCh  chan float64

	done     chan struct{}
	loopDone chan struct{}
}

// NewController wraps the element and starts its reconciliation loop.
// Initial preference is Pause.
func NewController(el Element) *Controller {
	c := &Controller{
		el:          el,
		preferred:   Pause,
		stateCh:     make(chan PlaybackState, 8),
		bufferingCh: make(chan BufferingState, 8),
		timeCh:      make(chan float64, 64),
		durationCh:  make(chan float64, 8),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	c.buffering = el.ReadyState() < HaveFutureData
	go c.loop()
	return c
}

// StateChanges delivers preferred-state transitions.
func (c *Controller) StateChanges() <-chan PlaybackState { return c.stateCh }

// BufferingChanges delivers derived buffering transitions, emitted only when
// the value actually changed.
func (c *Controller) BufferingChanges() <-chan BufferingState { return c.bufferingCh }

// TimeChanges delivers element-local playback time updates.
func (c *Controller) TimeChanges() <-chan float64 { return c.timeCh }

// DurationChanges delivers element-local duration updates.
func (c *Controller) DurationChanges() <-chan float64 { return c.durationCh }

// Play sets the preferred state to Play and attempts to start the element.
// A platform policy denial reverts the preference to Pause and is not an
// error; any other start failure is logged and the preference stands, to be
// retried on the next element status event.
func (c *Controller) Play() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.setPreferredLocked(Play)
	c.mu.Unlock()
	c.attemptPlay()
}

// Pause sets the preferred state to Pause and pauses the element. Pausing
// while Ended is a no-op.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.closed || c.preferred == Ended {
		c.mu.Unlock()
		return
	}
	c.setPreferredLocked(Pause)
	c.mu.Unlock()
	c.el.Pause()
}

// SetState forces a preferred state. Ended pauses the element and pins the
// preference; Play and Pause behave like the corresponding methods.
func (c *Controller) SetState(s PlaybackState) {
	switch s {
	case Play:
		c.Play()
	case Pause:
		c.Pause()
	case Ended:
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.setPreferredLocked(Ended)
		c.mu.Unlock()
		c.el.Pause()
	}
}

// State returns the current preferred state.
func (c *Controller) State() PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preferred
}

// IsBuffering reports the last derived buffering value.
func (c *Controller) IsBuffering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffering
}

func (c *Controller) CurrentTime() float64 { return c.el.CurrentTime() }

func (c *Controller) Seek(seconds float64) { c.el.Seek(seconds) }

func (c *Controller) Duration() float64 { return c.el.Duration() }

// Close stops the reconciliation loop, pauses the element and releases it.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.el.Pause()
	err := c.el.Close()
	<-c.loopDone
	return err
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	events := c.el.Events()
	for {
		select {
		case <-c.done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.handle(evt)
		}
	}
}

func (c *Controller) handle(evt Event) {
	switch evt.Kind {
	case EventPlaying:
		c.mu.Lock()
		preferred := c.preferred
		c.mu.Unlock()
		if preferred != Play {
			c.el.Pause()
		}
	case EventPaused:
		c.mu.Lock()
		preferred := c.preferred
		c.mu.Unlock()
		if preferred == Play {
			c.attemptPlay()
		}
	case EventEnded:
		c.mu.Lock()
		if c.preferred != Ended {
			c.setPreferredLocked(Ended)
		}
		c.mu.Unlock()
	case EventCanPlay:
		c.recomputeBuffering()
	case EventStalled, EventSuspended, EventWaiting:
		c.recomputeBuffering()
		c.mu.Lock()
		preferred := c.preferred
		c.mu.Unlock()
		if preferred == Play {
			c.attemptPlay()
		}
	case EventTimeUpdate:
		emitValue(c.timeCh, evt.Time)
	case EventDurationChange:
		emitValue(c.durationCh, evt.Duration)
	}
}

func (c *Controller) attemptPlay() {
	err := c.el.Play()
	if err == nil {
		return
	}
	if errors.Is(err, ErrPlaybackDenied) {
		// The platform refused playback outright; stop fighting it and
		// surface the reversion as a normal state change.
		c.mu.Lock()
		if c.preferred == Play {
			c.setPreferredLocked(Pause)
		}
		c.mu.Unlock()
		return
	}
	log.Printf("media: play attempt failed: %v", err)
}

func (c *Controller) recomputeBuffering() {
	buffering := c.el.ReadyState() < HaveFutureData
	c.mu.Lock()
	changed := buffering != c.buffering
	c.buffering = buffering
	c.mu.Unlock()
	if !changed {
		return
	}
	state := Ready
	if buffering {
		state = Buffering
	}
	emitValue(c.bufferingCh, state)
}

// setPreferredLocked updates the preference and broadcasts it. Callers hold mu.
func (c *Controller) setPreferredLocked(s PlaybackState) {
	if c.preferred == s {
		return
	}
	c.preferred = s
	emitValue(c.stateCh, s)
}

// emitValue never blocks: listeners that fall behind lose intermediate
// values, matching the fire-and-forget notification contract.
func emitValue[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
