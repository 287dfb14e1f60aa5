package media

import "errors"

// PlaybackState is a playback *preference*, not the raw status of the
// underlying element. The controller keeps re-asserting it until the element
// complies.
type PlaybackState int

const (
	Pause PlaybackState = iota
	Play
	Ended
)

func (s PlaybackState) String() string {
	switch s {
	case Pause:
		return "pause"
	case Play:
		return "play"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// BufferingState is derived from element readiness, never set directly.
type BufferingState int

const (
	Ready BufferingState = iota
	Buffering
)

func (s BufferingState) String() string {
	if s == Buffering {
		return "buffering"
	}
	return "ready"
}

// ReadyState mirrors the element's data availability ladder. Anything below
// HaveFutureData means playback would stall.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// ErrPlaybackDenied is returned by Element.Play when the platform refuses to
// start audio for policy reasons (e.g. no prior user interaction).
var ErrPlaybackDenied = errors.New("media: playback denied by platform policy")

// EventKind identifies asynchronous status notifications from an element.
type EventKind int

const (
	EventPlaying EventKind = iota
	EventPaused
	EventEnded
	EventCanPlay
	EventStalled
	EventSuspended
	EventWaiting
	EventTimeUpdate
	EventDurationChange
)

func (k EventKind) String() string {
	switch k {
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventEnded:
		return "ended"
	case EventCanPlay:
		return "canplay"
	case EventStalled:
		return "stalled"
	case EventSuspended:
		return "suspended"
	case EventWaiting:
		return "waiting"
	case EventTimeUpdate:
		return "timeupdate"
	case EventDurationChange:
		return "durationchange"
	default:
		return "unknown"
	}
}

// Event is one status notification from an element. Time and Duration carry
// the element-local values at emission.
type Event struct {
	Kind     EventKind
	Time     float64
	Duration float64
}

// Element is one underlying playable media handle. Its state transitions are
// asynchronous and sometimes uncooperative: it may start, stop or stall on its
// own, which is why the Controller reconciles it against a preferred state.
type Element interface {
	// Play requests playback to start. ErrPlaybackDenied signals a platform
	// policy refusal; any other error is a transient start failure.
	Play() error
	Pause()
	CurrentTime() float64
	Seek(seconds float64)
	Duration() float64
	ReadyState() ReadyState
	// Events delivers status notifications. The channel closes when the
	// element is closed.
	Events() <-chan Event
	Close() error
}
