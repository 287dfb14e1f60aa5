package media

import "errors"

// ErrQuotaExceeded is reported by a Buffer when an append would exceed its
// capacity. The appender reacts by evicting history and retrying once.
var ErrQuotaExceeded = errors.New("media: buffer quota exceeded")

// ErrBufferFinalized is returned for appends after End.
var ErrBufferFinalized = errors.New("media: buffer finalized")

// ErrAppenderDisposed is returned for operations after Dispose.
var ErrAppenderDisposed = errors.New("media: appender disposed")

// Buffer is the opaque, append-only, quota-limited primitive that stores
// decodable media bytes for playback. Mutations complete asynchronously: the
// returned channel delivers exactly one result. At most one mutation may be in
// flight at a time; enforcing that is the appender's job, not the buffer's.
type Buffer interface {
	// Append schedules the bytes for insertion at the end of the buffered
	// range. Completion (nil or an error, ErrQuotaExceeded included) arrives
	// on the returned channel.
	Append(data []byte) <-chan error
	// Remove schedules eviction of [start, end) seconds of buffered media.
	Remove(start, end float64) <-chan error
	// Buffered reports the currently retained time span. ok is false while
	// nothing is buffered.
	Buffered() (start, end float64, ok bool)
	// EndOfStream finalizes the buffer; no further appends are accepted.
	EndOfStream() error
	// Abort cancels any in-flight mutation and releases the buffer.
	Abort()
}
