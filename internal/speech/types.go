// Package speech turns text segments into synthesized audio chunks with
// word-level timing, one remote request per segment.
package speech

import (
	"context"
	"io"
)

// TextRange is a half-open range of character offsets into the normalized
// request text.
type TextRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TimeRange is a half-open range of chunk-local seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// WordTimestamp ties one spoken word to its place in the audio and in the
// request text. Approximate marks entries whose text range had to be guessed
// because the provider supplied no usable offsets.
type WordTimestamp struct {
	Word        string    `json:"word"`
	Time        TimeRange `json:"time"`
	Text        TextRange `json:"text"`
	Approximate bool      `json:"approximate,omitempty"`
}

// Request is one speech-generation call.
type Request struct {
	Text     string
	VoiceID  string
	ModelID  string
	Language string
	Speed    float64
}

// Result is one segment's synthesized audio. Content must be fully drained
// and closed by the consumer; Words are in non-decreasing time and text
// order.
type Result struct {
	Text     string
	MimeType string
	Content  io.ReadCloser
	Words    []WordTimestamp
}

// Synthesizer produces speech for one request. Implementations must honor
// ctx cancellation and report retryability of failures through the
// reliability classifier's Retryable contract.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}
