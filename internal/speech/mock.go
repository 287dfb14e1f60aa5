package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"unicode"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	mockSampleRate      = 16000
	mockSecondsPerWord  = 0.3
	mockMinimumDuration = 0.5
)

// MockSynthesizer produces deterministic silent WAV audio with evenly spaced
// word timestamps carrying explicit text offsets. It lets the whole engine
// run offline.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) Synthesize(_ context.Context, req Request) (*Result, error) {
	words := scanWords(req.Text)

	duration := float64(len(words)) * mockSecondsPerWord
	if duration < mockMinimumDuration {
		duration = mockMinimumDuration
	}
	speed := req.Speed
	if speed > 0 {
		duration /= speed
	}

	data, err := silentWAV(duration)
	if err != nil {
		return nil, fmt.Errorf("mock synthesize: %w", err)
	}

	timestamps := make([]WordTimestamp, len(words))
	per := duration / float64(max(len(words), 1))
	for i, w := range words {
		timestamps[i] = WordTimestamp{
			Word: w.text,
			Time: TimeRange{Start: float64(i) * per, End: float64(i+1) * per},
			Text: TextRange{Start: w.start, End: w.end},
		}
	}

	return &Result{
		Text:     req.Text,
		MimeType: "audio/wav",
		Content:  io.NopCloser(bytes.NewReader(data)),
		Words:    timestamps,
	}, nil
}

type scannedWord struct {
	text       string
	start, end int
}

// scanWords splits on whitespace while tracking rune offsets.
func scanWords(text string) []scannedWord {
	var out []scannedWord
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && !unicode.IsSpace(runes[j]) {
			j++
		}
		out = append(out, scannedWord{text: string(runes[i:j]), start: i, end: j})
		i = j
	}
	return out
}

// silentWAV encodes the given span of 16-bit mono silence.
func silentWAV(seconds float64) ([]byte, error) {
	samples := int(seconds * mockSampleRate)
	if samples < 1 {
		samples = 1
	}

	var w memWriteSeeker
	enc := wav.NewEncoder(&w, mockSampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: mockSampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, samples),
	}
	if err := enc.Write(buf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// memWriteSeeker is the minimal in-memory io.WriteSeeker the wav encoder
// needs to patch up chunk sizes on Close.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (w *memWriteSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		grown := make([]byte, need)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(w.pos) + offset
	case io.SeekEnd:
		pos = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	w.pos = int(pos)
	return pos, nil
}
