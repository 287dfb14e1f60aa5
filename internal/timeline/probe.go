package timeline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-audio/wav"
)

// DurationProber measures a chunk's playable duration by decoding it
// independently of the playback path. Chunks must be self-contained.
type DurationProber interface {
	Probe(mimeType string, data []byte) (float64, error)
}

// AudioProber measures WAV chunks with a full container decode and MP3 chunks
// with a frame-header walk.
type AudioProber struct{}

func NewAudioProber() *AudioProber { return &AudioProber{} }

func (p *AudioProber) Probe(mimeType string, data []byte) (float64, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(mt, "wav"), strings.Contains(mt, "wave"):
		return probeWAV(data)
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return probeMP3(data)
	default:
		// Sniff: RIFF container first, MP3 sync word otherwise.
		if len(data) >= 4 && bytes.Equal(data[:4], []byte("RIFF")) {
			return probeWAV(data)
		}
		return probeMP3(data)
	}
}

func probeWAV(data []byte) (float64, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("probe wav: not a valid wav stream")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("probe wav: %w", err)
	}
	return d.Seconds(), nil
}

var mp3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
var mp3SampleRates = [4]int{44100, 48000, 32000, 0}

// probeMP3 walks Layer III frame headers and sums frame durations. ID3v2
// prefixes are skipped; trailing garbage ends the walk.
func probeMP3(data []byte) (float64, error) {
	i := 0
	if len(data) >= 10 && bytes.Equal(data[:3], []byte("ID3")) {
		size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
		i = 10 + size
	}

	var total float64
	frames := 0
	for i+4 <= len(data) {
		if data[i] != 0xff || data[i+1]&0xe0 != 0xe0 {
			i++
			continue
		}
		versionBits := (data[i+1] >> 3) & 0x3
		layerBits := (data[i+1] >> 1) & 0x3
		if layerBits != 0x1 { // Layer III only
			i++
			continue
		}
		bitrateIdx := (data[i+2] >> 4) & 0xf
		sampleIdx := (data[i+2] >> 2) & 0x3
		padding := int((data[i+2] >> 1) & 0x1)

		bitrate := mp3Bitrates[bitrateIdx]
		sampleRate := mp3SampleRates[sampleIdx]
		if bitrate == 0 || sampleRate == 0 {
			i++
			continue
		}

		samplesPerFrame := 1152
		switch versionBits {
		case 0x3: // MPEG1
		case 0x2: // MPEG2, half rates
			samplesPerFrame = 576
			sampleRate /= 2
		case 0x0: // MPEG2.5, quarter rates
			samplesPerFrame = 576
			sampleRate /= 4
		default: // reserved
			i++
			continue
		}

		frameSize := samplesPerFrame / 8 * bitrate * 1000 / sampleRate
		frameSize += padding
		if frameSize <= 0 {
			i++
			continue
		}

		total += float64(samplesPerFrame) / float64(sampleRate)
		frames++
		i += frameSize
	}

	if frames == 0 {
		return 0, fmt.Errorf("probe mp3: no audio frames found")
	}
	return total, nil
}
