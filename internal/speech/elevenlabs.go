package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/vpaquet/readalong/internal/reliability"
)

// RequestError is a non-2xx response from the speech service. Retryability
// follows the status code.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("speech request failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *RequestError) Retryable() bool { return reliability.IsRetryableHTTPStatus(e.StatusCode) }

type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	HTTPClient   *http.Client
}

// ElevenLabsSynthesizer calls the with-timestamps text-to-speech endpoint and
// converts the character-level alignment it returns into word timestamps with
// explicit text offsets.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ElevenLabsSynthesizer{cfg: cfg, client: client}
}

type elevenAlignment struct {
	Characters []string  `json:"characters"`
	StartTimes []float64 `json:"character_start_times_seconds"`
	EndTimes   []float64 `json:"character_end_times_seconds"`
}

type elevenResponse struct {
	AudioBase64 string           `json:"audio_base64"`
	Alignment   *elevenAlignment `json:"alignment"`
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	voiceID := req.VoiceID
	if strings.TrimSpace(voiceID) == "" {
		voiceID = s.cfg.VoiceID
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	modelID := req.ModelID
	if strings.TrimSpace(modelID) == "" {
		modelID = s.cfg.ModelID
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	if speed < 0.7 {
		speed = 0.7
	} else if speed > 1.2 {
		speed = 1.2
	}

	u, err := url.Parse(strings.TrimRight(s.cfg.APIBaseURL, "/") +
		"/v1/text-to-speech/" + url.PathEscape(voiceID) + "/with-timestamps")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("output_format", s.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	payload := map[string]any{
		"text":     req.Text,
		"model_id": modelID,
		"voice_settings": map[string]any{
			"speed": speed,
		},
	}
	if strings.TrimSpace(req.Language) != "" {
		payload["language_code"] = req.Language
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	var parsed elevenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &transportError{err: fmt.Errorf("decode response: %w", err)}
	}
	audio, err := base64.StdEncoding.DecodeString(parsed.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}

	return &Result{
		Text:     req.Text,
		MimeType: mimeForOutputFormat(s.cfg.OutputFormat),
		Content:  io.NopCloser(bytes.NewReader(audio)),
		Words:    wordsFromAlignment(parsed.Alignment),
	}, nil
}

// transportError wraps connection-level and body-read failures, which are
// always worth retrying.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return "speech transport: " + e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Retryable() bool { return true }

func mimeForOutputFormat(format string) string {
	switch {
	case strings.HasPrefix(format, "pcm"), strings.HasPrefix(format, "wav"):
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}

// wordsFromAlignment groups the per-character alignment into words. Character
// positions give exact text offsets, so no fuzzy recovery is needed for
// results built this way.
func wordsFromAlignment(a *elevenAlignment) []WordTimestamp {
	if a == nil || len(a.Characters) == 0 {
		return nil
	}
	n := len(a.Characters)
	if len(a.StartTimes) < n || len(a.EndTimes) < n {
		return nil
	}

	var words []WordTimestamp
	i := 0
	for i < n {
		if isSpaceChar(a.Characters[i]) {
			i++
			continue
		}
		j := i
		var b strings.Builder
		for j < n && !isSpaceChar(a.Characters[j]) {
			b.WriteString(a.Characters[j])
			j++
		}
		words = append(words, WordTimestamp{
			Word: b.String(),
			Time: TimeRange{Start: a.StartTimes[i], End: a.EndTimes[j-1]},
			Text: TextRange{Start: i, End: j},
		})
		i = j
	}
	return words
}

func isSpaceChar(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return s != ""
}
