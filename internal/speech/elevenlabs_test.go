package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vpaquet/readalong/internal/reliability"
)

func TestElevenLabsSynthesizeParsesAlignment(t *testing.T) {
	audio := []byte{0xff, 0xfb, 0x90, 0x00}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		if !strings.Contains(r.URL.Path, "/v1/text-to-speech/voice-1/with-timestamps") {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "hi you" {
			t.Errorf("request text = %v", body["text"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"audio_base64": base64.StdEncoding.EncodeToString(audio),
			"alignment": map[string]any{
				"characters":                    []string{"h", "i", " ", "y", "o", "u"},
				"character_start_times_seconds": []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5},
				"character_end_times_seconds":   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
			},
		})
	}))
	defer srv.Close()

	s := NewElevenLabsSynthesizer(ElevenLabsConfig{
		APIKey:     "k",
		APIBaseURL: srv.URL,
		VoiceID:    "voice-1",
	})

	res, err := s.Synthesize(context.Background(), Request{Text: "hi you"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	data, _ := io.ReadAll(res.Content)
	_ = res.Content.Close()
	if string(data) != string(audio) {
		t.Fatalf("audio bytes = %v, want %v", data, audio)
	}
	if res.MimeType != "audio/mpeg" {
		t.Fatalf("mime = %q, want audio/mpeg", res.MimeType)
	}

	if len(res.Words) != 2 {
		t.Fatalf("words = %d, want 2", len(res.Words))
	}
	hi, you := res.Words[0], res.Words[1]
	if hi.Word != "hi" || hi.Text != (TextRange{0, 2}) || hi.Time != (TimeRange{0.0, 0.2}) {
		t.Fatalf("word 0 = %+v", hi)
	}
	if you.Word != "you" || you.Text != (TextRange{3, 6}) || you.Time != (TimeRange{0.3, 0.6}) {
		t.Fatalf("word 1 = %+v", you)
	}
}

func TestElevenLabsErrorRetryabilityFollowsStatus(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		s := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "k", APIBaseURL: srv.URL, VoiceID: "v"})

		_, err := s.Synthesize(context.Background(), Request{Text: "x"})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: Synthesize() = nil error", tc.status)
		}
		if got := reliability.Retryable(err); got != tc.retryable {
			t.Fatalf("status %d: Retryable = %v, want %v", tc.status, got, tc.retryable)
		}
	}
}

func TestElevenLabsRequiresVoiceID(t *testing.T) {
	s := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "k"})
	if _, err := s.Synthesize(context.Background(), Request{Text: "x"}); err == nil {
		t.Fatalf("Synthesize() = nil error without voice id")
	}
}
