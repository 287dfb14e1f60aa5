package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vpaquet/readalong/internal/config"
	"github.com/vpaquet/readalong/internal/httpapi"
	"github.com/vpaquet/readalong/internal/narration"
	"github.com/vpaquet/readalong/internal/observability"
	"github.com/vpaquet/readalong/internal/progress"
	"github.com/vpaquet/readalong/internal/session"
	"github.com/vpaquet/readalong/internal/speech"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	progressStore, err := progress.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("progress store init failed: %v", err)
	}
	defer progressStore.Close()

	var (
		synth            speech.Synthesizer
		resolvedProvider string
	)

	providerMode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if providerMode == "" {
		providerMode = "auto"
	}

	tryElevenLabs := func() bool {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return false
		}
		synth = speech.NewElevenLabsSynthesizer(speech.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			APIBaseURL:   cfg.ElevenLabsAPIBaseURL,
			VoiceID:      cfg.ElevenLabsTTSVoice,
			ModelID:      cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsOutputFormat,
		})
		resolvedProvider = "elevenlabs"
		log.Printf("speech provider: elevenlabs")
		return true
	}

	switch providerMode {
	case "elevenlabs":
		if !tryElevenLabs() {
			log.Fatalf("SPEECH_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
	case "mock":
		synth = speech.NewMockSynthesizer()
		resolvedProvider = "mock"
		log.Printf("speech provider: mock")
	case "auto":
		if !tryElevenLabs() {
			synth = speech.NewMockSynthesizer()
			resolvedProvider = "mock"
			log.Printf("speech provider: mock (no elevenlabs key)")
		}
	default:
		log.Fatalf("invalid SPEECH_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.SpeechProvider)
	}

	// Ensure API handlers report which backend is active.
	cfg.SpeechProvider = resolvedProvider

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	orchestrator := narration.NewOrchestrator(cfg, synth, metrics, progressStore, sessions)
	sessions.SetExpireHook(func(s *session.Session) {
		orchestrator.EndSession(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	orchestrator.Shutdown()

	log.Printf("shutdown complete")
}
