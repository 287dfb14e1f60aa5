// Package narration assembles the playback engine for one session: speech
// pipeline feeding the timeline compositor, and the highlight synchronizer
// reading the cursor back out.
package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/vpaquet/readalong/internal/config"
	"github.com/vpaquet/readalong/internal/document"
	"github.com/vpaquet/readalong/internal/highlight"
	"github.com/vpaquet/readalong/internal/media"
	"github.com/vpaquet/readalong/internal/observability"
	"github.com/vpaquet/readalong/internal/progress"
	"github.com/vpaquet/readalong/internal/protocol"
	"github.com/vpaquet/readalong/internal/session"
	"github.com/vpaquet/readalong/internal/speech"
	"github.com/vpaquet/readalong/internal/timeline"
)

var ErrNoEngine = errors.New("no engine for session")

// Engine is one session's playback machinery.
type Engine struct {
	compositor   *timeline.Compositor
	pipeline     *speech.Pipeline
	synchronizer *highlight.Synchronizer
	segments     []document.Segment
	cancel       context.CancelFunc
	pipelineDone chan struct{}
}

// Orchestrator builds and tracks engines and bridges them to websocket
// connections.
type Orchestrator struct {
	cfg      config.Config
	synth    speech.Synthesizer
	metrics  *observability.Metrics
	store    progress.Store
	sessions *session.Manager

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewOrchestrator(cfg config.Config, synth speech.Synthesizer, metrics *observability.Metrics, store progress.Store, sessions *session.Manager) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		synth:    &instrumentedSynthesizer{inner: synth, metrics: metrics},
		metrics:  metrics,
		store:    store,
		sessions: sessions,
		engines:  make(map[string]*Engine),
	}
}

// StartEngine builds the engine for a freshly created session and kicks off
// synthesis of its segments. With resume set, the cursor is parked at the
// stored reading position before any audio exists; the compositor picks it up
// as chunks arrive.
func (o *Orchestrator) StartEngine(ctx context.Context, sess *session.Session, segments []document.Segment, resume bool) error {
	factory := &media.BufferedFactory{
		Platform:    media.NewClockPlatform(1),
		EvictWindow: o.cfg.BufferEvictWindow.Seconds(),
		ObserveOp: func(kind, outcome string) {
			o.metrics.BufferOperations.WithLabelValues(kind, outcome).Inc()
		},
		ObserveEviction: func(trigger string) {
			o.metrics.BufferEvictions.WithLabelValues(trigger).Inc()
		},
	}
	comp := timeline.NewCompositor(factory, timeline.NewAudioProber())

	template := speech.Request{
		VoiceID:  sess.VoiceID,
		ModelID:  o.cfg.ElevenLabsTTSModel,
		Language: o.cfg.SpeechLanguage,
		Speed:    o.cfg.SpeechSpeed,
	}
	pipe := speech.NewPipeline(o.synth, template)
	synchronizer := highlight.NewSynchronizer(comp, pipe, segments)

	engineCtx, cancel := context.WithCancel(ctx)
	eng := &Engine{
		compositor:   comp,
		pipeline:     pipe,
		synchronizer: synchronizer,
		segments:     segments,
		cancel:       cancel,
		pipelineDone: make(chan struct{}),
	}

	if resume && o.store != nil && sess.UserID != "" {
		if pos, err := o.store.Load(ctx, sess.UserID, sess.DocumentID); err != nil {
			log.Printf("narration: load position for %s/%s: %v", sess.UserID, sess.DocumentID, err)
		} else if pos != nil {
			comp.Seek(pos.CursorSeconds)
		}
	}

	o.mu.Lock()
	o.engines[sess.ID] = eng
	o.mu.Unlock()

	go func() {
		defer close(eng.pipelineDone)
		sink := &compositorSink{comp: comp, metrics: o.metrics}
		if err := pipe.Run(engineCtx, segments, sink); err != nil {
			log.Printf("narration: session %s pipeline failed: %v", sess.ID, err)
		}
	}()
	return nil
}

// EndSession tears down the session's engine, saving the reading position
// first.
func (o *Orchestrator) EndSession(sessionID string) {
	o.mu.Lock()
	eng, ok := o.engines[sessionID]
	delete(o.engines, sessionID)
	o.mu.Unlock()
	if !ok {
		return
	}

	if sess, err := o.sessions.Get(sessionID); err == nil {
		o.savePosition(context.Background(), sess, eng)
	}
	eng.cancel()
	eng.synchronizer.Close()
	eng.compositor.Dispose()
}

// RunConnection bridges one websocket connection to the session's engine:
// inbound control messages drive playback, engine notifications stream out.
// It returns when the context is canceled or the inbound channel closes.
func (o *Orchestrator) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	o.mu.Lock()
	eng, ok := o.engines[sess.ID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEngine, sess.ID)
	}

	comp := eng.compositor
	synchronizer := eng.synchronizer
	chapterCount := 0
	pipelineDone := eng.pipelineDone

	for {
		select {
		case <-ctx.Done():
			o.savePosition(context.Background(), sess, eng)
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				o.savePosition(context.Background(), sess, eng)
				return nil
			}
			o.handleControl(sess, eng, msg)

		case <-pipelineDone:
			pipelineDone = nil
			if err := eng.pipeline.Err(); err != nil {
				o.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sess.ID,
					Code:      "narration_failed",
					Detail:    "speech generation failed, narration stopped",
				})
			}

		case st := <-synchronizer.StateChanges():
			if st != media.Play {
				o.savePosition(ctx, sess, eng)
			}
			o.send(outbound, protocol.PlaybackState{
				Type:      protocol.TypePlaybackState,
				SessionID: sess.ID,
				State:     st.String(),
			})

		case b := <-comp.BufferingChanges():
			if b == media.Buffering {
				o.metrics.BufferingTransitions.Inc()
			}
			o.send(outbound, protocol.BufferingState{
				Type:      protocol.TypeBufferingState,
				SessionID: sess.ID,
				Buffering: b == media.Buffering,
			})

		case b := <-synchronizer.BufferingChanges():
			if b == media.Buffering {
				o.metrics.BufferingTransitions.Inc()
			}
			o.send(outbound, protocol.BufferingState{
				Type:      protocol.TypeBufferingState,
				SessionID: sess.ID,
				Buffering: b == media.Buffering,
			})

		case t := <-comp.TimeChanges():
			o.send(outbound, protocol.TimeUpdate{
				Type:      protocol.TypeTimeUpdate,
				SessionID: sess.ID,
				Seconds:   t,
			})

		case d := <-comp.DurationChanges():
			o.metrics.TimelineDuration.Set(d)
			o.send(outbound, protocol.DurationUpdate{
				Type:      protocol.TypeDurationUpdate,
				SessionID: sess.ID,
				Seconds:   d,
			})

		case ch := <-synchronizer.ChapterAdded():
			idx := chapterCount
			chapterCount++
			o.metrics.ChaptersTotal.Inc()
			o.send(outbound, protocol.ChapterAdded{
				Type:      protocol.TypeChapterAdded,
				SessionID: sess.ID,
				Index:     idx,
				Start:     ch.Start,
				End:       ch.End,
			})

		case h := <-synchronizer.Highlights():
			o.metrics.HighlightEmissions.Inc()
			o.send(outbound, protocol.HighlightEvent{
				Type:      protocol.TypeHighlight,
				SessionID: sess.ID,
				Chapter:   h.ChapterIndex,
				Word:      h.Word,
				Runs:      h.Runs,
			})

		case hint := <-synchronizer.ScrollHints():
			o.send(outbound, protocol.ScrollEvent{
				Type:      protocol.TypeScroll,
				SessionID: sess.ID,
				Hint:      hint,
			})
		}
	}
}

func (o *Orchestrator) handleControl(sess *session.Session, eng *Engine, msg any) {
	ctl, ok := msg.(protocol.ClientControl)
	if !ok {
		return
	}
	_ = o.sessions.Touch(sess.ID)

	switch ctl.Action {
	case protocol.ActionPlay:
		eng.compositor.Play()
	case protocol.ActionPause:
		eng.compositor.Pause()
	case protocol.ActionSeek:
		eng.compositor.Seek(ctl.Seconds)
	case protocol.ActionPlaySegment:
		eng.synchronizer.PlaySegment(ctl.Index)
	case protocol.ActionPlayFromOffset:
		eng.synchronizer.PlayFromTextIndex(ctl.Offset)
	}
}

// PreviewTTS synthesizes a short standalone utterance outside any session.
func (o *Orchestrator) PreviewTTS(ctx context.Context, voiceID, text string) ([]byte, string, error) {
	res, err := o.synth.Synthesize(ctx, speech.Request{
		Text:    text,
		VoiceID: voiceID,
		ModelID: o.cfg.ElevenLabsTTSModel,
		Speed:   o.cfg.SpeechSpeed,
	})
	if err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(res.Content)
	closeErr := res.Content.Close()
	if err != nil {
		return nil, "", fmt.Errorf("drain preview audio: %w", err)
	}
	if closeErr != nil {
		return nil, "", fmt.Errorf("close preview audio: %w", closeErr)
	}
	return data, res.MimeType, nil
}

// Shutdown disposes every engine.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.engines))
	for id := range o.engines {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.EndSession(id)
	}
}

func (o *Orchestrator) savePosition(ctx context.Context, sess *session.Session, eng *Engine) {
	if o.store == nil || sess.UserID == "" {
		return
	}
	cursor := eng.compositor.CurrentTime()
	idx := 0
	for i, ch := range eng.compositor.Chapters() {
		if ch.Contains(cursor) {
			idx = i
			break
		}
	}
	err := o.store.Save(ctx, progress.Position{
		UserID:        sess.UserID,
		DocumentID:    sess.DocumentID,
		ChapterIndex:  idx,
		CursorSeconds: cursor,
	})
	if err != nil {
		log.Printf("narration: save position for %s/%s: %v", sess.UserID, sess.DocumentID, err)
	}
}

// send never blocks: the websocket writer drains outbound, and a saturated
// client loses intermediate notifications rather than stalling the engine.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
	}
}

// compositorSink adapts the compositor to the pipeline's sink contract.
type compositorSink struct {
	comp    *timeline.Compositor
	metrics *observability.Metrics
}

func (s *compositorSink) Next(mimeType string, data []byte) error {
	if err := s.comp.Next(mimeType, data); err != nil {
		return err
	}
	s.metrics.ChunksComposed.Inc()
	return nil
}

func (s *compositorSink) End() { s.comp.End() }

// instrumentedSynthesizer records attempt counts, error codes and latency
// around the wrapped synthesizer.
type instrumentedSynthesizer struct {
	inner   speech.Synthesizer
	metrics *observability.Metrics
}

func (s *instrumentedSynthesizer) Synthesize(ctx context.Context, req speech.Request) (*speech.Result, error) {
	start := time.Now()
	res, err := s.inner.Synthesize(ctx, req)
	s.metrics.ObserveSynthesisLatency(time.Since(start))
	if err != nil {
		s.metrics.SynthesisAttempts.WithLabelValues("error").Inc()
		s.metrics.SynthesisErrors.WithLabelValues(errorCode(err)).Inc()
		return nil, err
	}
	s.metrics.SynthesisAttempts.WithLabelValues("ok").Inc()
	return res, nil
}

func errorCode(err error) string {
	var reqErr *speech.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("http_%d", reqErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "transport"
}
