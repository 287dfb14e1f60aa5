// Package highlight maps the moving playback cursor back to word timestamps
// and drives word-level highlight and auto-scroll notifications.
package highlight

import (
	"log"
	"sync"
	"time"

	"github.com/vpaquet/readalong/internal/document"
	"github.com/vpaquet/readalong/internal/media"
	"github.com/vpaquet/readalong/internal/speech"
	"github.com/vpaquet/readalong/internal/timeline"
)

// tickInterval approximates one animation frame.
const tickInterval = time.Second / 60

// Player is the virtual-timeline surface the synchronizer drives. The
// timeline compositor satisfies it.
type Player interface {
	Play()
	Pause()
	Seek(t float64)
	CurrentTime() float64
	State() media.PlaybackState
	Chapters() []timeline.Chapter
	StateChanges() <-chan media.PlaybackState
	ChapterAdded() <-chan timeline.Chapter
}

// ResponseSource exposes the retained synthesis results, index-aligned with
// chapters. The speech pipeline satisfies it.
type ResponseSource interface {
	Response(i int) (*speech.Response, bool)
	Terminated() bool
}

// Highlight is one active-word notification. Runs locate the word in the
// rendered document; they may span several runs.
type Highlight struct {
	ChapterIndex int                 `json:"chapter_index"`
	Word         string              `json:"word"`
	Text         speech.TextRange    `json:"text"`
	Runs         []document.RunRange `json:"runs"`
}

// ScrollHint asks the UI to bring a segment into view.
type ScrollHint struct {
	SegmentIndex int    `json:"segment_index"`
	Direction    string `json:"direction"`
	Enabled      bool   `json:"enabled"`
}

// Synchronizer polls the player while it reports Play, resolves the active
// word and emits highlight changes. It is the sole consumer of the player's
// state and chapter channels and re-broadcasts both for downstream listeners.
type Synchronizer struct {
	player   Player
	source   ResponseSource
	segments []document.Segment

	mu          sync.Mutex
	pending     int
	lastChapter int
	lastRange   speech.TextRange
	closed      bool

	highlightCh chan Highlight
	scrollCh    chan ScrollHint
	stateCh     chan media.PlaybackState
	chapterCh   chan timeline.Chapter
	bufferingCh chan media.BufferingState

	done     chan struct{}
	loopDone chan struct{}
}

// NewSynchronizer builds a synchronizer and starts its polling loop.
// segments must be the same list the pipeline synthesized, in the same order.
func NewSynchronizer(player Player, source ResponseSource, segments []document.Segment) *Synchronizer {
	s := &Synchronizer{
		player:      player,
		source:      source,
		segments:    segments,
		pending:     -1,
		lastChapter: -1,
		highlightCh: make(chan Highlight, 32),
		scrollCh:    make(chan ScrollHint, 8),
		stateCh:     make(chan media.PlaybackState, 8),
		chapterCh:   make(chan timeline.Chapter, 16),
		bufferingCh: make(chan media.BufferingState, 8),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Synchronizer) Highlights() <-chan Highlight              { return s.highlightCh }
func (s *Synchronizer) ScrollHints() <-chan ScrollHint            { return s.scrollCh }
func (s *Synchronizer) StateChanges() <-chan media.PlaybackState  { return s.stateCh }
func (s *Synchronizer) ChapterAdded() <-chan timeline.Chapter     { return s.chapterCh }

// BufferingChanges reports waiting-for-chapter transitions caused by
// PlaySegment requests that outpaced the pipeline.
func (s *Synchronizer) BufferingChanges() <-chan media.BufferingState { return s.bufferingCh }

// PlaySegment seeks to the start of the given chapter and plays. A chapter
// the pipeline has not produced yet parks the request: playback pauses,
// Buffering is emitted, and the seek-and-play fires the moment the chapter
// arrives. If the pipeline has already terminated without it, the request is
// dropped with a warning.
func (s *Synchronizer) PlaySegment(index int) {
	chapters := s.player.Chapters()
	if index >= 0 && index < len(chapters) {
		s.clearPending()
		s.player.Seek(chapters[index].Start)
		s.player.Play()
		return
	}
	if s.source.Terminated() {
		log.Printf("highlight: segment %d requested but narration already ended with %d chapters, dropping", index, len(chapters))
		return
	}

	s.mu.Lock()
	s.pending = index
	s.mu.Unlock()
	s.player.Pause()
	emit(s.bufferingCh, media.Buffering)
}

// PlayFromTextIndex starts playback at the word containing the given rune
// offset into the document's concatenated text, falling back to the owning
// segment's start when no word timing covers the offset.
func (s *Synchronizer) PlayFromTextIndex(offset int) {
	idx, local := document.SegmentAtOffset(s.segments, offset)
	if idx < 0 {
		log.Printf("highlight: text offset %d past end of document, ignoring", offset)
		return
	}

	chapters := s.player.Chapters()
	if idx >= len(chapters) {
		s.PlaySegment(idx)
		return
	}
	resp, ok := s.source.Response(idx)
	if !ok {
		s.PlaySegment(idx)
		return
	}

	target := chapters[idx].Start
	for _, w := range resp.Words {
		if local >= w.Text.Start && local < w.Text.End {
			target = chapters[idx].Start + w.Time.Start
			break
		}
	}
	s.clearPending()
	s.player.Seek(target)
	s.player.Play()
}

// Close stops the polling loop. Notification channels are left open; pending
// values may still be drained.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	<-s.loopDone
}

func (s *Synchronizer) loop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	ticking := s.player.State() == media.Play

	for {
		select {
		case <-s.done:
			return
		case st, ok := <-s.player.StateChanges():
			if !ok {
				return
			}
			// Polling stops the moment the state leaves Play.
			ticking = st == media.Play
			emit(s.stateCh, st)
		case ch, ok := <-s.player.ChapterAdded():
			if !ok {
				return
			}
			s.resolvePending()
			emit(s.chapterCh, ch)
		case <-ticker.C:
			s.resolvePending()
			if ticking {
				s.tick()
			}
		}
	}
}

// resolvePending re-examines a parked PlaySegment request: seek-and-play once
// its chapter exists, drop it once the pipeline terminated without producing
// it. Runs on chapter arrival and on every frame tick.
func (s *Synchronizer) resolvePending() {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending < 0 {
		return
	}

	chapters := s.player.Chapters()
	if pending < len(chapters) {
		s.clearPending()
		emit(s.bufferingCh, media.Ready)
		s.player.Seek(chapters[pending].Start)
		s.player.Play()
		return
	}
	if s.source.Terminated() {
		log.Printf("highlight: segment %d never produced, dropping parked request", pending)
		s.clearPending()
		emit(s.bufferingCh, media.Ready)
	}
}

func (s *Synchronizer) clearPending() {
	s.mu.Lock()
	s.pending = -1
	s.mu.Unlock()
}

// tick resolves the active word at the current cursor and emits a highlight
// only when it changed since the previous tick. Lookup misses mean nothing to
// highlight this frame, never an error.
func (s *Synchronizer) tick() {
	t := s.player.CurrentTime()
	idx, word, ok := s.wordAt(t)
	if !ok {
		return
	}

	s.mu.Lock()
	if idx == s.lastChapter && word.Text == s.lastRange {
		s.mu.Unlock()
		return
	}
	prevChapter := s.lastChapter
	s.lastChapter = idx
	s.lastRange = word.Text
	s.mu.Unlock()

	var runs []document.RunRange
	if idx < len(s.segments) {
		runs = s.segments[idx].Resolve(word.Text.Start, word.Text.End)
	}
	emit(s.highlightCh, Highlight{ChapterIndex: idx, Word: word.Word, Text: word.Text, Runs: runs})

	if idx != prevChapter {
		direction := "forward"
		if idx < prevChapter {
			direction = "backward"
		}
		emit(s.scrollCh, ScrollHint{SegmentIndex: idx, Direction: direction, Enabled: true})
	}
}

// wordAt finds the chapter containing t, then the word whose chunk-local
// time range contains t - chapter.Start. Deterministic: first match wins in
// both scans.
func (s *Synchronizer) wordAt(t float64) (int, speech.WordTimestamp, bool) {
	chapters := s.player.Chapters()
	for i, c := range chapters {
		if !c.Contains(t) {
			continue
		}
		resp, ok := s.source.Response(i)
		if !ok {
			return 0, speech.WordTimestamp{}, false
		}
		rel := t - c.Start
		for _, w := range resp.Words {
			if rel >= w.Time.Start && rel < w.Time.End {
				return i, w, true
			}
		}
		return 0, speech.WordTimestamp{}, false
	}
	return 0, speech.WordTimestamp{}, false
}

func emit[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
