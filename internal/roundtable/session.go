// Package roundtable orchestrates one round-table conversation: it hydrates
// history, runs the polling loop, reconciles incoming turns with the local
// list, feeds fresh turns to the typewriter display and the audio queue, and
// handles user barge-in.
package roundtable

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ztkuaikuai/round-cast-app/internal/conv"
	"github.com/ztkuaikuai/round-cast-app/internal/poll"
	"github.com/ztkuaikuai/round-cast-app/internal/stt"
	"github.com/ztkuaikuai/round-cast-app/internal/taskapi"
)

// defaultResumeDelay is how long after an interruption restart the audio
// pipeline waits before resuming, so the first fresh turns have a chance to
// diff in and enqueue.
const defaultResumeDelay = 500 * time.Millisecond

// TaskService is the remote round-table task collaborator.
type TaskService interface {
	Conversation(ctx context.Context, req taskapi.Request) (*taskapi.Response, error)
	History(ctx context.Context, taskID string) (*taskapi.Response, error)
}

// AudioQueue is the sequential playback engine. *audio.Engine satisfies it.
type AudioQueue interface {
	EnqueueTurns(turns []conv.Turn)
	Play()
	Pause()
	ClearQueue()
}

// Display is the turn renderer. *typewriter.Renderer satisfies it.
type Display interface {
	SetTurns(turns []conv.Turn)
	Stop()
}

// SessionStore records started conversations. *store.Store satisfies it.
type SessionStore interface {
	AddSession(ctx context.Context, id, title string) error
}

// Config tunes a Session.
type Config struct {
	PollDelay       time.Duration
	PollMaxAttempts int
	ResumeDelay     time.Duration
	CaptureFormat   string
	// OnNotice receives errors the user should see as a dismissible banner:
	// a failed initial fetch, an exhausted polling chain, or a recognition
	// failure. Never called for cooperative cancellation.
	OnNotice func(err error)
	Logger   zerolog.Logger
}

// Session owns the turn list for one task. The collaborators never interleave
// partial writes: every turn-list update is applied as a full replacement
// under the session mutex.
type Session struct {
	svc     TaskService
	audio   AudioQueue
	display Display
	store   SessionStore
	capture *stt.Capture

	resumeDelay time.Duration
	pollCfg     poll.Config
	onNotice    func(error)
	log         zerolog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	taskID  string
	topic   string
	turns   []conv.Turn
	status  conv.Status
	poller  *poll.Controller
}

// NewSession wires the collaborators together. recognizer may be nil when
// voice capture is unavailable; store may be nil to skip session recording.
func NewSession(svc TaskService, audioQ AudioQueue, display Display, sessions SessionStore, recognizer stt.Recognizer, cfg Config) *Session {
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = defaultResumeDelay
	}
	if cfg.CaptureFormat == "" {
		cfg.CaptureFormat = "wav"
	}
	s := &Session{
		svc:         svc,
		audio:       audioQ,
		display:     display,
		store:       sessions,
		resumeDelay: cfg.ResumeDelay,
		pollCfg: poll.Config{
			Delay:       cfg.PollDelay,
			MaxAttempts: cfg.PollMaxAttempts,
			Logger:      cfg.Logger,
		},
		onNotice: cfg.OnNotice,
		log:      cfg.Logger.With().Str("component", "roundtable").Logger(),
	}
	if recognizer != nil {
		s.capture = stt.NewCapture(recognizer, cfg.CaptureFormat, s.onCaptureText, s.notice, cfg.Logger)
	}
	return s
}

// StartConversation enters a task: records the session, hydrates history, and
// begins polling. A task that is already completed with history is shown
// without polling; a completed task with zero turns is treated as fresh and
// polls anyway. A later user message always restarts polling either way.
func (s *Session) StartConversation(ctx context.Context, taskID, topic string) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.taskID = taskID
	s.topic = topic
	s.turns = nil
	s.status = conv.StatusInProgress
	if s.poller != nil {
		s.poller.Cancel()
	}
	s.poller = poll.NewController(s.svc, taskID, topic, s.handleUpdate, s.handlePollError, s.pollCfg)
	poller := s.poller
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.AddSession(ctx, taskID, topic); err != nil {
			// Session not recorded; the conversation itself proceeds.
			s.log.Warn().Err(err).Str("task_id", taskID).Msg("failed to record session")
		}
	}

	hist, err := s.svc.History(ctx, taskID)
	if err != nil {
		s.notice(err)
		return errors.Wrap(err, "hydrate history")
	}
	turns := make([]conv.Turn, len(hist.Context))
	copy(turns, hist.Context)
	for i := range turns {
		turns[i].Historical = true
	}

	s.mu.Lock()
	s.turns = turns
	s.status = hist.Status
	s.mu.Unlock()
	s.display.SetTurns(turns)

	if hist.Status == conv.StatusInProgress || len(turns) == 0 {
		poller.Start(ctx, turns)
	} else {
		s.log.Debug().Str("task_id", taskID).Int("turns", len(turns)).Msg("task already completed, showing history only")
	}
	return nil
}

// SendUserMessage is the barge-in path: cancel the in-flight poll, drop
// pending audio, splice the user's turn into context, and force a fresh poll
// cycle. The restart does not wait for the cancelled cycle to acknowledge;
// user intent always wins immediately.
func (s *Session) SendUserMessage(text string) error {
	s.mu.Lock()
	if s.poller == nil {
		s.mu.Unlock()
		return errors.New("no active conversation")
	}
	poller := s.poller
	ctx := s.baseCtx
	s.mu.Unlock()

	poller.Cancel()
	s.audio.ClearQueue()

	s.mu.Lock()
	userTurn := conv.Turn{
		ChunkID: len(s.turns) + 1,
		Speaker: conv.UserSpeaker,
		Content: text,
	}
	s.turns = append(append([]conv.Turn{}, s.turns...), userTurn)
	s.status = conv.StatusInProgress
	snapshot := append([]conv.Turn{}, s.turns...)
	s.mu.Unlock()

	s.log.Info().Int("chunk_id", userTurn.ChunkID).Msg("user interruption")
	s.display.SetTurns(snapshot)
	poller.Start(ctx, snapshot)

	// Resume playback shortly after the restart so the rebuilt queue is
	// heard in order once fresh turns diff in.
	time.AfterFunc(s.resumeDelay, s.audio.Play)
	return nil
}

// PressIn signals the start of a voice capture. It is treated as an
// interruption before any text exists: polling stops and pending audio is
// cleared immediately.
func (s *Session) PressIn() {
	s.mu.Lock()
	poller := s.poller
	s.mu.Unlock()
	if poller != nil {
		poller.Cancel()
	}
	s.audio.ClearQueue()
	if s.capture != nil {
		s.capture.Begin()
	}
}

// PressOut ends the voice capture. The coordinator itself does nothing more
// here; the capture's own completion callback delivers the recognized text,
// which re-enters through SendUserMessage.
func (s *Session) PressOut() {
	if s.capture == nil {
		return
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	s.capture.End(ctx)
}

// FeedAudio forwards recorded bytes to the active capture.
func (s *Session) FeedAudio(pcm []byte) {
	if s.capture != nil {
		s.capture.Feed(pcm)
	}
}

// Turns returns a copy of the current turn list.
func (s *Session) Turns() []conv.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conv.Turn{}, s.turns...)
}

// Status returns the current conversation status.
func (s *Session) Status() conv.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Polling reports whether a poll cycle is live.
func (s *Session) Polling() bool {
	s.mu.Lock()
	poller := s.poller
	s.mu.Unlock()
	return poller != nil && poller.Live()
}

// Close tears the session down: the live poll token is cancelled, the reveal
// stops, and output is paused.
func (s *Session) Close() {
	s.mu.Lock()
	poller := s.poller
	s.mu.Unlock()
	if poller != nil {
		poller.Cancel()
	}
	s.display.Stop()
	s.audio.Pause()
}

// handleUpdate applies one poll response: the turn list is replaced
// atomically, the display reconciles, and only the genuinely new suffix is
// enqueued for audio.
func (s *Session) handleUpdate(turns []conv.Turn, status conv.Status) {
	s.mu.Lock()
	fresh := conv.Diff(s.turns, turns)
	s.turns = append([]conv.Turn{}, turns...)
	s.status = status
	s.mu.Unlock()

	s.display.SetTurns(turns)
	if len(fresh) > 0 {
		s.audio.EnqueueTurns(fresh)
		s.audio.Play()
	}
}

// handlePollError fires when a polling chain gives up after bounded retries.
// Without surfacing this, a lost cycle is indistinguishable from a slow
// server, so it always reaches the notice callback.
func (s *Session) handlePollError(err error) {
	s.log.Error().Err(err).Msg("polling chain stopped")
	s.notice(err)
}

// onCaptureText receives recognized speech and replays it through the normal
// interruption path.
func (s *Session) onCaptureText(text string) {
	if err := s.SendUserMessage(text); err != nil {
		s.log.Warn().Err(err).Msg("dropping recognized text")
	}
}

func (s *Session) notice(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if s.onNotice != nil {
		s.onNotice(err)
	}
}
