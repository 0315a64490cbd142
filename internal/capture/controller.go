// Package capture drives one interview attempt on the candidate's machine:
// play the question, record the answer, submit it and loop, while the camera
// records the whole session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	"github.com/zhouzirui/z-interview/backend/internal/capture/fsm"
	"github.com/zhouzirui/z-interview/backend/internal/capture/silence"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

const (
	DefaultPlaybackDelay   = 500 * time.Millisecond
	DefaultFinalizeTimeout = 2 * time.Minute

	// SkipLabel is what the transcript shows for a silence skip.
	SkipLabel = "Skipped (no answer)"
	// MissingTranscript stands in when the server returned no transcript.
	MissingTranscript = "(transcription unavailable)"

	// attempts per turn before the interview is stopped
	maxSubmitAttempts = 2
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Entry is one line of the running transcript.
type Entry struct {
	Role    Role      `json:"role"`
	Text    string    `json:"text"`
	Skipped bool      `json:"skipped,omitempty"`
	At      time.Time `json:"at"`
}

// EndReason says which exit path completed the session.
type EndReason string

const (
	ReasonCompleted EndReason = "completed"
	ReasonEnded     EndReason = "ended"
	ReasonCancelled EndReason = "cancelled"
	ReasonFailed    EndReason = "failed"
)

// Result is the outcome of one attempt.
type Result struct {
	SessionID   string    `json:"sessionId"`
	Reason      EndReason `json:"reason"`
	Transcript  []Entry   `json:"transcript"`
	Artifact    string    `json:"artifact,omitempty"`
	Err         error     `json:"-"`
	ArtifactErr error     `json:"-"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Config is the per-attempt setup.
type Config struct {
	SessionID     string
	FirstQuestion string

	PlaybackDelay   time.Duration
	FinalizeTimeout time.Duration
	Silence         silence.Options

	Logger *zap.Logger
}

// Deps are the ports the controller drives. Fallback may be nil.
type Deps struct {
	Devices  Devices
	Speaker  Speaker
	Fallback Speaker
	API      AnswerAPI
	Sink     ArtifactSink
}

type eventKind int

const (
	evPlaybackDone eventKind = iota + 1
	evManualStop
	evSilence
	evSubmitted
	evEnd
)

type event struct {
	kind eventKind
	step int

	transcript string
	question   string
	done       bool
	skipped    bool
	err        error
}

// Controller owns the media inputs for one attempt. All turn state lives on
// the event loop goroutine; background work posts results tagged with the
// step that launched it, and results for any other step are dropped.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	lifecycle sync.Mutex
	started   bool

	mu         sync.Mutex
	status     fsm.Status
	transcript []Entry
	result     Result
	onEntry    func(Entry)
	onStatus   func(fsm.Status)

	events  chan event
	quit    chan struct{}
	done    chan struct{}
	endOnce sync.Once
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// loop-owned
	video       VideoInput
	audio       AudioInput
	videoRec    Recorder
	answerRec   Recorder
	monitor     *silence.Monitor
	question    string
	step        int
	attempts    int
	inTurnSince time.Time
}

// New builds a controller in SETUP.
func New(cfg Config, deps Deps) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PlaybackDelay <= 0 {
		cfg.PlaybackDelay = DefaultPlaybackDelay
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if cfg.Silence.Logger == nil {
		cfg.Silence.Logger = cfg.Logger.Named("silence")
	}
	return &Controller{
		cfg:      cfg,
		deps:     deps,
		logger:   cfg.Logger,
		status:   fsm.Initial,
		events:   make(chan event, 16),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		question: cfg.FirstQuestion,
		result:   Result{SessionID: cfg.SessionID},
	}
}

// OnTranscript registers an observer for transcript entries. Observers run
// on the event loop and must not call End.
func (c *Controller) OnTranscript(fn func(Entry)) {
	c.mu.Lock()
	c.onEntry = fn
	c.mu.Unlock()
}

// OnStatus registers an observer for status changes. Same rules as
// OnTranscript.
func (c *Controller) OnStatus(fn func(fsm.Status)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Status returns the current state and phase.
func (c *Controller) Status() fsm.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Transcript returns a copy of the entries so far.
func (c *Controller) Transcript() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.transcript...)
}

// Done is closed once the controller reaches COMPLETED.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Countdown returns the seconds left before a silence skip, only while
// recording.
func (c *Controller) Countdown() (int, bool) {
	c.mu.Lock()
	recording := c.status.Phase == fsm.PhaseRecording
	monitor := c.monitor
	c.mu.Unlock()
	if !recording || monitor == nil {
		return 0, false
	}
	return monitor.RemainingSeconds(), true
}

// Start acquires the camera and microphone, starts the session video and
// the silence monitor and plays the first question. On failure everything
// acquired is released and the controller stays in SETUP.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if st := c.Status(); c.started || st.State != fsm.StateSetup {
		return apperr.InvalidState("capture.Start", "controller is %s", st)
	}
	if strings.TrimSpace(c.cfg.SessionID) == "" || strings.TrimSpace(c.question) == "" {
		return apperr.InvalidInput("capture.Start", "session id and first question are required")
	}

	video, err := c.deps.Devices.OpenVideo(ctx)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	audio, err := c.deps.Devices.OpenAudio(ctx)
	if err != nil {
		closeQuietly(c.logger, "camera", video.Close)
		return fmt.Errorf("open microphone: %w", err)
	}

	videoRec, err := video.NewRecorder()
	if err == nil {
		err = videoRec.Start(ctx)
	}
	if err != nil {
		closeQuietly(c.logger, "microphone", audio.Close)
		closeQuietly(c.logger, "camera", video.Close)
		return fmt.Errorf("start session video: %w", err)
	}

	c.video, c.audio, c.videoRec = video, audio, videoRec
	c.ctx, c.cancel = context.WithCancel(ctx)

	monitor := silence.New(audio, c.onSilence, c.onSpeech, c.cfg.Silence)
	monitor.Start()

	c.mu.Lock()
	c.monitor = monitor
	c.result.StartedAt = time.Now()
	c.mu.Unlock()

	c.started = true
	if err := c.transition(fsm.EventActivate); err != nil {
		return err
	}
	c.logger.Info("interview capture started", zap.String("session_id", c.cfg.SessionID))

	c.appendEntry(Entry{Role: RoleInterviewer, Text: c.question})
	go c.run()
	return nil
}

// StopRecording is the manual "done answering" action. It does nothing
// outside RECORDING.
func (c *Controller) StopRecording() {
	if c.Status().Phase != fsm.PhaseRecording {
		return
	}
	c.post(event{kind: evManualStop})
}

// End runs the shutdown path and waits for it, bounded by ctx. Every exit
// path converges here; calling it again only waits for the same result.
func (c *Controller) End(ctx context.Context) Result {
	c.endOnce.Do(func() {
		c.lifecycle.Lock()
		defer c.lifecycle.Unlock()

		if !c.started {
			c.finishUnstarted()
			return
		}
		c.post(event{kind: evEnd})
	})

	select {
	case <-c.done:
	case <-ctx.Done():
		c.logger.Warn("end interrupted before shutdown finished", zap.Error(ctx.Err()))
	}
	return c.Result()
}

// Result returns the outcome; it is complete once Done is closed.
func (c *Controller) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.result
	r.Transcript = append([]Entry(nil), c.transcript...)
	return r
}

func (c *Controller) finishUnstarted() {
	c.mu.Lock()
	c.result.Reason = ReasonEnded
	c.result.FinishedAt = time.Now()
	c.mu.Unlock()
	_ = c.transition(fsm.EventFinish)
	close(c.quit)
	close(c.done)
}

func (c *Controller) run() {
	defer close(c.done)

	c.play()
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown(ReasonCancelled, nil)
			return
		case ev := <-c.events:
			if c.handle(ev) {
				return
			}
		}
	}
}

// handle applies one event and reports whether the session is over.
func (c *Controller) handle(ev event) bool {
	phase := c.Status().Phase

	switch ev.kind {
	case evEnd:
		c.shutdown(ReasonEnded, nil)
		return true

	case evPlaybackDone:
		if ev.step != c.step || phase != fsm.PhasePlaying {
			return false
		}
		if err := c.transition(fsm.EventPlaybackEnded); err != nil {
			c.logger.Warn("playback transition rejected", zap.Error(err))
			return false
		}
		if err := c.startAnswerRecorder(); err != nil {
			c.shutdown(ReasonFailed, err)
			return true
		}

	case evManualStop, evSilence:
		if phase != fsm.PhaseRecording {
			return false
		}
		if err := c.transition(fsm.EventSubmit); err != nil {
			c.logger.Warn("submit transition rejected", zap.Error(err))
			return false
		}
		c.submit(ev.kind == evSilence)

	case evSubmitted:
		if ev.step != c.step || phase != fsm.PhaseTranscribing {
			c.logger.Debug("dropping stale submission result", zap.Int("step", ev.step), zap.Int("current", c.step))
			return false
		}
		return c.applySubmission(ev)
	}
	return false
}

func (c *Controller) applySubmission(ev event) bool {
	if ev.err != nil {
		if !retryable(ev.err) {
			c.logger.Error("answer rejected, stopping interview", zap.String("kind", string(apperr.KindOf(ev.err))), zap.Error(ev.err))
			c.shutdown(ReasonFailed, ev.err)
			return true
		}
		c.attempts++
		err := apperr.RecordingRetry("capture.submit", ev.err)
		if c.attempts >= maxSubmitAttempts {
			c.logger.Error("answer submission failed again, stopping interview", zap.Int("attempts", c.attempts), zap.Error(ev.err))
			c.shutdown(ReasonFailed, err)
			return true
		}
		c.logger.Warn("answer submission failed, recording again", zap.Error(ev.err))
		if terr := c.transition(fsm.EventRetry); terr != nil {
			c.shutdown(ReasonFailed, terr)
			return true
		}
		if rerr := c.startAnswerRecorder(); rerr != nil {
			c.shutdown(ReasonFailed, rerr)
			return true
		}
		return false
	}

	answer := Entry{Role: RoleCandidate, Text: ev.transcript}
	if ev.skipped {
		answer = Entry{Role: RoleCandidate, Text: SkipLabel, Skipped: true}
	} else if strings.TrimSpace(answer.Text) == "" {
		answer.Text = MissingTranscript
	}
	c.appendEntry(answer)
	c.appendEntry(Entry{Role: RoleInterviewer, Text: ev.question})

	if ev.done || model.IsTermination(ev.question) {
		c.shutdown(ReasonCompleted, nil)
		return true
	}

	c.question = ev.question
	c.attempts = 0
	if err := c.transition(fsm.EventNextQuestion); err != nil {
		c.shutdown(ReasonFailed, err)
		return true
	}
	c.play()
	return false
}

// play speaks the current question in the background. Recording starts
// only after playback has ended and the playback delay has passed, whether
// the remote voice, the fallback or neither worked.
func (c *Controller) play() {
	c.step++
	step, text := c.step, c.question
	ctx := c.ctx

	c.spawn(func() {
		if err := c.deps.Speaker.Speak(ctx, text); err != nil && ctx.Err() == nil {
			c.logger.Warn("question playback failed, using fallback voice", zap.Error(err))
			if c.deps.Fallback != nil {
				if ferr := c.deps.Fallback.Speak(ctx, text); ferr != nil && ctx.Err() == nil {
					c.logger.Warn("fallback voice failed", zap.Error(ferr))
				}
			}
		}

		timer := time.NewTimer(c.cfg.PlaybackDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		c.post(event{kind: evPlaybackDone, step: step})
	})
}

func (c *Controller) startAnswerRecorder() error {
	rec, err := c.audio.NewRecorder()
	if err != nil {
		return fmt.Errorf("create answer recorder: %w", err)
	}
	if err := rec.Start(c.ctx); err != nil {
		return fmt.Errorf("start answer recorder: %w", err)
	}
	c.answerRec = rec
	c.inTurnSince = time.Now()
	c.monitor.Reset()
	return nil
}

// submit stops the answer recorder and sends either the clip or the skip
// text in the background.
func (c *Controller) submit(skipped bool) {
	rec := c.answerRec
	c.answerRec = nil
	c.step++
	step := c.step
	ctx := c.ctx
	sessionID := c.cfg.SessionID

	if skipped {
		c.logger.Info("silence timeout, skipping question", zap.Duration("recorded_for", time.Since(c.inTurnSince)))
	}

	c.spawn(func() {
		clip, err := rec.Stop(ctx)
		if skipped {
			if err != nil {
				c.logger.Debug("discarding answer recorder after skip", zap.Error(err))
			}
			resp, err := c.deps.API.SubmitTextAnswer(ctx, sessionID, model.SkipAnswer)
			c.post(event{kind: evSubmitted, step: step, skipped: true, question: resp.Question, done: resp.Done, err: err})
			return
		}
		if err != nil {
			c.post(event{kind: evSubmitted, step: step, err: fmt.Errorf("stop answer recorder: %w", err)})
			return
		}
		resp, err := c.deps.API.SubmitAudioAnswer(ctx, sessionID, clip)
		c.post(event{kind: evSubmitted, step: step, transcript: resp.Transcript, question: resp.Question, done: resp.Done, err: err})
	})
}

// shutdown is the single teardown path. It runs once, on the event loop.
func (c *Controller) shutdown(reason EndReason, cause error) {
	c.logger.Info("ending interview capture", zap.String("reason", string(reason)), zap.Error(cause))

	close(c.quit)
	c.cancel()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.cfg.FinalizeTimeout)
	defer cancel()

	if c.answerRec != nil {
		if _, err := c.answerRec.Stop(fctx); err != nil {
			c.logger.Debug("discarding answer recorder", zap.Error(err))
		}
		c.answerRec = nil
	}
	// playback and submissions observe the cancelled context
	c.wg.Wait()

	// the monitor reads the microphone, so it goes before the microphone
	c.monitor.Stop()

	artifact, artifactErr := c.finalizeVideo(fctx)

	closeQuietly(c.logger, "microphone", c.audio.Close)
	closeQuietly(c.logger, "camera", c.video.Close)

	c.mu.Lock()
	c.result.Reason = reason
	c.result.Err = cause
	c.result.Artifact = artifact
	c.result.ArtifactErr = artifactErr
	c.result.FinishedAt = time.Now()
	c.mu.Unlock()

	if err := c.transition(fsm.EventFinish); err != nil {
		c.logger.Warn("finish transition rejected", zap.Error(err))
	}
}

func (c *Controller) finalizeVideo(ctx context.Context) (string, error) {
	clip, err := c.videoRec.Stop(ctx)
	if err != nil {
		c.logger.Error("failed to stop session video", zap.Error(err))
		return "", err
	}
	if clip.Empty() {
		return "", errors.New("session video is empty")
	}
	if c.deps.Sink == nil {
		return clip.Path, nil
	}
	location, err := c.deps.Sink.Save(ctx, c.cfg.SessionID, clip)
	if err != nil {
		c.logger.Error("failed to save session video", zap.Error(err))
		return "", err
	}
	c.logger.Info("session video saved", zap.String("location", location))
	return location, nil
}

// retryable reports whether recording the turn again can help. It cannot
// once the session is missing, ended or busy.
func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindInvalidState, apperr.KindConflict:
		return false
	default:
		return true
	}
}

func (c *Controller) onSilence(time.Duration) {
	c.post(event{kind: evSilence})
}

func (c *Controller) onSpeech() {
	c.logger.Debug("speech detected")
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Controller) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Controller) transition(ev fsm.Event) error {
	c.mu.Lock()
	next, err := fsm.Transition(c.status, ev)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.status = next
	observer := c.onStatus
	c.mu.Unlock()

	if observer != nil {
		observer(next)
	}
	return nil
}

func (c *Controller) appendEntry(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	c.mu.Lock()
	c.transcript = append(c.transcript, e)
	observer := c.onEntry
	c.mu.Unlock()

	if observer != nil {
		observer(e)
	}
}

func closeQuietly(logger *zap.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logger.Warn("failed to release "+what, zap.Error(err))
	}
}
