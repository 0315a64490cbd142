// Package interview implements the conversation engine: it owns each
// session's question and answer history, asks the generator for the next
// question and detects the end of the interview.
package interview

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/repository/session"
	"github.com/zhouzirui/z-interview/backend/internal/resume"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
)

// Transcriber turns a recorded answer into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Config tunes the engine.
type Config struct {
	// GatewayTimeout bounds each generation or transcription call. Zero
	// leaves calls bounded only by the caller's context.
	GatewayTimeout time.Duration
	MaxResumeChars int
}

// CreateSessionInput is the extracted resume plus optional linkage.
type CreateSessionInput struct {
	ResumeText    string
	ApplicationID string
}

// Engine coordinates the session repository with the gateways.
type Engine struct {
	repo   session.Repository
	gen    ai.Generator
	stt    Transcriber
	cfg    Config
	logger *zap.Logger
	newID  func() string
}

// NewEngine wires an engine. gen and stt may be nil; operations needing
// them then fail with Unavailable.
func NewEngine(repo session.Repository, gen ai.Generator, stt Transcriber, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResumeChars <= 0 {
		cfg.MaxResumeChars = resume.DefaultMaxChars
	}
	return &Engine{
		repo:   repo,
		gen:    gen,
		stt:    stt,
		cfg:    cfg,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Ready reports whether a generator is configured.
func (e *Engine) Ready() bool { return e.gen != nil }

// CreateSession summarizes the resume, asks the first question and stores a
// session holding one open pair.
func (e *Engine) CreateSession(ctx context.Context, in CreateSessionInput) (model.CreateSessionResponse, error) {
	const op = "interview.CreateSession"

	text := resume.Normalize(in.ResumeText, e.cfg.MaxResumeChars)
	if text == "" {
		return model.CreateSessionResponse{}, apperr.InvalidInput(op, "resume text is empty or not extractable")
	}

	summary, err := e.generate(ctx, op, summaryPrompt(text))
	if err != nil {
		return model.CreateSessionResponse{}, err
	}

	question, err := e.generate(ctx, op, firstQuestionPrompt(summary))
	if err != nil {
		return model.CreateSessionResponse{}, err
	}
	if model.IsTermination(question) {
		return model.CreateSessionResponse{}, apperr.Upstream(op, errNoFirstQuestion)
	}

	s := model.Session{
		ID:            e.newID(),
		ApplicationID: strings.TrimSpace(in.ApplicationID),
		Summary:       summary,
		History:       []model.QAPair{{Question: question}},
		Status:        model.StatusAwaitingAnswer,
	}
	if err := e.repo.Create(ctx, s); err != nil {
		return model.CreateSessionResponse{}, err
	}

	e.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.Int("resume_chars", len([]rune(text))))

	return model.CreateSessionResponse{SessionID: s.ID, Summary: summary, Question: question}, nil
}

// SubmitAnswer binds a typed answer to the open pair and returns the next
// question, or the termination sentinel with Done set.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, answer string) (model.AnswerResponse, error) {
	const op = "interview.SubmitAnswer"

	if strings.TrimSpace(sessionID) == "" {
		return model.AnswerResponse{}, apperr.InvalidInput(op, "sessionId is required")
	}
	if strings.TrimSpace(answer) == "" {
		return model.AnswerResponse{}, apperr.InvalidInput(op, "answer is required")
	}
	return e.advance(ctx, op, sessionID, answer)
}

// SubmitAudioAnswer transcribes the clip and binds the transcript verbatim.
func (e *Engine) SubmitAudioAnswer(ctx context.Context, sessionID string, audio []byte, filename string) (model.AudioAnswerResponse, error) {
	const op = "interview.SubmitAudioAnswer"

	if strings.TrimSpace(sessionID) == "" {
		return model.AudioAnswerResponse{}, apperr.InvalidInput(op, "sessionId is required")
	}
	if len(audio) == 0 {
		return model.AudioAnswerResponse{}, apperr.InvalidInput(op, "audio file is required")
	}
	if e.stt == nil {
		return model.AudioAnswerResponse{}, apperr.Unavailable(op, "speech transcription is not configured")
	}

	// fail fast before paying for a transcription
	s, err := e.repo.Get(ctx, sessionID)
	if err != nil {
		return model.AudioAnswerResponse{}, err
	}
	if err := checkAnswerable(op, s); err != nil {
		return model.AudioAnswerResponse{}, err
	}

	callCtx, cancel := e.withTimeout(ctx)
	transcript, err := e.stt.Transcribe(callCtx, audio, filename)
	cancel()
	if err != nil {
		return model.AudioAnswerResponse{}, upstream(op, err)
	}
	if strings.TrimSpace(transcript) == "" {
		return model.AudioAnswerResponse{}, apperr.InvalidInput(op, "no speech detected in audio")
	}

	resp, err := e.advance(ctx, op, sessionID, transcript)
	if err != nil {
		return model.AudioAnswerResponse{}, err
	}
	return model.AudioAnswerResponse{Question: resp.Question, Done: resp.Done, Transcript: transcript}, nil
}

// RepeatLast returns the open question, or the closing line once the
// interview has ended.
func (e *Engine) RepeatLast(ctx context.Context, sessionID string) (model.RepeatResponse, error) {
	const op = "interview.RepeatLast"

	s, err := e.repo.Get(ctx, sessionID)
	if err != nil {
		return model.RepeatResponse{}, err
	}
	if s.Status == model.StatusTerminated {
		return model.RepeatResponse{Question: s.Closing}, nil
	}
	pair, ok := s.OpenPair()
	if !ok {
		return model.RepeatResponse{}, apperr.Conflict(op, "next question is still being generated")
	}
	return model.RepeatResponse{Question: pair.Question}, nil
}

// Session returns a snapshot of the stored session.
func (e *Engine) Session(ctx context.Context, sessionID string) (model.Session, error) {
	return e.repo.Get(ctx, sessionID)
}

// advance binds answer to the open pair, generates the follow-up and
// commits it. A failed generation unbinds the answer so the turn can be
// retried with history intact.
func (e *Engine) advance(ctx context.Context, op, sessionID, answer string) (model.AnswerResponse, error) {
	if e.gen == nil {
		return model.AnswerResponse{}, apperr.Unavailable(op, "question generation is not configured")
	}

	bound, err := e.repo.Update(ctx, sessionID, func(s *model.Session) error {
		if err := checkAnswerable(op, *s); err != nil {
			return err
		}
		pair, _ := s.OpenPair()
		a := answer
		pair.Answer = &a
		s.Status = model.StatusGenerating
		return nil
	})
	if err != nil {
		return model.AnswerResponse{}, err
	}

	turn := len(bound.History)
	text, err := e.generate(ctx, op, followUpPrompt(bound.Summary, bound.History, answer))
	if err != nil {
		e.rollback(ctx, sessionID, turn)
		e.logger.Warn("follow-up generation failed",
			zap.String("session_id", sessionID),
			zap.Int("turn", turn),
			zap.Error(err))
		return model.AnswerResponse{}, err
	}

	done := model.IsTermination(text)
	_, err = e.repo.Update(context.WithoutCancel(ctx), sessionID, func(s *model.Session) error {
		if s.Status != model.StatusGenerating || len(s.History) != turn {
			return apperr.Conflict(op, "session changed while generating")
		}
		if done {
			s.Status = model.StatusTerminated
			s.Closing = text
			return nil
		}
		s.History = append(s.History, model.QAPair{Question: text})
		s.Status = model.StatusAwaitingAnswer
		return nil
	})
	if err != nil {
		return model.AnswerResponse{}, err
	}

	if done {
		e.logger.Info("interview finished", zap.String("session_id", sessionID), zap.Int("turns", turn))
	}
	return model.AnswerResponse{Question: text, Done: done}, nil
}

func (e *Engine) rollback(ctx context.Context, sessionID string, turn int) {
	_, err := e.repo.Update(context.WithoutCancel(ctx), sessionID, func(s *model.Session) error {
		if s.Status != model.StatusGenerating || len(s.History) != turn {
			return nil
		}
		s.History[turn-1].Answer = nil
		s.Status = model.StatusAwaitingAnswer
		return nil
	})
	if err != nil {
		e.logger.Error("rollback failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (e *Engine) generate(ctx context.Context, op, prompt string) (string, error) {
	if e.gen == nil {
		return "", apperr.Unavailable(op, "question generation is not configured")
	}

	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	text, err := e.gen.GenerateText(callCtx, prompt, SystemContext)
	if err != nil {
		return "", upstream(op, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Upstream(op, errEmptyGeneration)
	}
	return text, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.GatewayTimeout)
}

func checkAnswerable(op string, s model.Session) error {
	switch s.Status {
	case model.StatusTerminated:
		return apperr.InvalidState(op, "interview has already ended")
	case model.StatusGenerating:
		return apperr.Conflict(op, "an answer for this turn is already being processed")
	}
	if _, ok := s.OpenPair(); !ok {
		return apperr.Conflict(op, "no open question to answer")
	}
	return nil
}

// upstream keeps typed errors and wraps everything else as UpstreamFailure.
func upstream(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Upstream(op, err)
}
