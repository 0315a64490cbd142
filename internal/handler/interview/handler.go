package interview

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	speechmodel "github.com/zhouzirui/z-interview/backend/internal/model/speech"
	"github.com/zhouzirui/z-interview/backend/internal/resume"
	interviewsvc "github.com/zhouzirui/z-interview/backend/internal/service/interview"
	speechsvc "github.com/zhouzirui/z-interview/backend/internal/service/speech"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// Engine 抽象会话引擎，便于测试与替换实现
type Engine interface {
	Ready() bool
	CreateSession(ctx context.Context, in interviewsvc.CreateSessionInput) (model.CreateSessionResponse, error)
	SubmitAnswer(ctx context.Context, sessionID, answer string) (model.AnswerResponse, error)
	SubmitAudioAnswer(ctx context.Context, sessionID string, audio []byte, filename string) (model.AudioAnswerResponse, error)
	RepeatLast(ctx context.Context, sessionID string) (model.RepeatResponse, error)
	Session(ctx context.Context, sessionID string) (model.Session, error)
}

// Synthesizer 问题朗读所需的合成能力
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (speechmodel.Audio, error)
}

// Options 上传限制与默认音色
type Options struct {
	MaxUploadBytes int64
	DefaultVoice   string
}

// Handler 面试相关的HTTP处理器
type Handler struct {
	engine Engine
	synth  Synthesizer
	opts   Options
	logger *zap.Logger
}

var allowedAudioTypes = map[string]struct{}{
	"audio/webm":  {},
	"audio/ogg":   {},
	"audio/mpeg":  {},
	"audio/mp4":   {},
	"audio/wav":   {},
	"audio/x-wav": {},
	"audio/wave":  {},
}

// New 创建面试处理器；synth 为空时 /tts 返回 503
func New(engine Engine, synth Synthesizer, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = speechsvc.DefaultVoice
	}
	return &Handler{engine: engine, synth: synth, opts: opts, logger: logger}
}

// RegisterRoutes 注册面试路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/interview", func(ir chi.Router) {
		ir.Post("/tts", h.handleSpeech)

		ir.Group(func(gr chi.Router) {
			gr.Use(h.requireEngine)
			gr.Post("/resume", h.handleResume)
			gr.Post("/answer", h.handleAnswer)
			gr.Post("/answer-audio", h.handleAudioAnswer)
			gr.Get("/repeat/{sessionID}", h.handleRepeat)
			gr.Get("/sessions/{sessionID}", h.handleSession)
		})
	})
}

func (h *Handler) requireEngine(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.engine == nil || !h.engine.Ready() {
			utils.RespondAppError(w, apperr.Unavailable("interview", "question generation is not configured"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleResume 上传 PDF 简历并开始面试
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		utils.RespondAppError(w, apperr.InvalidInput("resume", "failed to parse multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("resume")
	if err != nil {
		utils.RespondAppError(w, apperr.InvalidInput("resume", "resume file is required"))
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, resume.PDFContentType) && ct != "application/octet-stream" {
		utils.RespondAppError(w, apperr.InvalidInput("resume", "Only PDF resumes are accepted for now."))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondAppError(w, apperr.InvalidInput("resume", "failed to read resume"))
		return
	}

	text, err := resume.ExtractPDF(data)
	if err != nil {
		h.logger.Info("resume rejected", zap.String("filename", header.Filename), zap.Error(err))
		utils.RespondAppError(w, err)
		return
	}

	resp, err := h.engine.CreateSession(r.Context(), interviewsvc.CreateSessionInput{
		ResumeText:    text,
		ApplicationID: r.FormValue("applicationId"),
	})
	if err != nil {
		h.fail(w, "create session", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req model.AnswerRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	resp, err := h.engine.SubmitAnswer(r.Context(), req.SessionID, req.Answer)
	if err != nil {
		h.fail(w, "submit answer", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAudioAnswer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		utils.RespondAppError(w, apperr.InvalidInput("answer-audio", "failed to parse multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	if sessionID == "" {
		utils.RespondAppError(w, apperr.InvalidInput("answer-audio", "sessionId is required"))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondAppError(w, apperr.InvalidInput("answer-audio", "audio file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if base, _, _ := strings.Cut(contentType, ";"); base != "" {
		if _, ok := allowedAudioTypes[strings.TrimSpace(base)]; !ok {
			utils.RespondAppError(w, apperr.InvalidInput("answer-audio", "Unsupported audio type. Use webm/ogg/mpeg/wav."))
			return
		}
	}

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondAppError(w, apperr.InvalidInput("answer-audio", "failed to read audio"))
		return
	}

	resp, err := h.engine.SubmitAudioAnswer(r.Context(), sessionID, audio, audioFilename(header.Filename, contentType))
	if err != nil {
		h.fail(w, "submit audio answer", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRepeat(w http.ResponseWriter, r *http.Request) {
	resp, err := h.engine.RepeatLast(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, s)
}

// handleSpeech 把问题文本合成为音频
func (h *Handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if h.synth == nil {
		utils.RespondAppError(w, apperr.Unavailable("tts", "speech synthesis is not configured"))
		return
	}

	var req model.SpeechRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondAppError(w, apperr.InvalidInput("tts", "text is required"))
		return
	}
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = h.opts.DefaultVoice
	}

	audio, err := h.synth.Synthesize(r.Context(), req.Text, voice)
	if err != nil {
		h.fail(w, "synthesize", err)
		return
	}

	w.Header().Set("Content-Type", audio.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio.Data); err != nil {
		h.logger.Debug("write audio response", zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput, apperr.KindNotFound, apperr.KindConflict, apperr.KindInvalidState:
		h.logger.Info(action+" rejected", zap.Error(err))
	default:
		h.logger.Error(action+" failed", zap.Error(err))
	}
	utils.RespondAppError(w, err)
}

// audioFilename 保证转写服务能从扩展名推断格式
func audioFilename(name, contentType string) string {
	if speechsvc.AudioExt(name) != "" {
		return name
	}
	if ext := speechsvc.ExtForContentType(contentType); ext != "" {
		return "audio." + ext
	}
	return "audio.webm"
}
