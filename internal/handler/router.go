package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/handler/interview"
	"github.com/zhouzirui/z-interview/backend/internal/handler/video"
	middlewarePkg "github.com/zhouzirui/z-interview/backend/internal/middleware"
	videostore "github.com/zhouzirui/z-interview/backend/internal/storage/video"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// SpeechCapabilities is the part of the speech service the router needs.
type SpeechCapabilities interface {
	interview.Synthesizer
	CanTranscribe() bool
	CanSynthesize() bool
}

// Deps are the collaborators wired into the HTTP surface.
type Deps struct {
	Engine      interview.Engine
	Speech      SpeechCapabilities
	Videos      videostore.Store
	CORSOrigins []string

	MaxUploadBytes      int64
	MaxVideoUploadBytes int64
	DefaultVoice        string

	Logger *zap.Logger
}

// HealthStatus reports which gateways are configured.
type HealthStatus struct {
	Status        string `json:"status"`
	Generation    bool   `json:"generation"`
	Transcription bool   `json:"transcription"`
	Synthesis     bool   `json:"synthesis"`
	VideoStore    string `json:"videoStore,omitempty"`
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, health(deps))
	})

	// a nil interface holding a nil pointer would still look configured
	var synth interview.Synthesizer
	if deps.Speech != nil && deps.Speech.CanSynthesize() {
		synth = deps.Speech
	}

	interviewHandler := interview.New(deps.Engine, synth, interview.Options{
		MaxUploadBytes: deps.MaxUploadBytes,
		DefaultVoice:   deps.DefaultVoice,
	}, logger.Named("interview"))

	r.Route("/api", func(api chi.Router) {
		interviewHandler.RegisterRoutes(api)

		if deps.Videos != nil {
			video.New(deps.Videos, deps.MaxVideoUploadBytes, logger.Named("video")).RegisterRoutes(api)
		}
	})

	return r
}

func health(deps Deps) HealthStatus {
	st := HealthStatus{Status: "ok"}
	if deps.Engine != nil {
		st.Generation = deps.Engine.Ready()
	}
	if deps.Speech != nil {
		st.Transcription = deps.Speech.CanTranscribe()
		st.Synthesis = deps.Speech.CanSynthesize()
	}
	if deps.Videos != nil {
		st.VideoStore = deps.Videos.Name()
	}
	if !st.Generation {
		st.Status = "degraded"
	}
	return st
}
