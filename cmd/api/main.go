package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/config"
	"github.com/zhouzirui/z-interview/backend/internal/handler"
	"github.com/zhouzirui/z-interview/backend/internal/repository/session"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/speech"
	videostore "github.com/zhouzirui/z-interview/backend/internal/storage/video"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	gen := newGenerator(ctx, cfg.AI, logger)

	speechSvc, err := speech.NewService(ctx, cfg.Speech, logger.Named("speech"))
	if err != nil {
		logger.Warn("speech service unavailable", zap.Error(err))
		speechSvc = speech.NewServiceWith(nil, nil, logger.Named("speech"))
	}
	defer speechSvc.Close()

	repo := session.NewMemory(
		session.WithTTL(cfg.Interview.SessionTTL),
		session.WithLogger(logger.Named("sessions")),
	)
	go repo.RunJanitor(ctx, cfg.Interview.JanitorInterval)

	engine := interview.NewEngine(repo, gen, speechSvc, interview.Config{
		GatewayTimeout: cfg.Interview.GatewayTimeout,
		MaxResumeChars: cfg.Interview.MaxResumeChars,
	}, logger.Named("engine"))

	videos, err := newVideoStore(cfg.Storage, logger.Named("videos"))
	if err != nil {
		logger.Fatal("failed to initialize video store", zap.Error(err))
	}

	router := handler.NewRouter(handler.Deps{
		Engine:              engine,
		Speech:              speechSvc,
		Videos:              videos,
		CORSOrigins:         cfg.Server.CORSOrigins,
		MaxUploadBytes:      cfg.Interview.MaxUploadBytes,
		MaxVideoUploadBytes: cfg.Storage.MaxUploadBytes,
		DefaultVoice:        cfg.Interview.DefaultVoice,
		Logger:              logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newGenerator 按配置选择生成服务；失败时保持未配置，面试接口返回 503
func newGenerator(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) ai.Generator {
	provider := cfg.ResolvedProvider()
	switch provider {
	case config.ProviderArk:
		gen, err := ai.NewArkGenerator(ctx, cfg, logger.Named("ark"))
		if err != nil {
			logger.Warn("failed to initialize ark generator", zap.Error(err))
			return nil
		}
		logger.Info("generation provider ready", zap.String("provider", provider), zap.String("model", cfg.Model))
		return gen
	case config.ProviderGemini:
		gen, err := ai.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger.Named("gemini"))
		if err != nil {
			logger.Warn("failed to initialize gemini generator", zap.Error(err))
			return nil
		}
		logger.Info("generation provider ready", zap.String("provider", provider), zap.String("model", cfg.GeminiModel))
		return gen
	case config.ProviderMock:
		logger.Info("using mock generation provider")
		return ai.NewMockGenerator(0)
	default:
		logger.Warn("no generation provider configured; interview endpoints will answer 503")
		return nil
	}
}

func newVideoStore(cfg config.StorageConfig, logger *zap.Logger) (videostore.Store, error) {
	if cfg.Backend == config.StoreS3 {
		return videostore.NewS3Store(cfg, logger)
	}
	return videostore.NewLocalStore(cfg.Dir, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("z-interview backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
