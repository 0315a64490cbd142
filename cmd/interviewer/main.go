package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	"github.com/zhouzirui/z-interview/backend/internal/capture"
	"github.com/zhouzirui/z-interview/backend/internal/capture/fsm"
	"github.com/zhouzirui/z-interview/backend/internal/capture/silence"
	"github.com/zhouzirui/z-interview/backend/internal/client"
	"github.com/zhouzirui/z-interview/backend/internal/config"
	"github.com/zhouzirui/z-interview/backend/internal/device"
)

const (
	maxStartAttempts = 3
	endTimeout       = 3 * time.Minute
)

func main() {
	resumePath := flag.String("resume", "", "path to the candidate's PDF resume")
	applicationID := flag.String("application", "", "optional application id recorded with the session")
	flag.Parse()

	if *resumePath == "" {
		fmt.Fprintln(os.Stderr, "usage: interviewer -resume cv.pdf")
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, cfg.Client, *resumePath, *applicationID, logger)
	if err != nil {
		logger.Error("interview failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "interview failed: %s\n", apperr.MessageOf(err))
		os.Exit(1)
	}
	if res.Reason == capture.ReasonFailed {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	// stdout belongs to the interview itself
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return zcfg.Build()
}

func run(ctx context.Context, cfg config.ClientConfig, resumePath, applicationID string, logger *zap.Logger) (capture.Result, error) {
	api := client.New(cfg.ServerURL, client.Options{
		Timeout: cfg.RequestTimeout,
		Voice:   cfg.Voice,
		Logger:  logger.Named("client"),
	})

	resume, err := os.Open(resumePath)
	if err != nil {
		return capture.Result{}, fmt.Errorf("open resume: %w", err)
	}
	sess, err := api.CreateSession(ctx, filepath.Base(resumePath), resume, applicationID)
	resume.Close()
	if err != nil {
		return capture.Result{}, fmt.Errorf("create session: %w", err)
	}
	if sess.Summary != "" {
		fmt.Printf("Resume summary:\n%s\n\n", sess.Summary)
	}

	ctrl := capture.New(capture.Config{
		SessionID:     sess.SessionID,
		FirstQuestion: sess.Question,
		PlaybackDelay: cfg.PlaybackDelay,
		Silence: silence.Options{
			SilenceThreshold: cfg.SilenceTimeout,
			VolumeThreshold:  cfg.VolumeThreshold,
			PollInterval:     cfg.PollInterval,
		},
		Logger: logger.Named("capture"),
	}, capture.Deps{
		Devices: device.Desktop{
			Camera: device.CameraOptions{
				Device:      cfg.VideoDevice,
				Format:      cfg.VideoFormat,
				AudioSource: cfg.VideoAudioSource,
				Logger:      logger.Named("camera"),
			},
			Microphone: device.MicrophoneOptions{
				Source: cfg.AudioSource,
				Logger: logger.Named("microphone"),
			},
		},
		Speaker:  device.RemoteSpeaker{Synth: api},
		Fallback: device.EspeakSpeaker{},
		API:      api,
		Sink:     newSink(cfg, api, logger),
	})

	ctrl.OnTranscript(func(e capture.Entry) {
		switch e.Role {
		case capture.RoleInterviewer:
			fmt.Printf("\nInterviewer: %s\n", e.Text)
		default:
			fmt.Printf("\nYou: %s\n", e.Text)
		}
	})
	ctrl.OnStatus(func(s fsm.Status) {
		switch s.Phase {
		case fsm.PhaseRecording:
			fmt.Println("Recording... press Enter when you are done, r to see the question again, q to end.")
		case fsm.PhaseTranscribing:
			fmt.Println("Submitting your answer...")
		}
	})

	lines := readLines()
	if err := start(ctx, ctrl, lines); err != nil {
		return capture.Result{}, err
	}

	loop(ctx, ctrl, api, sess.SessionID, lines)

	endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()
	res := ctrl.End(endCtx)
	report(cfg, res, logger)
	return res, nil
}

// start retries device acquisition after a permission refusal so the
// candidate can grant access without losing the session.
func start(ctx context.Context, ctrl *capture.Controller, lines <-chan string) error {
	for attempt := 1; ; attempt++ {
		err := ctrl.Start(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrMediaPermissionDenied) || attempt == maxStartAttempts {
			return err
		}
		fmt.Printf("Camera or microphone access was refused (%s).\nGrant access and press Enter to try again.\n", apperr.MessageOf(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-lines:
			if !ok {
				return err
			}
		}
	}
}

func loop(ctx context.Context, ctrl *capture.Controller, api *client.Client, sessionID string, lines <-chan string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastShown := -1

	for {
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Done():
			return
		case <-ticker.C:
			left, ok := ctrl.Countdown()
			if !ok {
				lastShown = -1
				continue
			}
			if left != lastShown && left <= 5 {
				fmt.Printf("Skipping in %ds if you stay silent\n", left)
			}
			lastShown = left
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				ctrl.StopRecording()
			case "r":
				q, err := api.RepeatLast(ctx, sessionID)
				if err != nil {
					fmt.Printf("Could not fetch the question: %s\n", apperr.MessageOf(err))
					continue
				}
				fmt.Printf("Current question: %s\n", q)
			case "q":
				return
			}
		}
	}
}

func readLines() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

func newSink(cfg config.ClientConfig, api *client.Client, logger *zap.Logger) capture.ArtifactSink {
	local := device.LocalSink{Dir: cfg.OutputDir}
	if !cfg.UploadVideo {
		return local
	}
	return uploadOrKeep{upload: client.VideoUploader{Client: api}, local: local, logger: logger}
}

// uploadOrKeep keeps the video locally when the upload fails.
type uploadOrKeep struct {
	upload capture.ArtifactSink
	local  capture.ArtifactSink
	logger *zap.Logger
}

func (s uploadOrKeep) Save(ctx context.Context, sessionID string, clip capture.Clip) (string, error) {
	location, err := s.upload.Save(ctx, sessionID, clip)
	if err == nil {
		if clip.Path != "" {
			_ = os.Remove(clip.Path)
		}
		return location, nil
	}
	s.logger.Warn("video upload failed, keeping it locally", zap.Error(err))
	return s.local.Save(ctx, sessionID, clip)
}

func report(cfg config.ClientConfig, res capture.Result, logger *zap.Logger) {
	fmt.Printf("\nInterview %s (%s).\n", res.SessionID, res.Reason)
	if res.Err != nil {
		fmt.Printf("Stopped because: %s\n", apperr.MessageOf(res.Err))
	}
	switch {
	case res.Artifact != "":
		fmt.Printf("Video: %s\n", res.Artifact)
	case res.ArtifactErr != nil:
		fmt.Printf("Video was not saved: %v\n", res.ArtifactErr)
	}

	path, err := writeTranscript(cfg.OutputDir, res)
	if err != nil {
		logger.Error("failed to write transcript", zap.Error(err))
		return
	}
	fmt.Printf("Transcript: %s\n", path)
}

func writeTranscript(dir string, res capture.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	path := filepath.Join(dir, "interview-"+res.SessionID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}
