package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	speechmodel "github.com/zhouzirui/z-interview/backend/internal/model/speech"
)

const (
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	defaultElevenLabsModel   = "eleven_multilingual_v2"
)

// ElevenLabsConfig ElevenLabs 合成参数，APIKey 必填
type ElevenLabsConfig struct {
	APIKey    string
	BaseURL   string
	VoiceID   string
	ModelID   string
	Stability float64
	Clarity   float64
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

// ElevenLabsSynthesizer 调用 ElevenLabs REST 接口，返回 mp3
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

// NewElevenLabsSynthesizer 校验配置并补齐默认值
func NewElevenLabsSynthesizer(cfg ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsSynthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("eleven labs API key is required")
	}
	if cfg.Stability < 0 || cfg.Stability > 1 {
		return nil, fmt.Errorf("stability must be between 0 and 1, got %f", cfg.Stability)
	}
	if cfg.Clarity < 0 || cfg.Clarity > 1 {
		return nil, fmt.Errorf("clarity must be between 0 and 1, got %f", cfg.Clarity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = defaultElevenLabsModel
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Clarity == 0 {
		cfg.Clarity = 0.75
	}

	return &ElevenLabsSynthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}, nil
}

// Synthesize 合成整段文本
func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text, voice string) (speechmodel.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return speechmodel.Audio{}, errors.New("text cannot be empty")
	}
	voiceID := ElevenLabsVoice(voice, e.cfg.VoiceID)

	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.Clarity,
		},
	})
	if err != nil {
		return speechmodel.Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.cfg.BaseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return speechmodel.Audio{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return speechmodel.Audio{}, fmt.Errorf("eleven labs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e.logger.Error("eleven labs returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(detail)))
		return speechmodel.Audio{}, fmt.Errorf("eleven labs status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return speechmodel.Audio{}, fmt.Errorf("read eleven labs audio: %w", err)
	}
	if len(data) == 0 {
		return speechmodel.Audio{}, errors.New("eleven labs returned empty audio")
	}

	e.logger.Debug("eleven labs synthesis finished", zap.String("voice", voiceID), zap.Int("bytes", len(data)))
	return speechmodel.Audio{Data: data, Format: "mp3"}, nil
}
