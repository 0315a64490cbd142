package speech

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	"github.com/zhouzirui/z-interview/backend/internal/config"
	speechmodel "github.com/zhouzirui/z-interview/backend/internal/model/speech"
)

// Transcriber 把一段录音转写为文本，filename 用于推断音频格式
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer 把文本合成为可播放音频
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (speechmodel.Audio, error)
}

// Service 按配置组合识别与合成服务
type Service struct {
	transcriber Transcriber
	synthesizer Synthesizer
	closers     []func() error
	logger      *zap.Logger
}

// NewService 根据配置创建语音服务；缺少凭证的一侧保持未配置状态
func NewService(ctx context.Context, cfg config.SpeechConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{logger: logger}
	volc := VolcengineConfig(cfg)

	if cfg.TranscriptionEnabled() {
		switch cfg.Transcriber {
		case config.SpeechGoogle:
			g, err := NewGoogleTranscriber(ctx, cfg.GoogleLanguage, logger.Named("google-stt"))
			if err != nil {
				return nil, err
			}
			s.transcriber = g
			s.closers = append(s.closers, g.Close)
		default:
			s.transcriber = NewVolcengineASRClient(volc, logger.Named("volc-asr"))
		}
		logger.Info("transcription enabled", zap.String("provider", cfg.Transcriber))
	} else {
		logger.Warn("transcription disabled: credentials missing", zap.String("provider", cfg.Transcriber))
	}

	if cfg.SynthesisEnabled() {
		switch cfg.Synthesizer {
		case config.SpeechElevenLabs:
			e, err := NewElevenLabsSynthesizer(ElevenLabsConfig{
				APIKey:  cfg.ElevenLabsAPIKey,
				BaseURL: cfg.ElevenLabsBaseURL,
				VoiceID: cfg.ElevenLabsVoiceID,
				ModelID: cfg.ElevenLabsModelID,
			}, logger.Named("elevenlabs"))
			if err != nil {
				return nil, err
			}
			s.synthesizer = e
		default:
			s.synthesizer = NewVolcengineTTSClient(volc, logger.Named("volc-tts"))
		}
		logger.Info("synthesis enabled", zap.String("provider", cfg.Synthesizer))
	} else {
		logger.Warn("synthesis disabled: credentials missing", zap.String("provider", cfg.Synthesizer))
	}

	return s, nil
}

// NewServiceWith 直接组合已有实现，主要用于测试
func NewServiceWith(t Transcriber, s Synthesizer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{transcriber: t, synthesizer: s, logger: logger}
}

// VolcengineConfig 提取火山引擎客户端需要的字段
func VolcengineConfig(cfg config.SpeechConfig) *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:          cfg.AppID,
		AccessToken:    cfg.AccessToken,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		ConcurrentMode: cfg.ConcurrentMode,
		ASRModel:       cfg.ASRModel,
		ASRLanguage:    cfg.ASRLanguage,
		TTSVoice:       cfg.TTSVoice,
		TTSSpeed:       cfg.TTSSpeed,
		TTSVolume:      cfg.TTSVolume,
		TTSLanguage:    cfg.TTSLanguage,
		Timeout:        cfg.Timeout,
	}
}

// CanTranscribe 是否配置了识别服务
func (s *Service) CanTranscribe() bool { return s.transcriber != nil }

// CanSynthesize 是否配置了合成服务
func (s *Service) CanSynthesize() bool { return s.synthesizer != nil }

// Transcribe 转写录音；上游失败统一包装为 UpstreamFailure
func (s *Service) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if s.transcriber == nil {
		return "", apperr.Unavailable("speech.Transcribe", "speech transcription is not configured")
	}
	if len(audio) == 0 {
		return "", apperr.InvalidInput("speech.Transcribe", "audio is empty")
	}

	text, err := s.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		s.logger.Error("transcription failed", zap.String("filename", filename), zap.Error(err))
		return "", apperr.Upstream("speech.Transcribe", err)
	}
	return text, nil
}

// Synthesize 合成语音；上游失败统一包装为 UpstreamFailure
func (s *Service) Synthesize(ctx context.Context, text, voice string) (speechmodel.Audio, error) {
	if s.synthesizer == nil {
		return speechmodel.Audio{}, apperr.Unavailable("speech.Synthesize", "speech synthesis is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return speechmodel.Audio{}, apperr.InvalidInput("speech.Synthesize", "text is required")
	}
	if strings.TrimSpace(voice) == "" {
		voice = DefaultVoice
	}

	audio, err := s.synthesizer.Synthesize(ctx, text, voice)
	if err != nil {
		s.logger.Error("synthesis failed", zap.String("voice", voice), zap.Error(err))
		return speechmodel.Audio{}, apperr.Upstream("speech.Synthesize", err)
	}
	return audio, nil
}

// Close 释放底层连接
func (s *Service) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
