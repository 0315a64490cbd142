package speech

import (
	"context"
	"fmt"
	"strings"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
)

// GoogleTranscriber 基于 Google Cloud Speech-to-Text 的同步识别
type GoogleTranscriber struct {
	client   *gspeech.Client
	language string
	logger   *zap.Logger
}

// NewGoogleTranscriber 使用 Application Default Credentials 创建客户端
func NewGoogleTranscriber(ctx context.Context, language string, logger *zap.Logger) (*GoogleTranscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(language) == "" {
		language = "en-US"
	}

	client, err := gspeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleTranscriber{client: client, language: language, logger: logger}, nil
}

// Transcribe 识别整段录音，多个结果片段按顺序拼接
func (g *GoogleTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	encoding, rate, err := googleEncoding(filename)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            rate,
			LanguageCode:               g.language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google recognize: %w", err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		if alts := result.GetAlternatives(); len(alts) > 0 {
			if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	text := strings.Join(parts, " ")
	g.logger.Debug("google transcription finished", zap.Int("results", len(parts)), zap.Int("bytes", len(audio)))
	return text, nil
}

// Close 释放 gRPC 连接
func (g *GoogleTranscriber) Close() error {
	return g.client.Close()
}

// googleEncoding 返回编码与采样率；wav 的采样率由服务端从文件头读取
func googleEncoding(filename string) (speechpb.RecognitionConfig_AudioEncoding, int32, error) {
	switch ext := AudioExt(filename); ext {
	case "wav", "":
		return speechpb.RecognitionConfig_LINEAR16, 0, nil
	case "flac":
		return speechpb.RecognitionConfig_FLAC, 0, nil
	case "webm":
		return speechpb.RecognitionConfig_WEBM_OPUS, 48000, nil
	case "ogg":
		return speechpb.RecognitionConfig_OGG_OPUS, 48000, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, 0, fmt.Errorf("google speech does not accept %s audio", ext)
	}
}
