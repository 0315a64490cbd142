package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	speechmodel "github.com/zhouzirui/z-interview/backend/internal/model/speech"
)

type transcriberFunc func(ctx context.Context, audio []byte, filename string) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return f(ctx, audio, filename)
}

type synthesizerFunc func(ctx context.Context, text, voice string) (speechmodel.Audio, error)

func (f synthesizerFunc) Synthesize(ctx context.Context, text, voice string) (speechmodel.Audio, error) {
	return f(ctx, text, voice)
}

func TestServiceUnconfigured(t *testing.T) {
	svc := NewServiceWith(nil, nil, nil)
	require.False(t, svc.CanTranscribe())
	require.False(t, svc.CanSynthesize())

	_, err := svc.Transcribe(context.Background(), []byte{1}, "a.wav")
	require.ErrorIs(t, err, apperr.ErrUnavailable)

	_, err = svc.Synthesize(context.Background(), "hi", "nova")
	require.ErrorIs(t, err, apperr.ErrUnavailable)
}

func TestServiceWrapsUpstreamErrors(t *testing.T) {
	svc := NewServiceWith(
		transcriberFunc(func(context.Context, []byte, string) (string, error) { return "", errors.New("socket closed") }),
		synthesizerFunc(func(context.Context, string, string) (speechmodel.Audio, error) {
			return speechmodel.Audio{}, errors.New("quota")
		}),
		nil,
	)

	_, err := svc.Transcribe(context.Background(), []byte{1}, "a.wav")
	require.ErrorIs(t, err, apperr.ErrUpstreamFailure)

	_, err = svc.Synthesize(context.Background(), "hi", "nova")
	require.ErrorIs(t, err, apperr.ErrUpstreamFailure)
}

func TestServiceValidatesInput(t *testing.T) {
	var gotVoice, gotText string
	svc := NewServiceWith(
		transcriberFunc(func(_ context.Context, _ []byte, _ string) (string, error) { return "  padded answer \n", nil }),
		synthesizerFunc(func(_ context.Context, text, voice string) (speechmodel.Audio, error) {
			gotText, gotVoice = text, voice
			return speechmodel.Audio{Data: []byte("x"), Format: "mp3"}, nil
		}),
		nil,
	)

	_, err := svc.Transcribe(context.Background(), nil, "a.wav")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	text, err := svc.Transcribe(context.Background(), []byte{1}, "a.wav")
	require.NoError(t, err)
	require.Equal(t, "  padded answer \n", text)

	_, err = svc.Synthesize(context.Background(), " ", "")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Synthesize(context.Background(), "Why Go?", "")
	require.NoError(t, err)
	require.Equal(t, "Why Go?", gotText)
	require.Equal(t, DefaultVoice, gotVoice)
}

func TestGoogleEncoding(t *testing.T) {
	cases := []struct {
		filename string
		encoding speechpb.RecognitionConfig_AudioEncoding
		rate     int32
	}{
		{"answer.wav", speechpb.RecognitionConfig_LINEAR16, 0},
		{"answer.webm", speechpb.RecognitionConfig_WEBM_OPUS, 48000},
		{"answer.ogg", speechpb.RecognitionConfig_OGG_OPUS, 48000},
		{"answer.flac", speechpb.RecognitionConfig_FLAC, 0},
	}
	for _, tc := range cases {
		encoding, rate, err := googleEncoding(tc.filename)
		require.NoError(t, err, tc.filename)
		require.Equal(t, tc.encoding, encoding, tc.filename)
		require.Equal(t, tc.rate, rate, tc.filename)
	}

	_, _, err := googleEncoding("answer.m4a")
	require.Error(t, err)
}

func TestAudioExt(t *testing.T) {
	require.Equal(t, "wav", AudioExt("clip.WAV"))
	require.Equal(t, "ogg", AudioExt("clip.opus"))
	require.Equal(t, "", AudioExt("clip"))
	require.Equal(t, "webm", ExtForContentType("audio/webm;codecs=opus"))
	require.Equal(t, "", ExtForContentType("video/mp4"))
}

func TestElevenLabsSynthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/text-to-speech/pNInz6obpgDQGcFmaJgB", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("xi-api-key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req elevenLabsRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "Walk me through your last project.", req.Text)
		require.Equal(t, defaultElevenLabsModel, req.ModelID)
		require.InDelta(t, 0.5, req.VoiceSettings.Stability, 1e-9)
		require.InDelta(t, 0.75, req.VoiceSettings.SimilarityBoost, 1e-9)

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3"))
	}))
	defer server.Close()

	synth, err := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "secret", BaseURL: server.URL + "/"}, nil)
	require.NoError(t, err)

	audio, err := synth.Synthesize(context.Background(), "Walk me through your last project.", "onyx")
	require.NoError(t, err)
	require.Equal(t, "ID3mp3", string(audio.Data))
	require.Equal(t, "mp3", audio.Format)
}

func TestElevenLabsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	synth, err := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "bad", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = synth.Synthesize(context.Background(), "hello", "")
	require.ErrorContains(t, err, "401")
}

func TestElevenLabsConfigValidation(t *testing.T) {
	_, err := NewElevenLabsSynthesizer(ElevenLabsConfig{}, nil)
	require.Error(t, err)

	_, err = NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "k", Stability: 2}, nil)
	require.Error(t, err)
}

func TestElevenLabsVoice(t *testing.T) {
	require.Equal(t, "21m00Tcm4TlvDq8ikWAM", ElevenLabsVoice("nova", ""))
	require.Equal(t, "custom-id", ElevenLabsVoice("custom-id", "fallback"))
	require.Equal(t, "fallback", ElevenLabsVoice("", "fallback"))
	require.Equal(t, defaultElevenLabsVoice, ElevenLabsVoice("", ""))
	require.True(t, IsVoiceAlias("Shimmer"))
	require.Equal(t, "raw_voice", VolcengineVoice("raw_voice"))
}
