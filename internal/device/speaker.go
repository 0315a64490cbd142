package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Synthesizer fetches spoken audio for text, typically the server's /tts.
type Synthesizer interface {
	Speech(ctx context.Context, text string) ([]byte, string, error)
}

// RemoteSpeaker plays server-synthesized audio through ffplay.
type RemoteSpeaker struct {
	Synth  Synthesizer
	Player string
}

// Speak returns once playback has finished.
func (s RemoteSpeaker) Speak(ctx context.Context, text string) error {
	data, _, err := s.Synth.Speech(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize question: %w", err)
	}

	player := s.Player
	if player == "" {
		player = "ffplay"
	}
	cmd := exec.CommandContext(ctx, player, "-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0")
	cmd.Stdin = bytes.NewReader(data)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("play question audio: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// EspeakSpeaker is the on-device voice used when remote synthesis fails.
type EspeakSpeaker struct {
	Binary string
	Voice  string
}

func (s EspeakSpeaker) Speak(ctx context.Context, text string) error {
	bin := s.Binary
	if bin == "" {
		bin = "espeak"
	}
	args := []string{}
	if s.Voice != "" {
		args = append(args, "-v", s.Voice)
	}
	args = append(args, "--", text)

	if out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("espeak: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
