// Package device implements the capture ports on a Linux desktop: a
// PulseAudio microphone, an ffmpeg webcam recorder and command-line
// playback.
package device

import (
	"errors"
	"os"
	"strings"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
)

// mediaError classifies a failure to open a device. Access refusals become
// MediaPermissionDenied so the caller can prompt and retry; anything else
// is Unavailable.
func mediaError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrPermission) || deniedText(err.Error()) {
		return apperr.PermissionDenied(op, err)
	}
	return &apperr.Error{Kind: apperr.KindUnavailable, Op: op, Msg: "device unavailable", Err: err}
}

func deniedText(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "permission denied") ||
		strings.Contains(s, "access denied") ||
		strings.Contains(s, "not authorized")
}
