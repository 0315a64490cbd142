package device

import (
	"context"

	"github.com/zhouzirui/z-interview/backend/internal/capture"
)

// Desktop opens the local camera and microphone for the capture controller.
type Desktop struct {
	Camera     CameraOptions
	Microphone MicrophoneOptions
}

func (d Desktop) OpenVideo(ctx context.Context) (capture.VideoInput, error) {
	cam, err := OpenCamera(ctx, d.Camera)
	if err != nil {
		return nil, err
	}
	return cam, nil
}

func (d Desktop) OpenAudio(ctx context.Context) (capture.AudioInput, error) {
	mic, err := OpenMicrophone(ctx, d.Microphone)
	if err != nil {
		return nil, err
	}
	return mic, nil
}
