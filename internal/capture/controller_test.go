package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	"github.com/zhouzirui/z-interview/backend/internal/capture/fsm"
	"github.com/zhouzirui/z-interview/backend/internal/capture/silence"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

const waitFor = 3 * time.Second

type fakeRecorder struct {
	clip    Clip
	started atomic.Int32
	stopped atomic.Int32
}

func (r *fakeRecorder) Start(context.Context) error {
	r.started.Add(1)
	return nil
}

func (r *fakeRecorder) Stop(context.Context) (Clip, error) {
	r.stopped.Add(1)
	return r.clip, nil
}

type fakeAudio struct {
	level  atomic.Int32
	closed atomic.Int32

	mu        sync.Mutex
	recorders []*fakeRecorder
}

func (a *fakeAudio) Sample(buf []byte) int {
	v := byte(128 + a.level.Load())
	for i := range buf {
		buf[i] = v
	}
	return len(buf)
}

func (a *fakeAudio) NewRecorder() (Recorder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := &fakeRecorder{clip: Clip{Filename: "answer.wav", ContentType: "audio/wav", Data: []byte("pcm")}}
	a.recorders = append(a.recorders, r)
	return r, nil
}

func (a *fakeAudio) Close() error {
	a.closed.Add(1)
	return nil
}

func (a *fakeAudio) recorderCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recorders)
}

type fakeVideo struct {
	rec    *fakeRecorder
	closed atomic.Int32
}

func (v *fakeVideo) NewRecorder() (Recorder, error) { return v.rec, nil }

func (v *fakeVideo) Close() error {
	v.closed.Add(1)
	return nil
}

type fakeDevices struct {
	mu       sync.Mutex
	audioErr error
	level    int32
	videos   []*fakeVideo
	audios   []*fakeAudio
}

func (d *fakeDevices) OpenVideo(context.Context) (VideoInput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := &fakeVideo{rec: &fakeRecorder{clip: Clip{Filename: "session.webm", ContentType: "video/webm", Data: []byte("webm")}}}
	d.videos = append(d.videos, v)
	return v, nil
}

func (d *fakeDevices) OpenAudio(context.Context) (AudioInput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.audioErr != nil {
		return nil, d.audioErr
	}
	a := &fakeAudio{}
	a.level.Store(d.level)
	d.audios = append(d.audios, a)
	return a, nil
}

func (d *fakeDevices) lastAudio() *fakeAudio {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audios[len(d.audios)-1]
}

func (d *fakeDevices) lastVideo() *fakeVideo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.videos[len(d.videos)-1]
}

type fakeAPI struct {
	mu         sync.Mutex
	replies    []string
	audioErrs  []error
	audioCalls int
	texts      []string
	accepted   int
	block      bool
}

func (a *fakeAPI) next() string {
	if len(a.replies) == 0 {
		return model.TerminationSentinel
	}
	q := a.replies[0]
	a.replies = a.replies[1:]
	return q
}

func (a *fakeAPI) SubmitAudioAnswer(ctx context.Context, _ string, clip Clip) (model.AudioAnswerResponse, error) {
	a.mu.Lock()
	a.audioCalls++
	block := a.block
	var err error
	if len(a.audioErrs) > 0 {
		err, a.audioErrs = a.audioErrs[0], a.audioErrs[1:]
	}
	a.mu.Unlock()

	if block {
		<-ctx.Done()
		return model.AudioAnswerResponse{Question: "late question", Transcript: "late"}, nil
	}
	if err != nil {
		return model.AudioAnswerResponse{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepted++
	q := a.next()
	return model.AudioAnswerResponse{Question: q, Done: model.IsTermination(q), Transcript: "answer " + string(clip.Data)}, nil
}

func (a *fakeAPI) SubmitTextAnswer(_ context.Context, _ string, answer string) (model.AnswerResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, answer)
	a.accepted++
	q := a.next()
	return model.AnswerResponse{Question: q, Done: model.IsTermination(q)}, nil
}

func (a *fakeAPI) snapshot() (audioCalls, accepted int, texts []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audioCalls, a.accepted, append([]string(nil), a.texts...)
}

type fakeSink struct {
	mu    sync.Mutex
	saved []Clip
}

func (s *fakeSink) Save(_ context.Context, sessionID string, clip Clip) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, clip)
	return "saved:" + sessionID, nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type env struct {
	devices  *fakeDevices
	api      *fakeAPI
	sink     *fakeSink
	spoken   chan string
	fallback chan string
}

func newTestController(t *testing.T, api *fakeAPI, speakErr error, opts silence.Options) (*Controller, *env) {
	t.Helper()
	e := &env{
		devices:  &fakeDevices{level: 50},
		api:      api,
		sink:     &fakeSink{},
		spoken:   make(chan string, 32),
		fallback: make(chan string, 32),
	}
	c := New(Config{
		SessionID:     "sess-1",
		FirstQuestion: "Q1",
		PlaybackDelay: time.Millisecond,
		Silence:       opts,
	}, Deps{
		Devices: e.devices,
		Speaker: SpeakerFunc(func(_ context.Context, text string) error {
			e.spoken <- text
			return speakErr
		}),
		Fallback: SpeakerFunc(func(_ context.Context, text string) error {
			e.fallback <- text
			return nil
		}),
		API:  api,
		Sink: e.sink,
	})
	return c, e
}

func waitPhase(t *testing.T, c *Controller, phase fsm.Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status().Phase == phase }, waitFor, 2*time.Millisecond)
}

func waitDone(t *testing.T, c *Controller) Result {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatalf("controller did not complete, status %s", c.Status())
	}
	return c.Result()
}

func texts(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

func TestInterviewRunsToCompletion(t *testing.T) {
	api := &fakeAPI{replies: []string{"Q2", "End of interview."}}
	c, e := newTestController(t, api, nil, silence.Options{})

	require.NoError(t, c.Start(context.Background()))
	waitPhase(t, c, fsm.PhaseRecording)

	left, ok := c.Countdown()
	require.True(t, ok)
	require.Equal(t, 10, left)

	c.StopRecording()
	require.Eventually(t, func() bool {
		_, accepted, _ := api.snapshot()
		return accepted == 1 && c.Status().Phase == fsm.PhaseRecording
	}, waitFor, 2*time.Millisecond)
	c.StopRecording()

	res := waitDone(t, c)
	require.Equal(t, ReasonCompleted, res.Reason)
	require.NoError(t, res.Err)
	require.Equal(t, "saved:sess-1", res.Artifact)
	require.Equal(t, []string{"Q1", "answer pcm", "Q2", "answer pcm", "End of interview."}, texts(res.Transcript))
	require.Equal(t, fsm.Status{State: fsm.StateCompleted}, c.Status())

	require.Equal(t, 1, e.sink.count())
	require.Equal(t, int32(1), e.devices.lastAudio().closed.Load())
	require.Equal(t, int32(1), e.devices.lastVideo().closed.Load())
	require.Equal(t, "Q1", <-e.spoken)
	require.Equal(t, "Q2", <-e.spoken)

	_, ok = c.Countdown()
	require.False(t, ok)
}

func TestEndTwiceFinalizesOnce(t *testing.T) {
	c, e := newTestController(t, &fakeAPI{}, nil, silence.Options{})

	require.NoError(t, c.Start(context.Background()))
	waitPhase(t, c, fsm.PhaseRecording)

	first := c.End(context.Background())
	second := c.End(context.Background())

	require.Equal(t, ReasonEnded, first.Reason)
	require.Equal(t, first.Reason, second.Reason)
	require.Equal(t, first.Artifact, second.Artifact)
	require.Equal(t, 1, e.sink.count())
	require.Equal(t, int32(1), e.devices.lastVideo().rec.stopped.Load())
	require.Equal(t, int32(1), e.devices.lastAudio().closed.Load())
	require.Equal(t, int32(1), e.devices.lastVideo().closed.Load())

	audio := e.devices.lastAudio()
	require.Equal(t, 1, audio.recorderCount())
	require.Equal(t, int32(1), audio.recorders[0].stopped.Load())
	require.Equal(t, fsm.StateCompleted, c.Status().State)
}

func TestSingleFailureRetriesOnce(t *testing.T) {
	api := &fakeAPI{audioErrs: []error{errors.New("upload reset")}}
	c, e := newTestController(t, api, nil, silence.Options{})

	require.NoError(t, c.Start(context.Background()))
	waitPhase(t, c, fsm.PhaseRecording)
	c.StopRecording()

	audio := e.devices.lastAudio()
	require.Eventually(t, func() bool {
		return audio.recorderCount() == 2 && c.Status().Phase == fsm.PhaseRecording
	}, waitFor, 2*time.Millisecond)
	c.StopRecording()

	res := waitDone(t, c)
	calls, accepted, _ := api.snapshot()
	require.Equal(t, 2, calls)
	require.Equal(t, 1, accepted)
	require.Equal(t, ReasonCompleted, res.Reason)

	candidate := 0
	for _, entry := range res.Transcript {
		if entry.Role == RoleCandidate {
			candidate++
		}
	}
	require.Equal(t, 1, candidate)
}

func TestSecondFailureEndsInterview(t *testing.T) {
	api := &fakeAPI{audioErrs: []error{
		errors.New("first"),
		apperr.Upstream("client.SubmitAudioAnswer", errors.New("second")),
	}}
	c, e := newTestController(t, api, nil, silence.Options{})

	require.NoError(t, c.Start(context.Background()))
	waitPhase(t, c, fsm.PhaseRecording)
	c.StopRecording()

	audio := e.devices.lastAudio()
	require.Eventually(t, func() bool {
		return audio.recorderCount() == 2 && c.Status().Phase == fsm.PhaseRecording
	}, waitFor, 2*time.Millisecond)
	c.StopRecording()

	res := waitDone(t, c)
	require.Equal(t, ReasonFailed, res.Reason)
	require.ErrorIs(t, res.Err, apperr.ErrRecordingRetry)
	require.ErrorIs(t, res.Err, apperr.ErrUpstreamFailure)
	require.Contains(t, res.Err.Error(), "second")
	require.Equal(t, 1, e.sink.count())
	require.Equal(t, int32(1), audio.closed.Load())
}

func TestUnrecoverableSubmissionEndsWithoutRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperr.Kind
	}{
		{"session gone", apperr.NotFound("interview.SubmitAudioAnswer", "session not found"), apperr.KindNotFound},
		{"session ended", apperr.InvalidState("interview.SubmitAudioAnswer", "interview already ended"), apperr.KindInvalidState},
		{"answer in flight", apperr.Conflict("interview.SubmitAudioAnswer", "answer already in progress"), apperr.KindConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{audioErrs: []error{tc.err, tc.err}}
			c, e := newTestController(t, api, nil, silence.Options{})

			require.NoError(t, c.Start(context.Background()))
			waitPhase(t, c, fsm.PhaseRecording)
			c.StopRecording()

			res := waitDone(t, c)
			calls, accepted, _ := api.snapshot()
			require.Equal(t, 1, calls)
			require.Zero(t, accepted)
			require.Equal(t, ReasonFailed, res.Reason)
			require.Equal(t, tc.kind, apperr.KindOf(res.Err))
			require.NotErrorIs(t, res.Err, apperr.ErrRecordingRetry)
			require.Equal(t, 1, e.devices.lastAudio().recorderCount())
			require.Equal(t, 1, e.sink.count())
		})
	}
}

func TestBlankTranscriptRecordsAgain(t *testing.T) {
	api := &fakeAPI{audioErrs: []error{apperr.InvalidInput("interview.SubmitAudioAnswer", "no speech detected in audio")}}
	c, e := newTestController(t, api, nil, silence.Options{})

	require.NoError(t, c.Start(context.Background()))
	waitPhase(t, c, fsm.PhaseRecording)
	c.StopRecording()

	audio := e.devices.lastAudio()
	require.Eventually(t, func() bool {
		return audio.recorderCount() == 2 && c.Status().Phase == fsm.PhaseRecording
	}, waitFor, 2*time.Millisecond)
	c.StopRecording()

	res := waitDone(t, c)
	require.Equal(t, ReasonCompleted, res.Reason)
	calls, accepted, _ := api.snapshot()
	require.Equal(t, 2, calls)
	require.Equal(t, 1, accepted)
}

func TestSilenceSkipsQuestion(t *testing.T) {
	api := &fakeAPI{replies: []string{"Q2", "End of interview."}}
	c, e := newTestController(t, api, nil, silence.Options{
		SilenceThreshold: 40 * time.Millisecond,
		PollInterval:     2 * time.Millisecond,
	})
	e.devices.level = 0

	require.NoError(t, c.Start(context.Background()))
	res := waitDone(t, c)

	calls, _, sent := api.snapshot()
	require.Zero(t, calls)
	require.Equal(t, []string{model.SkipAnswer, model.SkipAnswer}, sent)
	require.Equal(t, ReasonCompleted, res.Reason)

	var skipped []Entry
	for _, entry := range res.Transcript {
		if entry.Skipped {
			skipped = append(skipped, entry)
		}
	}
	require.Len(t, skipped, 2)
	require.Equal(t, SkipLabel, skipped[0].Text)
}

func TestPermissionDeniedStaysInSetup(t *testing.T) {
	c, e := newTestController(t, &fakeAPI{}, nil, silence.Options{})
	e.devices.audioErr = apperr.PermissionDenied("open microphone", errors.New("access refused"))

	err := c.Start(context.Background())
	require.ErrorIs(t, err, apperr.ErrMediaPermissionDenied)
	require.Equal(t, fsm.Initial, c.Status())
	require.Equal(t, int32(1), e.devices.lastVideo().closed.Load())

	e.devices.mu.Lock()
	e.devices.audioErr = nil
	e.devices.mu.Unlock()

	require.NoError(t, c.Start(context.Background()))
	waitPhase(t, c, fsm.PhaseRecording)
	c.End(context.Background())
	require.Equal(t, int32(1), e.devices.lastVideo().closed.Load())
	require.Len(t, e.devices.videos, 2)
}

func TestFallbackSpeakerBeforeRecording(t *testing.T) {
	c, e := newTestController(t, &fakeAPI{}, errors.New("tts unavailable"), silence.Options{})

	require.NoError(t, c.Start(context.Background()))
	waitPhase(t, c, fsm.PhaseRecording)
	require.Equal(t, "Q1", <-e.fallback)

	c.End(context.Background())
}

func TestLateResponseAfterEndIsDropped(t *testing.T) {
	api := &fakeAPI{block: true}
	c, _ := newTestController(t, api, nil, silence.Options{})

	require.NoError(t, c.Start(context.Background()))
	waitPhase(t, c, fsm.PhaseRecording)
	c.StopRecording()
	require.Eventually(t, func() bool {
		calls, _, _ := api.snapshot()
		return calls == 1
	}, waitFor, 2*time.Millisecond)

	res := c.End(context.Background())
	require.Equal(t, ReasonEnded, res.Reason)
	require.Equal(t, []string{"Q1"}, texts(res.Transcript))
	require.Equal(t, []string{"Q1"}, texts(c.Transcript()))
}

func TestContextCancelTearsDown(t *testing.T) {
	c, e := newTestController(t, &fakeAPI{}, nil, silence.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, c.Start(ctx))
	waitPhase(t, c, fsm.PhaseRecording)
	cancel()

	res := waitDone(t, c)
	require.Equal(t, ReasonCancelled, res.Reason)
	require.Equal(t, 1, e.sink.count())
	require.Equal(t, "saved:sess-1", res.Artifact)

	again := c.End(context.Background())
	require.Equal(t, ReasonCancelled, again.Reason)
	require.Equal(t, 1, e.sink.count())
}

func TestEndBeforeStart(t *testing.T) {
	c, e := newTestController(t, &fakeAPI{}, nil, silence.Options{})

	res := c.End(context.Background())
	require.Equal(t, ReasonEnded, res.Reason)
	require.Equal(t, fsm.StateCompleted, c.Status().State)
	require.Empty(t, e.devices.videos)

	err := c.Start(context.Background())
	require.ErrorIs(t, err, apperr.ErrInvalidState)
}
