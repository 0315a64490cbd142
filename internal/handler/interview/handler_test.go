package interview

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	speechmodel "github.com/zhouzirui/z-interview/backend/internal/model/speech"
	interviewsvc "github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

type fakeEngine struct {
	ready bool

	answers     []string
	audioCalls  []string
	audioBytes  []byte
	submitErr   error
	repeatReply string
}

func (f *fakeEngine) Ready() bool { return f.ready }

func (f *fakeEngine) CreateSession(context.Context, interviewsvc.CreateSessionInput) (model.CreateSessionResponse, error) {
	return model.CreateSessionResponse{SessionID: "s-1", Summary: "sum", Question: "Q1"}, nil
}

func (f *fakeEngine) SubmitAnswer(_ context.Context, id, answer string) (model.AnswerResponse, error) {
	if f.submitErr != nil {
		return model.AnswerResponse{}, f.submitErr
	}
	f.answers = append(f.answers, id+":"+answer)
	return model.AnswerResponse{Question: "next"}, nil
}

func (f *fakeEngine) SubmitAudioAnswer(_ context.Context, id string, audio []byte, filename string) (model.AudioAnswerResponse, error) {
	f.audioCalls = append(f.audioCalls, id+":"+filename)
	f.audioBytes = audio
	return model.AudioAnswerResponse{Question: "next", Transcript: "spoken"}, nil
}

func (f *fakeEngine) RepeatLast(_ context.Context, id string) (model.RepeatResponse, error) {
	if id != "s-1" {
		return model.RepeatResponse{}, apperr.NotFound("repeat", "session %s not found", id)
	}
	return model.RepeatResponse{Question: f.repeatReply}, nil
}

func (f *fakeEngine) Session(_ context.Context, id string) (model.Session, error) {
	return model.Session{ID: id, Status: model.StatusAwaitingAnswer}, nil
}

type synthFunc func(ctx context.Context, text, voice string) (speechmodel.Audio, error)

func (f synthFunc) Synthesize(ctx context.Context, text, voice string) (speechmodel.Audio, error) {
	return f(ctx, text, voice)
}

func newTestRouter(engine Engine, synth Synthesizer) http.Handler {
	r := chi.NewRouter()
	New(engine, synth, Options{MaxUploadBytes: 1 << 20}, nil).RegisterRoutes(r)
	return r
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) utils.ErrorBody {
	t.Helper()
	var body utils.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestAnswerRoundTrip(t *testing.T) {
	engine := &fakeEngine{ready: true}
	router := newTestRouter(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/interview/answer", strings.NewReader(`{"sessionId":"s-1","answer":"Go"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp model.AnswerResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "next", resp.Question)
	require.Equal(t, []string{"s-1:Go"}, engine.answers)
}

func TestAnswerMapsEngineErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.NotFound("answer", "missing"), http.StatusNotFound},
		{apperr.Conflict("answer", "busy"), http.StatusConflict},
		{apperr.InvalidState("answer", "over"), http.StatusConflict},
		{apperr.Upstream("answer", context.DeadlineExceeded), http.StatusBadGateway},
	}
	for _, tc := range cases {
		router := newTestRouter(&fakeEngine{ready: true, submitErr: tc.err}, nil)
		req := httptest.NewRequest(http.MethodPost, "/interview/answer", strings.NewReader(`{"sessionId":"s-1","answer":"x"}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		require.Equal(t, string(apperr.KindOf(tc.err)), decodeError(t, rr).Code)
	}
}

func TestEngineNotReady(t *testing.T) {
	router := newTestRouter(&fakeEngine{ready: false}, nil)

	req := httptest.NewRequest(http.MethodPost, "/interview/answer", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestAudioAnswer(t *testing.T) {
	engine := &fakeEngine{ready: true}
	router := newTestRouter(engine, nil)

	body, ct := multipartBody(t, map[string]string{"sessionId": "s-1"}, "audio", "blob", "audio/webm;codecs=opus", []byte("opus"))
	req := httptest.NewRequest(http.MethodPost, "/interview/answer-audio", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, []string{"s-1:audio.webm"}, engine.audioCalls)
	require.Equal(t, []byte("opus"), engine.audioBytes)

	var resp model.AudioAnswerResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "spoken", resp.Transcript)
}

func TestAudioAnswerValidation(t *testing.T) {
	engine := &fakeEngine{ready: true}
	router := newTestRouter(engine, nil)

	body, ct := multipartBody(t, nil, "audio", "a.webm", "audio/webm", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/interview/answer-audio", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body, ct = multipartBody(t, map[string]string{"sessionId": "s-1"}, "audio", "a.txt", "text/plain", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/interview/answer-audio", body)
	req.Header.Set("Content-Type", ct)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.Empty(t, engine.audioCalls)
}

func TestResumeRejectsNonPDF(t *testing.T) {
	router := newTestRouter(&fakeEngine{ready: true}, nil)

	body, ct := multipartBody(t, nil, "resume", "cv.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("PK"))
	req := httptest.NewRequest(http.MethodPost, "/interview/resume", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Only PDF resumes are accepted for now.", decodeError(t, rr).Error)
}

func TestRepeat(t *testing.T) {
	router := newTestRouter(&fakeEngine{ready: true, repeatReply: "Q2"}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/interview/repeat/s-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"question":"Q2"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/interview/repeat/other", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSpeech(t *testing.T) {
	var gotVoice string
	synth := synthFunc(func(_ context.Context, text, voice string) (speechmodel.Audio, error) {
		gotVoice = voice
		return speechmodel.Audio{Data: []byte("mp3:" + text), Format: "mp3"}, nil
	})
	// synthesis stays reachable while generation is down
	router := newTestRouter(&fakeEngine{ready: false}, synth)

	req := httptest.NewRequest(http.MethodPost, "/interview/tts", strings.NewReader(`{"text":"Q1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "audio/mpeg", rr.Header().Get("Content-Type"))
	require.Equal(t, "mp3:Q1", rr.Body.String())
	require.Equal(t, "nova", gotVoice)
}

func TestSpeechUnavailable(t *testing.T) {
	router := newTestRouter(&fakeEngine{ready: true}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/interview/tts", strings.NewReader(`{"text":"hi"}`)))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAudioFilename(t *testing.T) {
	require.Equal(t, "answer.ogg", audioFilename("answer.ogg", "audio/ogg"))
	require.Equal(t, "audio.mp3", audioFilename("blob", "audio/mpeg"))
	require.Equal(t, "audio.webm", audioFilename("", ""))
}
