package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/repository/session"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
	interviewsvc "github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/speech"
	videostore "github.com/zhouzirui/z-interview/backend/internal/storage/video"
)

func TestHealthReportsCapabilities(t *testing.T) {
	store, err := videostore.NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)

	engine := interviewsvc.NewEngine(session.NewMemory(), ai.NewMockGenerator(2), nil, interviewsvc.Config{}, nil)
	router := NewRouter(Deps{
		Engine: engine,
		Speech: speech.NewServiceWith(nil, nil, nil),
		Videos: store,
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var st HealthStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.Equal(t, HealthStatus{Status: "ok", Generation: true, VideoStore: "local"}, st)
}

func TestHealthDegradedWithoutGenerator(t *testing.T) {
	engine := interviewsvc.NewEngine(session.NewMemory(), nil, nil, interviewsvc.Config{}, nil)
	router := NewRouter(Deps{Engine: engine})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var st HealthStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.Equal(t, "degraded", st.Status)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/interview/answer", strings.NewReader(`{"sessionId":"x","answer":"y"}`)))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/interview/tts", strings.NewReader(`{"text":"y"}`)))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestInterviewOverHTTP(t *testing.T) {
	engine := interviewsvc.NewEngine(session.NewMemory(), ai.NewMockGenerator(2), nil, interviewsvc.Config{}, nil)
	router := NewRouter(Deps{Engine: engine, CORSOrigins: []string{"*"}})

	created, err := engine.CreateSession(context.Background(), interviewsvc.CreateSessionInput{ResumeText: "Go developer"})
	require.NoError(t, err)

	answer := func(text string) model.AnswerResponse {
		body := `{"sessionId":"` + created.SessionID + `","answer":"` + text + `"}`
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/interview/answer", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp model.AnswerResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return resp
	}

	var last model.AnswerResponse
	for i := 0; i < 5 && !last.Done; i++ {
		last = answer("an answer")
	}
	require.True(t, last.Done)
	require.True(t, model.IsTermination(last.Question))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/interview/answer",
		strings.NewReader(`{"sessionId":"`+created.SessionID+`","answer":"late"}`)))
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/interview/sessions/"+created.SessionID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var snap model.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.Equal(t, model.StatusTerminated, snap.Status)
}
