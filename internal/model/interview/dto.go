package interview

// CreateSessionResponse is returned when a resume upload opens a session.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	Summary   string `json:"summary"`
	Question  string `json:"question"`
}

// AnswerRequest submits a typed answer.
type AnswerRequest struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}

// AnswerResponse carries the next question, or the sentinel with Done set.
type AnswerResponse struct {
	Question string `json:"question"`
	Done     bool   `json:"done"`
}

// AudioAnswerResponse echoes the transcript bound as the answer.
type AudioAnswerResponse struct {
	Question   string `json:"question"`
	Done       bool   `json:"done"`
	Transcript string `json:"transcript"`
}

// RepeatResponse returns the currently open question.
type RepeatResponse struct {
	Question string `json:"question"`
}

// SpeechRequest asks the server to synthesize a question.
type SpeechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// VideoInfo describes a stored session recording.
type VideoInfo struct {
	ID      string `json:"id"`
	Exists  bool   `json:"exists"`
	Size    int64  `json:"size"`
	URL     string `json:"videoUrl,omitempty"`
	Message string `json:"message,omitempty"`
}
