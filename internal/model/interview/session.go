package interview

import (
	"strings"
	"time"
)

// TerminationSentinel is the only text that ends an interview.
const TerminationSentinel = "End of interview."

// SkipAnswer is submitted in place of a spoken answer when the candidate
// stays silent past the timeout.
const SkipAnswer = "No answer provided (skipped due to silence)"

// IsTermination reports whether text is the termination sentinel,
// ignoring case and surrounding whitespace.
func IsTermination(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), TerminationSentinel)
}

// Status tracks where a session is in its answer/generate cycle.
type Status string

const (
	StatusAwaitingAnswer Status = "AWAITING_ANSWER"
	StatusGenerating     Status = "GENERATING"
	StatusTerminated     Status = "TERMINATED"
)

// QAPair is one turn. Answer is nil while the turn is open.
type QAPair struct {
	Question string  `json:"question"`
	Answer   *string `json:"answer"`
}

// Open reports whether the pair is still waiting for an answer.
func (p QAPair) Open() bool { return p.Answer == nil }

// Session is the server-held record of one interview attempt.
type Session struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId,omitempty"`
	Summary       string    `json:"summary"`
	History       []QAPair  `json:"history"`
	Status        Status    `json:"status"`
	Closing       string    `json:"closing,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// OpenPair returns the trailing open pair, if any.
func (s *Session) OpenPair() (*QAPair, bool) {
	if len(s.History) == 0 {
		return nil, false
	}
	last := &s.History[len(s.History)-1]
	if !last.Open() {
		return nil, false
	}
	return last, true
}

// Clone returns a deep copy safe to hand outside the repository lock.
func (s Session) Clone() Session {
	out := s
	out.History = make([]QAPair, len(s.History))
	for i, p := range s.History {
		out.History[i] = QAPair{Question: p.Question}
		if p.Answer != nil {
			a := *p.Answer
			out.History[i].Answer = &a
		}
	}
	return out
}
