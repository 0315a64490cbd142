package interview

import (
	"fmt"
	"strings"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// SystemContext frames every generation call.
const SystemContext = "You are a concise technical interviewer. Ask one question at a time, tailored to the candidate resume."

const noAnswer = "no answer provided"

func summaryPrompt(resume string) string {
	return "Summarize this resume for an interviewer in 6 short bullet points. Keep concise, avoid fluff. Resume: " + resume
}

func firstQuestionPrompt(summary string) string {
	return fmt.Sprintf("Resume summary:\n%s\n\nAsk the first interview question. Keep it role-appropriate, <=35 words.", summary)
}

func followUpPrompt(summary string, history []model.QAPair, answer string) string {
	return fmt.Sprintf(
		"Resume summary:\n%s\n\nPrior Q&A:\n%s\n\nNew answer: %s\n\n"+
			"Ask exactly one follow-up question (<=40 words). If the conversation should end, reply with %q only.",
		summary, formatHistory(history), answer, model.TerminationSentinel,
	)
}

// formatHistory renders "Qn: ...\nAn: ..." lines in turn order.
func formatHistory(history []model.QAPair) string {
	var b strings.Builder
	for i, pair := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		answer := noAnswer
		if pair.Answer != nil && *pair.Answer != "" {
			answer = *pair.Answer
		}
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s", i+1, pair.Question, i+1, answer)
	}
	return b.String()
}
