package ai

import (
	"context"
	"regexp"
	"strings"
)

const mockSummary = "- Mock summary: configure a generation provider for real output."

var defaultMockQuestions = []string{
	"Tell me about a project you are proud of.",
	"What was the hardest technical problem in that project, and how did you solve it?",
	"How do you approach reviewing someone else's code?",
	"Describe a time you disagreed with a teammate. What happened?",
}

var turnLine = regexp.MustCompile(`(?m)^Q\d+: `)

// MockGenerator is the offline provider used when no model is configured.
// It counts the turns already present in a follow-up prompt and ends the
// interview after MaxTurns answers.
type MockGenerator struct {
	Questions []string
	MaxTurns  int
}

// NewMockGenerator returns a generator that asks maxTurns questions.
func NewMockGenerator(maxTurns int) *MockGenerator {
	if maxTurns <= 0 {
		maxTurns = len(defaultMockQuestions)
	}
	return &MockGenerator{Questions: defaultMockQuestions, MaxTurns: maxTurns}
}

func (m *MockGenerator) GenerateText(ctx context.Context, prompt, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if strings.HasPrefix(prompt, "Summarize") {
		return mockSummary, nil
	}

	questions := m.Questions
	if len(questions) == 0 {
		questions = defaultMockQuestions
	}

	answered := len(turnLine.FindAllStringIndex(prompt, -1))
	if answered >= m.MaxTurns {
		return "End of interview.", nil
	}
	return questions[answered%len(questions)], nil
}
