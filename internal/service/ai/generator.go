// Package ai provides the text generation gateways used to summarize resumes
// and produce interview questions.
package ai

import (
	"context"
	"strings"
)

// Generator turns a prompt and a system context into model text.
type Generator interface {
	GenerateText(ctx context.Context, prompt, systemContext string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt, systemContext string) (string, error)

func (f GeneratorFunc) GenerateText(ctx context.Context, prompt, systemContext string) (string, error) {
	return f(ctx, prompt, systemContext)
}

func cleanOutput(text string) string {
	return strings.TrimSpace(text)
}
