package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/config"
)

// ChainGenerator runs a system+user prompt template through a chat model.
type ChainGenerator struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewArkGenerator creates the Ark chat model described by cfg and wraps it
// in a chain.
func NewArkGenerator(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*ChainGenerator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewChainGenerator(ctx, chatModel, logger)
}

// NewChainGenerator compiles the prompt chain around any chat model.
func NewChainGenerator(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*ChainGenerator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainGenerator{chain: runnable, logger: logger}, nil
}

// GenerateText invokes the chain once.
func (g *ChainGenerator) GenerateText(ctx context.Context, prompt, systemContext string) (string, error) {
	response, err := g.chain.Invoke(ctx, map[string]any{
		"system": systemContext,
		"query":  prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	if response == nil {
		return "", errors.New("chat model returned no message")
	}

	text := cleanOutput(response.Content)
	if text == "" {
		return "", errors.New("chat model returned empty content")
	}

	g.logger.Debug("generated text", zap.Int("prompt_len", len(prompt)), zap.Int("length", len(text)))
	return text, nil
}
