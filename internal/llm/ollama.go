package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Ollama talks to a local Ollama daemon through its OpenAI-compatible
// chat completions endpoint.
type Ollama struct {
	client openai.Client
	model  string
}

func NewOllama(baseURL, model string) *Ollama {
	// Ollama ignores the key; the client wants one present.
	client := openai.NewClient(
		option.WithBaseURL(ollamaBaseURL(baseURL)),
		option.WithAPIKey("ollama"),
	)
	return &Ollama{client: client, model: model}
}

// ollamaBaseURL maps an OLLAMA_HOST-style address to the daemon's
// OpenAI-compatible endpoint.
func ollamaBaseURL(raw string) string {
	if raw == "" {
		raw = "http://localhost:11434"
	}
	base := strings.TrimRight(raw, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

func (c *Ollama) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ollama chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
