package llm

import (
	"context"
	"strings"
	"testing"

	"piebrain/internal/config"
)

func TestOllamaBaseURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"Default", "", "http://localhost:11434/v1"},
		{"Host", "http://localhost:11434", "http://localhost:11434/v1"},
		{"TrailingSlash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"AlreadyV1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"RemoteHost", "http://pi5.local:11434", "http://pi5.local:11434/v1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ollamaBaseURL(tc.in); got != tc.want {
				t.Errorf("ollamaBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	c, err := New(context.Background(), config.LLMConfig{Provider: "ollama", Model: "qwen2.5:1.5b"})
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if _, ok := c.(*Ollama); !ok {
		t.Errorf("New(ollama) = %T, want *Ollama", c)
	}

	c, err = New(context.Background(), config.LLMConfig{Provider: "", Model: "qwen2.5:1.5b"})
	if err != nil {
		t.Fatalf("New(default): %v", err)
	}
	if _, ok := c.(*Ollama); !ok {
		t.Errorf("New(default) = %T, want *Ollama", c)
	}

	c, err = New(context.Background(), config.LLMConfig{Provider: "anthropic", Model: "claude-haiku-4-5", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New(anthropic): %v", err)
	}
	if _, ok := c.(*Anthropic); !ok {
		t.Errorf("New(anthropic) = %T, want *Anthropic", c)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	for _, provider := range []string{"anthropic", "gemini"} {
		if _, err := New(context.Background(), config.LLMConfig{Provider: provider}); err == nil {
			t.Errorf("New(%s) without key succeeded, want error", provider)
		}
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.LLMConfig{Provider: "bedrock"})
	if err == nil {
		t.Fatal("New(bedrock) succeeded, want error")
	}
	if !strings.Contains(err.Error(), "unknown llm provider") {
		t.Errorf("err = %v", err)
	}
}
