// Package llm defines the two operations the memory pipeline consumes from
// a language-model collaborator and provides an Ollama-backed implementation.
package llm

import (
	"context"
	"os"
)

// Client is the LLM surface the pipeline depends on. Both calls may block
// and must be given a context. Generate returns the raw completion text;
// callers tolerate non-JSON output.
type Client interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	// Embed returns the embedding vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds LLM endpoint configuration.
type Config struct {
	BaseURL    string
	Model      string
	EmbedModel string
}

// NewConfig creates a Config from environment variables.
func NewConfig() *Config {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "llama3"
	}
	embedModel := os.Getenv("OLLAMA_EMBED_MODEL")
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	return &Config{BaseURL: baseURL, Model: model, EmbedModel: embedModel}
}
