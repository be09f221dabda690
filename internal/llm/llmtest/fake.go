// Package llmtest provides a scriptable fake LLM client for tests.
package llmtest

import (
	"context"
	"hash/fnv"
	"sync"
)

// Fake implements llm.Client. Responses are scripted via GenerateFunc and
// EmbedFunc; unset, Generate returns "" and Embed returns a deterministic
// hash-derived vector so equal texts embed identically.
type Fake struct {
	mu           sync.Mutex
	prompts      []string
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)
}

func (f *Fake) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

func (f *Fake) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, text)
	}
	return HashVector(text), nil
}

// Prompts returns every prompt passed to Generate so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// HashVector derives a stable 8-dimensional unit-ish vector from text.
func HashVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, 8)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)%1000) / 1000.0
	}
	return vec
}
