package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

type ollamaClient struct {
	cfg  *Config
	http *http.Client
}

// NewOllama creates an Ollama-backed Client. The HTTP timeout defaults to
// 120s to tolerate cold model loads; OLLAMA_HTTP_TIMEOUT accepts a Go
// duration ("90s") or plain seconds ("90").
func NewOllama(cfg *Config) Client {
	if cfg == nil {
		cfg = NewConfig()
	}
	timeout := 120 * time.Second
	if v := strings.TrimSpace(envOllamaTimeout()); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		} else if n, err2 := strconv.Atoi(v); err2 == nil {
			timeout = time.Duration(n) * time.Second
		}
	}
	return &ollamaClient{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

func (c *ollamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.cfg.Model,
		"prompt": prompt,
		"stream": false,
	}
	var out struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := c.post(ctx, "/api/generate", reqBody, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	return out.Response, nil
}

func (c *ollamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{"model": c.cfg.EmbedModel, "input": text}
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
		Embedding  []float64   `json:"embedding"`
		Error      string      `json:"error"`
	}
	if err := c.post(ctx, "/api/embed", reqBody, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", out.Error)
	}
	if len(out.Embeddings) > 0 {
		return out.Embeddings[0], nil
	}
	// Legacy /api/embeddings single-vector shape.
	if len(out.Embedding) > 0 {
		return f64to32(out.Embedding), nil
	}
	return nil, fmt.Errorf("ollama returned no embedding")
}

// post issues a JSON POST and decodes the response, retrying once on a
// client timeout (cold model start).
func (c *ollamaClient) post(ctx context.Context, endpoint string, reqBody, out any) error {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid ollama base url: %w", err)
	}
	u := *base
	u.Path = path.Join(u.Path, endpoint)
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	doPost := func() (*http.Response, error) {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	}

	resp, err := doPost()
	if err != nil {
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			resp, err = doPost()
		}
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("ollama error: %s", e.Error)
		}
		return fmt.Errorf("ollama http status: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOllamaTimeout() string {
	if v := os.Getenv("OLLAMA_HTTP_TIMEOUT"); v != "" {
		return v
	}
	return os.Getenv("LLM_HTTP_TIMEOUT")
}

// isTimeout returns true if the error represents a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func f64to32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
