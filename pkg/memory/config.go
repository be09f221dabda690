package memory

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/domain"
	"github.com/praxis-labs/agent-memory-go/internal/history"
	"github.com/praxis-labs/agent-memory-go/internal/llm"
	"github.com/praxis-labs/agent-memory-go/internal/resolve"
	"github.com/praxis-labs/agent-memory-go/internal/retrieve"
	"github.com/praxis-labs/agent-memory-go/internal/worker"
)

// Config wires the memory service in package mode. Zero values fall back
// to the documented defaults.
type Config struct {
	// StorageDir holds the graph JSON files, the embeddings index, and the
	// work queue.
	StorageDir string

	// Domain selects a built-in vocabulary ("dnd", "assistant"); ignored
	// when DomainConfigPath points at a YAML file.
	Domain           string
	DomainConfigPath string

	// History database. Empty URL uses LIBSQL_URL or a file next to
	// StorageDir.
	HistoryURL       string
	HistoryAuthToken string

	// RecentTurns bounds the conversational context handed to the rater.
	RecentTurns int

	LLM       llm.Config
	Resolver  resolve.Config
	Worker    worker.Config
	Retriever retrieve.Config

	Logger zerolog.Logger

	// Client overrides the Ollama client; tests inject fakes here.
	Client llm.Client
}

// NewConfig creates a Config from environment variables.
func NewConfig() *Config {
	storageDir := os.Getenv("MEMORY_STORAGE_DIR")
	if storageDir == "" {
		storageDir = "./memory"
	}
	hist := history.NewConfig()
	return &Config{
		StorageDir:       storageDir,
		Domain:           os.Getenv("MEMORY_DOMAIN"),
		DomainConfigPath: os.Getenv("MEMORY_DOMAIN_CONFIG"),
		HistoryURL:       hist.URL,
		HistoryAuthToken: hist.AuthToken,
		LLM:              *llm.NewConfig(),
		Resolver:         resolve.DefaultConfig(),
		Worker:           worker.DefaultConfig(),
		Retriever:        retrieve.DefaultConfig(),
	}
}

func (c *Config) domainConfig() (*domain.Config, error) {
	if c.DomainConfigPath != "" {
		return domain.Load(c.DomainConfigPath)
	}
	name := c.Domain
	if name == "" {
		name = "assistant"
	}
	return domain.Builtin(name)
}

func (c *Config) recentTurns() int {
	if c.RecentTurns <= 0 {
		return 5
	}
	return c.RecentTurns
}

func (c *Config) historyConfig() *history.Config {
	if c.HistoryURL == "" {
		return history.NewConfig()
	}
	return &history.Config{URL: c.HistoryURL, AuthToken: c.HistoryAuthToken}
}
