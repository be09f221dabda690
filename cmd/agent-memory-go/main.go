package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/metrics"
	"github.com/praxis-labs/agent-memory-go/internal/server"
	"github.com/praxis-labs/agent-memory-go/pkg/memory"
)

var (
	storageDir   = flag.String("storage-dir", "", "Directory for graph, embeddings, and queue files (default: ./memory)")
	domainName   = flag.String("domain", "", "Built-in domain vocabulary: dnd or assistant (default: assistant)")
	domainConfig = flag.String("domain-config", "", "Path to a YAML domain config; overrides -domain")
	historyURL   = flag.String("libsql-url", "", "libSQL URL for the conversation history (default: file:./conversation_history.db)")
	authToken    = flag.String("auth-token", "", "Authentication token for remote history databases")
	replay       = flag.Bool("replay", false, "Rebuild the work queue from conversation history on startup")
	transport    = flag.String("transport", "stdio", "Transport to use: stdio or sse")
	addr         = flag.String("addr", ":8080", "Address to listen on when using SSE transport")
	sseEndpoint  = flag.String("sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
	logLevel     = flag.String("log-level", "info", "Log level: trace, debug, info, warn, error")
)

func main() {
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("received shutdown signal, closing server")
		cancel()
	}()

	cfg := memory.NewConfig()
	cfg.Logger = logger

	// Initialize metrics (noop if disabled)
	metrics.InitFromEnv()

	// Override with command line flags if provided
	if *storageDir != "" {
		cfg.StorageDir = *storageDir
	}
	if *domainName != "" {
		cfg.Domain = *domainName
	}
	if *domainConfig != "" {
		cfg.DomainConfigPath = *domainConfig
	}
	if *historyURL != "" {
		cfg.HistoryURL = *historyURL
	}
	if *authToken != "" {
		cfg.HistoryAuthToken = *authToken
	}

	svc, err := memory.NewService(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create memory service")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing memory service")
		}
	}()

	if *replay {
		n, err := svc.ReplayHistory(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to replay history")
		}
		logger.Info().Int("entries", n).Msg("replayed history into work queue")
	}

	svc.Start()

	mcpServer := server.NewMCPServer(svc)
	logger.Info().Str("transport", *transport).Msg("starting agent memory server")
	switch *transport {
	case "stdio":
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server error")
			}
			cancel()
		}()
	case "sse":
		go func() {
			if err := mcpServer.RunSSE(ctx, *addr, *sseEndpoint); err != nil {
				logger.Error().Err(err).Msg("sse server error")
			}
			cancel()
		}()
	default:
		logger.Fatal().Str("transport", *transport).Msg("unknown transport (expected: stdio or sse)")
	}

	<-ctx.Done()
	logger.Info().Msg("server stopped")
}
