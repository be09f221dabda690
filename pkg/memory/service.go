// Package memory provides a library-first API for the agent memory system:
// record conversation turns, let the background pipeline grow the knowledge
// graph, and retrieve query context, without any transport in front.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/digest"
	"github.com/praxis-labs/agent-memory-go/internal/embeddings"
	"github.com/praxis-labs/agent-memory-go/internal/extract"
	"github.com/praxis-labs/agent-memory-go/internal/graph"
	"github.com/praxis-labs/agent-memory-go/internal/history"
	"github.com/praxis-labs/agent-memory-go/internal/llm"
	"github.com/praxis-labs/agent-memory-go/internal/queue"
	"github.com/praxis-labs/agent-memory-go/internal/resolve"
	"github.com/praxis-labs/agent-memory-go/internal/retrieve"
	"github.com/praxis-labs/agent-memory-go/internal/worker"
)

// Service is the memory system facade.
type Service struct {
	cfg       *Config
	logger    zerolog.Logger
	history   *history.Store
	graph     *graph.Store
	index     *embeddings.Index
	queue     *queue.Queue
	rater     *digest.Rater
	processor *worker.Processor
	retriever *retrieve.Retriever
}

// NewService constructs a Service with the provided config. The background
// processor is not started; call Start.
func NewService(cfg *Config) (*Service, error) {
	logger := cfg.Logger

	domainCfg, err := cfg.domainConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load domain config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = llm.NewOllama(&cfg.LLM)
	}

	hist, err := history.NewStore(cfg.historyConfig(), logger)
	if err != nil {
		return nil, err
	}
	store, err := graph.NewStore(cfg.StorageDir, logger)
	if err != nil {
		hist.Close()
		return nil, err
	}
	index, err := embeddings.NewIndex(embeddings.DefaultPath(cfg.StorageDir), logger)
	if err != nil {
		hist.Close()
		return nil, err
	}
	q, err := queue.New(queue.DefaultPath(cfg.StorageDir), logger)
	if err != nil {
		hist.Close()
		return nil, err
	}

	entities := extract.NewEntityExtractor(client, domainCfg, logger)
	resolver := resolve.New(client, store, index, cfg.Resolver, logger)
	relations := extract.NewRelationshipExtractor(client, domainCfg, logger)

	// A wholly unset retriever config means defaults; an explicit
	// MaxContextLength of zero inside a set config is honored.
	if cfg.Retriever == (retrieve.Config{}) {
		cfg.Retriever = retrieve.DefaultConfig()
	}

	return &Service{
		cfg:       cfg,
		logger:    logger.With().Str("component", "memory").Logger(),
		history:   hist,
		graph:     store,
		index:     index,
		queue:     q,
		rater:     digest.NewRater(client, domainCfg, logger),
		processor: worker.New(q, entities, resolver, relations, store, cfg.Worker, logger),
		retriever: retrieve.New(client, store, index, cfg.Retriever, logger),
	}, nil
}

// Start launches the background processor, replaying any records left in
// the queue from a previous run.
func (s *Service) Start() {
	s.processor.Start()
}

// Stop shuts the processor down, waiting for in-flight tasks.
func (s *Service) Stop() {
	s.processor.Stop()
}

// Close stops background work and releases storage handles.
func (s *Service) Close() error {
	s.Stop()
	return s.history.Close()
}

// RecordTurn persists one conversation turn, rates it, and enqueues the
// segments that pass the pipeline gate. The returned entry carries the
// digest. Rating and enqueue problems never fail the turn: the entry is
// durable and the queue can be rebuilt from history.
func (s *Service) RecordTurn(ctx context.Context, role apptype.Role, content string) (apptype.Entry, error) {
	entry := apptype.Entry{
		GUID:      uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	recent, err := s.history.RecentEntries(ctx, s.cfg.recentTurns())
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load recent turns for rating")
	}
	if err := s.history.AppendEntry(ctx, entry); err != nil {
		return apptype.Entry{}, err
	}

	d := s.rater.Rate(ctx, role, content, recent)
	entry.Digest = d
	if err := s.history.AttachDigest(ctx, entry.GUID, d); err != nil {
		s.logger.Warn().Err(err).Str("guid", entry.GUID).Msg("failed to attach digest")
	}

	s.enqueueEligible(entry)
	return entry, nil
}

// enqueueEligible writes one queue record per gated segment. The gate is
// evaluated exactly once, here.
func (s *Service) enqueueEligible(entry apptype.Entry) {
	if entry.Digest == nil {
		return
	}
	now := time.Now().UTC()
	for _, seg := range entry.Digest.Segments {
		if !seg.Eligible() {
			continue
		}
		rec := apptype.QueueRecord{
			ConversationText: seg.Text,
			DigestText:       digest.SegmentDigestText(seg),
			ConversationGUID: entry.GUID,
			QueuedAt:         now.Format(time.RFC3339),
			Timestamp:        float64(now.UnixNano()) / float64(time.Second),
			Importance:       seg.Importance,
			MemoryWorthy:     seg.MemoryWorthy,
			Type:             string(seg.Type),
			Topics:           seg.Topics,
		}
		if err := s.processor.Enqueue(rec); err != nil {
			s.logger.Warn().Err(err).Str("guid", entry.GUID).Msg("failed to enqueue segment")
		}
	}
}

// Retrieve answers a context query from the current graph state. It never
// blocks on background work.
func (s *Service) Retrieve(ctx context.Context, query string, maxResults int) (apptype.RetrievalResult, error) {
	return s.retriever.Retrieve(ctx, query, maxResults)
}

// DrainQueue blocks until all pending graph updates have been processed.
func (s *Service) DrainQueue(ctx context.Context) error {
	return s.processor.Drain(ctx)
}

// ReplayHistory rebuilds the work queue from the conversation log: every
// entry whose digest carries gated segments is re-enqueued. Used after a
// lost queue or graph wipe.
func (s *Service) ReplayHistory(ctx context.Context) (int, error) {
	entries, err := s.history.ReplayEligible(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		s.enqueueEligible(e)
	}
	return len(entries), nil
}

// GraphStats summarizes the knowledge graph.
func (s *Service) GraphStats() apptype.GraphStats {
	return s.graph.Stats()
}

// ProcessorStats summarizes the background worker.
func (s *Service) ProcessorStats() apptype.ProcessorStats {
	return s.processor.Stats()
}

// InvalidateCache drops cached contexts mentioning the substring; used when
// a caller knows the graph just changed under a hot query.
func (s *Service) InvalidateCache(substr string) int {
	return s.retriever.InvalidateCache(substr)
}
