// Package worker runs the asynchronous graph-update pipeline: it drains the
// durable work queue, fans records out to a bounded set of pipeline slots,
// and merges the extraction results into the graph.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/extract"
	"github.com/praxis-labs/agent-memory-go/internal/graph"
	"github.com/praxis-labs/agent-memory-go/internal/metrics"
	"github.com/praxis-labs/agent-memory-go/internal/queue"
	"github.com/praxis-labs/agent-memory-go/internal/resolve"
)

// Config bounds the processor.
type Config struct {
	MaxConcurrent int
	TaskTimeout   time.Duration
}

// DefaultConfig returns the standard processor bounds.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 3, TaskTimeout: 300 * time.Second}
}

// Processor consumes queue records and applies the extract-resolve-relate
// pipeline to each. It is event driven: enqueues wake the dispatcher, and
// records surviving a restart are replayed on Start.
type Processor struct {
	queue     *queue.Queue
	entities  *extract.EntityExtractor
	resolver  *resolve.Resolver
	relations *extract.RelationshipExtractor
	graph     *graph.Store
	cfg       Config
	logger    zerolog.Logger

	notify chan struct{}
	sem    chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   bool
	active    int
	processed int64
	failed    int64
	avgSec    float64
}

// New builds a Processor over an already-opened queue and graph.
func New(q *queue.Queue, entities *extract.EntityExtractor, resolver *resolve.Resolver,
	relations *extract.RelationshipExtractor, store *graph.Store, cfg Config, logger zerolog.Logger) *Processor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 300 * time.Second
	}
	return &Processor{
		queue:     q,
		entities:  entities,
		resolver:  resolver,
		relations: relations,
		graph:     store,
		cfg:       cfg,
		logger:    logger.With().Str("component", "processor").Logger(),
		notify:    make(chan struct{}, 1),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start launches the dispatcher and replays any records left in the queue
// from a previous run. It is a no-op when already running.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.dispatch()
	p.wake()
}

// Stop shuts the dispatcher down and waits for in-flight tasks to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("processor stopped")
}

// Enqueue appends a record to the durable queue and wakes the dispatcher.
func (p *Processor) Enqueue(rec apptype.QueueRecord) error {
	if err := p.queue.Write(rec); err != nil {
		return err
	}
	if depth, err := p.queue.Size(); err == nil {
		metrics.Default().SetQueueDepth(depth)
	}
	p.wake()
	return nil
}

func (p *Processor) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Processor) dispatch() {
	defer p.wg.Done()
	for {
		p.drain()
		select {
		case <-p.stop:
			return
		case <-p.notify:
		}
	}
}

// drain hands every unconsumed record to a pipeline slot. The queue has a
// single reader (this dispatcher), so Next is never called concurrently.
func (p *Processor) drain() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		rec, err := p.queue.Next()
		if err != nil {
			p.logger.Warn().Err(err).Msg("failed to read work queue")
			return
		}
		if rec == nil {
			return
		}
		// Mark the task active as soon as its record is consumed so Drain
		// never sees an empty queue with work still pending a slot.
		p.mu.Lock()
		p.active++
		p.mu.Unlock()
		select {
		case p.sem <- struct{}{}:
		case <-p.stop:
			// Record is already consumed; process it before stopping rather
			// than dropping it on the floor.
			p.sem <- struct{}{}
		}
		p.wg.Add(1)
		go func(rec apptype.QueueRecord) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.runTask(rec)
		}(*rec)
	}
}

// runTask executes the pipeline for one record. The dispatcher has already
// counted the task as active.
func (p *Processor) runTask(rec apptype.QueueRecord) {
	start := time.Now()
	done := metrics.TimeStage("graph_update")
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TaskTimeout)
	err := p.process(ctx, rec)
	cancel()
	done(err == nil)

	dur := time.Since(start).Seconds()
	p.mu.Lock()
	p.active--
	if err != nil {
		p.failed++
	} else {
		p.processed++
	}
	if p.avgSec == 0 {
		p.avgSec = dur
	} else {
		p.avgSec = p.avgSec*0.9 + dur*0.1
	}
	p.mu.Unlock()

	if depth, derr := p.queue.Size(); derr == nil {
		metrics.Default().SetQueueDepth(depth)
	}
	if err != nil {
		p.logger.Error().Err(err).Str("guid", rec.ConversationGUID).
			Msg("graph update task failed")
	} else {
		p.logger.Debug().Str("guid", rec.ConversationGUID).
			Float64("seconds", dur).Msg("graph update task done")
	}
}

// process runs the pipeline for one record. Failures leave the graph as it
// was at the last successful persist; the conversation entry remains the
// source of truth for replay.
func (p *Processor) process(ctx context.Context, rec apptype.QueueRecord) error {
	seg := apptype.RatedSegment{
		Text:         rec.ConversationText,
		Importance:   rec.Importance,
		Type:         apptype.SegmentType(rec.Type),
		Topics:       rec.Topics,
		MemoryWorthy: rec.MemoryWorthy,
	}
	candidates := p.entities.Extract(ctx, seg)
	if len(candidates) == 0 {
		return nil
	}

	resolutions, err := p.resolver.Resolve(ctx, candidates)
	if err != nil {
		return fmt.Errorf("entity resolution failed: %w", err)
	}
	nodes, err := p.resolver.Apply(ctx, resolutions, rec.ConversationGUID)
	if err != nil {
		return fmt.Errorf("graph merge failed: %w", err)
	}

	for _, e := range p.relations.Extract(ctx, rec.ConversationText, nodes) {
		if err := p.graph.UpsertEdge(e); err != nil {
			if errors.Is(err, graph.ErrNodeNotFound) {
				p.logger.Warn().Str("from", e.FromNodeID).Str("to", e.ToNodeID).
					Str("relationship", e.Relationship).Msg("dropping edge with missing endpoint")
				continue
			}
			return fmt.Errorf("edge persist failed: %w", err)
		}
	}
	return nil
}

// Drain blocks until the queue is empty and no task is in flight, or ctx
// expires. The processor must be running.
func (p *Processor) Drain(ctx context.Context) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return fmt.Errorf("processor is not running")
	}
	p.wake()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		depth, err := p.queue.Size()
		if err != nil {
			return err
		}
		p.mu.Lock()
		idle := depth == 0 && p.active == 0
		p.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats reports a point-in-time snapshot.
func (p *Processor) Stats() apptype.ProcessorStats {
	depth, err := p.queue.Size()
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to size work queue")
		depth = -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return apptype.ProcessorStats{
		Running:          p.running,
		QueueDepth:       depth,
		ActiveTasks:      p.active,
		Processed:        p.processed,
		Failed:           p.failed,
		AvgProcessingSec: p.avgSec,
	}
}
