// Package server exposes the memory service over MCP: record turns,
// retrieve context, inspect the graph, and drain pending work.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/buildinfo"
	"github.com/praxis-labs/agent-memory-go/internal/metrics"
	"github.com/praxis-labs/agent-memory-go/pkg/memory"
)

// MCPServer handles MCP protocol communication.
type MCPServer struct {
	server *mcp.Server
	svc    *memory.Service
}

// NewMCPServer creates a new MCP server over an already-constructed memory
// service. The caller owns the service lifecycle (Start/Stop/Close).
func NewMCPServer(svc *memory.Service) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "agent-memory-go",
		Version: buildinfo.Version,
	}, nil)

	s := &MCPServer{server: server, svc: svc}

	metrics.InitFromEnv()
	s.setupToolHandlers()
	return s
}

// setupToolHandlers registers all MCP tools.
func (s *MCPServer) setupToolHandlers() {
	recordTurnInputSchema, err := jsonschema.For[apptype.RecordTurnArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for RecordTurnArgs: %v", err))
	}
	recordTurnOutputSchema, err := jsonschema.For[apptype.RecordTurnResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for RecordTurnResult: %v", err))
	}
	retrieveInputSchema, err := jsonschema.For[apptype.RetrieveContextArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for RetrieveContextArgs: %v", err))
	}
	retrieveOutputSchema, err := jsonschema.For[apptype.RetrievalResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for RetrievalResult: %v", err))
	}
	graphStatsInputSchema, err := jsonschema.For[apptype.GraphStatsArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GraphStatsArgs: %v", err))
	}
	graphStatsOutputSchema, err := jsonschema.For[apptype.GraphStatsResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GraphStatsResult: %v", err))
	}
	drainQueueInputSchema, err := jsonschema.For[apptype.DrainQueueArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for DrainQueueArgs: %v", err))
	}
	drainQueueOutputSchema, err := jsonschema.For[apptype.ProcessorStats]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ProcessorStats: %v", err))
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "record_turn",
		Title:        "Record Turn",
		Description:  "Record one conversation turn; it is rated and memory-worthy segments are queued for graph updates.",
		InputSchema:  recordTurnInputSchema,
		OutputSchema: recordTurnOutputSchema,
	}, s.handleRecordTurn)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "retrieve_context",
		Title:        "Retrieve Context",
		Description:  "Retrieve ranked entity context for a query from the knowledge graph.",
		InputSchema:  retrieveInputSchema,
		OutputSchema: retrieveOutputSchema,
	}, s.handleRetrieveContext)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "graph_stats",
		Title:        "Graph Stats",
		Description:  "Get knowledge graph and background processor statistics.",
		InputSchema:  graphStatsInputSchema,
		OutputSchema: graphStatsOutputSchema,
	}, s.handleGraphStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "drain_queue",
		Title:        "Drain Queue",
		Description:  "Wait until every pending graph update has been processed.",
		InputSchema:  drainQueueInputSchema,
		OutputSchema: drainQueueOutputSchema,
	}, s.handleDrainQueue)
}

// handleRecordTurn handles the record_turn tool call.
func (s *MCPServer) handleRecordTurn(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RecordTurnArgs],
) (*mcp.CallToolResultFor[apptype.RecordTurnResult], error) {
	done := metrics.TimeTool("record_turn")
	var success bool
	defer func() { done(success) }()

	role := apptype.Role(params.Arguments.Role)
	switch role {
	case apptype.RoleUser, apptype.RoleAgent, apptype.RoleSystem:
	default:
		return nil, fmt.Errorf("invalid role %q", params.Arguments.Role)
	}

	entry, err := s.svc.RecordTurn(ctx, role, params.Arguments.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to record turn: %w", err)
	}
	success = true

	res := apptype.RecordTurnResult{GUID: entry.GUID}
	if entry.Digest != nil {
		res.Segments = entry.Digest.Segments
		for _, seg := range entry.Digest.Segments {
			if seg.Eligible() {
				res.Enqueued++
			}
		}
	}
	return &mcp.CallToolResultFor[apptype.RecordTurnResult]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Recorded turn %s with %d segments (%d queued)", entry.GUID, len(res.Segments), res.Enqueued),
			},
		},
		StructuredContent: res,
	}, nil
}

// handleRetrieveContext handles the retrieve_context tool call.
func (s *MCPServer) handleRetrieveContext(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RetrieveContextArgs],
) (*mcp.CallToolResultFor[apptype.RetrievalResult], error) {
	done := metrics.TimeTool("retrieve_context")
	var success bool
	defer func() { done(success) }()

	if params.Arguments.Query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	res, err := s.svc.Retrieve(ctx, params.Arguments.Query, params.Arguments.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.RetrievalResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: res.Context},
		},
		StructuredContent: res,
	}, nil
}

// handleGraphStats handles the graph_stats tool call.
func (s *MCPServer) handleGraphStats(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GraphStatsArgs],
) (*mcp.CallToolResultFor[apptype.GraphStatsResult], error) {
	done := metrics.TimeTool("graph_stats")
	defer func() { done(true) }()

	res := apptype.GraphStatsResult{
		Graph:     s.svc.GraphStats(),
		Processor: s.svc.ProcessorStats(),
	}
	return &mcp.CallToolResultFor[apptype.GraphStatsResult]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("%d nodes, %d edges, %d queued", res.Graph.NodeCount, res.Graph.EdgeCount, res.Processor.QueueDepth),
			},
		},
		StructuredContent: res,
	}, nil
}

// handleDrainQueue handles the drain_queue tool call.
func (s *MCPServer) handleDrainQueue(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.DrainQueueArgs],
) (*mcp.CallToolResultFor[apptype.ProcessorStats], error) {
	done := metrics.TimeTool("drain_queue")
	var success bool
	defer func() { done(success) }()

	timeout := time.Duration(params.Arguments.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.svc.DrainQueue(dctx); err != nil {
		return nil, fmt.Errorf("drain failed: %w", err)
	}
	success = true

	stats := s.svc.ProcessorStats()
	return &mcp.CallToolResultFor[apptype.ProcessorStats]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Queue drained; %d processed, %d failed", stats.Processed, stats.Failed),
			},
		},
		StructuredContent: stats,
	}, nil
}

// Run starts the MCP server on the stdio transport and blocks until the
// client disconnects or ctx is cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	s.reportQueueDepth(ctx)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint.
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	s.reportQueueDepth(ctx)
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv.ListenAndServe()
}

// reportQueueDepth keeps the queue depth gauge fresh while the server runs.
func (s *MCPServer) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.Default().SetQueueDepth(s.svc.ProcessorStats().QueueDepth)
			}
		}
	}()
}
