package apptype

// Tool argument and result payloads for the MCP surface.

// RecordTurnArgs are the arguments for the record_turn tool.
type RecordTurnArgs struct {
	Role    string `json:"role" jsonschema:"the author of the turn: user, agent, or system"`
	Content string `json:"content" jsonschema:"the verbatim text of the turn"`
}

// RecordTurnResult reports the recorded entry and its digest.
type RecordTurnResult struct {
	GUID     string         `json:"guid"`
	Segments []RatedSegment `json:"rated_segments"`
	Enqueued int            `json:"enqueued"`
}

// RetrieveContextArgs are the arguments for the retrieve_context tool.
type RetrieveContextArgs struct {
	Query      string `json:"query" jsonschema:"free-text query to retrieve context for"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of entities to include"`
}

// GraphStatsArgs are the arguments for the graph_stats tool.
type GraphStatsArgs struct{}

// GraphStatsResult combines graph and processor state.
type GraphStatsResult struct {
	Graph     GraphStats     `json:"graph"`
	Processor ProcessorStats `json:"processor"`
}

// DrainQueueArgs are the arguments for the drain_queue tool.
type DrainQueueArgs struct {
	TimeoutSec int `json:"timeout_sec,omitempty" jsonschema:"seconds to wait for the queue to empty; default 60"`
}
