package apptype

import (
	"regexp"
	"strings"
	"time"
)

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// SegmentType classifies a rated segment.
type SegmentType string

const (
	SegmentInformation SegmentType = "information"
	SegmentAction      SegmentType = "action"
	SegmentQuery       SegmentType = "query"
	SegmentCommand     SegmentType = "command"
)

// Entry is one immutable conversation turn.
type Entry struct {
	GUID      string    `json:"guid"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Digest    *Digest   `json:"digest,omitempty"`
}

// RatedSegment is a text span carved from one turn and rated by the LLM.
type RatedSegment struct {
	Text         string      `json:"text"`
	Importance   int         `json:"importance"`
	Type         SegmentType `json:"type"`
	Topics       []string    `json:"topics"`
	MemoryWorthy bool        `json:"memory_worthy"`
}

// Eligible reports whether the segment passes the graph-pipeline gate.
// Evaluated exactly once, at enqueue time.
func (s RatedSegment) Eligible() bool {
	return s.MemoryWorthy && s.Importance >= 3 &&
		(s.Type == SegmentInformation || s.Type == SegmentAction)
}

// Digest is the ordered list of rated segments attached to an entry.
type Digest struct {
	Segments []RatedSegment `json:"rated_segments"`
}

// QueueRecord is one line of the append-only conversation queue.
type QueueRecord struct {
	ConversationText string   `json:"conversation_text"`
	DigestText       string   `json:"digest_text"`
	ConversationGUID string   `json:"conversation_guid"`
	QueuedAt         string   `json:"queued_at"`
	Timestamp        float64  `json:"timestamp"`
	Importance       int      `json:"importance,omitempty"`
	MemoryWorthy     bool     `json:"memory_worthy,omitempty"`
	Type             string   `json:"type,omitempty"`
	Topics           []string `json:"topics,omitempty"`
}

// Node attribute keys. The attribute bag is open-ended; these keys are the
// ones the pipeline itself reads and writes.
const (
	AttrConversationGUIDs = "conversation_history_guids"
)

// Node is an entity in the knowledge graph. Its embedding lives in the
// embeddings index, keyed by ID, never on the node itself.
type Node struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Aliases      []string       `json:"aliases,omitempty"`
	Attributes   map[string]any `json:"attributes"`
	MentionCount int            `json:"mention_count"`
	CreatedAt    time.Time      `json:"created_at"`
	LastUpdated  time.Time      `json:"last_updated"`
}

// ConversationGUIDs returns the deduplicated, first-mention-ordered list of
// conversation GUIDs this node was mentioned in.
func (n *Node) ConversationGUIDs() []string {
	if n.Attributes == nil {
		return nil
	}
	switch v := n.Attributes[AttrConversationGUIDs].(type) {
	case []string:
		return v
	case []any:
		// JSON round-trips string slices as []any.
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AppendConversationGUID records a mention GUID, preserving first-seen order.
// Returns false if the GUID was already present.
func (n *Node) AppendConversationGUID(guid string) bool {
	if guid == "" {
		return false
	}
	existing := n.ConversationGUIDs()
	for _, g := range existing {
		if g == guid {
			return false
		}
	}
	if n.Attributes == nil {
		n.Attributes = make(map[string]any)
	}
	n.Attributes[AttrConversationGUIDs] = append(existing, guid)
	return true
}

// AddAlias records an alternate name for the node, deduplicated.
func (n *Node) AddAlias(alias string) {
	if alias == "" || alias == n.Name {
		return
	}
	for _, a := range n.Aliases {
		if a == alias {
			return
		}
	}
	n.Aliases = append(n.Aliases, alias)
}

// Edge is a directed, labelled relationship between two nodes. Edges carry
// node IDs only, never node objects.
type Edge struct {
	FromNodeID   string    `json:"from_node_id"`
	ToNodeID     string    `json:"to_node_id"`
	Relationship string    `json:"relationship"`
	Evidence     []string  `json:"evidence"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// Embedding record source discriminators.
const (
	SourceGraphEntity         = "graph_entity"
	SourceConversationSegment = "conversation_segment"
)

// EmbeddingMetadata describes where an embedded string came from.
type EmbeddingMetadata struct {
	Source     string `json:"source"`
	NodeID     string `json:"node_id,omitempty"`
	EntityName string `json:"entity_name,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
}

// EmbeddingRecord is one line of the embeddings JSONL file.
type EmbeddingRecord struct {
	Vector   []float32         `json:"vector"`
	Text     string            `json:"text"`
	Metadata EmbeddingMetadata `json:"metadata"`
}

// SearchHit is one scored result from the embeddings index. The score field
// name is load-bearing; downstream consumers read exactly "score".
type SearchHit struct {
	Score    float64           `json:"score"`
	Text     string            `json:"text"`
	Metadata EmbeddingMetadata `json:"metadata"`
}

// CandidateEntity is an entity proposed by the extractor, not yet matched
// against the graph.
type CandidateEntity struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewNodeDecision is the resolver's sentinel for "no existing node matches".
const NewNodeDecision = "<NEW>"

// Resolution is the resolver's verdict for one candidate.
type Resolution struct {
	Candidate     CandidateEntity `json:"candidate"`
	NodeID        string          `json:"node_id"`
	IsNew         bool            `json:"is_new"`
	Justification string          `json:"justification,omitempty"`
	Confidence    float64         `json:"confidence"`
}

// RetrievalResult is the retriever's answer to one query.
type RetrievalResult struct {
	Context   string  `json:"context"`
	Query     string  `json:"query"`
	Results   int     `json:"results"`
	CacheHit  bool    `json:"cache_hit"`
	Truncated bool    `json:"truncated"`
	TookMS    float64 `json:"took_ms"`
}

// GraphStats summarizes the current graph state.
type GraphStats struct {
	NodeCount   int            `json:"node_count"`
	EdgeCount   int            `json:"edge_count"`
	NodesByType map[string]int `json:"nodes_by_type,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// ProcessorStats summarizes the background worker.
type ProcessorStats struct {
	Running          bool    `json:"running"`
	QueueDepth       int     `json:"queue_depth"`
	ActiveTasks      int     `json:"active_tasks"`
	Processed        int64   `json:"processed"`
	Failed           int64   `json:"failed"`
	AvgProcessingSec float64 `json:"avg_processing_sec"`
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName lowercases a name and replaces runs of non-alphanumerics
// with a single underscore.
func NormalizeName(name string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(s, "_")
}

// NodeID derives the stable node identifier from an entity type and name.
// Same (type, normalized name) always yields the same ID.
func NodeID(entityType, name string) string {
	return strings.ToLower(strings.TrimSpace(entityType)) + ":" + NormalizeName(name)
}
