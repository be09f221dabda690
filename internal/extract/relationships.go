package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/domain"
	"github.com/praxis-labs/agent-memory-go/internal/llm"
)

// RelationshipExtractor proposes typed edges between the entities resolved
// from one segment.
type RelationshipExtractor struct {
	client       llm.Client
	cfg          *domain.Config
	instructions string
	logger       zerolog.Logger
}

// NewRelationshipExtractor builds an extractor bound to the domain's
// relationship vocabulary.
func NewRelationshipExtractor(client llm.Client, cfg *domain.Config, logger zerolog.Logger) *RelationshipExtractor {
	return &RelationshipExtractor{
		client:       client,
		cfg:          cfg,
		instructions: cfg.RelationshipInstructions,
		logger:       logger.With().Str("component", "relationship-extractor").Logger(),
	}
}

// Extract returns edges between the given nodes supported by the segment
// text. Proposed edges with unknown endpoints, out-of-vocabulary labels,
// or self-loops are discarded; duplicates merge evidence and keep the max
// confidence.
func (x *RelationshipExtractor) Extract(ctx context.Context, segmentText string, nodes []apptype.Node) []apptype.Edge {
	if len(nodes) < 2 {
		return []apptype.Edge{}
	}
	raw, err := x.client.Generate(ctx, x.prompt(segmentText, nodes))
	if err != nil {
		x.logger.Warn().Err(err).Msg("relationship extraction call failed")
		return []apptype.Edge{}
	}
	payload := llm.ExtractJSON(raw)
	if payload == "" {
		x.logger.Warn().Msg("relationship extraction response carried no JSON")
		return []apptype.Edge{}
	}

	var parsed struct {
		Relationships []apptype.Edge `json:"relationships"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		var bare []apptype.Edge
		if err2 := json.Unmarshal([]byte(payload), &bare); err2 != nil {
			x.logger.Warn().Err(err).Msg("malformed relationship extraction response")
			return []apptype.Edge{}
		}
		parsed.Relationships = bare
	}

	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}

	merged := make([]apptype.Edge, 0, len(parsed.Relationships))
	index := make(map[string]int)
	now := time.Now().UTC()
	for _, e := range parsed.Relationships {
		e.Relationship = strings.ToLower(strings.TrimSpace(e.Relationship))
		if _, ok := known[e.FromNodeID]; !ok {
			x.logger.Debug().Str("from", e.FromNodeID).Msg("dropping edge with unknown from-node")
			continue
		}
		if _, ok := known[e.ToNodeID]; !ok {
			x.logger.Debug().Str("to", e.ToNodeID).Msg("dropping edge with unknown to-node")
			continue
		}
		if e.FromNodeID == e.ToNodeID {
			continue
		}
		if !x.cfg.HasRelationshipType(e.Relationship) {
			x.logger.Debug().Str("relationship", e.Relationship).Msg("dropping edge with out-of-vocabulary label")
			continue
		}
		if e.Confidence < 0 {
			e.Confidence = 0
		} else if e.Confidence > 1 {
			e.Confidence = 1
		}
		key := e.FromNodeID + "|" + e.ToNodeID + "|" + e.Relationship
		if i, ok := index[key]; ok {
			merged[i].Evidence = append(merged[i].Evidence, e.Evidence...)
			if e.Confidence > merged[i].Confidence {
				merged[i].Confidence = e.Confidence
			}
			continue
		}
		e.CreatedAt = now
		index[key] = len(merged)
		merged = append(merged, e)
	}
	return merged
}

func (x *RelationshipExtractor) prompt(segmentText string, nodes []apptype.Node) string {
	var b strings.Builder
	b.WriteString("Identify relationships between the known entities that the text supports.\n")
	if x.instructions != "" {
		b.WriteString(x.instructions)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Allowed relationship labels: %s\n", strings.Join(x.cfg.GraphMemory.RelationshipTypes, ", "))
	b.WriteString("Known entities (use node ids exactly as given):\n")
	for _, n := range nodes {
		fmt.Fprintf(&b, "- %s | %s (%s): %s\n", n.ID, n.Name, n.Type, n.Description)
	}
	b.WriteString("\nRespond with strict JSON only, matching exactly:\n")
	b.WriteString(`{"relationships":[{"from_node_id":"...","to_node_id":"...","relationship":"...","evidence":["quoted phrase"],"confidence":0.0-1.0}]}`)
	b.WriteString("\nUse an empty list when the text supports none.\n\n")
	fmt.Fprintf(&b, "Text:\n%s\n", segmentText)
	return b.String()
}
