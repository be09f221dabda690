// Package extract holds the LLM-driven extractors: typed entities from a
// segment, and typed relationships between resolved entities. Both
// tolerate malformed model output by returning nothing.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/domain"
	"github.com/praxis-labs/agent-memory-go/internal/llm"
)

// EntityExtractor pulls candidate entities out of one rated segment.
type EntityExtractor struct {
	client       llm.Client
	cfg          *domain.Config
	instructions string
	logger       zerolog.Logger
}

// NewEntityExtractor builds an extractor bound to the domain's entity
// vocabulary.
func NewEntityExtractor(client llm.Client, cfg *domain.Config, logger zerolog.Logger) *EntityExtractor {
	return &EntityExtractor{
		client:       client,
		cfg:          cfg,
		instructions: cfg.EntityInstructions,
		logger:       logger.With().Str("component", "entity-extractor").Logger(),
	}
}

// Extract returns the candidate entities mentioned in the segment. An
// empty list is a valid outcome; malformed LLM output degrades to it.
func (x *EntityExtractor) Extract(ctx context.Context, seg apptype.RatedSegment) []apptype.CandidateEntity {
	raw, err := x.client.Generate(ctx, x.prompt(seg))
	if err != nil {
		x.logger.Warn().Err(err).Msg("entity extraction call failed")
		return []apptype.CandidateEntity{}
	}
	payload := llm.ExtractJSON(raw)
	if payload == "" {
		x.logger.Warn().Msg("entity extraction response carried no JSON")
		return []apptype.CandidateEntity{}
	}

	var parsed struct {
		Entities []apptype.CandidateEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		// Some models answer with the bare array.
		var bare []apptype.CandidateEntity
		if err2 := json.Unmarshal([]byte(payload), &bare); err2 != nil {
			x.logger.Warn().Err(err).Msg("malformed entity extraction response")
			return []apptype.CandidateEntity{}
		}
		parsed.Entities = bare
	}

	out := make([]apptype.CandidateEntity, 0, len(parsed.Entities))
	for _, c := range parsed.Entities {
		c.Type = strings.ToLower(strings.TrimSpace(c.Type))
		c.Name = strings.TrimSpace(c.Name)
		c.Description = strings.TrimSpace(c.Description)
		if c.Name == "" {
			continue
		}
		if !x.cfg.HasEntityType(c.Type) {
			x.logger.Debug().Str("type", c.Type).Str("name", c.Name).
				Msg("dropping candidate with out-of-vocabulary type")
			continue
		}
		if c.Description == "" {
			c.Description = c.Name
		}
		out = append(out, c)
	}
	return out
}

func (x *EntityExtractor) prompt(seg apptype.RatedSegment) string {
	var b strings.Builder
	b.WriteString("Extract the entities mentioned in the text below.\n")
	if x.instructions != "" {
		b.WriteString(x.instructions)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Allowed entity types: %s\n", strings.Join(x.cfg.GraphMemory.EntityTypes, ", "))
	b.WriteString("Respond with strict JSON only, matching exactly:\n")
	b.WriteString(`{"entities":[{"type":"...","name":"...","description":"one sentence"}]}`)
	b.WriteString("\nUse an empty list when nothing qualifies.\n\n")
	fmt.Fprintf(&b, "Segment (%s, importance %d", seg.Type, seg.Importance)
	if len(seg.Topics) > 0 {
		fmt.Fprintf(&b, ", topics: %s", strings.Join(seg.Topics, ", "))
	}
	fmt.Fprintf(&b, "):\n%s\n", seg.Text)
	return b.String()
}
