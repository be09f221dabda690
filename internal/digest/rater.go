// Package digest turns one conversation turn into rated segments. All
// "interesting vs. ignorable" judgement happens here; downstream
// components never re-parse raw chat.
package digest

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

// Rater segments and rates conversation turns via the LLM.
type Rater struct {
	client       llm.Client
	taxonomy     *domain.Taxonomy
	instructions string
	logger       zerolog.Logger
}

// NewRater builds a Rater for the given domain.
func NewRater(client llm.Client, cfg *domain.Config, logger zerolog.Logger) *Rater {
	return &Rater{
		client:       client,
		taxonomy:     cfg.Taxonomy(),
		instructions: cfg.DigestInstructions,
		logger:       logger.With().Str("component", "digest").Logger(),
	}
}

// Rate produces the digest for one turn, given up to a few prior turns for
// context. It never fails the conversational path: on any LLM or parse
// problem it degrades to a single unimportant segment covering the whole
// content.
func (r *Rater) Rate(ctx context.Context, role apptype.Role, content string, recent []apptype.Entry) *apptype.Digest {
	if strings.TrimSpace(content) == "" {
		return &apptype.Digest{}
	}

	raw, err := r.client.Generate(ctx, r.prompt(role, content, recent))
	if err != nil {
		r.logger.Warn().Err(err).Msg("digest rating failed, using fallback segment")
		return r.fallback(content)
	}

	parsed := struct {
		RatedSegments []apptype.RatedSegment `json:"rated_segments"`
	}{}
	payload := llm.ExtractJSON(raw)
	if payload == "" {
		r.logger.Warn().Msg("digest response carried no JSON, using fallback segment")
		return r.fallback(content)
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		r.logger.Warn().Err(err).Msg("malformed digest response, using fallback segment")
		return r.fallback(content)
	}
	if len(parsed.RatedSegments) == 0 {
		return r.fallback(content)
	}

	segments := make([]apptype.RatedSegment, 0, len(parsed.RatedSegments))
	for _, seg := range parsed.RatedSegments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		seg.Importance = clamp(seg.Importance, 1, 5)
		if !validSegmentType(seg.Type) {
			seg.Type = apptype.SegmentInformation
		}
		seg.Topics = r.taxonomy.Normalize(seg.Topics)
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return r.fallback(content)
	}
	return &apptype.Digest{Segments: segments}
}

func (r *Rater) fallback(content string) *apptype.Digest {
	return &apptype.Digest{Segments: []apptype.RatedSegment{{
		Text:         content,
		Importance:   3,
		Type:         apptype.SegmentInformation,
		MemoryWorthy: false,
	}}}
}

func (r *Rater) prompt(role apptype.Role, content string, recent []apptype.Entry) string {
	var b strings.Builder
	b.WriteString("You segment one conversation turn into memory-worthy pieces and rate each.\n")
	if r.instructions != "" {
		b.WriteString(r.instructions)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with strict JSON only, matching exactly:\n")
	b.WriteString(`{"rated_segments":[{"text":"...","importance":1-5,"type":"information|action|query|command","topics":["..."],"memory_worthy":true|false}]}`)
	b.WriteString("\n\n")
	if len(recent) > 0 {
		b.WriteString("Prior turns for context:\n")
		for _, e := range recent {
			fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Turn to rate (%s): %s\n", role, content)
	return b.String()
}

// SegmentDigestText renders the digest line stored alongside a queued
// segment.
func SegmentDigestText(s apptype.RatedSegment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s importance=%d", s.Type, s.Importance)
	if len(s.Topics) > 0 {
		fmt.Fprintf(&b, " topics=%s", strings.Join(s.Topics, ","))
	}
	b.WriteString("] ")
	b.WriteString(s.Text)
	return b.String()
}

func validSegmentType(t apptype.SegmentType) bool {
	switch t {
	case apptype.SegmentInformation, apptype.SegmentAction, apptype.SegmentQuery, apptype.SegmentCommand:
		return true
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
