// Package resolve decides, for each extracted candidate entity, whether it
// refers to an existing graph node or is new, then merges the outcome into
// the graph and the embeddings index.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
	"github.com/praxis-labs/agent-memory-go/internal/embeddings"
	"github.com/praxis-labs/agent-memory-go/internal/graph"
	"github.com/praxis-labs/agent-memory-go/internal/llm"
)

// maxDescriptionLen bounds a node description; merged descriptions are
// truncated to keep the invariant description < 2KB.
const maxDescriptionLen = 2000

// Config holds the resolver thresholds.
type Config struct {
	TopK                int
	SimilarityThreshold float64
	ConfidenceThreshold float64
}

// DefaultConfig returns the standard resolver thresholds.
func DefaultConfig() Config {
	return Config{TopK: 5, SimilarityThreshold: 0.8, ConfidenceThreshold: 0.8}
}

// Resolver matches candidates against the graph via embedding shortlists
// and an LLM verdict.
type Resolver struct {
	client llm.Client
	graph  *graph.Store
	index  *embeddings.Index
	cfg    Config
	logger zerolog.Logger
}

// New builds a Resolver. The graph store and index are borrowed
// references; the resolver owns neither.
func New(client llm.Client, store *graph.Store, index *embeddings.Index, cfg Config, logger zerolog.Logger) *Resolver {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Resolver{
		client: client,
		graph:  store,
		index:  index,
		cfg:    cfg,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve decides new-vs-existing for every candidate. Embedding or
// generation transport failures abort the batch (the task is recorded as
// failed); a malformed verdict only downgrades that candidate to new.
func (r *Resolver) Resolve(ctx context.Context, candidates []apptype.CandidateEntity) ([]apptype.Resolution, error) {
	resolutions := make([]apptype.Resolution, 0, len(candidates))
	for _, cand := range candidates {
		vec, err := r.client.Embed(ctx, cand.Description)
		if err != nil {
			return nil, fmt.Errorf("failed to embed candidate %q: %w", cand.Name, err)
		}
		shortlist := r.shortlist(vec, cand.Type)
		if len(shortlist) == 0 {
			resolutions = append(resolutions, apptype.Resolution{
				Candidate: cand, NodeID: apptype.NewNodeDecision, IsNew: true, Confidence: 0,
			})
			continue
		}
		res, err := r.askLLM(ctx, cand, shortlist)
		if err != nil {
			return nil, err
		}
		resolutions = append(resolutions, res)
	}
	return resolutions, nil
}

// shortlist returns the same-type graph-entity hits at or above the
// similarity threshold.
func (r *Resolver) shortlist(vec []float32, entityType string) []apptype.SearchHit {
	hits := r.index.Search(vec, r.cfg.TopK, embeddings.Filter{
		Source:     apptype.SourceGraphEntity,
		EntityType: entityType,
	})
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= r.cfg.SimilarityThreshold {
			out = append(out, h)
		}
	}
	return out
}

// askLLM obtains the match verdict for one candidate. The verdict is
// accepted only when its confidence clears the threshold and the chosen
// node was actually on the shortlist; anything else downgrades to new.
func (r *Resolver) askLLM(ctx context.Context, cand apptype.CandidateEntity, shortlist []apptype.SearchHit) (apptype.Resolution, error) {
	raw, err := r.client.Generate(ctx, r.prompt(cand, shortlist))
	if err != nil {
		return apptype.Resolution{}, fmt.Errorf("resolver call failed for %q: %w", cand.Name, err)
	}

	newRes := apptype.Resolution{Candidate: cand, NodeID: apptype.NewNodeDecision, IsNew: true, Confidence: 0}

	payload := llm.ExtractJSON(raw)
	if payload == "" {
		r.logger.Warn().Str("candidate", cand.Name).Msg("resolver response carried no JSON, treating as new")
		return newRes, nil
	}
	var verdict struct {
		ChosenNodeID  string  `json:"chosen_node_id"`
		Justification string  `json:"justification"`
		Confidence    float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		r.logger.Warn().Err(err).Str("candidate", cand.Name).Msg("malformed resolver verdict, treating as new")
		return newRes, nil
	}

	chosen := strings.TrimSpace(verdict.ChosenNodeID)
	if chosen == "" || strings.EqualFold(chosen, apptype.NewNodeDecision) || chosen == "NEW" {
		newRes.Justification = verdict.Justification
		return newRes, nil
	}
	onShortlist := false
	for _, h := range shortlist {
		if h.Metadata.NodeID == chosen {
			onShortlist = true
			break
		}
	}
	if !onShortlist {
		r.logger.Warn().Str("candidate", cand.Name).Str("chosen", chosen).
			Msg("resolver chose a node outside the shortlist, treating as new")
		return newRes, nil
	}
	if verdict.Confidence < r.cfg.ConfidenceThreshold {
		r.logger.Debug().Str("candidate", cand.Name).Str("chosen", chosen).
			Float64("confidence", verdict.Confidence).Msg("resolver confidence below threshold, treating as new")
		newRes.Justification = verdict.Justification
		newRes.Confidence = verdict.Confidence
		return newRes, nil
	}
	return apptype.Resolution{
		Candidate:     cand,
		NodeID:        chosen,
		IsNew:         false,
		Justification: verdict.Justification,
		Confidence:    verdict.Confidence,
	}, nil
}

func (r *Resolver) prompt(cand apptype.CandidateEntity, shortlist []apptype.SearchHit) string {
	var b strings.Builder
	b.WriteString("Decide whether the candidate entity below is the same as one of the known entities.\n")
	b.WriteString("Respond with strict JSON only, matching exactly:\n")
	b.WriteString(`{"chosen_node_id":"<node id or <NEW>>","justification":"...","confidence":0.0-1.0}`)
	b.WriteString("\n\nCandidate:\n")
	fmt.Fprintf(&b, "- %s (%s): %s\n", cand.Name, cand.Type, cand.Description)
	b.WriteString("\nKnown entities:\n")
	for _, h := range shortlist {
		fmt.Fprintf(&b, "- %s | %s (%s): %s\n", h.Metadata.NodeID, h.Metadata.EntityName, h.Metadata.EntityType, h.Text)
	}
	return b.String()
}

// Apply merges resolutions into the graph store and upserts embeddings for
// new or changed descriptions. It returns the final node set for the
// segment, one node per distinct resolution target (same-batch candidates
// that collapse onto one node contribute aliases instead of duplicates).
func (r *Resolver) Apply(ctx context.Context, resolutions []apptype.Resolution, conversationGUID string) ([]apptype.Node, error) {
	byNode := make(map[string]int)
	var out []apptype.Node

	for _, res := range resolutions {
		nodeID := res.NodeID
		if res.IsNew {
			nodeID = apptype.NodeID(res.Candidate.Type, res.Candidate.Name)
		}
		if nodeID == "" || nodeID == ":" {
			continue
		}

		if i, ok := byNode[nodeID]; ok {
			// Same-batch collapse: record the extra surface form as an alias.
			out[i].AddAlias(res.Candidate.Name)
			if err := r.graph.UpsertNode(&out[i]); err != nil {
				return nil, err
			}
			continue
		}

		node, changed := r.mergeOne(res, nodeID, conversationGUID)
		if err := r.graph.UpsertNode(node); err != nil {
			return nil, fmt.Errorf("failed to upsert node %s: %w", nodeID, err)
		}
		if changed {
			if err := r.upsertEmbedding(ctx, node); err != nil {
				return nil, err
			}
		}
		byNode[node.ID] = len(out)
		out = append(out, *node)
	}
	return out, nil
}

// mergeOne produces the post-resolution node and reports whether its
// description changed (requiring an embedding refresh). A new candidate
// whose deterministic ID collides with a live node is treated as a match:
// same ID means same node.
func (r *Resolver) mergeOne(res apptype.Resolution, nodeID, conversationGUID string) (*apptype.Node, bool) {
	existing, found := r.graph.GetNode(nodeID)
	if !found {
		desc := truncate(res.Candidate.Description, maxDescriptionLen)
		if desc == "" {
			desc = res.Candidate.Name
		}
		node := &apptype.Node{
			ID:           nodeID,
			Type:         res.Candidate.Type,
			Name:         res.Candidate.Name,
			Description:  desc,
			MentionCount: 1,
		}
		node.AppendConversationGUID(conversationGUID)
		return node, true
	}

	node := existing
	changed := false
	// Keep the longer description, bounded.
	if len(res.Candidate.Description) > len(node.Description) {
		node.Description = truncate(res.Candidate.Description, maxDescriptionLen)
		changed = true
	}
	node.AddAlias(res.Candidate.Name)
	node.MentionCount++
	node.AppendConversationGUID(conversationGUID)
	return &node, changed
}

func (r *Resolver) upsertEmbedding(ctx context.Context, node *apptype.Node) error {
	vec, err := r.client.Embed(ctx, node.Description)
	if err != nil {
		return fmt.Errorf("failed to embed description for %s: %w", node.ID, err)
	}
	rec := apptype.EmbeddingRecord{
		Vector: vec,
		Text:   node.Description,
		Metadata: apptype.EmbeddingMetadata{
			Source:     apptype.SourceGraphEntity,
			NodeID:     node.ID,
			EntityName: node.Name,
			EntityType: node.Type,
		},
	}
	if err := r.index.Upsert(rec); err != nil {
		return fmt.Errorf("failed to upsert embedding for %s: %w", node.ID, err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
