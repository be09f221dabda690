// Package graph implements the in-memory knowledge graph with whole-file
// JSON persistence: a node map, an edge list indexed by endpoint, and the
// structural invariants (unique deterministic node IDs, live edge
// endpoints, deduplicated mention history).
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/praxis-labs/agent-memory-go/internal/apptype"
)

const (
	nodesFile    = "graph_nodes.json"
	edgesFile    = "graph_edges.json"
	metadataFile = "graph_metadata.json"
)

// ErrNodeNotFound is returned when an operation references a missing node.
var ErrNodeNotFound = errors.New("node not found")

type metadata struct {
	NodeCount   int       `json:"node_count"`
	EdgeCount   int       `json:"edge_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store holds the graph. All mutations run under one logical mutex; reads
// hold it only for the duration of the atomic read.
type Store struct {
	mu          sync.RWMutex
	dir         string
	nodes       map[string]*apptype.Node
	edges       []*apptype.Edge
	edgesByNode map[string][]int
	lastUpdated time.Time
	logger      zerolog.Logger
}

// NewStore opens (or creates) the graph persisted under dir. Edges whose
// endpoints do not resolve to live nodes are dropped with a warning rather
// than aborting the load.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create graph directory: %w", err)
	}
	s := &Store{
		dir:         dir,
		nodes:       make(map[string]*apptype.Node),
		edgesByNode: make(map[string][]int),
		logger:      logger.With().Str("component", "graph").Logger(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if err := readJSON(filepath.Join(s.dir, nodesFile), &s.nodes); err != nil {
		return fmt.Errorf("failed to load graph nodes: %w", err)
	}
	var edges []*apptype.Edge
	if err := readJSON(filepath.Join(s.dir, edgesFile), &edges); err != nil {
		return fmt.Errorf("failed to load graph edges: %w", err)
	}
	var meta metadata
	if err := readJSON(filepath.Join(s.dir, metadataFile), &meta); err != nil {
		return fmt.Errorf("failed to load graph metadata: %w", err)
	}
	s.lastUpdated = meta.LastUpdated

	for _, e := range edges {
		if _, ok := s.nodes[e.FromNodeID]; !ok {
			s.logger.Warn().Str("from", e.FromNodeID).Str("to", e.ToNodeID).
				Str("relationship", e.Relationship).Msg("dropping edge with missing from-node")
			continue
		}
		if _, ok := s.nodes[e.ToNodeID]; !ok {
			s.logger.Warn().Str("from", e.FromNodeID).Str("to", e.ToNodeID).
				Str("relationship", e.Relationship).Msg("dropping edge with missing to-node")
			continue
		}
		s.indexEdge(e)
	}
	return nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) indexEdge(e *apptype.Edge) {
	idx := len(s.edges)
	s.edges = append(s.edges, e)
	s.edgesByNode[e.FromNodeID] = append(s.edgesByNode[e.FromNodeID], idx)
	if e.ToNodeID != e.FromNodeID {
		s.edgesByNode[e.ToNodeID] = append(s.edgesByNode[e.ToNodeID], idx)
	}
}

// UpsertNode inserts or replaces a node. The ID is always re-derived from
// (type, name) so identity stays deterministic.
func (s *Store) UpsertNode(n *apptype.Node) error {
	if n == nil || n.Name == "" || n.Type == "" {
		return fmt.Errorf("node must carry a type and a name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = apptype.NodeID(n.Type, n.Name)
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		if existing, ok := s.nodes[n.ID]; ok {
			n.CreatedAt = existing.CreatedAt
		} else {
			n.CreatedAt = now
		}
	}
	n.LastUpdated = now
	stored := cloneNode(n)
	s.nodes[n.ID] = &stored
	s.lastUpdated = now
	return s.persistNodes()
}

// GetNode returns a copy of the node with the given ID.
func (s *Store) GetNode(id string) (apptype.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return apptype.Node{}, false
	}
	return cloneNode(n), true
}

// FindNodesByType returns copies of all nodes of the given type.
func (s *Store) FindNodesByType(entityType string) []apptype.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []apptype.Node
	for _, n := range s.nodes {
		if n.Type == entityType {
			out = append(out, cloneNode(n))
		}
	}
	return out
}

// UpsertEdge inserts a directed edge or merges it into an existing one.
// Edges are keyed by unordered endpoint pair plus label: a repeat
// extraction appends its evidence and keeps the max confidence. Endpoints
// must exist; self-loops are rejected.
func (s *Store) UpsertEdge(e apptype.Edge) error {
	if e.Relationship == "" {
		return fmt.Errorf("edge must carry a relationship label")
	}
	if e.FromNodeID == e.ToNodeID {
		return fmt.Errorf("self-loop edge on %s", e.FromNodeID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[e.FromNodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, e.FromNodeID)
	}
	if _, ok := s.nodes[e.ToNodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, e.ToNodeID)
	}

	for _, idx := range s.edgesByNode[e.FromNodeID] {
		existing := s.edges[idx]
		if existing.Relationship != e.Relationship {
			continue
		}
		samePair := (existing.FromNodeID == e.FromNodeID && existing.ToNodeID == e.ToNodeID) ||
			(existing.FromNodeID == e.ToNodeID && existing.ToNodeID == e.FromNodeID)
		if !samePair {
			continue
		}
		existing.Evidence = appendUnique(existing.Evidence, e.Evidence...)
		if e.Confidence > existing.Confidence {
			existing.Confidence = e.Confidence
		}
		s.lastUpdated = time.Now().UTC()
		return s.persistEdges()
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.indexEdge(&e)
	s.lastUpdated = time.Now().UTC()
	return s.persistEdges()
}

// Neighbors returns the nodes and edges reachable from id within depth
// hops. Depth is clamped to 2.
func (s *Store) Neighbors(id string, depth int) ([]apptype.Node, []apptype.Edge, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 2 {
		depth = 2
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	visited := map[string]struct{}{id: {}}
	seenEdges := map[int]struct{}{}
	frontier := []string{id}
	var outEdges []apptype.Edge

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, cur := range frontier {
			for _, idx := range s.edgesByNode[cur] {
				if _, ok := seenEdges[idx]; ok {
					continue
				}
				seenEdges[idx] = struct{}{}
				e := s.edges[idx]
				outEdges = append(outEdges, *e)
				for _, other := range []string{e.FromNodeID, e.ToNodeID} {
					if _, ok := visited[other]; !ok {
						visited[other] = struct{}{}
						next = append(next, other)
					}
				}
			}
		}
		frontier = next
	}

	nodes := make([]apptype.Node, 0, len(visited))
	for nid := range visited {
		if n, ok := s.nodes[nid]; ok {
			nodes = append(nodes, cloneNode(n))
		}
	}
	return nodes, outEdges, nil
}

// AllNodes returns copies of every node.
func (s *Store) AllNodes() []apptype.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]apptype.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, cloneNode(n))
	}
	return out
}

// AllEdges returns copies of every edge.
func (s *Store) AllEdges() []apptype.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]apptype.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, *e)
	}
	return out
}

// Stats summarizes the graph.
func (s *Store) Stats() apptype.GraphStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType := make(map[string]int)
	for _, n := range s.nodes {
		byType[n.Type]++
	}
	return apptype.GraphStats{
		NodeCount:   len(s.nodes),
		EdgeCount:   len(s.edges),
		NodesByType: byType,
		LastUpdated: s.lastUpdated,
	}
}

// persistNodes rewrites the node file and metadata. Callers hold the lock.
func (s *Store) persistNodes() error {
	if err := writeJSON(filepath.Join(s.dir, nodesFile), s.nodes); err != nil {
		return fmt.Errorf("failed to persist graph nodes: %w", err)
	}
	return s.persistMetadata()
}

// persistEdges rewrites the edge file and metadata. Callers hold the lock.
func (s *Store) persistEdges() error {
	if err := writeJSON(filepath.Join(s.dir, edgesFile), s.edges); err != nil {
		return fmt.Errorf("failed to persist graph edges: %w", err)
	}
	return s.persistMetadata()
}

func (s *Store) persistMetadata() error {
	meta := metadata{
		NodeCount:   len(s.nodes),
		EdgeCount:   len(s.edges),
		LastUpdated: s.lastUpdated,
	}
	if err := writeJSON(filepath.Join(s.dir, metadataFile), meta); err != nil {
		return fmt.Errorf("failed to persist graph metadata: %w", err)
	}
	return nil
}

func cloneNode(n *apptype.Node) apptype.Node {
	out := *n
	out.Aliases = append([]string(nil), n.Aliases...)
	if n.Attributes != nil {
		attrs := make(map[string]any, len(n.Attributes))
		for k, v := range n.Attributes {
			attrs[k] = v
		}
		out.Attributes = attrs
	}
	return out
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		if it == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
