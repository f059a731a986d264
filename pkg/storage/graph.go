package storage

import (
	"context"
	"fmt"
	"strings"
)

// GraphRecord is one node returned by graph_traverse: the matched entity (or
// chunk/library item id for source/continues/references/see_also edges)
// together with the depth at which it was discovered and the edge that led
// to it.
type GraphRecord struct {
	NodeID string
	Depth  int
	Via    RelType
}

// GraphTraverse implements graph_traverse(start, edge_spec, depth) ->
// Vec<record>: a breadth-first walk from start, bounded by depth and
// restricted to the edge types/direction named in spec, that never
// re-visits a node. The property graph is cyclic by design (allied_with,
// knows, see_also can form loops), so the visited-set is not an
// optimization — it is required for termination.
func (s *Store) GraphTraverse(ctx context.Context, start string, spec EdgeSpec, depth int) ([]GraphRecord, error) {
	if depth <= 0 {
		return nil, nil
	}

	outgoing := spec.Outgoing || !spec.Incoming
	incoming := spec.Incoming

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var records []GraphRecord

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		edges, err := s.fetchEdges(ctx, frontier, spec.RelTypes, outgoing, incoming)
		if err != nil {
			return nil, fmt.Errorf("storage: graph traverse: depth %d: %w", d, err)
		}

		var next []string
		for _, e := range edges {
			if visited[e.nodeID] {
				continue
			}
			visited[e.nodeID] = true
			records = append(records, GraphRecord{NodeID: e.nodeID, Depth: d, Via: e.relType})
			next = append(next, e.nodeID)
		}
		frontier = next
	}
	return records, nil
}

type graphEdge struct {
	nodeID  string
	relType RelType
}

// fetchEdges returns, for the given frontier of node ids, every neighbor
// reachable by one hop honoring direction and an optional rel-type filter.
// Outgoing and incoming directions are queried independently (each with its
// own placeholder range) rather than unioned into one statement, since a
// single query cannot reuse the same positional arguments for both arms.
func (s *Store) fetchEdges(ctx context.Context, frontier []string, relTypes []RelType, outgoing, incoming bool) ([]graphEdge, error) {
	var edges []graphEdge
	if outgoing {
		out, err := s.fetchDirectedEdges(ctx, frontier, relTypes, "target_id", "source_id")
		if err != nil {
			return nil, err
		}
		edges = append(edges, out...)
	}
	if incoming {
		in, err := s.fetchDirectedEdges(ctx, frontier, relTypes, "source_id", "target_id")
		if err != nil {
			return nil, err
		}
		edges = append(edges, in...)
	}
	return edges, nil
}

// fetchDirectedEdges runs one directed one-hop query: neighborCol is the
// column to return as the discovered node, frontierCol is the column the
// frontier ids are matched against.
func (s *Store) fetchDirectedEdges(ctx context.Context, frontier []string, relTypes []RelType, neighborCol, frontierCol string) ([]graphEdge, error) {
	args := make([]any, 0, len(frontier)+len(relTypes))
	placeholders := make([]string, len(frontier))
	for i, id := range frontier {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	relFilter := ""
	if len(relTypes) > 0 {
		relPlaceholders := make([]string, len(relTypes))
		for i, rt := range relTypes {
			args = append(args, string(rt))
			relPlaceholders[i] = fmt.Sprintf("$%d", len(args))
		}
		relFilter = "AND rel_type IN (" + strings.Join(relPlaceholders, ",") + ")"
	}

	q := fmt.Sprintf(
		"SELECT %s, rel_type FROM relationships WHERE %s IN (%s) %s",
		neighborCol, frontierCol, strings.Join(placeholders, ","), relFilter)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []graphEdge
	for rows.Next() {
		var e graphEdge
		var relType string
		if err := rows.Scan(&e.nodeID, &relType); err != nil {
			return nil, err
		}
		e.relType = RelType(relType)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
