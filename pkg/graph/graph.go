// Package graph reconstructs reply threads from the flat reply_to links of a
// message corpus. Records are addressed by position; edges are stored as
// position lists keyed by parent id, so a Graph holds no pointers between
// records and can be shared by concurrent readers once built.
package graph

import (
	"fmt"

	"github.com/andrew/chat-thread-search/pkg/models"
)

// Graph is the parent -> children adjacency of a corpus
type Graph struct {
	records  []models.MessageRecord
	children map[string][]int
	idIndex  map[string]int
}

// Build scans records once in corpus order. Children lists keep scan order,
// not chronological order. Edges to ids that do not exist are stored but can
// never be reached from a real seed.
func Build(records []models.MessageRecord) *Graph {
	g := &Graph{
		records:  records,
		children: make(map[string][]int),
		idIndex:  make(map[string]int),
	}
	for i, r := range records {
		if r.HasID() {
			if _, seen := g.idIndex[r.ID]; !seen {
				g.idIndex[r.ID] = i
			}
		}
		if r.IsReply() {
			g.children[r.ReplyTo] = append(g.children[r.ReplyTo], i)
		}
	}
	return g
}

// Children returns the positions of direct replies to id, in scan order
func (g *Graph) Children(id string) []int {
	if id == "" {
		return nil
	}
	return g.children[id]
}

// IndexOf returns the position of the first record carrying id
func (g *Graph) IndexOf(id string) (int, bool) {
	i, ok := g.idIndex[id]
	return i, ok
}

// Len returns the number of records in the graph
func (g *Graph) Len() int {
	return len(g.records)
}

type queued struct {
	pos   int
	depth int
}

// ThreadOf walks the reply tree under seedID breadth first. Nodes deeper than
// maxDepth are never enqueued, and the walk stops once maxReplies nodes have
// been emitted, so shallower replies always win when the cap truncates.
// Every record is emitted at most once and the seed is never its own reply,
// which keeps cyclic reply_to data bounded and duplicate-free.
func (g *Graph) ThreadOf(seedID string, maxReplies, maxDepth int) ([]models.Reply, error) {
	if maxReplies < 1 {
		return nil, fmt.Errorf("%w: max replies must be positive, got %d", models.ErrInvalidArgument, maxReplies)
	}
	if maxDepth < 1 {
		return nil, fmt.Errorf("%w: max depth must be positive, got %d", models.ErrInvalidArgument, maxDepth)
	}

	replies := []models.Reply{}
	if seedID == "" {
		return replies, nil
	}

	visited := make(map[int]struct{})
	if pos, ok := g.idIndex[seedID]; ok {
		visited[pos] = struct{}{}
	}

	queue := make([]queued, 0, len(g.children[seedID]))
	for _, c := range g.children[seedID] {
		queue = append(queue, queued{pos: c, depth: 1})
	}

	for head := 0; head < len(queue); head++ {
		item := queue[head]
		if _, seen := visited[item.pos]; seen {
			continue
		}
		visited[item.pos] = struct{}{}

		rec := g.records[item.pos]
		replies = append(replies, models.Reply{Depth: item.depth, Record: rec})
		if len(replies) >= maxReplies {
			break
		}

		if item.depth >= maxDepth {
			continue
		}
		for _, c := range g.Children(rec.ID) {
			queue = append(queue, queued{pos: c, depth: item.depth + 1})
		}
	}

	return replies, nil
}
