// Package storytree holds the branching narrative as a map-of-nodes-by-id
// arena, the same shape as the teacher's tract plugin's goal hierarchy
// (goals.parent_goal_id, never a pointer), generalized from a single-parent
// DAG-reorder problem into a full tree with navigation, branch deletion and
// lowest-common-ancestor support.
package storytree

import (
	"fmt"

	"github.com/loomengine/loom/internal/delta"
)

// Actor identifies who produced a node's turn.
type Actor string

const (
	ActorPlayer Actor = "player"
	ActorWriter Actor = "writer"
)

// Turn is the narrative payload carried by a node.
type Turn struct {
	Actor            Actor   `json:"actor"`
	Text             string  `json:"text"`
	DirectorThinking *string `json:"director_thinking,omitempty"`
}

// Node is one turn in the branching narrative.
type Node struct {
	ID          string       `json:"id"`
	ParentID    string       `json:"parent_id"`
	ChildrenIDs []string     `json:"children_ids"`
	Turn        Turn         `json:"turn"`
	Deltas      []delta.Pair `json:"deltas"`
}

func (n *Node) clone() *Node {
	cp := *n
	cp.ChildrenIDs = append([]string(nil), n.ChildrenIDs...)
	cp.Deltas = append([]delta.Pair(nil), n.Deltas...)
	return &cp
}

// document is the serialized shape the delta engine patches: nodes as a
// map keyed by id (diffed as a map, never an ordered sequence) plus the
// root id.
type document struct {
	Nodes      map[string]*Node `json:"nodes"`
	RootNodeID string           `json:"root_node_id"`
}

// Tree holds the current branching narrative.
type Tree struct {
	doc document
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{doc: document{Nodes: make(map[string]*Node)}}
}

// AddNode inserts node into the tree. A node with an empty ParentID becomes
// the root; the tree may have at most one root. Otherwise node.ID is
// appended to its parent's ChildrenIDs unless already listed there. A given
// id can only ever name one node in the tree: adding an id that is already
// present returns ErrInvariantViolated.
func (t *Tree) AddNode(node *Node) (*delta.Pair, error) {
	if node == nil || node.ID == "" {
		return nil, fmt.Errorf("storytree: node must have a non-empty id")
	}

	var mutErr error
	pair, err := delta.Mutate(&t.doc, func(d *document) bool {
		if _, exists := d.Nodes[node.ID]; exists {
			mutErr = fmt.Errorf("%w: node %s already exists", ErrInvariantViolated, node.ID)
			return false
		}

		if node.ParentID == "" {
			if d.RootNodeID != "" {
				mutErr = fmt.Errorf("%w: root already exists", ErrInvariantViolated)
				return false
			}
			d.RootNodeID = node.ID
		} else {
			parent, ok := d.Nodes[node.ParentID]
			if !ok {
				mutErr = fmt.Errorf("storytree: parent: %w", NotFound(node.ParentID))
				return false
			}
			found := false
			for _, c := range parent.ChildrenIDs {
				if c == node.ID {
					found = true
					break
				}
			}
			if !found {
				parent.ChildrenIDs = append(parent.ChildrenIDs, node.ID)
			}
		}

		d.Nodes[node.ID] = node.clone()
		return true
	})
	if err != nil {
		return nil, err
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return pair, nil
}

// ApplyDelta patches the tree's internal document with the given ops,
// bypassing Mutate's diff step -- used by the engine to replay a
// previously-captured delta.Pair's Apply or Revert ops during undo/redo and
// branch navigation.
func (t *Tree) ApplyDelta(ops []delta.Op) error {
	target, err := delta.ApplyToValue(t.doc, ops)
	if err != nil {
		return fmt.Errorf("storytree: apply delta: %w", err)
	}
	if target.Nodes == nil {
		target.Nodes = make(map[string]*Node)
	}
	t.doc = target
	return nil
}

// EditNode replaces a node's turn payload only; deltas and children are
// untouched.
func (t *Tree) EditNode(id string, turn Turn) (*delta.Pair, error) {
	var mutErr error
	pair, err := delta.Mutate(&t.doc, func(d *document) bool {
		n, ok := d.Nodes[id]
		if !ok {
			mutErr = NotFound(id)
			return false
		}
		n.Turn = turn
		return true
	})
	if err != nil {
		return nil, err
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return pair, nil
}

// UpdateNode replaces both the turn and the delta bundle -- used when an
// edited writer node re-runs director assessment.
func (t *Tree) UpdateNode(id string, turn Turn, deltas []delta.Pair) (*delta.Pair, error) {
	var mutErr error
	pair, err := delta.Mutate(&t.doc, func(d *document) bool {
		n, ok := d.Nodes[id]
		if !ok {
			mutErr = NotFound(id)
			return false
		}
		n.Turn = turn
		n.Deltas = deltas
		return true
	})
	if err != nil {
		return nil, err
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return pair, nil
}

// DeleteBranch removes id and every descendant, depth-first. It is
// forbidden on the root. The returned nodes are in leaf-first order, so
// re-insertion on undo can proceed parent-first by walking the slice in
// reverse; the returned delta pair restores the original map-of-nodes
// exactly, including the parent's ChildrenIDs order.
func (t *Tree) DeleteBranch(id string) ([]*Node, *delta.Pair, error) {
	if id == "" {
		return nil, nil, fmt.Errorf("storytree: empty id")
	}

	var mutErr error
	var deleted []*Node
	pair, err := delta.Mutate(&t.doc, func(d *document) bool {
		if id == d.RootNodeID {
			mutErr = fmt.Errorf("%w: cannot delete root", ErrInvariantViolated)
			return false
		}
		node, ok := d.Nodes[id]
		if !ok {
			mutErr = NotFound(id)
			return false
		}

		var order []*Node
		var visit func(nid string)
		visit = func(nid string) {
			n := d.Nodes[nid]
			for _, cid := range n.ChildrenIDs {
				visit(cid)
			}
			order = append(order, n.clone())
		}
		visit(id)

		if parent, ok := d.Nodes[node.ParentID]; ok {
			remaining := make([]string, 0, len(parent.ChildrenIDs))
			for _, c := range parent.ChildrenIDs {
				if c != id {
					remaining = append(remaining, c)
				}
			}
			parent.ChildrenIDs = remaining
		}

		for _, n := range order {
			delete(d.Nodes, n.ID)
		}

		deleted = order
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	if mutErr != nil {
		return nil, nil, mutErr
	}
	return deleted, pair, nil
}
