package storytree

import "fmt"

// GetNode returns the node with the given id.
func (t *Tree) GetNode(id string) (*Node, bool) {
	n, ok := t.doc.Nodes[id]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// GetRootNode returns the tree's root node, if one has been added.
func (t *Tree) GetRootNode() (*Node, bool) {
	if t.doc.RootNodeID == "" {
		return nil, false
	}
	return t.GetNode(t.doc.RootNodeID)
}

// NodeCount returns the number of nodes currently in the tree.
func (t *Tree) NodeCount() int {
	return len(t.doc.Nodes)
}

// GetPathToNode returns the root-first ordered sequence of nodes from the
// root to id, inclusive.
func (t *Tree) GetPathToNode(id string) ([]*Node, error) {
	var reversed []*Node
	cur := id
	for {
		n, ok := t.doc.Nodes[cur]
		if !ok {
			return nil, NotFound(cur)
		}
		reversed = append(reversed, n.clone())
		if n.ParentID == "" {
			break
		}
		cur = n.ParentID
	}
	path := make([]*Node, len(reversed))
	for i, n := range reversed {
		path[len(reversed)-1-i] = n
	}
	return path, nil
}

// GetDepth returns id's depth, with the root at depth 1.
func (t *Tree) GetDepth(id string) (int, error) {
	path, err := t.GetPathToNode(id)
	if err != nil {
		return 0, err
	}
	return len(path), nil
}

// GetRecentTurns returns the last n turns on the root-to-id path, in
// narrative (root-to-id) order.
func (t *Tree) GetRecentTurns(id string, n int) ([]Turn, error) {
	path, err := t.GetPathToNode(id)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	start := len(path) - n
	if start < 0 {
		start = 0
	}
	turns := make([]Turn, 0, len(path)-start)
	for _, node := range path[start:] {
		turns = append(turns, node.Turn)
	}
	return turns, nil
}

// GetNodesAtTurn returns the breadth-first frontier of nodes at depth d
// (root is depth 1).
func (t *Tree) GetNodesAtTurn(d int) []*Node {
	if t.doc.RootNodeID == "" || d < 1 {
		return nil
	}
	frontier := []string{t.doc.RootNodeID}
	depth := 1
	for depth < d {
		var next []string
		for _, id := range frontier {
			n := t.doc.Nodes[id]
			next = append(next, n.ChildrenIDs...)
		}
		if len(next) == 0 {
			return nil
		}
		frontier = next
		depth++
	}
	out := make([]*Node, 0, len(frontier))
	for _, id := range frontier {
		out = append(out, t.doc.Nodes[id].clone())
	}
	return out
}

// GetDeepestNode returns the deepest node in the tree, ties broken by first
// discovery in breadth-first order.
func (t *Tree) GetDeepestNode() (*Node, error) {
	if t.doc.RootNodeID == "" {
		return nil, fmt.Errorf("storytree: tree is empty")
	}
	frontier := []string{t.doc.RootNodeID}
	deepestID := frontier[0]
	for len(frontier) > 0 {
		deepestID = frontier[0]
		var next []string
		for _, id := range frontier {
			n := t.doc.Nodes[id]
			next = append(next, n.ChildrenIDs...)
		}
		frontier = next
	}
	return t.GetNode(deepestID)
}

// CheckInvariants verifies: at most one root; every children_ids entry
// resolves to a live node; every non-root node's parent_id resolves; the
// tree is acyclic.
func (t *Tree) CheckInvariants() error {
	if t.doc.RootNodeID != "" {
		if _, ok := t.doc.Nodes[t.doc.RootNodeID]; !ok {
			return fmt.Errorf("%w: root_node_id does not resolve", ErrInvariantViolated)
		}
	}

	for id, n := range t.doc.Nodes {
		for _, c := range n.ChildrenIDs {
			if _, ok := t.doc.Nodes[c]; !ok {
				return fmt.Errorf("%w: node %s references missing child %s", ErrInvariantViolated, id, c)
			}
		}
		if id != t.doc.RootNodeID {
			if n.ParentID == "" {
				return fmt.Errorf("%w: non-root node %s has empty parent_id", ErrInvariantViolated, id)
			}
			if _, ok := t.doc.Nodes[n.ParentID]; !ok {
				return fmt.Errorf("%w: node %s references missing parent %s", ErrInvariantViolated, id, n.ParentID)
			}
		}
	}

	if t.doc.RootNodeID != "" {
		visited := make(map[string]bool, len(t.doc.Nodes))
		var visit func(id string) error
		visit = func(id string) error {
			if visited[id] {
				return fmt.Errorf("%w: cycle detected at %s", ErrInvariantViolated, id)
			}
			visited[id] = true
			for _, c := range t.doc.Nodes[id].ChildrenIDs {
				if err := visit(c); err != nil {
					return err
				}
			}
			return nil
		}
		if err := visit(t.doc.RootNodeID); err != nil {
			return err
		}
		if len(visited) != len(t.doc.Nodes) {
			return fmt.Errorf("%w: unreachable nodes present", ErrInvariantViolated)
		}
	}

	return nil
}

// Serialize returns the lossless on-disk form: the map of nodes plus the
// root id.
func (t *Tree) Serialize() ([]byte, error) {
	return marshalDocument(t.doc)
}

// Deserialize returns a new tree built from the given serialized form.
func Deserialize(data []byte) (*Tree, error) {
	doc, err := unmarshalDocument(data)
	if err != nil {
		return nil, err
	}
	if doc.Nodes == nil {
		doc.Nodes = make(map[string]*Node)
	}
	return &Tree{doc: doc}, nil
}
