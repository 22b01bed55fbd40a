package engine

import (
	"context"
	"fmt"

	"github.com/loomengine/loom/internal/delta"
	"github.com/loomengine/loom/internal/storytree"
)

// Select time-travels to targetID: it computes the lowest common ancestor
// of the current and target nodes, reverts every node's deltas on the
// current-to-LCA suffix (deepest first), then applies every node's deltas
// on the LCA-to-target suffix (shallowest first), and records the whole
// movement as one undoable EngineAction.
func (e *Engine) Select(ctx context.Context, targetID string) (*EngineAction, error) {
	if err := e.beginTurn(); err != nil {
		return nil, err
	}
	defer e.endTurn()

	current := e.selectedNodeID
	if current == targetID {
		return nil, nil
	}

	currentPath, err := e.tree.GetPathToNode(current)
	if err != nil {
		return nil, err
	}
	targetPath, err := e.tree.GetPathToNode(targetID)
	if err != nil {
		return nil, err
	}

	lcaIdx := -1
	for i := 0; i < len(currentPath) && i < len(targetPath); i++ {
		if currentPath[i].ID != targetPath[i].ID {
			break
		}
		lcaIdx = i
	}
	if lcaIdx < 0 {
		return nil, fmt.Errorf("engine: select: %s and %s share no common ancestor", current, targetID)
	}

	var gamePairs []delta.Pair
	for i := len(currentPath) - 1; i > lcaIdx; i-- {
		node := currentPath[i]
		for j := len(node.Deltas) - 1; j >= 0; j-- {
			p := node.Deltas[j]
			if err := e.dispatchOps(ctx, p.Revert); err != nil {
				return nil, err
			}
			gamePairs = append(gamePairs, reverseTreePair(p))
		}
	}
	for i := lcaIdx + 1; i < len(targetPath); i++ {
		node := targetPath[i]
		for _, p := range node.Deltas {
			if err := e.dispatchOps(ctx, p.Apply); err != nil {
				return nil, err
			}
			gamePairs = append(gamePairs, p)
		}
	}

	e.selectedNodeID = targetID

	action := EngineAction{Kind: kindSelect, FromNodeID: current, ToNodeID: targetID, GamePairs: gamePairs}
	e.pushAction(action)
	return &action, nil
}

// Switch cycles the current node's selection among its siblings in
// parent.children_ids order, wrapping around. dir must be "next" or
// "prev".
func (e *Engine) Switch(ctx context.Context, dir string) (*EngineAction, error) {
	current := e.SelectedNodeID()
	node, ok := e.tree.GetNode(current)
	if !ok {
		return nil, storytree.NotFound(current)
	}
	if node.ParentID == "" {
		return nil, fmt.Errorf("engine: switch: root node has no siblings")
	}
	parent, ok := e.tree.GetNode(node.ParentID)
	if !ok {
		return nil, storytree.NotFound(node.ParentID)
	}

	siblings := parent.ChildrenIDs
	idx := -1
	for i, id := range siblings {
		if id == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("engine: switch: node missing from its own parent's children")
	}

	var nextIdx int
	switch dir {
	case "next":
		nextIdx = (idx + 1) % len(siblings)
	case "prev":
		nextIdx = (idx - 1 + len(siblings)) % len(siblings)
	default:
		return nil, fmt.Errorf("engine: switch: direction must be \"next\" or \"prev\", got %q", dir)
	}

	return e.Select(ctx, siblings[nextIdx])
}

// Erase deletes id's entire branch, time-traveling the world/memory/plot
// state back to id's parent first. Forbidden at the root.
func (e *Engine) Erase(ctx context.Context, id string) (*EngineAction, error) {
	if err := e.beginTurn(); err != nil {
		return nil, err
	}
	defer e.endTurn()

	root, ok := e.tree.GetRootNode()
	if ok && root.ID == id {
		return nil, ErrEraseRoot
	}
	node, ok := e.tree.GetNode(id)
	if !ok {
		return nil, storytree.NotFound(id)
	}

	var gamePairs []delta.Pair
	for j := len(node.Deltas) - 1; j >= 0; j-- {
		p := node.Deltas[j]
		if err := e.dispatchOps(ctx, p.Revert); err != nil {
			return nil, err
		}
		gamePairs = append(gamePairs, reverseTreePair(p))
	}

	_, treeDeletePair, err := e.tree.DeleteBranch(id)
	if err != nil {
		return nil, err
	}

	e.selectedNodeID = node.ParentID

	action := EngineAction{
		Kind:       kindErase,
		FromNodeID: id,
		ToNodeID:   node.ParentID,
		GamePairs:  gamePairs,
		TreePairs:  []delta.Pair{*treeDeletePair},
	}
	e.pushAction(action)
	return &action, nil
}

// Retry requires a writer node: it time-travels to the node's parent and
// re-runs the writer half of the turn pipeline (writer call, post-writer
// director pass, optional memory generation) to produce a new sibling
// writer node. The original node and its subtree are left in the tree.
func (e *Engine) Retry(ctx context.Context, id string) (*EngineAction, error) {
	if err := e.beginTurn(); err != nil {
		return nil, err
	}
	defer e.endTurn()

	node, ok := e.tree.GetNode(id)
	if !ok {
		return nil, storytree.NotFound(id)
	}
	if node.Turn.Actor != storytree.ActorWriter {
		return nil, ErrRetryRequiresWriterNode
	}

	parentID := node.ParentID
	var gamePairs []delta.Pair
	for j := len(node.Deltas) - 1; j >= 0; j-- {
		p := node.Deltas[j]
		if err := e.dispatchOps(ctx, p.Revert); err != nil {
			return nil, err
		}
		gamePairs = append(gamePairs, reverseTreePair(p))
	}
	e.selectedNodeID = parentID

	writerDeltas, writerText, err := e.runWriterHalf(ctx, parentID)
	if err != nil {
		_ = e.revertPairsReverse(ctx, gamePairs)
		e.selectedNodeID = id
		return nil, err
	}
	gamePairs = append(gamePairs, writerDeltas...)

	newNode := &storytree.Node{
		ID:       newNodeID(),
		ParentID: parentID,
		Turn:     storytree.Turn{Actor: storytree.ActorWriter, Text: writerText},
		Deltas:   writerDeltas,
	}
	treePair, err := e.tree.AddNode(newNode)
	if err != nil {
		return nil, fmt.Errorf("engine: retry: append sibling writer node: %w", err)
	}

	e.selectedNodeID = newNode.ID

	action := EngineAction{
		Kind:       kindRetry,
		FromNodeID: id,
		ToNodeID:   newNode.ID,
		GamePairs:  gamePairs,
		TreePairs:  []delta.Pair{*treePair},
	}
	e.pushAction(action)
	return &action, nil
}

// Edit updates a node's text. Writer nodes re-run only the post-writer
// director assessment: the old deltas are reverted, the new ones applied,
// and the node's (turn, deltas) pair is replaced via update_node. Player
// nodes update their text only, with no delta change.
func (e *Engine) Edit(ctx context.Context, id, newText string) (*EngineAction, error) {
	if err := e.beginTurn(); err != nil {
		return nil, err
	}
	defer e.endTurn()

	node, ok := e.tree.GetNode(id)
	if !ok {
		return nil, storytree.NotFound(id)
	}

	if node.Turn.Actor == storytree.ActorPlayer {
		treePair, err := e.tree.EditNode(id, storytree.Turn{Actor: storytree.ActorPlayer, Text: newText})
		if err != nil {
			return nil, err
		}
		action := EngineAction{Kind: kindEdit, FromNodeID: id, ToNodeID: id, TreePairs: []delta.Pair{*treePair}}
		e.pushAction(action)
		return &action, nil
	}

	var gamePairs []delta.Pair
	for j := len(node.Deltas) - 1; j >= 0; j-- {
		p := node.Deltas[j]
		if err := e.dispatchOps(ctx, p.Revert); err != nil {
			return nil, err
		}
		gamePairs = append(gamePairs, reverseTreePair(p))
	}

	postDirectorReq, err := e.buildDirectorRequest(ctx, node.ParentID, newText)
	if err != nil {
		_ = e.revertPairsReverse(ctx, gamePairs)
		return nil, err
	}
	postDirectorResp, err := e.director.Complete(ctx, postDirectorReq)
	if err != nil {
		_ = e.revertPairsReverse(ctx, gamePairs)
		return nil, fmt.Errorf("engine: edit: post-writer director call: %w", err)
	}
	newPairs, _, err := e.applyToolCalls(postDirectorResp.ToolCalls)
	if err != nil {
		_ = e.revertPairsReverse(ctx, gamePairs)
		return nil, err
	}
	gamePairs = append(gamePairs, newPairs...)

	treePair, err := e.tree.UpdateNode(id, storytree.Turn{Actor: storytree.ActorWriter, Text: newText}, newPairs)
	if err != nil {
		return nil, fmt.Errorf("engine: edit: update_node: %w", err)
	}

	action := EngineAction{
		Kind:       kindEdit,
		FromNodeID: id,
		ToNodeID:   id,
		GamePairs:  gamePairs,
		TreePairs:  []delta.Pair{*treePair},
	}
	e.pushAction(action)
	return &action, nil
}

// runWriterHalf runs the writer call, the post-writer director pass, and
// optional memory generation, returning the combined forward-applied
// delta pairs and the writer's produced text.
func (e *Engine) runWriterHalf(ctx context.Context, fromNodeID string) ([]delta.Pair, string, error) {
	writerReq, err := e.buildWriterRequest(fromNodeID, nil)
	if err != nil {
		return nil, "", err
	}
	writerResp, err := e.writer.Complete(ctx, writerReq)
	if err != nil {
		return nil, "", fmt.Errorf("engine: writer call: %w", err)
	}

	postDirectorReq, err := e.buildDirectorRequest(ctx, fromNodeID, writerResp.Text)
	if err != nil {
		return nil, "", err
	}
	postDirectorResp, err := e.director.Complete(ctx, postDirectorReq)
	if err != nil {
		return nil, "", fmt.Errorf("engine: post-writer director call: %w", err)
	}
	pairs, _, err := e.applyToolCalls(postDirectorResp.ToolCalls)
	if err != nil {
		return nil, "", err
	}

	e.turnCounter++
	if e.cfg.MemoryGenerationInterval > 0 && e.turnCounter%e.cfg.MemoryGenerationInterval == 0 {
		lines, err := summaryTurnLines(e.tree, fromNodeID, 2*e.cfg.MemoryGenerationInterval)
		if err != nil {
			return nil, "", err
		}
		_, memPair, err := e.memories.GenerateAndAddMemory(ctx, e.writer, lines, e.turnCounter)
		if err != nil {
			return nil, "", fmt.Errorf("engine: memory generation: %w", err)
		}
		pairs = append(pairs, *memPair)
	}

	return pairs, writerResp.Text, nil
}
