package engine

import (
	"context"
	"fmt"

	"github.com/loomengine/loom/internal/delta"
	"github.com/loomengine/loom/internal/storytree"
)

// Act runs one player turn through the full pipeline: director call,
// tool-call translation into deltas, a player node, a writer call, a
// post-writer director pass, optional memory generation, and a writer node
// -- all folded into a single undoable EngineAction. If any stage fails,
// every delta already applied during this call is reverted and no node is
// appended, so a cancelled turn leaves the engine exactly as it found it.
func (e *Engine) Act(ctx context.Context, playerText string) (*EngineAction, error) {
	if err := e.beginTurn(); err != nil {
		return nil, err
	}
	defer e.endTurn()

	fromNodeID := e.selectedNodeID

	var applied []delta.Pair
	rollback := func() {
		_ = e.revertPairsReverse(ctx, applied)
	}

	directorReq, err := e.buildDirectorRequest(ctx, fromNodeID, playerText)
	if err != nil {
		return nil, err
	}
	directorResp, err := e.director.Complete(ctx, directorReq)
	if err != nil {
		return nil, fmt.Errorf("engine: director call: %w", err)
	}

	pairs, outcomes, err := e.applyToolCalls(directorResp.ToolCalls)
	if err != nil {
		rollback()
		return nil, err
	}
	applied = append(applied, pairs...)

	playerNode := &storytree.Node{
		ID:       newNodeID(),
		ParentID: fromNodeID,
		Turn:     storytree.Turn{Actor: storytree.ActorPlayer, Text: playerText},
		Deltas:   pairs,
	}
	playerTreePair, err := e.tree.AddNode(playerNode)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("engine: append player node: %w", err)
	}

	writerReq, err := e.buildWriterRequest(playerNode.ID, outcomes)
	if err != nil {
		rollback()
		_, _, _ = e.tree.DeleteBranch(playerNode.ID)
		return nil, err
	}
	writerResp, err := e.writer.Complete(ctx, writerReq)
	if err != nil {
		rollback()
		_, _, _ = e.tree.DeleteBranch(playerNode.ID)
		return nil, fmt.Errorf("engine: writer call: %w", err)
	}

	postDirectorReq, err := e.buildDirectorRequest(ctx, playerNode.ID, writerResp.Text)
	if err != nil {
		rollback()
		_, _, _ = e.tree.DeleteBranch(playerNode.ID)
		return nil, err
	}
	postDirectorResp, err := e.director.Complete(ctx, postDirectorReq)
	if err != nil {
		rollback()
		_, _, _ = e.tree.DeleteBranch(playerNode.ID)
		return nil, fmt.Errorf("engine: post-writer director call: %w", err)
	}

	postPairs, _, err := e.applyToolCalls(postDirectorResp.ToolCalls)
	if err != nil {
		rollback()
		_, _, _ = e.tree.DeleteBranch(playerNode.ID)
		return nil, err
	}
	applied = append(applied, postPairs...)

	writerDeltas := append([]delta.Pair{}, postPairs...)

	e.turnCounter++
	if e.cfg.MemoryGenerationInterval > 0 && e.turnCounter%e.cfg.MemoryGenerationInterval == 0 {
		lines, err := summaryTurnLines(e.tree, playerNode.ID, 2*e.cfg.MemoryGenerationInterval)
		if err != nil {
			e.turnCounter--
			rollback()
			_, _, _ = e.tree.DeleteBranch(playerNode.ID)
			return nil, err
		}
		_, memPair, err := e.memories.GenerateAndAddMemory(ctx, e.writer, lines, e.turnCounter)
		if err != nil {
			e.turnCounter--
			rollback()
			_, _, _ = e.tree.DeleteBranch(playerNode.ID)
			return nil, fmt.Errorf("engine: memory generation: %w", err)
		}
		applied = append(applied, *memPair)
		writerDeltas = append(writerDeltas, *memPair)
	}

	writerNode := &storytree.Node{
		ID:       newNodeID(),
		ParentID: playerNode.ID,
		Turn:     storytree.Turn{Actor: storytree.ActorWriter, Text: writerResp.Text},
		Deltas:   writerDeltas,
	}
	writerTreePair, err := e.tree.AddNode(writerNode)
	if err != nil {
		e.turnCounter--
		rollback()
		_, _, _ = e.tree.DeleteBranch(playerNode.ID)
		return nil, fmt.Errorf("engine: append writer node: %w", err)
	}

	e.selectedNodeID = writerNode.ID

	action := EngineAction{
		Kind:       kindAct,
		FromNodeID: fromNodeID,
		ToNodeID:   writerNode.ID,
		GamePairs:  applied,
		TreePairs:  []delta.Pair{*playerTreePair, *writerTreePair},
	}
	e.pushAction(action)
	return &action, nil
}
