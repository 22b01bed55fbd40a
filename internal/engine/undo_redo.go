package engine

import "context"

// Undo reverts the most recent action: its game deltas then its tree
// deltas, both in reverse order, moving selection to the action's
// from-node and pushing the action onto the redo stack. A delta-apply
// failure here is fatal for the engine instance.
func (e *Engine) Undo(ctx context.Context) (*EngineAction, error) {
	if err := e.beginTurn(); err != nil {
		return nil, err
	}
	defer e.endTurn()

	e.mu.Lock()
	if len(e.undoStack) == 0 {
		e.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	action := e.undoStack[len(e.undoStack)-1]
	e.undoStack = e.undoStack[:len(e.undoStack)-1]
	e.mu.Unlock()

	if err := e.revertPairsReverse(ctx, action.GamePairs); err != nil {
		return nil, e.markUnusable(err)
	}
	for i := len(action.TreePairs) - 1; i >= 0; i-- {
		if err := e.tree.ApplyDelta(action.TreePairs[i].Revert); err != nil {
			return nil, e.markUnusable(err)
		}
	}

	e.mu.Lock()
	e.selectedNodeID = action.FromNodeID
	e.redoStack = append(e.redoStack, action)
	e.mu.Unlock()

	return &action, nil
}

// Redo re-applies the most recently undone action: its tree deltas then
// its game deltas, both in forward order, moving selection to the action's
// to-node and pushing the action back onto the undo stack.
func (e *Engine) Redo(ctx context.Context) (*EngineAction, error) {
	if err := e.beginTurn(); err != nil {
		return nil, err
	}
	defer e.endTurn()

	e.mu.Lock()
	if len(e.redoStack) == 0 {
		e.mu.Unlock()
		return nil, ErrNothingToRedo
	}
	action := e.redoStack[len(e.redoStack)-1]
	e.redoStack = e.redoStack[:len(e.redoStack)-1]
	e.mu.Unlock()

	for _, p := range action.TreePairs {
		if err := e.tree.ApplyDelta(p.Apply); err != nil {
			return nil, e.markUnusable(err)
		}
	}
	if err := e.applyPairsForward(ctx, action.GamePairs); err != nil {
		return nil, e.markUnusable(err)
	}

	e.mu.Lock()
	e.selectedNodeID = action.ToNodeID
	e.undoStack = append(e.undoStack, action)
	e.mu.Unlock()

	return &action, nil
}
