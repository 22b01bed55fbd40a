// Package engine is the turn-pipeline coordinator: it sequences director
// and writer provider calls, folds their tool calls into world-state and
// memory deltas, appends nodes to the story tree, and exposes undo/redo and
// branch navigation, grounded on the teacher's coordinator-trio shape
// (internal/worker's snapshot/compaction/embedding/decay coordinators each
// wrap one backend with serialized access and bounded retries) generalized
// here into one coordinator sequencing two provider roles and three owned
// documents.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/loomengine/loom/internal/delta"
	"github.com/loomengine/loom/internal/memory"
	"github.com/loomengine/loom/internal/plotcard"
	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/storytree"
	"github.com/loomengine/loom/internal/vectorstore"
	"github.com/loomengine/loom/internal/worldstate"
)

// Engine coordinates one play session's director/writer pipeline over its
// owned documents. It is not safe for concurrent use from more than one
// goroutine at a time; the turn-in-flight guard enforces the single-turn
// ordering guarantee, not full mutual exclusion.
type Engine struct {
	mu sync.Mutex

	cfg Config

	tree      *storytree.Tree
	world     *worldstate.State
	memories  *memory.Bank
	plotcards *plotcard.Index

	director provider.Chat
	writer   provider.Chat

	selectedNodeID string
	turnCounter    int
	turnInFlight   bool
	unusable       bool

	undoStack []EngineAction
	redoStack []EngineAction

	logger *slog.Logger
}

// New constructs an engine around an already-rooted story tree (the root
// node must already be appended) and the three live documents it owns.
func New(tree *storytree.Tree, world *worldstate.State, memories *memory.Bank, plotcards *plotcard.Index, director, writer provider.Chat, cfg Config) (*Engine, error) {
	root, ok := tree.GetRootNode()
	if !ok {
		return nil, fmt.Errorf("engine: tree must have a root node before an engine can be attached")
	}

	return &Engine{
		cfg:            cfg.withDefaults(),
		tree:           tree,
		world:          world,
		memories:       memories,
		plotcards:      plotcards,
		director:       director,
		writer:         writer,
		selectedNodeID: root.ID,
		logger:         slog.Default().With("component", "engine"),
	}, nil
}

// Resume constructs an engine from a previously saved session: selectedNodeID,
// turnCounter, and the undo/redo stacks are restored verbatim instead of
// starting fresh at the tree's root, as New does.
func Resume(tree *storytree.Tree, world *worldstate.State, memories *memory.Bank, plotcards *plotcard.Index, director, writer provider.Chat, cfg Config, selectedNodeID string, turnCounter int, undoStack, redoStack []EngineAction) (*Engine, error) {
	if _, ok := tree.GetNode(selectedNodeID); !ok {
		return nil, fmt.Errorf("engine: resume: selected node %s not present in tree", selectedNodeID)
	}
	return &Engine{
		cfg:            cfg.withDefaults(),
		tree:           tree,
		world:          world,
		memories:       memories,
		plotcards:      plotcards,
		director:       director,
		writer:         writer,
		selectedNodeID: selectedNodeID,
		turnCounter:    turnCounter,
		undoStack:      undoStack,
		redoStack:      redoStack,
		logger:         slog.Default().With("component", "engine"),
	}, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// History returns copies of the undo and redo stacks, e.g. for session
// serialization.
func (e *Engine) History() (undo, redo []EngineAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	undo = append([]EngineAction{}, e.undoStack...)
	redo = append([]EngineAction{}, e.redoStack...)
	return undo, redo
}

// TurnCounter returns the number of completed turns.
func (e *Engine) TurnCounter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turnCounter
}

// SelectedNodeID returns the currently selected node's id.
func (e *Engine) SelectedNodeID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectedNodeID
}

// Tree exposes the underlying story tree for read-only navigation helpers.
func (e *Engine) Tree() *storytree.Tree { return e.tree }

// Stats reports a point-in-time snapshot of the session's size, used by
// the debug HTTP surface.
type Stats struct {
	TurnCounter   int                `json:"turn_counter"`
	NodeCount     int                `json:"node_count"`
	UndoDepth     int                `json:"undo_depth"`
	RedoDepth     int                `json:"redo_depth"`
	MemoryStats   *vectorstore.Stats `json:"memory_stats"`
	PlotCardStats *vectorstore.Stats `json:"plot_card_stats"`
}

// Stats gathers the current session's size and backing-store stats.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	e.mu.Lock()
	turnCounter := e.turnCounter
	undoDepth := len(e.undoStack)
	redoDepth := len(e.redoStack)
	e.mu.Unlock()

	memStats, err := e.memories.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: stats: memory bank: %w", err)
	}
	cardStats, err := e.plotcards.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: stats: plot cards: %w", err)
	}

	return &Stats{
		TurnCounter:   turnCounter,
		NodeCount:     e.tree.NodeCount(),
		UndoDepth:     undoDepth,
		RedoDepth:     redoDepth,
		MemoryStats:   memStats,
		PlotCardStats: cardStats,
	}, nil
}

// beginTurn acquires the single-turn guard. Call endTurn (directly or via
// defer) exactly once for every successful beginTurn.
func (e *Engine) beginTurn() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unusable {
		return ErrUnusable
	}
	if e.turnInFlight {
		return ErrTurnInFlight
	}
	e.turnInFlight = true
	return nil
}

func (e *Engine) endTurn() {
	e.mu.Lock()
	e.turnInFlight = false
	e.mu.Unlock()
}

// pushAction records a completed action on the undo stack and clears the
// redo stack, per the "any non-undo/redo action clears redo" rule.
func (e *Engine) pushAction(a EngineAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.undoStack = append(e.undoStack, a)
	e.redoStack = nil
}

func (e *Engine) markUnusable(cause error) error {
	e.mu.Lock()
	e.unusable = true
	e.mu.Unlock()
	e.logger.Error("delta apply failed, engine instance marked unusable", "error", cause)
	return &deltaApplyFailedError{cause: cause}
}

// dispatchOps routes a flat slice of ops to the owned document whose
// top-level JSON field the op's path names: "state"/"plots" -> world,
// "memories" -> the memory bank, "cards" -> the plot-card index. This works
// because each domain's Mutate-produced ops always carry the full path
// from that domain's own document root, and the three domains' top-level
// field names never collide.
func (e *Engine) dispatchOps(ctx context.Context, ops []delta.Op) error {
	var worldOps, memoryOps, plotcardOps []delta.Op
	for _, op := range ops {
		switch topLevelField(op.Path) {
		case "state", "plots":
			worldOps = append(worldOps, op)
		case "memories":
			memoryOps = append(memoryOps, op)
		case "cards":
			plotcardOps = append(plotcardOps, op)
		default:
			return fmt.Errorf("engine: delta op with unrecognized domain: %s", op.Path)
		}
	}

	if len(worldOps) > 0 {
		if err := e.world.ApplyDelta(worldOps); err != nil {
			return err
		}
	}
	if len(memoryOps) > 0 {
		if err := e.memories.ApplyDelta(ctx, memoryOps); err != nil {
			return err
		}
	}
	if len(plotcardOps) > 0 {
		if err := e.plotcards.ApplyDelta(ctx, plotcardOps); err != nil {
			return err
		}
	}
	return nil
}

func topLevelField(path string) string {
	trimmed := path
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	for i, r := range trimmed {
		if r == '/' {
			return trimmed[:i]
		}
	}
	return trimmed
}

// revertPairsReverse reverts each pair's Revert ops, walking the slice
// back to front.
func (e *Engine) revertPairsReverse(ctx context.Context, pairs []delta.Pair) error {
	for i := len(pairs) - 1; i >= 0; i-- {
		if err := e.dispatchOps(ctx, pairs[i].Revert); err != nil {
			return err
		}
	}
	return nil
}

// applyPairsForward applies each pair's Apply ops, walking the slice front
// to back.
func (e *Engine) applyPairsForward(ctx context.Context, pairs []delta.Pair) error {
	for _, p := range pairs {
		if err := e.dispatchOps(ctx, p.Apply); err != nil {
			return err
		}
	}
	return nil
}

// newNodeID mints a fresh story-node id, distinct from the vector store's
// integer ids, matching the data model's uuid-typed node/plot ids.
func newNodeID() string { return uuid.NewString() }

// reverseTreePair returns a pair that undoes p: applying its Apply ops
// means applying p.Revert, and vice versa. Used when an already-executed
// movement (e.g. select's LCA walk) needs to be recorded as a forward
// EngineAction pair for later undo/redo.
func reverseTreePair(p delta.Pair) delta.Pair {
	return delta.Pair{Apply: p.Revert, Revert: p.Apply}
}
