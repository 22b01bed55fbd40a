// Package session persists and restores one play session as a single JSON
// envelope: the engine's tunables, the selected node, the serialized story
// tree, a world-state snapshot, and the memory bank / plot-card index as
// vector-store exports. Save/Load are grounded on the teacher's
// GenerateSnapshot atomic-write pattern (internal/store/sqlite.go): write to
// a temp path alongside the destination, then os.Rename into place, so a
// crash mid-write never leaves a half-written session file.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loomengine/loom/internal/engine"
	"github.com/loomengine/loom/internal/memory"
	"github.com/loomengine/loom/internal/plotcard"
	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/storytree"
	"github.com/loomengine/loom/internal/vectorstore"
	"github.com/loomengine/loom/internal/worldstate"
)

// formatVersion guards against loading an envelope written by an
// incompatible future layout.
const formatVersion = 1

// envelope is the on-disk shape of a saved session.
type envelope struct {
	FormatVersion  int                 `json:"format_version"`
	SavedAt        time.Time           `json:"saved_at"`
	Config         engine.Config       `json:"config"`
	SelectedNodeID string              `json:"selected_node_id"`
	TurnCounter    int                 `json:"turn_counter"`
	UndoStack      []engine.EngineAction `json:"undo_stack"`
	RedoStack      []engine.EngineAction `json:"redo_stack"`
	StoryTree      json.RawMessage     `json:"story_tree"`
	WorldState     worldStateSnapshot  `json:"world_state"`
	MemoryBank     *vectorstore.Export `json:"memory_bank"`
	PlotCards      *vectorstore.Export `json:"plot_cards"`
}

type worldStateSnapshot struct {
	State map[string]any   `json:"state"`
	Plots []worldstate.Plot `json:"plots"`
}

// Session bundles the live documents and engine for one play session. The
// store dimensions needed to reopen in-memory vector stores on Load are
// passed separately in LoadOpts.
type Session struct {
	Engine    *engine.Engine
	Tree      *storytree.Tree
	World     *worldstate.State
	Memories  *memory.Bank
	PlotCards *plotcard.Index
}

// Save writes sess to path as a single JSON envelope, atomically: the
// envelope is marshaled and written to "path.tmp" first, then renamed into
// place, so readers never observe a partially-written file.
func Save(ctx context.Context, sess *Session, path string) error {
	memExport, err := sess.Memories.ExportStore(ctx)
	if err != nil {
		return fmt.Errorf("session: export memory bank: %w", err)
	}
	cardExport, err := sess.PlotCards.ExportStore(ctx)
	if err != nil {
		return fmt.Errorf("session: export plot cards: %w", err)
	}
	treeData, err := sess.Tree.Serialize()
	if err != nil {
		return fmt.Errorf("session: serialize story tree: %w", err)
	}
	state, plots := sess.World.Snapshot()
	undo, redo := sess.Engine.History()

	env := envelope{
		FormatVersion:  formatVersion,
		SavedAt:        time.Now().UTC(),
		Config:         sess.Engine.Config(),
		SelectedNodeID: sess.Engine.SelectedNodeID(),
		TurnCounter:    sess.Engine.TurnCounter(),
		UndoStack:      undo,
		RedoStack:      redo,
		StoryTree:      json.RawMessage(treeData),
		WorldState:     worldStateSnapshot{State: state, Plots: plots},
		MemoryBank:     memExport,
		PlotCards:      cardExport,
	}

	data, err := json.MarshalIndent(&env, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal envelope: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("session: create session directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: rename into place: %w", err)
	}

	slog.Default().Info("session saved",
		"component", "session",
		"action", "save_complete",
		"path", path,
		"turn_counter", env.TurnCounter,
	)
	return nil
}

// AutoSaver binds a live Session to a destination path so it can be passed
// to internal/worker.NewSnapshotWorker, which only needs a Save(ctx) error
// method (satisfied here structurally, no import of internal/worker).
type AutoSaver struct {
	Session *Session
	Path    string
}

// Save persists the bound session to its bound path.
func (a *AutoSaver) Save(ctx context.Context) error {
	return Save(ctx, a.Session, a.Path)
}

// LoadOpts carries the live capability objects a loaded session needs to
// resume: vector-store dimensions (must match what the session was saved
// with) and the director/writer/embedder backends to attach.
type LoadOpts struct {
	MemoryDimension   int
	PlotCardDimension int
	Embedder          provider.Embedder
	Director          provider.Chat
	Writer            provider.Chat
}

// Load reads the envelope at path and reconstructs a live Session: the
// story tree and world state are rebuilt directly from the envelope, and
// fresh in-memory vector stores are opened and populated from the saved
// exports via ImportStore.
func Load(ctx context.Context, path string, opts LoadOpts) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("session: unmarshal envelope: %w", err)
	}
	if env.FormatVersion != formatVersion {
		return nil, fmt.Errorf("session: unsupported format version %d", env.FormatVersion)
	}

	tree, err := storytree.Deserialize(env.StoryTree)
	if err != nil {
		return nil, fmt.Errorf("session: deserialize story tree: %w", err)
	}
	world := worldstate.FromSnapshot(env.WorldState.State, env.WorldState.Plots)

	memStore, err := vectorstore.Open(ctx, ":memory:", vectorstore.Config{
		Name: "memory", SchemaVersion: 1, Dimension: opts.MemoryDimension, Format: vectorstore.Dense, Normalize: true, Cache: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("session: open memory store: %w", err)
	}
	memBank := memory.New(memStore, opts.Embedder)
	if env.MemoryBank != nil {
		if err := memBank.ImportStore(ctx, env.MemoryBank); err != nil {
			return nil, fmt.Errorf("session: import memory bank: %w", err)
		}
	}

	cardStore, err := vectorstore.Open(ctx, ":memory:", vectorstore.Config{
		Name: "plotcard", SchemaVersion: 1, Dimension: opts.PlotCardDimension, Format: vectorstore.Dense, Normalize: true, Cache: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("session: open plot card store: %w", err)
	}
	cardIndex := plotcard.New(cardStore, opts.Embedder)
	if env.PlotCards != nil {
		if err := cardIndex.ImportStore(ctx, env.PlotCards); err != nil {
			return nil, fmt.Errorf("session: import plot cards: %w", err)
		}
	}

	eng, err := engine.Resume(tree, world, memBank, cardIndex, opts.Director, opts.Writer, env.Config, env.SelectedNodeID, env.TurnCounter, env.UndoStack, env.RedoStack)
	if err != nil {
		return nil, fmt.Errorf("session: resume engine: %w", err)
	}

	return &Session{Engine: eng, Tree: tree, World: world, Memories: memBank, PlotCards: cardIndex}, nil
}
