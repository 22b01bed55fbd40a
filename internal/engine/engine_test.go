package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loomengine/loom/internal/memory"
	"github.com/loomengine/loom/internal/plotcard"
	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/storytree"
	"github.com/loomengine/loom/internal/vectorstore"
	"github.com/loomengine/loom/internal/worldstate"
)

// scriptedChat returns a fixed queue of responses in order, one per
// Complete call, so a test can script an exact director/writer exchange
// without a real provider.
type scriptedChat struct {
	responses []provider.ChatResponse
	calls     int
}

var _ provider.Chat = (*scriptedChat)(nil)

func (c *scriptedChat) Complete(_ context.Context, _ provider.ChatRequest) (provider.ChatResponse, error) {
	if c.calls >= len(c.responses) {
		return provider.ChatResponse{}, nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedChat) Stream(_ context.Context, _ provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk)
	close(ch)
	return ch, nil
}

func (c *scriptedChat) ModelName() string { return "scripted" }

type fakeEmbedder struct{ dim int }

var _ provider.Embedder = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	for i, r := range text {
		vec[i%f.dim] += float32(r % 5)
	}
	vec[0] += 1
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Dimensions() int   { return f.dim }

type testFixture struct {
	engine    *Engine
	tree      *storytree.Tree
	world     *worldstate.State
	memories  *memory.Bank
	plotcards *plotcard.Index
	director  *scriptedChat
	writer    *scriptedChat
}

func newTestFixture(t *testing.T, director, writer *scriptedChat) *testFixture {
	t.Helper()
	ctx := context.Background()

	tree := storytree.New()
	if _, err := tree.AddNode(&storytree.Node{ID: "root", Turn: storytree.Turn{Actor: storytree.ActorWriter, Text: "You awaken in a dim room."}}); err != nil {
		t.Fatalf("AddNode root: %v", err)
	}

	world := worldstate.New()
	embedder := &fakeEmbedder{dim: 8}

	memStore, err := vectorstore.Open(ctx, filepath.Join(t.TempDir(), "memory.db"), vectorstore.Config{
		Name: "memory", SchemaVersion: 1, Dimension: 8, Format: vectorstore.Dense, Normalize: true, Cache: true,
	}, nil)
	if err != nil {
		t.Fatalf("Open memory store: %v", err)
	}
	t.Cleanup(func() { memStore.Close(ctx) })
	memBank := memory.New(memStore, embedder)

	cardStore, err := vectorstore.Open(ctx, filepath.Join(t.TempDir(), "plotcard.db"), vectorstore.Config{
		Name: "plotcard", SchemaVersion: 1, Dimension: 8, Format: vectorstore.Dense, Normalize: true, Cache: true,
	}, nil)
	if err != nil {
		t.Fatalf("Open plotcard store: %v", err)
	}
	t.Cleanup(func() { cardStore.Close(ctx) })
	cardIndex := plotcard.New(cardStore, embedder)

	eng, err := New(tree, world, memBank, cardIndex, director, writer, Config{MemoryGenerationInterval: 1000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testFixture{engine: eng, tree: tree, world: world, memories: memBank, plotcards: cardIndex, director: director, writer: writer}
}

func TestActAppendsPlayerAndWriterNodes(t *testing.T) {
	ctx := context.Background()
	director := &scriptedChat{responses: []provider.ChatResponse{
		{Text: "", ToolCalls: []provider.ToolCall{
			{Name: "patch_state", Arguments: map[string]any{"partial_state": map[string]any{"player": map[string]any{"hp": float64(90)}}}},
		}},
		{Text: ""},
	}}
	writer := &scriptedChat{responses: []provider.ChatResponse{{Text: "The torch flickers as you step forward."}}}

	f := newTestFixture(t, director, writer)

	action, err := f.engine.Act(ctx, "I step forward, torch in hand.")
	if err != nil {
		t.Fatalf("Act: %v", err)
	}
	if action.ToNodeID != f.engine.SelectedNodeID() {
		t.Fatalf("expected selection to move to the new writer node")
	}

	state, _ := f.world.Snapshot()
	player, ok := state["player"].(map[string]any)
	if !ok || player["hp"] != float64(90) {
		t.Fatalf("expected patch_state to set player.hp=90, got %+v", state)
	}

	path, err := f.tree.GetPathToNode(action.ToNodeID)
	if err != nil {
		t.Fatalf("GetPathToNode: %v", err)
	}
	if len(path) != 3 {
		t.Fatalf("expected root -> player -> writer path of length 3, got %d", len(path))
	}
}

func TestActUndoRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	director := &scriptedChat{responses: []provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{
			{Name: "patch_state", Arguments: map[string]any{"partial_state": map[string]any{"player": map[string]any{"hp": float64(50)}}}},
		}},
		{},
	}}
	writer := &scriptedChat{responses: []provider.ChatResponse{{Text: "Something happens."}}}

	f := newTestFixture(t, director, writer)
	rootID := f.engine.SelectedNodeID()

	if _, err := f.engine.Act(ctx, "I take a risk."); err != nil {
		t.Fatalf("Act: %v", err)
	}

	if _, err := f.engine.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if f.engine.SelectedNodeID() != rootID {
		t.Fatalf("expected selection back at root after undo")
	}
	state, _ := f.world.Snapshot()
	if _, ok := state["player"]; ok {
		t.Fatalf("expected player.hp patch undone, got %+v", state)
	}

	if _, err := f.engine.Redo(ctx); err != nil {
		t.Fatalf("Redo: %v", err)
	}
	state, _ = f.world.Snapshot()
	player := state["player"].(map[string]any)
	if player["hp"] != float64(50) {
		t.Fatalf("expected redo to restore player.hp=50, got %+v", state)
	}
}

// TestEraseThenUndo implements the spec's concrete engine erase/undo
// scenario literally: build root -> P1 -> W1, erase(W1), then undo().
func TestEraseThenUndo(t *testing.T) {
	ctx := context.Background()
	director := &scriptedChat{responses: []provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{
			{Name: "patch_state", Arguments: map[string]any{"partial_state": map[string]any{"player": map[string]any{"hp": float64(70)}}}},
		}},
		{},
	}}
	writer := &scriptedChat{responses: []provider.ChatResponse{{Text: "A door creaks open."}}}

	f := newTestFixture(t, director, writer)
	rootID := f.engine.SelectedNodeID()

	action, err := f.engine.Act(ctx, "I open the door.")
	if err != nil {
		t.Fatalf("Act: %v", err)
	}
	w1ID := action.ToNodeID
	path, err := f.tree.GetPathToNode(w1ID)
	if err != nil {
		t.Fatalf("GetPathToNode: %v", err)
	}
	p1ID := path[1].ID

	stateAtW1, _ := f.world.Snapshot()
	hpAtW1 := stateAtW1["player"].(map[string]any)["hp"]

	if _, err := f.engine.Erase(ctx, w1ID); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if f.engine.SelectedNodeID() != p1ID {
		t.Fatalf("expected selection at P1 after erase, got %s", f.engine.SelectedNodeID())
	}
	if _, ok := f.tree.GetNode(w1ID); ok {
		t.Fatalf("expected W1 removed from tree after erase")
	}

	if _, err := f.engine.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if f.engine.SelectedNodeID() != w1ID {
		t.Fatalf("expected selection back at W1 after undo, got %s", f.engine.SelectedNodeID())
	}
	if _, ok := f.tree.GetNode(w1ID); !ok {
		t.Fatalf("expected W1 restored to tree after undo")
	}
	if _, ok := f.tree.GetRootNode(); !ok {
		t.Fatalf("expected root still present")
	}
	stateAfterUndo, _ := f.world.Snapshot()
	if stateAfterUndo["player"].(map[string]any)["hp"] != hpAtW1 {
		t.Fatalf("expected world state restored to its W1 value after undo")
	}
	_ = rootID
}

func TestSwitchCyclesSiblings(t *testing.T) {
	ctx := context.Background()
	director := &scriptedChat{responses: []provider.ChatResponse{{}, {}, {}, {}}}
	writer := &scriptedChat{responses: []provider.ChatResponse{{Text: "first branch"}, {Text: "second branch"}}}

	f := newTestFixture(t, director, writer)
	rootID := f.engine.SelectedNodeID()

	firstAction, err := f.engine.Act(ctx, "go left")
	if err != nil {
		t.Fatalf("Act 1: %v", err)
	}
	path1, _ := f.tree.GetPathToNode(firstAction.ToNodeID)
	firstPlayerID := path1[1].ID

	if _, err := f.engine.Select(ctx, rootID); err != nil {
		t.Fatalf("Select root: %v", err)
	}
	secondAction, err := f.engine.Act(ctx, "go right")
	if err != nil {
		t.Fatalf("Act 2: %v", err)
	}
	path2, _ := f.tree.GetPathToNode(secondAction.ToNodeID)
	secondPlayerID := path2[1].ID

	if _, err := f.engine.Select(ctx, firstPlayerID); err != nil {
		t.Fatalf("Select first player node: %v", err)
	}

	if _, err := f.engine.Switch(ctx, "next"); err != nil {
		t.Fatalf("Switch next: %v", err)
	}
	if f.engine.SelectedNodeID() != secondPlayerID {
		t.Fatalf("expected switch next to land on the second sibling, got %s", f.engine.SelectedNodeID())
	}

	if _, err := f.engine.Switch(ctx, "next"); err != nil {
		t.Fatalf("Switch next (wrap): %v", err)
	}
	if f.engine.SelectedNodeID() != firstPlayerID {
		t.Fatalf("expected wraparound back to the first sibling, got %s", f.engine.SelectedNodeID())
	}
}

func TestUndoWithEmptyStackErrors(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, &scriptedChat{}, &scriptedChat{})
	if _, err := f.engine.Undo(ctx); err != ErrNothingToUndo {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}
