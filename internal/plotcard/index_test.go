package plotcard

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/vectorstore"
)

type fakeEmbedder struct{ dim int }

var _ provider.Embedder = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	for i, r := range text {
		vec[i%f.dim] += float32(r % 11)
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

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "plotcard.db")

	store, err := vectorstore.Open(ctx, dbPath, vectorstore.Config{
		Name:          "plotcard",
		SchemaVersion: 1,
		Dimension:     8,
		Format:        vectorstore.Dense,
		Normalize:     true,
		Cache:         true,
	}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close(ctx) })

	return New(store, &fakeEmbedder{dim: 8})
}

func TestAddPlotCardAndGetAll(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	id, pair, err := idx.AddPlotCard(ctx, CardInput{
		Category:       "Character",
		Name:           "Gandalf",
		Content:        "An old wise wizard who guides the fellowship.",
		TriggerKeyword: "Gandalf",
	})
	if err != nil {
		t.Fatalf("AddPlotCard: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty id")
	}
	if pair == nil || len(pair.Apply) == 0 {
		t.Fatalf("expected non-empty apply delta")
	}

	all := idx.GetAllPlotCards()
	if len(all) != 1 || all[0].ID != id {
		t.Fatalf("expected one card with id %s, got %+v", id, all)
	}
}

func TestEditPlotCardReEmbedsOnlyOnContentChange(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	id, _, err := idx.AddPlotCard(ctx, CardInput{Category: "Location", Name: "Rivendell", Content: "An ancient Elven sanctuary.", TriggerKeyword: "Rivendell"})
	if err != nil {
		t.Fatalf("AddPlotCard: %v", err)
	}
	originalVectorID := idx.doc.Cards[id].VectorID

	newName := "Imladris"
	if _, err := idx.EditPlotCard(ctx, id, CardUpdate{Name: &newName}); err != nil {
		t.Fatalf("EditPlotCard (name only): %v", err)
	}
	if idx.doc.Cards[id].VectorID != originalVectorID {
		t.Fatalf("expected vector id unchanged when content is untouched")
	}
	if idx.doc.Cards[id].Name != newName {
		t.Fatalf("expected name updated")
	}

	newContent := "The Last Homely House east of the Sea."
	if _, err := idx.EditPlotCard(ctx, id, CardUpdate{Content: &newContent}); err != nil {
		t.Fatalf("EditPlotCard (content): %v", err)
	}
	if idx.doc.Cards[id].Content != newContent {
		t.Fatalf("expected content updated")
	}
}

func TestRemovePlotCard(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	id, _, err := idx.AddPlotCard(ctx, CardInput{Category: "Item", Name: "The One Ring", Content: "A powerful artifact of corrupting will.", TriggerKeyword: "Ring"})
	if err != nil {
		t.Fatalf("AddPlotCard: %v", err)
	}

	pair, err := idx.RemovePlotCard(ctx, id)
	if err != nil {
		t.Fatalf("RemovePlotCard: %v", err)
	}
	if pair == nil {
		t.Fatalf("expected non-nil delta pair")
	}
	if len(idx.GetAllPlotCards()) != 0 {
		t.Fatalf("expected index empty after removal")
	}
}

func TestSearchTriggeredKeywordOutranksSemanticHits(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	cards := []CardInput{
		{Category: "Character", Name: "Gandalf", Content: "An old wise wizard who guides the fellowship.", TriggerKeyword: "Gandalf"},
		{Category: "Location", Name: "Rivendell", Content: "An ancient Elven sanctuary of peace.", TriggerKeyword: "Rivendell"},
		{Category: "Item", Name: "The One Ring", Content: "A powerful artifact of corrupting will.", TriggerKeyword: "Ring"},
	}
	for _, c := range cards {
		if _, _, err := idx.AddPlotCard(ctx, c); err != nil {
			t.Fatalf("AddPlotCard %s: %v", c.Name, err)
		}
	}

	results, err := idx.Search(ctx, "Where is the powerful Ring kept?", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Name != "The One Ring" {
		t.Fatalf("expected the Ring card ranked first, got %+v", results)
	}
}

func TestClearWipesStoreAndMirror(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	if _, _, err := idx.AddPlotCard(ctx, CardInput{Category: "Item", Name: "Sting", Content: "A small elven blade that glows near orcs.", TriggerKeyword: "Sting"}); err != nil {
		t.Fatalf("AddPlotCard: %v", err)
	}
	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(idx.GetAllPlotCards()) != 0 {
		t.Fatalf("expected empty mirror after Clear")
	}
}

func TestApplyDeltaReEmbedsRevivedCard(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	id, addPair, err := idx.AddPlotCard(ctx, CardInput{Category: "Character", Name: "Saruman", Content: "A wizard corrupted by ambition.", TriggerKeyword: "Saruman"})
	if err != nil {
		t.Fatalf("AddPlotCard: %v", err)
	}
	removePair, err := idx.RemovePlotCard(ctx, id)
	if err != nil {
		t.Fatalf("RemovePlotCard: %v", err)
	}

	if err := idx.ApplyDelta(ctx, removePair.Revert); err != nil {
		t.Fatalf("ApplyDelta revert remove: %v", err)
	}
	if _, ok := idx.doc.Cards[id]; !ok {
		t.Fatalf("expected card restored after undo of removal")
	}

	if err := idx.ApplyDelta(ctx, addPair.Revert); err != nil {
		t.Fatalf("ApplyDelta revert add: %v", err)
	}
	if len(idx.doc.Cards) != 0 {
		t.Fatalf("expected empty mirror after reverting add")
	}
}
