// Package plotcard is a retrieval index blending keyword triggers with
// cosine similarity, grounded the same way internal/memory is grounded on
// the teacher's embed-on-write/cosine-retrieval trio, but scored by the
// spec's keyword-sentinel-wins-ties-cosine-loses rule instead of recency.
package plotcard

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/loomengine/loom/internal/delta"
	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/vectorstore"
)

// triggerSentinelScore is strictly greater than any valid cosine score on
// unit vectors, so a keyword-triggered card always outranks a semantic hit.
const triggerSentinelScore = 2.0

// Card is one plot-card entry.
type Card struct {
	ID             string `json:"id"`
	Category       string `json:"category"`
	Name           string `json:"name"`
	Content        string `json:"content"`
	TriggerKeyword string `json:"trigger_keyword"`
	VectorID       int64  `json:"vector_id"`
}

type document struct {
	Cards map[string]*Card `json:"cards"`
}

// Index is a plot-card index backed by a vector store.
type Index struct {
	store    *vectorstore.Store
	embedder provider.Embedder
	doc      document
}

// New returns a plot-card index backed by store.
func New(store *vectorstore.Store, embedder provider.Embedder) *Index {
	return &Index{store: store, embedder: embedder, doc: document{Cards: make(map[string]*Card)}}
}

// CardInput is the caller-supplied content of a new card.
type CardInput struct {
	Category       string
	Name           string
	Content        string
	TriggerKeyword string
}

// AddPlotCard embeds content, upserts the vector with its meta, and records
// a delta over the mirror document.
func (idx *Index) AddPlotCard(ctx context.Context, in CardInput) (string, *delta.Pair, error) {
	vec, err := idx.embedder.Embed(ctx, in.Content)
	if err != nil {
		return "", nil, fmt.Errorf("plotcard: embed: %w", err)
	}

	id := uuid.NewString()
	meta := map[string]any{
		"id":              id,
		"category":        in.Category,
		"name":            in.Name,
		"content":         in.Content,
		"trigger_keyword": in.TriggerKeyword,
	}
	vecID, err := idx.store.Upsert(ctx, nil, vectorstore.Dense, vec, meta)
	if err != nil {
		return "", nil, fmt.Errorf("plotcard: upsert vector: %w", err)
	}

	card := &Card{ID: id, Category: in.Category, Name: in.Name, Content: in.Content, TriggerKeyword: in.TriggerKeyword, VectorID: vecID}

	pair, err := delta.Mutate(&idx.doc, func(d *document) bool {
		d.Cards[id] = card
		return true
	})
	if err != nil {
		return "", nil, err
	}
	return id, pair, nil
}

// CardUpdate carries optional field updates for EditPlotCard; nil fields
// are left unchanged.
type CardUpdate struct {
	Category       *string
	Name           *string
	Content        *string
	TriggerKeyword *string
}

// EditPlotCard applies updates to an existing card, re-embedding only when
// Content changes; otherwise the existing vector is reused via a point-get
// and only its meta is refreshed.
func (idx *Index) EditPlotCard(ctx context.Context, id string, upd CardUpdate) (*delta.Pair, error) {
	existing, ok := idx.doc.Cards[id]
	if !ok {
		return nil, fmt.Errorf("plotcard: edit: %w", ErrNotFound)
	}

	next := *existing
	if upd.Category != nil {
		next.Category = *upd.Category
	}
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.TriggerKeyword != nil {
		next.TriggerKeyword = *upd.TriggerKeyword
	}
	contentChanged := upd.Content != nil && *upd.Content != existing.Content
	if upd.Content != nil {
		next.Content = *upd.Content
	}

	meta := map[string]any{
		"id":              id,
		"category":        next.Category,
		"name":            next.Name,
		"content":         next.Content,
		"trigger_keyword": next.TriggerKeyword,
	}

	if contentChanged {
		vec, err := idx.embedder.Embed(ctx, next.Content)
		if err != nil {
			return nil, fmt.Errorf("plotcard: re-embed: %w", err)
		}
		if _, err := idx.store.Upsert(ctx, &next.VectorID, vectorstore.Dense, vec, meta); err != nil {
			return nil, fmt.Errorf("plotcard: upsert vector: %w", err)
		}
	} else {
		rec, err := idx.store.Get(ctx, existing.VectorID)
		if err != nil {
			return nil, fmt.Errorf("plotcard: point-get vector: %w", err)
		}
		if _, err := idx.store.Upsert(ctx, &next.VectorID, rec.Format, rec.Vector, meta); err != nil {
			return nil, fmt.Errorf("plotcard: upsert meta: %w", err)
		}
	}

	pair, err := delta.Mutate(&idx.doc, func(d *document) bool {
		*d.Cards[id] = next
		return true
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// RemovePlotCard deletes the vector record first; on failure the mirror is
// left untouched, matching internal/memory's RemoveMemory contract.
func (idx *Index) RemovePlotCard(ctx context.Context, id string) (*delta.Pair, error) {
	card, ok := idx.doc.Cards[id]
	if !ok {
		return nil, nil
	}
	if err := idx.store.Delete(ctx, card.VectorID); err != nil {
		return nil, nil
	}

	pair, err := delta.Mutate(&idx.doc, func(d *document) bool {
		delete(d.Cards, id)
		return true
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// GetAllPlotCards returns every card in the mirror, order unspecified.
func (idx *Index) GetAllPlotCards() []Card {
	out := make([]Card, 0, len(idx.doc.Cards))
	for _, c := range idx.doc.Cards {
		out = append(out, *c)
	}
	return out
}

// Clear wipes both the store and the mirror.
func (idx *Index) Clear(ctx context.Context) error {
	if err := idx.store.Clear(ctx); err != nil {
		return err
	}
	idx.doc.Cards = make(map[string]*Card)
	return nil
}

// ExportStore returns the backing vector store's export, the durable form
// persisted in a session file.
func (idx *Index) ExportStore(ctx context.Context) (*vectorstore.Export, error) {
	return idx.store.Export(ctx)
}

// Stats reports the backing vector store's record counts and cache stats.
func (idx *Index) Stats(ctx context.Context) (*vectorstore.Stats, error) {
	return idx.store.Stats(ctx)
}

// ImportStore replaces the store's contents with exp and rebuilds the
// mirror from each record's meta.
func (idx *Index) ImportStore(ctx context.Context, exp *vectorstore.Export) error {
	if err := idx.store.Import(ctx, exp, true); err != nil {
		return fmt.Errorf("plotcard: import store: %w", err)
	}

	cards := make(map[string]*Card, len(exp.Vectors))
	for _, ev := range exp.Vectors {
		id, _ := ev.Meta["id"].(string)
		if id == "" {
			continue
		}
		category, _ := ev.Meta["category"].(string)
		name, _ := ev.Meta["name"].(string)
		content, _ := ev.Meta["content"].(string)
		trigger, _ := ev.Meta["trigger_keyword"].(string)
		cards[id] = &Card{ID: id, Category: category, Name: name, Content: content, TriggerKeyword: trigger, VectorID: ev.ID}
	}
	idx.doc.Cards = cards
	return nil
}

// scoredCard pairs a card with its ranking score, either the trigger
// sentinel or a cosine score from the vector store.
type scoredCard struct {
	card  Card
	score float64
}

// Search collects every card whose trigger_keyword is a case-insensitive
// substring of query (scored at the sentinel 2.0), requests
// limit+len(triggered) cosine nearest neighbors, merges the two sets
// preferring triggered entries, sorts by score descending, and truncates to
// limit.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]Card, error) {
	if limit <= 0 {
		return nil, nil
	}

	lowerQuery := strings.ToLower(query)
	triggered := make(map[string]scoredCard)
	for id, c := range idx.doc.Cards {
		if c.TriggerKeyword == "" {
			continue
		}
		if strings.Contains(lowerQuery, strings.ToLower(c.TriggerKeyword)) {
			triggered[id] = scoredCard{card: *c, score: triggerSentinelScore}
		}
	}

	qvec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("plotcard: embed query: %w", err)
	}

	hits, err := idx.store.Query(ctx, vectorstore.QueryOpts{
		Query:    qvec,
		K:        limit + len(triggered),
		Distance: vectorstore.Cosine,
	})
	if err != nil {
		return nil, fmt.Errorf("plotcard: query: %w", err)
	}

	merged := make(map[string]scoredCard, len(triggered))
	for id, sc := range triggered {
		merged[id] = sc
	}
	for _, h := range hits {
		id, _ := h.Meta["id"].(string)
		if id == "" {
			// fall back to scanning the mirror for the matching vector id
			for cid, c := range idx.doc.Cards {
				if c.VectorID == h.ID {
					id = cid
					break
				}
			}
		}
		if id == "" {
			continue
		}
		if _, already := merged[id]; already {
			continue
		}
		card, ok := idx.doc.Cards[id]
		if !ok {
			continue
		}
		merged[id] = scoredCard{card: *card, score: h.Score}
	}

	results := make([]scoredCard, 0, len(merged))
	for _, sc := range merged {
		results = append(results, sc)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]Card, len(results))
	for i, sc := range results {
		out[i] = sc.card
	}
	return out, nil
}

// ApplyDelta patches a copy of the mirror document, diffs it against the
// current one by id, deletes removed cards' vectors, and re-embeds every
// added card, mirroring internal/memory.ApplyDelta.
func (idx *Index) ApplyDelta(ctx context.Context, ops []delta.Op) error {
	target, err := delta.ApplyToValue(idx.doc, ops)
	if err != nil {
		return fmt.Errorf("plotcard: apply delta: %w", err)
	}
	if target.Cards == nil {
		target.Cards = make(map[string]*Card)
	}

	for id, card := range idx.doc.Cards {
		if _, ok := target.Cards[id]; !ok {
			_ = idx.store.Delete(ctx, card.VectorID)
		}
	}

	for id, card := range target.Cards {
		if _, ok := idx.doc.Cards[id]; ok {
			continue
		}
		vec, err := idx.embedder.Embed(ctx, card.Content)
		if err != nil {
			return fmt.Errorf("plotcard: re-embed %s: %w", id, err)
		}
		meta := map[string]any{
			"category":        card.Category,
			"name":             card.Name,
			"content":          card.Content,
			"trigger_keyword": card.TriggerKeyword,
			"id":               id,
		}
		vecID, err := idx.store.Upsert(ctx, nil, vectorstore.Dense, vec, meta)
		if err != nil {
			return fmt.Errorf("plotcard: re-upsert %s: %w", id, err)
		}
		card.VectorID = vecID
	}

	idx.doc = target
	return nil
}
