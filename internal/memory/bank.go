// Package memory is a retrieval set of short textual summaries with
// embeddings, blending semantic similarity and recency, grounded on the
// teacher's IngestLore/FindSimilar/RecordFeedback trio: embed-on-write,
// cosine-similarity retrieval, and a mutable recency field touched on read.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/loomengine/loom/internal/delta"
	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/vectorstore"
)

// Memory is one retrievable summary.
type Memory struct {
	ID                 string `json:"id"`
	Text               string `json:"text"`
	CreatedAtTurn      int    `json:"created_at_turn"`
	LastAccessedAtTurn int    `json:"last_accessed_at_turn"`
	VectorID           int64  `json:"vector_id"`
}

type document struct {
	Memories map[string]*Memory `json:"memories"`
}

// recencyPickLimit bounds how many additional, non-hit memories Search
// blends in purely by recency.
const recencyPickLimit = 5

// thinkTagPattern strips <think>...</think> spans from a summarization
// reply, case-insensitive and spanning newlines, the teacher's usual
// single-purpose compiled-once regexp style (see internal/plugin/recall's
// validation regexps).
var thinkTagPattern = regexp.MustCompile(`(?is)<think>.*?</think>`)

// Bank is a memory bank backed by a vector store.
type Bank struct {
	store    *vectorstore.Store
	embedder provider.Embedder
	doc      document
}

// New returns a memory bank backed by store.
func New(store *vectorstore.Store, embedder provider.Embedder) *Bank {
	return &Bank{store: store, embedder: embedder, doc: document{Memories: make(map[string]*Memory)}}
}

// AddMemory embeds text, upserts it into the vector store, and records a
// delta over the in-memory {memories} document for the new entry.
func (b *Bank) AddMemory(ctx context.Context, text string, currentTurn int) (string, *delta.Pair, error) {
	vec, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return "", nil, fmt.Errorf("memory: embed: %w", err)
	}

	id := ulid.Make().String()
	mem := &Memory{ID: id, Text: text, CreatedAtTurn: currentTurn, LastAccessedAtTurn: currentTurn}
	vecID, err := b.store.Upsert(ctx, nil, vectorstore.Dense, vec, memoryMeta(mem))
	if err != nil {
		return "", nil, fmt.Errorf("memory: upsert vector: %w", err)
	}
	mem.VectorID = vecID

	pair, err := delta.Mutate(&b.doc, func(d *document) bool {
		d.Memories[id] = mem
		return true
	})
	if err != nil {
		return "", nil, err
	}
	return id, pair, nil
}

// RemoveMemory deletes the vector record first; if that fails, the mirror
// is left untouched and (nil, nil) is returned rather than an error, per
// the spec's stated "returns None without mutating the mirror."
func (b *Bank) RemoveMemory(ctx context.Context, id string) (*delta.Pair, error) {
	mem, ok := b.doc.Memories[id]
	if !ok {
		return nil, nil
	}
	if err := b.store.Delete(ctx, mem.VectorID); err != nil {
		return nil, nil
	}

	pair, err := delta.Mutate(&b.doc, func(d *document) bool {
		delete(d.Memories, id)
		return true
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// TurnLine is one {actor, text} pair fed to the summarization prompt.
type TurnLine struct {
	Actor string
	Text  string
}

// GenerateAndAddMemory asks chat to summarize a concatenation of
// "actor: text" lines, strips any <think> spans from the reply, and adds
// the result as a new memory.
func (b *Bank) GenerateAndAddMemory(ctx context.Context, chat provider.Chat, turns []TurnLine, currentTurn int) (string, *delta.Pair, error) {
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Actor, t.Text)
	}

	resp, err := chat.Complete(ctx, provider.ChatRequest{
		System: "Summarize the following narrative turns into one concise memory for future recall.",
		Messages: []provider.Message{
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("memory: summarize: %w", err)
	}

	summary := thinkTagPattern.ReplaceAllString(resp.Text, "")
	summary = strings.TrimSpace(summary)

	return b.AddMemory(ctx, summary, currentTurn)
}

// Search embeds the query, requests 2*limit dense cosine nearest
// neighbors, touches last_accessed_at_turn on every hit in the mirror, then
// blends with up to 5 recency picks not already in the hit set. The result
// is the union sorted by last_accessed_at_turn descending, truncated to
// limit.
func (b *Bank) Search(ctx context.Context, query string, currentTurn, limit int) ([]Memory, error) {
	if limit <= 0 {
		return nil, nil
	}

	qvec, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	hits, err := b.store.Query(ctx, vectorstore.QueryOpts{
		Query:    qvec,
		K:        2 * limit,
		Distance: vectorstore.Cosine,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}

	selected := make(map[string]bool)
	var result []Memory
	for _, h := range hits {
		id, _ := h.Meta["memory_id"].(string)
		mem, ok := b.doc.Memories[id]
		if !ok {
			continue
		}
		mem.LastAccessedAtTurn = currentTurn
		selected[id] = true
		result = append(result, *mem)
	}

	if len(result) < limit {
		remaining := recencyPickLimit
		var candidates []*Memory
		for id, m := range b.doc.Memories {
			if selected[id] {
				continue
			}
			candidates = append(candidates, m)
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].LastAccessedAtTurn > candidates[j].LastAccessedAtTurn
		})
		for _, m := range candidates {
			if remaining == 0 {
				break
			}
			result = append(result, *m)
			remaining--
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].LastAccessedAtTurn > result[j].LastAccessedAtTurn
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ApplyDelta patches a copy of the mirror document, diffs it against the
// current one by id, re-embeds every added record (always true for re-adds
// triggered by undo of a removal, since the backing vector row is gone),
// and reconciles the mirror to the target.
func (b *Bank) ApplyDelta(ctx context.Context, ops []delta.Op) error {
	target, err := delta.ApplyToValue(b.doc, ops)
	if err != nil {
		return fmt.Errorf("memory: apply delta: %w", err)
	}
	if target.Memories == nil {
		target.Memories = make(map[string]*Memory)
	}

	for id, mem := range b.doc.Memories {
		if _, ok := target.Memories[id]; !ok {
			_ = b.store.Delete(ctx, mem.VectorID)
		}
	}

	for id, mem := range target.Memories {
		if _, ok := b.doc.Memories[id]; ok {
			continue
		}
		vec, err := b.embedder.Embed(ctx, mem.Text)
		if err != nil {
			return fmt.Errorf("memory: re-embed %s: %w", id, err)
		}
		vecID, err := b.store.Upsert(ctx, nil, vectorstore.Dense, vec, memoryMeta(mem))
		if err != nil {
			return fmt.Errorf("memory: re-upsert %s: %w", id, err)
		}
		mem.VectorID = vecID
	}

	b.doc = target
	return nil
}

// Clear wipes both the store and the mirror.
func (b *Bank) Clear(ctx context.Context) error {
	if err := b.store.Clear(ctx); err != nil {
		return err
	}
	b.doc.Memories = make(map[string]*Memory)
	return nil
}

// Export returns the current mirror document, e.g. for session
// serialization.
func (b *Bank) Export() map[string]Memory {
	out := make(map[string]Memory, len(b.doc.Memories))
	for id, m := range b.doc.Memories {
		out[id] = *m
	}
	return out
}

// memoryMeta is the vector-store meta every memory record carries: the
// store is the durable form for session save/load, so every mirror field
// lives in meta, not just the text used for re-embedding.
func memoryMeta(m *Memory) map[string]any {
	return map[string]any{
		"memory_id":             m.ID,
		"text":                  m.Text,
		"created_at_turn":       m.CreatedAtTurn,
		"last_accessed_at_turn": m.LastAccessedAtTurn,
	}
}

// ExportStore returns the backing vector store's export, the durable form
// persisted in a session file.
func (b *Bank) ExportStore(ctx context.Context) (*vectorstore.Export, error) {
	return b.store.Export(ctx)
}

// Stats reports the backing vector store's record counts and cache stats.
func (b *Bank) Stats(ctx context.Context) (*vectorstore.Stats, error) {
	return b.store.Stats(ctx)
}

// ImportStore replaces the store's contents with exp and rebuilds the
// mirror from each record's meta. Per the search recency contract, any
// last_accessed_at_turn touched only in the mirror since the memory was
// last written is not reflected in exp, so it is not restored here either.
func (b *Bank) ImportStore(ctx context.Context, exp *vectorstore.Export) error {
	if err := b.store.Import(ctx, exp, true); err != nil {
		return fmt.Errorf("memory: import store: %w", err)
	}

	memories := make(map[string]*Memory, len(exp.Vectors))
	for _, ev := range exp.Vectors {
		id, _ := ev.Meta["memory_id"].(string)
		if id == "" {
			continue
		}
		text, _ := ev.Meta["text"].(string)
		createdAt := metaInt(ev.Meta["created_at_turn"])
		lastAccessed := metaInt(ev.Meta["last_accessed_at_turn"])
		memories[id] = &Memory{ID: id, Text: text, CreatedAtTurn: createdAt, LastAccessedAtTurn: lastAccessed, VectorID: ev.ID}
	}
	b.doc.Memories = memories
	return nil
}

// metaInt coerces a meta value decoded from JSON (float64) or set directly
// in-process (int) to an int.
func metaInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
