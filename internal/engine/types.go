package engine

import (
	"time"

	"github.com/loomengine/loom/internal/delta"
)

// Config bounds the turn pipeline and retrieval context.
type Config struct {
	// MemoryGenerationInterval: every N-th completed turn triggers a memory
	// summarizing the last 2*N turns.
	MemoryGenerationInterval int `json:"memory_generation_interval"`
	// RetrievalLimit bounds how many memories and plot cards are pulled into
	// a director/writer context per call.
	RetrievalLimit int `json:"retrieval_limit"`
	// RecentTurnsWindow bounds how many prior turns are included verbatim in
	// a director/writer context.
	RecentTurnsWindow int `json:"recent_turns_window"`
	// ProviderTimeout is carried in the configuration only: the engine does
	// not attach it as a deadline to director/writer calls, which run under
	// the caller's context.
	ProviderTimeout time.Duration `json:"provider_timeout"`
}

func (c Config) withDefaults() Config {
	if c.MemoryGenerationInterval <= 0 {
		c.MemoryGenerationInterval = 10
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 5
	}
	if c.RecentTurnsWindow <= 0 {
		c.RecentTurnsWindow = 20
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 30 * time.Second
	}
	return c
}

// EngineAction is one undoable unit of engine history: a turn, a select, an
// erase, a retry, or an edit. GamePairs are the world-state/memory/plot-card deltas
// in the order they were applied going forward; TreePairs are the
// storytree deltas in the same forward order. Undo reverts GamePairs then
// TreePairs, both in reverse order, and moves selection to FromNodeID. Redo
// applies TreePairs then GamePairs, both in forward order, and moves
// selection to ToNodeID.
type EngineAction struct {
	Kind       string       `json:"kind"`
	FromNodeID string       `json:"from_node_id"`
	ToNodeID   string       `json:"to_node_id"`
	GamePairs  []delta.Pair `json:"game_pairs"`
	TreePairs  []delta.Pair `json:"tree_pairs"`
}

const (
	kindAct    = "act"
	kindSelect = "select"
	kindErase  = "erase"
	kindRetry  = "retry"
	kindEdit   = "edit"
)
