package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomengine/loom/internal/memory"
	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/storytree"
)

// buildRetrievalBlock queries the memory bank and plot-card index for
// query and renders both result sets as a single text block suitable for
// inclusion in a director or writer system prompt.
func (e *Engine) buildRetrievalBlock(ctx context.Context, query string) (string, error) {
	var sb strings.Builder

	memories, err := e.memories.Search(ctx, query, e.turnCounter, e.cfg.RetrievalLimit)
	if err != nil {
		return "", fmt.Errorf("engine: memory retrieval: %w", err)
	}
	if len(memories) > 0 {
		sb.WriteString("Relevant memories:\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- %s\n", m.Text)
		}
	}

	cards, err := e.plotcards.Search(ctx, query, e.cfg.RetrievalLimit)
	if err != nil {
		return "", fmt.Errorf("engine: plot-card retrieval: %w", err)
	}
	if len(cards) > 0 {
		sb.WriteString("Relevant plot cards:\n")
		for _, c := range cards {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", c.Name, c.Category, c.Content)
		}
	}

	return sb.String(), nil
}

// recentTurnsText renders the last RecentTurnsWindow turns on the path to
// nodeID as "actor: text" lines, in narrative order.
func (e *Engine) recentTurnsText(nodeID string) (string, error) {
	turns, err := e.tree.GetRecentTurns(nodeID, e.cfg.RecentTurnsWindow)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Actor, t.Text)
	}
	return sb.String(), nil
}

// buildDirectorRequest assembles a director call from the recent-turns
// window plus a retrieval block keyed on the player's latest text (or, for
// the post-writer pass, the writer's latest text).
func (e *Engine) buildDirectorRequest(ctx context.Context, fromNodeID, query string) (provider.ChatRequest, error) {
	recent, err := e.recentTurnsText(fromNodeID)
	if err != nil {
		return provider.ChatRequest{}, err
	}
	retrieval, err := e.buildRetrievalBlock(ctx, query)
	if err != nil {
		return provider.ChatRequest{}, err
	}

	system := "You are the director of an interactive narrative. Track world state " +
		"and plot threads using the tools available to you. Recent turns:\n" + recent
	if retrieval != "" {
		system += "\n" + retrieval
	}

	return provider.ChatRequest{
		Role:     provider.RoleDirector,
		System:   system,
		Messages: []provider.Message{{Role: "user", Content: query}},
		Tools:    directorTools,
	}, nil
}

func (e *Engine) buildWriterRequest(fromNodeID string, outcomes []toolOutcome) (provider.ChatRequest, error) {
	recent, err := e.recentTurnsText(fromNodeID)
	if err != nil {
		return provider.ChatRequest{}, err
	}

	system := "You are the writer of an interactive narrative. Continue the scene " +
		"in prose, responding to the player's action. Recent turns:\n" + recent
	for _, o := range outcomes {
		system += fmt.Sprintf("\nAction outcome: %q succeeded=%v (%s)", o.actionDescription, o.success, o.outcomeNote)
	}

	return provider.ChatRequest{
		Role:     provider.RoleWriter,
		System:   system,
		Messages: []provider.Message{{Role: "user", Content: "Continue the story."}},
	}, nil
}

// summaryTurnLines collects up to the last n turns on the path to nodeID as
// memory.TurnLine values, for memory-generation summarization.
func summaryTurnLines(tree *storytree.Tree, nodeID string, n int) ([]memory.TurnLine, error) {
	turns, err := tree.GetRecentTurns(nodeID, n)
	if err != nil {
		return nil, err
	}
	out := make([]memory.TurnLine, len(turns))
	for i, t := range turns {
		out[i] = memory.TurnLine{Actor: string(t.Actor), Text: t.Text}
	}
	return out, nil
}
