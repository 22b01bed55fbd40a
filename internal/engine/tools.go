package engine

import (
	"fmt"

	"github.com/loomengine/loom/internal/delta"
	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/worldstate"
)

// directorTools is the fixed tool surface offered to every director call,
// per the spec's provider-tool call surface.
var directorTools = []provider.ToolSpec{
	{
		Name:        "patch_state",
		Description: "Recursively merge a partial state tree into the current world state.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"partial_state": map[string]any{"type": "object"},
			},
			"required": []string{"partial_state"},
		},
	},
	{
		Name:        "add_plot",
		Description: "Introduce a new tracked plot thread.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":             map[string]any{"type": "string"},
				"description":       map[string]any{"type": "string"},
				"player_alignment": map[string]any{"type": "number"},
			},
			"required": []string{"title", "description", "player_alignment"},
		},
	},
	{
		Name:        "update_plot",
		Description: "Update fields of an existing plot.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"plot_id": map[string]any{"type": "string"},
				"updates": map[string]any{"type": "object"},
			},
			"required": []string{"plot_id", "updates"},
		},
	},
	{
		Name:        "remove_plot",
		Description: "Remove a plot that has concluded or is no longer relevant.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"plot_id": map[string]any{"type": "string"},
			},
			"required": []string{"plot_id"},
		},
	},
	{
		Name:        "determine_action_result",
		Description: "Judge the outcome of the player's stated action.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action_description": map[string]any{"type": "string"},
				"success":             map[string]any{"type": "boolean"},
				"outcome_note":        map[string]any{"type": "string"},
			},
			"required": []string{"action_description", "success", "outcome_note"},
		},
	},
}

// toolOutcome collects the non-delta side effect of a determine_action_result
// call, consumed by the writer context builder.
type toolOutcome struct {
	actionDescription string
	success           bool
	outcomeNote       string
}

// applyToolCalls translates each tool call emitted by a director response
// into the corresponding world-state mutation, collecting the resulting
// delta pairs in call order. Unknown tool names are ignored and logged,
// per the spec's provider-tool call surface. determine_action_result
// produces no delta; its payload is returned separately for the writer.
func (e *Engine) applyToolCalls(calls []provider.ToolCall) ([]delta.Pair, []toolOutcome, error) {
	var pairs []delta.Pair
	var outcomes []toolOutcome

	// fail reverts the pairs already applied by earlier calls in this batch,
	// so a failing call leaves the world state as it was before the batch.
	fail := func(err error) ([]delta.Pair, []toolOutcome, error) {
		for i := len(pairs) - 1; i >= 0; i-- {
			_ = e.world.ApplyDelta(pairs[i].Revert)
		}
		return nil, nil, err
	}

	for _, call := range calls {
		switch call.Name {
		case "patch_state":
			partial, _ := call.Arguments["partial_state"].(map[string]any)
			pair, err := e.world.PatchState(partial)
			if err != nil {
				return fail(fmt.Errorf("engine: patch_state: %w", err))
			}
			pairs = append(pairs, *pair)

		case "add_plot":
			title, _ := call.Arguments["title"].(string)
			description, _ := call.Arguments["description"].(string)
			alignment, _ := call.Arguments["player_alignment"].(float64)
			_, pair, err := e.world.AddPlot(worldstate.PlotInput{
				Title:         title,
				Description:   description,
				Alignment:     alignment,
				CreatedAtTurn: e.turnCounter,
			})
			if err != nil {
				return fail(fmt.Errorf("engine: add_plot: %w", err))
			}
			pairs = append(pairs, *pair)

		case "update_plot":
			plotID, _ := call.Arguments["plot_id"].(string)
			updatesRaw, _ := call.Arguments["updates"].(map[string]any)
			upd := worldstate.PlotUpdate{}
			if title, ok := updatesRaw["title"].(string); ok {
				upd.Title = &title
			}
			if desc, ok := updatesRaw["description"].(string); ok {
				upd.Description = &desc
			}
			if alignment, ok := updatesRaw["player_alignment"].(float64); ok {
				upd.Alignment = &alignment
			}
			pair, err := e.world.UpdatePlot(plotID, upd)
			if err != nil {
				return fail(fmt.Errorf("engine: update_plot: %w", err))
			}
			pairs = append(pairs, *pair)

		case "remove_plot":
			plotID, _ := call.Arguments["plot_id"].(string)
			pair, err := e.world.RemovePlot(plotID)
			if err != nil {
				return fail(fmt.Errorf("engine: remove_plot: %w", err))
			}
			pairs = append(pairs, *pair)

		case "determine_action_result":
			desc, _ := call.Arguments["action_description"].(string)
			success, _ := call.Arguments["success"].(bool)
			note, _ := call.Arguments["outcome_note"].(string)
			outcomes = append(outcomes, toolOutcome{actionDescription: desc, success: success, outcomeNote: note})

		default:
			e.logger.Warn("ignoring unknown director tool call", "tool", call.Name)
		}
	}

	return pairs, outcomes, nil
}
