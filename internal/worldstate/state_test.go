package worldstate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomengine/loom/internal/delta"
)

func TestDeepSetCreatesIntermediatePath(t *testing.T) {
	s := New()
	pair, err := s.DeepSet("player/hp", float64(100))
	require.NoError(t, err)
	require.NotNil(t, pair)

	state, _ := s.Snapshot()
	player, ok := state["player"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(100), player["hp"])
}

func TestPatchStateMergesNested(t *testing.T) {
	s := New()
	_, err := s.DeepSet("player/hp", float64(80))
	require.NoError(t, err)
	_, err = s.DeepSet("player/name", "Frodo")
	require.NoError(t, err)

	_, err = s.PatchState(map[string]any{
		"player": map[string]any{"hp": float64(60)},
		"world":  map[string]any{"day": float64(1)},
	})
	require.NoError(t, err)

	state, _ := s.Snapshot()
	player := state["player"].(map[string]any)
	require.Equal(t, float64(60), player["hp"])
	require.Equal(t, "Frodo", player["name"])
	world := state["world"].(map[string]any)
	require.Equal(t, float64(1), world["day"])
}

func TestAddUpdateRemovePlot(t *testing.T) {
	s := New()
	id, pair, err := s.AddPlot(PlotInput{Title: "Main Quest", Description: "Defeat the dragon", Alignment: 0.1, CreatedAtTurn: 1})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NotNil(t, pair)

	newAlignment := 0.15
	_, err = s.UpdatePlot(id, PlotUpdate{Alignment: &newAlignment})
	require.NoError(t, err)

	_, plots := s.Snapshot()
	require.Len(t, plots, 1)
	require.Equal(t, 0.15, plots[0].Alignment)

	_, err = s.RemovePlot(id)
	require.NoError(t, err)
	_, plots = s.Snapshot()
	require.Empty(t, plots)
}

func TestUpdateAndRemoveUnknownPlotErrors(t *testing.T) {
	s := New()
	_, err := s.UpdatePlot("missing", PlotUpdate{})
	require.ErrorIs(t, err, ErrPlotNotFound)

	_, err = s.RemovePlot("missing")
	require.ErrorIs(t, err, ErrPlotNotFound)
}

// TestDeltaRoundTripScenario implements the spec's concrete world-state
// round-trip scenario literally: deep_set, add_plot, update_plot,
// remove_plot, then reverting all four in reverse order restores the
// initial state bit-for-bit.
func TestDeltaRoundTripScenario(t *testing.T) {
	s := New()
	_, err := s.PatchState(map[string]any{"player": map[string]any{"hp": float64(80)}})
	require.NoError(t, err)

	initial, initialPlots := s.Snapshot()
	initialJSON, err := json.Marshal(map[string]any{"state": initial, "plots": initialPlots})
	require.NoError(t, err)

	d1, err := s.DeepSet("player/hp", float64(100))
	require.NoError(t, err)

	id, d2, err := s.AddPlot(PlotInput{Title: "Main Quest", Description: "Defeat the dragon", Alignment: 0.1, CreatedAtTurn: 1})
	require.NoError(t, err)

	newAlignment := 0.15
	d3, err := s.UpdatePlot(id, PlotUpdate{Alignment: &newAlignment})
	require.NoError(t, err)

	d4, err := s.RemovePlot(id)
	require.NoError(t, err)

	doc := map[string]any{}
	cur, curPlots := s.Snapshot()
	doc["state"] = cur
	doc["plots"] = curPlots
	curJSON, err := json.Marshal(doc)
	require.NoError(t, err)

	for _, pair := range []*delta.Pair{d4, d3, d2, d1} {
		curJSON, err = delta.Apply(curJSON, pair.Revert)
		require.NoError(t, err)
	}

	require.JSONEq(t, string(initialJSON), string(curJSON))
}
