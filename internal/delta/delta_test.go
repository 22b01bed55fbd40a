package delta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type worldState struct {
	State map[string]any `json:"state"`
	Plots []plot         `json:"plots"`
}

type plot struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Alignment   float64 `json:"alignment"`
}

func TestMutateRoundTrip(t *testing.T) {
	ws := worldState{State: map[string]any{"player": map[string]any{"hp": 80.0}}}

	d1, err := Mutate(&ws, func(w *worldState) bool {
		w.State["player"].(map[string]any)["hp"] = 100.0
		return true
	})
	require.NoError(t, err)
	require.NotNil(t, d1)

	before, err := json.Marshal(ws)
	require.NoError(t, err)

	after, err := Apply(before, d1.Revert)
	require.NoError(t, err)

	back, err := Apply(after, d1.Apply)
	require.NoError(t, err)

	require.JSONEq(t, string(before), string(back))
}

func TestDeltaRoundTripScenario(t *testing.T) {
	ws := worldState{State: map[string]any{"player": map[string]any{"hp": 80.0}}, Plots: []plot{}}

	d1, err := Mutate(&ws, func(w *worldState) bool {
		w.State["player"].(map[string]any)["hp"] = 100.0
		return true
	})
	require.NoError(t, err)

	d2, err := Mutate(&ws, func(w *worldState) bool {
		w.Plots = append(w.Plots, plot{ID: "p1", Title: "Main Quest", Description: "Defeat the dragon", Alignment: 0.1})
		return true
	})
	require.NoError(t, err)

	d3, err := Mutate(&ws, func(w *worldState) bool {
		w.Plots[0].Alignment = 0.15
		return true
	})
	require.NoError(t, err)

	d4, err := Mutate(&ws, func(w *worldState) bool {
		w.Plots = nil
		return true
	})
	require.NoError(t, err)

	initial := worldState{State: map[string]any{"player": map[string]any{"hp": 80.0}}, Plots: []plot{}}
	initialJSON, err := json.Marshal(initial)
	require.NoError(t, err)

	current, err := json.Marshal(ws)
	require.NoError(t, err)

	for _, ops := range [][]Op{d4.Revert, d3.Revert, d2.Revert, d1.Revert} {
		current, err = Apply(current, ops)
		require.NoError(t, err)
	}

	require.JSONEq(t, string(initialJSON), string(current))
}

func TestApplyReplaceRequiresExistingPath(t *testing.T) {
	doc := []byte(`{"a":1}`)
	_, err := Apply(doc, []Op{{Op: OpReplace, Path: "/b", Value: json.RawMessage(`2`)}})
	require.Error(t, err)
}

func TestApplyRemoveRequiresExistingPath(t *testing.T) {
	doc := []byte(`{"a":1}`)
	_, err := Apply(doc, []Op{{Op: OpRemove, Path: "/b"}})
	require.Error(t, err)
}

func TestDiffMapKeyedByID(t *testing.T) {
	before := []byte(`{"nodes":{"a":{"children":["b"]},"b":{"children":[]}}}`)
	after := []byte(`{"nodes":{"a":{"children":[]}}}`)

	ops, err := Diff(before, after)
	require.NoError(t, err)

	back, err := Apply(before, ops)
	require.NoError(t, err)
	require.JSONEq(t, string(after), string(back))

	reverseOps, err := Diff(after, before)
	require.NoError(t, err)
	restored, err := Apply(after, reverseOps)
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(restored))
}

func TestDiffArrayPermutationUsesMoves(t *testing.T) {
	before := []byte(`{"order":["a","b","c"]}`)
	after := []byte(`{"order":["c","a","b"]}`)

	ops, err := Diff(before, after)
	require.NoError(t, err)

	for _, op := range ops {
		require.Equal(t, OpMove, op.Op, "expected only move ops for a pure permutation")
	}

	result, err := Apply(before, ops)
	require.NoError(t, err)
	require.JSONEq(t, string(after), string(result))
}

func TestApplyToValue(t *testing.T) {
	ws := worldState{State: map[string]any{"x": 1.0}}
	d, err := Mutate(&ws, func(w *worldState) bool {
		w.State["x"] = 2.0
		return true
	})
	require.NoError(t, err)

	reverted, err := ApplyToValue(ws, d.Revert)
	require.NoError(t, err)
	require.Equal(t, 1.0, reverted.State["x"])
}

func TestMutateFalsyReturnLeavesDocUnchanged(t *testing.T) {
	ws := worldState{State: map[string]any{"x": 1.0}}
	d, err := Mutate(&ws, func(w *worldState) bool {
		w.State["x"] = 999.0
		return false
	})
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, 1.0, ws.State["x"])
}
