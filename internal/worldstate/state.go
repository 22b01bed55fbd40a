// Package worldstate is the player-visible narrative state: a free-form
// JSON tree plus an ordered sequence of plots, mutated only through
// operations that each produce an invertible delta pair, grounded the same
// way internal/storytree grounds its node operations on internal/delta.Mutate.
package worldstate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/loomengine/loom/internal/delta"
)

// Plot is one tracked story thread.
type Plot struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Alignment     float64 `json:"alignment"`
	CreatedAtTurn int     `json:"created_at_turn"`
}

type document struct {
	State map[string]any `json:"state"`
	Plots []Plot         `json:"plots"`
}

// State is the world state: a tree-of-json plus an ordered plot list.
type State struct {
	doc document
}

// New returns an empty world state.
func New() *State {
	return &State{doc: document{State: make(map[string]any), Plots: []Plot{}}}
}

// Snapshot returns the current state and plots for serialization.
func (s *State) Snapshot() (map[string]any, []Plot) {
	return s.doc.State, s.doc.Plots
}

// FromSnapshot reconstructs a State from a previously captured Snapshot, as
// done when a session is loaded from disk.
func FromSnapshot(state map[string]any, plots []Plot) *State {
	if state == nil {
		state = make(map[string]any)
	}
	if plots == nil {
		plots = []Plot{}
	}
	return &State{doc: document{State: state, Plots: plots}}
}

// DeepSet sets the value at the given slash-separated path within state
// (e.g. "player/hp"), creating intermediate objects as needed.
func (s *State) DeepSet(path string, value any) (*delta.Pair, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, fmt.Errorf("worldstate: deep_set: empty path")
	}

	pair, err := delta.Mutate(&s.doc, func(d *document) bool {
		setNested(d.State, segments, value)
		return true
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// PatchState recursively merges partial into state: nested maps merge
// key-by-key, every other value type overwrites outright.
func (s *State) PatchState(partial map[string]any) (*delta.Pair, error) {
	pair, err := delta.Mutate(&s.doc, func(d *document) bool {
		mergeInto(d.State, partial)
		return true
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// PlotInput is the caller-supplied content of a new plot.
type PlotInput struct {
	Title         string
	Description   string
	Alignment     float64
	CreatedAtTurn int
}

// AddPlot appends a new plot, assigning it a fresh id.
func (s *State) AddPlot(in PlotInput) (string, *delta.Pair, error) {
	id := uuid.NewString()
	plot := Plot{ID: id, Title: in.Title, Description: in.Description, Alignment: in.Alignment, CreatedAtTurn: in.CreatedAtTurn}

	pair, err := delta.Mutate(&s.doc, func(d *document) bool {
		d.Plots = append(d.Plots, plot)
		return true
	})
	if err != nil {
		return "", nil, err
	}
	return id, pair, nil
}

// PlotUpdate carries optional field updates for UpdatePlot.
type PlotUpdate struct {
	Title       *string
	Description *string
	Alignment   *float64
}

// UpdatePlot applies updates to the plot with the given id.
func (s *State) UpdatePlot(id string, upd PlotUpdate) (*delta.Pair, error) {
	idx := s.plotIndex(id)
	if idx < 0 {
		return nil, fmt.Errorf("worldstate: update_plot: %w", ErrPlotNotFound)
	}

	pair, err := delta.Mutate(&s.doc, func(d *document) bool {
		p := &d.Plots[idx]
		if upd.Title != nil {
			p.Title = *upd.Title
		}
		if upd.Description != nil {
			p.Description = *upd.Description
		}
		if upd.Alignment != nil {
			p.Alignment = *upd.Alignment
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// RemovePlot deletes the plot with the given id.
func (s *State) RemovePlot(id string) (*delta.Pair, error) {
	idx := s.plotIndex(id)
	if idx < 0 {
		return nil, fmt.Errorf("worldstate: remove_plot: %w", ErrPlotNotFound)
	}

	pair, err := delta.Mutate(&s.doc, func(d *document) bool {
		d.Plots = append(d.Plots[:idx], d.Plots[idx+1:]...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// ApplyDelta patches the world state's internal document with the given
// ops, bypassing the mutator-driven Mutate calls above -- used by the
// engine to replay a captured delta.Pair's Apply or Revert ops during
// undo/redo and branch navigation.
func (s *State) ApplyDelta(ops []delta.Op) error {
	target, err := delta.ApplyToValue(s.doc, ops)
	if err != nil {
		return fmt.Errorf("worldstate: apply delta: %w", err)
	}
	if target.State == nil {
		target.State = make(map[string]any)
	}
	s.doc = target
	return nil
}

func (s *State) plotIndex(id string) int {
	for i, p := range s.doc.Plots {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// setNested walks m following segments, creating intermediate
// map[string]any values as needed, and sets value at the final segment.
func setNested(m map[string]any, segments []string, value any) {
	for _, seg := range segments[:len(segments)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[segments[len(segments)-1]] = value
}

// mergeInto recursively merges src into dst in place: nested maps merge
// key-by-key, every other value overwrites outright.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}
