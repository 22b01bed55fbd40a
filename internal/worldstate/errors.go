package worldstate

import "errors"

// ErrPlotNotFound is returned by update_plot/remove_plot for an unknown id.
var ErrPlotNotFound = errors.New("worldstate: plot not found")
