package model

// DefaultHistoryDepth is the bounded undo/redo stack depth, overridable via
// config.Config.HistoryDepth.
const DefaultHistoryDepth = 50

// LayerFilterHistory is a per-layer bounded undo/redo stack of FilterState.
type LayerFilterHistory struct {
	depth   int
	entries []FilterState
	// cursor points one past the last applied entry; redo is available
	// when cursor < len(entries).
	cursor int
}

// NewLayerFilterHistory creates a history bounded to depth entries. A
// depth <= 0 falls back to DefaultHistoryDepth.
func NewLayerFilterHistory(depth int) *LayerFilterHistory {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &LayerFilterHistory{depth: depth}
}

// Push records a newly applied FilterState, discarding any redo entries
// beyond the current cursor (a new filter invalidates stale redo state per
// "redo reapplies a state only if no new filter has been
// pushed since").
func (h *LayerFilterHistory) Push(state FilterState) {
	h.entries = append(h.entries[:h.cursor], state)
	if len(h.entries) > h.depth {
		overflow := len(h.entries) - h.depth
		h.entries = h.entries[overflow:]
	}
	h.cursor = len(h.entries)
}

// CanUndo reports whether there is a previous state to restore.
func (h *LayerFilterHistory) CanUndo() bool {
	return h.cursor > 0
}

// CanRedo reports whether a pushed-over state can be reapplied.
func (h *LayerFilterHistory) CanRedo() bool {
	return h.cursor < len(h.entries)
}

// Undo moves the cursor back one entry and returns the state now current,
// or ok=false if there is nothing to undo (layer should be cleared).
func (h *LayerFilterHistory) Undo() (state FilterState, ok bool) {
	if !h.CanUndo() {
		return FilterState{}, false
	}
	h.cursor--
	if h.cursor == 0 {
		return FilterState{}, false
	}
	return h.entries[h.cursor-1], true
}

// Redo moves the cursor forward one entry and returns it.
func (h *LayerFilterHistory) Redo() (state FilterState, ok bool) {
	if !h.CanRedo() {
		return FilterState{}, false
	}
	state = h.entries[h.cursor]
	h.cursor++
	return state, true
}

// Current returns the currently-applied state, if any.
func (h *LayerFilterHistory) Current() (state FilterState, ok bool) {
	if h.cursor == 0 {
		return FilterState{}, false
	}
	return h.entries[h.cursor-1], true
}

// Reset clears the history entirely, as done by the orchestrator's reset
// action.
func (h *LayerFilterHistory) Reset() {
	h.entries = nil
	h.cursor = 0
}
