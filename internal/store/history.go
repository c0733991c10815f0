package store

import (
	"sync"
)

// historyDepth caps the undo stack; the oldest entry falls off first.
const historyDepth = 50

// HistoryEntry is one undoable step: the action that produced it and the
// complete {nodes, edges} snapshot that resulted.
type HistoryEntry struct {
	Action   string
	Snapshot Snapshot
}

// History is the undo/redo stack for one document. Pushing a new entry
// truncates any redo tail.
type History struct {
	mu   sync.Mutex
	past []HistoryEntry
	next []HistoryEntry
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Push records a new step and clears the redo stack.
func (h *History) Push(action string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.past = append(h.past, HistoryEntry{Action: action, Snapshot: snap.Clone()})
	if len(h.past) > historyDepth {
		h.past = h.past[len(h.past)-historyDepth:]
	}
	h.next = nil
}

// Undo pops the most recent step onto the redo stack and returns the entry
// to restore, which is the snapshot preceding it.
func (h *History) Undo() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.past) < 2 {
		return HistoryEntry{}, false
	}
	top := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.next = append(h.next, top)
	return h.past[len(h.past)-1], true
}

// Redo replays the most recently undone step.
func (h *History) Redo() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.next) == 0 {
		return HistoryEntry{}, false
	}
	top := h.next[len(h.next)-1]
	h.next = h.next[:len(h.next)-1]
	h.past = append(h.past, top)
	return top, true
}

// Depth returns the undo and redo stack sizes.
func (h *History) Depth() (undo int, redo int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past), len(h.next)
}
