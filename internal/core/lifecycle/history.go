package lifecycle

// History keeps the most recent transitions in a fixed-size window.
type History struct {
	windowSize  int
	transitions []Transition
	counts      map[State]int
}

// NewHistory creates a history with the given window size.
func NewHistory(windowSize int) *History {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &History{
		windowSize:  windowSize,
		transitions: make([]Transition, 0, windowSize),
		counts:      make(map[State]int),
	}
}

// Record appends a transition, dropping the oldest when full.
func (h *History) Record(t Transition) {
	if len(h.transitions) >= h.windowSize {
		// Shift elements left, drop oldest
		copy(h.transitions, h.transitions[1:])
		h.transitions[len(h.transitions)-1] = t
	} else {
		h.transitions = append(h.transitions, t)
	}
	h.counts[t.To]++
}

// Snapshot returns a copy of the window, oldest first.
func (h *History) Snapshot() []Transition {
	out := make([]Transition, len(h.transitions))
	copy(out, h.transitions)
	return out
}

// Count returns how many transitions into s were recorded since start.
func (h *History) Count(s State) int {
	return h.counts[s.Canonical()]
}
