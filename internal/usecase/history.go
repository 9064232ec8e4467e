package usecase

import (
	"encoding/json"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// DefaultHistorySize is how many analysis results feed each new prompt.
const DefaultHistorySize = 10

// History is a bounded FIFO of analysis results, oldest first.
// Not safe for concurrent use; the owning analyzer serializes access.
type History struct {
	max   int
	items []domain.ScreenAnalysis
}

// NewHistory creates a history holding at most max entries.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &History{max: max, items: make([]domain.ScreenAnalysis, 0, max)}
}

// Append adds a result, evicting the oldest entries beyond the bound.
func (h *History) Append(a domain.ScreenAnalysis) {
	h.items = append(h.items, a)
	if over := len(h.items) - h.max; over > 0 {
		h.items = append(h.items[:0], h.items[over:]...)
	}
}

// Items returns a copy ordered oldest to newest.
func (h *History) Items() []domain.ScreenAnalysis {
	out := make([]domain.ScreenAnalysis, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of stored results.
func (h *History) Len() int {
	return len(h.items)
}

// Reset drops all results.
func (h *History) Reset() {
	h.items = h.items[:0]
}

// PromptContext serializes the results most recent first for the analysis prompt.
// Returns an empty string when there is no history.
func (h *History) PromptContext() string {
	if len(h.items) == 0 {
		return ""
	}
	recent := make([]domain.ScreenAnalysis, 0, len(h.items))
	for i := len(h.items) - 1; i >= 0; i-- {
		recent = append(recent, h.items[i])
	}
	data, err := json.Marshal(recent)
	if err != nil {
		return ""
	}
	return string(data)
}
