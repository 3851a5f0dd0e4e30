package sink

import (
	"sync"
	"time"
)

type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}

// History keeps last max readings in memory.
type History struct {
	mu    sync.Mutex
	items []Reading // ring
	next  int
	full  bool
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = 1
	}
	return &History{items: make([]Reading, max)}
}

func (h *History) Add(r Reading) {
	h.mu.Lock()
	h.items[h.next] = r
	h.next = (h.next + 1) % len(h.items)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// List returns copy, newest first.
func (h *History) List() []Reading {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.next
	if h.full {
		n = len(h.items)
	}
	out := make([]Reading, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.items[(h.next-i+len(h.items))%len(h.items)])
	}
	return out
}
