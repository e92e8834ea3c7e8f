package monitor

import (
	"slices"
	"sync"
	"time"
)

// VenueStats summarizes the recent order calls of one exchange.
type VenueStats struct {
	Calls       int     `json:"calls"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
	P50Ms       float64 `json:"p50_ms"`
	P95Ms       float64 `json:"p95_ms"`
	MaxMs       float64 `json:"max_ms"`
}

type outcome struct {
	ms float64
	ok bool
}

// ring holds the last len(buf) outcomes; next is the slot to overwrite.
type ring struct {
	buf  []outcome
	next int
	full bool
}

func (r *ring) add(o outcome) {
	r.buf[r.next] = o
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) items() []outcome {
	if r.full {
		return r.buf
	}
	return r.buf[:r.next]
}

// VenueWindow tracks per-exchange latency and failure rate over the last
// N order calls, for the status API. The otel histogram carries the
// long-run distribution.
type VenueWindow struct {
	mu     sync.Mutex
	size   int
	venues map[string]*ring
}

// NewVenueWindow keeps size outcomes per exchange.
func NewVenueWindow(size int) *VenueWindow {
	if size <= 0 {
		size = 200
	}
	return &VenueWindow{size: size, venues: make(map[string]*ring)}
}

// Observe records one call to exchange.
func (w *VenueWindow) Observe(exchange string, took time.Duration, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.venues[exchange]
	if r == nil {
		r = &ring{buf: make([]outcome, w.size)}
		w.venues[exchange] = r
	}
	r.add(outcome{ms: float64(took.Microseconds()) / 1e3, ok: ok})
}

// Stats returns the summary of every exchange seen so far.
func (w *VenueWindow) Stats() map[string]VenueStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]VenueStats, len(w.venues))
	for name, r := range w.venues {
		out[name] = summarize(r.items())
	}
	return out
}

func summarize(items []outcome) VenueStats {
	n := len(items)
	if n == 0 {
		return VenueStats{}
	}
	lat := make([]float64, n)
	s := VenueStats{Calls: n}
	for i, o := range items {
		lat[i] = o.ms
		if !o.ok {
			s.Failures++
		}
	}
	slices.Sort(lat)
	s.FailureRate = float64(s.Failures) / float64(n)
	s.P50Ms = lat[(n-1)/2]
	s.P95Ms = lat[(n-1)*95/100]
	s.MaxMs = lat[n-1]
	return s
}
