// Package governor enforces the memory budget for loaded models. It does
// not load or unload anything itself: the broker asks CanLoad before a
// load and ModelsToEvict when the answer is no, then reports the outcome
// back via the Track methods. The governor only keeps the books.
package governor

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"inferd/pkg/types"
)

var (
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inferd_model_loads_total",
		Help: "Model loads tracked by the governor, by backend.",
	}, []string{"backend"})
	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inferd_model_evictions_total",
		Help: "Model unloads performed to reclaim budget.",
	})
	residentBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inferd_resident_model_bytes",
		Help: "Estimated bytes of currently loaded models.",
	})
)

// Handle is one loaded model instance under budget accounting.
type Handle struct {
	ModelID   string
	Backend   types.BackendKind
	SizeBytes int64
	LoadedAt  time.Time
	LastUsed  time.Time
}

// Governor tracks loaded models against a byte budget.
type Governor struct {
	mu      sync.Mutex
	budget  int64
	handles map[string]*Handle // keyed by composite "kind:modelId"

	now func() time.Time // injectable for tests
}

// New builds a governor with the given budget in bytes. Budget must be
// positive; the caller derives it from config or total RAM.
func New(budgetBytes int64) *Governor {
	return &Governor{
		budget:  budgetBytes,
		handles: make(map[string]*Handle),
		now:     time.Now,
	}
}

// DefaultBudget derives the budget from total RAM: half of it, the safe
// ceiling for co-resident models on a workstation.
func DefaultBudget(totalRAMBytes int64) int64 {
	return totalRAMBytes / 2
}

// Budget returns the configured budget in bytes.
func (g *Governor) Budget() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.budget
}

// UsedBytes is the sum of loaded model sizes.
func (g *Governor) UsedBytes() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usedLocked()
}

func (g *Governor) usedLocked() int64 {
	var used int64
	for _, h := range g.handles {
		used += h.SizeBytes
	}
	return used
}

// CanLoad reports whether a model of the given size fits the remaining
// budget. A model larger than the whole budget never fits.
func (g *Governor) CanLoad(sizeBytes int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usedLocked()+sizeBytes <= g.budget
}

// ModelsToEvict returns the composite ids to unload, least recently used
// first, so that a model of the given size would fit. The second return
// is false when evicting everything still would not free enough.
func (g *Governor) ModelsToEvict(sizeBytes int64) ([]string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sizeBytes > g.budget {
		return nil, false
	}
	free := g.budget - g.usedLocked()
	if free >= sizeBytes {
		return []string{}, true
	}

	ordered := make([]*Handle, 0, len(g.handles))
	for _, h := range g.handles {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].LastUsed.Before(ordered[j].LastUsed)
	})

	var victims []string
	for _, h := range ordered {
		if free >= sizeBytes {
			break
		}
		victims = append(victims, key(h.Backend, h.ModelID))
		free += h.SizeBytes
	}
	return victims, free >= sizeBytes
}

// TrackLoaded records a successful load. Re-tracking an already-loaded
// model refreshes its timestamps and size.
func (g *Governor) TrackLoaded(backend types.BackendKind, modelID string, sizeBytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	id := key(backend, modelID)
	if h, ok := g.handles[id]; ok {
		h.SizeBytes = sizeBytes
		h.LastUsed = now
	} else {
		g.handles[id] = &Handle{
			ModelID:   modelID,
			Backend:   backend,
			SizeBytes: sizeBytes,
			LoadedAt:  now,
			LastUsed:  now,
		}
		loadsTotal.WithLabelValues(string(backend)).Inc()
	}
	residentBytes.Set(float64(g.usedLocked()))
	log.Debug().Str("model", id).Int64("bytes", sizeBytes).Msg("tracking loaded model")
}

// TrackUsed bumps the LRU timestamp. Unknown ids are a no-op.
func (g *Governor) TrackUsed(backend types.BackendKind, modelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.handles[key(backend, modelID)]; ok {
		h.LastUsed = g.now()
	}
}

// TrackUnloaded drops the handle. Unknown ids are a no-op. Set evicted
// when the unload was budget-driven rather than requested.
func (g *Governor) TrackUnloaded(backend types.BackendKind, modelID string, evicted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := key(backend, modelID)
	if _, ok := g.handles[id]; !ok {
		return
	}
	delete(g.handles, id)
	if evicted {
		evictionsTotal.Inc()
	}
	residentBytes.Set(float64(g.usedLocked()))
	log.Debug().Str("model", id).Bool("evicted", evicted).Msg("dropped model handle")
}

// IdleModels returns composite ids idle for at least the given duration.
func (g *Governor) IdleModels(idleFor time.Duration) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-idleFor)
	var out []string
	for id, h := range g.handles {
		if h.LastUsed.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Handles returns a snapshot copy of every tracked handle.
func (g *Governor) Handles() []Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Handle, 0, len(g.handles))
	for _, h := range g.handles {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		return key(out[i].Backend, out[i].ModelID) < key(out[j].Backend, out[j].ModelID)
	})
	return out
}

func key(backend types.BackendKind, modelID string) string {
	return string(backend) + ":" + modelID
}
