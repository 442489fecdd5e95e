// Package hardware detects CPU, RAM and GPU resources and maps them to a
// discrete capability tier used to gate model recommendations.
package hardware

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"inferd/pkg/types"
)

// Tier thresholds. Applied to VRAM first; when no VRAM is known the same
// thresholds apply to total RAM.
const (
	tier1Bytes = 6 << 30
	tier2Bytes = 12 << 30
	tier3Bytes = 24 << 30
)

// Fraction of total RAM counted as VRAM on unified-memory machines.
const unifiedMemoryFraction = 0.75

const defaultCacheTTL = time.Minute

// Profiler performs cached hardware detection. Probe failures degrade to a
// RAM-only snapshot; Detect never returns an error.
type Profiler struct {
	mu       sync.RWMutex
	cached   *types.HardwareSnapshot
	cacheTTL time.Duration
}

// NewProfiler returns a profiler with a one-minute snapshot cache.
func NewProfiler() *Profiler {
	return &Profiler{cacheTTL: defaultCacheTTL}
}

// Detect returns the current hardware snapshot, reusing the cached value
// unless it expired or forceRefresh is set.
func (p *Profiler) Detect(ctx context.Context, forceRefresh bool) types.HardwareSnapshot {
	p.mu.RLock()
	if !forceRefresh && p.cached != nil && time.Since(time.Unix(p.cached.DetectedAtUnix, 0)) < p.cacheTTL {
		snap := *p.cached
		p.mu.RUnlock()
		return snap
	}
	p.mu.RUnlock()

	snap := probe(ctx)

	p.mu.Lock()
	p.cached = &snap
	p.mu.Unlock()

	log.Debug().
		Int64("ram_bytes", snap.TotalRAMBytes).
		Int64("vram_bytes", snap.VRAMBytes).
		Str("vram_source", snap.VRAMSource).
		Str("tier", snap.Tier.String()).
		Msg("hardware detected")
	return snap
}

func probe(ctx context.Context) types.HardwareSnapshot {
	snap := types.HardwareSnapshot{
		CPUCount:       runtime.NumCPU(),
		VRAMSource:     "none",
		DetectedAtUnix: time.Now().Unix(),
	}

	ram, err := totalRAM(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("RAM probe failed, using safe default")
		ram = 8 << 30
	}
	snap.TotalRAMBytes = ram

	if vram, name, err := discreteVRAM(ctx); err == nil && vram > 0 {
		snap.VRAMBytes = vram
		snap.GPUName = name
		snap.VRAMSource = "gpu"
	} else if unifiedMemory() {
		snap.VRAMBytes = int64(float64(ram) * unifiedMemoryFraction)
		snap.VRAMSource = "unified"
	} else if err != nil {
		log.Debug().Err(err).Msg("no discrete GPU facility answered")
	}

	snap.Tier = TierFor(snap.VRAMBytes, snap.TotalRAMBytes)
	return snap
}

// TierFor applies the tier rule: VRAM thresholds first (VRAM always wins
// over RAM when known), then the same thresholds against total RAM.
func TierFor(vramBytes, ramBytes int64) types.HardwareTier {
	if t, ok := tierFromBytes(vramBytes); ok {
		return t
	}
	if t, ok := tierFromBytes(ramBytes); ok {
		return t
	}
	return types.TierT0
}

func tierFromBytes(n int64) (types.HardwareTier, bool) {
	switch {
	case n >= tier3Bytes:
		return types.TierT3, true
	case n >= tier2Bytes:
		return types.TierT2, true
	case n >= tier1Bytes:
		return types.TierT1, true
	default:
		return types.TierT0, false
	}
}

// unifiedMemory reports whether the machine shares RAM with the GPU.
func unifiedMemory() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}
