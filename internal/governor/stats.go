package governor

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"inferd/internal/hardware"
	"inferd/pkg/types"
)

const statsCacheTTL = 5 * time.Second

// StatsSampler serves cached system load samples. Sampling shells out to
// nvidia-smi and reads /proc, so callers share one cached value instead
// of probing per request.
type StatsSampler struct {
	mu        sync.Mutex
	cached    types.SystemStats
	sampledAt time.Time

	prevIdle  uint64
	prevTotal uint64
}

func NewStatsSampler() *StatsSampler { return &StatsSampler{} }

// Sample returns the current system stats, refreshing at most every 5s.
func (s *StatsSampler) Sample(ctx context.Context) types.SystemStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if !s.sampledAt.IsZero() && now.Sub(s.sampledAt) < statsCacheTTL {
		return s.cached
	}

	stats := types.SystemStats{SampledAtUnix: now.Unix()}
	stats.CPUPercent = s.cpuPercentLocked()
	stats.RAMPercent = ramPercent()
	if gpu, err := hardware.GPUUtilization(ctx); err == nil {
		stats.GPUPercent = &gpu
	}

	s.cached = stats
	s.sampledAt = now
	return stats
}

// cpuPercentLocked computes utilization from the /proc/stat aggregate
// line delta since the previous sample. The first call has no baseline
// and reports 0.
func (s *StatsSampler) cpuPercentLocked() float64 {
	idle, total, ok := readCPUTicks()
	if !ok {
		return 0
	}
	defer func() {
		s.prevIdle, s.prevTotal = idle, total
	}()
	if s.prevTotal == 0 || total <= s.prevTotal {
		return 0
	}
	dTotal := total - s.prevTotal
	dIdle := idle - s.prevIdle
	if dIdle > dTotal {
		return 0
	}
	return float64(dTotal-dIdle) / float64(dTotal) * 100
}

func readCPUTicks() (idle, total uint64, ok bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		total += v
		// fields: user nice system idle iowait ...
		if i == 3 || i == 4 {
			idle += v
		}
	}
	return idle, total, true
}

func ramPercent() float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	var totalKB, availKB int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB <= 0 || availKB < 0 {
		return 0
	}
	return float64(totalKB-availKB) / float64(totalKB) * 100
}
