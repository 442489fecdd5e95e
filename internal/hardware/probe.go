package hardware

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const probeTimeout = 3 * time.Second

// totalRAM returns the total physical RAM in bytes.
func totalRAM(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch runtime.GOOS {
	case "darwin":
		cmd := exec.CommandContext(ctx, "sysctl", "-n", "hw.memsize")
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			return 0, fmt.Errorf("sysctl hw.memsize: %w", err)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(stdout.String()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse memsize: %w", err)
		}
		return n, nil

	case "linux":
		data, err := os.ReadFile("/proc/meminfo")
		if err != nil {
			return 0, fmt.Errorf("read meminfo: %w", err)
		}
		return parseMemInfoTotal(string(data))

	default:
		return 0, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

func parseMemInfoTotal(meminfo string) (int64, error) {
	for _, line := range strings.Split(meminfo, "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			var kb int64
			if _, err := fmt.Sscanf(line, "MemTotal: %d kB", &kb); err != nil {
				return 0, fmt.Errorf("parse meminfo: %w", err)
			}
			return kb * 1024, nil
		}
	}
	return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
}

// discreteVRAM queries nvidia-smi for total memory of the first GPU.
// Returns an error when no GPU tool is available or the query fails.
func discreteVRAM(ctx context.Context) (int64, string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total,name", "--format=csv,noheader,nounits")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, "", fmt.Errorf("nvidia-smi: %w", err)
	}
	return parseNvidiaSMIMemory(stdout.String())
}

// parseNvidiaSMIMemory parses a "memory.total,name" CSV line. Memory is
// reported in MiB.
func parseNvidiaSMIMemory(out string) (int64, string, error) {
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if line == "" {
		return 0, "", fmt.Errorf("empty nvidia-smi output")
	}
	parts := strings.SplitN(line, ",", 2)
	mib, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse nvidia-smi memory: %w", err)
	}
	name := ""
	if len(parts) == 2 {
		name = strings.TrimSpace(parts[1])
	}
	return mib << 20, name, nil
}

// gpuUtilization returns the current GPU utilization percent, when a
// utilization source is available.
func gpuUtilization(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("nvidia-smi: %w", err)
	}
	line := strings.TrimSpace(strings.SplitN(stdout.String(), "\n", 2)[0])
	pct, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("parse gpu utilization: %w", err)
	}
	return pct, nil
}

// GPUUtilization is the exported probe used by the governor's stats sampler.
func GPUUtilization(ctx context.Context) (float64, error) { return gpuUtilization(ctx) }

// TotalRAM is the exported RAM probe used by the governor to derive the
// default memory budget.
func TotalRAM(ctx context.Context) (int64, error) { return totalRAM(ctx) }
