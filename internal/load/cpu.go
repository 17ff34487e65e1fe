// Package load estimates CPU and GPU utilization for the sag correction
// model. CPU usage is delta-based over /proc/stat counters; GPU usage comes
// from an ordered chain of probes, each allowed to fail into the next.
package load

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CPUStat is a snapshot of the aggregate cumulative CPU tick counters.
type CPUStat struct {
	Idle  uint64
	Total uint64
}

// ReadCPUStat parses the aggregate "cpu" line of <procRoot>/stat.
func ReadCPUStat(procRoot string) (CPUStat, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, "stat"))
	if err != nil {
		return CPUStat{}, fmt.Errorf("read proc stat: %w", err)
	}

	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return CPUStat{}, fmt.Errorf("unexpected stat line %q", line)
	}

	var stat CPUStat
	for i, field := range fields[1:] {
		value, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return CPUStat{}, fmt.Errorf("parse stat field %q: %w", field, err)
		}
		stat.Total += value
		if i == 3 {
			stat.Idle = value
		}
	}

	return stat, nil
}

// CPUUsage computes utilization between two snapshots, clamped to [0,100].
// A zero or backwards total delta yields 0.0.
func CPUUsage(prev, cur CPUStat) float64 {
	if cur.Total <= prev.Total || cur.Idle < prev.Idle {
		return 0.0
	}
	idleDelta := float64(cur.Idle - prev.Idle)
	totalDelta := float64(cur.Total - prev.Total)
	return clamp(100.0*(1.0-idleDelta/totalDelta), 0, 100)
}

func clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}
