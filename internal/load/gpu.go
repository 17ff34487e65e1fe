package load

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultProbeTimeout    = 2 * time.Second
	defaultSamplingWindow  = 300 * time.Millisecond
	tegrastatsIntervalMSec = "100"
)

// Probe is a single strategy for estimating GPU utilization. Probes are
// tried in a fixed order; the first one to succeed wins.
type Probe interface {
	Name() string
	Utilization(ctx context.Context) (float64, error)
}

// DefaultProbes returns the probe chain in preference order: the vendor
// management utility first, then the hardware statistics sampler, then raw
// sysfs load files, then the JSON system monitor.
func DefaultProbes(loadPaths []string) []Probe {
	return []Probe{
		&NvidiaSMIProbe{},
		&TegrastatsProbe{},
		&SysfsLoadProbe{Paths: loadPaths},
		&JtopProbe{},
	}
}

// NvidiaSMIProbe queries nvidia-smi for the GPU utilization percentage.
type NvidiaSMIProbe struct {
	Command string
	Timeout time.Duration
}

func (p *NvidiaSMIProbe) Name() string { return "nvidia-smi" }

func (p *NvidiaSMIProbe) Utilization(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(p.Timeout))
	defer cancel()

	command := p.Command
	if command == "" {
		command = "nvidia-smi"
	}

	out, err := exec.CommandContext(ctx, command,
		"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, fmt.Errorf("run %s: %w", command, err)
	}

	value := strings.TrimSpace(string(out))
	percent, err := strconv.Atoi(value)
	if err != nil || percent < 0 {
		return 0, fmt.Errorf("unexpected utilization output %q", value)
	}
	return float64(percent), nil
}

// TegrastatsProbe launches the tegrastats sampler for a short window, kills
// it, and extracts the GR3D_FREQ load percentage from its output.
type TegrastatsProbe struct {
	Command string
	Window  time.Duration
	Timeout time.Duration
}

var gr3dPattern = regexp.MustCompile(`GR3D_FREQ\s+(\d+)%`)

func (p *TegrastatsProbe) Name() string { return "tegrastats" }

func (p *TegrastatsProbe) Utilization(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(p.Timeout))
	defer cancel()

	command := p.Command
	if command == "" {
		command = "tegrastats"
	}
	window := p.Window
	if window <= 0 {
		window = defaultSamplingWindow
	}

	cmd := exec.CommandContext(ctx, command, "--interval", tegrastatsIntervalMSec)
	var buf bytes.Buffer
	cmd.Stdout = &buf

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", command, err)
	}

	// Let it emit at least one telemetry line, then stop it. The process
	// never exits on its own, so the kill is unconditional.
	select {
	case <-time.After(window):
	case <-ctx.Done():
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()

	percent, ok := parseTegrastats(buf.Bytes())
	if !ok {
		return 0, errors.New("no GR3D_FREQ field in tegrastats output")
	}
	return percent, nil
}

func parseTegrastats(output []byte) (float64, bool) {
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, "GR3D_FREQ") {
			continue
		}
		if match := gr3dPattern.FindStringSubmatch(line); match != nil {
			percent, err := strconv.Atoi(match[1])
			if err != nil {
				continue
			}
			return float64(percent), true
		}
	}
	return 0, false
}

// SysfsLoadProbe reads the first existing file from a fixed list of
// platform-specific GPU load paths.
type SysfsLoadProbe struct {
	Paths []string
}

var firstIntPattern = regexp.MustCompile(`\d+`)

func (p *SysfsLoadProbe) Name() string { return "sysfs-load" }

func (p *SysfsLoadProbe) Utilization(_ context.Context) (float64, error) {
	for _, path := range p.Paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if percent, ok := parseSysfsLoad(string(data)); ok {
			return percent, nil
		}
	}
	return 0, errors.New("no readable gpu load file")
}

func parseSysfsLoad(raw string) (float64, bool) {
	text := strings.TrimSpace(raw)
	match := firstIntPattern.FindString(text)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	// Fractional forms like "4500/100" report hundredths of a percent.
	if strings.Contains(text, "/") && value > 100 {
		value /= 100.0
	}
	if value > 100 {
		value = 100
	}
	return value, true
}

// JtopProbe queries the jtop system monitor for its JSON snapshot and
// extracts the GPU utilization value.
type JtopProbe struct {
	Command string
	Timeout time.Duration
}

func (p *JtopProbe) Name() string { return "jtop" }

func (p *JtopProbe) Utilization(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(p.Timeout))
	defer cancel()

	command := p.Command
	if command == "" {
		command = "jtop"
	}

	out, err := exec.CommandContext(ctx, command, "--json").Output()
	if err != nil {
		return 0, fmt.Errorf("run %s: %w", command, err)
	}

	percent, err := parseJtopPayload(out)
	if err != nil {
		return 0, err
	}
	return percent, nil
}

func parseJtopPayload(data []byte) (float64, error) {
	var payload struct {
		GPU *struct {
			Val *float64 `json:"val"`
		} `json:"gpu"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("parse jtop payload: %w", err)
	}
	if payload.GPU == nil || payload.GPU.Val == nil {
		return 0, errors.New("jtop payload has no gpu utilization value")
	}
	return *payload.GPU.Val, nil
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return defaultProbeTimeout
}
