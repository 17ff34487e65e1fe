package load

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseTegrastats(t *testing.T) {
	t.Parallel()

	line := "RAM 2906/7846MB (lfb 831x4MB) CPU [12%@1420,8%@1420,5%@1420,3%@1420] " +
		"EMC_FREQ 4%@1600 GR3D_FREQ 45%@624 APE 25 PLL@38C CPU@40.5C\n"

	percent, ok := parseTegrastats([]byte(line))
	if !ok {
		t.Fatalf("expected GR3D_FREQ match")
	}
	if percent != 45 {
		t.Fatalf("expected 45, got %v", percent)
	}

	if _, ok := parseTegrastats([]byte("RAM 2906/7846MB CPU [12%@1420]\n")); ok {
		t.Fatalf("expected no match without GR3D_FREQ field")
	}
}

func TestParseSysfsLoad(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{"plain", "45\n", 45, true},
		{"percent suffix", "45%\n", 45, true},
		{"fractional form", "4500/1000\n", 45, true},
		{"small fraction untouched", "45/100\n", 45, true},
		{"overshoot clamped", "450\n", 100, true},
		{"no digits", "n/a\n", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseSysfsLoad(tc.raw)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestSysfsLoadProbeFirstExistingPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	second := filepath.Join(dir, "gpu.0", "load")
	if err := os.MkdirAll(filepath.Dir(second), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(second, []byte("37\n"), 0o600); err != nil {
		t.Fatalf("write load file: %v", err)
	}

	probe := &SysfsLoadProbe{Paths: []string{
		filepath.Join(dir, "missing", "load"),
		second,
	}}

	percent, err := probe.Utilization(context.Background())
	if err != nil {
		t.Fatalf("Utilization returned error: %v", err)
	}
	if percent != 37 {
		t.Fatalf("expected 37, got %v", percent)
	}
}

func TestSysfsLoadProbeNoPaths(t *testing.T) {
	t.Parallel()

	probe := &SysfsLoadProbe{Paths: []string{filepath.Join(t.TempDir(), "load")}}
	if _, err := probe.Utilization(context.Background()); err == nil {
		t.Fatalf("expected error when no load file exists")
	}
}

func TestParseJtopPayload(t *testing.T) {
	t.Parallel()

	percent, err := parseJtopPayload([]byte(`{"gpu":{"val":62.5},"cpu":{"val":10}}`))
	if err != nil {
		t.Fatalf("parseJtopPayload returned error: %v", err)
	}
	if percent != 62.5 {
		t.Fatalf("expected 62.5, got %v", percent)
	}

	if _, err := parseJtopPayload([]byte(`{"cpu":{"val":10}}`)); err == nil {
		t.Fatalf("expected error without gpu field")
	}
	if _, err := parseJtopPayload([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

type stubProbe struct {
	name  string
	value float64
	err   error
	calls *[]string
}

func (p *stubProbe) Name() string { return p.name }

func (p *stubProbe) Utilization(_ context.Context) (float64, error) {
	*p.calls = append(*p.calls, p.name)
	return p.value, p.err
}

func TestGPUPercentChainOrder(t *testing.T) {
	t.Parallel()

	var calls []string
	probes := []Probe{
		&stubProbe{name: "first", err: errors.New("unavailable"), calls: &calls},
		&stubProbe{name: "second", value: 55, calls: &calls},
		&stubProbe{name: "third", value: 99, calls: &calls},
	}

	estimator := NewEstimator(t.TempDir(), probes, discardLogger())

	percent := estimator.GPUPercent(context.Background())
	if percent != 55 {
		t.Fatalf("expected first success (55), got %v", percent)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("probes invoked out of order or past first success: %v", calls)
	}
}

func TestGPUPercentExhaustedChain(t *testing.T) {
	t.Parallel()

	var calls []string
	probes := []Probe{
		&stubProbe{name: "first", err: errors.New("no tool"), calls: &calls},
		&stubProbe{name: "second", err: errors.New("no file"), calls: &calls},
	}

	estimator := NewEstimator(t.TempDir(), probes, discardLogger())

	if percent := estimator.GPUPercent(context.Background()); percent != 0.0 {
		t.Fatalf("expected 0.0 for exhausted chain, got %v", percent)
	}
	if len(calls) != 2 {
		t.Fatalf("expected every probe to be tried, got %v", calls)
	}
}

func TestGPUPercentClampsResult(t *testing.T) {
	t.Parallel()

	var calls []string
	estimator := NewEstimator(t.TempDir(), []Probe{
		&stubProbe{name: "noisy", value: 250, calls: &calls},
	}, discardLogger())

	if percent := estimator.GPUPercent(context.Background()); percent != 100 {
		t.Fatalf("expected clamp to 100, got %v", percent)
	}
}
