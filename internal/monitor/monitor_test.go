package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/undervolt/railwatch/internal/correct"
)

type voltageStep struct {
	volts float64
	ok    bool
}

// scriptedVoltage replays a fixed sequence of readings; the last step
// repeats once the script is exhausted.
type scriptedVoltage struct {
	mu    sync.Mutex
	steps []voltageStep
	index int
}

func (s *scriptedVoltage) MeanVoltage() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.steps[s.index]
	if s.index < len(s.steps)-1 {
		s.index++
	}
	return step.volts, step.ok
}

type fixedLoad struct {
	cpu float64
	gpu float64
}

func (f fixedLoad) CPUPercent() float64 { return f.cpu }

func (f fixedLoad) GPUPercent(_ context.Context) float64 { return f.gpu }

type countingAction struct {
	mu    sync.Mutex
	count int
	err   error
}

func (a *countingAction) Trigger(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	return a.err
}

func (a *countingAction) triggers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func newTestMonitor(t *testing.T, steps []voltageStep, limit int) (*Monitor, *countingAction) {
	t.Helper()

	action := &countingAction{}
	mon, err := New(Options{
		Interval:  time.Millisecond,
		Threshold: 14.0,
		Limit:     limit,
		Voltage:   &scriptedVoltage{steps: steps},
		Load:      fixedLoad{},
		Model:     correct.Model{}, // identity: corrected == raw
		Action:    action,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return mon, action
}

func TestRunTriggersShutdownOnce(t *testing.T) {
	t.Parallel()

	mon, action := newTestMonitor(t, []voltageStep{{volts: 13.0, ok: true}}, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mon.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := action.triggers(); got != 1 {
		t.Fatalf("shutdown must be invoked exactly once, got %d", got)
	}

	latest, ok := mon.Latest()
	if !ok {
		t.Fatalf("expected a latest reading")
	}
	if latest.UndervoltageCount != 3 {
		t.Fatalf("expected final count 3, got %d", latest.UndervoltageCount)
	}
}

func TestRunRecoveryResetsCount(t *testing.T) {
	t.Parallel()

	steps := []voltageStep{
		{volts: 13.0, ok: true},
		{volts: 13.0, ok: true},
		{volts: 14.5, ok: true}, // recovery resets the counter
		{volts: 13.0, ok: true},
		{volts: 13.0, ok: true},
		{volts: 13.0, ok: true},
	}
	mon, action := newTestMonitor(t, steps, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mon.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := action.triggers(); got != 1 {
		t.Fatalf("expected one shutdown after re-accumulating, got %d", got)
	}

	stats := mon.CurrentStats()
	if stats.Cycles != 6 {
		t.Fatalf("expected 6 cycles, got %d", stats.Cycles)
	}
}

func TestRunAbsentReadingsLeaveCountUntouched(t *testing.T) {
	t.Parallel()

	steps := []voltageStep{
		{volts: 13.0, ok: true},
		{ok: false},
		{ok: false},
		{volts: 13.0, ok: true},
	}
	mon, action := newTestMonitor(t, steps, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mon.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := action.triggers(); got != 1 {
		t.Fatalf("expected shutdown despite interleaved absent readings, got %d triggers", got)
	}

	stats := mon.CurrentStats()
	if stats.NoReadingCycles != 2 {
		t.Fatalf("expected 2 no-reading cycles, got %d", stats.NoReadingCycles)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	mon, action := newTestMonitor(t, []voltageStep{{volts: 15.0, ok: true}}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- mon.Run(ctx)
	}()

	waitFor(t, time.Second, mon.Ready)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if action.triggers() != 0 {
		t.Fatalf("shutdown must not be invoked on cancellation")
	}
}

func TestSubscribeReceivesReadings(t *testing.T) {
	t.Parallel()

	mon, _ := newTestMonitor(t, []voltageStep{{volts: 15.0, ok: true}}, 3)

	ch, unsubscribe := mon.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = mon.Run(ctx)
	}()

	select {
	case reading := <-ch:
		if reading.RawVolts != 15.0 {
			t.Fatalf("unexpected raw voltage %v", reading.RawVolts)
		}
		if reading.CorrectedVolts != 15.0 {
			t.Fatalf("identity model should keep corrected == raw, got %v", reading.CorrectedVolts)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a reading")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := New(Options{
		Interval: 0,
		Limit:    3,
		Voltage:  &scriptedVoltage{steps: []voltageStep{{ok: false}}},
		Load:     fixedLoad{},
		Action:   &countingAction{},
	})
	if err == nil {
		t.Fatalf("expected error for non-positive interval")
	}

	_, err = New(Options{
		Interval: time.Second,
		Limit:    0,
		Voltage:  &scriptedVoltage{steps: []voltageStep{{ok: false}}},
		Load:     fixedLoad{},
		Action:   &countingAction{},
	})
	if err == nil {
		t.Fatalf("expected error for non-positive limit")
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
