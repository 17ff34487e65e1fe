// Package app wires up and runs the daemon services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/undervolt/railwatch/internal/config"
	"github.com/undervolt/railwatch/internal/correct"
	"github.com/undervolt/railwatch/internal/httpserver"
	"github.com/undervolt/railwatch/internal/hwmon"
	"github.com/undervolt/railwatch/internal/load"
	"github.com/undervolt/railwatch/internal/monitor"
	"github.com/undervolt/railwatch/internal/shutdown"
)

const httpShutdownTimeout = 10 * time.Second

// Run bootstraps the daemon lifecycle. It returns nil on a clean stop,
// including the case where the undervoltage limit triggered the host
// shutdown action.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	dirs, err := hwmon.Discover(cfg.SysfsRoot, cfg.Driver, cfg.BusAddr,
		baseLogger.With("component", "hwmon_discovery"))
	if err != nil {
		return fmt.Errorf("discover rail sensors: %w", err)
	}
	appLogger.Info("discovered hwmon instances", "count", len(dirs), "rail", cfg.RailMarker)

	sampler := hwmon.NewSampler(dirs, cfg.RailMarker, baseLogger.With("component", "sampler"))
	estimator := load.NewEstimator(cfg.ProcRoot, load.DefaultProbes(cfg.GPULoadPaths),
		baseLogger.With("component", "load"))

	var action monitor.Action
	if cfg.Debug {
		action = shutdown.NewLogAction(baseLogger.With("component", "shutdown"))
	} else {
		action = shutdown.NewExecAction(cfg.ShutdownCommand, baseLogger.With("component", "shutdown"))
	}

	mon, err := monitor.New(monitor.Options{
		Interval:  cfg.SampleInterval,
		Threshold: cfg.ThresholdVolts,
		Limit:     cfg.UndervoltageLimit,
		Voltage:   sampler,
		Load:      estimator,
		Model: correct.Model{
			KCPU:   cfg.Correction.KCPU,
			KGPU:   cfg.Correction.KGPU,
			Offset: cfg.Correction.Offset,
		},
		Action: action,
		Logger: baseLogger,
	})
	if err != nil {
		return fmt.Errorf("init monitor: %w", err)
	}

	if cfg.ListenAddr == "" {
		err := mon.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), mon)

	monCtx, monCancel := context.WithCancel(ctx)
	defer monCancel()

	monErrCh := make(chan error, 1)
	go func() {
		monErrCh <- mon.Run(monCtx)
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- srv.Start()
	}()

	stopHTTP := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-httpErrCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	select {
	case err := <-monErrCh:
		// The monitor only finishes on its own after triggering the
		// shutdown action, or on cancellation.
		httpErr := stopHTTP()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return httpErr
	case err := <-httpErrCh:
		monCancel()
		if monErr := <-monErrCh; monErr != nil && !errors.Is(monErr, context.Canceled) {
			return monErr
		}
		return err
	case <-ctx.Done():
		appLogger.Info("shutdown initiated", "reason", ctx.Err())
		monCancel()
		if monErr := <-monErrCh; monErr != nil && !errors.Is(monErr, context.Canceled) {
			return monErr
		}
		if err := stopHTTP(); err != nil {
			return err
		}
		appLogger.Info("shutdown complete")
		return nil
	}
}
