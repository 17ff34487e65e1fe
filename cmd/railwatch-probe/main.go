// railwatch-probe runs sensor discovery and a single sampling cycle, for
// verifying a board's wiring before enabling the daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/undervolt/railwatch/internal/correct"
	"github.com/undervolt/railwatch/internal/hwmon"
	"github.com/undervolt/railwatch/internal/load"
)

type options struct {
	sysfsRoot  string
	procRoot   string
	driver     string
	busAddr    string
	rail       string
	jsonOutput bool
}

type report struct {
	Instances      []string             `json:"instances"`
	Channels       []hwmon.ChannelValue `json:"channels"`
	RawVolts       float64              `json:"raw_volts"`
	CorrectedVolts float64              `json:"corrected_volts"`
	CPUPercent     float64              `json:"cpu_pct"`
	GPUPercent     float64              `json:"gpu_pct"`
}

func parseFlags() options {
	var opts options
	flags := pflag.NewFlagSet("railwatch-probe", pflag.ExitOnError)
	flags.StringVar(&opts.sysfsRoot, "sysfs-root", envOrDefault("APP_SYSFS_ROOT", "/sys"), "path to the sysfs root")
	flags.StringVar(&opts.procRoot, "proc-root", envOrDefault("APP_PROC_ROOT", "/proc"), "path to the proc root")
	flags.StringVar(&opts.driver, "driver", envOrDefault("APP_DRIVER", "ina3221"), "hwmon i2c driver name")
	flags.StringVar(&opts.busAddr, "bus-addr", envOrDefault("APP_BUS_ADDR", "1-0040"), "i2c bus address of the rail sensor")
	flags.StringVar(&opts.rail, "rail", envOrDefault("APP_RAIL_MARKER", "VDD"), "label substring identifying the monitored rail")
	flags.BoolVar(&opts.jsonOutput, "json", false, "emit the probe result as JSON")
	_ = flags.Parse(os.Args[1:])
	return opts
}

func main() {
	opts := parseFlags()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	dirs, err := hwmon.Discover(opts.sysfsRoot, opts.driver, opts.busAddr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discovery failed: %v\n", err)
		os.Exit(1)
	}

	sampler := hwmon.NewSampler(dirs, opts.rail, logger)
	channels := sampler.ReadChannels()

	var rawVolts float64
	if len(channels) > 0 {
		for _, channel := range channels {
			rawVolts += channel.Volts
		}
		rawVolts /= float64(len(channels))
	}

	gpuLoadPaths := []string{
		"/sys/devices/gpu.0/load",
		"/sys/devices/platform/gpu.0/load",
		"/sys/class/devfreq/17000000.gv11b/load",
	}
	estimator := load.NewEstimator(opts.procRoot, load.DefaultProbes(gpuLoadPaths), logger)

	// Prime the counter snapshot, then measure over a short window.
	_ = estimator.CPUPercent()
	time.Sleep(500 * time.Millisecond)
	cpu := estimator.CPUPercent()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gpu := estimator.GPUPercent(ctx)

	result := report{
		Instances:      dirs,
		Channels:       channels,
		RawVolts:       rawVolts,
		CorrectedVolts: correct.DefaultModel().Apply(rawVolts, cpu, gpu),
		CPUPercent:     cpu,
		GPUPercent:     gpu,
	}

	if opts.jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("hwmon instances: %d\n", len(result.Instances))
	for _, dir := range result.Instances {
		fmt.Printf("  %s\n", dir)
	}
	fmt.Printf("matching channels: %d\n", len(result.Channels))
	for _, channel := range result.Channels {
		fmt.Printf("  %s/%s (%s): %.3fV\n", channel.Dir, channel.Channel, channel.Label, channel.Volts)
	}
	if len(result.Channels) == 0 {
		fmt.Println("no channels matched the rail marker; nothing to correct")
		return
	}
	fmt.Printf("raw: %.3fV, corrected: %.3fV, CPU: %.1f%%, GPU: %.1f%%\n",
		result.RawVolts, result.CorrectedVolts, result.CPUPercent, result.GPUPercent)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
