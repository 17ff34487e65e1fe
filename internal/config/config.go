package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration sourced from CLI flags,
// environment variables and an optional calibration file.
type Config struct {
	ThresholdVolts    float64
	SampleInterval    time.Duration
	LogFile           string
	UndervoltageLimit int
	Debug             bool

	Driver     string
	BusAddr    string
	RailMarker string

	SysfsRoot string
	ProcRoot  string

	ListenAddr       string
	EnablePrometheus bool
	LogLevel         slog.Level

	CalibrationFile string
	Correction      CorrectionConfig
	GPULoadPaths    []string
	ShutdownCommand []string
}

// CorrectionConfig holds the coefficients of the voltage sag model.
type CorrectionConfig struct {
	KCPU   float64 `yaml:"k_cpu"`
	KGPU   float64 `yaml:"k_gpu"`
	Offset float64 `yaml:"offset"`
}

// calibrationFile is the on-disk layout of the optional YAML calibration file.
type calibrationFile struct {
	Correction      *CorrectionConfig `yaml:"correction"`
	GPULoadPaths    []string          `yaml:"gpu_load_paths"`
	ShutdownCommand []string          `yaml:"shutdown_command"`
}

// Load parses configuration from the given command-line arguments, applying
// environment variable defaults and the calibration file, if configured.
func Load(args []string) (Config, error) {
	cfg := Config{
		ThresholdVolts:    14.5,
		SampleInterval:    time.Second,
		LogFile:           "/var/log/railwatch.log",
		UndervoltageLimit: 10,
		Driver:            "ina3221",
		BusAddr:           "1-0040",
		RailMarker:        "VDD",
		SysfsRoot:         "/sys",
		ProcRoot:          "/proc",
		LogLevel:          slog.LevelInfo,
		Correction: CorrectionConfig{
			KCPU:   0.00395,
			KGPU:   0.01478,
			Offset: 0.560,
		},
		GPULoadPaths: []string{
			"/sys/devices/gpu.0/load",
			"/sys/devices/platform/gpu.0/load",
			"/sys/class/devfreq/17000000.gv11b/load",
		},
		ShutdownCommand: []string{"/sbin/shutdown", "now"},
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	intervalSeconds := cfg.SampleInterval.Seconds()

	flags := pflag.NewFlagSet("railwatch", pflag.ContinueOnError)
	flags.Float64VarP(&cfg.ThresholdVolts, "threshold", "t", cfg.ThresholdVolts, "undervoltage threshold in volts")
	flags.Float64VarP(&intervalSeconds, "interval", "i", intervalSeconds, "sampling interval in seconds")
	flags.StringVarP(&cfg.LogFile, "log", "l", cfg.LogFile, "path to the log file")
	flags.IntVarP(&cfg.UndervoltageLimit, "undervoltage-limit", "u", cfg.UndervoltageLimit, "consecutive under-threshold readings before shutdown")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log to stdout and suppress the real shutdown action")
	flags.StringVar(&cfg.Driver, "driver", cfg.Driver, "hwmon i2c driver name")
	flags.StringVar(&cfg.BusAddr, "bus-addr", cfg.BusAddr, "i2c bus address of the rail sensor")
	flags.StringVar(&cfg.RailMarker, "rail", cfg.RailMarker, "label substring identifying the monitored rail")
	flags.StringVar(&cfg.SysfsRoot, "sysfs-root", cfg.SysfsRoot, "path to the sysfs root")
	flags.StringVar(&cfg.ProcRoot, "proc-root", cfg.ProcRoot, "path to the proc root")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "status server listen address (empty disables)")
	flags.BoolVar(&cfg.EnablePrometheus, "prometheus", cfg.EnablePrometheus, "expose Prometheus metrics on the status server")
	flags.StringVar(&cfg.CalibrationFile, "calibration", cfg.CalibrationFile, "path to a YAML calibration file")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.SampleInterval = time.Duration(intervalSeconds * float64(time.Second))

	if cfg.CalibrationFile != "" {
		if err := applyCalibration(&cfg, cfg.CalibrationFile); err != nil {
			return Config{}, err
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if value := strings.TrimSpace(os.Getenv("APP_THRESHOLD_VOLTS")); value != "" {
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parse APP_THRESHOLD_VOLTS: %w", err)
		}
		cfg.ThresholdVolts = threshold
	}

	if value := strings.TrimSpace(os.Getenv("APP_SAMPLE_INTERVAL")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse APP_SAMPLE_INTERVAL: %w", err)
		}
		cfg.SampleInterval = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_FILE")); value != "" {
		cfg.LogFile = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_UNDERVOLTAGE_LIMIT")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse APP_UNDERVOLTAGE_LIMIT: %w", err)
		}
		cfg.UndervoltageLimit = limit
	}

	if value := strings.TrimSpace(os.Getenv("APP_DRIVER")); value != "" {
		cfg.Driver = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_BUS_ADDR")); value != "" {
		cfg.BusAddr = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_RAIL_MARKER")); value != "" {
		cfg.RailMarker = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_SYSFS_ROOT")); value != "" {
		cfg.SysfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_PROC_ROOT")); value != "" {
		cfg.ProcRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_LISTEN_ADDR")); value != "" {
		cfg.ListenAddr = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_ENABLE_PROMETHEUS")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.EnablePrometheus = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("APP_CALIBRATION_FILE")); value != "" {
		cfg.CalibrationFile = value
	}

	return nil
}

func applyCalibration(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read calibration file: %w", err)
	}

	var file calibrationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse calibration file: %w", err)
	}

	if file.Correction != nil {
		cfg.Correction = *file.Correction
	}
	if len(file.GPULoadPaths) > 0 {
		cfg.GPULoadPaths = file.GPULoadPaths
	}
	if len(file.ShutdownCommand) > 0 {
		cfg.ShutdownCommand = file.ShutdownCommand
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.ThresholdVolts <= 0 {
		return fmt.Errorf("threshold must be > 0")
	}
	if cfg.SampleInterval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if cfg.UndervoltageLimit <= 0 {
		return fmt.Errorf("undervoltage limit must be > 0")
	}
	if cfg.Driver == "" || cfg.BusAddr == "" {
		return fmt.Errorf("driver and bus address must not be empty")
	}
	if cfg.RailMarker == "" {
		return fmt.Errorf("rail marker must not be empty")
	}
	if len(cfg.ShutdownCommand) == 0 {
		return fmt.Errorf("shutdown command must not be empty")
	}
	return nil
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
