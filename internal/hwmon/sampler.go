package hwmon

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sampler reads rail voltages from a fixed set of hwmon instance directories.
type Sampler struct {
	dirs   []string
	marker string
	logger *slog.Logger
}

// ChannelValue is one successfully read voltage channel.
type ChannelValue struct {
	Dir     string  `json:"dir"`
	Channel string  `json:"channel"`
	Label   string  `json:"label"`
	Volts   float64 `json:"volts"`
}

// NewSampler builds a Sampler over the discovered instance directories.
// Channels qualify when their label file contains the marker substring.
func NewSampler(dirs []string, marker string, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sampler{
		dirs:   append([]string(nil), dirs...),
		marker: marker,
		logger: logger,
	}
}

// ReadChannels reads every matching channel once. Channels that fail to read
// or parse are skipped; failure isolation is per channel.
func (s *Sampler) ReadChannels() []ChannelValue {
	var values []ChannelValue

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.logger.Debug("failed to read hwmon instance", "dir", dir, "err", err)
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasPrefix(name, "in") || !strings.HasSuffix(name, "_label") {
				continue
			}

			labelRaw, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				s.logger.Debug("failed to read label", "dir", dir, "file", name, "err", err)
				continue
			}
			label := strings.TrimSpace(string(labelRaw))
			if !strings.Contains(label, s.marker) {
				continue
			}

			// Derive the channel name, e.g. "in1" from "in1_label".
			channel := strings.SplitN(name, "_", 2)[0]
			inputPath := filepath.Join(dir, channel+"_input")
			data, err := os.ReadFile(inputPath)
			if err != nil {
				s.logger.Debug("failed to read input", "path", inputPath, "err", err)
				continue
			}
			millivolts, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				s.logger.Debug("malformed input value", "path", inputPath, "err", err)
				continue
			}

			values = append(values, ChannelValue{
				Dir:     dir,
				Channel: channel,
				Label:   label,
				Volts:   float64(millivolts) / 1000.0,
			})
		}
	}

	return values
}

// MeanVoltage returns the arithmetic mean of all matching channel voltages.
// ok is false when no channel produced a usable value this cycle.
func (s *Sampler) MeanVoltage() (float64, bool) {
	values := s.ReadChannels()
	if len(values) == 0 {
		return 0, false
	}

	var sum float64
	for _, value := range values {
		sum += value.Volts
	}
	return sum / float64(len(values)), true
}
