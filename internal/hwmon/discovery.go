// Package hwmon discovers and reads the voltage channels of an i2c rail
// sensor exposed through the kernel hwmon subsystem.
package hwmon

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover enumerates hwmon instance directories for the given i2c driver
// and bus address. The returned paths are sorted for stable ordering. An
// empty result is fatal: without at least one instance there is nothing to
// monitor.
func Discover(sysfsRoot, driver, busAddr string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	base := filepath.Join(sysfsRoot, "bus", "i2c", "drivers", driver, busAddr, "hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("no hwmon directories found under %s: %w", base, err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "hwmon") {
			continue
		}
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		paths = append(paths, filepath.Join(base, name))
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no hwmon instances under %s", base)
	}

	sort.Strings(paths)
	logger.Debug("discovered hwmon instances", "base", base, "count", len(paths))
	return paths, nil
}
