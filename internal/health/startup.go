// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/config"
	"github.com/larderhq/larder/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving: directories it must write and addresses it must bind.
func PerformStartupChecks(cfg config.App) error {
	logger := log.WithComponent("startup-check")

	if err := checkWritableDir(logger, "data", cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkWritableDir(logger, "media", cfg.MediaDir()); err != nil {
		return fmt.Errorf("media directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, "api", cfg.ListenAddr); err != nil {
		return err
	}
	// metrics listener is optional; empty means disabled
	if cfg.MetricsAddr != "" {
		if err := checkListenAddr(logger, "metrics", cfg.MetricsAddr); err != nil {
			return err
		}
	}

	logger.Info().Str("event", "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

// checkWritableDir creates the directory when missing, then proves it is
// writable by dropping and removing a probe file.
func checkWritableDir(logger zerolog.Logger, name, path string) error {
	if path == "" {
		return fmt.Errorf("%s directory not configured", name)
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	probe := filepath.Join(path, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", path, err)
	}
	_ = os.Remove(probe)

	logger.Debug().
		Str("event", "startup.dir_ok").
		Str(log.FieldPath, path).
		Msg("directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s listen address not configured", name)
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	logger.Debug().
		Str("event", "startup.addr_ok").
		Str("addr", addr).
		Msg("listen address is valid")
	return nil
}
