package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ManuGH/xgenc/internal/config"
	"github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/rs/zerolog"
)

var errNotDir = errors.New("not a directory")

// PerformStartupChecks validates the environment before the daemon accepts
// sessions. Missing encoders only warn; an unusable data directory fails.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := checkWritableDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Info().Str("path", cfg.DataDir).Msg("data directory is writable")

	checkEncoders(logger, cfg)

	snap := cfg.Session.Snapshot()
	if snap.OutputFolderMode == model.FolderSpecified {
		if err := os.MkdirAll(snap.OutputFolderPath, 0o750); err != nil {
			return fmt.Errorf("output folder %s: %w", snap.OutputFolderPath, err)
		}
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; the temp artifact index may be lost on reboot")
	}
	return nil
}

func checkEncoders(logger zerolog.Logger, cfg config.AppConfig) {
	missing := MissingEncoders(cfg.Encoders, exec.LookPath)
	if len(missing) == 0 {
		logger.Info().Msg("all encoder executables found")
		return
	}
	logger.Warn().
		Strs("missing", missing).
		Msg("some encoder executables were not found; sessions using them will fail to spawn")
}
