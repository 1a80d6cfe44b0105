// Package staging reclaims per-job scratch directories left behind by
// interrupted runs.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"discarchive/internal/logging"
)

// scratchPrefix is the directory name prefix the orchestrator uses for
// per-attempt scratch space: job-<id>-<random>.
const scratchPrefix = "job-"

// CleanupResult contains the outcome of a cleanup pass.
type CleanupResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// ScratchPattern returns the os.MkdirTemp pattern for a job's scratch
// directory.
func ScratchPattern(jobID int64) string {
	return fmt.Sprintf("%s%d-", scratchPrefix, jobID)
}

// ScratchJobID extracts the job id from a scratch directory name.
func ScratchJobID(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, scratchPrefix)
	if !ok {
		return 0, false
	}
	idPart, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// CleanOrphaned removes scratch directories whose job is not in active.
// Entries that are not scratch directories are left alone.
func CleanOrphaned(ctx context.Context, stagingDir string, active map[int64]struct{}, logger *slog.Logger) CleanupResult {
	result := CleanupResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		id, ok := ScratchJobID(entry.Name())
		if !ok {
			continue
		}
		if _, running := active[id]; running {
			continue
		}

		dirPath := filepath.Join(stagingDir, entry.Name())
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logging.WarnWithContext(logger, "failed to remove orphaned scratch directory", "staging_cleanup_failed",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.staging_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logger.Info("removed orphaned scratch directory",
			logging.String("path", dirPath),
			logging.Int64(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}
