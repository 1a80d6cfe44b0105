// Package deps reports whether the external tools and writable directories
// the pipeline needs are present.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"discarchive/internal/config"
)

// Requirement defines an external binary the pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the configured pipeline invokes.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{Name: "MakeMKV", Command: cfg.MakeMKV.Binary, Description: "Reads the disc catalog and rips the main title"},
	}
	if strings.EqualFold(cfg.Transcode.Engine, config.EngineDrapto) {
		reqs = append(reqs, Requirement{Name: "FFmpeg", Command: "ffmpeg", Description: "Used by the drapto encoder"})
	} else {
		reqs = append(reqs, Requirement{Name: "FFmpeg", Command: cfg.Transcode.Binary, Description: "Transcodes the ripped title"})
	}
	return append(reqs,
		Requirement{Name: "mount", Command: "mount", Description: "Mounts discs for classification"},
		Requirement{Name: "umount", Command: "umount", Description: "Releases discs after classification"},
		Requirement{Name: "blkid", Command: "blkid", Description: "Reads volume labels and UDF signatures", Optional: true},
		Requirement{Name: "blockdev", Command: "blockdev", Description: "Reports disc size", Optional: true},
		Requirement{Name: "mountpoint", Command: "mountpoint", Description: "Detects stale mounts", Optional: true},
		Requirement{Name: "eject", Command: "eject", Description: "Fallback disc eject", Optional: true},
		Requirement{Name: "sg_start", Command: "sg_start", Description: "Last-resort disc eject", Optional: true},
	)
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Directories lists the directories the daemon writes to. A local archive
// root is included; a remote one is checked at delivery time.
func Directories(cfg *config.Config) []Requirement {
	dirs := []Requirement{
		{Name: "staging", Command: cfg.Paths.StagingDir, Description: "Per-job scratch space"},
		{Name: "state", Command: cfg.Paths.StateDir, Description: "Queue database and daemon lock"},
		{Name: "logs", Command: cfg.Paths.LogDir, Description: "Daemon logs", Optional: true},
	}
	if cfg.Destination.Type != config.DestinationSSH {
		dirs = append(dirs, Requirement{Name: "archive", Command: cfg.Destination.Local.Path, Description: "Local archive root"})
	}
	return dirs
}

// CheckDirectories reports whether each directory exists and is writable by
// this process.
func CheckDirectories(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		path := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     path,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		info, err := os.Stat(path)
		switch {
		case path == "":
			status.Detail = "path not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("directory %q missing", path)
		case !info.IsDir():
			status.Detail = fmt.Sprintf("%q is not a directory", path)
		default:
			if err := unix.Access(path, unix.W_OK|unix.X_OK); err != nil {
				status.Detail = fmt.Sprintf("directory %q not writable: %v", path, err)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required entries that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
