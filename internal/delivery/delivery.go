package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"discarchive/internal/config"
	"discarchive/internal/metadata"
	"discarchive/internal/services"
	"discarchive/internal/textutil"
)

// SidecarName is the metadata file written beside every archived file.
const SidecarName = "metadata.json"

// maxNameAttempts bounds collision suffixing.
const maxNameAttempts = 10000

// Result describes a delivered file.
type Result struct {
	Path      string
	SizeBytes int64
}

// Destination places a finished file in the archive.
type Destination interface {
	Describe() string
	Deliver(ctx context.Context, source string, record *metadata.Record) (Result, error)
}

// New builds the destination selected by cfg.Destination.Type.
func New(cfg *config.Config, logger *slog.Logger) (Destination, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "archiving", "init", "config required", nil)
	}
	switch cfg.Destination.Type {
	case config.DestinationLocal, "":
		return NewLocal(cfg.Destination.Local.Path, logger)
	case config.DestinationSSH:
		return NewRemote(cfg.Destination.SSH, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "archiving", "init",
			fmt.Sprintf("unknown destination type %q", cfg.Destination.Type), nil)
	}
}

// layout is the folder and file naming for one delivery.
type layout struct {
	folder string
	base   string
	ext    string
}

func newLayout(source string, record *metadata.Record) layout {
	title, year := textutil.FallbackTitle, 0
	if record != nil {
		if strings.TrimSpace(record.Title) != "" {
			title = record.Title
		}
		year = record.Year
	}
	return layout{
		folder: textutil.SafeName(title, year),
		base:   textutil.SafeTitle(title),
		ext:    strings.TrimPrefix(path.Ext(source), "."),
	}
}

// fileName returns the n-th candidate: base.ext, base_1.ext, base_2.ext, ...
func (l layout) fileName(n int) string {
	name := l.base
	if n > 0 {
		name += "_" + strconv.Itoa(n)
	}
	if l.ext != "" {
		name += "." + l.ext
	}
	return name
}

func sidecar(record *metadata.Record) ([]byte, error) {
	if record == nil {
		record = &metadata.Record{Title: textutil.FallbackTitle}
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
