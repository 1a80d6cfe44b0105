package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"discarchive/internal/queue"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var (
	colorOK     = color.New(color.FgGreen)
	colorWarn   = color.New(color.FgYellow)
	colorError  = color.New(color.FgRed)
	colorInfo   = color.New(color.FgBlue)
	colorHeader = color.New(color.FgBlue, color.Bold)
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	return paint(statusKindColor(kind), base, colorize)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) *color.Color {
	switch kind {
	case statusOK:
		return colorOK
	case statusWarn:
		return colorWarn
	case statusError:
		return colorError
	default:
		return colorInfo
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	return []string{paint(colorHeader, line, colorize), paint(colorHeader, rule, colorize)}
}

// jobStatusKind maps a job status to the colour used in tables.
func jobStatusKind(status queue.Status) statusKind {
	switch {
	case status == queue.StatusCompleted:
		return statusOK
	case status == queue.StatusError:
		return statusError
	case status == queue.StatusCancelled:
		return statusWarn
	default:
		return statusInfo
	}
}

func paint(c *color.Color, s string, colorize bool) string {
	if !colorize || c == nil {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}

func shouldColorize(writer io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func formatAge(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.0f%%", p)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
