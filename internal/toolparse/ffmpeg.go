package toolparse

import (
	"regexp"
	"strings"
)

var (
	ffmpegDurationPattern = regexp.MustCompile(`Duration:\s*(\d+:\d+:\d+(?:\.\d+)?)`)
	ffmpegTimePattern     = regexp.MustCompile(`(?:^|\s)time=\s*(\d+:\d+:\d+(?:\.\d+)?)`)
)

// FFmpegProgress tracks encode progress across ffmpeg stderr and
// -progress output. The first "Duration:" line sets the total, then each
// "time=" or "out_time=" sample yields a percentage.
type FFmpegProgress struct {
	totalSeconds   float64
	elapsedSeconds float64
	done           bool
}

// SetTotal seeds the total duration when it is known up front. A
// "Duration:" line seen later does not override it.
func (p *FFmpegProgress) SetTotal(seconds float64) {
	if seconds > 0 {
		p.totalSeconds = seconds
	}
}

// TotalSeconds returns the detected input duration.
func (p *FFmpegProgress) TotalSeconds() float64 {
	return p.totalSeconds
}

// ElapsedSeconds returns the last encoded timestamp.
func (p *FFmpegProgress) ElapsedSeconds() float64 {
	return p.elapsedSeconds
}

// Feed consumes one line and reports a new percentage when the line carried
// a position sample and the total is known.
func (p *FFmpegProgress) Feed(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, false
	}
	if p.totalSeconds == 0 {
		if match := ffmpegDurationPattern.FindStringSubmatch(line); match != nil {
			if total, ok := parseClock(match[1]); ok && total > 0 {
				p.totalSeconds = total
			}
			return 0, false
		}
	}
	if line == "progress=end" {
		p.done = true
		if p.totalSeconds > 0 {
			p.elapsedSeconds = p.totalSeconds
		}
		return 100, true
	}

	var clock string
	if strings.HasPrefix(line, "out_time=") {
		clock = strings.TrimPrefix(line, "out_time=")
	} else if match := ffmpegTimePattern.FindStringSubmatch(line); match != nil {
		clock = match[1]
	}
	if clock == "" {
		return 0, false
	}
	elapsed, ok := parseClock(clock)
	if !ok {
		return 0, false
	}
	p.elapsedSeconds = elapsed
	if p.totalSeconds <= 0 {
		return 0, false
	}
	return p.Percent(), true
}

// Percent is elapsed/total clamped to [0,100].
func (p *FFmpegProgress) Percent() float64 {
	if p.done {
		return 100
	}
	if p.totalSeconds <= 0 {
		return 0
	}
	return clampPercent(p.elapsedSeconds / p.totalSeconds * 100)
}
