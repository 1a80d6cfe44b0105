package toolparse

import (
	"strconv"
	"strings"
)

// RobotProgress is a decoded PRGV line.
type RobotProgress struct {
	Current int64
	Total   int64
	Max     int64
	Percent float64
}

// ParseRobotProgress decodes "PRGV:current,total,max". Percent is total/max
// clamped to [0,100].
func ParseRobotProgress(line string) (RobotProgress, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "PRGV:") {
		return RobotProgress{}, false
	}
	parts := strings.Split(strings.TrimPrefix(line, "PRGV:"), ",")
	if len(parts) < 3 {
		return RobotProgress{}, false
	}
	values := make([]int64, 3)
	for i := range values {
		n, err := strconv.ParseInt(strings.TrimSpace(parts[i]), 10, 64)
		if err != nil {
			return RobotProgress{}, false
		}
		values[i] = n
	}
	if values[2] <= 0 {
		return RobotProgress{}, false
	}
	progress := RobotProgress{Current: values[0], Total: values[1], Max: values[2]}
	progress.Percent = clampPercent(float64(values[1]) / float64(values[2]) * 100)
	return progress, true
}

// RobotMessage is a decoded MSG line.
type RobotMessage struct {
	Code   int
	Flags  int
	Text   string
	Format string
	Params []string
}

// ParseRobotMessage decodes `MSG:code,flags,count,"text","format",params...`.
func ParseRobotMessage(line string) (RobotMessage, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "MSG:") {
		return RobotMessage{}, false
	}
	fields := splitQuoted(strings.TrimPrefix(line, "MSG:"))
	if len(fields) < 4 {
		return RobotMessage{}, false
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return RobotMessage{}, false
	}
	msg := RobotMessage{Code: code, Text: fields[3]}
	msg.Flags, _ = strconv.Atoi(fields[1])
	if len(fields) > 4 {
		msg.Format = fields[4]
	}
	if len(fields) > 5 {
		msg.Params = fields[5:]
	}
	return msg, true
}

// splitQuoted splits a comma separated list where values may be quoted and
// contain commas.
func splitQuoted(payload string) []string {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
	)
	for i := 0; i < len(payload); i++ {
		ch := payload[i]
		switch {
		case ch == '"':
			quoted = !quoted
		case ch == ',' && !quoted:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	return append(fields, current.String())
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
