package toolparse

import (
	"regexp"
	"strconv"
	"strings"
)

// maxLeadingField bounds the first field of a duration so the sum cannot
// overflow.
const maxLeadingField = 100000

// ParseDuration converts "H:MM:SS" or "MM:SS" into seconds. Fields after the
// first must be below 60. Malformed input yields 0.
func ParseDuration(value string) int {
	clean := strings.Trim(strings.TrimSpace(value), "\"")
	if clean == "" {
		return 0
	}
	segments := strings.Split(clean, ":")
	if len(segments) < 2 || len(segments) > 3 {
		return 0
	}
	total := 0
	for i, segment := range segments {
		n, err := strconv.Atoi(strings.TrimSpace(segment))
		if err != nil || n < 0 {
			return 0
		}
		if (i == 0 && n > maxLeadingField) || (i > 0 && n >= 60) {
			return 0
		}
		total = total*60 + n
	}
	return total
}

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]*)`)

var sizeMultipliers = map[string]float64{
	"":    1,
	"B":   1,
	"KB":  1 << 10,
	"MB":  1 << 20,
	"GB":  1 << 30,
	"TB":  1 << 40,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
	"TIB": 1 << 40,
}

// ParseSize converts a human size such as "12.3 GB" or "12.3 GiB" into bytes
// using binary multiples. Unknown units and malformed input yield 0.
func ParseSize(value string) int64 {
	match := sizePattern.FindStringSubmatch(strings.TrimSpace(strings.Trim(value, "\"")))
	if match == nil {
		return 0
	}
	number, err := strconv.ParseFloat(match[1], 64)
	if err != nil || number < 0 {
		return 0
	}
	multiplier, ok := sizeMultipliers[strings.ToUpper(match[2])]
	if !ok {
		return 0
	}
	return int64(number * multiplier)
}

// parseClock converts "HH:MM:SS.xx" into seconds.
func parseClock(value string) (float64, bool) {
	segments := strings.Split(strings.TrimSpace(value), ":")
	if len(segments) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(segments[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(segments[1])
	if err != nil || minutes < 0 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(segments[2], 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + seconds, true
}
