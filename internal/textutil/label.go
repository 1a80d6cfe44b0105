package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FallbackTitle is used when neither metadata nor the label yields a title.
const FallbackTitle = "Unknown Movie"

var (
	allDigitsPattern  = regexp.MustCompile(`^\d+$`)
	shortCodePattern  = regexp.MustCompile(`^[A-Z0-9_]{1,4}$`)
	mediaWordPattern  = regexp.MustCompile(`(?i)\b(?:dvd|disc|blu-ray|bluray|bd)\b`)
	discNumberPattern = regexp.MustCompile(`(?i)\b(?:d|disc|disk)\s*\d+\s*$`)
	separatorPattern  = regexp.MustCompile(`[_.]+`)
	spacePattern      = regexp.MustCompile(`\s+`)
)

// genericLabelPatterns mark volume ids that say nothing about the content.
var genericLabelPatterns = []string{
	"LOGICAL_VOLUME_ID", "VOLUME_ID", "DVD_VIDEO", "BD_ROM",
	"UNTITLED", "UNKNOWN DISC", "VOLUME_", "VOLUME ID", "DISK_", "TRACK_",
}

// IsGenericLabel reports whether a volume label cannot name the content:
// authoring defaults, bare numbers and very short codes.
func IsGenericLabel(label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return true
	}
	upper := strings.ToUpper(label)
	for _, pattern := range genericLabelPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	if allDigitsPattern.MatchString(label) || shortCodePattern.MatchString(upper) {
		return true
	}
	return QueryFromLabel(label) == ""
}

// QueryFromLabel derives a search query from a volume label. Separators become
// spaces, media words and trailing disc numbers are dropped, and the result is
// title cased. It returns "" when nothing is left.
func QueryFromLabel(label string) string {
	query := separatorPattern.ReplaceAllString(label, " ")
	query = discNumberPattern.ReplaceAllString(query, "")
	query = mediaWordPattern.ReplaceAllString(query, " ")
	query = strings.TrimSpace(spacePattern.ReplaceAllString(query, " "))
	if query == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ToLower(query))
}

// TitleFromLabel is the title used when metadata lookup is skipped or fails.
func TitleFromLabel(label string) string {
	if IsGenericLabel(label) {
		return FallbackTitle
	}
	return QueryFromLabel(label)
}
