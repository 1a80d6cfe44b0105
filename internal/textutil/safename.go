package textutil

import (
	"strconv"
	"strings"
	"unicode"
)

// UnknownName replaces a name with no usable characters.
const UnknownName = "Unknown"

// SafeTitle keeps only letters, digits, space, hyphen and underscore from
// title. Runs of spaces collapse and the result is trimmed; an empty result
// becomes UnknownName.
func SafeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	name := strings.Join(strings.Fields(b.String()), " ")
	if name == "" {
		return UnknownName
	}
	return name
}

// SafeName is the archive folder name: "title (year)", or the safe title
// alone when year is not positive.
func SafeName(title string, year int) string {
	name := SafeTitle(title)
	if year > 0 {
		name += " (" + strconv.Itoa(year) + ")"
	}
	return name
}
