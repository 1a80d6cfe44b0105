package toolparse

import (
	"sort"
	"strconv"
	"strings"
)

// TINFO attribute ids emitted by makemkvcon -r info.
const (
	attrName      = 2
	attrChapters  = 8
	attrDuration  = 9
	attrSizeText  = 10
	attrSizeBytes = 11
)

// Title is one entry of a disc catalog.
type Title struct {
	Index           int
	Name            string
	Chapters        int
	DurationSeconds int
	SizeText        string
	SizeBytes       int64
}

// CatalogParser accumulates makemkvcon robot catalog lines.
type CatalogParser struct {
	discName string
	titles   map[int]*Title
}

// NewCatalogParser returns an empty parser.
func NewCatalogParser() *CatalogParser {
	return &CatalogParser{titles: make(map[int]*Title)}
}

// Feed consumes one output line. Lines other than TINFO and CINFO are
// ignored.
func (p *CatalogParser) Feed(line string) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "TINFO:"):
		p.feedTitle(strings.TrimPrefix(line, "TINFO:"))
	case strings.HasPrefix(line, "CINFO:"):
		parts := strings.SplitN(strings.TrimPrefix(line, "CINFO:"), ",", 3)
		if len(parts) == 3 && strings.TrimSpace(parts[0]) == "2" {
			p.discName = unquote(parts[2])
		}
	}
}

func (p *CatalogParser) feedTitle(payload string) {
	parts := strings.SplitN(payload, ",", 4)
	if len(parts) < 4 {
		return
	}
	index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || index < 0 {
		return
	}
	attr, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return
	}
	entry, ok := p.titles[index]
	if !ok {
		entry = &Title{Index: index}
		p.titles[index] = entry
	}
	value := unquote(parts[3])
	switch attr {
	case attrName:
		entry.Name = value
	case attrChapters:
		entry.Chapters, _ = strconv.Atoi(value)
	case attrDuration:
		entry.DurationSeconds = ParseDuration(value)
	case attrSizeText:
		entry.SizeText = value
		if entry.SizeBytes == 0 {
			entry.SizeBytes = ParseSize(value)
		}
	case attrSizeBytes:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
			entry.SizeBytes = n
		}
	}
}

// DiscName is the CINFO disc name, if one was reported.
func (p *CatalogParser) DiscName() string {
	return p.discName
}

// Titles returns the parsed titles ordered by index.
func (p *CatalogParser) Titles() []Title {
	titles := make([]Title, 0, len(p.titles))
	for _, entry := range p.titles {
		titles = append(titles, *entry)
	}
	sort.Slice(titles, func(i, j int) bool { return titles[i].Index < titles[j].Index })
	return titles
}

// SelectMainTitle picks the largest title. Ties go to the lowest index.
func SelectMainTitle(titles []Title) (Title, bool) {
	if len(titles) == 0 {
		return Title{}, false
	}
	best := titles[0]
	for _, candidate := range titles[1:] {
		if candidate.SizeBytes > best.SizeBytes ||
			(candidate.SizeBytes == best.SizeBytes && candidate.Index < best.Index) {
			best = candidate
		}
	}
	return best, true
}

func unquote(value string) string {
	return strings.Trim(strings.TrimSpace(value), "\"")
}
