package toolindex

import (
	"strings"

	"github.com/nugget/scriptvoice/internal/catalog"
)

// DefaultCategory is used when metadata omits a category or no
// heuristic group matches.
const DefaultCategory = "general"

// categoryGroups drive the heuristic for scripts without metadata. The
// first group with a word occurring anywhere in the script id wins.
var categoryGroups = []struct {
	category string
	words    []string
}{
	{"application", []string{"open", "launch", "start"}},
	{"application", []string{"close", "kill", "stop"}},
	{"system-info", []string{"check", "get", "show", "list", "what"}},
	{"system-control", []string{"set", "change", "adjust"}},
	{"file-management", []string{"file", "folder", "directory"}},
	{"voice", []string{"say", "speak", "tell"}},
}

// describe produces the descriptor for a script: from its metadata
// block when it has one, otherwise from its filename.
func describe(id, content string) Descriptor {
	if block, ok := catalog.ExtractMetadataBlock(content); ok {
		if m, ok := catalog.LooseMetadata(block); ok {
			return fromMetadata(id, m)
		}
	}
	return heuristic(id, content)
}

func fromMetadata(id string, m *catalog.Metadata) Descriptor {
	name := m.Name
	if name == "" {
		name = id
	}
	category := m.Category
	if category == "" {
		category = DefaultCategory
	}
	level, _ := catalog.ParseRiskLevel(m.RiskLevel)
	if level == "" {
		level = catalog.RiskLow
	}

	keywords := make([]string, 0, len(m.Keywords)+len(m.Examples)+1)
	keywords = append(keywords, m.Keywords...)
	keywords = append(keywords, m.ExamplePhrases()...)
	keywords = append(keywords, strings.ReplaceAll(id, "-", " "))

	return Descriptor{
		ID:          id,
		Name:        name,
		Description: m.Description,
		Category:    category,
		Keywords:    dedupe(keywords),
		RiskLevel:   level,
		HasMetadata: true,
	}
}

func heuristic(id, content string) Descriptor {
	words := strings.ReplaceAll(id, "-", " ")

	keywords := []string{words, id}
	keywords = append(keywords, strings.Split(id, "-")...)

	return Descriptor{
		ID:          id,
		Name:        words,
		Description: synopsis(content, words),
		Category:    guessCategory(id),
		Keywords:    dedupe(keywords),
		RiskLevel:   catalog.RiskLow,
		HasMetadata: false,
	}
}

func guessCategory(id string) string {
	for _, g := range categoryGroups {
		for _, w := range g.words {
			if strings.Contains(id, w) {
				return g.category
			}
		}
	}
	return DefaultCategory
}

// synopsis returns the text after ".SYNOPSIS" up to the next period,
// trimmed, or fallback when the script has no usable synopsis.
func synopsis(content, fallback string) string {
	i := strings.Index(content, ".SYNOPSIS")
	if i < 0 {
		return fallback
	}
	rest := content[i+len(".SYNOPSIS"):]
	if len(rest) < 2 {
		return fallback
	}
	j := strings.Index(rest[1:], ".")
	if j < 0 {
		return fallback
	}
	if s := strings.TrimSpace(rest[:j+1]); s != "" {
		return s
	}
	return fallback
}

// dedupe drops empty and case-insensitively repeated entries, keeping
// the first occurrence.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
