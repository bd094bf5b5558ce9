// Package insights turns generated narrative text into typed display
// blocks. Classification is purely lexical: one block per input line, in
// input order, with no merging of adjacent lines.
package insights

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind is the display role of a block.
type Kind int

const (
	// Blank is an empty or whitespace-only line.
	Blank Kind = iota
	// Heading is a section title.
	Heading
	// Bullet is a list item, either marked or numbered.
	Bullet
	// Paragraph is any other line.
	Paragraph
)

func (k Kind) String() string {
	switch k {
	case Blank:
		return "blank"
	case Heading:
		return "heading"
	case Bullet:
		return "bullet"
	case Paragraph:
		return "paragraph"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Block is one classified line.
type Block struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// MaxShoutedHeadingRunes bounds upper-case lines treated as headings.
const MaxShoutedHeadingRunes = 50

// Marker patterns accept Unicode space separators such as U+00A0, not only
// ASCII whitespace.
var (
	headingMarker  = regexp.MustCompile(`^#+[\s\p{Zs}]`)
	headingPrefix  = regexp.MustCompile(`^#+[\s\p{Zs}]+`)
	bulletMarker   = regexp.MustCompile(`^[*\-•][\s\p{Zs}]`)
	numberedMarker = regexp.MustCompile(`^\d+\.[\s\p{Zs}]`)
	bulletPrefix   = regexp.MustCompile(`^(?:[*\-•]|\d+\.)[\s\p{Zs}]+`)
)

// Structure classifies every line of raw. The result always has exactly one
// block per line, so an empty input yields a single Blank block.
func Structure(raw string) []Block {
	lines := strings.Split(raw, "\n")
	blocks := make([]Block, 0, len(lines))
	for _, line := range lines {
		blocks = append(blocks, classify(strings.TrimSuffix(line, "\r")))
	}
	return blocks
}

func classify(line string) Block {
	clean := strings.ReplaceAll(line, "**", "")
	trimmed := strings.TrimSpace(clean)

	switch {
	case trimmed == "":
		return Block{Kind: Blank}
	case headingMarker.MatchString(trimmed) || isShouted(trimmed):
		return Block{Kind: Heading, Text: strings.TrimSpace(headingPrefix.ReplaceAllString(trimmed, ""))}
	case bulletMarker.MatchString(trimmed) || numberedMarker.MatchString(trimmed):
		return Block{Kind: Bullet, Text: strings.TrimSpace(bulletPrefix.ReplaceAllString(trimmed, ""))}
	default:
		return Block{Kind: Paragraph, Text: clean}
	}
}

// isShouted reports a short line that upper-casing leaves unchanged.
func isShouted(s string) bool {
	return utf8.RuneCountInString(s) < MaxShoutedHeadingRunes && strings.ToUpper(s) == s
}

// Document is a generated narrative together with its structured form.
type Document struct {
	RepositoryID string    `json:"repository_id"`
	RawText      string    `json:"raw_text"`
	GeneratedAt  time.Time `json:"generated_at"`
	Blocks       []Block   `json:"blocks"`
}

// NewDocument structures raw into a Document.
func NewDocument(repoID, raw string, generatedAt time.Time) *Document {
	return &Document{
		RepositoryID: repoID,
		RawText:      raw,
		GeneratedAt:  generatedAt,
		Blocks:       Structure(raw),
	}
}

// Count returns the number of blocks of the given kind.
func (d *Document) Count(kind Kind) int {
	if d == nil {
		return 0
	}
	n := 0
	for _, b := range d.Blocks {
		if b.Kind == kind {
			n++
		}
	}
	return n
}
