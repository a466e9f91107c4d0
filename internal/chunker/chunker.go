// Package chunker splits a markdown source document into titled sections at
// fixed heading markers.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMarkerNotFound is returned by a strict Chunker when a heading marker is absent.
var ErrMarkerNotFound = errors.New("section marker not found")

// Section is a titled, contiguous slice of a document. Index is the position of
// the section in the canonical order, so it stays stable when earlier sections
// are missing.
type Section struct {
	Title   string
	Content string
	Index   int
}

// Boundary describes where a section starts. The first marker found wins; an
// empty Markers list means the section starts at the beginning of the text.
type Boundary struct {
	Title   string
	Markers []string
}

// DefaultBoundaries is the layout of the product llms.txt document.
var DefaultBoundaries = []Boundary{
	{Title: "Introduction"},
	{Title: "Product Features", Markers: []string{"## Product Features", "## Features"}},
	{Title: "Core Benefits", Markers: []string{"## Core Benefits"}},
	{Title: "About", Markers: []string{"## About"}},
	{Title: "Blog Posts", Markers: []string{"## Blog Posts"}},
}

// Chunker is stateless; the zero value uses DefaultBoundaries and skips
// sections whose marker is missing.
type Chunker struct {
	Boundaries []Boundary
	// Strict makes Chunk fail with ErrMarkerNotFound instead of skipping.
	Strict bool
}

func New(strict bool) *Chunker {
	return &Chunker{Boundaries: DefaultBoundaries, Strict: strict}
}

type span struct {
	boundary int
	start    int
}

// Chunk returns the sections of text in document order. Markers are searched
// forward from the previous section start, so ranges never overlap. A skipped
// section's text stays with the section before it.
func (c *Chunker) Chunk(text string) ([]Section, error) {
	boundaries := c.Boundaries
	if len(boundaries) == 0 {
		boundaries = DefaultBoundaries
	}

	spans := make([]span, 0, len(boundaries))
	cursor := 0
	for i, b := range boundaries {
		if len(b.Markers) == 0 {
			if i != 0 {
				return nil, fmt.Errorf("boundary %q: only the first section may omit markers", b.Title)
			}
			spans = append(spans, span{boundary: i, start: 0})
			continue
		}

		pos := findFirst(text, cursor, b.Markers)
		if pos < 0 {
			if c.Strict {
				return nil, fmt.Errorf("%w: %q", ErrMarkerNotFound, b.Title)
			}
			continue
		}
		spans = append(spans, span{boundary: i, start: pos})
		cursor = pos + 1
	}

	sections := make([]Section, 0, len(spans))
	for i, s := range spans {
		end := len(text)
		if i+1 < len(spans) {
			end = spans[i+1].start
		}
		sections = append(sections, Section{
			Title:   boundaries[s.boundary].Title,
			Content: strings.TrimSpace(text[s.start:end]),
			Index:   s.boundary,
		})
	}

	return sections, nil
}

// findFirst returns the offset of the first marker (in preference order) found
// at or after from, or -1.
func findFirst(text string, from int, markers []string) int {
	rest := text[from:]
	for _, m := range markers {
		if idx := strings.Index(rest, m); idx >= 0 {
			return from + idx
		}
	}
	return -1
}
