// Package vector defines the similarity index contract used by the indexer and
// the query engine. Backends live in subpackages.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned for records that break the metadata contract.
var ErrInvalidRecord = errors.New("invalid vector record")

// ErrNoTerms is returned by embedders for text with nothing to embed. Search
// treats it as a query that matches nothing.
var ErrNoTerms = errors.New("no terms to embed")

// Metadata travels with every record and is the only thing returned by Search,
// so Content must duplicate the embedded document text.
type Metadata struct {
	Source       string `json:"source"`
	SectionIndex int    `json:"sectionIndex"`
	SectionTitle string `json:"sectionTitle"`
	Content      string `json:"content"`
}

// Record is one upsert unit. Key is unique per index; upserting the same key
// overwrites the previous record.
type Record struct {
	Key      string
	Document string
	Metadata Metadata
}

// Validate enforces the Document/Metadata.Content duplication invariant.
func (r Record) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidRecord)
	}
	if r.Document == "" {
		return fmt.Errorf("%w: %s: empty document", ErrInvalidRecord, r.Key)
	}
	if r.Metadata.Content != r.Document {
		return fmt.Errorf("%w: %s: metadata content does not match document", ErrInvalidRecord, r.Key)
	}
	return nil
}

// SearchParams bounds a similarity search. Similarity is the minimum score a
// result must reach; Limit caps the number of results.
type SearchParams struct {
	Query      string
	Limit      int
	Similarity float64
}

type SearchResult struct {
	Key        string
	Metadata   Metadata
	Similarity float64
}

// Index is implemented by every vector backend. Search returns results in
// descending similarity order.
type Index interface {
	Upsert(ctx context.Context, index string, records ...Record) ([]string, error)
	Search(ctx context.Context, index string, params SearchParams) ([]SearchResult, error)
}

// Embedder turns text into a vector for the backends that store embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// SectionKey derives the record key for a section of a stored document.
func SectionKey(documentKey string, sectionIndex int) string {
	return fmt.Sprintf("%s-section-%d", documentKey, sectionIndex)
}
