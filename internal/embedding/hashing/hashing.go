// Package hashing provides a dependency-free bag-of-words embedder for local
// runs and tests. Texts sharing more terms score higher; identical texts score 1.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/docs-agent/backend/internal/vector"
)

const DefaultDimensions = 1024

type Embedder struct {
	dimensions int
}

func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Embed hashes lowercase terms into buckets and L2-normalises the counts.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return nil, vector.ErrNoTerms
	}

	vec := make([]float32, e.dimensions)
	for _, term := range terms {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		vec[h.Sum32()%uint32(e.dimensions)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}

	return vec, nil
}

// Tokenize splits text into lowercase letter/digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
