package storage

import (
	"errors"
	"math"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSeedFailed indicates the prior corpus could not be loaded into the index.
	// Startup must abort when it is returned.
	ErrSeedFailed = errors.New("seeding prior corpus failed")
)

// Prior types stored in Metadata.PriorType.
const (
	PriorBelief = "belief"
	PriorDesire = "desire"
)

// Metadata is the per-document payload stored alongside the vector.
type Metadata struct {
	PriorCategory string `json:"prior_category" yaml:"prior_category"`
	PriorType     string `json:"prior_type" yaml:"prior_type"`
}

// Document is one entry of the vector index.
type Document struct {
	ID        string    `json:"id"`
	Text      string    `json:"document"`
	Embedding []float32 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata"`
}

// Match is a search hit. Lower Distance is more similar.
type Match struct {
	Document
	Distance float64 `json:"distance"`
}

// Filter restricts a search to documents with matching metadata.
// Empty fields match everything.
type Filter struct {
	Category string
	Type     string
}

// Matches reports whether m passes the filter.
func (f Filter) Matches(m Metadata) bool {
	if f.Category != "" && m.PriorCategory != f.Category {
		return false
	}
	if f.Type != "" && m.PriorType != f.Type {
		return false
	}
	return true
}

// L2Distance returns the Euclidean distance between a and b.
// Vectors of different length are infinitely far apart.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
