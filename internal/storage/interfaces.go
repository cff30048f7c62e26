// Package storage holds the prior corpus and the vector index the generative
// model samples its beliefs and desires from.
//
// Backends implement the small VectorIndex interface; VectorStore layers
// embedding, seeding and random-direction sampling on top of any of them.
package storage

import "context"

// VectorIndex is a durable key/value store with nearest-neighbour search.
type VectorIndex interface {
	// Insert adds documents. An existing ID stored at the same embedding
	// length is left untouched (insert-or-ignore); one stored at a different
	// length is replaced. Every document must carry an embedding.
	Insert(ctx context.Context, docs []Document) error

	// Search returns up to k documents passing filter, ordered by ascending
	// L2 distance to query.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]Match, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// CountDimension returns the number of documents whose embedding has
	// exactly dimension components. Only these are visible to a query of
	// that length.
	CountDimension(ctx context.Context, dimension int) (int, error)

	Close() error
}

// Embedder turns text into a vector. llm.EmbeddingGenerator satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
