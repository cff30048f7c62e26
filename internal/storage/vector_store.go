package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotInitialized is returned by operations that need the embedding size
// before Initialize has run.
var ErrNotInitialized = errors.New("vector store not initialized")

// seedNamespace derives deterministic ids for corpus entries, so reseeding a
// partially loaded index only fills the gaps.
var seedNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("charles:priors"))

// SeedID returns the stable id of a corpus statement.
func SeedID(category, text string) string {
	return uuid.NewSHA1(seedNamespace, []byte(category+"\x00"+text)).String()
}

// VectorStore couples a VectorIndex with an Embedder.
type VectorStore struct {
	index    VectorIndex
	embedder Embedder
	logger   *zap.Logger

	mu            sync.Mutex
	embeddingSize int
	rng           *rand.Rand
}

// NewVectorStore wraps index and embedder. Call Initialize before sampling.
func NewVectorStore(index VectorIndex, embedder Embedder, logger *zap.Logger) *VectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorStore{
		index:    index,
		embedder: embedder,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSeed makes RandomVector reproducible.
func (s *VectorStore) SetSeed(seed int64) {
	s.mu.Lock()
	s.rng = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
}

// Initialize probes the embedding size and seeds the index with corpus when it
// holds fewer documents of that size than the corpus. Rows left by an embedder
// of another size are invisible to searches, so they do not count. It returns
// the number of documents submitted for insertion. Any failure wraps
// ErrSeedFailed.
func (s *VectorStore) Initialize(ctx context.Context, corpus *Corpus) (int, error) {
	probe, err := s.embedder.Embed(ctx, "test")
	if err != nil {
		return 0, fmt.Errorf("%w: probing embedding size: %v", ErrSeedFailed, err)
	}
	if len(probe) == 0 {
		return 0, fmt.Errorf("%w: embedder returned an empty vector", ErrSeedFailed)
	}
	s.mu.Lock()
	s.embeddingSize = len(probe)
	s.mu.Unlock()

	count, err := s.index.CountDimension(ctx, len(probe))
	if err != nil {
		return 0, fmt.Errorf("%w: counting index: %v", ErrSeedFailed, err)
	}
	total := corpus.Size()
	if count >= total {
		s.logger.Debug("vector index already seeded", zap.Int("count", count), zap.Int("corpus", total))
		return 0, nil
	}

	if all, err := s.index.Count(ctx); err == nil && all > count {
		s.logger.Warn("vector index holds documents of another embedding size; re-embedding priors",
			zap.Int("dimension", len(probe)), zap.Int("matching", count), zap.Int("stored", all))
	}
	s.logger.Info("seeding vector index", zap.Int("existing", count), zap.Int("corpus", total))
	return s.Reseed(ctx, corpus)
}

// Reseed embeds every corpus statement and inserts it. Statements already in
// the index keep their ids and are left alone, so Reseed only adds what is
// new. Statements removed from the corpus stay in the index.
func (s *VectorStore) Reseed(ctx context.Context, corpus *Corpus) (int, error) {
	seeded := 0
	for _, category := range corpus.Categories() {
		priorType := corpus.TypeOf(category)
		statements := corpus.Statements(category)
		docs := make([]Document, 0, len(statements))
		for _, text := range statements {
			emb, err := s.embedder.Embed(ctx, text)
			if err != nil {
				return seeded, fmt.Errorf("%w: embedding %q: %v", ErrSeedFailed, text, err)
			}
			docs = append(docs, Document{
				ID:        SeedID(category, text),
				Text:      text,
				Embedding: emb,
				Metadata:  Metadata{PriorCategory: category, PriorType: priorType},
			})
		}
		if err := s.index.Insert(ctx, docs); err != nil {
			return seeded, fmt.Errorf("%w: inserting category %q: %v", ErrSeedFailed, category, err)
		}
		seeded += len(docs)
		s.logger.Debug("seeded category", zap.String("category", category), zap.Int("documents", len(docs)))
	}
	return seeded, nil
}

// EmbeddingSize is the vector length found by Initialize, or 0 before it.
func (s *VectorStore) EmbeddingSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embeddingSize
}

// Embed embeds each text in order.
func (s *VectorStore) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		emb, err := s.embedder.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding text: %w", err)
		}
		out = append(out, emb)
	}
	return out, nil
}

// SearchText embeds text and returns its k nearest documents.
func (s *VectorStore) SearchText(ctx context.Context, text string, k int, filter Filter) ([]Match, error) {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.SearchVector(ctx, emb, k, filter)
}

// SearchVector returns the k nearest documents to vec.
func (s *VectorStore) SearchVector(ctx context.Context, vec []float32, k int, filter Filter) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrInvalidInput)
	}
	return s.index.Search(ctx, vec, k, filter)
}

// Insert stores docs, embedding any that arrive without a vector.
func (s *VectorStore) Insert(ctx context.Context, docs []Document) error {
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		if docs[i].Embedding == nil {
			emb, err := s.embedder.Embed(ctx, docs[i].Text)
			if err != nil {
				return fmt.Errorf("embedding document %s: %w", docs[i].ID, err)
			}
			docs[i].Embedding = emb
		}
	}
	return s.index.Insert(ctx, docs)
}

// RandomVector returns an isotropic Gaussian sample of EmbeddingSize
// dimensions. Its direction is uniform on the sphere; its length is not
// normalized.
func (s *VectorStore) RandomVector() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embeddingSize == 0 {
		return nil, ErrNotInitialized
	}
	vec := make([]float32, s.embeddingSize)
	for i := range vec {
		vec[i] = float32(s.rng.NormFloat64())
	}
	return vec, nil
}

// Count returns the number of indexed documents.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	return s.index.Count(ctx)
}

// Close closes the underlying index.
func (s *VectorStore) Close() error {
	return s.index.Close()
}
