package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/storage"
	"github.com/scrypster/charles/pkg/types"
)

// PriorSampler is the slice of storage.VectorStore the generative model needs.
type PriorSampler interface {
	RandomVector() ([]float32, error)
	SearchVector(ctx context.Context, vec []float32, k int, filter storage.Filter) ([]storage.Match, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// PopulateConfig bounds how the model is filled from the prior corpus.
type PopulateConfig struct {
	// TotalMinEntries is the minimum number of observations after Populate.
	TotalMinEntries int

	// MinEntriesPerCategory is the minimum held per corpus category.
	MinEntriesPerCategory int

	// MaxSampleAttempts caps random searches per category. The total phase is
	// capped at MaxSampleAttempts * max(1, TotalMinEntries).
	MaxSampleAttempts int
}

// DefaultPopulateConfig returns the stock minimums.
func DefaultPopulateConfig() PopulateConfig {
	return PopulateConfig{
		TotalMinEntries:       20,
		MinEntriesPerCategory: 2,
		MaxSampleAttempts:     50,
	}
}

// PopulateResult reports what Populate did.
type PopulateResult struct {
	Added int `json:"added"`

	// Starved lists categories whose minimum could not be reached within the
	// attempt cap, usually because the index holds too few distinct priors.
	Starved []string `json:"starved,omitempty"`

	// TotalStarved is set when the overall minimum could not be reached.
	TotalStarved bool `json:"total_starved"`
}

// GenerativeModel is the agent's set of beliefs and desires. Observations are
// unique by ID and kept in insertion order. Safe for concurrent use.
type GenerativeModel struct {
	sampler PriorSampler
	corpus  *storage.Corpus
	cfg     PopulateConfig
	logger  *zap.Logger

	mu           sync.RWMutex
	observations []types.Observation
	byID         map[string]int
}

// NewGenerativeModel creates an empty model sampling from sampler. corpus
// supplies the category list used by Populate.
func NewGenerativeModel(sampler PriorSampler, corpus *storage.Corpus, cfg PopulateConfig, logger *zap.Logger) *GenerativeModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSampleAttempts <= 0 {
		cfg.MaxSampleAttempts = DefaultPopulateConfig().MaxSampleAttempts
	}
	return &GenerativeModel{
		sampler: sampler,
		corpus:  corpus,
		cfg:     cfg,
		logger:  logger,
		byID:    make(map[string]int),
	}
}

// Populate tops the model up from random directions in embedding space until
// every category holds MinEntriesPerCategory and the model holds
// TotalMinEntries. A hit already held counts as a miss. Calling Populate on a
// model that already meets its minimums adds nothing.
func (m *GenerativeModel) Populate(ctx context.Context) (PopulateResult, error) {
	var result PopulateResult

	if m.corpus != nil {
		for _, category := range m.corpus.Categories() {
			attempts := 0
			for m.CountByCategory(category) < m.cfg.MinEntriesPerCategory && attempts < m.cfg.MaxSampleAttempts {
				attempts++
				added, empty, err := m.sampleOne(ctx, storage.Filter{Category: category})
				if err != nil {
					return result, fmt.Errorf("sampling category %q: %w", category, err)
				}
				if added {
					result.Added++
				}
				if empty {
					break
				}
			}
			if m.CountByCategory(category) < m.cfg.MinEntriesPerCategory {
				result.Starved = append(result.Starved, category)
				m.logger.Warn("category starved during populate",
					zap.String("category", category),
					zap.Int("held", m.CountByCategory(category)),
					zap.Int("want", m.cfg.MinEntriesPerCategory),
					zap.Int("attempts", attempts))
			}
		}
	}

	limit := m.cfg.MaxSampleAttempts * max(1, m.cfg.TotalMinEntries)
	attempts := 0
	for m.Len() < m.cfg.TotalMinEntries && attempts < limit {
		attempts++
		added, empty, err := m.sampleOne(ctx, storage.Filter{})
		if err != nil {
			return result, fmt.Errorf("sampling: %w", err)
		}
		if added {
			result.Added++
		}
		if empty {
			break
		}
	}
	if m.Len() < m.cfg.TotalMinEntries {
		result.TotalStarved = true
		m.logger.Warn("model below minimum size after populate",
			zap.Int("held", m.Len()),
			zap.Int("want", m.cfg.TotalMinEntries),
			zap.Int("attempts", attempts))
	}

	return result, nil
}

// sampleOne searches for the nearest prior to a random direction and adds it
// if not already held. empty reports that the filter matched nothing at all.
func (m *GenerativeModel) sampleOne(ctx context.Context, filter storage.Filter) (added, empty bool, err error) {
	vec, err := m.sampler.RandomVector()
	if err != nil {
		return false, false, err
	}
	matches, err := m.sampler.SearchVector(ctx, vec, 1, filter)
	if err != nil {
		return false, false, err
	}
	if len(matches) == 0 {
		return false, true, nil
	}
	obs := observationFromMatch(matches[0])
	if !m.insert(obs) {
		return false, false, nil
	}
	emitToContext(ctx, TraceEvent{Kind: KindObservationSampled, Text: obs.Document, Detail: obs.Category})
	return true, false, nil
}

func observationFromMatch(match storage.Match) types.Observation {
	typ := types.TypeBelief
	if match.Metadata.PriorType == storage.PriorDesire {
		typ = types.TypeDesire
	}
	return types.Observation{
		ID:        match.ID,
		Document:  match.Text,
		Embedding: match.Embedding,
		Distance:  match.Distance,
		Type:      typ,
		Category:  match.Metadata.PriorCategory,
	}
}

// insert adds obs unless its ID is already held.
func (m *GenerativeModel) insert(obs types.Observation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[obs.ID]; ok {
		return false
	}
	m.byID[obs.ID] = len(m.observations)
	m.observations = append(m.observations, obs)
	return true
}

// Add embeds document and holds it as a new belief with no category. The
// belief lives in the model only; the prior index is not written.
func (m *GenerativeModel) Add(ctx context.Context, document string) (types.Observation, error) {
	if document == "" {
		return types.Observation{}, fmt.Errorf("%w: empty belief", storage.ErrInvalidInput)
	}
	embs, err := m.sampler.Embed(ctx, []string{document})
	if err != nil {
		return types.Observation{}, fmt.Errorf("adding belief: %w", err)
	}
	obs := types.Observation{
		ID:        uuid.NewString(),
		Document:  document,
		Embedding: embs[0],
		Type:      types.TypeBelief,
	}
	m.insert(obs)
	emitToContext(ctx, newTraceEvent(KindBeliefAdded, document))
	return obs.Clone(), nil
}

// DropByDocument removes every observation whose text equals document exactly
// and returns how many were removed.
func (m *GenerativeModel) DropByDocument(document string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropLocked(func(o *types.Observation) bool { return o.Document == document })
}

// DropByID removes the observation with id and reports whether it was held.
func (m *GenerativeModel) DropByID(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropLocked(func(o *types.Observation) bool { return o.ID == id }) > 0
}

func (m *GenerativeModel) dropLocked(match func(*types.Observation) bool) int {
	kept := m.observations[:0]
	removed := 0
	for i := range m.observations {
		if match(&m.observations[i]) {
			removed++
			continue
		}
		kept = append(kept, m.observations[i])
	}
	if removed == 0 {
		return 0
	}
	// Clear the tail so dropped embeddings can be collected.
	for i := len(kept); i < len(m.observations); i++ {
		m.observations[i] = types.Observation{}
	}
	m.observations = kept
	m.reindexLocked()
	return removed
}

func (m *GenerativeModel) reindexLocked() {
	m.byID = make(map[string]int, len(m.observations))
	for i, o := range m.observations {
		m.byID[o.ID] = i
	}
}

// EditByDocument rewrites every observation whose text equals old exactly.
// The embedding is recomputed for the new text; if that fails the edited
// observations are left without an embedding and the failure is logged.
func (m *GenerativeModel) EditByDocument(ctx context.Context, old, replacement string) (int, error) {
	if replacement == "" {
		return 0, fmt.Errorf("%w: empty replacement belief", storage.ErrInvalidInput)
	}
	if m.countDocument(old) == 0 {
		return 0, nil
	}
	emb := m.embedOrNil(ctx, replacement)

	m.mu.Lock()
	n := 0
	for i := range m.observations {
		if m.observations[i].Document == old {
			m.observations[i].Document = replacement
			m.observations[i].Embedding = cloneVec(emb)
			n++
		}
	}
	m.mu.Unlock()
	return n, nil
}

// EditByID rewrites the observation with id. Returns storage.ErrNotFound if
// it is not held.
func (m *GenerativeModel) EditByID(ctx context.Context, id, replacement string) error {
	if replacement == "" {
		return fmt.Errorf("%w: empty replacement belief", storage.ErrInvalidInput)
	}
	m.mu.RLock()
	_, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("observation %s: %w", id, storage.ErrNotFound)
	}
	emb := m.embedOrNil(ctx, replacement)

	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("observation %s: %w", id, storage.ErrNotFound)
	}
	m.observations[i].Document = replacement
	m.observations[i].Embedding = emb
	return nil
}

func (m *GenerativeModel) embedOrNil(ctx context.Context, text string) []float32 {
	embs, err := m.sampler.Embed(ctx, []string{text})
	if err != nil {
		m.logger.Warn("re-embedding edited belief failed, leaving embedding empty", zap.Error(err))
		return nil
	}
	return embs[0]
}

func (m *GenerativeModel) countDocument(document string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.observations {
		if o.Document == document {
			n++
		}
	}
	return n
}

// Observations returns a deep copy of every observation in insertion order.
func (m *GenerativeModel) Observations() []types.Observation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Observation, len(m.observations))
	for i, o := range m.observations {
		out[i] = o.Clone()
	}
	return out
}

// Documents returns the text of every observation of type t, or of every
// observation when t is empty.
func (m *GenerativeModel) Documents(t types.ObservationType) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.observations))
	for _, o := range m.observations {
		if t == "" || o.Type == t {
			out = append(out, o.Document)
		}
	}
	return out
}

// Get returns the observation with id.
func (m *GenerativeModel) Get(id string) (types.Observation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return types.Observation{}, false
	}
	return m.observations[i].Clone(), true
}

// Len returns the number of observations held.
func (m *GenerativeModel) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observations)
}

// CountByCategory returns how many observations carry category.
func (m *GenerativeModel) CountByCategory(category string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.observations {
		if o.Category == category {
			n++
		}
	}
	return n
}

func cloneVec(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
