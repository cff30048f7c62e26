package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/config"
	"github.com/scrypster/charles/internal/llm"
	"github.com/scrypster/charles/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage:   config.StorageConfig{StorageEngine: "sqlite", DataPath: filepath.Join(t.TempDir(), "data"), Seed: 7},
		Embedding: config.EmbeddingConfig{Provider: "hash", Dimensions: 256},
		Agent: config.AgentConfig{
			TickInterval:          time.Second,
			ErrorDelay:            time.Second,
			MinTotalEntries:       8,
			MinEntriesPerCategory: 1,
			MaxSampleAttempts:     100,
			RetryInitial:          time.Millisecond,
			RetryMaxAttempts:      1,
		},
	}
}

type silentProvider struct{}

func (silentProvider) Chat(context.Context, []llm.Message) (string, error) { return "{}", nil }

func (silentProvider) ChatStream(context.Context, []llm.Message, func(string) error) error {
	return nil
}

func (silentProvider) GetModel() string { return "silent" }

func TestOpenVectorStore_SeedsOnce(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	store, corpus, err := openVectorStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, corpus.Size(), count)
	assert.Equal(t, 256, store.EmbeddingSize())
	require.NoError(t, store.Close())

	_, err = os.Stat(filepath.Join(cfg.Storage.DataPath, "charles.db"))
	require.NoError(t, err)

	store, _, err = openVectorStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, corpus.Size(), count, "reopening does not duplicate priors")
}

func TestOpenVectorStore_BadPriorsPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.PriorsPath = t.TempDir()

	_, _, err := openVectorStore(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestBuildSession_PopulatesModel(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	store, corpus, err := openVectorStore(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	p := providers{fast: silentProvider{}, best: silentProvider{}, chat: silentProvider{}}
	sess, err := buildSession(ctx, cfg, store, corpus, p, zap.NewNop())
	require.NoError(t, err)
	defer sess.Close()

	model := sess.Agent().Model()
	assert.GreaterOrEqual(t, model.Len(), cfg.Agent.MinTotalEntries)
	for _, category := range corpus.Categories() {
		assert.GreaterOrEqual(t, model.CountByCategory(category), 1, category)
	}
}

func TestNewProviders_RejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "carrier-pigeon"
	_, err := newProviders(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestPrintMatches(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printMatches(&buf, []storage.Match{{
		Document: storage.Document{
			Text:     "Cabbages are lovely",
			Metadata: storage.Metadata{PriorCategory: "Food", PriorType: storage.PriorBelief},
		},
		Distance: 0.5,
	}}))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "DISTANCE")
	assert.Contains(t, string(lines[1]), "0.5000")
	assert.Contains(t, string(lines[1]), "Cabbages are lovely")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "charles version dev")
}
