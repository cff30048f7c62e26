package llm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func TestHashEmbedder(t *testing.T) {
	e, err := NewHashEmbedder(256)
	require.NoError(t, err)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "I love eating cabbage")
	require.NoError(t, err)
	a2, err := e.Embed(ctx, "i LOVE eating cabbage!")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the stock market crashed yesterday")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "I love cabbage soup")
	require.NoError(t, err)

	assert.Len(t, a1, 256)
	assert.Equal(t, a1, a2, "case and punctuation are ignored")
	assert.InDelta(t, 1.0, l2(a1, make([]float32, 256)), 1e-5, "vectors are unit length")
	assert.Less(t, l2(a1, near), l2(a1, b))

	empty, err := e.Embed(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 256), empty)
}

func TestHashEmbedder_Cancelled(t *testing.T) {
	e, err := NewHashEmbedder(0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "blake3-hash-256", e.GetModel())
}
