package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestNGramEmbedder_Deterministic(t *testing.T) {
	e := NewNGramEmbedder(0)
	require.Equal(t, DefaultNGramDimension, e.Dimension())

	out, err := e.Embed(context.Background(), []string{"COCA COLA 600ML", "COCA COLA 600ML"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, out[0], out[1])
	assert.InDelta(t, 1.0, cosine(out[0], out[1]), 1e-6)
}

func TestNGramEmbedder_UnitNormalized(t *testing.T) {
	e := NewNGramEmbedder(128)

	out, err := e.Embed(context.Background(), []string{"pan bimbo grande 680g"})
	require.NoError(t, err)

	var norm float64
	for _, v := range out[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestNGramEmbedder_UnitSpellings(t *testing.T) {
	e := NewNGramEmbedder(0)

	out, err := e.Embed(context.Background(), []string{"LECHE LALA 1 LITRO", "LECHE LALA 1L"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cosine(out[0], out[1]), 0.99)
}

func TestNGramEmbedder_EmptyText(t *testing.T) {
	e := NewNGramEmbedder(16)

	out, err := e.Embed(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), out[0])
}

func TestNGramEmbedder_PreservesOrder(t *testing.T) {
	e := NewNGramEmbedder(0)
	texts := []string{"A", "B", "C"}

	batch, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	for i, text := range texts {
		single, err := e.Embed(context.Background(), []string{text})
		require.NoError(t, err)
		assert.Equal(t, single[0], batch[i])
	}
}

func TestNGramEmbedder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewNGramEmbedder(0).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
