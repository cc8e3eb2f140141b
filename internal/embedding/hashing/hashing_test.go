package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carreviews/internal/domain"
)

func TestEmbedder_Deterministic(t *testing.T) {
	a := NewEmbedder(64)
	b := NewEmbedder(64)
	texts := []string{"Great engine performance", "Terrible seats"}

	va, err := a.Embed(context.Background(), texts)
	require.NoError(t, err)
	vb, err := b.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, va, vb)
	assert.Equal(t, "hashing-64", a.Name())
}

func TestEmbedder_UnitNorm(t *testing.T) {
	e := NewEmbedder(0)
	require.Equal(t, DefaultDimension, e.Dimension())
	vecs, err := e.Embed(context.Background(), []string{"The ride is smooth and the engine is quiet"})
	require.NoError(t, err)
	require.Len(t, vecs[0], DefaultDimension)

	var n float64
	for _, v := range vecs[0] {
		n += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(n), 1e-5)
}

func TestEmbedder_StopwordsOnly(t *testing.T) {
	e := NewEmbedder(16)
	vecs, err := e.Embed(context.Background(), []string{"the and of"})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), vecs[0])
}

func TestEmbedder_SimilarTextsAreCloser(t *testing.T) {
	e := NewEmbedder(256)
	vecs, err := e.Embed(context.Background(), []string{
		"great performance and acceleration",
		"the performance and acceleration are great",
		"leaky sunroof and broken radio",
	})
	require.NoError(t, err)

	near, err := domain.Cosine.Between(vecs[0], vecs[1])
	require.NoError(t, err)
	far, err := domain.Cosine.Between(vecs[0], vecs[2])
	require.NoError(t, err)
	assert.Less(t, near, far)
}

func TestEmbedder_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedder(8).Embed(ctx, []string{"x"})
	require.ErrorIs(t, err, context.Canceled)
}
