// Package storetest holds behaviour checks shared by every VectorStore
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carreviews/internal/domain"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) domain.VectorStore

// Run executes the shared checks against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("MissingCollection", func(t *testing.T) { testMissingCollection(t, newStore(t)) })
	t.Run("SearchOrder", func(t *testing.T) { testSearchOrder(t, newStore(t)) })
	t.Run("Filter", func(t *testing.T) { testFilter(t, newStore(t)) })
	t.Run("Deterministic", func(t *testing.T) { testDeterministic(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("DimensionMismatch", func(t *testing.T) { testDimensionMismatch(t, newStore(t)) })
	t.Run("Metrics", func(t *testing.T) { testMetrics(t, newStore(t)) })
}

func rating(v float64) *float64 { return &v }

// Records returns n records on a unit circle so that record i is closest
// to Direction(i). Ratings cycle 1..5, models alternate.
func Records(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			Document: domain.Document{
				ID:   fmt.Sprintf("review%d", i),
				Text: fmt.Sprintf("text %d", i),
				Metadata: domain.Metadata{
					Title:  fmt.Sprintf("title %d", i),
					Rating: float64(i%5 + 1),
					Year:   2016 + i%2,
					Model:  []string{"Audi", "Ford"}[i%2],
				},
			},
			Embedding: []float32{float32(i + 1), 1},
		}
	}
	return out
}

func create(t *testing.T, s domain.VectorStore, name string, d domain.Distance) {
	t.Helper()
	_, err := s.CreateCollection(context.Background(), domain.Collection{Name: name, EmbeddingModel: "test-embedder", Distance: d})
	require.NoError(t, err)
}

func testCreateDuplicate(t *testing.T, s domain.VectorStore) {
	ctx := context.Background()
	create(t, s, "reviews", domain.Cosine)
	require.NoError(t, s.Add(ctx, "reviews", Records(3)))

	_, err := s.CreateCollection(ctx, domain.Collection{Name: "reviews", EmbeddingModel: "other", Distance: domain.L2})
	require.ErrorIs(t, err, domain.ErrCollectionExists)

	c, err := s.GetCollection(ctx, "reviews")
	require.NoError(t, err)
	assert.Equal(t, "test-embedder", c.EmbeddingModel)
	assert.Equal(t, domain.Cosine, c.Distance)
	assert.Equal(t, 2, c.Dimension)

	got, err := s.Search(ctx, "reviews", []float32{1, 1}, 10, domain.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func testMissingCollection(t *testing.T, s domain.VectorStore) {
	ctx := context.Background()
	_, err := s.GetCollection(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrCollectionNotFound)
	_, err = s.Search(ctx, "nope", []float32{1}, 1, domain.Filter{})
	require.ErrorIs(t, err, domain.ErrCollectionNotFound)
	require.ErrorIs(t, s.Add(ctx, "nope", Records(1)), domain.ErrCollectionNotFound)
	require.ErrorIs(t, s.DeleteCollection(ctx, "nope"), domain.ErrCollectionNotFound)
}

func testSearchOrder(t *testing.T, s domain.VectorStore) {
	ctx := context.Background()
	create(t, s, "reviews", domain.Cosine)
	require.NoError(t, s.Add(ctx, "reviews", Records(10)))

	got, err := s.Search(ctx, "reviews", []float32{3, 1}, 4, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "review2", got[0].ID)
	assert.Equal(t, "text 2", got[0].Text)
	assert.Equal(t, "title 2", got[0].Metadata.Title)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}

	_, err = s.Search(ctx, "reviews", []float32{3, 1}, 0, domain.Filter{})
	require.ErrorIs(t, err, domain.ErrInvalidTopK)
}

func testFilter(t *testing.T, s domain.VectorStore) {
	ctx := context.Background()
	create(t, s, "reviews", domain.Cosine)
	require.NoError(t, s.Add(ctx, "reviews", Records(20)))

	got, err := s.Search(ctx, "reviews", []float32{1, 1}, 20, domain.Filter{MinRating: rating(3)})
	require.NoError(t, err)
	require.Len(t, got, 12)
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Metadata.Rating, 3.0)
	}

	got, err = s.Search(ctx, "reviews", []float32{1, 1}, 20, domain.Filter{
		MinRating: rating(2), MaxRating: rating(4), Years: []int{2017}, Models: []string{"Ford"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, m := range got {
		assert.True(t, m.Metadata.Rating >= 2 && m.Metadata.Rating <= 4)
		assert.Equal(t, 2017, m.Metadata.Year)
		assert.Equal(t, "Ford", m.Metadata.Model)
	}
}

func testDeterministic(t *testing.T, s domain.VectorStore) {
	ctx := context.Background()
	create(t, s, "reviews", domain.Cosine)
	recs := Records(8)
	// identical embeddings make every distance tie
	for i := range recs {
		recs[i].Embedding = []float32{1, 1}
	}
	require.NoError(t, s.Add(ctx, "reviews", recs))

	first, err := s.Search(ctx, "reviews", []float32{1, 0}, 5, domain.Filter{})
	require.NoError(t, err)
	second, err := s.Search(ctx, "reviews", []float32{1, 0}, 5, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	for i, m := range first {
		assert.Equal(t, fmt.Sprintf("review%d", i), m.ID)
	}
}

func testDelete(t *testing.T, s domain.VectorStore) {
	ctx := context.Background()
	create(t, s, "reviews", domain.Cosine)
	require.NoError(t, s.Add(ctx, "reviews", Records(2)))
	require.NoError(t, s.DeleteCollection(ctx, "reviews"))
	_, err := s.GetCollection(ctx, "reviews")
	require.ErrorIs(t, err, domain.ErrCollectionNotFound)

	create(t, s, "reviews", domain.L2)
	got, err := s.Search(ctx, "reviews", []float32{1, 1}, 5, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testDimensionMismatch(t *testing.T, s domain.VectorStore) {
	ctx := context.Background()
	create(t, s, "reviews", domain.Cosine)
	require.NoError(t, s.Add(ctx, "reviews", Records(2)))

	bad := Records(3)[2:]
	bad[0].Embedding = []float32{1, 2, 3}
	require.ErrorIs(t, s.Add(ctx, "reviews", bad), domain.ErrDimensionMismatch)

	_, err := s.Search(ctx, "reviews", []float32{1, 2, 3}, 1, domain.Filter{})
	require.True(t, errors.Is(err, domain.ErrDimensionMismatch))
}

func testMetrics(t *testing.T, s domain.VectorStore) {
	ctx := context.Background()
	recs := []domain.Record{
		{Document: domain.Document{ID: "near"}, Embedding: []float32{1, 0}},
		{Document: domain.Document{ID: "far"}, Embedding: []float32{10, 0}},
	}
	create(t, s, "l2", domain.L2)
	require.NoError(t, s.Add(ctx, "l2", recs))
	got, err := s.Search(ctx, "l2", []float32{2, 0}, 2, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Distance, 1e-6)

	create(t, s, "ip", domain.InnerProduct)
	require.NoError(t, s.Add(ctx, "ip", recs))
	got, err = s.Search(ctx, "ip", []float32{2, 0}, 2, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "far", got[0].ID)
	assert.InDelta(t, -19.0, got[0].Distance, 1e-6)
}
