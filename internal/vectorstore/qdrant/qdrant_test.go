package qdrant

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carreviews/internal/domain"
)

func TestPointID_StablePerCollection(t *testing.T) {
	a := PointID("car_reviews", "review0")
	assert.Equal(t, a, PointID("car_reviews", "review0"))
	assert.NotEqual(t, a, PointID("car_reviews", "review1"))
	assert.NotEqual(t, a, PointID("other", "review0"))
}

func TestScoreToDistance(t *testing.T) {
	assert.InDelta(t, 0.25, scoreToDistance(domain.Cosine, 0.75), 1e-6)
	assert.InDelta(t, 4.0, scoreToDistance(domain.L2, 2), 1e-6)
	assert.InDelta(t, -1.0, scoreToDistance(domain.InnerProduct, 2), 1e-6)
}

func TestQdrantDistance(t *testing.T) {
	assert.Equal(t, qdrant.Distance_Cosine, qdrantDistance(domain.Cosine))
	assert.Equal(t, qdrant.Distance_Euclid, qdrantDistance(domain.L2))
	assert.Equal(t, qdrant.Distance_Dot, qdrantDistance(domain.InnerProduct))
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(domain.Filter{}))

	minRating := 3.0
	f := buildFilter(domain.Filter{MinRating: &minRating, Years: []int{2017}, Models: []string{"Audi"}})
	require.NotNil(t, f)
	require.Len(t, f.Must, 3)
	assert.Equal(t, keyRating, f.Must[0].GetField().GetKey())
	assert.Equal(t, 3.0, f.Must[0].GetField().GetRange().GetGte())
	assert.Equal(t, keyYear, f.Must[1].GetField().GetKey())
	assert.Equal(t, keyModel, f.Must[2].GetField().GetKey())
}

func TestPayloadRoundTrip(t *testing.T) {
	r := domain.Record{Document: domain.Document{
		ID:       "review7",
		Text:     "great engine",
		Metadata: domain.Metadata{Title: "Fast", Rating: 4.5, Year: 2017, Model: "Audi"},
	}}
	got := documentFromPayload(qdrant.NewValueMap(recordPayload(r, 7)))
	assert.Equal(t, r.Document, got)
}
