package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carreviews/internal/answer"
	"carreviews/internal/domain"
	"carreviews/internal/embedding/hashing"
	"carreviews/internal/indexer"
	"carreviews/internal/vectorstore/memory"
	"carreviews/internal/vectorstore/sqlite"
)

const csvData = `,Review_Date,Author_Name,Vehicle_Title,Review_Title,Review,Rating
0, on 01/02/17,Ann,2017 Audi A4 Sedan,Fast,The engine performance is outstanding.,5.0
1, on 01/03/17,Bob,2017 Audi A4 Sedan,Meh,The seats are hard.,2.0
2, on 01/04/16,Cid,2016 Ford Focus SE,Old,Older model with decent performance.,4.0
3, on 01/05/17,Dee,2017 BMW 3 Series,Fun,Strong performance and sharp handling.,4.0
`

func newService(t *testing.T, store domain.VectorStore) (*ReviewService, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reviews.csv"), []byte(csvData), 0o644))
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	svc := NewReviewService(store, hashing.NewEmbedder(128), answer.NewExtractive(2), Options{
		Pattern:    filepath.Join(dir, "*.csv"),
		Collection: "car_reviews",
		Distance:   domain.Cosine,
		TopK:       5,
		Logger:     log,
	})
	return svc, &buf
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	svc, logs := newService(t, store)

	rep, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Records)
	assert.Equal(t, 1, rep.Batches)
	assert.Equal(t, "hashing-128", rep.Collection.EmbeddingModel)
	assert.Equal(t, 128, rep.Collection.Dimension)
	assert.Contains(t, logs.String(), "collection does not exist")

	// a second rebuild replaces the collection rather than failing
	rep, err = svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Records)
	assert.Contains(t, logs.String(), "deleted collection")

	all, err := svc.Search(ctx, "performance", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAsk(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewStorage())
	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	got, err := svc.Ask(ctx, "Find me some positive reviews that discuss the car's performance")
	require.NoError(t, err)
	require.Len(t, got.Matches, 3)
	assert.NotEmpty(t, got.Text)
	for _, m := range got.Matches {
		assert.Equal(t, 2017, m.Metadata.Year)
	}
}

func TestSearch_BeforeBuild(t *testing.T) {
	svc, _ := newService(t, memory.NewStorage())
	_, err := svc.Search(context.Background(), "performance", 0)
	require.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestDelete_Missing(t *testing.T) {
	svc, _ := newService(t, memory.NewStorage())
	err := svc.Delete(context.Background())
	require.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestDelete_WhileAnotherWriterHoldsLease(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	svc, _ := newService(t, store)
	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	lease, err := store.AcquireWriter(ctx, "car_reviews")
	require.NoError(t, err)
	require.ErrorIs(t, svc.Delete(ctx), domain.ErrWriterBusy)
	_, err = svc.Rebuild(ctx)
	require.ErrorIs(t, err, domain.ErrWriterBusy)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, svc.Delete(ctx))
}

// hookEmbedder runs onCall before delegating the call numbered at (1-based).
type hookEmbedder struct {
	domain.Embedder
	at     int
	calls  int
	onCall func()
}

func (h *hookEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls++
	if h.calls == h.at {
		h.onCall()
	}
	return h.Embedder.Embed(ctx, texts)
}

func TestRebuild_ConcurrentRebuildOnSharedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := t.TempDir()

	var csv strings.Builder
	csv.WriteString(",Review_Date,Author_Name,Vehicle_Title,Review_Title,Review,Rating\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&csv, "%d, on 01/%02d/17,Ann,2017 Audi A4 Sedan,Title %d,Engine review number %d.,4.0\n", i, i+1, i, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(data, "reviews.csv"), []byte(csv.String()), 0o644))

	opts := Options{
		Pattern:    filepath.Join(data, "*.csv"),
		Collection: "car_reviews",
		Distance:   domain.Cosine,
		Indexer:    indexer.Options{BatchSize: 4},
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}

	storeA, err := sqlite.Open(ctx, dir, sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storeA.Close() })
	storeB, err := sqlite.Open(ctx, dir, sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storeB.Close() })

	b := NewReviewService(storeB, hashing.NewEmbedder(64), answer.NewExtractive(2), opts)
	var errB error
	emb := &hookEmbedder{
		Embedder: hashing.NewEmbedder(64),
		at:       2,
		// a separate process would not see writer A's lease in its context
		onCall: func() {
			_, errB = b.Rebuild(context.Background())
		},
	}
	a := NewReviewService(storeA, emb, answer.NewExtractive(2), opts)

	rep, err := a.Rebuild(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, errB, domain.ErrWriterBusy)
	assert.Equal(t, 10, rep.Records)
	assert.Equal(t, 3, rep.Batches)

	all, err := a.Search(ctx, "engine", 100)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}
