package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"carreviews/internal/domain"
	"carreviews/internal/vectorstore/storetest"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.VectorStore { return NewStorage() })
}

func TestStorage_SingleWriter(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	l, err := s.AcquireWriter(ctx, "reviews")
	require.NoError(t, err)

	_, err = s.AcquireWriter(ctx, "reviews")
	require.ErrorIs(t, err, domain.ErrWriterBusy)

	other, err := s.AcquireWriter(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, l.Renew(ctx))
	require.NoError(t, l.Release(ctx))
	require.NoError(t, l.Release(ctx))
	require.ErrorIs(t, l.Renew(ctx), domain.ErrWriterBusy)

	again, err := s.AcquireWriter(ctx, "reviews")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestStorage_WritesRespectLease(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	l, err := s.AcquireWriter(ctx, "reviews")
	require.NoError(t, err)
	leased := domain.WithLease(ctx, l)

	// the lease is keyed by name, so it guards creation too
	_, err = s.CreateCollection(ctx, domain.Collection{Name: "reviews"})
	require.ErrorIs(t, err, domain.ErrWriterBusy)
	_, err = s.CreateCollection(leased, domain.Collection{Name: "reviews"})
	require.NoError(t, err)

	require.ErrorIs(t, s.Add(ctx, "reviews", storetest.Records(1)), domain.ErrWriterBusy)
	require.ErrorIs(t, s.DeleteCollection(ctx, "reviews"), domain.ErrWriterBusy)
	require.NoError(t, s.Add(leased, "reviews", storetest.Records(2)))

	require.NoError(t, l.Release(ctx))
	require.ErrorIs(t, s.Add(leased, "reviews", storetest.Records(1)), domain.ErrWriterBusy)
	require.NoError(t, s.DeleteCollection(ctx, "reviews"))
}

func TestStorage_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	_, err := s.CreateCollection(ctx, domain.Collection{Name: "c", Distance: domain.Cosine})
	require.NoError(t, err)
	recs := storetest.Records(2)
	require.NoError(t, s.Add(ctx, "c", recs))
	require.Error(t, s.Add(ctx, "c", recs[:1]))
}
