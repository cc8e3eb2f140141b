// Package indexer creates collections and writes projected reviews into
// them in fixed-size batches.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"carreviews/internal/domain"
	"carreviews/internal/reviews"
)

// DefaultBatchSize is the number of documents embedded and stored per call.
const DefaultBatchSize = 166

// Batch is a half-open range [Start, End) of record positions.
type Batch struct {
	Start, End int
}

// Batches partitions n records into consecutive ranges of at most size.
// Every position in [0, n) is covered exactly once, in order.
func Batches(n, size int) []Batch {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, Batch{Start: start, End: min(start+size, n)})
	}
	return out
}

// CreateCollection creates name bound to the embedder's identity and the
// given metric. An existing collection is left untouched and
// domain.ErrCollectionExists is returned.
func CreateCollection(ctx context.Context, store domain.VectorStore, name string, embedder domain.Embedder, distance domain.Distance) (domain.Collection, error) {
	return store.CreateCollection(ctx, domain.Collection{
		Name:           name,
		EmbeddingModel: embedder.Name(),
		Distance:       distance,
	})
}

// Options configures an Indexer.
type Options struct {
	BatchSize  int
	MaxRetries uint64
	RetryBase  time.Duration
	Logger     *slog.Logger
}

// Indexer embeds and stores documents batch by batch.
type Indexer struct {
	store    domain.VectorStore
	embedder domain.Embedder
	opts     Options
	log      *slog.Logger
}

func New(store domain.VectorStore, embedder domain.Embedder, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RetryBase == 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{store: store, embedder: embedder, opts: opts, log: log}
}

// Lock takes the writer lease on collection when the store supports one
// and returns a context carrying it; unlock releases it. A lease already
// carried by ctx is reused and its unlock is a no-op.
func (ix *Indexer) Lock(ctx context.Context, collection string) (context.Context, func(), error) {
	if _, held := domain.LeaseFrom(ctx, collection); held {
		return ctx, func() {}, nil
	}
	locker, ok := ix.store.(domain.WriterLocker)
	if !ok {
		return ctx, func() {}, nil
	}
	lease, err := locker.AcquireWriter(ctx, collection)
	if err != nil {
		return ctx, nil, err
	}
	unlock := func() {
		// the caller's context may already be cancelled
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			ix.log.Warn("release writer lease", "collection", collection, "error", err)
		}
	}
	return domain.WithLease(ctx, lease), unlock, nil
}

// Index writes every projected document into collection under the writer
// lease, renewing it before each batch. Batches run sequentially; on failure
// the returned *domain.BatchError names the first range not written and all
// earlier batches stay committed.
func (ix *Indexer) Index(ctx context.Context, collection string, p reviews.Projection) (int, error) {
	ctx, unlock, err := ix.Lock(ctx, collection)
	if err != nil {
		return 0, err
	}
	defer unlock()
	lease, leased := domain.LeaseFrom(ctx, collection)

	batches := Batches(p.Len(), ix.opts.BatchSize)
	for i, b := range batches {
		if leased {
			if err := lease.Renew(ctx); err != nil {
				return i, &domain.BatchError{Collection: collection, Start: b.Start, End: b.End, Err: err}
			}
		}
		if err := ix.writeBatch(ctx, collection, p, b); err != nil {
			return i, &domain.BatchError{Collection: collection, Start: b.Start, End: b.End, Err: err}
		}
		ix.log.Info("indexed batch",
			"collection", collection,
			"batch", i+1,
			"of", len(batches),
			"start", b.Start,
			"end", b.End,
		)
	}
	return len(batches), nil
}

func (ix *Indexer) writeBatch(ctx context.Context, collection string, p reviews.Projection, b Batch) error {
	docs := p.Docs(b.Start, b.End)
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	var vecs [][]float32
	backoff := retry.WithMaxRetries(ix.opts.MaxRetries, retry.NewFibonacci(ix.opts.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		vecs, err = ix.embedder.Embed(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			ix.log.Warn("embed batch failed", "start", b.Start, "end", b.End, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(docs) {
		return errors.New("embed: vector count does not match document count")
	}

	records := make([]domain.Record, len(docs))
	for i, d := range docs {
		records[i] = domain.Record{Document: d, Embedding: vecs[i]}
	}
	return ix.store.Add(ctx, collection, records)
}
