package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"carreviews/internal/domain"
	"carreviews/internal/indexer"
	"carreviews/internal/query"
	"carreviews/internal/reviews"
)

// Options configures a ReviewService.
type Options struct {
	Pattern    string
	Load       reviews.Options
	Collection string
	Distance   domain.Distance
	Indexer    indexer.Options
	TopK       int
	Filter     domain.Filter
	Logger     *slog.Logger
}

// BuildReport summarizes a rebuild.
type BuildReport struct {
	Collection domain.Collection
	Records    int
	Batches    int
}

// Answer is a synthesized reply together with the reviews it was drawn from.
type Answer struct {
	Text    string
	Matches []domain.Match
}

// ReviewService rebuilds the review collection and answers questions
// against it.
type ReviewService struct {
	store    domain.VectorStore
	embedder domain.Embedder
	synth    domain.Synthesizer
	engine   *query.Engine
	indexer  *indexer.Indexer
	opts     Options
	log      *slog.Logger
}

func NewReviewService(store domain.VectorStore, embedder domain.Embedder, synth domain.Synthesizer, opts Options) *ReviewService {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Load.Logger == nil {
		opts.Load.Logger = log
	}
	if opts.Indexer.Logger == nil {
		opts.Indexer.Logger = log
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &ReviewService{
		store:    store,
		embedder: embedder,
		synth:    synth,
		engine:   query.NewEngine(store, embedder),
		indexer:  indexer.New(store, embedder, opts.Indexer),
		opts:     opts,
		log:      log,
	}
}

// Collection returns the name of the collection the service works on.
func (s *ReviewService) Collection() string { return s.opts.Collection }

// Rebuild drops the collection if present, then loads, projects and indexes
// the reviews into a fresh one. The writer lease is taken before the drop and
// held until the last batch is written, so a concurrent Rebuild fails with
// domain.ErrWriterBusy instead of deleting a half-built collection.
func (s *ReviewService) Rebuild(ctx context.Context) (BuildReport, error) {
	ctx, unlock, err := s.indexer.Lock(ctx, s.opts.Collection)
	if err != nil {
		return BuildReport{}, err
	}
	defer unlock()

	if err := s.deleteCollection(ctx); err != nil && !errors.Is(err, domain.ErrCollectionNotFound) {
		return BuildReport{}, err
	}

	rows, err := reviews.Load(ctx, s.opts.Pattern, s.opts.Load)
	if err != nil {
		return BuildReport{}, err
	}
	p := reviews.Project(rows)
	s.log.Info("loaded reviews", "pattern", s.opts.Pattern, "records", p.Len())

	c, err := indexer.CreateCollection(ctx, s.store, s.opts.Collection, s.embedder, s.opts.Distance)
	if err != nil {
		return BuildReport{}, err
	}
	batches, err := s.indexer.Index(ctx, c.Name, p)
	if err != nil {
		return BuildReport{Collection: c, Batches: batches}, err
	}
	if got, err := s.store.GetCollection(ctx, c.Name); err == nil {
		c = got
	}
	s.log.Info("collection built", "collection", c.Name, "records", p.Len(), "batches", batches, "embedding", c.EmbeddingModel)
	return BuildReport{Collection: c, Records: p.Len(), Batches: batches}, nil
}

// Delete removes the collection under the writer lease. A missing
// collection is reported as domain.ErrCollectionNotFound.
func (s *ReviewService) Delete(ctx context.Context) error {
	ctx, unlock, err := s.indexer.Lock(ctx, s.opts.Collection)
	if err != nil {
		return err
	}
	defer unlock()
	return s.deleteCollection(ctx)
}

func (s *ReviewService) deleteCollection(ctx context.Context) error {
	err := s.store.DeleteCollection(ctx, s.opts.Collection)
	if errors.Is(err, domain.ErrCollectionNotFound) {
		s.log.Info("collection does not exist", "collection", s.opts.Collection)
		return err
	}
	if err != nil {
		return fmt.Errorf("delete collection %q: %w", s.opts.Collection, err)
	}
	s.log.Info("deleted collection", "collection", s.opts.Collection)
	return nil
}

// Search returns the topK reviews closest to question under the configured
// filter. topK <= 0 uses the configured default.
func (s *ReviewService) Search(ctx context.Context, question string, topK int) ([]domain.Match, error) {
	if topK <= 0 {
		topK = s.opts.TopK
	}
	return s.engine.Query(ctx, s.opts.Collection, question, topK, s.opts.Filter)
}

// Ask retrieves the closest reviews and synthesizes an answer from them.
func (s *ReviewService) Ask(ctx context.Context, question string) (Answer, error) {
	matches, err := s.Search(ctx, question, 0)
	if err != nil {
		return Answer{}, err
	}
	text, err := s.synth.Answer(ctx, question, matches)
	if err != nil {
		return Answer{Matches: matches}, fmt.Errorf("synthesize answer: %w", err)
	}
	return Answer{Text: text, Matches: matches}, nil
}
