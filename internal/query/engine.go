// Package query answers similarity searches against a built collection.
package query

import (
	"context"
	"fmt"
	"strings"

	"carreviews/internal/domain"
)

// Engine embeds questions and searches collections built with the same
// embedding function.
type Engine struct {
	store    domain.VectorStore
	embedder domain.Embedder
}

func NewEngine(store domain.VectorStore, embedder domain.Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// Query returns at most topK documents of collection ordered by ascending
// distance to question, restricted by filter. Ties keep insertion order.
func (e *Engine) Query(ctx context.Context, collection, question string, topK int, filter domain.Filter) ([]domain.Match, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}
	c, err := e.store.GetCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if c.EmbeddingModel != e.embedder.Name() {
		return nil, fmt.Errorf("%w: collection %q was built with %q, querying with %q",
			domain.ErrEmbeddingMismatch, collection, c.EmbeddingModel, e.embedder.Name())
	}
	vecs, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed question: got %d vectors", len(vecs))
	}
	return e.store.Search(ctx, collection, vecs[0], topK, filter)
}
