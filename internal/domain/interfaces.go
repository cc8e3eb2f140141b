package domain

import (
	"context"
	"time"
)

// Review is one normalized customer review row.
type Review struct {
	Title  string
	Text   string
	Rating float64
	Year   int
	Model  string
}

// Metadata is the fixed set of review fields stored next to each document.
type Metadata struct {
	Title  string  `json:"review_title"`
	Rating float64 `json:"rating"`
	Year   int     `json:"vehicle_year"`
	Model  string  `json:"vehicle_model"`
}

// Map renders the metadata as a string-keyed payload.
func (m Metadata) Map() map[string]any {
	return map[string]any{
		"review_title":  m.Title,
		"rating":        m.Rating,
		"vehicle_year":  m.Year,
		"vehicle_model": m.Model,
	}
}

// Document is a single indexed review: id, text and metadata.
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// Record is a document paired with its embedding, ready to be stored.
type Record struct {
	Document
	Embedding []float32
}

// Collection describes a named set of embedded documents. The embedding
// model and distance never change after creation.
type Collection struct {
	Name           string
	EmbeddingModel string
	Distance       Distance
	Dimension      int
	CreatedAt      time.Time
}

// Match is a search result ranked by distance to the query.
type Match struct {
	Document
	Distance float64
}

// Filter restricts a search to documents whose metadata satisfies every set
// condition.
type Filter struct {
	MinRating *float64
	MaxRating *float64
	Years     []int
	Models    []string
}

// Empty reports whether the filter has no conditions.
func (f Filter) Empty() bool {
	return f.MinRating == nil && f.MaxRating == nil && len(f.Years) == 0 && len(f.Models) == 0
}

// Matches reports whether m satisfies the filter.
func (f Filter) Matches(m Metadata) bool {
	if f.MinRating != nil && m.Rating < *f.MinRating {
		return false
	}
	if f.MaxRating != nil && m.Rating > *f.MaxRating {
		return false
	}
	if len(f.Years) > 0 && !containsInt(f.Years, m.Year) {
		return false
	}
	if len(f.Models) > 0 && !containsString(f.Models, m.Model) {
		return false
	}
	return true
}

// Embedder converts text into vectors. Name identifies the embedding function
// and is persisted with every collection built from it.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists named collections and supports filtered
// nearest-neighbour search.
type VectorStore interface {
	CreateCollection(ctx context.Context, c Collection) (Collection, error)
	GetCollection(ctx context.Context, name string) (Collection, error)
	DeleteCollection(ctx context.Context, name string) error
	Add(ctx context.Context, collection string, records []Record) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Match, error)
	Close() error
}

// WriterLocker is implemented by stores that can enforce a single writer per
// collection. The lease is keyed by collection name, so it can be taken
// before the collection exists and survives its deletion.
type WriterLocker interface {
	AcquireWriter(ctx context.Context, collection string) (Lease, error)
}

// Synthesizer turns retrieved reviews and a question into an answer.
type Synthesizer interface {
	Answer(ctx context.Context, question string, matches []Match) (string, error)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
