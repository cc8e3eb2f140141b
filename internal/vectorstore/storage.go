// Package vectorstore selects the vector store backend named in
// configuration.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"carreviews/internal/domain"
	"carreviews/internal/vectorstore/memory"
	"carreviews/internal/vectorstore/qdrant"
	"carreviews/internal/vectorstore/sqlite"
)

// Backend names.
const (
	SQLite = "sqlite"
	Qdrant = "qdrant"
	Memory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Type        string
	Path        string
	LeaseTTL    time.Duration
	BusyTimeout time.Duration
	Qdrant      qdrant.Config
}

// Open returns the configured store. An empty Type means sqlite.
func Open(ctx context.Context, cfg Config) (domain.VectorStore, error) {
	switch cfg.Type {
	case "", SQLite:
		return sqlite.Open(ctx, cfg.Path, sqlite.Options{LeaseTTL: cfg.LeaseTTL, BusyTimeout: cfg.BusyTimeout})
	case Qdrant:
		return qdrant.NewStorage(cfg.Qdrant)
	case Memory:
		return memory.NewStorage(), nil
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.Type)
	}
}
