package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carreviews/internal/vectorstore/memory"
	"carreviews/internal/vectorstore/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.IsType(t, &sqlite.Store{}, s)

	m, err := Open(ctx, Config{Type: Memory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, m)

	_, err = Open(ctx, Config{Type: "chroma"})
	assert.ErrorContains(t, err, "chroma")
}
