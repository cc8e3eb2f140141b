// Package sqlite implements a persistent vector store in a single SQLite
// database file inside the configured store directory. Distances are
// computed in SQL through deterministic scalar functions registered with the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"carreviews/internal/domain"
)

// FileName is the database file created inside the store directory.
const FileName = "reviews.db"

// DefaultLeaseTTL is how long a writer lease blocks other writers when its
// owner never released it.
const DefaultLeaseTTL = 10 * time.Minute

var schema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
    name TEXT PRIMARY KEY,
    embedding_model TEXT NOT NULL,
    distance TEXT NOT NULL,
    dimension INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    id TEXT NOT NULL,
    document TEXT NOT NULL,
    review_title TEXT NOT NULL,
    rating REAL NOT NULL,
    vehicle_year INTEGER NOT NULL,
    vehicle_model TEXT NOT NULL,
    embedding BLOB NOT NULL,
    PRIMARY KEY (collection, id)
)`,
	`CREATE INDEX IF NOT EXISTS records_seq ON records(collection, seq)`,
	`CREATE TABLE IF NOT EXISTS writer_leases (
    collection TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    acquired_at INTEGER NOT NULL
)`,
}

// Options configures Open.
type Options struct {
	LeaseTTL    time.Duration
	BusyTimeout time.Duration
}

// Store is a directory-backed vector store.
type Store struct {
	db       *sql.DB
	path     string
	leaseTTL time.Duration
	now      func() time.Time
}

// Open opens or creates the store under dir.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	if opts.LeaseTTL == 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if err := registerFunctions(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w: %w", dir, domain.ErrStoreUnavailable, err)
	}
	path := filepath.Join(dir, FileName)
	// _txlock=immediate makes every write transaction take the write lock
	// up front, so check-then-write sequences cannot interleave.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w: %w", path, domain.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w: %w", path, domain.ErrStoreUnavailable, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: schema %s: %w: %w", path, domain.ErrStoreUnavailable, err)
		}
	}
	return &Store{db: db, path: path, leaseTTL: opts.LeaseTTL, now: time.Now}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// CreateCollection registers a new collection. An existing collection of the
// same name is left untouched and ErrCollectionExists is returned.
func (s *Store) CreateCollection(ctx context.Context, c domain.Collection) (domain.Collection, error) {
	d, err := domain.ParseDistance(string(c.Distance))
	if err != nil {
		return domain.Collection{}, fmt.Errorf("sqlite: create %q: %w", c.Name, err)
	}
	c.Distance = d
	c.CreatedAt = s.now().UTC().Truncate(time.Second)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collection{}, err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.checkWriter(ctx, tx, c.Name); err != nil {
		return domain.Collection{}, err
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE name = ?`, c.Name).Scan(&exists)
	switch {
	case err == nil:
		return domain.Collection{}, fmt.Errorf("sqlite: create %q: %w", c.Name, domain.ErrCollectionExists)
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Collection{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections(name, embedding_model, distance, dimension, created_at) VALUES(?, ?, ?, ?, ?)`,
		c.Name, c.EmbeddingModel, string(c.Distance), c.Dimension, c.CreatedAt.Format(time.RFC3339)); err != nil {
		if isPrimaryKeyViolation(err) {
			return domain.Collection{}, fmt.Errorf("sqlite: create %q: %w", c.Name, domain.ErrCollectionExists)
		}
		return domain.Collection{}, fmt.Errorf("sqlite: create %q: %w", c.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Collection{}, err
	}
	return c, nil
}

func (s *Store) GetCollection(ctx context.Context, name string) (domain.Collection, error) {
	return getCollection(ctx, s.db, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getCollection(ctx context.Context, q queryer, name string) (domain.Collection, error) {
	var (
		c         domain.Collection
		distance  string
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT name, embedding_model, distance, dimension, created_at FROM collections WHERE name = ?`, name).
		Scan(&c.Name, &c.EmbeddingModel, &distance, &c.Dimension, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Collection{}, fmt.Errorf("sqlite: %q: %w", name, domain.ErrCollectionNotFound)
	}
	if err != nil {
		return domain.Collection{}, err
	}
	c.Distance = domain.Distance(distance)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return c, nil
}

// DeleteCollection removes the collection and all its records.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.checkWriter(ctx, tx, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: delete %q: %w", name, domain.ErrCollectionNotFound)
	}
	return tx.Commit()
}

// Add stores records in one transaction, after the records already present.
// Under a lease the ownership check and the heartbeat commit with the rows.
func (s *Store) Add(ctx context.Context, name string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.checkWriter(ctx, tx, name); err != nil {
		return err
	}

	c, err := getCollection(ctx, tx, name)
	if err != nil {
		return err
	}
	dim := c.Dimension
	if dim == 0 {
		dim = len(records[0].Embedding)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM records WHERE collection = ?`, name).Scan(&seq); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records(collection, seq, id, document, review_title, rating, vehicle_year, vehicle_model, embedding)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range records {
		if dim == 0 || len(r.Embedding) != dim {
			return fmt.Errorf("sqlite: record %q: %w: got %d, want %d", r.ID, domain.ErrDimensionMismatch, len(r.Embedding), dim)
		}
		m := r.Metadata
		if _, err := stmt.ExecContext(ctx, name, seq+int64(i), r.ID, r.Text, m.Title, m.Rating, m.Year, m.Model, encodeEmbedding(r.Embedding)); err != nil {
			return fmt.Errorf("sqlite: insert %q: %w", r.ID, err)
		}
	}
	if c.Dimension == 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, dim, name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search returns the topK records closest to vector under the collection's
// metric. Ties are ordered by insertion.
func (s *Store) Search(ctx context.Context, name string, vector []float32, topK int, filter domain.Filter) ([]domain.Match, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	c, err := s.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	fn, ok := distanceFuncs[c.Distance]
	if !ok {
		return nil, fmt.Errorf("sqlite: collection %q: %w: %q", name, domain.ErrUnknownDistance, string(c.Distance))
	}
	if c.Dimension != 0 && len(vector) != c.Dimension {
		return nil, fmt.Errorf("sqlite: query vector: %w: got %d, want %d", domain.ErrDimensionMismatch, len(vector), c.Dimension)
	}

	where, args := filterClause(filter)
	query := fmt.Sprintf(`SELECT id, document, review_title, rating, vehicle_year, vehicle_model, %s(embedding, ?) AS distance
FROM records WHERE collection = ?%s
ORDER BY distance ASC, seq ASC
LIMIT ?`, fn, where)
	all := append([]any{encodeEmbedding(vector), name}, args...)
	all = append(all, topK)

	rows, err := s.db.QueryContext(ctx, query, all...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search %q: %w", name, err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		var m domain.Match
		md := &m.Metadata
		if err := rows.Scan(&m.ID, &m.Text, &md.Title, &md.Rating, &md.Year, &md.Model, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func filterClause(f domain.Filter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	if f.MinRating != nil {
		b.WriteString(" AND rating >= ?")
		args = append(args, *f.MinRating)
	}
	if f.MaxRating != nil {
		b.WriteString(" AND rating <= ?")
		args = append(args, *f.MaxRating)
	}
	if len(f.Years) > 0 {
		b.WriteString(" AND vehicle_year IN (" + placeholders(len(f.Years)) + ")")
		for _, y := range f.Years {
			args = append(args, y)
		}
	}
	if len(f.Models) > 0 {
		b.WriteString(" AND vehicle_model IN (" + placeholders(len(f.Models)) + ")")
		for _, m := range f.Models {
			args = append(args, m)
		}
	}
	return b.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// AcquireWriter takes the writer lease on a collection. The check and the
// takeover run inside BEGIN IMMEDIATE so two processes cannot both win. A
// lease not renewed within the TTL is considered abandoned.
func (s *Store) AcquireWriter(ctx context.Context, name string) (domain.Lease, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, fmt.Errorf("sqlite: lease %q: %w", name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	now := s.now()
	var (
		owner      string
		acquiredAt int64
	)
	err = conn.QueryRowContext(ctx, `SELECT owner, acquired_at FROM writer_leases WHERE collection = ?`, name).Scan(&owner, &acquiredAt)
	switch {
	case err == nil:
		if now.Sub(time.Unix(acquiredAt, 0)) < s.leaseTTL {
			return nil, fmt.Errorf("sqlite: %q held by %s: %w", name, owner, domain.ErrWriterBusy)
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	token := uuid.NewString()
	if _, err := conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO writer_leases(collection, owner, acquired_at) VALUES(?, ?, ?)`,
		name, token, now.Unix()); err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, err
	}
	committed = true
	return &lease{s: s, name: name, token: token}, nil
}

// checkWriter rejects a write to name unless it runs under the current
// lease, or no live lease exists. A matching lease is renewed in tx.
func (s *Store) checkWriter(ctx context.Context, tx *sql.Tx, name string) error {
	token := domain.LeaseToken(ctx, name)
	var (
		owner      string
		acquiredAt int64
	)
	err := tx.QueryRowContext(ctx, `SELECT owner, acquired_at FROM writer_leases WHERE collection = ?`, name).Scan(&owner, &acquiredAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if token != "" {
			return fmt.Errorf("sqlite: %q: lease lost: %w", name, domain.ErrWriterBusy)
		}
		return nil
	case err != nil:
		return err
	}
	if token == "" {
		if s.now().Sub(time.Unix(acquiredAt, 0)) >= s.leaseTTL {
			return nil
		}
		return fmt.Errorf("sqlite: %q held by %s: %w", name, owner, domain.ErrWriterBusy)
	}
	if owner != token {
		return fmt.Errorf("sqlite: %q: lease taken over by %s: %w", name, owner, domain.ErrWriterBusy)
	}
	_, err = tx.ExecContext(ctx, `UPDATE writer_leases SET acquired_at = ? WHERE collection = ? AND owner = ?`,
		s.now().Unix(), name, token)
	return err
}

type lease struct {
	s     *Store
	name  string
	token string
}

func (l *lease) Collection() string { return l.name }
func (l *lease) Token() string      { return l.token }

// Renew moves the lease's heartbeat to now. It fails with ErrWriterBusy once
// another writer has taken the lease over.
func (l *lease) Renew(ctx context.Context) error {
	res, err := l.s.db.ExecContext(ctx, `UPDATE writer_leases SET acquired_at = ? WHERE collection = ? AND owner = ?`,
		l.s.now().Unix(), l.name, l.token)
	if err != nil {
		return fmt.Errorf("sqlite: renew lease %q: %w", l.name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: %q: lease lost: %w", l.name, domain.ErrWriterBusy)
	}
	return nil
}

func (l *lease) Release(ctx context.Context) error {
	_, err := l.s.db.ExecContext(ctx, `DELETE FROM writer_leases WHERE collection = ? AND owner = ?`, l.name, l.token)
	return err
}

func isPrimaryKeyViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func (s *Store) Close() error { return s.db.Close() }

var (
	_ domain.VectorStore  = (*Store)(nil)
	_ domain.WriterLocker = (*Store)(nil)
)
