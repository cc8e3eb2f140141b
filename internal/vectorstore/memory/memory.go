package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"carreviews/internal/domain"
)

// Storage is an in-process vector store using brute-force distance scans.
// Nothing survives the process; it backs tests and dry runs.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
	writers     map[string]string
	now         func() time.Time
}

type collection struct {
	info    domain.Collection
	records []domain.Record
	ids     map[string]struct{}
}

func NewStorage() *Storage {
	return &Storage{
		collections: make(map[string]*collection),
		writers:     make(map[string]string),
		now:         time.Now,
	}
}

func (s *Storage) CreateCollection(ctx context.Context, c domain.Collection) (domain.Collection, error) {
	d, err := domain.ParseDistance(string(c.Distance))
	if err != nil {
		return domain.Collection{}, err
	}
	c.Distance = d
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWriter(ctx, c.Name); err != nil {
		return domain.Collection{}, err
	}
	if _, ok := s.collections[c.Name]; ok {
		return domain.Collection{}, fmt.Errorf("memory: create %q: %w", c.Name, domain.ErrCollectionExists)
	}
	c.CreatedAt = s.now().UTC()
	s.collections[c.Name] = &collection{info: c, ids: make(map[string]struct{})}
	return c, nil
}

func (s *Storage) GetCollection(_ context.Context, name string) (domain.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return domain.Collection{}, fmt.Errorf("memory: %q: %w", name, domain.ErrCollectionNotFound)
	}
	return c.info, nil
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWriter(ctx, name); err != nil {
		return err
	}
	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("memory: delete %q: %w", name, domain.ErrCollectionNotFound)
	}
	delete(s.collections, name)
	return nil
}

func (s *Storage) Add(ctx context.Context, name string, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWriter(ctx, name); err != nil {
		return err
	}
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("memory: add to %q: %w", name, domain.ErrCollectionNotFound)
	}
	dim := c.info.Dimension
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if dim == 0 {
			dim = len(r.Embedding)
		}
		if len(r.Embedding) != dim || dim == 0 {
			return fmt.Errorf("memory: record %q: %w", r.ID, domain.ErrDimensionMismatch)
		}
		if _, dup := c.ids[r.ID]; dup {
			return fmt.Errorf("memory: duplicate id %q", r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("memory: duplicate id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	for _, r := range records {
		c.ids[r.ID] = struct{}{}
		r.Embedding = append([]float32(nil), r.Embedding...)
		c.records = append(c.records, r)
	}
	c.info.Dimension = dim
	return nil
}

func (s *Storage) Search(_ context.Context, name string, vector []float32, topK int, filter domain.Filter) ([]domain.Match, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("memory: search %q: %w", name, domain.ErrCollectionNotFound)
	}
	if c.info.Dimension != 0 && len(vector) != c.info.Dimension {
		return nil, fmt.Errorf("memory: query vector: %w", domain.ErrDimensionMismatch)
	}
	matches := make([]domain.Match, 0, len(c.records))
	for _, r := range c.records {
		if !filter.Matches(r.Metadata) {
			continue
		}
		d, err := c.info.Distance.Between(vector, r.Embedding)
		if err != nil {
			return nil, err
		}
		matches = append(matches, domain.Match{Document: r.Document, Distance: d})
	}
	// records are kept in insertion order, so a stable sort breaks ties by it
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK], nil
}

// AcquireWriter grants one writer per collection within this process.
// Leases do not expire.
func (s *Storage) AcquireWriter(_ context.Context, name string) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.writers[name]; busy {
		return nil, fmt.Errorf("memory: %q: %w", name, domain.ErrWriterBusy)
	}
	l := &lease{s: s, name: name, token: uuid.NewString()}
	s.writers[name] = l.token
	return l, nil
}

// checkWriter rejects writes to name unless they run under its current
// lease, or no lease is held. s.mu must be held.
func (s *Storage) checkWriter(ctx context.Context, name string) error {
	holder, held := s.writers[name]
	token := domain.LeaseToken(ctx, name)
	if (token != "" && holder != token) || (token == "" && held) {
		return fmt.Errorf("memory: %q: %w", name, domain.ErrWriterBusy)
	}
	return nil
}

type lease struct {
	s     *Storage
	name  string
	token string
}

func (l *lease) Collection() string { return l.name }
func (l *lease) Token() string      { return l.token }

func (l *lease) Renew(context.Context) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.writers[l.name] != l.token {
		return fmt.Errorf("memory: %q: lease lost: %w", l.name, domain.ErrWriterBusy)
	}
	return nil
}

func (l *lease) Release(context.Context) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.writers[l.name] == l.token {
		delete(l.s.writers, l.name)
	}
	return nil
}

func (s *Storage) Close() error { return nil }

var (
	_ domain.VectorStore  = (*Storage)(nil)
	_ domain.WriterLocker = (*Storage)(nil)
)
