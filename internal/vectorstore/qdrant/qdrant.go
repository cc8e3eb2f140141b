package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"carreviews/internal/domain"
)

// RegistryCollection holds one point per review collection recording the
// embedding model it was built with. Qdrant itself only keeps the metric.
const RegistryCollection = "carreviews_registry"

// Payload keys.
const (
	keyReviewID = "review_id"
	keyDocument = "document"
	keySeq      = "seq"
	keyTitle    = "review_title"
	keyRating   = "rating"
	keyYear     = "vehicle_year"
	keyModel    = "vehicle_model"

	keyName      = "name"
	keyEmbedding = "embedding_model"
	keyDistance  = "distance"
	keyCreatedAt = "created_at"
)

var idNamespace = uuid.MustParse("6f1c6f8e-3a52-4f5e-9a43-61d1f0d5c0a7")

// Storage is a vector store backed by a Qdrant server over gRPC. It does not
// implement domain.WriterLocker: Qdrant offers no lease primitive, so single
// writer discipline is left to the operator.
type Storage struct {
	client *qdrant.Client
}

// Config contains connection details for a Qdrant server.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

func NewStorage(cfg Config) (*Storage, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s:%d: %w: %w", cfg.Host, cfg.Port, domain.ErrStoreUnavailable, err)
	}
	return &Storage{client: client}, nil
}

func (s *Storage) ensureRegistry(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, RegistryCollection)
	if err != nil {
		return fmt.Errorf("qdrant: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: RegistryCollection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     1,
			Distance: qdrant.Distance_Dot,
		}),
	})
}

// CreateCollection records the collection in the registry. The Qdrant
// collection itself is created on the first Add, once the vector size is
// known.
func (s *Storage) CreateCollection(ctx context.Context, c domain.Collection) (domain.Collection, error) {
	d, err := domain.ParseDistance(string(c.Distance))
	if err != nil {
		return domain.Collection{}, err
	}
	c.Distance = d
	if err := s.ensureRegistry(ctx); err != nil {
		return domain.Collection{}, err
	}
	if _, err := s.GetCollection(ctx, c.Name); err == nil {
		return domain.Collection{}, fmt.Errorf("qdrant: create %q: %w", c.Name, domain.ErrCollectionExists)
	} else if !errors.Is(err, domain.ErrCollectionNotFound) {
		return domain.Collection{}, err
	}
	exists, err := s.client.CollectionExists(ctx, c.Name)
	if err != nil {
		return domain.Collection{}, err
	}
	if exists {
		return domain.Collection{}, fmt.Errorf("qdrant: create %q: %w", c.Name, domain.ErrCollectionExists)
	}
	c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.putRegistry(ctx, c); err != nil {
		return domain.Collection{}, err
	}
	return c, nil
}

func (s *Storage) putRegistry(ctx context.Context, c domain.Collection) error {
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: RegistryCollection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(registryID(c.Name)),
			Vectors: qdrant.NewVectors(1),
			Payload: qdrant.NewValueMap(registryPayload(c)),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: register %q: %w", c.Name, err)
	}
	return nil
}

func (s *Storage) GetCollection(ctx context.Context, name string) (domain.Collection, error) {
	if err := s.ensureRegistry(ctx); err != nil {
		return domain.Collection{}, err
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: RegistryCollection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(registryID(name))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return domain.Collection{}, fmt.Errorf("qdrant: get %q: %w", name, err)
	}
	if len(points) == 0 {
		return domain.Collection{}, fmt.Errorf("qdrant: %q: %w", name, domain.ErrCollectionNotFound)
	}
	return collectionFromPayload(points[0].GetPayload()), nil
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.GetCollection(ctx, name); err != nil {
		return err
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("qdrant: delete %q: %w", name, err)
		}
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: RegistryCollection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(registryID(name))),
	})
	if err != nil {
		return fmt.Errorf("qdrant: unregister %q: %w", name, err)
	}
	return nil
}

func (s *Storage) Add(ctx context.Context, name string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	c, err := s.GetCollection(ctx, name)
	if err != nil {
		return err
	}
	dim := c.Dimension
	if dim == 0 {
		dim = len(records[0].Embedding)
	}
	for _, r := range records {
		if dim == 0 || len(r.Embedding) != dim {
			return fmt.Errorf("qdrant: record %q: %w", r.ID, domain.ErrDimensionMismatch)
		}
	}
	if c.Dimension == 0 {
		if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrantDistance(c.Distance),
			}),
		}); err != nil {
			return fmt.Errorf("qdrant: create %q: %w", name, err)
		}
		c.Dimension = dim
		if err := s.putRegistry(ctx, c); err != nil {
			return err
		}
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: name, Exact: qdrant.PtrOf(true)})
	if err != nil {
		return fmt.Errorf("qdrant: count %q: %w", name, err)
	}
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(name, r.ID)),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(recordPayload(r, int64(count)+int64(i))),
		}
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points into %q: %w", len(points), name, err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, name string, vector []float32, topK int, filter domain.Filter) ([]domain.Match, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	c, err := s.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if c.Dimension == 0 {
		return nil, nil
	}
	if len(vector) != c.Dimension {
		return nil, fmt.Errorf("qdrant: query vector: %w", domain.ErrDimensionMismatch)
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %q: %w", name, err)
	}
	out := make([]domain.Match, 0, len(points))
	for _, p := range points {
		out = append(out, domain.Match{
			Document: documentFromPayload(p.GetPayload()),
			Distance: scoreToDistance(c.Distance, p.GetScore()),
		})
	}
	return out, nil
}

func (s *Storage) Close() error { return s.client.Close() }

// PointID derives the Qdrant point UUID for a review id within a collection.
func PointID(collection, id string) string {
	return uuid.NewSHA1(idNamespace, []byte(collection+"/"+id)).String()
}

func registryID(name string) string { return PointID(RegistryCollection, name) }

func qdrantDistance(d domain.Distance) qdrant.Distance {
	switch d {
	case domain.L2:
		return qdrant.Distance_Euclid
	case domain.InnerProduct:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

// scoreToDistance maps Qdrant scores onto the store-wide distance
// conventions: cosine and ip as 1-similarity, l2 squared.
func scoreToDistance(d domain.Distance, score float32) float64 {
	s := float64(score)
	switch d {
	case domain.L2:
		return s * s
	default:
		return 1 - s
	}
}

func buildFilter(f domain.Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	var must []*qdrant.Condition
	if f.MinRating != nil || f.MaxRating != nil {
		must = append(must, qdrant.NewRange(keyRating, &qdrant.Range{Gte: f.MinRating, Lte: f.MaxRating}))
	}
	if len(f.Years) > 0 {
		years := make([]int64, len(f.Years))
		for i, y := range f.Years {
			years[i] = int64(y)
		}
		must = append(must, qdrant.NewMatchInts(keyYear, years...))
	}
	if len(f.Models) > 0 {
		must = append(must, qdrant.NewMatchKeywords(keyModel, f.Models...))
	}
	return &qdrant.Filter{Must: must}
}

func recordPayload(r domain.Record, seq int64) map[string]any {
	p := r.Metadata.Map()
	p[keyYear] = int64(r.Year)
	p[keyReviewID] = r.ID
	p[keyDocument] = r.Text
	p[keySeq] = seq
	return p
}

func documentFromPayload(p map[string]*qdrant.Value) domain.Document {
	return domain.Document{
		ID:   p[keyReviewID].GetStringValue(),
		Text: p[keyDocument].GetStringValue(),
		Metadata: domain.Metadata{
			Title:  p[keyTitle].GetStringValue(),
			Rating: p[keyRating].GetDoubleValue(),
			Year:   int(p[keyYear].GetIntegerValue()),
			Model:  p[keyModel].GetStringValue(),
		},
	}
}

func registryPayload(c domain.Collection) map[string]any {
	return map[string]any{
		keyName:      c.Name,
		keyEmbedding: c.EmbeddingModel,
		keyDistance:  string(c.Distance),
		"dimension":  int64(c.Dimension),
		keyCreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func collectionFromPayload(p map[string]*qdrant.Value) domain.Collection {
	created, _ := time.Parse(time.RFC3339, p[keyCreatedAt].GetStringValue())
	return domain.Collection{
		Name:           p[keyName].GetStringValue(),
		EmbeddingModel: p[keyEmbedding].GetStringValue(),
		Distance:       domain.Distance(p[keyDistance].GetStringValue()),
		Dimension:      int(p["dimension"].GetIntegerValue()),
		CreatedAt:      created,
	}
}

var _ domain.VectorStore = (*Storage)(nil)
