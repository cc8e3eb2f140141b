package sqlite

import (
	"database/sql/driver"
	"fmt"
	"sync"

	sqlite "modernc.org/sqlite"

	"carreviews/internal/domain"
)

// distanceFuncs maps each metric to the SQL scalar function computing it.
var distanceFuncs = map[domain.Distance]string{
	domain.Cosine:       "vec_distance_cosine",
	domain.L2:           "vec_distance_l2",
	domain.InnerProduct: "vec_distance_ip",
}

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions makes the distance functions available to every
// connection opened afterwards.
func registerFunctions() error {
	registerOnce.Do(func() {
		for metric, name := range distanceFuncs {
			if err := sqlite.RegisterDeterministicScalarFunction(name, 2, distanceImpl(metric)); err != nil {
				registerErr = fmt.Errorf("sqlite: register %s: %w", name, err)
				return
			}
		}
	})
	return registerErr
}

func distanceImpl(metric domain.Distance) func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error) {
	return func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s: expected 2 arguments, got %d", distanceFuncs[metric], len(args))
		}
		a, err := asEmbedding(args[0])
		if err != nil {
			return nil, err
		}
		b, err := asEmbedding(args[1])
		if err != nil {
			return nil, err
		}
		if a == nil || b == nil {
			return nil, nil
		}
		return metric.Between(a, b)
	}
}

func asEmbedding(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeEmbedding(v)
	default:
		return nil, fmt.Errorf("sqlite: unsupported argument type %T for embedding; want BLOB", arg)
	}
}
