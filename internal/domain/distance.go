package domain

import (
	"fmt"
	"math"
	"strings"
)

// Distance names the metric a collection ranks vectors by. Lower is closer
// for every metric.
type Distance string

const (
	Cosine       Distance = "cosine"
	L2           Distance = "l2"
	InnerProduct Distance = "ip"
)

// ParseDistance accepts the metric names used in config files.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "l2", "euclid", "euclidean":
		return L2, nil
	case "ip", "dot":
		return InnerProduct, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDistance, s)
}

// Between computes the distance between a and b under d.
func (d Distance) Between(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na2, nb2, sq float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
		diff := va - vb
		sq += diff * diff
	}
	switch d {
	case Cosine:
		if na2 == 0 || nb2 == 0 {
			return 1, nil
		}
		return 1 - dot/(math.Sqrt(na2)*math.Sqrt(nb2)), nil
	case L2:
		return sq, nil
	case InnerProduct:
		return 1 - dot, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDistance, string(d))
}
