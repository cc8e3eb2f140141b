package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubLease struct{ name, token string }

func (l stubLease) Collection() string { return l.name }
func (l stubLease) Token() string { return l.token }
func (l stubLease) Renew(context.Context) error { return nil }
func (l stubLease) Release(context.Context) error { return nil }

func TestLeaseFrom(t *testing.T) {
	ctx := WithLease(context.Background(), stubLease{name: "car_reviews", token: "abc"})

	l, ok := LeaseFrom(ctx, "car_reviews")
	assert.True(t, ok)
	assert.Equal(t, "abc", l.Token())
	assert.Equal(t, "abc", LeaseToken(ctx, "car_reviews"))

	_, ok = LeaseFrom(ctx, "other")
	assert.False(t, ok)
	assert.Empty(t, LeaseToken(ctx, "other"))
	assert.Empty(t, LeaseToken(context.Background(), "car_reviews"))
}
