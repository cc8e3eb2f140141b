package domain

import "context"

// Lease is a held writer lease on one collection. Renew must be called more
// often than the store's lease TTL; a lease that was taken over reports
// ErrWriterBusy from Renew and from every write made under it.
type Lease interface {
	Collection() string
	Token() string
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

type leaseKey struct{}

// WithLease returns a context carrying l. Stores that implement
// WriterLocker check writes to l.Collection() against it.
func WithLease(ctx context.Context, l Lease) context.Context {
	return context.WithValue(ctx, leaseKey{}, l)
}

// LeaseFrom returns the lease ctx carries for collection, if any.
func LeaseFrom(ctx context.Context, collection string) (Lease, bool) {
	l, ok := ctx.Value(leaseKey{}).(Lease)
	if !ok || l.Collection() != collection {
		return nil, false
	}
	return l, true
}

// LeaseToken returns the owner token of the lease ctx carries for
// collection, or "" when it carries none.
func LeaseToken(ctx context.Context, collection string) string {
	if l, ok := LeaseFrom(ctx, collection); ok {
		return l.Token()
	}
	return ""
}
