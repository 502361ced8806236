package graph

import (
	"context"
	"sync"
	"time"

	"github.com/tracemap/cartograph/pkg/leaselock"
)

// DocumentLocker serializes graph mutations of one document. Relationship
// commits and cascading deletes run under the document's lock; work on other
// documents proceeds in parallel.
type DocumentLocker interface {
	WithLock(ctx context.Context, documentID string, fn func(ctx context.Context) error) error
}

// NewProcessLocker returns an in-process locker backed by one mutex per
// document. It is the default for embedded and test deployments where a
// single process owns the store.
func NewProcessLocker() DocumentLocker {
	return &processLocker{locks: make(map[string]*sync.Mutex)}
}

type processLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *processLocker) WithLock(ctx context.Context, documentID string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[documentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[documentID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// NewLeaseLocker returns a locker backed by pg lease locks, for worker
// deployments where several processes share the store. A busy key is waited
// on, not failed.
func NewLeaseLocker(client *leaselock.Client, ttl time.Duration, tokenPrefix string) DocumentLocker {
	return &leaseLocker{client: client, ttl: ttl, tokenPrefix: tokenPrefix}
}

type leaseLocker struct {
	client      *leaselock.Client
	ttl         time.Duration
	tokenPrefix string
}

func (l *leaseLocker) WithLock(ctx context.Context, documentID string, fn func(ctx context.Context) error) error {
	return l.client.WithLease(ctx, leaselock.DocumentKey(documentID), leaselock.Options{
		TTL:         l.ttl,
		Wait:        true,
		TokenPrefix: l.tokenPrefix,
	}, fn)
}
