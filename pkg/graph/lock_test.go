package graph

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProcessLocker_SerializesPerDocument(t *testing.T) {
	locker := NewProcessLocker()

	entered := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- locker.WithLock(context.Background(), "doc-1", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		second <- locker.WithLock(context.Background(), "doc-1", func(ctx context.Context) error { return nil })
	}()
	select {
	case <-second:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	// A different document is not serialized behind doc-1.
	if err := locker.WithLock(context.Background(), "doc-2", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("WithLock(doc-2) error = %v", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first WithLock error = %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second WithLock error = %v", err)
	}
}

func TestProcessLocker_PropagatesErrors(t *testing.T) {
	locker := NewProcessLocker()

	wantErr := errors.New("commit failed")
	if err := locker.WithLock(context.Background(), "doc-1", func(ctx context.Context) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("WithLock error = %v, want %v", err, wantErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := locker.WithLock(ctx, "doc-1", func(ctx context.Context) error { ran = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WithLock under a canceled context: error = %v, want context.Canceled", err)
	}
	if ran {
		t.Fatal("fn ran under a canceled context")
	}
}
