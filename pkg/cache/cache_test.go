package cache

import (
	"bytes"
	"testing"
	"time"
)

func newTestClient(t *testing.T, ttl time.Duration) *Client {
	t.Helper()
	c, err := NewClient(NewClientParams{TTL: ttl})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return c
}

func TestClient_PutGetRoundtrip(t *testing.T) {
	c := newTestClient(t, 0)

	key := Key("who is alice", "doc-1", "hybrid")
	payload := []byte(`{"results":[{"id":"chunk-1"}]}`)

	if _, ok := c.Get(key); ok {
		t.Fatal("Get() hit before anything was stored")
	}

	c.Put(key, payload, 0)
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get() missed a fresh entry")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Get() = %s, want %s", got, payload)
	}

	// Overwrites replace the payload in place.
	c.Put(key, []byte(`{"results":[]}`), 0)
	got, ok = c.Get(key)
	if !ok || string(got) != `{"results":[]}` {
		t.Errorf("Get() after overwrite = %s/%v, want the new payload", got, ok)
	}
}

func TestClient_ExpiredEntryMisses(t *testing.T) {
	c := newTestClient(t, time.Hour)

	key := Key("stale query", "", "hybrid")
	c.Put(key, []byte("old"), 30*time.Millisecond)

	if _, ok := c.Get(key); !ok {
		t.Fatal("Get() missed before the entry expired")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatal("Get() served an expired entry")
	}
	// The expired entry was dropped, not just hidden.
	if _, ok := c.Get(key); ok {
		t.Fatal("expired entry came back")
	}
}

func TestClient_DeleteRemovesEntry(t *testing.T) {
	c := newTestClient(t, 0)

	key := Key("short lived")
	c.Put(key, []byte("value"), 0)
	c.Delete(key)
	if _, ok := c.Get(key); ok {
		t.Fatal("Get() hit a deleted entry")
	}

	// Deleting an absent key is fine.
	c.Delete(Key("never stored"))
}

func TestKey_NormalizesParts(t *testing.T) {
	if Key("Who Is   Alice", "Doc-1", "HYBRID") != Key("who is alice", "doc-1", "hybrid") {
		t.Error("equivalent spellings produced different keys")
	}
	if Key("who is alice", "doc-1", "hybrid") == Key("who is alice", "doc-2", "hybrid") {
		t.Error("different scopes share a key")
	}
	if Key("who is alice", "doc-1", "hybrid") == Key("who is alice", "doc-1", "vector") {
		t.Error("different modes share a key")
	}
	// Part boundaries matter, concatenation must not collide.
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("shifted part boundaries share a key")
	}
}
