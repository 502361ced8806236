// Package cache is a TTL result cache over badger. Search responses are
// cached under a digest of the normalized query, so repeated queries skip
// signal fetching and fusion entirely.
//
// The cache is advisory: every operation degrades to a miss on failure and
// callers must produce identical results with the cache on or off.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/tracemap/cartograph/internal/util"
	"github.com/tracemap/cartograph/pkg/logger"

	badger "github.com/dgraph-io/badger/v4"
)

// DefaultTTL bounds how long an entry is served when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// badgerSlack widens the storage-level TTL so badger only reclaims entries
// the envelope already treats as expired. Badger tracks expiry in whole
// seconds; the envelope timestamp is the authoritative one.
const badgerSlack = time.Minute

// envelope wraps a cached payload with its expiry. Expiry lives in the value
// because badger's own TTL has second granularity.
type envelope struct {
	ExpiresAt int64  `json:"expires_at"`
	Payload   []byte `json:"payload"`
}

// Client is a badger-backed cache handle. Safe for concurrent use.
//
// A Client should be created using NewClient.
type Client struct {
	db  *badger.DB
	ttl time.Duration
}

// NewClientParams defines the configuration for creating a new cache Client.
//
// Dir is the badger directory; when empty the cache runs in memory and is
// lost on restart. TTL is the default entry lifetime, DefaultTTL when unset.
type NewClientParams struct {
	Dir        string
	TTL        time.Duration
	SyncWrites bool
}

// NewClient opens the badger store and returns a cache Client configured
// with the provided parameters.
func NewClient(params NewClientParams) (*Client, error) {
	var opts badger.Options
	if params.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(params.Dir)
	}
	opts = opts.WithSyncWrites(params.SyncWrites)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Client{db: db, ttl: ttl}, nil
}

// Close releases the underlying badger store.
func (c *Client) Close() error {
	return c.db.Close()
}

// Key digests the given parts into a cache key. Each part is normalized
// (lowercased, whitespace collapsed) first, so equivalent spellings of a
// query share an entry.
func Key(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(util.NormalizeText(part)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached payload for key. An entry past its expiry is
// deleted and reported as a miss; so is any storage or decoding failure.
func (c *Client) Get(key string) ([]byte, bool) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false
	}
	if err != nil {
		logger.Warn("[Cache] Failed to read entry", "key", key, "error", err)
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn("[Cache] Dropping undecodable entry", "key", key, "error", err)
		c.Delete(key)
		return nil, false
	}
	if time.Now().UnixNano() > env.ExpiresAt {
		c.Delete(key)
		return nil, false
	}
	return env.Payload, true
}

// Put stores payload under key for ttl; a non-positive ttl uses the client
// default. Existing entries are overwritten. Failures are logged and
// swallowed, the next Get simply misses.
func (c *Client) Put(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	data, err := json.Marshal(envelope{
		ExpiresAt: time.Now().Add(ttl).UnixNano(),
		Payload:   payload,
	})
	if err != nil {
		logger.Warn("[Cache] Failed to encode entry", "key", key, "error", err)
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data).WithTTL(ttl + badgerSlack)
		return txn.SetEntry(entry)
	})
	if err != nil {
		logger.Warn("[Cache] Failed to write entry", "key", key, "error", err)
	}
}

// Delete removes key. Missing keys are fine.
func (c *Client) Delete(key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		logger.Warn("[Cache] Failed to delete entry", "key", key, "error", err)
	}
}
