// Package cas is a content-addressed cache of compressed, pre-chunked
// blocks, keyed by a blake3 digest of their plaintext bytes. It is a
// supplemental feature beyond the wire protocol: resending the same
// file (or a file sharing blocks with one already seen) skips
// compression for any block whose content was already prepared
// (chunking and encryption still run every time), which matters on
// the visual channel where framing is the bottleneck.
//
// It is grounded on this module's teacher's jsync/cas.go, a content-
// addressed-storage index keyed by blake3 digest, adapted here from an
// on-disk index of file-offset ranges to an in-memory cache of
// already-built block payloads.
package cas

import (
	"sync"

	"github.com/glycerine/blake3"
)

// Entry is a previously built, still-valid cache hit: the compressed
// bytes for a plaintext chunk, keyed by the digest of that plaintext.
type Entry struct {
	Compressed []byte
	Mode       string // codec.Mode, kept as a string to avoid an import cycle
}

// Cache is a bounded, goroutine-safe map from blake3 digest to a
// previously compressed chunk. Eviction is simple LRU-by-insertion-
// order: once MaxEntries is exceeded, the oldest entry is dropped.
type Cache struct {
	mu         sync.Mutex
	hasher     *blake3.Hasher
	entries    map[string]Entry
	order      []string
	maxEntries int
}

// NewCache builds a cache holding at most maxEntries compressed chunks.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		hasher:     blake3.New(32, nil),
		entries:    make(map[string]Entry),
		maxEntries: maxEntries,
	}
}

// Digest returns the blake3-256 digest of raw, hex-independent of any
// wire encoding; it is purely an internal cache key and never appears
// on the wire (the wire checksum field is sha256, per the protocol's
// explicit naming).
func (c *Cache) Digest(raw []byte) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasher.Reset()
	c.hasher.Write(raw)
	sum := c.hasher.Sum(nil)
	return string(sum[:32])
}

// Get returns the cached compressed form for digest, if present.
func (c *Cache) Get(digest string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[digest]
	return e, ok
}

// Put records the compressed form for digest, evicting the oldest
// entry if the cache is full.
func (c *Cache) Put(digest string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[digest]; !exists {
		if len(c.order) >= c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, digest)
	}
	c.entries[digest] = e
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
