package correlation

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gridcert/issuance-worker/internal/certificate"
)

// resolvedRetention bounds how long terminal outcomes are remembered so
// late duplicate confirmations can still be classified. Broker
// redeliveries arrive within seconds; an hour of history is generous
// and keeps the set from growing with every certificate ever issued.
const (
	resolvedRetention  = time.Hour
	resolvedSweepEvery = 5 * time.Minute
)

// Key derives the cache key from a raw command identifier. Hashing to hex
// keeps the key independent of the registry's binary representation, so
// the sending and receiving side derive the same key without sharing
// object identity.
func Key(commandID []byte) string {
	sum := sha256.Sum256(commandID)
	return hex.EncodeToString(sum[:])
}

// Entry is a pending certificate awaiting its registry confirmation
type Entry struct {
	Certificate  certificate.Record
	DispatchedAt time.Time
}

// Cache maps outgoing command keys to pending certificates. It is the
// only mutable structure shared between the dispatch path and the
// confirmation path, so insert and remove-on-find are single critical
// sections; a bare read-then-write would race.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]Entry
	resolved  map[string]time.Time
	now       func() time.Time
	lastSweep time.Time
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return newCache(time.Now)
}

func newCache(now func() time.Time) *Cache {
	return &Cache{
		entries:  make(map[string]Entry),
		resolved: make(map[string]time.Time),
		now:      now,
	}
}

// Put inserts an entry. Must be called before the command is published so
// a confirmation can never race ahead of the insert.
func (c *Cache) Put(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry
}

// Take atomically removes and returns the entry for key
func (c *Cache) Take(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if found {
		delete(c.entries, key)
	}
	return entry, found
}

// MarkResolved remembers that key reached a terminal outcome, so a
// duplicate confirmation can be told apart from a missing dispatch.
// Outcomes older than the retention horizon are swept out here.
func (c *Cache) MarkResolved(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)

	now := c.now()
	c.sweepLocked(now)
	c.resolved[key] = now
}

// WasResolved reports whether key reached a terminal outcome within the
// retention horizon
func (c *Cache) WasResolved(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, found := c.resolved[key]
	return found && c.now().Sub(at) <= resolvedRetention
}

// Len returns the number of pending entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) sweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < resolvedSweepEvery {
		return
	}
	c.lastSweep = now

	for key, at := range c.resolved {
		if now.Sub(at) > resolvedRetention {
			delete(c.resolved, key)
		}
	}
}
