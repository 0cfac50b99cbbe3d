package translator

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/interpretcore/core/internal/cache"
	"github.com/interpretcore/core/internal/segment"
)

// cacheTTL bounds how long a memoized translation survives even if its
// room's LRU never evicts it by size.
const cacheTTL = 1 * time.Hour

type cacheEntry struct {
	byLang map[string]segment.TranslationResult
}

// Cache is the Translator Client's per-room translation memoization
// table: one bounded LRU per room, so a quiet room's memo entries don't
// compete for eviction budget with a busy one.
type Cache struct {
	mu      sync.Mutex
	rooms   map[string]*cache.LRU
	maxSize int
}

// NewCache creates a Cache whose per-room LRUs hold up to maxSize entries.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{rooms: make(map[string]*cache.LRU), maxSize: maxSize}
}

func (c *Cache) room(roomID string) *cache.LRU {
	c.mu.Lock()
	defer c.mu.Unlock()

	lru, ok := c.rooms[roomID]
	if !ok {
		lru = cache.NewLRU(c.maxSize)
		c.rooms[roomID] = lru
	}
	return lru
}

// Get returns the memoized results for (srcText, srcLang, targetLangs) if
// present, reordered to match the requested targetLangs order. A partial
// entry (one missing a requested language) is treated as a miss.
func (c *Cache) Get(roomID, srcText, srcLang string, targetLangs []string) ([]segment.TranslationResult, bool) {
	lru := c.room(roomID)
	val, ok := lru.Get(buildCacheKey(srcText, srcLang, targetLangs))
	if !ok {
		return nil, false
	}

	entry, ok := val.(cacheEntry)
	if !ok {
		return nil, false
	}

	out := make([]segment.TranslationResult, len(targetLangs))
	for i, lang := range targetLangs {
		r, ok := entry.byLang[lang]
		if !ok {
			return nil, false
		}
		out[i] = r
	}
	return out, true
}

// Set memoizes results for (srcText, srcLang, targetLangs).
func (c *Cache) Set(roomID, srcText, srcLang string, targetLangs []string, results []segment.TranslationResult) {
	byLang := make(map[string]segment.TranslationResult, len(results))
	for _, r := range results {
		byLang[r.Lang] = r
	}
	c.room(roomID).Set(buildCacheKey(srcText, srcLang, targetLangs), cacheEntry{byLang: byLang}, cacheTTL)
}

// CloseRoom drops a room's memo table entirely.
func (c *Cache) CloseRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// Len reports the current entry count for a room's memo table (for status
// reporting; mirrors the teacher's TranslationCache.Len).
func (c *Cache) Len(roomID string) int {
	return c.room(roomID).Len()
}

// buildCacheKey hashes the text and joins sorted target languages, so a
// batch requesting the same languages in a different order still hits.
func buildCacheKey(srcText, srcLang string, targetLangs []string) string {
	sorted := append([]string(nil), targetLangs...)
	sort.Strings(sorted)

	hash := sha256.Sum256([]byte(srcText))
	return fmt.Sprintf("translate:%s:%s:%x", srcLang, strings.Join(sorted, ","), hash)
}
