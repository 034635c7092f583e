package classify

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"
)

// Key hashes classification input into the signed 32-bit rolling hash used
// for cache lookups. The input is trimmed and lowercased first so formatting
// noise does not defeat the cache.
func Key(text string) int32 {
	normalized := strings.ToLower(strings.TrimSpace(text))

	var hash int32
	for _, unit := range utf16.Encode([]rune(normalized)) {
		hash = hash*31 + int32(unit)
	}
	return hash
}

// Cache memoizes classification outcomes for the lifetime of one run.
// Entries are namespaced per classifier so identical text asked of different
// classifiers cannot collide.
type Cache struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

func (c *Cache) get(kind, text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[cacheKey(kind, text)]
	return v, ok
}

func (c *Cache) put(kind, text, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(kind, text)] = outcome
}

// Len reports the number of cached outcomes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cacheKey(kind, text string) string {
	return fmt.Sprintf("%s_%d", kind, Key(text))
}
