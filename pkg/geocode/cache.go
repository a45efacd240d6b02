package geocode

import (
	"github.com/patrickmn/go-cache"
)

// Cache maps an exact one-line address to a resolved coordinate. Only
// successful resolutions are stored; entries live as long as the cache.
type Cache struct {
	c *cache.Cache
}

// NewCache creates an empty cache with no expiry.
func NewCache() *Cache {
	return &Cache{c: cache.New(cache.NoExpiration, 0)}
}

// Get returns the cached coordinate for fullAddress.
func (c *Cache) Get(fullAddress string) (Coordinate, bool) {
	v, ok := c.c.Get(fullAddress)
	if !ok {
		return Coordinate{}, false
	}
	coord, ok := v.(Coordinate)
	return coord, ok
}

// Set stores a coordinate for fullAddress.
func (c *Cache) Set(fullAddress string, coord Coordinate) {
	c.c.Set(fullAddress, coord, cache.NoExpiration)
}

// Len returns the number of cached addresses.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
