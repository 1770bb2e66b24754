package fallback

import "github.com/haasonsaas/chatlink/pkg/models"

// DefaultCacheSize bounds the number of remembered message ids.
const DefaultCacheSize = 1000

// Cache remembers message ids already delivered while polling. It is
// bounded; the oldest ids are forgotten first.
type Cache struct {
	limit int
	ids   map[models.ID]struct{}
	order []models.ID
}

// NewCache creates a cache holding at most limit ids.
func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = DefaultCacheSize
	}
	return &Cache{limit: limit, ids: make(map[models.ID]struct{})}
}

// Seen reports whether id is cached.
func (c *Cache) Seen(id models.ID) bool {
	_, ok := c.ids[id]
	return ok
}

// Add inserts id and reports whether it was new.
func (c *Cache) Add(id models.ID) bool {
	if id == "" || c.Seen(id) {
		return false
	}
	c.ids[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > c.limit {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.ids, evict)
	}
	return true
}

// Reset clears the cache and repopulates it with ids.
func (c *Cache) Reset(ids ...models.ID) {
	c.ids = make(map[models.ID]struct{}, len(ids))
	c.order = c.order[:0]
	for _, id := range ids {
		c.Add(id)
	}
}

// Len returns the number of cached ids.
func (c *Cache) Len() int { return len(c.order) }

// recentIDs is a small ring of ids seen on the push path, used to seed the
// cache when polling starts.
type recentIDs struct {
	buf  []models.ID
	next int
	full bool
}

func newRecentIDs(size int) *recentIDs {
	if size <= 0 {
		size = 1
	}
	return &recentIDs{buf: make([]models.ID, size)}
}

func (r *recentIDs) add(id models.ID) {
	if id == "" {
		return
	}
	r.buf[r.next] = id
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *recentIDs) list() []models.ID {
	if !r.full {
		return append([]models.ID(nil), r.buf[:r.next]...)
	}
	out := make([]models.ID, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
