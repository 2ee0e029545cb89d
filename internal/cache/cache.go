package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ironsheep/imagepool-mcp/internal/bitmap"
	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

// unboundedGrace is the number of unused bitmaps an unbounded bucket keeps when
// GetUnused sweeps it.
const unboundedGrace = 2

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Reused    int64 `json:"reused"`
	Returned  int64 `json:"returned"`
	Discarded int64 `json:"discarded"`
}

// Lookups is the total number of Get calls.
func (s Stats) Lookups() int64 {
	return s.Hits + s.Misses
}

// BucketStats describes the bitmaps held for one spec.
type BucketStats struct {
	Spec  spec.LoadSpec `json:"-"`
	Key   string        `json:"spec"`
	Count int           `json:"count"`
	InUse int           `json:"in_use"`
	Bytes int64         `json:"bytes"`
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithLogger sets the logger used for trim diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *MemoryCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// MemoryCache is the cache and pool of decoded bitmaps.
//
// MemoryCache is safe for concurrent use by multiple goroutines.
type MemoryCache struct {
	mu      sync.Mutex
	buckets map[spec.LoadSpec][]*bitmap.Bitmap

	// claims holds bitmaps handed out by GetUnused that have not yet been
	// returned or stored.
	claims map[*bitmap.Bitmap]struct{}

	stats  Stats
	logger *zap.Logger
}

// New creates an empty cache.
func New(opts ...Option) *MemoryCache {
	c := &MemoryCache{
		buckets: make(map[spec.LoadSpec][]*bitmap.Bitmap),
		claims:  make(map[*bitmap.Bitmap]struct{}),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the bitmap holding url decoded for s, or nil on a miss. URLs match
// after spec.NormalizeURI. A hit is moved to the front of its bucket. The in-use
// state is not changed.
func (c *MemoryCache) Get(url string, s spec.LoadSpec) *bitmap.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(url, s)
}

// GetForDisplay is Get plus one use count on the hit, taken before the cache lock
// is released so GetUnused and Trim cannot claim the bitmap in between. The caller
// gives the count back with Release.
func (c *MemoryCache) GetForDisplay(url string, s spec.LoadSpec) *bitmap.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()
	bm := c.getLocked(url, s)
	if bm != nil {
		bm.IncrementInUse()
	}
	return bm
}

// Release drops one use count of bm. A bitmap left unused that the cache no
// longer holds, because its spec was forgotten, is closed.
func (c *MemoryCache) Release(bm *bitmap.Bitmap) {
	if bm == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	bm.DecrementInUse()
	if bm.InUse() || bm.IsClosed() || c.holdsLocked(bm) {
		return
	}
	c.stats.Discarded++
	bm.Close()
}

// Set stores bm at the front of the bucket for its spec. A nil bitmap is ignored.
// Storing a bitmap obtained from GetUnused settles its reuse claim.
func (c *MemoryCache) Set(bm *bitmap.Bitmap) {
	if bm == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.claims, bm)
	s := bm.Spec()
	list := removeBitmap(c.buckets[s], bm)
	c.buckets[s] = pushFront(list, bm)
}

// GetUnused returns a bitmap whose storage can be decoded into for s, or nil.
//
// For bounded specs the first unused bitmap in the bucket is removed, marked as in
// load use, and returned. Unbounded specs never return a bitmap; instead their
// bucket is swept down to two unused bitmaps.
func (c *MemoryCache) GetUnused(s spec.LoadSpec) *bitmap.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, ok := c.buckets[s]
	if !ok {
		return nil
	}
	if !s.IsSizeBounded() {
		c.buckets[s] = c.trimBucketLocked(list, unboundedGrace)
		return nil
	}
	for i, bm := range list {
		if bm.InUse() {
			continue
		}
		c.buckets[s] = removeAt(list, i)
		bm.SetInLoadUse(true)
		c.claims[bm] = struct{}{}
		c.stats.Reused++
		return bm
	}
	return nil
}

// ReturnUnused gives back a bitmap obtained from GetUnused that was not used,
// for example because the decode failed. The load claim is cleared and the bitmap
// goes to the front of its bucket, or is closed if the bucket no longer exists.
//
// Only a bitmap with an outstanding reuse claim decrements the reused counter;
// returning anything else is safe but does not touch it.
func (c *MemoryCache) ReturnUnused(bm *bitmap.Bitmap) {
	if bm == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.claims[bm]; ok {
		delete(c.claims, bm)
		c.stats.Reused--
	}
	c.stats.Returned++
	bm.SetInLoadUse(false)

	s := bm.Spec()
	list, ok := c.buckets[s]
	if !ok {
		c.stats.Discarded++
		bm.Close()
		return
	}
	c.buckets[s] = pushFront(removeBitmap(list, bm), bm)
}

// Trim discards unused bitmaps in every bucket, keeping the first grace unused
// bitmaps of each. Bitmaps in use are always kept.
func (c *MemoryCache) Trim(grace int) {
	if grace < 0 {
		grace = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("trim image cache", zap.Int("grace", grace))
	for s, list := range c.buckets {
		c.buckets[s] = c.trimBucketLocked(list, grace)
	}
}

// Clear discards every unused bitmap.
func (c *MemoryCache) Clear() {
	c.Trim(0)
}

// Forget discards the unused bitmaps of s and drops its bucket. Bitmaps of s that
// are in use stop being tracked; Release closes them once their last use ends, and
// ReturnUnused closes a claimed one.
func (c *MemoryCache) Forget(s spec.LoadSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, ok := c.buckets[s]
	if !ok {
		return
	}
	c.trimBucketLocked(list, 0)
	delete(c.buckets, s)
	c.logger.Debug("forget image cache bucket", zap.String("spec", s.Key()))
}

// OnMemoryPressure trims the cache to the grace count of level. Unknown levels
// are ignored.
func (c *MemoryCache) OnMemoryPressure(level PressureLevel) {
	grace, ok := level.Grace()
	if !ok {
		return
	}
	c.Trim(grace)
}

// OnTrimMemory handles a host trim-memory notification.
func (c *MemoryCache) OnTrimMemory(level HostTrimLevel) {
	p, ok := level.Pressure()
	if !ok {
		return
	}
	c.OnMemoryPressure(p)
}

// Stats returns a snapshot of the counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Buckets returns per-spec statistics sorted by spec key.
func (c *MemoryCache) Buckets() []BucketStats {
	c.mu.Lock()
	out := make([]BucketStats, 0, len(c.buckets))
	for s, list := range c.buckets {
		b := BucketStats{Spec: s, Key: s.Key(), Count: len(list)}
		for _, bm := range list {
			if bm.InUse() {
				b.InUse++
			}
			b.Bytes += int64(bm.ByteCount())
		}
		out = append(out, b)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of bitmaps held in s's bucket.
func (c *MemoryCache) Len(s spec.LoadSpec) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets[s])
}

// Report renders the counters and bucket sizes as human-readable text.
func (c *MemoryCache) Report() string {
	st := c.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Memory Cache: %d\n", st.Lookups())
	fmt.Fprintf(&sb, "Cache Hit: %d\n", st.Hits)
	fmt.Fprintf(&sb, "Cache Miss: %d\n", st.Misses)
	fmt.Fprintf(&sb, "ReUsed: %d\n", st.Reused)
	fmt.Fprintf(&sb, "Returned: %d\n", st.Returned)
	fmt.Fprintf(&sb, "Thrown: %d\n", st.Discarded)
	for _, b := range c.Buckets() {
		fmt.Fprintf(&sb, "%s: %d (in use %d), %dK\n", b.Key, b.Count, b.InUse, b.Bytes/1024)
	}
	return sb.String()
}

// getLocked looks url up in the bucket for s and counts the hit or miss. The
// caller must hold c.mu.
func (c *MemoryCache) getLocked(url string, s spec.LoadSpec) *bitmap.Bitmap {
	list := c.buckets[s]
	want := spec.NormalizeURI(url)
	for i, bm := range list {
		if u := bm.URL(); u == url || spec.NormalizeURI(u) == want {
			moveToFront(list, i)
			c.stats.Hits++
			return bm
		}
	}
	c.stats.Misses++
	return nil
}

func (c *MemoryCache) holdsLocked(bm *bitmap.Bitmap) bool {
	for _, b := range c.buckets[bm.Spec()] {
		if b == bm {
			return true
		}
	}
	return false
}

func (c *MemoryCache) String() string {
	st := c.Stats()
	return fmt.Sprintf("MemoryCache{hits=%d, misses=%d}", st.Hits, st.Misses)
}

// trimBucketLocked closes and drops unused bitmaps past the first grace ones and
// returns the remaining list. The caller must hold c.mu.
func (c *MemoryCache) trimBucketLocked(list []*bitmap.Bitmap, grace int) []*bitmap.Bitmap {
	kept := list[:0]
	for _, bm := range list {
		if !bm.InUse() {
			grace--
			if grace < 0 {
				c.stats.Discarded++
				delete(c.claims, bm)
				bm.Close()
				continue
			}
		}
		kept = append(kept, bm)
	}
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	return kept
}

func moveToFront(list []*bitmap.Bitmap, i int) {
	if i == 0 {
		return
	}
	bm := list[i]
	copy(list[1:i+1], list[:i])
	list[0] = bm
}

func pushFront(list []*bitmap.Bitmap, bm *bitmap.Bitmap) []*bitmap.Bitmap {
	list = append(list, nil)
	copy(list[1:], list)
	list[0] = bm
	return list
}

func removeBitmap(list []*bitmap.Bitmap, bm *bitmap.Bitmap) []*bitmap.Bitmap {
	for i, b := range list {
		if b == bm {
			return removeAt(list, i)
		}
	}
	return list
}

func removeAt(list []*bitmap.Bitmap, i int) []*bitmap.Bitmap {
	copy(list[i:], list[i+1:])
	list[len(list)-1] = nil
	return list[:len(list)-1]
}
