package cache

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ironsheep/imagepool-mcp/internal/bitmap"
	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

var (
	bounded   = spec.LoadSpec{Name: "thumb", Width: 8, Height: 8, Mode: spec.ModeCrop}
	unbounded = spec.LoadSpec{Name: "feed", Width: 8, Mode: spec.ModeFit}
)

func newBitmap(url string, s spec.LoadSpec) *bitmap.Bitmap {
	w, h := s.Width, s.Height
	if h == 0 {
		h = 4
	}
	return bitmap.New(url, s, image.NewNRGBA(image.Rect(0, 0, w, h)))
}

// bucketURLs returns the URLs in s's bucket in order, front first.
func bucketURLs(c *MemoryCache, s spec.LoadSpec) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var urls []string
	for _, bm := range c.buckets[s] {
		urls = append(urls, bm.URL())
	}
	return urls
}

func TestGet_HitAndMiss(t *testing.T) {
	c := New()

	assert.Nil(t, c.Get("a", bounded))
	assert.Equal(t, Stats{Misses: 1}, c.Stats())

	a := newBitmap("a", bounded)
	c.Set(a)

	got := c.Get("a", bounded)
	assert.Same(t, a, got)
	assert.False(t, got.InUse(), "Get must not change in-use state")

	assert.Nil(t, c.Get("a", unbounded), "same URL under a different spec is a miss")

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(2), st.Misses)
	assert.Equal(t, int64(3), st.Lookups())
}

func TestGet_ReturnsMostRecentlyStored(t *testing.T) {
	c := New()
	old := newBitmap("a", bounded)
	fresh := newBitmap("a", bounded)

	c.Set(old)
	c.Set(fresh)

	assert.Same(t, fresh, c.Get("a", bounded))
	assert.Equal(t, 2, c.Len(bounded), "store does not deduplicate by URL")
}

func TestGet_MovesHitToFront(t *testing.T) {
	c := New()
	c.Set(newBitmap("a", bounded))
	c.Set(newBitmap("b", bounded))
	c.Set(newBitmap("c", bounded))
	require.Equal(t, []string{"c", "b", "a"}, bucketURLs(c, bounded))

	c.Get("a", bounded)
	assert.Equal(t, []string{"a", "c", "b"}, bucketURLs(c, bounded))
}

func TestGet_FindsInUseBitmaps(t *testing.T) {
	c := New()
	a := newBitmap("a", bounded)
	a.IncrementInUse()
	c.Set(a)

	assert.Same(t, a, c.Get("a", bounded))
}

func TestSet_Nil(t *testing.T) {
	c := New()
	c.Set(nil)
	assert.Empty(t, c.Buckets())
}

func TestSet_SameBitmapTwice(t *testing.T) {
	c := New()
	a := newBitmap("a", bounded)
	c.Set(a)
	c.Set(newBitmap("b", bounded))
	c.Set(a)

	assert.Equal(t, []string{"a", "b"}, bucketURLs(c, bounded))
}

func TestGetUnused_Bounded(t *testing.T) {
	c := New()
	a := newBitmap("a", bounded)
	b := newBitmap("b", bounded)
	inUse := newBitmap("c", bounded)
	inUse.IncrementInUse()

	c.Set(a)
	c.Set(b)
	c.Set(inUse)

	got := c.GetUnused(bounded)
	require.Same(t, b, got, "first unused bitmap in MRU order")
	assert.True(t, got.InUse())
	assert.True(t, got.InLoadUse())
	assert.Equal(t, []string{"c", "a"}, bucketURLs(c, bounded), "acquired bitmap leaves the bucket")

	got = c.GetUnused(bounded)
	require.Same(t, a, got)

	assert.Nil(t, c.GetUnused(bounded), "only in-use bitmaps remain")
	assert.Equal(t, int64(2), c.Stats().Reused)
}

func TestGetUnused_NoBucket(t *testing.T) {
	c := New()
	assert.Nil(t, c.GetUnused(bounded))
	assert.Equal(t, Stats{}, c.Stats())
}

func TestGetUnused_Unbounded(t *testing.T) {
	c := New()
	used := newBitmap("used", unbounded)
	used.IncrementInUse()
	var unused []*bitmap.Bitmap
	for i := 0; i < 5; i++ {
		bm := newBitmap(fmt.Sprintf("u%d", i), unbounded)
		unused = append(unused, bm)
		c.Set(bm)
	}
	c.Set(used)

	assert.Nil(t, c.GetUnused(unbounded))

	assert.Equal(t, []string{"used", "u4", "u3"}, bucketURLs(c, unbounded))
	assert.Equal(t, int64(3), c.Stats().Discarded)
	assert.Zero(t, c.Stats().Reused)
	for _, bm := range unused[:3] {
		assert.True(t, bm.IsClosed())
	}
	assert.False(t, used.IsClosed())

	assert.Nil(t, c.GetUnused(unbounded))
	assert.Equal(t, int64(3), c.Stats().Discarded, "second sweep has nothing to drop")
}

func TestReturnUnused(t *testing.T) {
	c := New()
	c.Set(newBitmap("a", bounded))
	c.Set(newBitmap("b", bounded))

	got := c.GetUnused(bounded)
	require.NotNil(t, got)
	c.ReturnUnused(got)

	assert.False(t, got.InUse())
	assert.Equal(t, []string{"b", "a"}, bucketURLs(c, bounded), "returned bitmap goes to the front")

	st := c.Stats()
	assert.Zero(t, st.Reused)
	assert.Equal(t, int64(1), st.Returned)
	assert.Zero(t, st.Discarded)
}

func TestReturnUnused_WithoutClaimKeepsReusedCounter(t *testing.T) {
	c := New()
	a := newBitmap("a", bounded)
	c.Set(a)

	got := c.GetUnused(bounded)
	require.Same(t, a, got)
	c.ReturnUnused(got)
	c.ReturnUnused(got)

	st := c.Stats()
	assert.Zero(t, st.Reused, "double release must not drive reused negative")
	assert.Equal(t, int64(2), st.Returned)
	assert.Equal(t, 1, c.Len(bounded), "double release must not duplicate the bitmap")

	looked := c.Get("a", bounded)
	c.ReturnUnused(looked)
	assert.Zero(t, c.Stats().Reused)
}

func TestReturnUnused_NeverAcquiredDoesNotTouchOtherBuckets(t *testing.T) {
	c := New()
	c.Set(newBitmap("x", unbounded))
	stray := newBitmap("s", bounded)

	c.ReturnUnused(stray)

	assert.True(t, stray.IsClosed(), "no bucket for the spec, so the bitmap is discarded")
	assert.Equal(t, []string{"x"}, bucketURLs(c, unbounded))
	assert.Equal(t, int64(1), c.Stats().Discarded)
}

func TestReturnUnused_AfterForget(t *testing.T) {
	c := New()
	c.Set(newBitmap("a", bounded))
	got := c.GetUnused(bounded)
	require.NotNil(t, got)

	c.Forget(bounded)
	c.ReturnUnused(got)

	assert.True(t, got.IsClosed())
	st := c.Stats()
	assert.Equal(t, int64(1), st.Discarded)
	assert.Equal(t, int64(1), st.Returned)
	assert.Zero(t, st.Reused)
}

func TestSet_SettlesReuseClaim(t *testing.T) {
	c := New()
	c.Set(newBitmap("a", bounded))

	got := c.GetUnused(bounded)
	require.NotNil(t, got)
	got.SetURL("b")
	c.Set(got)
	c.ReturnUnused(got)

	assert.Equal(t, int64(1), c.Stats().Reused, "a stored bitmap's reuse is not undone by a later release")
}

func TestTrim_ZeroGrace(t *testing.T) {
	c := New()
	kept := newBitmap("kept", bounded)
	kept.IncrementInUse()
	loading := newBitmap("loading", unbounded)
	loading.SetInLoadUse(true)
	dropped := []*bitmap.Bitmap{newBitmap("a", bounded), newBitmap("b", unbounded)}

	c.Set(kept)
	c.Set(loading)
	for _, bm := range dropped {
		c.Set(bm)
	}

	c.Trim(0)

	assert.Equal(t, []string{"kept"}, bucketURLs(c, bounded))
	assert.Equal(t, []string{"loading"}, bucketURLs(c, unbounded))
	for _, bm := range dropped {
		assert.True(t, bm.IsClosed())
	}
	assert.Equal(t, int64(2), c.Stats().Discarded)
}

func TestTrim_Grace(t *testing.T) {
	tests := []struct {
		grace int
		want  []string
	}{
		{0, []string{"busy"}},
		{1, []string{"u4", "busy"}},
		{3, []string{"u4", "busy", "u3", "u2"}},
		{10, []string{"u4", "busy", "u3", "u2", "u1", "u0"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("grace=%d", tt.grace), func(t *testing.T) {
			c := New()
			for i := 0; i < 4; i++ {
				c.Set(newBitmap(fmt.Sprintf("u%d", i), bounded))
			}
			busy := newBitmap("busy", bounded)
			busy.IncrementInUse()
			c.Set(busy)
			c.Set(newBitmap("u4", bounded))

			c.Trim(tt.grace)
			assert.Equal(t, tt.want, bucketURLs(c, bounded))
		})
	}
}

func TestTrim_EmptyBucketStaysValid(t *testing.T) {
	c := New()
	c.Set(newBitmap("a", bounded))
	c.Clear()

	assert.Zero(t, c.Len(bounded))
	assert.Nil(t, c.GetUnused(bounded))
	assert.Nil(t, c.Get("a", bounded))

	c.Set(newBitmap("b", bounded))
	assert.Equal(t, 1, c.Len(bounded))

	got := c.GetUnused(bounded)
	require.NotNil(t, got)
	c.Clear()
	c.ReturnUnused(got)
	assert.False(t, got.IsClosed(), "bucket still exists after clear, so the bitmap is pooled again")
}

func TestTrim_CloseFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	c := New(WithLogger(logger))
	bm := bitmap.New("a", bounded, image.NewNRGBA(image.Rect(0, 0, 8, 8)),
		bitmap.WithLogger(logger),
		bitmap.WithReleaseFunc(func(*image.NRGBA) error { return errors.New("release failed") }))
	c.Set(bm)

	assert.NotPanics(t, c.Clear)
	assert.True(t, bm.IsClosed())
	assert.Equal(t, 1, logs.FilterMessage("trim image cache").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to release bitmap").Len())
}

func TestOnMemoryPressure(t *testing.T) {
	tests := []struct {
		level PressureLevel
		want  int
	}{
		{PressureMild, 3},
		{PressureModerate, 1},
		{PressureSevere, 0},
		{PressureLevel(42), 5},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			c := New()
			for i := 0; i < 5; i++ {
				c.Set(newBitmap(fmt.Sprintf("u%d", i), bounded))
			}
			c.OnMemoryPressure(tt.level)
			assert.Equal(t, tt.want, c.Len(bounded))
		})
	}
}

func TestOnTrimMemory(t *testing.T) {
	tests := []struct {
		level HostTrimLevel
		want  int
	}{
		{TrimMemoryUIHidden, 3},
		{TrimMemoryBackground, 1},
		{TrimMemoryModerate, 0},
		{TrimMemoryRunningModerate, 0},
		{TrimMemoryRunningLow, 0},
		{TrimMemoryRunningCritical, 0},
		{TrimMemoryComplete, 0},
		{HostTrimLevel(99), 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("level=%d", tt.level), func(t *testing.T) {
			c := New()
			for i := 0; i < 5; i++ {
				c.Set(newBitmap(fmt.Sprintf("u%d", i), bounded))
			}
			c.OnTrimMemory(tt.level)
			assert.Equal(t, tt.want, c.Len(bounded))
		})
	}
}

func TestParsePressureLevel(t *testing.T) {
	for _, name := range []string{"mild", "moderate", "severe"} {
		p, err := ParsePressureLevel(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.String())
	}
	_, err := ParsePressureLevel("panic")
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	c := New()
	c.Set(newBitmap("a", bounded))
	c.Get("a", bounded)
	c.Get("b", bounded)
	c.ReturnUnused(c.GetUnused(bounded))

	r := c.Report()
	for _, line := range []string{
		"Memory Cache: 2",
		"Cache Hit: 1",
		"Cache Miss: 1",
		"ReUsed: 0",
		"Returned: 1",
		"Thrown: 0",
		bounded.Key() + ": 1 (in use 0)",
	} {
		assert.True(t, strings.Contains(r, line), "report missing %q:\n%s", line, r)
	}
}

func TestBuckets(t *testing.T) {
	c := New()
	a := newBitmap("a", bounded)
	a.IncrementInUse()
	c.Set(a)
	c.Set(newBitmap("b", bounded))
	c.Set(newBitmap("c", unbounded))

	b := c.Buckets()
	require.Len(t, b, 2)
	assert.Equal(t, unbounded.Key(), b[0].Key)
	assert.Equal(t, bounded, b[1].Spec)
	assert.Equal(t, 2, b[1].Count)
	assert.Equal(t, 1, b[1].InUse)
	assert.Equal(t, int64(2*8*8*4), b[1].Bytes)
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				url := fmt.Sprintf("u%d", i%10)
				if bm := c.Get(url, bounded); bm != nil {
					bm.IncrementInUse()
					bm.DecrementInUse()
					continue
				}
				reuse := c.GetUnused(bounded)
				if reuse == nil {
					reuse = newBitmap(url, bounded)
					reuse.SetInLoadUse(true)
				} else if i%3 == 0 {
					c.ReturnUnused(reuse)
					continue
				}
				reuse.SetURL(url)
				c.Set(reuse)
				reuse.SetInLoadUse(false)
			}
		}(g)
	}
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.OnMemoryPressure(PressureLevel(i%3 + 1))
				_ = c.Report()
			}
		}()
	}
	wg.Wait()

	st := c.Stats()
	assert.GreaterOrEqual(t, st.Reused, int64(0))
	assert.Equal(t, int64(8*200), st.Lookups())

	c.Clear()
	assert.Zero(t, c.Len(bounded))
}

func TestGet_EquivalentURL(t *testing.T) {
	c := New()
	a := newBitmap("https://cdn.example.com/a.png", bounded)
	c.Set(a)

	assert.Same(t, a, c.Get("HTTPS://CDN.example.com/a.png#large", bounded))
	assert.Nil(t, c.Get("https://cdn.example.com/A.png", bounded), "path case is significant")
}

func TestGetForDisplay_PinsBitmap(t *testing.T) {
	c := New()
	a := newBitmap("a", bounded)
	c.Set(a)

	assert.Nil(t, c.GetForDisplay("b", bounded))
	got := c.GetForDisplay("a", bounded)
	require.Same(t, a, got)
	assert.Equal(t, 1, a.UseCount())
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())

	assert.Nil(t, c.GetUnused(bounded), "a displayed bitmap is never recycled")
	c.Clear()
	assert.False(t, a.IsClosed(), "a displayed bitmap is never discarded")

	c.Release(a)
	assert.Zero(t, a.UseCount())
	assert.False(t, a.IsClosed(), "released bitmaps stay cached")
	assert.Same(t, a, c.GetUnused(bounded))
}

func TestRelease_AfterForgetCloses(t *testing.T) {
	c := New()
	a := newBitmap("a", bounded)
	c.Set(a)
	require.NotNil(t, c.GetForDisplay("a", bounded))
	require.NotNil(t, c.GetForDisplay("a", bounded))

	c.Forget(bounded)
	assert.False(t, a.IsClosed())

	c.Release(a)
	assert.False(t, a.IsClosed(), "still shown by one target")

	c.Release(a)
	assert.True(t, a.IsClosed())
	assert.Equal(t, int64(1), c.Stats().Discarded)

	c.Release(nil)
}

func TestGetForDisplay_ConcurrentWithReuseAndTrim(t *testing.T) {
	c := New()
	c.Set(newBitmap("a", bounded))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				bm := c.GetForDisplay("a", bounded)
				if bm == nil {
					continue
				}
				for j := 0; j < 3; j++ {
					if bm.IsClosed() || bm.InLoadUse() || bm.URL() != "a" {
						t.Errorf("displayed bitmap was claimed: closed=%t loadUse=%t url=%s",
							bm.IsClosed(), bm.InLoadUse(), bm.URL())
						return
					}
				}
				c.Release(bm)
			}
		}()
	}

	var side sync.WaitGroup
	side.Add(1)
	go func() {
		defer side.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			switch i % 3 {
			case 0:
				if reuse := c.GetUnused(bounded); reuse != nil {
					if reuse.UseCount() != 0 {
						t.Errorf("GetUnused handed out a bitmap with use count %d", reuse.UseCount())
					}
					c.ReturnUnused(reuse)
				}
			case 1:
				c.Clear()
			default:
				if c.Len(bounded) == 0 {
					c.Set(newBitmap("a", bounded))
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	side.Wait()
}
