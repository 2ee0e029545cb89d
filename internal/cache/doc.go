// Package cache implements the in-memory bitmap cache and pool.
//
// MemoryCache keeps one ordered bucket of bitmaps per load spec, most recently
// touched first. A bucket is both a cache of decoded results, searched by URL, and
// a free list of storage that can be recycled for the next decode of the same
// spec. Each bitmap carries its own in-use state; bitmaps in use are never
// recycled or discarded.
//
// # Flow
//
//	bm := c.Get(url, s)            // hit: show it
//	if bm == nil {
//	    reuse := c.GetUnused(s)    // maybe recycle storage, bounded specs only
//	    bm, err = decode(reuse)    // outside the cache lock
//	    if err != nil && reuse != nil {
//	        c.ReturnUnused(reuse)
//	    }
//	    c.Set(bm)
//	}
//
// # Memory Pressure
//
// Trim discards unused bitmaps past a per-bucket grace count. OnMemoryPressure
// maps a PressureLevel to a grace count and OnTrimMemory does the same for the
// host's numeric trim levels.
//
// # Thread Safety
//
// All operations take a single cache-wide mutex. Critical sections never perform
// I/O or decoding; closing a bitmap happens under the lock and never fails.
package cache
