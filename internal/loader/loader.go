// Package loader coordinates image loads between targets, the memory cache, the
// disk cache, and the decoder.
//
// A load first consults the memory cache. On a miss the loader joins the
// in-flight request for the same URL and spec, or starts one. Requests run on a
// bounded set of workers: fetch into the disk cache if needed, acquire recyclable
// storage, decode outside the cache lock, store the result, and deliver it to the
// targets that still want it.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ironsheep/imagepool-mcp/internal/bitmap"
	"github.com/ironsheep/imagepool-mcp/internal/cache"
	"github.com/ironsheep/imagepool-mcp/internal/imaging"
	"github.com/ironsheep/imagepool-mcp/internal/request"
	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

// ErrClosed is returned by loads issued after Close.
var ErrClosed = errors.New("loader is closed")

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithFetcher replaces the default scheme-based fetcher.
func WithFetcher(f Fetcher) Option {
	return func(ld *Loader) { ld.fetcher = f }
}

// WithCache shares an existing memory cache.
func WithCache(c *cache.MemoryCache) Option {
	return func(ld *Loader) { ld.cache = c }
}

// WithRegistry sets the spec registry. The default holds spec.DefaultSpecs.
func WithRegistry(r *spec.Registry) Option {
	return func(ld *Loader) { ld.registry = r }
}

// Loader is safe for concurrent use.
type Loader struct {
	cfg      Config
	cache    *cache.MemoryCache
	registry *spec.Registry
	decoder  *imaging.Decoder
	fetcher  Fetcher
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]*request.Request
	closed   bool

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a loader and its disk cache directory.
func New(cfg Config, opts ...Option) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	l := &Loader{
		cfg:      cfg,
		logger:   zap.NewNop(),
		inflight: make(map[string]*request.Request),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.cache = cache.New(cache.WithLogger(l.logger))
	}
	if l.registry == nil {
		r, err := spec.NewRegistry(spec.DefaultSpecs()...)
		if err != nil {
			return nil, err
		}
		l.registry = r
	}
	if l.fetcher == nil {
		l.fetcher = NewSchemeFetcher(cfg.HTTPTimeout)
	}
	l.decoder = imaging.NewDecoder(l.logger)
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l, nil
}

// Cache returns the memory cache.
func (l *Loader) Cache() *cache.MemoryCache {
	return l.cache
}

// Registry returns the spec registry.
func (l *Loader) Registry() *spec.Registry {
	return l.registry
}

// Load shows url, decoded for the spec named specName, on target.
//
// The target must already report url from its URL method. On a memory-cache hit
// the bitmap is delivered synchronously and returned. Otherwise Load returns nil
// and the bitmap, or the failure, is delivered later through the target. If
// altSpecName is set and the primary spec misses, a cached bitmap for the
// alternative spec is shown while the primary load runs.
//
// Every delivery carries one use count on the bitmap; the target gives it back
// with Cache().Release when it stops displaying it.
func (l *Loader) Load(ctx context.Context, target request.Target, url, specName, altSpecName string) (*bitmap.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := l.registry.Get(specName)
	if err != nil {
		return nil, err
	}

	if bm := l.cache.GetForDisplay(url, s); bm != nil {
		target.OnLoaded(bm, request.SourceMemory)
		return bm, nil
	}

	if altSpecName != "" {
		alt, err := l.registry.Get(altSpecName)
		if err != nil {
			return nil, err
		}
		if bm := l.cache.GetForDisplay(url, alt); bm != nil {
			target.OnLoaded(bm, request.SourceMemory)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	key := s.UniqueKey(url)
	if req, ok := l.inflight[key]; ok {
		if req.AddTarget(target) {
			l.logger.Debug("prefetch request promoted", zap.String("url", url), zap.String("spec", s.Key()))
		}
		return nil, nil
	}

	req := request.New(target, url, s, l.filePath(url))
	l.startLocked(key, req)
	return nil, nil
}

// Prefetch loads url for specName into the caches without a target.
func (l *Loader) Prefetch(ctx context.Context, url, specName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := l.registry.Get(specName)
	if err != nil {
		return err
	}
	if bm := l.cache.Get(url, s); bm != nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	key := s.UniqueKey(url)
	if _, ok := l.inflight[key]; ok {
		return nil
	}
	l.startLocked(key, request.NewPrefetch(url, s, l.filePath(url)))
	return nil
}

// InFlight returns the number of requests not yet finished.
func (l *Loader) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}

// OnTrimMemory forwards a host trim-memory level to the memory cache.
func (l *Loader) OnTrimMemory(level int) {
	l.cache.OnTrimMemory(cache.HostTrimLevel(level))
}

// Report returns the memory cache report plus loader state.
func (l *Loader) Report() string {
	return fmt.Sprintf("%sIn Flight: %d\n", l.cache.Report(), l.InFlight())
}

// Wait blocks until every started request has finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}

// Close rejects new loads, cancels fetches in progress, and waits for workers.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
}

// filePath is the disk cache location for url. It does not depend on the spec, so
// every spec shares one download.
func (l *Loader) filePath(url string) string {
	return filepath.Join(l.cfg.CacheDir, fmt.Sprintf("%016x", xxhash.Sum64String(spec.NormalizeURI(url))))
}

// startLocked registers req and runs it on a worker. The caller must hold l.mu.
func (l *Loader) startLocked(key string, req *request.Request) {
	l.inflight[key] = req
	l.wg.Add(1)
	go l.run(key, req)
}

func (l *Loader) run(key string, req *request.Request) {
	defer l.wg.Done()

	if err := l.sem.Acquire(l.ctx, 1); err != nil {
		l.finish(key, req, nil, 0, err)
		return
	}
	defer l.sem.Release(1)

	bm, from, err := l.process(req)
	l.finish(key, req, bm, from, err)
}

// process fetches and decodes req. A nil bitmap with a nil error means the
// request was cancelled before decoding.
func (l *Loader) process(req *request.Request) (*bitmap.Bitmap, request.Source, error) {
	log := l.logger.With(zap.String("url", req.URI()), zap.String("spec", req.Spec().Key()))

	from := request.SourceDisk
	if fi, err := os.Stat(req.File()); err == nil && fi.Size() > 0 {
		req.SetFileSize(fi.Size())
	} else {
		if !req.IsValid() {
			log.Debug("request cancelled before fetch")
			return nil, from, nil
		}
		size, err := l.fetcher.Fetch(l.ctx, req.URI(), req.File())
		if err != nil {
			return nil, from, err
		}
		req.SetFileSize(size)
		from = request.SourceNetwork
	}

	if !req.IsValid() {
		log.Debug("request cancelled before decode")
		return nil, from, nil
	}

	s := req.Spec()
	reuse := l.cache.GetUnused(s)
	res, err := l.decoder.DecodeFile(req.File(), req.URI(), s, reuse)
	if err != nil {
		if reuse != nil {
			l.cache.ReturnUnused(reuse)
		}
		return nil, from, err
	}
	if reuse != nil && !res.Reused {
		l.cache.ReturnUnused(reuse)
	}

	req.SetBitmap(res.Bitmap)
	l.cache.Set(res.Bitmap)
	log.Debug("image decoded",
		zap.Stringer("from", from),
		zap.Bool("reused", res.Reused),
		zap.Int64("file_size", req.FileSize()),
		zap.String("format", res.Source.Format))
	return res.Bitmap, from, nil
}

// finish removes req from the in-flight set and delivers the outcome to its
// valid targets. Removal happens first so a load arriving afterwards finds the
// bitmap in the memory cache instead of joining a request that already delivered.
func (l *Loader) finish(key string, req *request.Request, bm *bitmap.Bitmap, from request.Source, err error) {
	l.mu.Lock()
	if l.inflight[key] == req {
		delete(l.inflight, key)
	}
	l.mu.Unlock()

	targets := req.ValidTargets()
	switch {
	case err != nil:
		l.logger.Warn("image load failed",
			zap.String("url", req.URI()),
			zap.String("spec", req.Spec().Key()),
			zap.Int("targets", len(targets)),
			zap.Error(err))
		for _, t := range targets {
			t.OnFailed(err)
		}
	case bm != nil:
		for _, t := range targets {
			bm.IncrementInUse()
			t.OnLoaded(bm, from)
		}
	}
	req.SetBitmap(nil)
}
