package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ironsheep/imagepool-mcp/internal/bitmap"
	"github.com/ironsheep/imagepool-mcp/internal/cache"
	"github.com/ironsheep/imagepool-mcp/internal/imaging"
	"github.com/ironsheep/imagepool-mcp/internal/request"
	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

// ErrUnknownTarget is returned for a target id the server has not seen.
var ErrUnknownTarget = errors.New("unknown target")

// Target states reported by image_target.
const (
	stateIdle    = "idle"
	stateLoading = "loading"
	stateLoaded  = "loaded"
	stateFailed  = "failed"
)

// TargetInfo is the client-visible state of a view target.
type TargetInfo struct {
	ID               string `json:"target_id"`
	URL              string `json:"url,omitempty"`
	State            string `json:"state"`
	Spec             string `json:"spec,omitempty"`
	ShownSpec        string `json:"shown_spec,omitempty"`
	Source           string `json:"source,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	PlaceholderColor string `json:"placeholder_color,omitempty"`
	UseCount         int    `json:"use_count,omitempty"`
	Error            string `json:"error,omitempty"`
}

// viewTarget stands in for an on-screen view owned by the client. It holds at
// most one bitmap and keeps one use count on it while it does. Counts go back
// through the cache so bitmaps of a forgotten spec are closed.
type viewTarget struct {
	id     string
	cache  *cache.MemoryCache
	logger *zap.Logger

	mu     sync.Mutex
	url    string
	spec   string
	shown  *bitmap.Bitmap
	source request.Source
	state  string
	err    error
}

func newViewTarget(id string, c *cache.MemoryCache, logger *zap.Logger) *viewTarget {
	return &viewTarget{id: id, cache: c, logger: logger, state: stateIdle}
}

// URL implements request.Target.
func (t *viewTarget) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// OnLoaded implements request.Target. The delivery carries one use count, which
// is handed back at once if the target no longer wants bm.
func (t *viewTarget) OnLoaded(bm *bitmap.Bitmap, from request.Source) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !spec.SameURI(bm.URL(), t.url) {
		t.logger.Debug("stale delivery dropped", zap.String("target", t.id), zap.String("url", bm.URL()))
		t.cache.Release(bm)
		return
	}
	if t.shown == bm {
		t.cache.Release(bm)
	} else if t.shown != nil {
		t.cache.Release(t.shown)
	}
	t.shown = bm
	t.source = from
	t.err = nil
	// An alternative-spec bitmap is shown while the primary load runs.
	if bm.Spec().Key() == t.spec {
		t.state = stateLoaded
	}
}

// OnFailed implements request.Target.
func (t *viewTarget) OnFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = stateFailed
	t.err = err
}

// want points the target at url decoded for the spec with key specKey,
// releasing a bitmap shown for another URL.
func (t *viewTarget) want(url, specKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shown != nil && !spec.SameURI(t.shown.URL(), url) {
		t.cache.Release(t.shown)
		t.shown = nil
	}
	t.url = url
	t.spec = specKey
	t.err = nil
	t.state = stateLoading
}

// detach drops the URL, which invalidates pending requests, and releases the
// bitmap.
func (t *viewTarget) detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shown != nil {
		t.cache.Release(t.shown)
		t.shown = nil
	}
	t.url = ""
	t.spec = ""
	t.err = nil
	t.state = stateIdle
}

func (t *viewTarget) info() TargetInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	ti := TargetInfo{ID: t.id, URL: t.url, State: t.state, Spec: t.spec}
	if t.err != nil {
		ti.Error = t.err.Error()
	}
	if bm := t.shown; bm != nil {
		ti.ShownSpec = bm.Spec().Key()
		ti.Source = t.source.String()
		ti.UseCount = bm.UseCount()
		if img := bm.Image(); img != nil {
			ti.Width = img.Bounds().Dx()
			ti.Height = img.Bounds().Dy()
			ti.PlaceholderColor = imaging.PlaceholderColor(img)
		}
	}
	return ti
}

// targetRegistry maps client-chosen or generated ids to view targets.
type targetRegistry struct {
	cache  *cache.MemoryCache
	logger *zap.Logger

	mu      sync.Mutex
	targets map[string]*viewTarget
}

func newTargetRegistry(c *cache.MemoryCache, logger *zap.Logger) *targetRegistry {
	return &targetRegistry{cache: c, logger: logger, targets: make(map[string]*viewTarget)}
}

// obtain returns the target for id, creating it. An empty id gets a fresh uuid.
func (r *targetRegistry) obtain(id string) *viewTarget {
	if id == "" {
		id = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok {
		t = newViewTarget(id, r.cache, r.logger)
		r.targets[id] = t
	}
	return t
}

func (r *targetRegistry) get(id string) (*viewTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok {
		return nil, ErrUnknownTarget
	}
	return t, nil
}

// remove detaches and forgets the target.
func (r *targetRegistry) remove(id string) error {
	r.mu.Lock()
	t, ok := r.targets[id]
	delete(r.targets, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTarget
	}
	t.detach()
	return nil
}

func (r *targetRegistry) ids() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.targets))
	for id := range r.targets {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *targetRegistry) releaseAll() {
	for _, id := range r.ids() {
		_ = r.remove(id)
	}
}
