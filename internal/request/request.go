// Package request tracks a single in-flight image load and the targets still
// waiting for its result.
package request

import (
	"fmt"
	"sync"

	"github.com/ironsheep/imagepool-mcp/internal/bitmap"
	"github.com/ironsheep/imagepool-mcp/internal/spec"
)

// Source says where a delivered bitmap came from.
type Source int

const (
	SourceMemory Source = iota
	SourceDisk
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceDisk:
		return "disk"
	case SourceNetwork:
		return "network"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Target is anything that can display a loaded bitmap.
//
// URL reports the URL the target currently wants. URLs are compared after
// spec.NormalizeURI, so a fragment or letter case in the scheme or host does not
// make a target stale. A target that has been reassigned to another resource, or
// detached (empty URL), is stale for any request started for its previous URL.
type Target interface {
	URL() string
	OnLoaded(bm *bitmap.Bitmap, from Source)
	OnFailed(err error)
}

// targetsCapacity is the initial capacity of a request's target list.
const targetsCapacity = 3

// Request is one logical "load this URI for this spec" operation.
//
// Cancellation is implicit: a request whose targets all moved on, and which is not
// a prefetch, is no longer valid. Nothing interrupts a decode in progress.
//
// Request is safe for concurrent use.
type Request struct {
	uri  string
	spec spec.LoadSpec
	file string

	mu       sync.Mutex
	fileSize int64
	bitmap   *bitmap.Bitmap
	targets  []Target
	prefetch bool
}

// NewPrefetch creates a request with no target. It stays valid until a target is
// added and later goes stale.
func NewPrefetch(uri string, s spec.LoadSpec, file string) *Request {
	return &Request{
		uri:      uri,
		spec:     s,
		file:     file,
		fileSize: -1,
		targets:  make([]Target, 0, targetsCapacity),
		prefetch: true,
	}
}

// New creates a request on behalf of target.
func New(target Target, uri string, s spec.LoadSpec, file string) *Request {
	r := NewPrefetch(uri, s, file)
	r.targets = append(r.targets, target)
	r.prefetch = false
	return r
}

// UniqueKey identifies the URI and spec pair. At most one request per key should
// be in flight.
func (r *Request) UniqueKey() string {
	return r.spec.UniqueKey(r.uri)
}

// URI returns the URI as requested.
func (r *Request) URI() string {
	return r.uri
}

// Spec returns the spec the image is loaded for.
func (r *Request) Spec() spec.LoadSpec {
	return r.spec
}

// File returns the disk cache path for the image.
func (r *Request) File() string {
	return r.file
}

// FileSize returns the size of the disk file, or -1 until it is known.
func (r *Request) FileSize() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fileSize
}

// SetFileSize records the size of the disk file.
func (r *Request) SetFileSize(size int64) {
	r.mu.Lock()
	r.fileSize = size
	r.mu.Unlock()
}

// Bitmap returns the loaded bitmap, or nil.
func (r *Request) Bitmap() *bitmap.Bitmap {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bitmap
}

// SetBitmap replaces the loaded bitmap. The previous bitmap loses its load claim
// and the new one gains it, so a bitmap held by a request is never recycled or
// evicted. Pass nil to drop the claim.
func (r *Request) SetBitmap(bm *bitmap.Bitmap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bitmap != nil {
		r.bitmap.SetInLoadUse(false)
	}
	r.bitmap = bm
	if r.bitmap != nil {
		r.bitmap.SetInLoadUse(true)
	}
}

// ValidTargets drops targets that no longer want this request's URI and returns
// the remaining ones.
func (r *Request) ValidTargets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filterValidTargetsLocked()
	return append([]Target(nil), r.targets...)
}

// IsValid reports whether the request is a prefetch or still has a valid target.
func (r *Request) IsValid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filterValidTargetsLocked()
	return r.prefetch || len(r.targets) > 0
}

// IsPrefetch reports whether the request has never had a target.
func (r *Request) IsPrefetch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefetch
}

// AddTarget adds a target and returns whether the request was a prefetch before.
// A request stops being a prefetch permanently once a target is added.
func (r *Request) AddTarget(target Target) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	wasPrefetch := r.prefetch
	r.prefetch = false
	r.targets = append(r.targets, target)
	return wasPrefetch
}

func (r *Request) filterValidTargetsLocked() {
	valid := r.targets[:0]
	for _, t := range r.targets {
		if spec.SameURI(t.URL(), r.uri) {
			valid = append(valid, t)
		}
	}
	for i := len(valid); i < len(r.targets); i++ {
		r.targets[i] = nil
	}
	r.targets = valid
}

func (r *Request) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filterValidTargetsLocked()
	return fmt.Sprintf("Request{uri=%q, spec=%s, file=%q, fileSize=%d, bitmap=%v, targets=%d, prefetch=%t, valid=%t}",
		r.uri, r.spec.Key(), r.file, r.fileSize, r.bitmap != nil, len(r.targets), r.prefetch,
		r.prefetch || len(r.targets) > 0)
}
