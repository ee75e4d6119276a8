package owner

import (
	"sync"

	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/region"
)

// FileOptions configures a FileCache.
type FileOptions struct {
	Options
	Regular  bool // non-regular files bypass the region allocator
	ReadOnly bool // pages are not zeroed and are marked read-only
}

// FileCache owns the cached pages of one file, keyed by page offset.
type FileCache struct {
	mu       sync.Mutex
	name     string
	regular  bool
	readOnly bool
	p        pager
}

var _ region.Owner = (*FileCache)(nil)

// NewFileCache returns an empty cache drawing pages from alloc.
func NewFileCache(alloc region.BlockAllocator, opts FileOptions) *FileCache {
	fc := &FileCache{
		name:     opts.Name,
		regular:  opts.Regular,
		readOnly: opts.ReadOnly,
		p:        newPager(alloc, bank.KindFile, opts.Logger),
	}
	fc.p.zero = !opts.ReadOnly
	fc.p.readOnly = opts.ReadOnly
	fc.p.mapping = fc
	if opts.Regular {
		fc.p.dom = region.NewDomain(alloc, fc, domainOptions(opts.Options, bank.KindFile, opts.ReadOnly, fc.p.logger))
	}
	return fc
}

// Name returns the file name.
func (fc *FileCache) Name() string { return fc.name }

// Regular reports whether the file is a regular file.
func (fc *FileCache) Regular() bool { return fc.regular }

// ReadOnly reports whether the file was opened read-only.
func (fc *FileCache) ReadOnly() bool { return fc.readOnly }

// Domain returns the region domain, or nil for a non-regular file.
func (fc *FileCache) Domain() *region.Domain { return fc.p.dom }

func (fc *FileCache) Lock()         { fc.mu.Lock() }
func (fc *FileCache) Unlock()       { fc.mu.Unlock() }
func (fc *FileCache) TryLock() bool { return fc.mu.TryLock() }

// Fill brings page pgoff into the cache and returns its frame.
func (fc *FileCache) Fill(pgoff uint64) (frame.Number, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.p.get(pgoff)
}

// Evict drops page pgoff from the cache.
func (fc *FileCache) Evict(pgoff uint64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.p.put(pgoff)
}

// Pin keeps pgoff cached until a matching Unpin.
func (fc *FileCache) Pin(pgoff uint64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.p.pin(pgoff)
}

// Unpin undoes one Pin.
func (fc *FileCache) Unpin(pgoff uint64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.p.unpin(pgoff)
}

// Lookup returns the frame caching pgoff.
func (fc *FileCache) Lookup(pgoff uint64) (frame.Number, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.p.lookup(pgoff)
}

// Stats returns page counts.
func (fc *FileCache) Stats() Stats {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.p.stats()
}

// Unmap drops frame n from the cache for compaction. The caller holds the lock.
func (fc *FileCache) Unmap(n frame.Number) error {
	return fc.p.unmap(n)
}

// Close drops every page and the domain's regions.
func (fc *FileCache) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.p.close()
}
