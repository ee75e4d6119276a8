package region

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/joshuapare/regionkit/internal/invariant"
	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/frame"
)

// DefaultOrder gives 16-frame regions.
const DefaultOrder = 4

// Options configures a Domain.
type Options struct {
	Name     string       // for logs
	Kind     bank.Kind    // which banks regions are drawn from
	Order    uint         // region capacity is 2^Order frames
	ReadOnly bool         // mark handed-out frames frame.FlagReadOnly
	Logger   *slog.Logger // nil discards
}

// Stats holds per-domain counters.
type Stats struct {
	RegionsCreated   int // blocks drawn from the underlying allocator
	RegionsDestroyed int // blocks returned to it
	FastPathHits     int // served by the cached region
	ScanHits         int // served by another existing region
	Fallbacks        int // requests bounced to the underlying allocator
	FramesAllocated  int
	FramesFreed      int
	FramesReclaimed  int // freed by compaction
}

// Domain groups the regions of one page owner.
type Domain struct {
	name     string
	kind     bank.Kind
	order    uint
	readOnly bool

	alloc  BlockAllocator
	arena  *frame.Arena
	owner  Owner
	logger *slog.Logger

	regions []*Region
	cache   *Region
	closed  bool

	stats Stats
}

// NewDomain creates an empty domain for owner.
func NewDomain(alloc BlockAllocator, owner Owner, opts Options) *Domain {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Domain{
		name:     opts.Name,
		kind:     opts.Kind,
		order:    opts.Order,
		readOnly: opts.ReadOnly,
		alloc:    alloc,
		arena:    alloc.Arena(),
		owner:    owner,
		logger:   logger,
	}
}

// Name returns the domain name.
func (dom *Domain) Name() string { return dom.name }

// Kind returns the bank kind regions are drawn from.
func (dom *Domain) Kind() bank.Kind { return dom.kind }

// Owner returns the address space or file cache the domain belongs to.
func (dom *Domain) Owner() Owner { return dom.owner }

// Arena returns the frame descriptors regions are carved from.
func (dom *Domain) Arena() *frame.Arena { return dom.arena }

// RegionCount returns the number of live regions.
func (dom *Domain) RegionCount() int { return len(dom.regions) }

// Regions returns a snapshot of the live regions.
func (dom *Domain) Regions() []*Region { return slices.Clone(dom.regions) }

// Cached returns the fast-path region, or nil.
func (dom *Domain) Cached() *Region { return dom.cache }

// Stats returns a copy of the domain counters.
func (dom *Domain) Stats() Stats { return dom.stats }

// FindOrCreateRegion returns a region with room for one more frame: the cached
// region if it is not full, else the first non-full region, else a fresh one
// drawn from the underlying allocator. It fails only when that allocator cannot
// supply a block.
func (dom *Domain) FindOrCreateRegion() (*Region, error) {
	if dom.cache != nil && !dom.cache.IsFull() {
		dom.stats.FastPathHits++
		return dom.cache, nil
	}
	for _, r := range dom.regions {
		if !r.IsFull() {
			dom.cache = r
			dom.stats.ScanHits++
			return r, nil
		}
	}

	start, err := dom.alloc.AllocBlock(dom.order, dom.kind)
	if err != nil {
		return nil, err
	}
	r := &Region{
		dom:      dom,
		start:    start,
		size:     1 << dom.order,
		order:    dom.order,
		freeHead: frame.Nil,
		slot:     len(dom.regions),
	}

	b := dom.alloc.BankOf(start)
	invariant.Check(b != nil, "region", "block %v lies outside every bank", start)
	b.Lock()
	for i := range frame.Number(r.size) {
		dom.arena.Desc(start + i).Tag.Set(r, false)
	}
	b.Unlock()

	dom.regions = append(dom.regions, r)
	dom.cache = r
	dom.stats.RegionsCreated++
	dom.logger.Debug("region created",
		"domain", dom.name, "start", uint64(start), "order", dom.order, "bank", b.String(), "regions", len(dom.regions))
	return r, nil
}

// AllocatePage hands out one frame of this domain. It returns ErrFallback when
// the caller should take an order-0 page from the underlying allocator instead.
//
// The caller holds the owner's lock.
func (dom *Domain) AllocatePage(zero bool) (frame.Number, error) {
	invariant.Check(!dom.closed, "region", "allocation from closed domain %q", dom.name)

	r, err := dom.FindOrCreateRegion()
	if err != nil {
		dom.stats.Fallbacks++
		return frame.Nil, fmt.Errorf("%w: %w", ErrFallback, err)
	}
	n, err := r.AllocFrame(zero)
	if err != nil {
		dom.stats.Fallbacks++
		return frame.Nil, fmt.Errorf("%w: %w", ErrFallback, err)
	}
	return n, nil
}

// FreePage returns frame n to the region it came from.
//
// The caller holds the owner's lock.
func (dom *Domain) FreePage(n frame.Number) {
	dom.regionOf(n).free(n, false)
}

// Reclaim is FreePage for the compaction path: the caller holds the lock of the
// bank containing n as well as the owner's lock, and has already had the owner
// unmap the frame. It reports whether the region was released as a result.
func (dom *Domain) Reclaim(n frame.Number) bool {
	released := dom.regionOf(n).free(n, true)
	dom.stats.FramesReclaimed++
	return released
}

func (dom *Domain) regionOf(n frame.Number) *Region {
	r := Of(dom.arena.Desc(n))
	if r == nil {
		invariant.Failf("region", "frame %v is not owned by any region", n)
	}
	if r.dom != dom {
		invariant.Failf("region", "frame %v belongs to domain %q, not %q", n, r.dom.name, dom.name)
	}
	return r
}

// unlink removes r from the region list and the cache.
func (dom *Domain) unlink(r *Region) {
	i := r.slot
	invariant.Check(i < len(dom.regions) && dom.regions[i] == r, "region", "%v not linked into %q", r, dom.name)
	last := len(dom.regions) - 1
	dom.regions[i] = dom.regions[last]
	dom.regions[i].slot = i
	dom.regions[last] = nil
	dom.regions = dom.regions[:last]
	if dom.cache == r {
		dom.cache = nil
	}
}

// Validate checks every region and the cache membership.
func (dom *Domain) Validate() error {
	for i, r := range dom.regions {
		if r.slot != i {
			return fmt.Errorf("domain %q: region %v at slot %d records slot %d", dom.name, r, i, r.slot)
		}
		if r.dead.Load() {
			return fmt.Errorf("domain %q: destroyed %v still listed", dom.name, r)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("domain %q: %w", dom.name, err)
		}
	}
	if dom.cache != nil && !slices.Contains(dom.regions, dom.cache) {
		return fmt.Errorf("domain %q: cached %v is not a member", dom.name, dom.cache)
	}
	return nil
}

// Close returns every idle region to the underlying allocator and marks the
// domain unusable. The owner must have freed every page first; a region still
// handing out frames is a violation. Close is idempotent.
//
// The caller holds the owner's lock.
func (dom *Domain) Close() {
	for _, r := range dom.regions {
		if used := r.InUse(); used != 0 {
			invariant.Failf("region", "domain %q closed with %d frames handed out by %v", dom.name, used, r)
		}
	}
	for len(dom.regions) > 0 {
		dom.regions[len(dom.regions)-1].destroy(false)
	}
	dom.closed = true
}
