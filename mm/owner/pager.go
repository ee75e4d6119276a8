package owner

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/region"
)

// Options configures an owner.
type Options struct {
	Name   string
	Order  uint         // region order; 0 selects region.DefaultOrder
	Logger *slog.Logger // nil discards
}

// Stats counts the pages an owner holds.
type Stats struct {
	Pages  int // resident pages
	Direct int // of those, taken straight from the underlying allocator
	Pinned int
}

// pager is the page table and allocation policy shared by both owners. It does
// no locking of its own; the owner's lock covers it.
type pager struct {
	alloc    region.BlockAllocator
	arena    *frame.Arena
	dom      *region.Domain // nil when every page is taken directly
	kind     bank.Kind
	mapping  any
	logger   *slog.Logger
	zero     bool
	readOnly bool
	mapped   bool // pages count as mapped into an address space

	pages  map[uint64]frame.Number
	keys   map[frame.Number]uint64
	pins   map[uint64]int
	direct map[frame.Number]struct{}
	closed bool
}

func newPager(alloc region.BlockAllocator, kind bank.Kind, logger *slog.Logger) pager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return pager{
		alloc:  alloc,
		arena:  alloc.Arena(),
		kind:   kind,
		logger: logger,
		pages:  make(map[uint64]frame.Number),
		keys:   make(map[frame.Number]uint64),
		pins:   make(map[uint64]int),
		direct: make(map[frame.Number]struct{}),
	}
}

func domainOptions(opts Options, kind bank.Kind, readOnly bool, logger *slog.Logger) region.Options {
	order := opts.Order
	if order == 0 {
		order = region.DefaultOrder
	}
	return region.Options{Name: opts.Name, Kind: kind, Order: order, ReadOnly: readOnly, Logger: logger}
}

// get returns the frame backing key, allocating one on first use.
func (p *pager) get(key uint64) (frame.Number, error) {
	if p.closed {
		return frame.Nil, ErrClosed
	}
	if n, ok := p.pages[key]; ok {
		return n, nil
	}

	n, err := p.allocate()
	if err != nil {
		return frame.Nil, err
	}
	d := p.arena.Desc(n)
	d.Mapping = p.mapping
	d.Index = key
	if p.mapped {
		d.MapCount++
	}
	p.pages[key] = n
	p.keys[n] = key
	return n, nil
}

func (p *pager) allocate() (frame.Number, error) {
	if p.dom != nil {
		n, err := p.dom.AllocatePage(p.zero)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, region.ErrFallback) {
			return frame.Nil, err
		}
		p.logger.Debug("region allocator fell back", "owner", p.dom.Name(), "error", err)
	}

	n, err := p.alloc.AllocBlock(0, p.kind)
	if err != nil {
		return frame.Nil, fmt.Errorf("owner: %w", err)
	}
	d := p.arena.Desc(n)
	d.RefCount = 1
	if p.readOnly {
		d.Flags |= frame.FlagReadOnly
	}
	p.alloc.Activate(n)
	if p.zero {
		p.arena.Zero(n)
	}
	p.direct[n] = struct{}{}
	return n, nil
}

// put drops key and frees its frame.
func (p *pager) put(key uint64) error {
	n, ok := p.pages[key]
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNotMapped, key)
	}
	if p.pins[key] > 0 {
		return fmt.Errorf("%w: %#x", ErrPinned, key)
	}
	p.drop(key, n)
	p.free(n)
	return nil
}

// unmap drops the mapping of frame n without freeing it; the caller returns it
// to its region.
func (p *pager) unmap(n frame.Number) error {
	key, ok := p.keys[n]
	if !ok {
		return fmt.Errorf("%w: frame %v", ErrNotMapped, n)
	}
	if p.pins[key] > 0 {
		return fmt.Errorf("%w: %#x", ErrPinned, key)
	}
	p.drop(key, n)
	return nil
}

func (p *pager) drop(key uint64, n frame.Number) {
	d := p.arena.Desc(n)
	if p.mapped {
		d.MapCount--
	}
	d.Mapping = nil
	d.RefCount--
	delete(p.pages, key)
	delete(p.keys, n)
}

func (p *pager) free(n frame.Number) {
	if _, ok := p.direct[n]; ok {
		delete(p.direct, n)
		p.alloc.Deactivate(n)
		p.alloc.FreeBlock(n, 0)
		return
	}
	p.dom.FreePage(n)
}

func (p *pager) pin(key uint64) error {
	if _, ok := p.pages[key]; !ok {
		return fmt.Errorf("%w: %#x", ErrNotMapped, key)
	}
	p.pins[key]++
	return nil
}

func (p *pager) unpin(key uint64) error {
	if p.pins[key] == 0 {
		return fmt.Errorf("%w: %#x not pinned", ErrNotMapped, key)
	}
	p.pins[key]--
	if p.pins[key] == 0 {
		delete(p.pins, key)
	}
	return nil
}

func (p *pager) lookup(key uint64) (frame.Number, bool) {
	n, ok := p.pages[key]
	return n, ok
}

func (p *pager) stats() Stats {
	return Stats{Pages: len(p.pages), Direct: len(p.direct), Pinned: len(p.pins)}
}

// close releases every page, pinned or not, then closes the domain.
func (p *pager) close() {
	if p.closed {
		return
	}
	clear(p.pins)
	for _, key := range slices.Sorted(maps.Keys(p.pages)) {
		n := p.pages[key]
		p.drop(key, n)
		p.free(n)
	}
	if p.dom != nil {
		p.dom.Close()
	}
	p.closed = true
}
