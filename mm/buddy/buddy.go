package buddy

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/joshuapare/regionkit/internal/invariant"
	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/notify"
)

// DefaultMaxOrder gives 1024-frame blocks at the top order.
const DefaultMaxOrder = 10

// Options configures an Allocator.
type Options struct {
	MaxOrder uint            // largest block is 2^MaxOrder frames
	HotCache int             // order-0 hot list high watermark per bank; 0 disables
	Notifier notify.Notifier // advisory events; nil discards
	Logger   *slog.Logger    // nil discards
}

// Allocator hands out naturally aligned power-of-two frame blocks from a set of banks.
type Allocator struct {
	mu sync.Mutex

	arena    *frame.Arena
	banks    []*bank.Bank // sorted by Start
	zones    map[*bank.Bank]*zone
	byKind   [2][]*zone // per kind, normal class before high
	maxOrder uint
	hotMax   int
	notifier notify.Notifier
	logger   *slog.Logger
}

// zone is the free state of one bank.
type zone struct {
	b     *bank.Bank
	free  []*btree.BTreeG[frame.Number] // per order, absolute block starts
	hot   []frame.Number                // order-0 frames, most recently freed last
	nfree uint64                        // frames in free sets plus hot list
}

func lessFrame(a, b frame.Number) bool { return a < b }

// New builds an allocator over banks, all of which must lie inside arena and not
// overlap. Every frame starts free.
func New(arena *frame.Arena, banks []*bank.Bank, opts Options) (*Allocator, error) {
	if len(banks) == 0 {
		return nil, fmt.Errorf("buddy: no banks")
	}
	if opts.MaxOrder > 30 {
		return nil, fmt.Errorf("buddy: max order %d too large", opts.MaxOrder)
	}
	if opts.HotCache < 0 {
		return nil, fmt.Errorf("buddy: negative hot cache size %d", opts.HotCache)
	}

	sorted := slices.Clone(banks)
	slices.SortFunc(sorted, func(a, b *bank.Bank) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	for i, b := range sorted {
		if b.Count == 0 {
			return nil, fmt.Errorf("buddy: %v is empty", b)
		}
		if !arena.Contains(b.Start) || b.End() > arena.End() {
			return nil, fmt.Errorf("buddy: %v outside arena [%d,%d)", b, arena.Base(), arena.End())
		}
		if i > 0 && sorted[i-1].End() > b.Start {
			return nil, fmt.Errorf("buddy: %v overlaps %v", sorted[i-1], b)
		}
	}

	a := &Allocator{
		arena:    arena,
		banks:    sorted,
		zones:    make(map[*bank.Bank]*zone, len(sorted)),
		maxOrder: opts.MaxOrder,
		hotMax:   opts.HotCache,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
	if a.notifier == nil {
		a.notifier = notify.Nop{}
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	for _, b := range sorted {
		z := &zone{b: b, free: make([]*btree.BTreeG[frame.Number], opts.MaxOrder+1)}
		for o := range z.free {
			z.free[o] = btree.NewG(16, lessFrame)
		}
		a.seed(z)
		a.zones[b] = z
	}
	for _, kind := range []bank.Kind{bank.KindVM, bank.KindFile} {
		for _, class := range []bank.Class{bank.ClassNormal, bank.ClassHigh} {
			for _, b := range sorted {
				if b.Kind == kind && b.Class == class {
					a.byKind[kind] = append(a.byKind[kind], a.zones[b])
				}
			}
		}
	}
	return a, nil
}

// seed carves the bank into the largest naturally aligned blocks that fit.
func (a *Allocator) seed(z *zone) {
	var off uint64
	for off < z.b.Count {
		o := a.maxOrder
		for o > 0 && (off%(1<<o) != 0 || off+(1<<o) > z.b.Count) {
			o--
		}
		z.free[o].ReplaceOrInsert(z.b.Start + frame.Number(off))
		off += 1 << o
	}
	z.nfree = z.b.Count
	for n := z.b.Start; n < z.b.End(); n++ {
		a.arena.Desc(n).Reset()
	}
}

// Arena returns the frame arena the allocator manages.
func (a *Allocator) Arena() *frame.Arena { return a.arena }

// MaxOrder returns the largest block order.
func (a *Allocator) MaxOrder() uint { return a.maxOrder }

// Banks returns the banks in ascending frame order.
func (a *Allocator) Banks() []*bank.Bank { return slices.Clone(a.banks) }

// BankOf returns the bank containing frame n, or nil.
func (a *Allocator) BankOf(n frame.Number) *bank.Bank {
	i := sort.Search(len(a.banks), func(i int) bool { return a.banks[i].End() > n })
	if i < len(a.banks) && a.banks[i].Contains(n) {
		return a.banks[i]
	}
	return nil
}

// AllocBlock returns the first frame of a free block of 2^order frames, taken
// from a bank of the given kind when possible.
func (a *Allocator) AllocBlock(order uint, kind bank.Kind) (frame.Number, error) {
	if order > a.maxOrder {
		return frame.Nil, fmt.Errorf("%w: %d > %d", ErrBadOrder, order, a.maxOrder)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, z := range a.byKind[kind] {
		if n, ok := a.take(z, order); ok {
			a.notifier.Notify(notify.Event{Kind: notify.PageAlloc, Frame: n, Order: order, Domain: kind})
			return n, nil
		}
	}
	for _, z := range a.byKind[kind.Other()] {
		if n, ok := a.take(z, order); ok {
			a.logger.Debug("block stolen from other bank kind",
				"order", order, "want", kind.String(), "bank", z.b.String())
			a.notifier.Notify(notify.Event{Kind: notify.PageAllocExtFrag, Frame: n, Order: order, Domain: kind})
			return n, nil
		}
	}
	return frame.Nil, fmt.Errorf("%w: order %d for %s", ErrNoMemory, order, kind)
}

// take removes a block of the given order from z. Called with a.mu held.
func (a *Allocator) take(z *zone, order uint) (frame.Number, bool) {
	if order == 0 && len(z.hot) > 0 {
		n := z.hot[len(z.hot)-1]
		z.hot = z.hot[:len(z.hot)-1]
		z.nfree--
		a.checkUnowned(n, 0)
		return n, true
	}

	o := order
	for o <= a.maxOrder && z.free[o].Len() == 0 {
		o++
	}
	if o > a.maxOrder {
		return frame.Nil, false
	}
	n, _ := z.free[o].DeleteMin()
	split := o > order
	for o > order {
		o--
		z.free[o].ReplaceOrInsert(n + frame.Number(1)<<o)
	}
	z.nfree -= 1 << order
	a.checkUnowned(n, order)
	if split {
		a.notifier.Notify(notify.Event{Kind: notify.PageAllocZoneLocked, Frame: n, Order: order, Domain: z.b.Kind})
	}
	return n, true
}

func (a *Allocator) checkUnowned(n frame.Number, order uint) {
	for i := range frame.Number(1) << order {
		if a.arena.Desc(n+i).Tag.Owner() != nil {
			invariant.Failf("buddy", "free frame %v still tagged with an owner", n+i)
		}
	}
}

// FreeBlock returns the block of 2^order frames starting at start. Every
// descriptor in the block is reset.
func (a *Allocator) FreeBlock(start frame.Number, order uint) {
	b := a.BankOf(start)
	if b == nil {
		invariant.Failf("buddy", "free of frame %v outside every bank", start)
	}
	invariant.Check(order <= a.maxOrder, "buddy", "free of order %d > max %d", order, a.maxOrder)
	size := frame.Number(1) << order
	invariant.Check(uint64(start-b.Start)%uint64(size) == 0, "buddy",
		"block %v of order %d misaligned in %v", start, order, b)
	invariant.Check(start+size <= b.End(), "buddy", "block %v of order %d overruns %v", start, order, b)

	for n := start; n < start+size; n++ {
		a.arena.Desc(n).Reset()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	z := a.zones[b]
	if a.overlapsFree(z, start, order) {
		invariant.Failf("buddy", "double free of block %v order %d", start, order)
	}
	z.nfree += uint64(size)

	if order == 0 && a.hotMax > 0 {
		z.hot = append(z.hot, start)
		a.notifier.Notify(notify.Event{Kind: notify.PageFree, Frame: start, Domain: b.Kind})
		if len(z.hot) > a.hotMax {
			batch := z.hot[:len(z.hot)/2]
			for _, n := range batch {
				a.merge(z, n, 0)
			}
			a.notifier.Notify(notify.Event{Kind: notify.PageFreeBatched, Frame: batch[0], Domain: b.Kind})
			z.hot = slices.Delete(z.hot, 0, len(batch))
		}
		return
	}

	a.merge(z, start, order)
	kind := notify.PageFree
	if order > 0 {
		kind = notify.PageFreeBatched
	}
	a.notifier.Notify(notify.Event{Kind: kind, Frame: start, Order: order, Domain: b.Kind})
}

// overlapsFree reports whether any frame of the block is already free: inside a
// free block of the same or a larger order, covering a smaller free block, or
// parked on the hot list. Called with a.mu held.
func (a *Allocator) overlapsFree(z *zone, start frame.Number, order uint) bool {
	end := start + frame.Number(1)<<order
	off := uint64(start - z.b.Start)
	for o := order; o <= a.maxOrder; o++ {
		if z.free[o].Has(z.b.Start + frame.Number(off&^(uint64(1)<<o-1))) {
			return true
		}
	}
	for o := range order {
		found := false
		z.free[o].AscendRange(start, end, func(frame.Number) bool {
			found = true
			return false
		})
		if found {
			return true
		}
	}
	for _, n := range z.hot {
		if n >= start && n < end {
			return true
		}
	}
	return false
}

// merge inserts a free block, coalescing with free buddies. Called with a.mu held.
func (a *Allocator) merge(z *zone, n frame.Number, order uint) {
	for order < a.maxOrder {
		size := uint64(1) << order
		off := uint64(n - z.b.Start)
		buddy := z.b.Start + frame.Number(off^size)
		if uint64(buddy-z.b.Start)+size > z.b.Count {
			break
		}
		if _, ok := z.free[order].Delete(buddy); !ok {
			break
		}
		n = min(n, buddy)
		order++
	}
	z.free[order].ReplaceOrInsert(n)
}

// Drain returns the bank's hot list to its free sets.
func (a *Allocator) Drain(b *bank.Bank) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if z, ok := a.zones[b]; ok {
		a.drain(z)
	}
}

// drain empties z's hot list. Called with a.mu held.
func (a *Allocator) drain(z *zone) {
	if len(z.hot) == 0 {
		return
	}
	first := z.hot[0]
	for _, n := range z.hot {
		a.merge(z, n, 0)
	}
	z.hot = z.hot[:0]
	a.notifier.Notify(notify.Event{Kind: notify.PCPUDrain, Frame: first, Domain: z.b.Kind})
}

// FreeBlocks returns the start frames of the bank's free blocks of the given
// order, ascending. Frames parked on the hot list are not included.
func (a *Allocator) FreeBlocks(b *bank.Bank, order uint) []frame.Number {
	a.mu.Lock()
	defer a.mu.Unlock()

	z, ok := a.zones[b]
	if !ok || order > a.maxOrder {
		return nil
	}
	return ascending(z.free[order])
}

// FreeBlockSnapshot drains the bank's hot list and returns the start frames of
// its free blocks, indexed by order and ascending within each order. All orders
// are read in one critical section, so no block can merge or split between
// them and the blocks are pairwise disjoint.
func (a *Allocator) FreeBlockSnapshot(b *bank.Bank) [][]frame.Number {
	a.mu.Lock()
	defer a.mu.Unlock()

	z, ok := a.zones[b]
	if !ok {
		return nil
	}
	a.drain(z)
	out := make([][]frame.Number, len(z.free))
	for o, set := range z.free {
		out[o] = ascending(set)
	}
	return out
}

func ascending(set *btree.BTreeG[frame.Number]) []frame.Number {
	out := make([]frame.Number, 0, set.Len())
	set.Ascend(func(n frame.Number) bool {
		out = append(out, n)
		return true
	})
	return out
}

// FreeFrames returns how many of the bank's frames are free.
func (a *Allocator) FreeFrames(b *bank.Bank) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if z, ok := a.zones[b]; ok {
		return z.nfree
	}
	return 0
}

// Activate runs the frame-activation hook for a frame being handed out.
func (a *Allocator) Activate(n frame.Number) {
	a.arena.Desc(n).Flags |= frame.FlagActive
}

// Deactivate runs the frame-deactivation hook for a frame being taken back.
func (a *Allocator) Deactivate(n frame.Number) {
	a.arena.Desc(n).Flags &^= frame.FlagActive
}
