package region

import (
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/regionkit/internal/invariant"
	"github.com/joshuapare/regionkit/mm/frame"
)

// Region is a block of 2^order contiguous frames drawn once from the underlying
// allocator and handed out frame by frame to a single Domain.
//
// Frames [start, start+bump) have been handed out at least once; the ones among
// them that came back sit on a LIFO free list threaded through their
// descriptors. Frames at or past the bump cursor have never been handed out.
//
// The owner's lock guards all mutable state. The bump cursor and the dead flag
// are atomic so that Handed can be asked without it.
type Region struct {
	dom   *Domain
	start frame.Number
	size  uint64
	order uint

	bump      atomic.Uint64
	freeHead  frame.Number
	freeCount uint64

	slot int // index in dom.regions
	dead atomic.Bool
}

// Of returns the region a frame descriptor is tagged with, or nil.
func Of(d *frame.Desc) *Region {
	r, _ := d.Tag.Owner().(*Region)
	return r
}

// Domain returns the owning domain.
func (r *Region) Domain() *Domain { return r.dom }

// Start returns the first frame of the block.
func (r *Region) Start() frame.Number { return r.start }

// Size returns the capacity in frames.
func (r *Region) Size() uint64 { return r.size }

// Order returns log2 of Size.
func (r *Region) Order() uint { return r.order }

// Bump returns the bump cursor: frames below it have been handed out at least once.
func (r *Region) Bump() uint64 { return r.bump.Load() }

// FreeCount returns the number of frames on the free list.
func (r *Region) FreeCount() uint64 { return r.freeCount }

// Dead reports whether the region has been returned to the underlying allocator.
func (r *Region) Dead() bool { return r.dead.Load() }

// Contains reports whether n lies inside the region's block.
func (r *Region) Contains(n frame.Number) bool {
	return n >= r.start && n < r.start+frame.Number(r.size)
}

// IsFull reports whether the region can serve no further frame.
func (r *Region) IsFull() bool { return r.bump.Load() == r.size && r.freeCount == 0 }

// IsEmpty reports whether every frame is on the free list.
func (r *Region) IsEmpty() bool { return r.freeCount == r.size }

// InUse returns the number of frames currently handed out.
func (r *Region) InUse() uint64 { return r.bump.Load() - r.freeCount }

// Handed reports whether frame n is currently handed out by this region. Without
// the owner's lock the answer may already be stale when it returns.
func (r *Region) Handed(n frame.Number) bool {
	if r.dead.Load() || !r.Contains(n) || uint64(n-r.start) >= r.bump.Load() {
		return false
	}
	d := r.dom.arena.Desc(n)
	return d.Tag.Owner() == r && !d.Tag.OnFreeList()
}

func (r *Region) String() string {
	return fmt.Sprintf("region[%d,%d) bump=%d free=%d", r.start, r.start+frame.Number(r.size), r.bump.Load(), r.freeCount)
}

// AllocFrame hands out one frame, preferring the most recently freed one over
// the bump cursor. It returns ErrExhausted when the region is full. When zero is
// set the frame's contents are cleared.
func (r *Region) AllocFrame(zero bool) (frame.Number, error) {
	invariant.Check(!r.dead.Load(), "region", "allocation from destroyed %v", r)

	arena := r.dom.arena
	var n frame.Number
	switch {
	case r.freeCount > 0:
		n = r.freeHead
		d := arena.Desc(n)
		if d.Tag.Owner() != r || !d.Tag.OnFreeList() {
			invariant.Failf("region", "free-list head %v of %v is not parked here", n, r)
		}
		r.freeHead = d.Next()
		d.SetNext(frame.Nil)
		r.freeCount--
	case r.bump.Load() < r.size:
		n = r.start + frame.Number(r.bump.Add(1)-1)
	default:
		return frame.Nil, ErrExhausted
	}

	d := arena.Desc(n)
	d.Tag.Set(r, false)
	d.RefCount = 1
	if r.dom.readOnly {
		d.Flags |= frame.FlagReadOnly
	}
	r.dom.alloc.Activate(n)
	if zero {
		arena.Zero(n)
	}
	r.dom.stats.FramesAllocated++
	return n, nil
}

// FreeFrame takes frame n back. The frame must be handed out by this region with
// no mapping and no references left. When it is the last frame outstanding the
// region is destroyed and FreeFrame reports true.
//
// The caller holds the domain owner's lock.
func (r *Region) FreeFrame(n frame.Number) bool {
	return r.free(n, false)
}

func (r *Region) free(n frame.Number, bankHeld bool) bool {
	invariant.Check(!r.dead.Load(), "region", "free of %v into destroyed %v", n, r)

	d := r.dom.arena.Desc(n)
	switch {
	case d.Tag.Owner() != r:
		invariant.Failf("region", "frame %v is not tagged with %v", n, r)
	case d.Tag.OnFreeList():
		invariant.Failf("region", "frame %v is already on the free list of %v", n, r)
	case uint64(n-r.start) >= r.bump.Load():
		invariant.Failf("region", "frame %v was never handed out by %v", n, r)
	case d.MapCount != 0:
		invariant.Failf("region", "frame %v freed while mapped %d times", n, d.MapCount)
	case d.RefCount != 0:
		invariant.Failf("region", "frame %v freed with %d references", n, d.RefCount)
	case d.Mapping != nil:
		invariant.Failf("region", "frame %v freed while still attached to a mapping", n)
	}

	r.dom.alloc.Deactivate(n)
	d.ResetContent()
	d.SetNext(r.freeHead)
	d.Tag.Set(r, true)
	r.freeHead = n
	r.freeCount++
	r.dom.stats.FramesFreed++

	if r.freeCount == r.size {
		r.destroy(bankHeld)
		return true
	}
	return false
}

// Validate checks the region's counters and walks its free list.
func (r *Region) Validate() error {
	bump := r.bump.Load()
	if bump > r.size {
		return fmt.Errorf("%v: bump cursor beyond size %d", r, r.size)
	}
	if r.freeCount > r.size {
		return fmt.Errorf("%v: free count beyond size %d", r, r.size)
	}
	if r.freeCount > bump {
		return fmt.Errorf("%v: more free frames than were ever handed out", r)
	}
	arena := r.dom.arena
	var walked uint64
	for n := r.freeHead; n != frame.Nil; n = arena.Desc(n).Next() {
		if !r.Contains(n) || uint64(n-r.start) >= bump {
			return fmt.Errorf("%v: free list holds foreign frame %v", r, n)
		}
		d := arena.Desc(n)
		if d.Tag.Owner() != r || !d.Tag.OnFreeList() {
			return fmt.Errorf("%v: free list frame %v has a stale tag", r, n)
		}
		walked++
		if walked > r.freeCount {
			break
		}
	}
	if walked != r.freeCount {
		return fmt.Errorf("%v: free list length %d disagrees with free count %d", r, walked, r.freeCount)
	}
	return nil
}

// destroy returns the whole block to the underlying allocator and unlinks the
// region from its domain.
func (r *Region) destroy(bankHeld bool) {
	invariant.Check(!r.dead.Load(), "region", "%v destroyed twice", r)
	if err := r.Validate(); err != nil {
		invariant.Failf("region", "consistency check before release: %v", err)
	}

	dom := r.dom
	if !bankHeld {
		b := dom.alloc.BankOf(r.start)
		invariant.Check(b != nil, "region", "%v lies outside every bank", r)
		b.Lock()
		defer b.Unlock()
	}

	for i := range frame.Number(r.size) {
		dom.arena.Desc(r.start + i).Reset()
	}
	dom.alloc.FreeBlock(r.start, r.order)
	dom.unlink(r)
	r.dead.Store(true)
	r.freeHead = frame.Nil
	r.freeCount = 0

	dom.stats.RegionsDestroyed++
	dom.logger.Debug("region released",
		"domain", dom.name, "start", uint64(r.start), "order", r.order, "regions", len(dom.regions))
}
