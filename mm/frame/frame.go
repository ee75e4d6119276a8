package frame

import (
	"math"
	"strconv"
	"sync/atomic"

	"github.com/joshuapare/regionkit/internal/invariant"
)

// Number identifies one physical frame.
type Number uint64

// Nil is the end-of-list marker for free lists threaded through descriptors.
const Nil Number = math.MaxUint64

func (n Number) String() string {
	if n == Nil {
		return "nil"
	}
	return "#" + strconv.FormatUint(uint64(n), 10)
}

// Owner is implemented by whatever groups frames into blocks (a region).
type Owner interface {
	Contains(n Number) bool
}

// Tag records a frame's owning region and whether it is on that region's free
// list. Both fields are atomic: the owner changes only under the lock of the
// frame's bank, so a compaction pass holding that lock may read the tag of a
// frame whose owner is concurrently handing it out or taking it back.
type Tag struct {
	owner      atomic.Pointer[ownerRef]
	onFreeList atomic.Bool
}

type ownerRef struct{ o Owner }

// Owner returns the owning region, or nil.
func (t *Tag) Owner() Owner {
	if ref := t.owner.Load(); ref != nil {
		return ref.o
	}
	return nil
}

// OnFreeList reports whether the frame is parked on its owner's free list.
func (t *Tag) OnFreeList() bool { return t.onFreeList.Load() }

// Set points the tag at owner. A frame cannot be on a free list without an owner.
func (t *Tag) Set(owner Owner, onFreeList bool) {
	invariant.Check(owner != nil || !onFreeList, "frame", "free-list flag set without an owner")
	if t.Owner() != owner {
		if owner == nil {
			t.owner.Store(nil)
		} else {
			t.owner.Store(&ownerRef{owner})
		}
	}
	t.onFreeList.Store(onFreeList)
}

// Clear drops the owner and the free-list flag.
func (t *Tag) Clear() {
	t.owner.Store(nil)
	t.onFreeList.Store(false)
}

// Flags are per-frame state bits outside the tag.
type Flags uint8

const (
	// FlagActive is set while the platform considers the frame mapped for use.
	FlagActive Flags = 1 << iota
	// FlagReadOnly marks frames handed to read-only file caches.
	FlagReadOnly
)

// Desc is the descriptor of one frame.
type Desc struct {
	Tag Tag

	// MapCount counts owner mappings; RefCount counts outstanding references.
	// Both must be zero, and Mapping nil, before a region takes the frame back.
	MapCount int32
	RefCount int32

	// Mapping is the owner object (address space or file cache) the frame is
	// mapped into, and Index its page offset there.
	Mapping any
	Index   uint64

	Flags Flags

	next Number // free-list link, meaningful only while Tag.OnFreeList()
}

// Next returns the free-list successor.
func (d *Desc) Next() Number { return d.next }

// SetNext links the descriptor into a free list.
func (d *Desc) SetNext(n Number) { d.next = n }

// ResetContent clears per-use metadata: mapping, index, flags and the link.
func (d *Desc) ResetContent() {
	d.Mapping = nil
	d.Index = 0
	d.Flags = 0
	d.next = Nil
}

// Reset returns the descriptor to the state of a frame on the allocator's free lists.
func (d *Desc) Reset() {
	d.Tag.Clear()
	d.MapCount = 0
	d.RefCount = 0
	d.ResetContent()
}
