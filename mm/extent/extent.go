// Package extent tracks believed-free frame ranges for one bank in an ordered
// index keyed by start frame.
package extent

import (
	"fmt"
	"iter"

	"github.com/google/btree"

	"github.com/joshuapare/regionkit/internal/invariant"
	"github.com/joshuapare/regionkit/mm/frame"
)

// degree of the underlying B-tree; extent counts per bank stay small.
const degree = 8

// Extent is the frame range [Start, Start+Count).
type Extent struct {
	Start frame.Number `json:"start"`
	Count uint64       `json:"count"`
}

// End returns one past the last frame of the extent.
func (e Extent) End() frame.Number { return e.Start + frame.Number(e.Count) }

// Contains reports whether [start, start+count) lies entirely inside e.
func (e Extent) Contains(start frame.Number, count uint64) bool {
	return start >= e.Start && start+frame.Number(count) <= e.End()
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d)", e.Start, e.End())
}

func byStart(a, b Extent) bool { return a.Start < b.Start }

// Index is an ordered set of disjoint extents keyed by Start.
type Index struct {
	tree *btree.BTreeG[Extent]
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{tree: btree.NewG(degree, byStart)}
}

// Len returns the number of extents.
func (x *Index) Len() int { return x.tree.Len() }

// Clear removes every extent.
func (x *Index) Clear() { x.tree.Clear(false) }

// Seed replaces the contents of the index with the single extent e.
func (x *Index) Seed(e Extent) {
	x.Clear()
	x.Insert(e)
}

// Insert adds e unless an extent with the same start already exists, in which
// case the existing one is kept and Insert returns false.
func (x *Index) Insert(e Extent) bool {
	invariant.Check(e.Count > 0, "extent", "empty extent at %d", e.Start)
	if x.tree.Has(e) {
		return false
	}
	x.tree.ReplaceOrInsert(e)
	return true
}

// FindCovering returns the extent that contains [start, start+count). Finding
// none, or a range that straddles an extent boundary, means the index and the
// allocator's free lists have diverged and is a violation.
func (x *Index) FindCovering(start frame.Number, count uint64) Extent {
	var (
		found Extent
		ok    bool
	)
	x.tree.DescendLessOrEqual(Extent{Start: start}, func(e Extent) bool {
		found, ok = e, true
		return false
	})
	if !ok || start >= found.End() {
		invariant.Failf("extent", "no extent covers [%d,%d)", start, start+frame.Number(count))
	}
	if !found.Contains(start, count) {
		invariant.Failf("extent", "range [%d,%d) straddles extent %v", start, start+frame.Number(count), found)
	}
	return found
}

// Carve removes [start, start+count) from the extent covering it. A range flush
// with the extent's start advances it, one flush with its end shrinks it, and an
// interior range splits it in two. Removing a whole extent deletes it.
func (x *Index) Carve(start frame.Number, count uint64) {
	invariant.Check(count > 0, "extent", "empty carve at %d", start)
	e := x.FindCovering(start, count)
	end := start + frame.Number(count)

	switch {
	case e.Start == start && e.End() == end:
		x.tree.Delete(e)
	case e.Start == start:
		x.tree.Delete(e)
		x.tree.ReplaceOrInsert(Extent{Start: end, Count: uint64(e.End() - end)})
	case e.End() == end:
		x.tree.ReplaceOrInsert(Extent{Start: e.Start, Count: e.Count - count})
	default:
		x.tree.ReplaceOrInsert(Extent{Start: e.Start, Count: uint64(start - e.Start)})
		x.Insert(Extent{Start: end, Count: uint64(e.End() - end)})
	}
}

// All iterates extents in ascending start order. The index must not be
// modified during iteration.
func (x *Index) All() iter.Seq[Extent] {
	return func(yield func(Extent) bool) {
		x.tree.Ascend(func(e Extent) bool { return yield(e) })
	}
}

// Extents returns a snapshot of the index in ascending order.
func (x *Index) Extents() []Extent {
	out := make([]Extent, 0, x.tree.Len())
	for e := range x.All() {
		out = append(out, e)
	}
	return out
}

// Frames returns the total number of frames covered.
func (x *Index) Frames() uint64 {
	var n uint64
	for e := range x.All() {
		n += e.Count
	}
	return n
}
