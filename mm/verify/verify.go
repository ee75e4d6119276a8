// Package verify provides validation functions for region allocator state.
// These helpers are used in tests and by the CLI to check invariants without
// tripping the fatal checks built into the allocator itself.
package verify

import (
	"fmt"
	"slices"

	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/region"
)

// ValidationError describes the first invariant found broken.
type ValidationError struct {
	Type    string
	Message string
	Frame   frame.Number // frame.Nil if N/A
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	if e.Frame != frame.Nil {
		return fmt.Sprintf("%s at frame %d: %s", e.Type, e.Frame, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// AllInvariants validates the extents of every bank, every domain and the tags
// of the whole arena. Returns the first error encountered, or nil if all checks
// pass. The caller must keep the state quiescent while it runs.
func AllInvariants(arena *frame.Arena, banks []*bank.Bank, doms ...*region.Domain) error {
	for _, b := range banks {
		if err := Extents(b); err != nil {
			return err
		}
	}
	for _, dom := range doms {
		if err := Domain(dom); err != nil {
			return err
		}
	}
	return Tags(arena)
}

// Domain validates a domain's region list, its cache and every region in it.
func Domain(dom *region.Domain) error {
	regions := dom.Regions()
	if c := dom.Cached(); c != nil && !slices.Contains(regions, c) {
		return &ValidationError{
			Type:    "Domain",
			Message: fmt.Sprintf("%q caches %v which it does not list", dom.Name(), c),
			Frame:   c.Start(),
		}
	}
	for _, r := range regions {
		if r.Dead() {
			return &ValidationError{
				Type:    "Domain",
				Message: fmt.Sprintf("%q lists released %v", dom.Name(), r),
				Frame:   r.Start(),
			}
		}
		if r.IsEmpty() {
			return &ValidationError{
				Type:    "Domain",
				Message: fmt.Sprintf("%q lists empty %v", dom.Name(), r),
				Frame:   r.Start(),
			}
		}
		if r.Domain() != dom {
			return &ValidationError{
				Type:    "Domain",
				Message: fmt.Sprintf("%q lists %v of domain %q", dom.Name(), r, r.Domain().Name()),
				Frame:   r.Start(),
			}
		}
		if err := Region(r); err != nil {
			return err
		}
	}
	return nil
}

// Region validates a region's counters, its free list and the tags of its block.
func Region(r *region.Region) error {
	if err := r.Validate(); err != nil {
		return &ValidationError{
			Type:    "Region",
			Message: err.Error(),
			Frame:   r.Start(),
			Details: map[string]interface{}{
				"size":       r.Size(),
				"bump":       r.Bump(),
				"free_count": r.FreeCount(),
			},
		}
	}

	arena := r.Domain().Arena()
	var onList uint64
	for i := range frame.Number(r.Size()) {
		n := r.Start() + i
		d := arena.Desc(n)
		if region.Of(d) != r {
			return &ValidationError{Type: "Region", Message: fmt.Sprintf("frame of %v not tagged with it", r), Frame: n}
		}
		if !d.Tag.OnFreeList() {
			continue
		}
		if uint64(i) >= r.Bump() {
			return &ValidationError{
				Type:    "Region",
				Message: fmt.Sprintf("frame past the bump cursor of %v is marked free", r),
				Frame:   n,
			}
		}
		onList++
	}
	if onList != r.FreeCount() {
		return &ValidationError{
			Type:    "Region",
			Message: fmt.Sprintf("%d frames marked free, free count %d", onList, r.FreeCount()),
			Frame:   r.Start(),
		}
	}
	return nil
}

// Extents validates a bank's extent index: ordered, disjoint, non-empty and
// inside the bank. It takes the bank lock.
func Extents(b *bank.Bank) error {
	b.Lock()
	defer b.Unlock()

	prev := b.Start
	for i, e := range b.Extents().Extents() {
		switch {
		case e.Count == 0:
			return &ValidationError{Type: "Extents", Message: fmt.Sprintf("%v: empty extent", b), Frame: e.Start}
		case e.Start < b.Start || e.End() > b.End():
			return &ValidationError{
				Type:    "Extents",
				Message: fmt.Sprintf("%v: extent %v outside the bank", b, e),
				Frame:   e.Start,
			}
		case i > 0 && e.Start < prev:
			return &ValidationError{
				Type:    "Extents",
				Message: fmt.Sprintf("%v: extent %v overlaps its predecessor", b, e),
				Frame:   e.Start,
				Details: map[string]interface{}{"previous_end": prev},
			}
		}
		prev = e.End()
	}
	return nil
}

// Tags validates every frame tag in the arena: a tagged frame belongs to a live
// region whose block contains it, and only tagged frames are marked free.
func Tags(arena *frame.Arena) error {
	for n := arena.Base(); n < arena.End(); n++ {
		d := arena.Desc(n)
		r := region.Of(d)
		switch {
		case r == nil && d.Tag.Owner() != nil:
			return &ValidationError{Type: "Tags", Message: fmt.Sprintf("tagged with %T", d.Tag.Owner()), Frame: n}
		case r == nil && d.Tag.OnFreeList():
			return &ValidationError{Type: "Tags", Message: "marked free without an owner", Frame: n}
		case r == nil:
		case r.Dead():
			return &ValidationError{Type: "Tags", Message: fmt.Sprintf("tagged with released %v", r), Frame: n}
		case !r.Contains(n):
			return &ValidationError{Type: "Tags", Message: fmt.Sprintf("tagged with %v which does not contain it", r), Frame: n}
		}
	}
	return nil
}
