// Package bank defines Bank, a scannable partition of physical memory, together
// with the memory Class and owner Kind enums that select banks for allocation
// and compaction.
package bank

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joshuapare/regionkit/mm/extent"
	"github.com/joshuapare/regionkit/mm/frame"
)

// Class is the physical memory class of a bank.
type Class uint8

const (
	// ClassNormal memory is directly addressable.
	ClassNormal Class = iota
	// ClassHigh memory is mapped on demand.
	ClassHigh
)

// Mask returns the compaction bitmask bit selecting this class.
func (c Class) Mask() uint { return 1 << uint(c) }

func (c Class) String() string {
	switch c {
	case ClassNormal:
		return "normal"
	case ClassHigh:
		return "high"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// ParseClass parses "normal" or "high".
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(s) {
	case "normal":
		return ClassNormal, nil
	case "high":
		return ClassHigh, nil
	}
	return 0, fmt.Errorf("bank: unknown memory class %q", s)
}

// Kind says which owners a bank serves: address spaces or file caches.
type Kind uint8

const (
	// KindVM banks serve address spaces.
	KindVM Kind = iota
	// KindFile banks serve file caches.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindVM:
		return "vm"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Other returns the opposite kind, used when an allocation has to steal.
func (k Kind) Other() Kind {
	if k == KindVM {
		return KindFile
	}
	return KindVM
}

// ParseKind parses "vm" or "file".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "vm":
		return KindVM, nil
	case "file":
		return KindFile, nil
	}
	return 0, fmt.Errorf("bank: unknown bank kind %q", s)
}

// Bank is one partition of physical memory. Its lock serializes compaction
// against region creation and destruction on frames in its range.
type Bank struct {
	ID    int
	Name  string
	Class Class
	Kind  Kind
	Start frame.Number
	Count uint64

	mu      sync.Mutex
	extents *extent.Index
}

// New creates a bank over [start, start+count).
func New(id int, name string, class Class, kind Kind, start frame.Number, count uint64) *Bank {
	return &Bank{ID: id, Name: name, Class: class, Kind: kind, Start: start, Count: count}
}

// End returns one past the bank's last frame.
func (b *Bank) End() frame.Number { return b.Start + frame.Number(b.Count) }

// Contains reports whether frame n is inside the bank.
func (b *Bank) Contains(n frame.Number) bool { return n >= b.Start && n < b.End() }

// Lock takes the bank lock. Callers already holding an owner's lock may take
// it; holders of the bank lock must not wait on an owner's lock.
func (b *Bank) Lock() { b.mu.Lock() }

// Unlock releases the bank lock.
func (b *Bank) Unlock() { b.mu.Unlock() }

// TryLock takes the bank lock if it is free and reports whether it did.
func (b *Bank) TryLock() bool { return b.mu.TryLock() }

// Extents returns the bank's extent index, creating it on first use. The caller
// must hold the bank lock.
func (b *Bank) Extents() *extent.Index {
	if b.extents == nil {
		b.extents = extent.NewIndex()
	}
	return b.extents
}

// Reseed resets the extent index to one extent spanning the whole bank. The
// caller must hold the bank lock.
func (b *Bank) Reseed() {
	b.Extents().Seed(extent.Extent{Start: b.Start, Count: b.Count})
}

func (b *Bank) String() string {
	name := b.Name
	if name == "" {
		name = fmt.Sprintf("bank%d", b.ID)
	}
	return fmt.Sprintf("%s(%s/%s [%d,%d))", name, b.Kind, b.Class, b.Start, b.End())
}
