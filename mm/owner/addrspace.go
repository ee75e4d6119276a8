package owner

import (
	"sync"

	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/region"
)

// AddressSpace owns the private anonymous pages of one process. Pages are
// zero-filled and count as mapped while resident.
type AddressSpace struct {
	mu   sync.Mutex
	name string
	p    pager
}

var _ region.Owner = (*AddressSpace)(nil)

// NewAddressSpace returns an empty address space drawing pages from alloc.
func NewAddressSpace(alloc region.BlockAllocator, opts Options) *AddressSpace {
	as := &AddressSpace{name: opts.Name, p: newPager(alloc, bank.KindVM, opts.Logger)}
	as.p.zero = true
	as.p.mapped = true
	as.p.mapping = as
	as.p.dom = region.NewDomain(alloc, as, domainOptions(opts, bank.KindVM, false, as.p.logger))
	return as
}

// Name returns the address space name.
func (as *AddressSpace) Name() string { return as.name }

// Domain returns the region domain backing the address space.
func (as *AddressSpace) Domain() *region.Domain { return as.p.dom }

func (as *AddressSpace) Lock()         { as.mu.Lock() }
func (as *AddressSpace) Unlock()       { as.mu.Unlock() }
func (as *AddressSpace) TryLock() bool { return as.mu.TryLock() }

// Fault makes virtual page vpn resident and returns its frame.
func (as *AddressSpace) Fault(vpn uint64) (frame.Number, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.p.get(vpn)
}

// Release unmaps vpn and frees its frame.
func (as *AddressSpace) Release(vpn uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.p.put(vpn)
}

// Pin keeps vpn resident until a matching Unpin.
func (as *AddressSpace) Pin(vpn uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.p.pin(vpn)
}

// Unpin undoes one Pin.
func (as *AddressSpace) Unpin(vpn uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.p.unpin(vpn)
}

// Lookup returns the frame backing vpn.
func (as *AddressSpace) Lookup(vpn uint64) (frame.Number, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.p.lookup(vpn)
}

// Stats returns page counts.
func (as *AddressSpace) Stats() Stats {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.p.stats()
}

// Unmap drops the mapping of frame n for compaction. The caller holds the lock.
func (as *AddressSpace) Unmap(n frame.Number) error {
	return as.p.unmap(n)
}

// Close releases every page and the domain's regions.
func (as *AddressSpace) Close() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.p.close()
}
