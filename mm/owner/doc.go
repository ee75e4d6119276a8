// Package owner provides the two page owners that sit in front of the region
// allocator: an AddressSpace for private anonymous memory and a FileCache for
// one file's page cache.
//
// Each owner holds a lock, a page table keyed by virtual page (or file page
// offset) and a region.Domain. Pages come from the domain; when it asks for a
// fallback the owner takes an order-0 block straight from the underlying
// allocator. Both owners implement region.Owner, so the compaction scanner can
// ask them to give up a frame:
//
//	as := owner.NewAddressSpace(alloc, owner.Options{Name: "pid-42"})
//	n, err := as.Fault(0x1000)
//	...
//	err = as.Release(0x1000)
//
// Address spaces zero every page they hand out. File caches zero pages unless
// opened read-only, and caches of non-regular files skip the region allocator
// altogether.
package owner
