// Package region implements the page-grouping allocator: Domains (one per
// address space or file cache) draw fixed-size Regions of contiguous frames from
// the underlying allocator and hand them out one frame at a time.
//
// # Overview
//
// Clustering one owner's pages into a few contiguous blocks keeps unrelated
// allocation sources from interleaving in physical memory. A Region serves
// frames from its free list first (most recently freed first), then from its
// bump cursor. A Region is destroyed, and its whole block returned in one call,
// at the moment every frame of it sits on its free list.
//
// # Usage Example
//
//	dom := region.NewDomain(alloc, as, region.Options{Kind: bank.KindVM, Order: 4})
//
//	n, err := dom.AllocatePage(true)
//	if errors.Is(err, region.ErrFallback) {
//	    n, err = alloc.AllocBlock(0, bank.KindVM)
//	}
//
//	// later, once the owner has dropped its mapping and reference
//	dom.FreePage(n)
//
// # Fallback
//
// AllocatePage never fails hard. When no region can serve and the underlying
// allocator cannot supply a new block, it returns ErrFallback and the owner
// requests an order-0 page directly. Such pages carry no region tag.
//
// # Failures
//
// Contract breaches (freeing a frame that is still mapped or referenced, freeing
// through the wrong region, a free list that disagrees with its count) panic
// with an *invariant.Violation.
//
// # Thread Safety
//
// A Domain has no lock of its own. AllocatePage and FreePage must be called with
// the owner's lock held. Region creation and destruction additionally take the
// lock of the bank holding the block. The compaction path (Reclaim) runs with
// the bank lock already held and the owner lock acquired by the scanner.
package region
