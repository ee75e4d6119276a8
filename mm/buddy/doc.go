// Package buddy is the block-granular page-frame allocator that the region
// allocator sits in front of.
//
// # Overview
//
// Each bank keeps one ordered free set per block order. A block of order k is
// 2^k frames, naturally aligned relative to the bank's first frame. Allocation
// takes the lowest-addressed block of the smallest sufficient order and splits
// it down; freeing merges a block with its buddy for as long as the buddy is
// free.
//
// # Kinds and Stealing
//
// Banks serve either address spaces (bank.KindVM) or file caches
// (bank.KindFile). A request is served from banks of its own kind, normal class
// before high; when none can serve, it is taken from the other kind and a
// PageAllocExtFrag event is emitted.
//
// # Hot List
//
// Order-0 frees are parked on a small per-bank hot list and handed back first
// by order-0 allocations. When the list passes its high watermark half of it is
// returned to the free sets in one batch. Drain empties it; the compaction
// scanner drains a bank before reading its free sets.
//
// # Thread Safety
//
// All methods are safe for concurrent use; one mutex (the zone lock) guards
// every bank's free sets. Notifications are delivered with it held.
package buddy
