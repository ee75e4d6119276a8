// Package frame models physical page frames: frame numbers, the per-frame tag
// that records which region owns a frame, the frame descriptor, and the Arena
// that holds one descriptor (and optionally one page of contents) per frame.
//
// # Tags
//
// Every frame descriptor carries a Tag with two fields: the owning region and a
// flag that is set while the frame sits on that region's free list. A frame's
// owner is set exactly while the frame lies inside some region's block; the
// free-list flag is only ever set while the frame is not handed out.
//
// # Addressing
//
// Frames are addressed by Number. An Arena covers [Base, Base+Len) and indexes
// descriptors by n-Base; regions and extents hold frame numbers and counts, not
// pointers into the arena.
//
// # Thread Safety
//
// The arena does not lock. A descriptor is mutated only by the region that owns
// the frame (under its domain owner's lock or the bank lock during compaction)
// or by the underlying allocator under its own lock while the frame is free.
package frame
