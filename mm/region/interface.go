package region

import (
	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/frame"
)

// BlockAllocator is the underlying page-frame allocator regions are carved from.
// *buddy.Allocator implements it.
type BlockAllocator interface {
	// AllocBlock returns the first frame of 2^order free frames, preferring banks of kind.
	AllocBlock(order uint, kind bank.Kind) (frame.Number, error)
	// FreeBlock returns a block obtained from AllocBlock.
	FreeBlock(start frame.Number, order uint)
	// BankOf returns the bank holding frame n.
	BankOf(n frame.Number) *bank.Bank
	// Arena returns the frame descriptors.
	Arena() *frame.Arena
	// Activate and Deactivate are the platform frame-preparation hooks run when a
	// frame is handed out and taken back.
	Activate(n frame.Number)
	Deactivate(n frame.Number)
}

// Owner is the address space or file cache a Domain belongs to. Its lock is the
// lock that already protects the owner; the Domain relies on it instead of
// having one of its own.
type Owner interface {
	Lock()
	Unlock()
	TryLock() bool

	// Unmap drops the owner's mapping of frame n and the reference it holds, so
	// the frame can be taken back. It is called with the owner locked and fails
	// for frames that cannot be released (pinned).
	Unmap(n frame.Number) error
}
