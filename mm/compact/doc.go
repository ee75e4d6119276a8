// Package compact refreshes the free-extent index of memory banks and evicts
// region-owned frames that sit inside the ranges still in use.
//
// A scan of one bank runs under the bank's lock:
//
//  1. The bank's extent index is reset to one extent spanning the bank.
//  2. The allocator's hot list for the bank is drained, then every free block of
//     every order, ascending, is carved out of the extent covering it. What is
//     left are the ranges holding allocated frames.
//  3. Each frame in those ranges that a region currently hands out is unmapped
//     by its owner and returned to its region. Frames whose owner is busy or
//     refuses the unmap stay where they are.
//
// Scans are started only by an explicit request, either Scanner.Run with a
// Config or a write to one of the two Control endpoints:
//
//	ctl := compact.NewControl(scanner)
//	results, err := ctl.WriteVM(compact.MaskNormal | compact.MaskHigh)
package compact
