package compact

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/extent"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/region"
)

// Source is the underlying allocator as seen by the scanner. *buddy.Allocator
// implements it.
type Source interface {
	Banks() []*bank.Bank
	Arena() *frame.Arena
	// FreeBlockSnapshot returns the start frames of the bank's free blocks,
	// indexed by order, after moving frames parked outside the per-order free
	// sets back into them. The snapshot must be taken atomically: frees that
	// race with the scan must not merge blocks across orders within it.
	FreeBlockSnapshot(b *bank.Bank) [][]frame.Number
}

// Options configures a Scanner.
type Options struct {
	Logger  *slog.Logger // nil discards
	Metrics *Metrics     // nil disables
}

// Result summarizes one pass over one bank.
type Result struct {
	Bank            string          `json:"bank"`
	Kind            string          `json:"kind"`
	Class           string          `json:"class"`
	FreeBlocks      int             `json:"free_blocks"`
	Extents         []extent.Extent `json:"extents"`
	Scanned         int             `json:"scanned"`
	Evicted         int             `json:"evicted"`
	SkippedBusy     int             `json:"skipped_busy"`
	SkippedUnmap    int             `json:"skipped_unmap"`
	RegionsReleased int             `json:"regions_released"`
	Duration        time.Duration   `json:"duration_ns"`
}

// Skipped returns the number of frames left in place.
func (r Result) Skipped() int { return r.SkippedBusy + r.SkippedUnmap }

// Scanner runs compaction passes over the banks of one allocator.
type Scanner struct {
	mu      sync.Mutex // one Run at a time
	src     Source
	logger  *slog.Logger
	metrics *Metrics
}

// New returns a scanner over src.
func New(src Source, opts Options) *Scanner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scanner{src: src, logger: logger, metrics: opts.Metrics}
}

// Run scans every bank selected by cfg: for each kind, bit 0 of its mask selects
// the normal-class banks and bit 1 the high-class ones. Banks are visited in
// ascending frame order. Run returns when every pass has completed.
func (s *Scanner) Run(cfg Config) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []Result
	for _, kind := range []bank.Kind{bank.KindVM, bank.KindFile} {
		mask := cfg.mask(kind)
		if mask == 0 {
			continue
		}
		for _, b := range s.src.Banks() {
			if b.Kind == kind && mask&b.Class.Mask() != 0 {
				results = append(results, s.Scan(b))
			}
		}
	}
	return results, nil
}

// Scan runs one pass over b: it rebuilds the bank's extent index from the
// allocator's free blocks, then evicts region frames from the extents that
// remain.
func (s *Scanner) Scan(b *bank.Bank) Result {
	began := time.Now()
	res := Result{Bank: b.String(), Kind: b.Kind.String(), Class: b.Class.String()}

	b.Lock()
	defer b.Unlock()

	idx := b.Extents()
	b.Reseed()
	for o, blocks := range s.src.FreeBlockSnapshot(b) {
		for _, n := range blocks {
			idx.Carve(n, uint64(1)<<o)
			res.FreeBlocks++
		}
	}
	res.Extents = idx.Extents()

	// Tag owners only change under the bank lock. Region state read here is a
	// hint until evict holds the owner's lock.
	arena := s.src.Arena()
	for _, e := range res.Extents {
		for n := e.Start; n < e.End(); n++ {
			r := region.Of(arena.Desc(n))
			if r == nil || !r.Handed(n) {
				continue
			}
			res.Scanned++
			s.evict(b, r, n, &res)
		}
	}

	res.Duration = time.Since(began)
	s.metrics.observe(res)
	s.logger.Info("compaction pass",
		"bank", res.Bank,
		"free_blocks", res.FreeBlocks,
		"extents", len(res.Extents),
		"evicted", res.Evicted,
		"skipped", res.Skipped(),
		"regions_released", res.RegionsReleased,
		"duration", res.Duration)
	return res
}

// evict reclaims frame n from region r. Called with the bank lock held; the
// owner lock is only tried, so an owner blocked on this bank cannot deadlock
// the pass.
func (s *Scanner) evict(b *bank.Bank, r *region.Region, n frame.Number, res *Result) {
	dom := r.Domain()
	owner := dom.Owner()
	if !owner.TryLock() {
		res.SkippedBusy++
		s.logger.Debug("eviction skipped, owner busy", "bank", res.Bank, "frame", uint64(n), "domain", dom.Name())
		return
	}
	defer owner.Unlock()

	if !r.Handed(n) {
		return
	}
	if err := owner.Unmap(n); err != nil {
		res.SkippedUnmap++
		s.logger.Warn("eviction skipped", "bank", res.Bank, "frame", uint64(n), "domain", dom.Name(), "error", err)
		return
	}
	if dom.Reclaim(n) {
		res.RegionsReleased++
	}
	res.Evicted++
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %d free blocks, %d extents, %d evicted, %d skipped, %d regions released",
		r.Bank, r.FreeBlocks, len(r.Extents), r.Evicted, r.Skipped(), r.RegionsReleased)
}
