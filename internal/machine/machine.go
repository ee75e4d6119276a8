// Package machine assembles a simulated physical memory from configuration:
// the frame arena, its banks, the buddy allocator, advisory event sinks, the
// compaction scanner and the page owners created on top of them.
package machine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/joshuapare/regionkit/internal/config"
	"github.com/joshuapare/regionkit/internal/logging"
	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/buddy"
	"github.com/joshuapare/regionkit/mm/compact"
	"github.com/joshuapare/regionkit/mm/extent"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/notify"
	"github.com/joshuapare/regionkit/mm/owner"
	"github.com/joshuapare/regionkit/mm/region"
	"github.com/joshuapare/regionkit/mm/verify"
)

// Machine is one simulated physical memory and everything allocating from it.
type Machine struct {
	Config   config.Config
	Arena    *frame.Arena
	Banks    []*bank.Bank
	Alloc    *buddy.Allocator
	Scanner  *compact.Scanner
	Control  *compact.Control
	Registry *prometheus.Registry
	Logger   *slog.Logger

	mu     sync.Mutex
	spaces []*owner.AddressSpace
	files  []*owner.FileCache
	closed bool
}

// New builds a machine from cfg. Banks are laid out back to back from frame 0
// in configuration order. A nil logger discards.
func New(cfg config.Config, logger *slog.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	banks := make([]*bank.Bank, 0, len(cfg.Machine.Banks))
	var next frame.Number
	for i, bc := range cfg.Machine.Banks {
		kind, _ := bank.ParseKind(bc.Kind)
		class, _ := bank.ParseClass(bc.Class)
		banks = append(banks, bank.New(i, bc.Name, class, kind, next, bc.Frames))
		next += frame.Number(bc.Frames)
	}

	arena, err := frame.New(0, uint64(next), cfg.Machine.PageSize)
	if err != nil {
		return nil, fmt.Errorf("machine: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	alloc, err := buddy.New(arena, banks, buddy.Options{
		MaxOrder: cfg.Machine.MaxOrder,
		HotCache: cfg.Machine.HotCache,
		Notifier: notify.Multi{notify.Logger{L: logger}, notify.NewMetrics(reg)},
		Logger:   logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("machine: %w", err), arena.Close())
	}

	scanner := compact.New(alloc, compact.Options{Logger: logger, Metrics: compact.NewMetrics(reg)})
	m := &Machine{
		Config:   cfg,
		Arena:    arena,
		Banks:    banks,
		Alloc:    alloc,
		Scanner:  scanner,
		Control:  compact.NewControl(scanner),
		Registry: reg,
		Logger:   logger,
	}
	logger.Info("machine ready",
		"banks", len(banks), "frames", uint64(next), "page_size", cfg.Machine.PageSize,
		"max_order", cfg.Machine.MaxOrder, "region_order", cfg.Machine.RegionOrder)
	return m, nil
}

func (m *Machine) ownerOptions(name string) owner.Options {
	return owner.Options{Name: name, Order: m.Config.Machine.RegionOrder, Logger: m.Logger}
}

// NewAddressSpace creates and tracks an address space.
func (m *Machine) NewAddressSpace(name string) *owner.AddressSpace {
	as := owner.NewAddressSpace(m.Alloc, m.ownerOptions(name))
	m.mu.Lock()
	m.spaces = append(m.spaces, as)
	m.mu.Unlock()
	return as
}

// NewFileCache creates and tracks a file cache.
func (m *Machine) NewFileCache(name string, regular, readOnly bool) *owner.FileCache {
	fc := owner.NewFileCache(m.Alloc, owner.FileOptions{
		Options:  m.ownerOptions(name),
		Regular:  regular,
		ReadOnly: readOnly,
	})
	m.mu.Lock()
	m.files = append(m.files, fc)
	m.mu.Unlock()
	return fc
}

// AddressSpaces returns the tracked address spaces.
func (m *Machine) AddressSpaces() []*owner.AddressSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*owner.AddressSpace(nil), m.spaces...)
}

// FileCaches returns the tracked file caches.
func (m *Machine) FileCaches() []*owner.FileCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*owner.FileCache(nil), m.files...)
}

// Domains returns the region domains of every tracked owner.
func (m *Machine) Domains() []*region.Domain {
	var doms []*region.Domain
	for _, as := range m.AddressSpaces() {
		doms = append(doms, as.Domain())
	}
	for _, fc := range m.FileCaches() {
		if d := fc.Domain(); d != nil {
			doms = append(doms, d)
		}
	}
	return doms
}

// Verify checks every invariant. Owners must be idle while it runs.
func (m *Machine) Verify() error {
	return verify.AllInvariants(m.Arena, m.Banks, m.Domains()...)
}

// BankInfo describes one bank's current state.
type BankInfo struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Class      string          `json:"class"`
	Start      uint64          `json:"start"`
	Frames     uint64          `json:"frames"`
	FreeFrames uint64          `json:"free_frames"`
	Extents    []extent.Extent `json:"extents"`

	// ExtentFrames counts the frames the last compaction pass left unaccounted for.
	ExtentFrames uint64 `json:"extent_frames"`
}

// Snapshot returns the state of every bank.
func (m *Machine) Snapshot() []BankInfo {
	out := make([]BankInfo, 0, len(m.Banks))
	for _, b := range m.Banks {
		b.Lock()
		x := b.Extents()
		extents, pending := x.Extents(), x.Frames()
		b.Unlock()
		out = append(out, BankInfo{
			ID:         b.ID,
			Name:       b.Name,
			Kind:       b.Kind.String(),
			Class:      b.Class.String(),
			Start:      uint64(b.Start),
			Frames:     b.Count,
			FreeFrames: m.Alloc.FreeFrames(b),
			Extents:    extents,

			ExtentFrames: pending,
		})
	}
	return out
}

// Stats sums the region statistics of every domain.
func (m *Machine) Stats() region.Stats {
	var total region.Stats
	for _, d := range m.Domains() {
		s := d.Stats()
		total.RegionsCreated += s.RegionsCreated
		total.RegionsDestroyed += s.RegionsDestroyed
		total.FastPathHits += s.FastPathHits
		total.ScanHits += s.ScanHits
		total.Fallbacks += s.Fallbacks
		total.FramesAllocated += s.FramesAllocated
		total.FramesFreed += s.FramesFreed
		total.FramesReclaimed += s.FramesReclaimed
	}
	return total
}

// Close closes every owner and releases the arena.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	spaces, files := m.spaces, m.files
	m.mu.Unlock()

	for _, as := range spaces {
		as.Close()
	}
	for _, fc := range files {
		fc.Close()
	}
	return m.Arena.Close()
}
