package compact

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/regionkit/mm/bank"
	"github.com/joshuapare/regionkit/mm/buddy"
	"github.com/joshuapare/regionkit/mm/extent"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/owner"
	"github.com/joshuapare/regionkit/mm/region"
)

var errPinned = errors.New("pinned")

// pageOwner maps every frame it gets and refuses to unmap pinned ones.
type pageOwner struct {
	sync.Mutex
	arena  *frame.Arena
	pinned map[frame.Number]bool
}

func newPageOwner(arena *frame.Arena) *pageOwner {
	return &pageOwner{arena: arena, pinned: map[frame.Number]bool{}}
}

func (o *pageOwner) Unmap(n frame.Number) error {
	if o.pinned[n] {
		return errPinned
	}
	o.unmap(n)
	return nil
}

func (o *pageOwner) mapPage(n frame.Number) {
	d := o.arena.Desc(n)
	d.MapCount = 1
	d.Mapping = o
}

func (o *pageOwner) unmap(n frame.Number) {
	d := o.arena.Desc(n)
	d.MapCount = 0
	d.Mapping = nil
	d.RefCount = 0
}

func newAllocator(t *testing.T, maxOrder uint, banks ...*bank.Bank) *buddy.Allocator {
	t.Helper()
	var end frame.Number
	for _, b := range banks {
		end = max(end, b.End())
	}
	arena, err := frame.New(0, uint64(end), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })
	a, err := buddy.New(arena, banks, buddy.Options{MaxOrder: maxOrder, HotCache: 4})
	require.NoError(t, err)
	return a
}

func newDomain(a *buddy.Allocator, o *pageOwner, kind bank.Kind) *region.Domain {
	return region.NewDomain(a, o, region.Options{Name: "test", Kind: kind, Order: 4})
}

// fault allocates and maps count pages.
func fault(t *testing.T, dom *region.Domain, o *pageOwner, count int) []frame.Number {
	t.Helper()
	out := make([]frame.Number, 0, count)
	for range count {
		n, err := dom.AllocatePage(false)
		require.NoError(t, err)
		o.mapPage(n)
		out = append(out, n)
	}
	return out
}

func release(dom *region.Domain, o *pageOwner, n frame.Number) {
	o.unmap(n)
	dom.FreePage(n)
}

func requireDisjoint(t *testing.T, b *bank.Bank, extents []extent.Extent) {
	t.Helper()
	for i, e := range extents {
		require.Positive(t, e.Count)
		require.True(t, b.Contains(e.Start) && e.End() <= b.End(), "%v outside %v", e, b)
		if i > 0 {
			require.LessOrEqual(t, extents[i-1].End(), e.Start, "%v overlaps %v", extents[i-1], e)
		}
	}
}

// fakeSource reports a fixed set of free blocks.
type fakeSource struct {
	arena     *frame.Arena
	banks     []*bank.Bank
	free      map[uint][]frame.Number
	snapshots int
}

func (f *fakeSource) Banks() []*bank.Bank { return f.banks }
func (f *fakeSource) Arena() *frame.Arena { return f.arena }
func (f *fakeSource) FreeBlockSnapshot(*bank.Bank) [][]frame.Number {
	f.snapshots++
	out := make([][]frame.Number, 11)
	for o, blocks := range f.free {
		out[o] = blocks
	}
	return out
}

func newFakeSource(t *testing.T, free map[uint][]frame.Number) (*fakeSource, *bank.Bank) {
	t.Helper()
	arena, err := frame.New(0, 1024, 0)
	require.NoError(t, err)
	b := bank.New(0, "b", bank.ClassNormal, bank.KindVM, 0, 1024)
	return &fakeSource{arena: arena, banks: []*bank.Bank{b}, free: free}, b
}

// TestScan_InteriorBlockSplitsExtent tests the refresh of a fresh bank around one interior free block.
func TestScan_InteriorBlockSplitsExtent(t *testing.T) {
	src, b := newFakeSource(t, map[uint][]frame.Number{4: {100}})
	res := New(src, Options{}).Scan(b)

	want := []extent.Extent{{Start: 0, Count: 100}, {Start: 116, Count: 908}}
	if diff := cmp.Diff(want, res.Extents); diff != "" {
		t.Fatalf("extents mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, res.FreeBlocks)
	assert.Equal(t, 1, src.snapshots)
	b.Lock()
	assert.Equal(t, want, b.Extents().Extents(), "index kept on the bank")
	b.Unlock()
}

// TestScan_FlushBlocks tests refresh with blocks flush against extent boundaries.
func TestScan_FlushBlocks(t *testing.T) {
	src, b := newFakeSource(t, map[uint][]frame.Number{
		0: {0, 1023},
		2: {1, 1016},
		3: {8, 512},
	})
	res := New(src, Options{}).Scan(b)

	want := []extent.Extent{
		{Start: 5, Count: 3},
		{Start: 16, Count: 496},
		{Start: 520, Count: 496},
		{Start: 1020, Count: 3},
	}
	if diff := cmp.Diff(want, res.Extents); diff != "" {
		t.Fatalf("extents mismatch (-want +got):\n%s", diff)
	}
}

// TestScan_AllFree tests that a completely free bank leaves no extents.
func TestScan_AllFree(t *testing.T) {
	src, b := newFakeSource(t, map[uint][]frame.Number{10: {0}})
	res := New(src, Options{}).Scan(b)
	assert.Empty(t, res.Extents)
	assert.Zero(t, res.Scanned)
}

// TestScan_EvictionReleasesRegion tests that evicting the last handed-out frame
// of a region returns its block.
func TestScan_EvictionReleasesRegion(t *testing.T) {
	vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 64)
	a := newAllocator(t, 6, vm)
	o := newPageOwner(a.Arena())
	dom := newDomain(a, o, bank.KindVM)

	frames := fault(t, dom, o, 16)
	for i, n := range frames {
		if i != 5 {
			release(dom, o, n)
		}
	}
	r := dom.Regions()[0]
	require.Equal(t, r.Size()-1, r.FreeCount())

	res := New(a, Options{}).Scan(vm)
	assert.Equal(t, []extent.Extent{{Start: 0, Count: 16}}, res.Extents)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 1, res.RegionsReleased)
	assert.True(t, r.Dead())
	assert.Zero(t, dom.RegionCount())
	assert.Equal(t, uint64(64), a.FreeFrames(vm))
	assert.Equal(t, []frame.Number{0}, a.FreeBlocks(vm, 6))
	assert.Equal(t, 1, dom.Stats().FramesReclaimed)
}

// TestScan_PartialEviction tests eviction from a region that stays alive.
func TestScan_PartialEviction(t *testing.T) {
	vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 64)
	a := newAllocator(t, 6, vm)
	o := newPageOwner(a.Arena())
	dom := newDomain(a, o, bank.KindVM)

	frames := fault(t, dom, o, 4)
	res := New(a, Options{}).Scan(vm)
	assert.Equal(t, 4, res.Evicted)
	assert.Zero(t, res.RegionsReleased, "never-bumped frames keep the region alive")
	require.Equal(t, 1, dom.RegionCount())
	for _, n := range frames {
		assert.True(t, a.Arena().Desc(n).Tag.OnFreeList())
	}
	require.NoError(t, dom.Validate())
}

// TestScan_SkipsPinnedAndBusy tests that refused or contended evictions leave frames alone.
func TestScan_SkipsPinnedAndBusy(t *testing.T) {
	t.Run("pinned", func(t *testing.T) {
		vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 64)
		a := newAllocator(t, 6, vm)
		o := newPageOwner(a.Arena())
		dom := newDomain(a, o, bank.KindVM)

		frames := fault(t, dom, o, 2)
		o.pinned[frames[1]] = true
		res := New(a, Options{}).Scan(vm)
		assert.Equal(t, 2, res.Scanned)
		assert.Equal(t, 1, res.Evicted)
		assert.Equal(t, 1, res.SkippedUnmap)
		assert.True(t, dom.Regions()[0].Handed(frames[1]))
	})
	t.Run("busy owner", func(t *testing.T) {
		vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 64)
		a := newAllocator(t, 6, vm)
		o := newPageOwner(a.Arena())
		dom := newDomain(a, o, bank.KindVM)

		frames := fault(t, dom, o, 3)
		o.Lock()
		res := New(a, Options{}).Scan(vm)
		o.Unlock()
		assert.Equal(t, 3, res.SkippedBusy)
		assert.Zero(t, res.Evicted)
		for _, n := range frames {
			assert.True(t, dom.Regions()[0].Handed(n))
		}
	})
}

// TestScan_IgnoresUntaggedFrames tests that blocks outside any region are not evicted.
func TestScan_IgnoresUntaggedFrames(t *testing.T) {
	vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 64)
	a := newAllocator(t, 6, vm)
	n, err := a.AllocBlock(3, bank.KindVM)
	require.NoError(t, err)

	res := New(a, Options{}).Scan(vm)
	assert.Equal(t, []extent.Extent{{Start: n, Count: 8}}, res.Extents)
	assert.Zero(t, res.Scanned)
}

// TestScan_RepeatedPassesAgree tests that back-to-back passes over an unchanged
// bank produce the same disjoint extents.
func TestScan_RepeatedPassesAgree(t *testing.T) {
	vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 1024)
	a := newAllocator(t, 10, vm)
	rng := rand.New(rand.NewSource(3))

	var doms []*region.Domain
	var owners []*pageOwner
	for range 4 {
		o := newPageOwner(a.Arena())
		owners = append(owners, o)
		doms = append(doms, newDomain(a, o, bank.KindVM))
	}
	live := make([][]frame.Number, len(doms))
	for range 600 {
		i := rng.Intn(len(doms))
		if len(live[i]) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live[i]))
			release(doms[i], owners[i], live[i][j])
			live[i] = append(live[i][:j], live[i][j+1:]...)
			continue
		}
		live[i] = append(live[i], fault(t, doms[i], owners[i], 1)...)
	}
	for i, o := range owners {
		for _, n := range live[i] {
			o.pinned[n] = true
		}
	}

	s := New(a, Options{})
	first := s.Scan(vm)
	second := s.Scan(vm)
	requireDisjoint(t, vm, first.Extents)
	if diff := cmp.Diff(first.Extents, second.Extents); diff != "" {
		t.Fatalf("second pass differs (-first +second):\n%s", diff)
	}
	assert.Zero(t, second.Evicted)

	for _, o := range owners {
		clear(o.pinned)
	}
	evicting := s.Scan(vm)
	requireDisjoint(t, vm, evicting.Extents)
	total := 0
	for _, l := range live {
		total += len(l)
	}
	assert.Equal(t, total, evicting.Evicted)
	for _, dom := range doms {
		require.NoError(t, dom.Validate())
	}
}

// interleavedSource runs after right behind every snapshot, the way a direct
// page freed by an owner lands between the snapshot and the carve.
type interleavedSource struct {
	*buddy.Allocator
	after func()
}

func (s interleavedSource) FreeBlockSnapshot(b *bank.Bank) [][]frame.Number {
	out := s.Allocator.FreeBlockSnapshot(b)
	s.after()
	return out
}

// TestScan_FreeDuringRefresh tests that a free merging blocks across orders while
// a pass refreshes the index does not break the pass.
func TestScan_FreeDuringRefresh(t *testing.T) {
	vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 64)
	a := newAllocator(t, 6, vm)
	first, err := a.AllocBlock(0, bank.KindVM)
	require.NoError(t, err)
	second, err := a.AllocBlock(0, bank.KindVM)
	require.NoError(t, err)
	a.FreeBlock(first, 0)

	src := interleavedSource{Allocator: a, after: func() {
		a.FreeBlock(second, 0)
		a.Drain(vm)
	}}
	var res Result
	require.NotPanics(t, func() { res = New(src, Options{}).Scan(vm) })
	assert.Equal(t, []extent.Extent{{Start: second, Count: 1}}, res.Extents)
	assert.Equal(t, 6, res.FreeBlocks)
	assert.Zero(t, res.Scanned)
	assert.Equal(t, []frame.Number{0}, a.FreeBlocks(vm, 6), "the late free merged the whole bank")
}

// TestScan_ConcurrentOwners tests passes running while owners fault and release
// region pages and direct pages. Run with -race.
func TestScan_ConcurrentOwners(t *testing.T) {
	vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 512)
	file := bank.New(1, "file", bank.ClassNormal, bank.KindFile, 512, 512)
	a := newAllocator(t, 9, vm, file)

	as := owner.NewAddressSpace(a, owner.Options{Name: "as"})
	cache := owner.NewFileCache(a, owner.FileOptions{Options: owner.Options{Name: "cache"}, Regular: true})
	pipe := owner.NewFileCache(a, owner.FileOptions{Options: owner.Options{Name: "pipe"}})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	drive := func(seed int64, get func(uint64) (frame.Number, error), put func(uint64) error) {
		defer wg.Done()
		rng := rand.New(rand.NewSource(seed))
		for {
			select {
			case <-stop:
				return
			default:
			}
			key := uint64(rng.Intn(64))
			if _, err := get(key); err != nil {
				t.Errorf("get %d: %v", key, err)
				return
			}
			if rng.Intn(2) == 0 {
				// Compaction may have evicted the page already.
				if err := put(key); err != nil && !errors.Is(err, owner.ErrNotMapped) {
					t.Errorf("put %d: %v", key, err)
					return
				}
			}
		}
	}
	wg.Add(3)
	go drive(1, as.Fault, as.Release)
	go drive(2, cache.Fill, cache.Evict)
	go drive(3, pipe.Fill, pipe.Evict)

	s := New(a, Options{})
	evicted := 0
	for range 200 {
		for _, b := range []*bank.Bank{vm, file} {
			res := s.Scan(b)
			requireDisjoint(t, b, res.Extents)
			evicted += res.Evicted
		}
	}
	close(stop)
	wg.Wait()
	t.Logf("evicted %d frames", evicted)

	as.Lock()
	require.NoError(t, as.Domain().Validate())
	as.Unlock()
	cache.Lock()
	require.NoError(t, cache.Domain().Validate())
	cache.Unlock()

	as.Close()
	cache.Close()
	pipe.Close()
	assert.Equal(t, uint64(512), a.FreeFrames(vm))
	assert.Equal(t, uint64(512), a.FreeFrames(file))
}

// TestRun_SelectsBanksByMask tests bank selection by kind and class.
func TestRun_SelectsBanksByMask(t *testing.T) {
	vmNormal := bank.New(0, "vm-normal", bank.ClassNormal, bank.KindVM, 0, 64)
	vmHigh := bank.New(1, "vm-high", bank.ClassHigh, bank.KindVM, 64, 64)
	file := bank.New(2, "file", bank.ClassNormal, bank.KindFile, 128, 64)
	s := New(newAllocator(t, 6, vmNormal, vmHigh, file), Options{})

	results, err := s.Run(Config{VM: MaskHigh})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, vmHigh.String(), results[0].Bank)

	results, err = s.Run(Config{VM: MaskAll, File: MaskNormal})
	require.NoError(t, err)
	var got []string
	for _, r := range results {
		got = append(got, r.Bank)
	}
	assert.Equal(t, []string{vmNormal.String(), vmHigh.String(), file.String()}, got)

	results, err = s.Run(Config{File: MaskHigh})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = s.Run(Config{File: 4})
	require.ErrorIs(t, err, ErrInvalidMask)
}

// TestControl tests the administrative switches.
func TestControl(t *testing.T) {
	vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 64)
	file := bank.New(1, "file", bank.ClassNormal, bank.KindFile, 64, 64)
	ctl := NewControl(New(newAllocator(t, 6, vm, file), Options{}))

	results, err := ctl.WriteVM(0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = ctl.WriteFile(MaskNormal)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "file", results[0].Kind)
	assert.Equal(t, MaskNormal, ctl.File())

	_, err = ctl.WriteVM(9)
	require.ErrorIs(t, err, ErrInvalidMask)
	assert.Zero(t, ctl.VM(), "rejected write leaves the switch unchanged")
}

// TestMetrics tests that passes are recorded.
func TestMetrics(t *testing.T) {
	vm := bank.New(0, "vm", bank.ClassNormal, bank.KindVM, 0, 64)
	a := newAllocator(t, 6, vm)
	o := newPageOwner(a.Arena())
	dom := newDomain(a, o, bank.KindVM)
	frames := fault(t, dom, o, 2)
	o.pinned[frames[0]] = true

	m := NewMetrics(prometheus.NewRegistry())
	s := New(a, Options{Metrics: m})
	s.Scan(vm)
	s.Scan(vm)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.passes.WithLabelValues(vm.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evicted.WithLabelValues(vm.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skipped.WithLabelValues(vm.String(), "unmap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.extents.WithLabelValues(vm.String())))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}
