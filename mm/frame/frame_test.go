package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/regionkit/internal/invariant"
)

type fakeOwner struct{ lo, hi Number }

func (o *fakeOwner) Contains(n Number) bool { return n >= o.lo && n < o.hi }

func newTestArena(t *testing.T, base Number, count uint64, pageSize int) *Arena {
	t.Helper()
	a, err := New(base, count, pageSize)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

// TestTag_SetAndClear tests tag transitions.
func TestTag_SetAndClear(t *testing.T) {
	var tag Tag
	assert.Nil(t, tag.Owner())
	assert.False(t, tag.OnFreeList())

	o := &fakeOwner{0, 16}
	tag.Set(o, false)
	assert.Same(t, o, tag.Owner())
	assert.False(t, tag.OnFreeList())

	tag.Set(o, true)
	assert.True(t, tag.OnFreeList())

	tag.Clear()
	assert.Nil(t, tag.Owner())
	assert.False(t, tag.OnFreeList())
}

// TestTag_ConcurrentReads tests that the tag can be read while its owner flips
// the free-list flag and the frame changes owners.
func TestTag_ConcurrentReads(t *testing.T) {
	var tag Tag
	a, b := &fakeOwner{0, 16}, &fakeOwner{16, 32}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 1000 {
			owner := a
			if i%2 == 1 {
				owner = b
			}
			tag.Set(owner, false)
			tag.Set(owner, true)
			tag.Clear()
		}
	}()
	for {
		select {
		case <-done:
			assert.Nil(t, tag.Owner())
			return
		default:
		}
		if o := tag.Owner(); o != nil {
			require.True(t, o == Owner(a) || o == Owner(b), "torn owner %v", o)
		}
		_ = tag.OnFreeList()
	}
}

// TestTag_FreeListWithoutOwner tests that an ownerless free-list flag is rejected.
func TestTag_FreeListWithoutOwner(t *testing.T) {
	var tag Tag
	err := invariant.Catch(func() { tag.Set(nil, true) })
	require.ErrorIs(t, err, invariant.ErrViolation)
}

// TestArena_Addressing tests frame lookups relative to the arena base.
func TestArena_Addressing(t *testing.T) {
	a := newTestArena(t, 100, 32, 0)

	assert.Equal(t, Number(100), a.Base())
	assert.Equal(t, Number(132), a.End())
	assert.Equal(t, uint64(32), a.Len())
	assert.True(t, a.Contains(100))
	assert.True(t, a.Contains(131))
	assert.False(t, a.Contains(99))
	assert.False(t, a.Contains(132))

	a.Desc(105).Index = 7
	assert.Equal(t, uint64(7), a.Desc(105).Index)
	assert.Equal(t, Nil, a.Desc(105).Next(), "fresh descriptors are unlinked")
	assert.Nil(t, a.Bytes(105), "no contents without a page size")
}

// TestArena_OutOfRange tests that out-of-range lookups are violations.
func TestArena_OutOfRange(t *testing.T) {
	a := newTestArena(t, 0, 8, 64)

	require.ErrorIs(t, invariant.Catch(func() { a.Desc(8) }), invariant.ErrViolation)
	require.ErrorIs(t, invariant.Catch(func() { a.Bytes(9) }), invariant.ErrViolation)
}

// TestArena_ContentsAndZero tests per-frame content slices.
func TestArena_ContentsAndZero(t *testing.T) {
	a := newTestArena(t, 0, 4, 64)

	b := a.Bytes(2)
	require.Len(t, b, 64)
	for i := range b {
		b[i] = 0xff
	}
	assert.Equal(t, byte(0), a.Bytes(1)[63], "neighbouring frame untouched")
	assert.Equal(t, byte(0), a.Bytes(3)[0], "neighbouring frame untouched")

	a.Zero(2)
	for i, v := range a.Bytes(2) {
		require.Zero(t, v, "byte %d not cleared", i)
	}
}

// TestArena_New_Errors tests argument validation.
func TestArena_New_Errors(t *testing.T) {
	_, err := New(0, 0, 0)
	require.Error(t, err)

	_, err = New(0, 4, -1)
	require.Error(t, err)

	_, err = New(Nil-1, 4, 0)
	require.Error(t, err)
}

// TestDesc_Reset tests that Reset returns a descriptor to the allocator state.
func TestDesc_Reset(t *testing.T) {
	var d Desc
	d.Tag.Set(&fakeOwner{0, 1}, true)
	d.MapCount, d.RefCount = 1, 2
	d.Mapping = "as"
	d.Index = 9
	d.Flags = FlagActive | FlagReadOnly
	d.SetNext(3)

	d.Reset()
	assert.Nil(t, d.Tag.Owner())
	assert.False(t, d.Tag.OnFreeList())
	assert.Zero(t, d.MapCount)
	assert.Zero(t, d.RefCount)
	assert.Nil(t, d.Mapping)
	assert.Zero(t, d.Index)
	assert.Zero(t, d.Flags)
	assert.Equal(t, Nil, d.Next())
}

// TestNumber_String tests frame number formatting.
func TestNumber_String(t *testing.T) {
	assert.Equal(t, "#12", Number(12).String())
	assert.Equal(t, "nil", Nil.String())
}
