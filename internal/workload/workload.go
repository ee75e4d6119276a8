// Package workload drives address spaces and file caches with a seeded random
// mix of faults, fills, releases and pins, interleaving owners so their pages
// land next to each other the way unrelated allocation sources do.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/joshuapare/regionkit/internal/machine"
	"github.com/joshuapare/regionkit/mm/buddy"
	"github.com/joshuapare/regionkit/mm/frame"
	"github.com/joshuapare/regionkit/mm/owner"
)

// Options shapes a run.
type Options struct {
	Seed          int64
	Steps         int
	AddressSpaces int
	Files         int
	Pages         uint64  // distinct page keys per owner
	ReleaseRatio  float64 // chance a step releases instead of faulting
	PinRatio      float64 // chance a fault also pins the page
}

// DefaultOptions returns a moderate mixed workload.
func DefaultOptions() Options {
	return Options{
		Seed:          1,
		Steps:         20000,
		AddressSpaces: 4,
		Files:         4,
		Pages:         512,
		ReleaseRatio:  0.45,
		PinRatio:      0.01,
	}
}

// Report counts what a run did.
type Report struct {
	Steps    int `json:"steps"`
	Faults   int `json:"faults"`
	Releases int `json:"releases"`
	Pins     int `json:"pins"`
	OOM      int `json:"oom"`
	Resident int `json:"resident"`
}

// pageOwner is what the driver needs from either owner type.
type pageOwner interface {
	get(key uint64) (frame.Number, error)
	put(key uint64) error
	Pin(key uint64) error
}

type spaceOwner struct{ *owner.AddressSpace }

func (s spaceOwner) get(k uint64) (frame.Number, error) { return s.Fault(k) }
func (s spaceOwner) put(k uint64) error                 { return s.Release(k) }

type fileOwner struct{ *owner.FileCache }

func (f fileOwner) get(k uint64) (frame.Number, error) { return f.Fill(k) }
func (f fileOwner) put(k uint64) error                 { return f.Evict(k) }

// resident tracks the keys an owner holds, for uniform random picks.
type resident struct {
	keys   []uint64
	at     map[uint64]int
	pinned map[uint64]bool
}

func (r *resident) add(k uint64) {
	r.at[k] = len(r.keys)
	r.keys = append(r.keys, k)
}

func (r *resident) remove(k uint64) {
	i := r.at[k]
	last := r.keys[len(r.keys)-1]
	r.keys[i] = last
	r.at[last] = i
	r.keys = r.keys[:len(r.keys)-1]
	delete(r.at, k)
}

// Run creates the owners on m and drives them. Every fourth file is a
// non-regular file and every third is opened read-only. Running out of memory
// is counted, not returned.
func Run(ctx context.Context, m *machine.Machine, opts Options) (Report, error) {
	if opts.Pages == 0 {
		return Report{}, fmt.Errorf("workload: no pages per owner")
	}
	if opts.AddressSpaces+opts.Files == 0 {
		return Report{}, fmt.Errorf("workload: no owners")
	}

	var owners []pageOwner
	for i := range opts.AddressSpaces {
		owners = append(owners, spaceOwner{m.NewAddressSpace(fmt.Sprintf("as-%d", i))})
	}
	for i := range opts.Files {
		regular := i%4 != 3
		readOnly := i%3 == 2
		owners = append(owners, fileOwner{m.NewFileCache(fmt.Sprintf("file-%d", i), regular, readOnly)})
	}
	state := make([]*resident, len(owners))
	for i := range state {
		state[i] = &resident{at: map[uint64]int{}, pinned: map[uint64]bool{}}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var rep Report
	for step := range opts.Steps {
		if step%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
		}
		rep.Steps++
		i := rng.Intn(len(owners))
		o, st := owners[i], state[i]

		if len(st.keys) > 0 && rng.Float64() < opts.ReleaseRatio {
			k := st.keys[rng.Intn(len(st.keys))]
			if st.pinned[k] {
				continue
			}
			if err := o.put(k); err != nil {
				return rep, fmt.Errorf("workload: release %#x: %w", k, err)
			}
			st.remove(k)
			rep.Releases++
			continue
		}

		k := uint64(rng.Int63n(int64(opts.Pages)))
		if _, ok := st.at[k]; ok {
			continue
		}
		if _, err := o.get(k); err != nil {
			if errors.Is(err, buddy.ErrNoMemory) {
				rep.OOM++
				continue
			}
			return rep, fmt.Errorf("workload: fault %#x: %w", k, err)
		}
		st.add(k)
		rep.Faults++
		if rng.Float64() < opts.PinRatio {
			if err := o.Pin(k); err != nil {
				return rep, fmt.Errorf("workload: pin %#x: %w", k, err)
			}
			st.pinned[k] = true
			rep.Pins++
		}
	}
	for _, st := range state {
		rep.Resident += len(st.keys)
	}
	return rep, nil
}
