package bpa

import (
	"bytes"
	"math/rand"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/vout/internal/invariant"
)

const testBoundary = 0x10000

func newTestAllocator(t *testing.T, parts ...PartitionConfig) *Allocator {
	a, err := New(Config{Partitions: parts, Boundary: testBoundary})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAllocRoundsToPages(t *testing.T) {
	a := newTestAllocator(t, PartitionConfig{"sys", 0x100000, 0x40000})

	r, err := a.Alloc(100, 1, PlacementAny)
	require.NoError(t, err)
	assert.Equal(t, "sys", r.Partition)
	assert.Equal(t, uint64(0x100000), r.Phys)
	assert.Equal(t, PageSize, r.Size)
	assert.Len(t, r.Virt, PageSize)

	r2, err := a.Alloc(PageSize+1, 1, PlacementAny)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x101000), r2.Phys)
	assert.Equal(t, 2*PageSize, r2.Size)

	// CPU views are distinct memory.
	r.Virt[0] = 0xaa
	assert.Equal(t, byte(0), r2.Virt[0])

	_, err = a.Alloc(0, 1, PlacementAny)
	assert.Error(t, err)
}

func TestAllocBoundaryRetry(t *testing.T) {
	// Two pages below the boundary, then plenty above it.
	a := newTestAllocator(t, PartitionConfig{"sys", testBoundary - 0x2000, 0x20000})

	r, err := a.Alloc(0x3000, 1, PlacementAny)
	require.NoError(t, err)
	assert.Equal(t, uint64(testBoundary), r.Phys)
	assert.False(t, r.Degraded)

	// The pages below the boundary are still free for small requests.
	small, err := a.Alloc(0x2000, 1, PlacementAny)
	require.NoError(t, err)
	assert.Equal(t, uint64(testBoundary-0x2000), small.Phys)
	assert.Equal(t, 0, a.Stats().Degraded)
}

func TestAllocBoundaryCoversPadding(t *testing.T) {
	a := newTestAllocator(t, PartitionConfig{"sys", testBoundary - 0x2000, 0x20000})

	// Whole reported regions, page padding included, stay on one side.
	for _, size := range []int{0x1001, 0x2001, 0x1fff} {
		r, err := a.Alloc(size, 1, PlacementAny)
		require.NoError(t, err)
		assert.False(t, r.Degraded)
		last := r.Phys + uint64(r.Size) - 1
		assert.Equal(t, r.Phys/testBoundary, last/testBoundary, "%#x bytes at %#x", size, r.Phys)
	}
	assert.Equal(t, 0, a.Stats().Degraded)
}

func TestAllocBoundaryRetryFails(t *testing.T) {
	a := newTestAllocator(t, PartitionConfig{"sys", testBoundary - 0x2000, 0x4000})

	_, err := a.Alloc(0x3000, 1, PlacementAny)
	assert.Equal(t, ErrNoMemory, errors.Cause(err))
	assert.Equal(t, uint64(0), a.Stats().Partitions[0].Used)
}

func TestAllocDegraded(t *testing.T) {
	var out bytes.Buffer
	log.SetDestination(&out)
	defer log.SetDestination(os.Stderr)

	a := newTestAllocator(t, PartitionConfig{"sys", testBoundary, 0x30000})

	// Larger than the boundary, so no placement can avoid straddling it.
	r, err := a.Alloc(testBoundary+PageSize, 1, PlacementAny)
	require.NoError(t, err)
	assert.True(t, r.Degraded)
	assert.Equal(t, uint64(testBoundary), r.Phys)
	assert.Equal(t, 1, a.Stats().Degraded)
	assert.Contains(t, out.String(), "again")
}

func TestPlacementFallback(t *testing.T) {
	a := newTestAllocator(t,
		PartitionConfig{"bigphysarea", 0x100000, 0x2000},
		PartitionConfig{"v4l2-video-buffers", 0x200000, 0x4000},
	)

	r, err := a.Alloc(0x2000, 1, PlacementAny)
	require.NoError(t, err)
	assert.Equal(t, "bigphysarea", r.Partition)

	// System partition is exhausted.
	_, err = a.Alloc(PageSize, 1, PlacementSystem)
	assert.Equal(t, ErrNoMemory, errors.Cause(err))

	r, err = a.Alloc(PageSize, 1, PlacementAny)
	require.NoError(t, err)
	assert.Equal(t, "v4l2-video-buffers", r.Partition)

	r, err = a.Alloc(PageSize, 1, PlacementVideo)
	require.NoError(t, err)
	assert.Equal(t, "v4l2-video-buffers", r.Partition)

	single := newTestAllocator(t, PartitionConfig{"sys", 0x100000, 0x2000})
	_, err = single.Alloc(PageSize, 1, PlacementVideo)
	assert.Equal(t, ErrNoPartition, err)
}

func TestAllocAlignment(t *testing.T) {
	a := newTestAllocator(t, PartitionConfig{"sys", 0x101000, 0x20000})

	r, err := a.Alloc(PageSize, 4, PlacementAny)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Phys%(4*PageSize))
}

func TestNoOverlapAndCoalesce(t *testing.T) {
	const size = 0x100000
	a := newTestAllocator(t, PartitionConfig{"sys", 0x400000, size})
	rng := rand.New(rand.NewSource(1))

	var live []Region
	for i := 0; i < 200; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			a.Free(live[j])
			live = append(live[:j], live[j+1:]...)
			continue
		}
		r, err := a.Alloc(1+rng.Intn(0x6000), 1, PlacementAny)
		if err != nil {
			continue
		}
		for _, q := range live {
			overlap := r.Phys < q.Phys+uint64(q.Size) && q.Phys < r.Phys+uint64(r.Size)
			require.False(t, overlap, "%#x+%#x overlaps %#x+%#x", r.Phys, r.Size, q.Phys, q.Size)
		}
		live = append(live, r)
	}

	for _, r := range live {
		assert.True(t, a.Live(r.Phys))
		a.Free(r)
	}
	assert.Equal(t, uint64(0), a.Stats().Partitions[0].Used)

	// Everything coalesced back into a single extent.
	whole, err := a.Alloc(size, 1, PlacementSystem)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x400000), whole.Phys)
}

func TestAllocWithClut(t *testing.T) {
	a := newTestAllocator(t, PartitionConfig{"sys", 0x100000, 0x10000})

	r, err := a.AllocWithClut(1000, PlacementAny)
	require.NoError(t, err)
	assert.Equal(t, PageSize, r.Size)
	assert.Equal(t, r.Phys+1008, r.ClutPhys)
	assert.Len(t, r.Clut, ClutSize)
	assert.Equal(t, make([]byte, PageSize), r.Virt)

	// The table shares memory with the region.
	r.Clut[0] = 1
	assert.Equal(t, byte(1), r.Virt[1008])
}

func TestFreeNotLive(t *testing.T) {
	a := newTestAllocator(t, PartitionConfig{"sys", 0x100000, 0x10000})
	free := func() {
		a.Free(Region{Phys: 0x100000})
	}

	if invariant.Debug() {
		assert.Panics(t, free)
		return
	}
	assert.NotPanics(t, free)
	assert.Equal(t, uint64(0), a.Stats().Partitions[0].Used)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{Partitions: []PartitionConfig{{"sys", 0x100001, 0x1000}}})
	assert.Equal(t, ErrBadPartition, errors.Cause(err))

	_, err = New(Config{Partitions: []PartitionConfig{
		{"a", 0x100000, 0x10000},
		{"b", 0x108000, 0x10000},
	}})
	assert.Equal(t, ErrOverlap, errors.Cause(err))

	_, err = New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Partitions: []PartitionConfig{{"sys", 0x100000, 0x1000}}, Boundary: 100})
	assert.Error(t, err)
}

func TestParsePlacement(t *testing.T) {
	for s, want := range map[string]Placement{"": PlacementAny, "any": PlacementAny, "System": PlacementSystem, "video": PlacementVideo} {
		p, err := ParsePlacement(s)
		assert.NoError(t, err)
		assert.Equal(t, want, p)
		if s != "" && s != "System" {
			assert.Equal(t, s, p.String())
		}
	}
	_, err := ParsePlacement("dram")
	assert.Equal(t, ErrBadPlacement, errors.Cause(err))
}
