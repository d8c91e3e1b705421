package voxrefine_test

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/soypat/voxrefine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomField(rng *rand.Rand, batch, res, n int, maxVal float32) voxrefine.SparseField {
	var sf voxrefine.SparseField
	seen := make(map[voxrefine.Coord]bool)
	for len(sf.Coords) < n {
		c := voxrefine.C(rng.Intn(batch), rng.Intn(res), rng.Intn(res), rng.Intn(res))
		if seen[c] {
			continue
		}
		seen[c] = true
		sf.Coords = append(sf.Coords, c)
		sf.Values = append(sf.Values, rng.Float32()*maxVal-maxVal/2)
	}
	return sf
}

func TestDensify(t *testing.T) {
	t.Parallel()
	sf := voxrefine.SparseField{
		Coords: []voxrefine.Coord{voxrefine.C(0, 0, 0, 0), voxrefine.C(1, 3, 2, 1), voxrefine.C(0, 3, 3, 3)},
		Values: []float32{-0.5, 0.25, 0.125},
	}
	v, err := voxrefine.Densify(sf, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Batch)
	assert.Equal(t, 1, v.Channels)
	assert.Equal(t, voxrefine.Cube(4), v.Dims)
	assert.Len(t, v.Data, 2*64)
	for i, c := range sf.Coords {
		assert.Equal(t, sf.Values[i], v.At(c.Batch, 0, c.V3i))
	}
	// Z is the fastest varying axis.
	assert.Equal(t, float32(0.125), v.Data[3*16+3*4+3])
	assert.Equal(t, float32(0.25), v.Data[64+3*16+2*4+1])
	var nfill int
	for _, f := range v.Data {
		if f == 1 {
			nfill++
		}
	}
	assert.Equal(t, len(v.Data)-len(sf.Coords), nfill)
}

func TestDensifyOutOfRange(t *testing.T) {
	t.Parallel()
	for _, c := range []voxrefine.Coord{
		voxrefine.C(0, 4, 0, 0),
		voxrefine.C(0, 0, 4, 0),
		voxrefine.C(0, 0, 0, 4),
		voxrefine.C(0, -1, 0, 0),
		voxrefine.C(-1, 0, 0, 0),
	} {
		sf := voxrefine.SparseField{
			Coords: []voxrefine.Coord{voxrefine.C(0, 1, 1, 1), c},
			Values: []float32{0, 0},
		}
		v, err := voxrefine.Densify(sf, 4, 1)
		require.Error(t, err)
		assert.Nil(t, v)
		assert.True(t, errors.Is(err, voxrefine.ErrCoordinateOutOfRange), "got %v", err)
		var cerr *voxrefine.CoordinateError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, 1, cerr.Index)
		assert.Equal(t, c, cerr.Coord)
	}
}

func TestDensifyChunkIndependent(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	sf := randomField(rng, 2, 16, 900, 2)
	want, err := voxrefine.DensifyChunked(sf, 16, 1, len(sf.Coords))
	require.NoError(t, err)
	for _, chunk := range []int{1, 7, 128, voxrefine.DefaultChunkSize} {
		got, err := voxrefine.DensifyChunked(sf, 16, 1, chunk)
		require.NoError(t, err)
		if diff := cmp.Diff(want.Data, got.Data); diff != "" {
			t.Errorf("chunk %d mismatch (-want +got):\n%s", chunk, diff)
		}
	}
}

func TestDensifyFeatures(t *testing.T) {
	t.Parallel()
	sf := voxrefine.SparseFeature{
		Coords:   []voxrefine.Coord{voxrefine.C(0, 1, 2, 3), voxrefine.C(0, 0, 0, 0)},
		Channels: 3,
		Feats:    []float32{1, 2, 3, 4, 5, 6},
	}
	v, err := voxrefine.DensifyFeatures(sf, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Channels)
	for ch := 0; ch < 3; ch++ {
		assert.Equal(t, float32(ch+1), v.At(0, ch, voxrefine.V3i{1, 2, 3}))
		assert.Equal(t, float32(ch+4), v.At(0, ch, voxrefine.V3i{}))
		assert.Equal(t, float32(0), v.At(0, ch, voxrefine.V3i{3, 3, 3}))
	}

	sf.Feats = sf.Feats[:5]
	_, err = voxrefine.DensifyFeatures(sf, 4, 1)
	assert.ErrorIs(t, err, voxrefine.ErrShapeMismatch)
}

func TestSparsifyRoundTrip(t *testing.T) {
	t.Parallel()
	const (
		res       = 12
		threshold = 0.75
	)
	rng := rand.New(rand.NewSource(2))
	sf := randomField(rng, 3, res, 400, 4)
	v, err := voxrefine.Densify(sf, res, 1)
	require.NoError(t, err)

	var want []voxrefine.Coord
	for i, c := range sf.Coords {
		if sf.Values[i] < threshold {
			want = append(want, c)
		}
	}
	sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })
	got, err := voxrefine.Sparsify(v, threshold, 1)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSparsifyFactor(t *testing.T) {
	t.Parallel()
	v := voxrefine.NewVolumeFilled(1, 1, voxrefine.Cube(5), 1)
	for _, p := range []voxrefine.V3i{{0, 0, 0}, {1, 1, 1}, {0, 1, 0}, {4, 4, 4}, {3, 0, 2}} {
		v.Set(0, 0, p, 0)
	}
	got, err := voxrefine.Sparsify(v, 0.5, 2)
	require.NoError(t, err)
	want := []voxrefine.Coord{voxrefine.C(0, 0, 0, 0), voxrefine.C(0, 1, 0, 1), voxrefine.C(0, 2, 2, 2)}
	assert.Equal(t, want, got)

	_, err = voxrefine.Sparsify(v, 0.5, 0)
	assert.Error(t, err)
}

func TestDownsample(t *testing.T) {
	t.Parallel()
	sf := voxrefine.SparseField{
		Coords: []voxrefine.Coord{
			voxrefine.C(0, 3, 3, 3),
			voxrefine.C(0, 2, 2, 2),
			voxrefine.C(1, 2, 2, 2),
			voxrefine.C(0, 0, 0, 1),
			voxrefine.C(0, 1, 1, 0),
		},
		Values: []float32{1, 2, 3, 4, 5},
	}
	got, err := voxrefine.Downsample(sf, 2)
	require.NoError(t, err)
	want := voxrefine.SparseField{
		Coords: []voxrefine.Coord{voxrefine.C(0, 1, 1, 1), voxrefine.C(1, 1, 1, 1), voxrefine.C(0, 0, 0, 0)},
		Values: []float32{1, 3, 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("downsample mismatch (-want +got):\n%s", diff)
	}
	again, err := voxrefine.Downsample(sf, 2)
	require.NoError(t, err)
	assert.Equal(t, got, again, "downsample must be deterministic")
	require.NoError(t, got.Validate())
}

func TestSplice(t *testing.T) {
	t.Parallel()
	v := voxrefine.NewVolumeFilled(1, 1, voxrefine.Cube(3), 7)
	sf := voxrefine.SparseField{
		Coords: []voxrefine.Coord{voxrefine.C(0, 1, 1, 1), voxrefine.C(0, 2, 0, 1)},
		Values: []float32{-1, 0.5},
	}
	require.NoError(t, voxrefine.Splice(v, sf))
	assert.Equal(t, float32(-1), v.At(0, 0, voxrefine.V3i{1, 1, 1}))
	assert.Equal(t, float32(0.5), v.At(0, 0, voxrefine.V3i{2, 0, 1}))
	assert.Equal(t, float32(7), v.At(0, 0, voxrefine.V3i{0, 0, 0}))

	sf.Coords[1] = voxrefine.C(1, 0, 0, 0)
	assert.ErrorIs(t, voxrefine.Splice(v, sf), voxrefine.ErrCoordinateOutOfRange)
}

func TestSparseValidate(t *testing.T) {
	t.Parallel()
	sf := voxrefine.SparseField{
		Coords: []voxrefine.Coord{voxrefine.C(0, 1, 1, 1), voxrefine.C(0, 1, 1, 1)},
		Values: []float32{1, 2},
	}
	assert.ErrorIs(t, sf.Validate(), voxrefine.ErrShapeMismatch)
	sf.Coords[1].Batch = 2
	assert.NoError(t, sf.Validate())
	assert.Equal(t, 3, sf.BatchSize())
}
