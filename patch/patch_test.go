package patch_test

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/soypat/voxrefine"
	"github.com/soypat/voxrefine/patch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTiling(t *testing.T) {
	t.Parallel()
	for _, test := range []struct {
		res, size, steps int
		stride           int
		err              bool
	}{
		{res: 512, size: 192, steps: 3, stride: 160},
		{res: 512, size: 256, steps: 3, stride: 128},
		{res: 64, size: 24, steps: 3, stride: 20},
		{res: 64, size: 64, steps: 1, stride: 64},
		{res: 20, size: 8, steps: 3, stride: 6},
		{res: 512, size: 192, steps: 4, err: true}, // non-integer stride
		{res: 512, size: 320, steps: 3, err: true}, // overlap 224 > stride 96
		{res: 100, size: 20, steps: 3, err: true},  // stride 40 leaves gaps
		{res: 100, size: 200, steps: 3, err: true}, // patch larger than volume
		{res: 100, size: 50, steps: 1, err: true},  // single patch too small
		{res: 0, size: 1, steps: 1, err: true},
	} {
		tl, err := patch.NewTiling(test.res, test.size, test.steps)
		if test.err {
			assert.ErrorIs(t, err, voxrefine.ErrInvalidTiling, "res=%d size=%d steps=%d", test.res, test.size, test.steps)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, test.stride, tl.Stride)
		assert.Equal(t, test.res, tl.Stride*(tl.Steps-1)+tl.Size)
	}
}

func TestTilingCoverage(t *testing.T) {
	t.Parallel()
	for res := 8; res <= 40; res++ {
		for size := 2; size <= res; size++ {
			for steps := 1; steps <= 5; steps++ {
				tl, err := patch.NewTiling(res, size, steps)
				if err != nil {
					continue
				}
				covered := make([]int, res)
				for n, o := range tl.Origins() {
					if o != tl.Origin(n) {
						t.Fatalf("origin %d mismatch", n)
					}
					// Count coverage along x only for patches with j=k=0.
					if o[1] != 0 || o[2] != 0 {
						continue
					}
					for x := o[0]; x < o[0]+size; x++ {
						covered[x]++
					}
				}
				for x, c := range covered {
					if c < 1 || c > 2 {
						t.Fatalf("%+v: voxel %d covered %d times", tl, x, c)
					}
				}
			}
		}
	}
}

func TestOriginOrder(t *testing.T) {
	t.Parallel()
	tl, err := patch.NewTiling(64, 24, 3)
	require.NoError(t, err)
	origins := tl.Origins()
	require.Len(t, origins, 27)
	assert.Equal(t, voxrefine.V3i{0, 0, 0}, origins[0])
	assert.Equal(t, voxrefine.V3i{0, 0, 20}, origins[1])
	assert.Equal(t, voxrefine.V3i{0, 20, 0}, origins[3])
	assert.Equal(t, voxrefine.V3i{20, 0, 0}, origins[9])
	assert.Equal(t, voxrefine.V3i{40, 20, 40}, origins[2*9+1*3+2])
}

func TestBlendWeights(t *testing.T) {
	t.Parallel()
	assert.Nil(t, patch.BlendWeights(0))
	assert.Equal(t, []float32{0}, patch.BlendWeights(1))
	assert.Equal(t, []float32{0, 1}, patch.BlendWeights(2))
	assert.Equal(t, []float32{0, 0.25, 0.5, 0.75, 1}, patch.BlendWeights(5))
	w := patch.BlendWeights(32)
	for i := 1; i < len(w); i++ {
		assert.Greater(t, w[i], w[i-1])
	}
	assert.Equal(t, float32(1), w[31])
}

func randomVolume(rng *rand.Rand, batch, res int) *voxrefine.Volume {
	v := voxrefine.NewVolume(batch, 1, voxrefine.Cube(res))
	for i := range v.Data {
		v.Data[i] = rng.Float32()*2 - 1
	}
	return v
}

func identity() voxrefine.Denoiser {
	return voxrefine.DenoiserFunc(func(sdf, _ *voxrefine.Volume) (*voxrefine.Volume, error) {
		return sdf.Channel(0), nil
	})
}

// Stitching unmodified patches must reproduce the volume exactly, since every
// overlap blends two identical values.
func TestStitchIdentity(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for _, test := range []struct{ res, size, steps int }{
		{64, 24, 3},
		{20, 8, 3},
		{16, 16, 1},
		{31, 10, 4},
		{32, 16, 3}, // overlap equals stride
	} {
		tl, err := patch.NewTiling(test.res, test.size, test.steps)
		require.NoError(t, err)
		v := randomVolume(rng, 2, test.res)
		patches, err := tl.Denoise(context.Background(), v, nil, identity(), 3)
		require.NoError(t, err)
		got, err := tl.Stitch(patches)
		require.NoError(t, err)
		require.Equal(t, v.Dims, got.Dims)
		for i := range v.Data {
			if d := got.Data[i] - v.Data[i]; d > 1e-6 || d < -1e-6 {
				t.Fatalf("%+v: element %d got %v want %v", tl, i, got.Data[i], v.Data[i])
			}
		}
	}
}

// Patches filled with their own index expose the blend at every seam.
func TestStitchSeams(t *testing.T) {
	t.Parallel()
	tl, err := patch.NewTiling(20, 8, 3) // stride 6, overlap 2
	require.NoError(t, err)
	patches := make([]*voxrefine.Volume, tl.Count())
	for n := range patches {
		patches[n] = voxrefine.NewVolumeFilled(1, 1, voxrefine.Cube(8), float32(n))
	}
	got, err := tl.Stitch(patches)
	require.NoError(t, err)
	at := func(x, y, z int) float32 { return got.At(0, 0, voxrefine.V3i{x, y, z}) }

	// Interior of a patch is copied.
	assert.Equal(t, float32(0), at(0, 0, 0))
	assert.Equal(t, float32(26), at(19, 19, 19))
	assert.Equal(t, float32(13), at(10, 10, 10))
	// First blended voxel along z belongs entirely to the earlier patch (weight 0).
	assert.Equal(t, float32(0), at(0, 0, 6))
	// Last blended voxel belongs entirely to the later patch (weight 1).
	assert.Equal(t, float32(1), at(0, 0, 7))
	assert.Equal(t, float32(2), at(0, 0, 13))
	// Along y and x the same rule applies to lines and layers.
	assert.Equal(t, float32(0), at(0, 6, 0))
	assert.Equal(t, float32(3), at(0, 7, 0))
	assert.Equal(t, float32(0), at(6, 0, 0))
	assert.Equal(t, float32(9), at(7, 0, 0))
}

func TestStitchContinuity(t *testing.T) {
	t.Parallel()
	// Overlap 4, so blended weights are 0, 1/3, 2/3, 1.
	tl, err := patch.NewTiling(16, 8, 3)
	require.NoError(t, err)
	require.Equal(t, 4, tl.Overlap())
	patches := make([]*voxrefine.Volume, tl.Count())
	for n := range patches {
		// A varies with z, B is constant 10.
		p := voxrefine.NewVolume(1, 1, voxrefine.Cube(8))
		for x := 0; x < 8; x++ {
			for y := 0; y < 8; y++ {
				for z := 0; z < 8; z++ {
					if n%3 == 0 {
						p.Set(0, 0, voxrefine.V3i{x, y, z}, float32(z))
					} else {
						p.Set(0, 0, voxrefine.V3i{x, y, z}, 10)
					}
				}
			}
		}
		patches[n] = p
	}
	got, err := tl.Stitch(patches)
	require.NoError(t, err)
	w := patch.BlendWeights(4)
	for t4 := 0; t4 < 4; t4++ {
		a := float32(4 + t4) // tail of A at local z = stride+t
		want := a*(1-w[t4]) + 10*w[t4]
		assert.InDelta(t, want, got.At(0, 0, voxrefine.V3i{1, 1, 4 + t4}), 1e-6)
	}
}

func TestStitchErrors(t *testing.T) {
	t.Parallel()
	tl, err := patch.NewTiling(20, 8, 3)
	require.NoError(t, err)
	patches := make([]*voxrefine.Volume, tl.Count())
	for n := range patches {
		patches[n] = voxrefine.NewVolume(1, 1, voxrefine.Cube(8))
	}
	_, err = tl.Stitch(patches[:26])
	assert.ErrorIs(t, err, voxrefine.ErrAssemblyGap)

	patches[4] = voxrefine.NewVolume(1, 1, voxrefine.Cube(9))
	_, err = tl.Stitch(patches)
	assert.ErrorIs(t, err, voxrefine.ErrAssemblyGap)

	bad := tl
	bad.Stride = 4 // patches no longer tile
	_, err = bad.Stitch(patches)
	assert.ErrorIs(t, err, voxrefine.ErrInvalidTiling)
}

func TestDenoiseOrderAndErrors(t *testing.T) {
	t.Parallel()
	tl, err := patch.NewTiling(20, 8, 3)
	require.NoError(t, err)
	v := voxrefine.NewVolume(1, 1, voxrefine.Cube(20))
	for x := 0; x < 20; x++ {
		for y := 0; y < 20; y++ {
			for z := 0; z < 20; z++ {
				v.Set(0, 0, voxrefine.V3i{x, y, z}, float32(x*10000+y*100+z))
			}
		}
	}
	feats := voxrefine.NewVolumeFilled(1, 4, voxrefine.Cube(20), 2)
	var calls atomic.Int32
	d := voxrefine.DenoiserFunc(func(sdf, f *voxrefine.Volume) (*voxrefine.Volume, error) {
		calls.Add(1)
		if f == nil || f.Channels != 4 || f.Dims != sdf.Dims {
			return nil, errors.New("bad features")
		}
		return sdf.Clone(), nil
	})
	patches, err := tl.Denoise(context.Background(), v, feats, d, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 27, calls.Load())
	for n, p := range patches {
		o := tl.Origin(n)
		assert.Equal(t, float32(o[0]*10000+o[1]*100+o[2]), p.At(0, 0, voxrefine.V3i{}), "patch %d", n)
	}

	boom := errors.New("boom")
	_, err = tl.Denoise(context.Background(), v, nil, voxrefine.DenoiserFunc(func(sdf, _ *voxrefine.Volume) (*voxrefine.Volume, error) {
		return nil, boom
	}), 2)
	assert.ErrorIs(t, err, boom)

	_, err = tl.Denoise(context.Background(), v, nil, voxrefine.DenoiserFunc(func(sdf, _ *voxrefine.Volume) (*voxrefine.Volume, error) {
		return voxrefine.NewVolume(1, 1, voxrefine.Cube(4)), nil
	}), 2)
	assert.ErrorIs(t, err, voxrefine.ErrShapeMismatch)

	_, err = tl.Denoise(context.Background(), voxrefine.NewVolume(1, 1, voxrefine.Cube(16)), nil, identity(), 2)
	assert.ErrorIs(t, err, voxrefine.ErrShapeMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tl.Denoise(ctx, v, nil, identity(), 2)
	assert.ErrorIs(t, err, context.Canceled)
}
