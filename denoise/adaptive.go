package denoise

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/soypat/voxrefine"
)

// Taps is the number of weights of the 3x3x3 adaptive stencil.
const Taps = 27

// normEps bounds the L1 norm from below during weight normalization.
const normEps = 1e-12

// TapOffset returns the voxel offset of stencil tap t. Tap i*9+j*3+k reads
// the neighbor at (i-1, j-1, k-1).
func TapOffset(t int) voxrefine.V3i {
	return voxrefine.V3i{t/9 - 1, t/3%3 - 1, t%3 - 1}
}

// AdaptiveConv applies a per-voxel 27-tap stencil to every channel of in.
// w has shape [B,27,X,Y,Z] matching in spatially; tap t of w weights the
// neighbor at TapOffset(t). Neighbors outside the volume read as zero.
func AdaptiveConv(in, w *voxrefine.Volume) (*voxrefine.Volume, error) {
	if err := checkWeights(in, w); err != nil {
		return nil, err
	}
	out := voxrefine.NewVolume(in.Batch, in.Channels, in.Dims)
	d := in.Dims
	for b := 0; b < in.Batch; b++ {
		for c := 0; c < in.Channels; c++ {
			src := in.Grid(b, c)
			dst := out.Grid(b, c)
			for t := 0; t < Taps; t++ {
				off := TapOffset(t)
				wt := w.Grid(b, t)
				for x := max(0, -off[0]); x < min(d[0], d[0]-off[0]); x++ {
					for y := max(0, -off[1]); y < min(d[1], d[1]-off[1]); y++ {
						row := (x*d[1] + y) * d[2]
						nrow := ((x+off[0])*d[1] + y + off[1]) * d[2]
						for z := max(0, -off[2]); z < min(d[2], d[2]-off[2]); z++ {
							dst[row+z] += src[nrow+z+off[2]] * wt[row+z]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// NormalizeL1 returns a copy of w with the 27 taps of every voxel divided by
// their L1 norm, which is clamped below by 1e-12.
func NormalizeL1(w *voxrefine.Volume) (*voxrefine.Volume, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.Channels != Taps {
		return nil, fmt.Errorf("%w: weights have %d channels, want %d", voxrefine.ErrShapeMismatch, w.Channels, Taps)
	}
	out := w.Clone()
	n := w.Voxels()
	for b := 0; b < w.Batch; b++ {
		for i := 0; i < n; i++ {
			var norm float32
			for t := 0; t < Taps; t++ {
				norm += math32.Abs(out.Data[(b*Taps+t)*n+i])
			}
			norm = math32.Max(norm, normEps)
			for t := 0; t < Taps; t++ {
				out.Data[(b*Taps+t)*n+i] /= norm
			}
		}
	}
	return out, nil
}

// AdaptiveBlock L1 normalizes w and applies AdaptiveConv to in iterations times.
func AdaptiveBlock(in, w *voxrefine.Volume, iterations int) (*voxrefine.Volume, error) {
	if iterations < 0 {
		return nil, fmt.Errorf("negative iteration count %d", iterations)
	}
	nw, err := NormalizeL1(w)
	if err != nil {
		return nil, err
	}
	if err := checkWeights(in, nw); err != nil {
		return nil, err
	}
	out := in.Clone()
	for i := 0; i < iterations; i++ {
		out, err = AdaptiveConv(out, nw)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkWeights(in, w *voxrefine.Volume) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if w.Channels != Taps || w.Batch != in.Batch || w.Dims != in.Dims {
		return fmt.Errorf("%w: weights [%d,%d,%v] for input [%d,%d,%v]", voxrefine.ErrShapeMismatch,
			w.Batch, w.Channels, w.Dims, in.Batch, in.Channels, in.Dims)
	}
	return nil
}
