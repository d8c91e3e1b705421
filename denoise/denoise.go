// Package denoise provides reference patch denoisers built on the
// adaptive 27-tap stencil. They stand in for learned models in tests
// and examples.
package denoise

import (
	"github.com/chewxy/math32"
	"github.com/soypat/voxrefine"
	"github.com/x448/float16"
)

// Identity returns channel 0 of the signed distance patch unchanged.
var Identity voxrefine.Denoiser = voxrefine.DenoiserFunc(func(sdf, _ *voxrefine.Volume) (*voxrefine.Volume, error) {
	if err := sdf.Validate(); err != nil {
		return nil, err
	}
	return sdf.Channel(0), nil
})

// DefaultIterations is the number of stencil passes of an adaptive block.
const DefaultIterations = 3

// Smoother is an edge aware smoothing Denoiser. Stencil weights are derived
// from channel 0 of the patch: each in-bounds neighbor is weighted by
// exp(-(Δ/Sigma)²) where Δ is its difference to the center value.
// Sigma <= 0 weights all in-bounds neighbors equally. Features are ignored.
type Smoother struct {
	Iterations int
	Sigma      float32
}

// Denoise implements voxrefine.Denoiser.
func (s Smoother) Denoise(sdf, _ *voxrefine.Volume) (*voxrefine.Volume, error) {
	if err := sdf.Validate(); err != nil {
		return nil, err
	}
	in := sdf.Channel(0)
	it := s.Iterations
	if it == 0 {
		it = DefaultIterations
	}
	return AdaptiveBlock(in, s.weights(in), it)
}

func (s Smoother) weights(in *voxrefine.Volume) *voxrefine.Volume {
	w := voxrefine.NewVolume(in.Batch, Taps, in.Dims)
	d := in.Dims
	for b := 0; b < in.Batch; b++ {
		src := in.Grid(b, 0)
		for t := 0; t < Taps; t++ {
			off := TapOffset(t)
			wt := w.Grid(b, t)
			for x := max(0, -off[0]); x < min(d[0], d[0]-off[0]); x++ {
				for y := max(0, -off[1]); y < min(d[1], d[1]-off[1]); y++ {
					row := (x*d[1] + y) * d[2]
					nrow := ((x+off[0])*d[1] + y + off[1]) * d[2]
					for z := max(0, -off[2]); z < min(d[2], d[2]-off[2]); z++ {
						if s.Sigma <= 0 {
							wt[row+z] = 1
							continue
						}
						delta := (src[nrow+z+off[2]] - src[row+z]) / s.Sigma
						wt[row+z] = math32.Exp(-delta * delta)
					}
				}
			}
		}
	}
	return w
}

// HalfPrecision wraps d so that its inputs and output are rounded to IEEE 754
// binary16, emulating a denoiser evaluated in half precision.
func HalfPrecision(d voxrefine.Denoiser) voxrefine.Denoiser {
	return voxrefine.DenoiserFunc(func(sdf, feats *voxrefine.Volume) (*voxrefine.Volume, error) {
		sdf = toHalf(sdf)
		if feats != nil {
			feats = toHalf(feats)
		}
		out, err := d.Denoise(sdf, feats)
		if err != nil {
			return nil, err
		}
		return toHalf(out), nil
	})
}

// toHalf returns a copy of v with every value rounded to binary16.
func toHalf(v *voxrefine.Volume) *voxrefine.Volume {
	h := v.Clone()
	for i, f := range h.Data {
		h.Data[i] = RoundHalf(f)
	}
	return h
}

// RoundHalf rounds f to the nearest binary16 value.
func RoundHalf(f float32) float32 { return float16.Fromfloat32(f).Float32() }
