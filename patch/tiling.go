package patch

import (
	"context"
	"fmt"
	"runtime"

	"github.com/soypat/voxrefine"
	"golang.org/x/sync/errgroup"
)

// Tiling describes a cubic volume of side Res covered by Steps³ cubic patches
// of side Size whose origins are Stride apart along every axis.
type Tiling struct {
	Res    int
	Size   int
	Steps  int
	Stride int
}

// NewTiling computes the stride for res, size and steps and checks the patches
// tile the volume exactly. Neighboring patches may overlap by at most one stride
// so that no voxel is shared by more than two patches along an axis.
func NewTiling(res, size, steps int) (Tiling, error) {
	if res <= 0 || size <= 0 || steps <= 0 {
		return Tiling{}, fmt.Errorf("%w: res=%d size=%d steps=%d must be positive", voxrefine.ErrInvalidTiling, res, size, steps)
	}
	if size > res {
		return Tiling{}, fmt.Errorf("%w: patch size %d larger than volume %d", voxrefine.ErrInvalidTiling, size, res)
	}
	if steps == 1 {
		if size != res {
			return Tiling{}, fmt.Errorf("%w: single patch of size %d cannot cover volume %d", voxrefine.ErrInvalidTiling, size, res)
		}
		return Tiling{Res: res, Size: size, Steps: 1, Stride: size}, nil
	}
	if (res-size)%(steps-1) != 0 {
		return Tiling{}, fmt.Errorf("%w: (%d-%d)/(%d-1) is not an integer stride", voxrefine.ErrInvalidTiling, res, size, steps)
	}
	t := Tiling{Res: res, Size: size, Steps: steps, Stride: (res - size) / (steps - 1)}
	if err := t.Validate(); err != nil {
		return Tiling{}, err
	}
	return t, nil
}

// Validate checks the structural invariant stride*(steps-1)+size == res.
func (t Tiling) Validate() error {
	switch {
	case t.Stride <= 0 || t.Size <= 0 || t.Steps <= 0:
		return fmt.Errorf("%w: %+v has non-positive parameters", voxrefine.ErrInvalidTiling, t)
	case t.Stride*(t.Steps-1)+t.Size != t.Res:
		return fmt.Errorf("%w: %d*(%d-1)+%d != %d", voxrefine.ErrInvalidTiling, t.Stride, t.Steps, t.Size, t.Res)
	case t.Steps > 1 && t.Overlap() > t.Stride:
		return fmt.Errorf("%w: overlap %d exceeds stride %d", voxrefine.ErrInvalidTiling, t.Overlap(), t.Stride)
	case t.Steps > 1 && t.Overlap() < 0:
		return fmt.Errorf("%w: stride %d leaves gaps between patches of size %d", voxrefine.ErrInvalidTiling, t.Stride, t.Size)
	}
	return nil
}

// Overlap returns the number of voxels shared by neighboring patches along an axis.
func (t Tiling) Overlap() int {
	if t.Steps == 1 {
		return 0
	}
	return t.Size - t.Stride
}

// Count returns the number of patches, Steps³.
func (t Tiling) Count() int { return t.Steps * t.Steps * t.Steps }

// Origin returns the voxel origin of the n'th patch. Patches are numbered
// i*S*S + j*S + k with i along x, j along y and k along z.
func (t Tiling) Origin(n int) voxrefine.V3i {
	s := t.Steps
	i, j, k := n/(s*s), (n/s)%s, n%s
	return voxrefine.V3i{i, j, k}.Scale(t.Stride)
}

// Origins returns all patch origins in linear order.
func (t Tiling) Origins() []voxrefine.V3i {
	o := make([]voxrefine.V3i, t.Count())
	for n := range o {
		o[n] = t.Origin(n)
	}
	return o
}

// Extract copies the n'th patch out of v.
func (t Tiling) Extract(v *voxrefine.Volume, n int) (*voxrefine.Volume, error) {
	if n < 0 || n >= t.Count() {
		return nil, fmt.Errorf("%w: patch %d of %d", voxrefine.ErrShapeMismatch, n, t.Count())
	}
	return v.Crop(t.Origin(n), voxrefine.Cube(t.Size))
}

// Denoise extracts every patch of sdf and feats, runs d on it and returns the
// results in linear patch order. At most workers patches are in flight at once;
// workers <= 0 uses one per CPU. feats may be nil.
func (t Tiling) Denoise(ctx context.Context, sdf, feats *voxrefine.Volume, d voxrefine.Denoiser, workers int) ([]*voxrefine.Volume, error) {
	if err := t.checkInput(sdf, feats); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([]*voxrefine.Volume, t.Count())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for n := range out {
		n := n
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ps, err := t.Extract(sdf, n)
			if err != nil {
				return err
			}
			var pf *voxrefine.Volume
			if feats != nil {
				pf, err = t.Extract(feats, n)
				if err != nil {
					return err
				}
			}
			res, err := d.Denoise(ps, pf)
			if err != nil {
				return fmt.Errorf("denoise patch %d at %v: %w", n, t.Origin(n), err)
			}
			if err := res.Validate(); err != nil {
				return fmt.Errorf("denoise patch %d: %w", n, err)
			}
			if res.Batch != sdf.Batch || res.Channels != 1 || res.Dims != voxrefine.Cube(t.Size) {
				return fmt.Errorf("%w: denoised patch %d has shape [%d,%d,%v], want [%d,1,%v]",
					voxrefine.ErrShapeMismatch, n, res.Batch, res.Channels, res.Dims, sdf.Batch, voxrefine.Cube(t.Size))
			}
			out[n] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t Tiling) checkInput(sdf, feats *voxrefine.Volume) error {
	if err := sdf.Validate(); err != nil {
		return err
	}
	if sdf.Dims != voxrefine.Cube(t.Res) {
		return fmt.Errorf("%w: volume %v does not match tiling resolution %d", voxrefine.ErrShapeMismatch, sdf.Dims, t.Res)
	}
	if feats == nil {
		return nil
	}
	if err := feats.Validate(); err != nil {
		return err
	}
	if feats.Dims != sdf.Dims || feats.Batch != sdf.Batch {
		return fmt.Errorf("%w: features [%d,%v] do not match volume [%d,%v]", voxrefine.ErrShapeMismatch, feats.Batch, feats.Dims, sdf.Batch, sdf.Dims)
	}
	return nil
}
