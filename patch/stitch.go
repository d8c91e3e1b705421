package patch

import (
	"fmt"

	"github.com/soypat/voxrefine"
	"golang.org/x/sync/errgroup"
)

// Spatial axes of a volume, ordered from slowest to fastest varying.
const (
	axisX = iota
	axisY
	axisZ
)

// BlendWeights returns n weights evenly spaced from 0 to 1 inclusive.
// A single weight is 0 so the earlier patch wins.
func BlendWeights(n int) []float32 {
	if n <= 0 {
		return nil
	}
	w := make([]float32, n)
	if n == 1 {
		return w
	}
	for t := range w {
		w[t] = float32(t) / float32(n-1)
	}
	return w
}

// Stitch merges patches, in the linear order produced by Denoise, back into a
// single volume of side Res. Patches are first merged along z into lines, lines
// along y into layers and layers along x into the volume. Every merge cross-fades
// the overlap between neighbors with BlendWeights and allocates its own output.
func (t Tiling) Stitch(patches []*voxrefine.Volume) (*voxrefine.Volume, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(patches) != t.Count() {
		return nil, fmt.Errorf("%w: got %d patches, tiling needs %d", voxrefine.ErrAssemblyGap, len(patches), t.Count())
	}
	first := patches[0]
	for n, p := range patches {
		if p == nil || p.Validate() != nil || p.Dims != voxrefine.Cube(t.Size) ||
			p.Batch != first.Batch || p.Channels != first.Channels {
			return nil, fmt.Errorf("%w: patch %d does not have the shape of a %d³ patch", voxrefine.ErrAssemblyGap, n, t.Size)
		}
	}
	s := t.Steps
	w := BlendWeights(t.Overlap())

	lines := make([]*voxrefine.Volume, s*s)
	var g errgroup.Group
	for l := range lines {
		l := l
		g.Go(func() (err error) {
			lines[l], err = mergeAxis(patches[l*s:(l+1)*s], axisZ, t.Stride, w)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	layers := make([]*voxrefine.Volume, s)
	for i := range layers {
		i := i
		g.Go(func() (err error) {
			layers[i], err = mergeAxis(lines[i*s:(i+1)*s], axisY, t.Stride, w)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeAxis(layers, axisX, t.Stride, w)
}

// mergeAxis places parts stride apart along axis and cross-fades each
// overlapping band of len(w) voxels. All parts must share a shape.
func mergeAxis(parts []*voxrefine.Volume, axis, stride int, w []float32) (*voxrefine.Volume, error) {
	n := len(parts)
	if n == 0 {
		return nil, fmt.Errorf("%w: nothing to merge", voxrefine.ErrAssemblyGap)
	}
	dims := parts[0].Dims
	for _, p := range parts[1:] {
		if !p.SameShape(parts[0]) {
			return nil, fmt.Errorf("%w: parts along axis %d differ in shape", voxrefine.ErrAssemblyGap, axis)
		}
	}
	size := dims[axis]
	overlap := len(w)
	if n > 1 && size-stride != overlap {
		return nil, fmt.Errorf("%w: overlap %d along axis %d, blend weights for %d", voxrefine.ErrAssemblyGap, size-stride, axis, overlap)
	}
	outSize := stride*(n-1) + size
	if n == 1 {
		outSize = size
	}
	if err := checkCoverage(n, size, stride, overlap, outSize); err != nil {
		return nil, fmt.Errorf("axis %d: %w", axis, err)
	}

	outDims := dims
	outDims[axis] = outSize
	out := voxrefine.NewVolume(parts[0].Batch, parts[0].Channels, outDims)
	// Data is viewed as [outer][size][inner] with the merge axis in the middle.
	outer := parts[0].Batch * parts[0].Channels
	for a := 0; a < axis; a++ {
		outer *= dims[a]
	}
	inner := 1
	for a := axis + 1; a < 3; a++ {
		inner *= dims[a]
	}
	for k, p := range parts {
		lo, hi := bodySpan(k, n, size, stride, overlap)
		for o := 0; o < outer; o++ {
			src := p.Data[(o*size+lo)*inner : (o*size+hi)*inner]
			dst := out.Data[(o*outSize+k*stride+lo)*inner:]
			copy(dst, src)
		}
		if k == n-1 {
			break
		}
		// Blend the tail of part k with the head of part k+1.
		next := parts[k+1]
		for o := 0; o < outer; o++ {
			for t, wt := range w {
				a := p.Data[(o*size+stride+t)*inner : (o*size+stride+t+1)*inner]
				b := next.Data[(o*size+t)*inner : (o*size+t+1)*inner]
				dst := out.Data[(o*outSize+(k+1)*stride+t)*inner : (o*outSize+(k+1)*stride+t+1)*inner]
				for i := range dst {
					dst[i] = a[i]*(1-wt) + b[i]*wt
				}
			}
		}
	}
	return out, nil
}

// bodySpan returns the local range of part k copied without blending.
func bodySpan(k, n, size, stride, overlap int) (lo, hi int) {
	hi = size
	if k > 0 {
		lo = overlap
	}
	if k < n-1 {
		hi = stride
	}
	return lo, hi
}

// checkCoverage verifies every output position along the merge axis is
// written by exactly one copy or blend.
func checkCoverage(n, size, stride, overlap, outSize int) error {
	count := make([]int, outSize)
	for k := 0; k < n; k++ {
		lo, hi := bodySpan(k, n, size, stride, overlap)
		for l := lo; l < hi; l++ {
			if p := k*stride + l; p >= 0 && p < outSize {
				count[p]++
			}
		}
		if k < n-1 {
			for t := 0; t < overlap; t++ {
				if p := (k+1)*stride + t; p < outSize {
					count[p]++
				}
			}
		}
	}
	for p, c := range count {
		if c != 1 {
			return fmt.Errorf("%w: position %d written %d times", voxrefine.ErrAssemblyGap, p, c)
		}
	}
	return nil
}
