package voxrefine

import (
	"fmt"
	"math/bits"
)

// DefaultChunkSize is the number of sparse entries scattered per chunk during densification.
const DefaultChunkSize = 10000

// Densify materializes sf into a [B,1,res,res,res] volume with fill at every
// voxel absent from sf. See DensifyChunked.
func Densify(sf SparseField, res int, fill float32) (*Volume, error) {
	return DensifyChunked(sf, res, fill, DefaultChunkSize)
}

// DensifyChunked is like Densify but scatters at most chunk entries per pass.
// Every coordinate is checked before the volume is allocated, so an out of range
// coordinate never leaves a partially written volume behind. If a coordinate is
// repeated the later entry wins.
func DensifyChunked(sf SparseField, res int, fill float32, chunk int) (*Volume, error) {
	if len(sf.Coords) != len(sf.Values) {
		return nil, fmt.Errorf("%w: %d coordinates for %d values", ErrShapeMismatch, len(sf.Coords), len(sf.Values))
	}
	batch, err := checkCoords(sf.Coords, res)
	if err != nil {
		return nil, err
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	v := NewVolumeFilled(batch, 1, Cube(res), fill)
	for start := 0; start < len(sf.Coords); start += chunk {
		end := minInt(start+chunk, len(sf.Coords))
		for i, c := range sf.Coords[start:end] {
			v.Data[v.Index(c.Batch, 0, c.V3i)] = sf.Values[start+i]
		}
	}
	return v, nil
}

// DensifyFeatures materializes sf into a [B,C,res,res,res] volume filled with zeros
// where sf has no entry.
func DensifyFeatures(sf SparseFeature, res, chunk int) (*Volume, error) {
	if sf.Channels <= 0 || len(sf.Feats) != len(sf.Coords)*sf.Channels {
		return nil, fmt.Errorf("%w: %d features for %d coordinates of %d channels", ErrShapeMismatch, len(sf.Feats), len(sf.Coords), sf.Channels)
	}
	batch, err := checkCoords(sf.Coords, res)
	if err != nil {
		return nil, err
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	v := NewVolume(batch, sf.Channels, Cube(res))
	for start := 0; start < len(sf.Coords); start += chunk {
		end := minInt(start+chunk, len(sf.Coords))
		for i := start; i < end; i++ {
			c := sf.Coords[i]
			feat := sf.Feature(i)
			for ch, f := range feat {
				v.Data[v.Index(c.Batch, ch, c.V3i)] = f
			}
		}
	}
	return v, nil
}

// checkCoords validates every coordinate against res and returns the batch size.
func checkCoords(coords []Coord, res int) (batch int, err error) {
	if res <= 0 {
		return 0, fmt.Errorf("%w: resolution must be positive, got %d", ErrCoordinateOutOfRange, res)
	}
	for i, c := range coords {
		if c.Batch < 0 || !c.V3i.In(res) {
			return 0, &CoordinateError{Index: i, Coord: c, Res: res}
		}
		batch = maxInt(batch, c.Batch+1)
	}
	// An empty field still densifies to a single batch element of fill.
	return maxInt(batch, 1), nil
}

// Sparsify selects voxels of channel 0 of mask whose value is strictly below
// threshold, divides their coordinates by factor and returns the unique
// coarse coordinates sorted by (batch, x, y, z).
func Sparsify(mask *Volume, threshold float32, factor int) ([]Coord, error) {
	if factor < 1 {
		return nil, ErrMsg("sparsify factor must be positive")
	}
	if err := mask.Validate(); err != nil {
		return nil, err
	}
	dims := mask.Dims
	coarse := V3i{
		(dims[0] + factor - 1) / factor,
		(dims[1] + factor - 1) / factor,
		(dims[2] + factor - 1) / factor,
	}
	var out []Coord
	occupied := make([]uint64, (coarse.Prod()+63)/64)
	for b := 0; b < mask.Batch; b++ {
		for i := range occupied {
			occupied[i] = 0
		}
		grid := mask.Grid(b, 0)
		idx := 0
		for x := 0; x < dims[0]; x++ {
			for y := 0; y < dims[1]; y++ {
				row := ((x/factor)*coarse[1] + y/factor) * coarse[2]
				for z := 0; z < dims[2]; z++ {
					if grid[idx] < threshold {
						ci := row + z/factor
						occupied[ci/64] |= 1 << (ci % 64)
					}
					idx++
				}
			}
		}
		// Bit order matches lexicographic (x, y, z) order.
		for w, word := range occupied {
			for word != 0 {
				bit := bits.TrailingZeros64(word)
				word &^= 1 << bit
				ci := w*64 + bit
				out = append(out, Coord{Batch: b, V3i: V3i{
					ci / (coarse[1] * coarse[2]),
					(ci / coarse[2]) % coarse[1],
					ci % coarse[2],
				}})
			}
		}
	}
	return out, nil
}

// Downsample divides every coordinate of sf by factor. When several fine
// coordinates collapse onto one coarse coordinate the first one in input order
// is kept along with its value. Output keeps the order of first occurrence.
func Downsample(sf SparseField, factor int) (SparseField, error) {
	if factor < 1 {
		return SparseField{}, ErrMsg("downsample factor must be positive")
	}
	if len(sf.Coords) != len(sf.Values) {
		return SparseField{}, fmt.Errorf("%w: %d coordinates for %d values", ErrShapeMismatch, len(sf.Coords), len(sf.Values))
	}
	seen := make(map[Coord]struct{}, len(sf.Coords)/4)
	out := SparseField{
		Coords: make([]Coord, 0, len(sf.Coords)/4),
		Values: make([]float32, 0, len(sf.Coords)/4),
	}
	for i, c := range sf.Coords {
		if c.Batch < 0 || c.V3i[0] < 0 || c.V3i[1] < 0 || c.V3i[2] < 0 {
			return SparseField{}, &CoordinateError{Index: i, Coord: c, Res: -1}
		}
		cc := Coord{Batch: c.Batch, V3i: c.V3i.DivScalar(factor)}
		if _, ok := seen[cc]; ok {
			continue
		}
		seen[cc] = struct{}{}
		out.Coords = append(out.Coords, cc)
		out.Values = append(out.Values, sf.Values[i])
	}
	return out, nil
}

// Splice overwrites v's channel 0 at every coordinate of sf with sf's value.
func Splice(v *Volume, sf SparseField) error {
	if len(sf.Coords) != len(sf.Values) {
		return fmt.Errorf("%w: %d coordinates for %d values", ErrShapeMismatch, len(sf.Coords), len(sf.Values))
	}
	for i, c := range sf.Coords {
		if c.Batch < 0 || c.Batch >= v.Batch || !c.V3i.Within(v.Dims) {
			return &CoordinateError{Index: i, Coord: c, Res: v.Dims[0]}
		}
	}
	for i, c := range sf.Coords {
		v.Data[v.Index(c.Batch, 0, c.V3i)] = sf.Values[i]
	}
	return nil
}
