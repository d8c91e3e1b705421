package voxrefine

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Volume is a dense grid of float32 values laid out as [Batch][Channels][X][Y][Z]
// with Z varying fastest. Patches, stitched lines and layers are all Volumes.
type Volume struct {
	Batch    int
	Channels int
	Dims     V3i
	Data     []float32
}

// NewVolume allocates a zero valued volume.
func NewVolume(batch, channels int, dims V3i) *Volume {
	if batch <= 0 || channels <= 0 || dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		panic("volume dimensions must be positive")
	}
	return &Volume{
		Batch:    batch,
		Channels: channels,
		Dims:     dims,
		Data:     make([]float32, batch*channels*dims.Prod()),
	}
}

// NewVolumeFilled allocates a volume with every element set to fill.
func NewVolumeFilled(batch, channels int, dims V3i, fill float32) *Volume {
	v := NewVolume(batch, channels, dims)
	if fill != 0 {
		for i := range v.Data {
			v.Data[i] = fill
		}
	}
	return v
}

// Voxels returns the number of voxels in a single channel grid.
func (v *Volume) Voxels() int { return v.Dims.Prod() }

// Len returns the expected length of Data.
func (v *Volume) Len() int { return v.Batch * v.Channels * v.Dims.Prod() }

// Res returns the side length of a cubic volume and -1 otherwise.
func (v *Volume) Res() int {
	if v.Dims[0] != v.Dims[1] || v.Dims[1] != v.Dims[2] {
		return -1
	}
	return v.Dims[0]
}

// Index returns the position in Data of voxel p of channel c of batch element b.
func (v *Volume) Index(b, c int, p V3i) int {
	return (((b*v.Channels+c)*v.Dims[0]+p[0])*v.Dims[1]+p[1])*v.Dims[2] + p[2]
}

func (v *Volume) At(b, c int, p V3i) float32 { return v.Data[v.Index(b, c, p)] }

func (v *Volume) Set(b, c int, p V3i, f float32) { v.Data[v.Index(b, c, p)] = f }

// Grid returns the slice of Data holding channel c of batch element b.
func (v *Volume) Grid(b, c int) []float32 {
	n := v.Voxels()
	start := (b*v.Channels + c) * n
	return v.Data[start : start+n : start+n]
}

// Validate checks the volume's shape is consistent with its data.
func (v *Volume) Validate() error {
	if v == nil {
		return fmt.Errorf("%w: nil volume", ErrShapeMismatch)
	}
	if v.Batch <= 0 || v.Channels <= 0 || v.Dims[0] <= 0 || v.Dims[1] <= 0 || v.Dims[2] <= 0 {
		return fmt.Errorf("%w: non-positive volume shape [%d,%d,%v]", ErrShapeMismatch, v.Batch, v.Channels, v.Dims)
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("%w: volume data length %d, want %d", ErrShapeMismatch, len(v.Data), v.Len())
	}
	return nil
}

// SameShape reports whether both volumes have identical batch, channel and spatial sizes.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Batch == o.Batch && v.Channels == o.Channels && v.Dims == o.Dims
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	c := *v
	c.Data = append([]float32(nil), v.Data...)
	return &c
}

// Crop copies the box of the given size starting at origin out of every
// batch element and channel.
func (v *Volume) Crop(origin, size V3i) (*Volume, error) {
	end := origin.Add(size)
	for i := 0; i < 3; i++ {
		if origin[i] < 0 || size[i] <= 0 || end[i] > v.Dims[i] {
			return nil, fmt.Errorf("%w: crop %v+%v outside volume %v", ErrShapeMismatch, origin, size, v.Dims)
		}
	}
	dst := NewVolume(v.Batch, v.Channels, size)
	for b := 0; b < v.Batch; b++ {
		for c := 0; c < v.Channels; c++ {
			for x := 0; x < size[0]; x++ {
				for y := 0; y < size[1]; y++ {
					si := v.Index(b, c, V3i{origin[0] + x, origin[1] + y, origin[2]})
					di := dst.Index(b, c, V3i{x, y, 0})
					copy(dst.Data[di:di+size[2]], v.Data[si:si+size[2]])
				}
			}
		}
	}
	return dst, nil
}

// Channel copies channel c of every batch element into a single channel volume.
func (v *Volume) Channel(c int) *Volume {
	dst := NewVolume(v.Batch, 1, v.Dims)
	for b := 0; b < v.Batch; b++ {
		copy(dst.Grid(b, 0), v.Grid(b, c))
	}
	return dst
}

// MinMax returns the smallest and largest value of a channel grid.
func MinMax(grid []float32) (min, max float32) {
	min, max = math32.Inf(1), math32.Inf(-1)
	for _, f := range grid {
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	return min, max
}

// UpsampleNearest repeats every voxel factor times along each spatial axis,
// so the output voxel p takes the value of input voxel p/factor.
func UpsampleNearest(v *Volume, factor int) (*Volume, error) {
	if factor < 1 {
		return nil, ErrMsg("upsample factor must be positive")
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	dims := v.Dims.Scale(factor)
	dst := NewVolume(v.Batch, v.Channels, dims)
	row := make([]float32, dims[2])
	for b := 0; b < v.Batch; b++ {
		for c := 0; c < v.Channels; c++ {
			for x := 0; x < dims[0]; x++ {
				for y := 0; y < dims[1]; y++ {
					si := v.Index(b, c, V3i{x / factor, y / factor, 0})
					for z := range row {
						row[z] = v.Data[si+z/factor]
					}
					di := dst.Index(b, c, V3i{x, y, 0})
					copy(dst.Data[di:di+dims[2]], row)
				}
			}
		}
	}
	return dst, nil
}
