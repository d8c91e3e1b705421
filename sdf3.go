package voxrefine

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// SDF3 is the interface to a 3d signed distance function object.
type SDF3 interface {
	// Evaluate takes a point in 3D space as input and returns
	// the minimum distance of the SDF3 to the point. The distance
	// is negative if the point is contained within the SDF3.
	Evaluate(p r3.Vec) float64
	// Bounds returns the bounding box that completely contains
	// the SDF3.
	Bounds() r3.Box
}

// GridPos returns the position of voxel p of a res³ grid spanning [-1,1]³.
// Voxel i sits at i/res*2-1, which is the inverse of mesh vertex normalization.
func GridPos(p V3i, res int) r3.Vec {
	k := 2 / float64(res)
	return r3.Vec{
		X: float64(p[0])*k - 1,
		Y: float64(p[1])*k - 1,
		Z: float64(p[2])*k - 1,
	}
}

// Sample evaluates each SDF3 on a res³ grid spanning [-1,1]³ and keeps every
// voxel with distance below band. Shape i is stored as batch element i.
// Keeping the whole interior means voxels left at a positive fill value are
// always outside the shape.
func Sample(res int, band float64, shapes ...SDF3) SparseField {
	var sf SparseField
	for b, s := range shapes {
		bb := s.Bounds()
		// Restrict the scan to the voxel range of the bounds grown by band.
		lo, hi := gridRange(bb.Min, res, -band), gridRange(bb.Max, res, band)
		for x := maxInt(lo[0], 0); x <= minInt(hi[0], res-1); x++ {
			for y := maxInt(lo[1], 0); y <= minInt(hi[1], res-1); y++ {
				for z := maxInt(lo[2], 0); z <= minInt(hi[2], res-1); z++ {
					p := V3i{x, y, z}
					d := s.Evaluate(GridPos(p, res))
					if d < band {
						sf.Coords = append(sf.Coords, Coord{Batch: b, V3i: p})
						sf.Values = append(sf.Values, float32(d))
					}
				}
			}
		}
	}
	return sf
}

func gridRange(v r3.Vec, res int, pad float64) V3i {
	f := func(x float64) int { return int((x+pad+1)*float64(res)/2) + sign(pad) }
	return V3i{f(v.X), f(v.Y), f(v.Z)}
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}

// SampleDense evaluates each SDF3 at every voxel of a res³ grid spanning [-1,1]³.
// Shape i is stored as batch element i.
func SampleDense(res int, shapes ...SDF3) *Volume {
	v := NewVolume(len(shapes), 1, Cube(res))
	for b, s := range shapes {
		grid := v.Grid(b, 0)
		for x := 0; x < res; x++ {
			for y := 0; y < res; y++ {
				for z := 0; z < res; z++ {
					p := V3i{x, y, z}
					grid[(x*res+y)*res+z] = float32(s.Evaluate(GridPos(p, res)))
				}
			}
		}
	}
	return v
}
