// Package udf computes unsigned distance fields of triangle meshes on a
// voxel grid and derives sparse voxel indices from them.
package udf

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/voxrefine"
	"github.com/soypat/voxrefine/internal/d3"
	"github.com/soypat/voxrefine/render"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
)

// Device names where mesh buffers live. Vertices and faces must share a device.
type Device string

// CPU is the host device.
const CPU Device = "cpu"

// Vertices is a vertex buffer placed on a device.
type Vertices struct {
	Device Device
	Data   []r3.Vec
}

// Faces is a triangle index buffer placed on a device.
type Faces struct {
	Device Device
	Data   [][3]int
}

// Fill is the value of voxels farther than the threshold from every triangle.
const Fill = 1.0

// FromMesh copies the vertices and faces of m into host buffers.
func FromMesh(m render.Mesh) (Vertices, Faces) {
	v := Vertices{Device: CPU, Data: make([]r3.Vec, len(m.Vertices))}
	for i, p := range m.Vertices {
		v.Data[i] = r3.Vec{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
	}
	f := Faces{Device: CPU, Data: append([][3]int(nil), m.Faces...)}
	return v, f
}

// ComputeUDF returns a [1,1,dim³] volume holding, for every voxel within
// threshold voxel lengths of the mesh, the distance to the nearest triangle.
// Voxel i is centered at i/dim*2-1 and distances are measured in unit cube
// lengths, half the [-1,1] world length, so one voxel spans 1/dim.
// All other voxels hold Fill.
//
// Mismatched buffer devices fail with voxrefine.ErrDeviceMismatch before any work.
// Work is split in x slabs over workers goroutines; workers <= 0 uses one per CPU.
func ComputeUDF(ctx context.Context, v Vertices, f Faces, dim int, threshold float64, workers int) (*voxrefine.Volume, error) {
	if v.Device != f.Device {
		return nil, fmt.Errorf("%w: vertices on %q, faces on %q", voxrefine.ErrDeviceMismatch, v.Device, f.Device)
	}
	if v.Device != CPU {
		return nil, fmt.Errorf("%w: no kernel for device %q", voxrefine.ErrDeviceMismatch, v.Device)
	}
	if dim < 1 {
		return nil, fmt.Errorf("bad UDF resolution %d", dim)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("bad UDF threshold %g", threshold)
	}
	tris := make([]d3.Triangle, len(f.Data))
	bounds := make([]d3.Box, len(f.Data))
	// World space reach of the threshold.
	reach := 2 * threshold / float64(dim)
	for i, face := range f.Data {
		for j, vi := range face {
			if vi < 0 || vi >= len(v.Data) {
				return nil, fmt.Errorf("face %d references vertex %d of %d", i, vi, len(v.Data))
			}
			tris[i][j] = v.Data[vi]
		}
		bounds[i] = tris[i].Bounds().Enlarge(reach)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := voxrefine.NewVolumeFilled(1, 1, voxrefine.Cube(dim), Fill)
	grid := out.Grid(0, 0)
	slab := (dim + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for x0 := 0; x0 < dim; x0 += slab {
		x0 := x0
		x1 := min(x0+slab, dim)
		g.Go(func() error {
			limit := threshold / float64(dim)
			for i, tri := range tris {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				lo, hi := voxelRange(bounds[i], dim)
				lo[0], hi[0] = max(lo[0], x0), min(hi[0], x1-1)
				for x := lo[0]; x <= hi[0]; x++ {
					for y := lo[1]; y <= hi[1]; y++ {
						for z := lo[2]; z <= hi[2]; z++ {
							p := voxrefine.GridPos(voxrefine.V3i{x, y, z}, dim)
							d := tri.Distance(p) / 2
							idx := (x*dim+y)*dim + z
							if d <= limit && float32(d) < grid[idx] {
								grid[idx] = float32(d)
							}
						}
					}
				}
			}
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

// voxelRange returns the inclusive voxel index range whose centers lie in bb,
// widened by one voxel so rounding never drops a voxel on the boundary.
func voxelRange(bb d3.Box, dim int) (lo, hi voxrefine.V3i) {
	k := float64(dim) / 2
	lo = voxrefine.V3i{
		int(math.Ceil((bb.Min.X+1)*k)) - 1,
		int(math.Ceil((bb.Min.Y+1)*k)) - 1,
		int(math.Ceil((bb.Min.Z+1)*k)) - 1,
	}
	hi = voxrefine.V3i{
		int(math.Floor((bb.Max.X+1)*k)) + 1,
		int(math.Floor((bb.Max.Y+1)*k)) + 1,
		int(math.Floor((bb.Max.Z+1)*k)) + 1,
	}
	for i := 0; i < 3; i++ {
		lo[i] = max(lo[i], 0)
		hi[i] = min(hi[i], dim-1)
	}
	return lo, hi
}

// NormalizeMesh returns a copy of m centered at the origin and uniformly
// scaled so its longest side spans [-scale, scale].
func NormalizeMesh(m render.Mesh, scale float32) render.Mesh {
	out := render.Mesh{
		Vertices: make([]ms3.Vec, len(m.Vertices)),
		Faces:    append([][3]int(nil), m.Faces...),
	}
	if len(m.Vertices) == 0 {
		return out
	}
	bb := m.Bounds()
	size := ms3.Sub(bb.Max, bb.Min)
	dist := max(size.X, size.Y, size.Z)
	k := float32(1)
	if dist > 0 {
		k = 2 * scale / dist
	}
	offset := ms3.Scale(-0.5, ms3.Add(bb.Min, bb.Max))
	for i, v := range m.Vertices {
		out.Vertices[i] = ms3.Scale(k, ms3.Add(v, offset))
	}
	return out
}

// IndexThreshold is the distance in voxels of the shell selected by MeshToIndex.
const IndexThreshold = 4

// MeshToIndex computes the UDF of m on a size³ grid and returns the sparse
// coordinates of the voxels within IndexThreshold voxels of the surface,
// divided by factor and deduplicated. m should lie within [-1,1]³.
func MeshToIndex(ctx context.Context, m render.Mesh, size, factor, workers int) ([]voxrefine.Coord, error) {
	v, f := FromMesh(m)
	udf, err := ComputeUDF(ctx, v, f, size, IndexThreshold, workers)
	if err != nil {
		return nil, err
	}
	return voxrefine.Sparsify(udf, float32(IndexThreshold)/float32(size), factor)
}
