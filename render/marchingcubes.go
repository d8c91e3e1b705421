package render

import (
	"context"
	"fmt"
	"runtime"

	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/voxrefine"
	"golang.org/x/sync/errgroup"
)

// Cube corners are numbered
//
//	c0 (0,0,0)  c1 (1,0,0)  c2 (1,1,0)  c3 (0,1,0)
//	c4 (0,0,1)  c5 (1,0,1)  c6 (1,1,1)  c7 (0,1,1)
var mcCorners = [8]voxrefine.V3i{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// mcEdges lists the corner pair of each of the 12 cube edges.
var mcEdges = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// mcFaces lists the corners of each face counter-clockwise as seen from
// outside the cube: z=0, z=1, y=0, y=1, x=0, x=1.
var mcFaces = [6][4]int{
	{0, 3, 2, 1}, {4, 5, 6, 7},
	{0, 1, 5, 4}, {3, 7, 6, 2},
	{0, 4, 7, 3}, {1, 2, 6, 5},
}

const (
	// marchingCubesMaxTriangles is the most triangles a single cube can emit.
	marchingCubesMaxTriangles = 12
	// mcBlock is the side in cubes of the blocks tested for emptiness before marching.
	mcBlock = 16
)

var (
	// mcTable holds the polygonization of every corner configuration and every
	// choice of face connectivity. Bit f of the second index is set when the
	// inside corners of ambiguous face f are joined through the face.
	mcTable [256][64]mcCase
	// mcEdgeID maps a corner pair to its edge.
	mcEdgeID [8][8]int8
	// mcEdgeFaces is a bitset of the two faces each edge lies on.
	mcEdgeFaces [12]uint8
	// Per edge: lower endpoint offset and the axis the edge runs along.
	mcEdgeBase [12]voxrefine.V3i
	mcEdgeAxis [12]int
)

func init() {
	for i := range mcEdgeID {
		for j := range mcEdgeID[i] {
			mcEdgeID[i][j] = -1
		}
	}
	for e, c := range mcEdges {
		a, b := mcCorners[c[0]], mcCorners[c[1]]
		mcEdgeID[c[0]][c[1]] = int8(e)
		mcEdgeID[c[1]][c[0]] = int8(e)
		for ax := 0; ax < 3; ax++ {
			if a[ax] != b[ax] {
				mcEdgeAxis[e] = ax
			}
			mcEdgeBase[e][ax] = min(a[ax], b[ax])
		}
	}
	for f, q := range mcFaces {
		for i := 0; i < 4; i++ {
			mcEdgeFaces[mcEdgeID[q[i]][q[(i+1)%4]]] |= 1 << f
		}
	}
	for config := 0; config < 256; config++ {
		for mask := 0; mask < 64; mask++ {
			mcTable[config][mask] = mcTriangulate(uint8(config), uint8(mask))
		}
	}
}

// mcCase is the triangulation of one cube case. Triangle indices below 12 are
// edges; index 12+k is a vertex at the centroid of the edges in centers[k].
type mcCase struct {
	tris    []uint8
	centers [][]uint8
}

type mcCrossing struct {
	edge int8
	exit bool // walking the face, the edge goes from inside to outside
}

// mcContour returns the contour walk of a cube case: next[e] is the edge the
// segment leaving edge e ends on, or -1.
func mcContour(config, mask uint8) (next [12]int8) {
	for i := range next {
		next[i] = -1
	}
	inside := func(c int) bool { return config>>c&1 == 1 }
	for f, q := range mcFaces {
		var xs [4]mcCrossing
		n := 0
		for i := 0; i < 4; i++ {
			a, b := q[i], q[(i+1)%4]
			if inside(a) == inside(b) {
				continue
			}
			xs[n] = mcCrossing{edge: mcEdgeID[a][b], exit: inside(a)}
			n++
		}
		switch n {
		case 2:
			if xs[0].exit {
				next[xs[0].edge] = xs[1].edge
			} else {
				next[xs[1].edge] = xs[0].edge
			}
		case 4:
			// Joined inside corners: each exit pairs with the following enter,
			// cutting off the outside corners. Otherwise pair with the previous enter.
			step := 3
			if mask>>f&1 == 1 {
				step = 1
			}
			for i, x := range xs {
				if x.exit {
					next[x.edge] = xs[(i+step)%4].edge
				}
			}
		}
	}
	return next
}

// mcTriangulate builds the isosurface polygons of a cube by walking each face
// counter-clockwise. On every face a contour segment runs from an edge where
// the walk leaves the inside region to the edge where it next enters it.
// Segments on neighboring faces share edges and chain into closed loops, which
// are fan triangulated with outward (toward outside corners) normals.
//
// A fan diagonal joining two edges of the same face would also be produced by
// the neighbor sharing that face, so fans start at an edge with no such
// diagonal. Loops where every start has one are fanned from their centroid.
func mcTriangulate(config, mask uint8) (mc mcCase) {
	next := mcContour(config, mask)
	var visited [12]bool
	for e := range next {
		if next[e] < 0 || visited[e] {
			continue
		}
		var loop []uint8
		for cur := e; !visited[cur]; cur = int(next[cur]) {
			visited[cur] = true
			loop = append(loop, uint8(cur))
		}
		n := len(loop)
		start := mcFanStart(loop)
		if start < 0 {
			c := uint8(12 + len(mc.centers))
			mc.centers = append(mc.centers, loop)
			for i := range loop {
				mc.tris = append(mc.tris, c, loop[(i+1)%n], loop[i])
			}
			continue
		}
		for i := 1; i+1 < n; i++ {
			mc.tris = append(mc.tris, loop[start], loop[(start+i+1)%n], loop[(start+i)%n])
		}
	}
	return mc
}

// mcFanStart returns the index of a loop edge whose fan diagonals all cross
// the cube interior, or -1 if there is none.
func mcFanStart(loop []uint8) int {
	n := len(loop)
	for r := 0; r < n; r++ {
		ok := true
		for i := 2; i <= n-2 && ok; i++ {
			ok = mcEdgeFaces[loop[r]]&mcEdgeFaces[loop[(r+i)%n]] == 0
		}
		if ok {
			return r
		}
	}
	return -1
}

// faceJoined reports whether the inside corners of an ambiguous face with
// corner values a, b, c, d (in cyclic order) are connected through the face.
// This is the asymptotic decider: the bilinear interpolant's saddle value
// (ac-bd)/(a+c-b-d) is compared against iso. The result does not depend on
// which corner the cycle starts at or its direction, so neighboring cubes
// sharing the face always agree.
func faceJoined(a, b, c, d, iso float32) bool {
	fa, fb, fc, fd := float64(a)-float64(iso), float64(b)-float64(iso), float64(c)-float64(iso), float64(d)-float64(iso)
	num := fa*fc - fb*fd
	den := (fa + fc) - (fb + fd)
	return num/den < 0
}

// ExtractMesh runs marching cubes over channel 0 of batch element b of v.
// A corner is inside when its value is below iso. Vertices are shared between
// neighboring cubes and mapped from voxel index space to [-1,1] by v/res*2-1.
// ErrEmptyIsosurface is returned when no triangle is produced.
func ExtractMesh(v *voxrefine.Volume, b int, iso float32) (Mesh, error) {
	if err := v.Validate(); err != nil {
		return Mesh{}, err
	}
	if b < 0 || b >= v.Batch {
		return Mesh{}, fmt.Errorf("%w: batch %d of %d", voxrefine.ErrShapeMismatch, b, v.Batch)
	}
	dims := v.Dims
	if dims[0] < 2 || dims[1] < 2 || dims[2] < 2 {
		return Mesh{}, fmt.Errorf("%w: volume %v too small for marching cubes", voxrefine.ErrShapeMismatch, dims)
	}
	mc := mcExtractor{
		grid:  v.Grid(b, 0),
		dims:  dims,
		iso:   iso,
		verts: make(map[int]int),
	}
	cubes := dims.AddScalar(-1)
	for bx := 0; bx < cubes[0]; bx += mcBlock {
		for by := 0; by < cubes[1]; by += mcBlock {
			for bz := 0; bz < cubes[2]; bz += mcBlock {
				lo := voxrefine.V3i{bx, by, bz}
				hi := voxrefine.V3i{
					min(bx+mcBlock, cubes[0]),
					min(by+mcBlock, cubes[1]),
					min(bz+mcBlock, cubes[2]),
				}
				if mc.blockEmpty(lo, hi) {
					continue
				}
				mc.marchBlock(lo, hi)
			}
		}
	}
	if len(mc.mesh.Faces) == 0 {
		return Mesh{}, fmt.Errorf("batch %d at level %g: %w", b, iso, voxrefine.ErrEmptyIsosurface)
	}
	return mc.mesh, nil
}

// ExtractMeshes extracts one mesh per batch element concurrently. Meshes are
// returned in batch order. workers <= 0 uses one per CPU.
func ExtractMeshes(ctx context.Context, v *voxrefine.Volume, iso float32, workers int) ([]Mesh, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	meshes := make([]Mesh, v.Batch)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for b := range meshes {
		b := b
		g.Go(func() (err error) {
			if err = gctx.Err(); err != nil {
				return err
			}
			meshes[b], err = ExtractMesh(v, b, iso)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return meshes, nil
}

type mcExtractor struct {
	grid  []float32
	dims  voxrefine.V3i
	iso   float32
	verts map[int]int // edge or corner key to vertex index
	mesh  Mesh
}

func (mc *mcExtractor) at(x, y, z int) float32 {
	return mc.grid[(x*mc.dims[1]+y)*mc.dims[2]+z]
}

// blockEmpty reports whether no cube in [lo,hi) can straddle the iso-value.
func (mc *mcExtractor) blockEmpty(lo, hi voxrefine.V3i) bool {
	hasIn, hasOut := false, false
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			row := mc.grid[(x*mc.dims[1]+y)*mc.dims[2]:]
			for z := lo[2]; z <= hi[2]; z++ {
				if row[z] < mc.iso {
					hasIn = true
				} else {
					hasOut = true
				}
				if hasIn && hasOut {
					return false
				}
			}
		}
	}
	return true
}

func (mc *mcExtractor) marchBlock(lo, hi voxrefine.V3i) {
	var vals [8]float32
	for x := lo[0]; x < hi[0]; x++ {
		for y := lo[1]; y < hi[1]; y++ {
			for z := lo[2]; z < hi[2]; z++ {
				var config uint8
				for i, c := range mcCorners {
					vals[i] = mc.at(x+c[0], y+c[1], z+c[2])
					if vals[i] < mc.iso {
						config |= 1 << i
					}
				}
				if config == 0 || config == 0xff {
					continue
				}
				var mask uint8
				for f, q := range mcFaces {
					in0, in1 := config>>q[0]&1, config>>q[1]&1
					in2, in3 := config>>q[2]&1, config>>q[3]&1
					if in0 == in2 && in1 == in3 && in0 != in1 {
						if faceJoined(vals[q[0]], vals[q[1]], vals[q[2]], vals[q[3]], mc.iso) {
							mask |= 1 << f
						}
					}
				}
				c := &mcTable[config][mask]
				var ids [12 + 4]int
				for i := range ids {
					ids[i] = -1
				}
				for i := 0; i < len(c.tris); i += 3 {
					f := [3]int{
						mc.caseVertex(x, y, z, c, c.tris[i], &ids, &vals),
						mc.caseVertex(x, y, z, c, c.tris[i+1], &ids, &vals),
						mc.caseVertex(x, y, z, c, c.tris[i+2], &ids, &vals),
					}
					// Samples exactly at iso collapse edge vertices onto a corner.
					if f[0] == f[1] || f[1] == f[2] || f[2] == f[0] {
						continue
					}
					mc.mesh.Faces = append(mc.mesh.Faces, f)
				}
			}
		}
	}
}

// caseVertex resolves triangle index k of case c in the cube at (x,y,z).
func (mc *mcExtractor) caseVertex(x, y, z int, c *mcCase, k uint8, ids *[16]int, vals *[8]float32) int {
	if ids[k] >= 0 {
		return ids[k]
	}
	if k < 12 {
		ids[k] = mc.vertex(x, y, z, k, vals)
		return ids[k]
	}
	var sum ms3.Vec
	loop := c.centers[k-12]
	for _, e := range loop {
		if ids[e] < 0 {
			ids[e] = mc.vertex(x, y, z, e, vals)
		}
		sum = ms3.Add(sum, mc.mesh.Vertices[ids[e]])
	}
	ids[k] = len(mc.mesh.Vertices)
	mc.mesh.Vertices = append(mc.mesh.Vertices, ms3.Scale(1/float32(len(loop)), sum))
	return ids[k]
}

// vertex returns the index of the vertex on edge e of the cube at (x,y,z),
// creating it on first use.
func (mc *mcExtractor) vertex(x, y, z int, e uint8, vals *[8]float32) int {
	base := mcEdgeBase[e]
	axis := mcEdgeAxis[e]
	p := voxrefine.V3i{x + base[0], y + base[1], z + base[2]}
	c0, c1 := mcEdges[e][0], mcEdges[e][1]
	if mcCorners[c0][axis] > mcCorners[c1][axis] {
		c0, c1 = c1, c0
	}
	v0, v1 := vals[c0], vals[c1]
	t := (mc.iso - v0) / (v1 - v0)
	key := (mc.linear(p)*3 + axis) + 1
	switch {
	case t <= 0:
		t, key = 0, -mc.linear(p)-1
	case t >= 1:
		p[axis]++
		t, key = 0, -mc.linear(p)-1
	}
	if idx, ok := mc.verts[key]; ok {
		return idx
	}
	pos := [3]float32{float32(p[0]), float32(p[1]), float32(p[2])}
	pos[axis] += t
	vert := ms3.Vec{
		X: pos[0]/float32(mc.dims[0])*2 - 1,
		Y: pos[1]/float32(mc.dims[1])*2 - 1,
		Z: pos[2]/float32(mc.dims[2])*2 - 1,
	}
	idx := len(mc.mesh.Vertices)
	mc.mesh.Vertices = append(mc.mesh.Vertices, vert)
	mc.verts[key] = idx
	return idx
}

func (mc *mcExtractor) linear(p voxrefine.V3i) int {
	return (p[0]*mc.dims[1]+p[1])*mc.dims[2] + p[2]
}
