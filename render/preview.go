package render

import (
	"errors"
	"fmt"
	"image"

	"github.com/fogleman/fauxgl"
	"github.com/nfnt/resize"
	"github.com/soypat/voxrefine"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// View configures the camera used by Preview.
type View struct {
	// what position (point) to look at
	LookAt r3.Vec
	// which way is up (direction)
	Up r3.Vec
	// where the camera/eye located at (point)
	Eye       r3.Vec
	Near, Far float64
	// Output size in pixels.
	Width, Height int
}

// DefaultView looks at the origin from (3,3,3) with z up.
func DefaultView() View {
	return View{
		Up:     r3.Vec{Z: 1},
		Eye:    r3.Vec{X: 3, Y: 3, Z: 3},
		Near:   1,
		Far:    10,
		Width:  960,
		Height: 540,
	}
}

// Preview renders m with a Phong shader after fitting it into a bi-unit cube.
func Preview(m Mesh, view View) (image.Image, error) {
	if len(m.Faces) == 0 {
		return nil, errors.New("preview of mesh with no faces")
	}
	if view.Width <= 0 || view.Height <= 0 {
		return nil, fmt.Errorf("bad preview size %dx%d", view.Width, view.Height)
	}
	const (
		scale = 2  // supersampling
		fovy  = 30 // vertical field of view in degrees
	)
	var (
		eye    = fauxgl.V(view.Eye.X, view.Eye.Y, view.Eye.Z)
		center = fauxgl.V(view.LookAt.X, view.LookAt.Y, view.LookAt.Z)
		up     = fauxgl.V(view.Up.X, view.Up.Y, view.Up.Z)
		light  = fauxgl.V(-0.75, 1, 0.25).Normalize() // light direction
		color  = fauxgl.HexColor("#468966")           // object color
	)
	tris := make([]*fauxgl.Triangle, len(m.Faces))
	for i := range m.Faces {
		t := m.Triangle(i)
		tris[i] = fauxgl.NewTriangleForPoints(
			fauxgl.V(float64(t[0].X), float64(t[0].Y), float64(t[0].Z)),
			fauxgl.V(float64(t[1].X), float64(t[1].Y), float64(t[1].Z)),
			fauxgl.V(float64(t[2].X), float64(t[2].Y), float64(t[2].Z)),
		)
	}
	mesh := fauxgl.NewTriangleMesh(tris)
	mesh.BiUnitCube()
	context := fauxgl.NewContext(view.Width*scale, view.Height*scale)
	context.ClearColorBufferWith(fauxgl.HexColor("#FFF8E3"))
	aspect := float64(view.Width) / float64(view.Height)
	matrix := fauxgl.LookAt(eye, center, up).Perspective(fovy, aspect, view.Near, view.Far)
	shader := fauxgl.NewPhongShader(matrix, light, eye)
	shader.ObjectColor = color
	context.Shader = shader
	context.DrawMesh(mesh)
	// downsample image for antialiasing
	return resize.Resize(uint(view.Width), uint(view.Height), context.Image(), resize.Bilinear), nil
}

// SavePreview renders m as in Preview and writes a PNG file.
func SavePreview(path string, m Mesh, view View) error {
	img, err := Preview(m, view)
	if err != nil {
		return err
	}
	return fauxgl.SavePNG(path, img)
}

// sliceGrid exposes one axis-aligned slice of a volume grid as a plotter.GridXYZ.
type sliceGrid struct {
	v     *voxrefine.Volume
	b, c  int
	axis  int
	index int
}

func (s sliceGrid) plane(col, row int) voxrefine.V3i {
	var p voxrefine.V3i
	u, w := (s.axis+1)%3, (s.axis+2)%3
	p[s.axis] = s.index
	p[u] = col
	p[w] = row
	return p
}

func (s sliceGrid) Dims() (c, r int) {
	return s.v.Dims[(s.axis+1)%3], s.v.Dims[(s.axis+2)%3]
}

func (s sliceGrid) Z(c, r int) float64 { return float64(s.v.At(s.b, s.c, s.plane(c, r))) }
func (s sliceGrid) X(c int) float64    { return float64(c) }
func (s sliceGrid) Y(r int) float64    { return float64(r) }

// SaveSlice writes a heat map of channel 0 of batch element b, sliced
// perpendicular to axis (0=x, 1=y, 2=z) at the given index, to path. The image
// format follows the file extension.
func SaveSlice(path string, v *voxrefine.Volume, b, axis, index int) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if axis < 0 || axis > 2 || index < 0 || index >= v.Dims[axis] || b < 0 || b >= v.Batch {
		return fmt.Errorf("%w: slice b=%d axis=%d index=%d of %v", voxrefine.ErrShapeMismatch, b, axis, index, v.Dims)
	}
	grid := sliceGrid{v: v, b: b, axis: axis, index: index}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("batch %d, %c=%d", b, "xyz"[axis], index)
	p.X.Label.Text = string("xyz"[(axis+1)%3])
	p.Y.Label.Text = string("xyz"[(axis+2)%3])
	hm := plotter.NewHeatMap(grid, palette.Heat(64, 1))
	p.Add(hm)
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save slice plot: %w", err)
	}
	return nil
}
