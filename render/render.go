package render

import (
	"io"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
)

// Renderer streams triangles. ReadTriangles returns io.EOF once the model has
// been fully read, possibly along with a final batch of triangles.
type Renderer interface {
	ReadTriangles(dst []ms3.Triangle) (n int, err error)
}

// Mesh is an indexed triangle mesh. Faces index into Vertices and are wound
// so that normals point toward increasing field values.
type Mesh struct {
	Vertices []ms3.Vec
	Faces    [][3]int
}

// Triangle returns the i'th face as a triangle.
func (m Mesh) Triangle(i int) ms3.Triangle {
	f := m.Faces[i]
	return ms3.Triangle{m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]}
}

// Triangles expands the mesh into a triangle soup.
func (m Mesh) Triangles() []ms3.Triangle {
	t := make([]ms3.Triangle, len(m.Faces))
	for i := range t {
		t[i] = m.Triangle(i)
	}
	return t
}

// Bounds returns the axis aligned box containing every vertex.
func (m Mesh) Bounds() ms3.Box {
	if len(m.Vertices) == 0 {
		return ms3.Box{}
	}
	bb := ms3.Box{Min: m.Vertices[0], Max: m.Vertices[0]}
	for _, v := range m.Vertices[1:] {
		bb.Min = ms3.Vec{X: math32.Min(bb.Min.X, v.X), Y: math32.Min(bb.Min.Y, v.Y), Z: math32.Min(bb.Min.Z, v.Z)}
		bb.Max = ms3.Vec{X: math32.Max(bb.Max.X, v.X), Y: math32.Max(bb.Max.Y, v.Y), Z: math32.Max(bb.Max.Z, v.Z)}
	}
	return bb
}

// VertexNormals returns area weighted per vertex normals.
func (m Mesh) VertexNormals() []ms3.Vec {
	n := make([]ms3.Vec, len(m.Vertices))
	for i, f := range m.Faces {
		fn := m.Triangle(i).Normal() // Length is twice the face area.
		for _, vi := range f {
			n[vi] = ms3.Add(n[vi], fn)
		}
	}
	for i := range n {
		if ms3.Norm(n[i]) > 0 {
			n[i] = ms3.Unit(n[i])
		}
	}
	return n
}

type meshRenderer struct {
	m    Mesh
	next int
}

// NewMeshRenderer returns a Renderer that streams the faces of m in order.
func NewMeshRenderer(m Mesh) Renderer {
	return &meshRenderer{m: m}
}

func (r *meshRenderer) ReadTriangles(dst []ms3.Triangle) (n int, err error) {
	if len(dst) == 0 {
		return 0, io.ErrShortBuffer
	}
	for n < len(dst) && r.next < len(r.m.Faces) {
		dst[n] = r.m.Triangle(r.next)
		r.next++
		n++
	}
	if r.next == len(r.m.Faces) {
		return n, io.EOF
	}
	return n, nil
}

// RenderAll reads the full contents of a Renderer and returns the slice read.
// It does not return error on io.EOF, like the io.RenderAll implementation.
func RenderAll(r Renderer) ([]ms3.Triangle, error) {
	var err error
	var nt int
	result := make([]ms3.Triangle, 0, 1024)
	buf := make([]ms3.Triangle, 1024)
	for {
		nt, err = r.ReadTriangles(buf)
		result = append(result, buf[:nt]...)
		if err != nil {
			break
		}
	}
	if err == io.EOF {
		return result, nil
	}
	return result, err
}
