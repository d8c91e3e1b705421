package must3

import (
	"math"

	"github.com/soypat/voxrefine"
	"github.com/soypat/voxrefine/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// box is a 3d box.
type box struct {
	size  r3.Vec
	round float64
	bb    r3.Box
}

// Box return an SDF3 for a 3d box (rounded corners with round > 0).
func Box(size r3.Vec, round float64) voxrefine.SDF3 {
	if d3.LTEZero(size) {
		panic("size <= 0")
	}
	if round < 0 {
		panic("round < 0")
	}
	size = r3.Scale(0.5, size)
	if round > d3.Min(size) {
		panic("round larger than half the smallest side")
	}
	s := box{
		size:  r3.Sub(size, d3.Elem(round)),
		round: round,
		bb:    r3.Box{Min: r3.Scale(-1, size), Max: size},
	}
	return &s
}

// Evaluate returns the minimum distance to a 3d box.
func (s *box) Evaluate(p r3.Vec) float64 {
	q := r3.Sub(d3.AbsElem(p), s.size)
	outside := r3.Norm(d3.MaxElem(q, r3.Vec{}))
	inside := math.Min(d3.Max(q), 0)
	return outside + inside - s.round
}

// Bounds returns the bounding box for a 3d box.
func (s *box) Bounds() r3.Box {
	return s.bb
}

// Sphere (exact distance field)

// sphere is a sphere.
type sphere struct {
	radius float64
	bb     r3.Box
}

// Sphere return an SDF3 for a sphere.
func Sphere(radius float64) voxrefine.SDF3 {
	if radius <= 0 {
		panic("radius <= 0")
	}
	d := d3.Elem(radius)
	return &sphere{
		radius: radius,
		bb:     r3.Box{Min: r3.Scale(-1, d), Max: d},
	}
}

// Evaluate returns the minimum distance to a sphere.
func (s *sphere) Evaluate(p r3.Vec) float64 {
	return r3.Norm(p) - s.radius
}

// Bounds returns the bounding box for a sphere.
func (s *sphere) Bounds() r3.Box {
	return s.bb
}

// torus lies in the XY plane around the Z axis.
type torus struct {
	major, minor float64
	bb           r3.Box
}

// Torus returns an SDF3 for a torus with the given major (ring) and minor (tube) radii.
func Torus(major, minor float64) voxrefine.SDF3 {
	if minor <= 0 || major <= minor {
		panic("need 0 < minor < major")
	}
	d := r3.Vec{X: major + minor, Y: major + minor, Z: minor}
	return &torus{
		major: major,
		minor: minor,
		bb:    r3.Box{Min: r3.Scale(-1, d), Max: d},
	}
}

func (s *torus) Evaluate(p r3.Vec) float64 {
	q := math.Hypot(p.X, p.Y) - s.major
	return math.Hypot(q, p.Z) - s.minor
}

func (s *torus) Bounds() r3.Box {
	return s.bb
}

type translate struct {
	s  voxrefine.SDF3
	v  r3.Vec
	bb r3.Box
}

// Translate moves an SDF3 by v.
func Translate(s voxrefine.SDF3, v r3.Vec) voxrefine.SDF3 {
	if s == nil {
		panic("nil SDF3 argument")
	}
	bb := s.Bounds()
	return &translate{
		s:  s,
		v:  v,
		bb: r3.Box{Min: r3.Add(bb.Min, v), Max: r3.Add(bb.Max, v)},
	}
}

func (s *translate) Evaluate(p r3.Vec) float64 {
	return s.s.Evaluate(r3.Sub(p, s.v))
}

func (s *translate) Bounds() r3.Box {
	return s.bb
}

// union is the union of several SDF3s using the exact minimum.
type union struct {
	s  []voxrefine.SDF3
	bb r3.Box
}

// Union returns the union of SDF3s.
func Union(s ...voxrefine.SDF3) voxrefine.SDF3 {
	if len(s) == 0 {
		panic("empty union")
	}
	bb := d3.Box(s[0].Bounds())
	for _, x := range s[1:] {
		if x == nil {
			panic("nil SDF3 argument")
		}
		bb = bb.Extend(d3.Box(x.Bounds()))
	}
	return &union{s: s, bb: r3.Box(bb)}
}

func (s *union) Evaluate(p r3.Vec) float64 {
	d := math.Inf(1)
	for _, x := range s.s {
		d = math.Min(d, x.Evaluate(p))
	}
	return d
}

func (s *union) Bounds() r3.Box {
	return s.bb
}
