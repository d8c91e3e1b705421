package d3

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var inf = math.Inf(1)

// Triangle is a 3d triangle.
type Triangle [3]r3.Vec

// Bounds returns the bounding box of the triangle.
func (t Triangle) Bounds() Box {
	return Box{
		Min: MinElem(t[0], MinElem(t[1], t[2])),
		Max: MaxElem(t[0], MaxElem(t[1], t[2])),
	}
}

// Closest returns closest point on the triangle to argument point p.
// Degenerate triangles are handled as the closest of their edges.
func (t Triangle) Closest(p r3.Vec) r3.Vec {
	a, b, c := t[0], t[1], t[2]
	ab := r3.Sub(b, a)
	ac := r3.Sub(c, a)
	ap := r3.Sub(p, a)
	d1, d2 := r3.Dot(ab, ap), r3.Dot(ac, ap)
	if d1 <= 0 && d2 <= 0 {
		return a // vertex region a
	}
	bp := r3.Sub(p, b)
	d3, d4 := r3.Dot(ab, bp), r3.Dot(ac, bp)
	if d3 >= 0 && d4 <= d3 {
		return b // vertex region b
	}
	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		return r3.Add(a, r3.Scale(d1/(d1-d3), ab)) // edge ab
	}
	cp := r3.Sub(p, c)
	d5, d6 := r3.Dot(ab, cp), r3.Dot(ac, cp)
	if d6 >= 0 && d5 <= d6 {
		return c // vertex region c
	}
	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		return r3.Add(a, r3.Scale(d2/(d2-d6), ac)) // edge ac
	}
	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 {
		bc := r3.Sub(c, b)
		return r3.Add(b, r3.Scale((d4-d3)/((d4-d3)+(d5-d6)), bc)) // edge bc
	}
	denom := va + vb + vc
	if denom == 0 {
		// Collinear vertices reach here only through rounding; fall back to the longest edge.
		return closestOnSegment(t, p)
	}
	v := vb / denom
	w := vc / denom
	return r3.Add(a, r3.Add(r3.Scale(v, ab), r3.Scale(w, ac)))
}

// Distance returns the euclidean distance from p to the triangle.
func (t Triangle) Distance(p r3.Vec) float64 {
	return r3.Norm(r3.Sub(p, t.Closest(p)))
}

func closestOnSegment(t Triangle, p r3.Vec) r3.Vec {
	best := t[0]
	bestD := inf
	for i := 0; i < 3; i++ {
		a, b := t[i], t[(i+1)%3]
		ab := r3.Sub(b, a)
		l2 := r3.Norm2(ab)
		q := a
		if l2 > 0 {
			q = r3.Add(a, r3.Scale(clamp(r3.Dot(r3.Sub(p, a), ab)/l2, 0, 1), ab))
		}
		if d := r3.Norm2(r3.Sub(p, q)); d < bestD {
			best, bestD = q, d
		}
	}
	return best
}
