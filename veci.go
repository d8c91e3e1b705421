/*

Integer 3D voxel indices

*/

package voxrefine

import "gonum.org/v1/gonum/spatial/r3"

// V3i is a 3D integer vector indexing a voxel as (x, y, z).
type V3i [3]int

// Cube returns a vector with all components set to n.
func Cube(n int) V3i { return V3i{n, n, n} }

// AddScalar adds a scalar to each component of the vector.
func (a V3i) AddScalar(b int) V3i {
	return V3i{a[0] + b, a[1] + b, a[2] + b}
}

// Add adds two vectors. Return v = a + b.
func (a V3i) Add(b V3i) V3i {
	return V3i{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Sub subtracts two vectors. Return v = a - b.
func (a V3i) Sub(b V3i) V3i {
	return V3i{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// Scale multiplies each component by f.
func (a V3i) Scale(f int) V3i {
	return V3i{a[0] * f, a[1] * f, a[2] * f}
}

// DivScalar floor-divides each non-negative component by f.
func (a V3i) DivScalar(f int) V3i {
	return V3i{a[0] / f, a[1] / f, a[2] / f}
}

// Prod returns the product of the components, the voxel count of a grid of size a.
func (a V3i) Prod() int { return a[0] * a[1] * a[2] }

// In reports whether every component lies in [0, n).
func (a V3i) In(n int) bool {
	return a[0] >= 0 && a[0] < n && a[1] >= 0 && a[1] < n && a[2] >= 0 && a[2] < n
}

// Within reports whether every component lies in [0, dims[i]).
func (a V3i) Within(dims V3i) bool {
	return a[0] >= 0 && a[0] < dims[0] && a[1] >= 0 && a[1] < dims[1] && a[2] >= 0 && a[2] < dims[2]
}

// ToV3 converts V3i (integer) to r3.Vec (float).
func (a V3i) ToV3() r3.Vec {
	return r3.Vec{X: float64(a[0]), Y: float64(a[1]), Z: float64(a[2])}
}
