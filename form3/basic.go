package form3

import (
	"fmt"
	"runtime/debug"

	"github.com/soypat/voxrefine"
	"github.com/soypat/voxrefine/form3/must3"
	"gonum.org/v1/gonum/spatial/r3"
)

type shapeErr struct {
	panicObj interface{}
	stack    string
}

func (s *shapeErr) Error() string {
	return fmt.Sprintf("%s", s.panicObj)
}

func recoverShape(err *error) {
	if a := recover(); a != nil {
		*err = &shapeErr{
			panicObj: a,
			stack:    string(debug.Stack()),
		}
	}
}

// Box return an SDF3 for a 3d box (rounded corners with round > 0).
func Box(size r3.Vec, round float64) (s voxrefine.SDF3, err error) {
	defer recoverShape(&err)
	return must3.Box(size, round), err
}

// Sphere return an SDF3 for a sphere.
func Sphere(radius float64) (s voxrefine.SDF3, err error) {
	defer recoverShape(&err)
	return must3.Sphere(radius), err
}

// Torus returns an SDF3 for a torus around the Z axis.
func Torus(major, minor float64) (s voxrefine.SDF3, err error) {
	defer recoverShape(&err)
	return must3.Torus(major, minor), err
}

// Translate moves an SDF3 by v.
func Translate(s voxrefine.SDF3, v r3.Vec) (out voxrefine.SDF3, err error) {
	defer recoverShape(&err)
	return must3.Translate(s, v), err
}

// Union returns the union of SDF3s.
func Union(s ...voxrefine.SDF3) (out voxrefine.SDF3, err error) {
	defer recoverShape(&err)
	return must3.Union(s...), err
}
