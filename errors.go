package voxrefine

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrCoordinateOutOfRange is returned when a sparse coordinate lies outside the dense grid.
	ErrCoordinateOutOfRange = errors.New("coordinate out of range")
	// ErrInvalidTiling is returned when a patch layout does not tile the volume exactly.
	ErrInvalidTiling = errors.New("invalid tiling")
	// ErrAssemblyGap is returned when stitching would leave output voxels unwritten
	// or write them more than once.
	ErrAssemblyGap = errors.New("assembly gap")
	// ErrEmptyIsosurface is returned when a volume has no crossing of the iso-value.
	ErrEmptyIsosurface = errors.New("empty isosurface")
	// ErrDeviceMismatch is returned when mesh buffers live on different devices.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrShapeMismatch is returned when volumes or buffers have incompatible shapes.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// CoordinateError describes the first offending coordinate found during densification.
type CoordinateError struct {
	Index int // position in the sparse coordinate list
	Coord Coord
	Res   int
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("coordinate %d (b=%d x=%d y=%d z=%d) outside grid of resolution %d",
		e.Index, e.Coord.Batch, e.Coord.V3i[0], e.Coord.V3i[1], e.Coord.V3i[2], e.Res)
}

func (e *CoordinateError) Unwrap() error { return ErrCoordinateOutOfRange }

// ErrMsg returns an error with a message function name and line number.
func ErrMsg(msg string) error {
	pc, _, line, ok := runtime.Caller(1)
	if !ok {
		return fmt.Errorf("?: %s", msg)
	}
	fn := runtime.FuncForPC(pc)
	return fmt.Errorf("%s line %d: %s", fn.Name(), line, msg)
}
