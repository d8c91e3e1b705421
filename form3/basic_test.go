package form3

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestShapeErrors(t *testing.T) {
	for name, fn := range map[string]func() error{
		"sphere": func() error { _, err := Sphere(-1); return err },
		"box":    func() error { _, err := Box(r3.Vec{X: 1, Y: 0, Z: 1}, 0); return err },
		"round":  func() error { _, err := Box(r3.Vec{X: 1, Y: 1, Z: 1}, 0.6); return err },
		"torus":  func() error { _, err := Torus(0.1, 0.2); return err },
		"union":  func() error { _, err := Union(); return err },
	} {
		err := fn()
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if _, ok := err.(*shapeErr); !ok {
			t.Errorf("%s: expected shapeErr, got %T", name, err)
		}
	}
}

func TestShapeDistances(t *testing.T) {
	sphere, err := Sphere(0.5)
	if err != nil {
		t.Fatal(err)
	}
	box, err := Box(r3.Vec{X: 1, Y: 1, Z: 1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	torus, err := Torus(0.5, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	moved, err := Translate(sphere, r3.Vec{X: 1})
	if err != nil {
		t.Fatal(err)
	}
	both, err := Union(sphere, moved)
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name string
		got  float64
		want float64
	}{
		{"sphere center", sphere.Evaluate(r3.Vec{}), -0.5},
		{"sphere outside", sphere.Evaluate(r3.Vec{Y: 1}), 0.5},
		{"box face", box.Evaluate(r3.Vec{X: 1}), 0.5},
		{"box corner", box.Evaluate(r3.Vec{X: 1, Y: 1, Z: 1}), math.Sqrt(3) / 2},
		{"box inside", box.Evaluate(r3.Vec{X: 0.25}), -0.25},
		{"torus tube", torus.Evaluate(r3.Vec{X: 0.5}), -0.1},
		{"torus hole", torus.Evaluate(r3.Vec{}), 0.4},
		{"translated", moved.Evaluate(r3.Vec{X: 1}), -0.5},
		{"union", both.Evaluate(r3.Vec{X: 0.5}), 0},
	} {
		if math.Abs(test.got-test.want) > 1e-12 {
			t.Errorf("%s: got %g, want %g", test.name, test.got, test.want)
		}
	}
	bb := both.Bounds()
	if bb.Min.X != -0.5 || bb.Max.X != 1.5 {
		t.Errorf("union bounds %v", bb)
	}
}
