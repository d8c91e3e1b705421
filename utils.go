package voxrefine

import "github.com/chewxy/math32"

// Sigmoid is the logistic function 1/(1+e^-x).
func Sigmoid(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + math32.Exp(-x))
	}
	// Avoid overflow of e^-x for large negative x.
	e := math32.Exp(x)
	return e / (1 + e)
}

func minInt(a, b int) int {
	if a <= b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a >= b {
		return a
	}
	return b
}
