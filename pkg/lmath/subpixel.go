package lmath

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SubPixelSolve fits the paraboloid
//
//	f = a*x^2 + b*y^2 + c*x*y + d*x + e*y + g
//
// to the 3x3 neighbourhood of matching deviations around an integer
// minimum, and returns the (dx, dy) corrections that place the true
// minimum. `dev` is the 3x3 block in row-major order (y downwards),
// indexed dev[y][x].
//
// Nine equations for six unknowns; solved via the normal equations.
// The A^T and A^T*A matrices are constant for the fixed 3x3 stencil,
// so they are baked in.
func SubPixelSolve(dev [3][3]float64) (float64, float64, error) {
	f := []float64{
		dev[0][0], dev[0][1], dev[0][2],
		dev[1][0], dev[1][1], dev[1][2],
		dev[2][0], dev[2][1], dev[2][2],
	}

	aTranspose := mat.NewDense(6, 9, []float64{
		1, 0, 1, 1, 0, 1, 1, 0, 1,
		1, 1, 1, 0, 0, 0, 1, 1, 1,
		1, 0, -1, 0, 0, 0, -1, 0, 1,
		-1, 0, 1, -1, 0, 1, -1, 0, 1,
		-1, -1, -1, 0, 0, 0, 1, 1, 1,
		1, 1, 1, 1, 1, 1, 1, 1, 1,
	})
	aTa := mat.NewDense(6, 6, []float64{
		6, 4, 0, 0, 0, 6,
		4, 6, 0, 0, 0, 6,
		0, 0, 4, 0, 0, 0,
		0, 0, 0, 6, 0, 0,
		0, 0, 0, 0, 6, 0,
		6, 6, 0, 0, 0, 9,
	})

	var rhs mat.VecDense
	rhs.MulVec(aTranspose, mat.NewVecDense(9, f))

	var p mat.VecDense
	if err := p.SolveVec(aTa, &rhs); err != nil {
		return 0, 0, fmt.Errorf("sub-pixel solve: %v", err)
	}

	a, b, c, d, e := p.AtVec(0), p.AtVec(1), p.AtVec(2), p.AtVec(3), p.AtVec(4)

	// The minimum is where both first derivatives vanish.
	denom := c*c - 4.0*a*b
	var dx, dy float64
	switch {
	case math.Abs(denom) > 1.e-10 && math.Abs(a) > 1.e-10:
		dy = (2.0*a*e - c*d) / denom
		dx = (-c*dy - d) / (2.0 * a)
	case math.Abs(denom) > 1.e-10 && math.Abs(c) > 1.e-10:
		dy = (2.0*a*e - c*d) / denom
		dx = (-2.0*b*dy - e) / c
	default:
		return 0, 0, fmt.Errorf("sub-pixel solve: degenerate deviation surface")
	}

	return dx, dy, nil
}

// CircleAround enumerates the integer points of the "circle" (square
// ring, really) of radius r around (x, y), starting due east and
// proceeding counter-clockwise. Radius 0 yields just the center. The
// spiral matchers use this to visit candidate shifts nearest-first.
func CircleAround(x, y, r int) [][2]int {
	if r == 0 {
		return [][2]int{{x, y}}
	}
	pts := make([][2]int, 0, 8*r)
	px, py := x+r, y+r
	for dy := 0; dy < 2*r; dy++ {
		py--
		pts = append(pts, [2]int{px, py})
	}
	for dx := 0; dx < 2*r; dx++ {
		px--
		pts = append(pts, [2]int{px, py})
	}
	for dy := 0; dy < 2*r; dy++ {
		py++
		pts = append(pts, [2]int{px, py})
	}
	for dx := 0; dx < 2*r; dx++ {
		px++
		pts = append(pts, [2]int{px, py})
	}
	return pts
}
