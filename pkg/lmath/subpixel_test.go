package lmath

import (
	"math"
	"testing"
)

// paraboloidBlock samples f(x,y) = (x-cx)^2 + k*(y-cy)^2 on the 3x3
// stencil around the origin.
func paraboloidBlock(cx, cy, k float64) [3][3]float64 {
	var dev [3][3]float64
	for y := -1; y <= 1; y++ {
		for x := -1; x <= 1; x++ {
			fx := float64(x) - cx
			fy := float64(y) - cy
			dev[y+1][x+1] = fx*fx + k*fy*fy
		}
	}
	return dev
}

func TestSubPixelSolveRecoversMinimum(t *testing.T) {
	cases := []struct {
		name   string
		cx, cy float64
		k      float64
	}{
		{"centered", 0, 0, 1},
		{"offset x", 0.3, 0, 1},
		{"offset y", 0, -0.4, 1},
		{"offset both", 0.25, 0.35, 1},
		{"anisotropic", -0.2, 0.1, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dx, dy, err := SubPixelSolve(paraboloidBlock(tc.cx, tc.cy, tc.k))
			if err != nil {
				t.Fatalf("solve failed: %v", err)
			}
			if math.Abs(dx-tc.cx) > 1e-9 || math.Abs(dy-tc.cy) > 1e-9 {
				t.Fatalf("got (%f, %f), want (%f, %f)", dx, dy, tc.cx, tc.cy)
			}
		})
	}
}

func TestSubPixelSolveDegenerate(t *testing.T) {
	// A flat surface has no curvature to solve against.
	var flat [3][3]float64
	if _, _, err := SubPixelSolve(flat); err == nil {
		t.Fatalf("expected error on flat deviation surface")
	}
}

func TestCircleAround(t *testing.T) {
	if pts := CircleAround(5, 7, 0); len(pts) != 1 || pts[0] != [2]int{5, 7} {
		t.Fatalf("radius 0 should yield just the center, got %v", pts)
	}

	for r := 1; r <= 4; r++ {
		pts := CircleAround(0, 0, r)
		if len(pts) != 8*r {
			t.Fatalf("radius %d: got %d points, want %d", r, len(pts), 8*r)
		}
		seen := map[[2]int]bool{}
		for _, p := range pts {
			if seen[p] {
				t.Fatalf("radius %d: duplicate point %v", r, p)
			}
			seen[p] = true
			cheb := p[0]
			if cheb < 0 {
				cheb = -cheb
			}
			if p[1] > cheb {
				cheb = p[1]
			}
			if -p[1] > cheb {
				cheb = -p[1]
			}
			if cheb != r {
				t.Fatalf("radius %d: point %v not on the ring", r, p)
			}
		}
	}
}
