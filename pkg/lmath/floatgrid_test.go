package lmath

import (
	"math"
	"testing"
)

// testPattern fills a grid with smooth 2-D structure; scale controls
// the amplitude of the detail on top of the 0.5 base level.
func testPattern(w, h int, scale float64) FloatGrid {
	g := NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 0.5 + scale*0.25*math.Sin(float64(x)*0.7)*math.Sin(float64(y)*0.6)
			g.Set(x, y, v)
		}
	}
	return g
}

func TestBilinear(t *testing.T) {
	g := NewFloatGrid(4, 4)
	g.Set(1, 1, 1.0)

	if v := g.Bilinear(1, 1); v != 1.0 {
		t.Fatalf("integer sample: got %f, want 1", v)
	}
	if v := g.Bilinear(1.5, 1); math.Abs(v-0.5) > 1e-12 {
		t.Fatalf("half sample x: got %f, want 0.5", v)
	}
	if v := g.Bilinear(1.5, 1.5); math.Abs(v-0.25) > 1e-12 {
		t.Fatalf("half sample xy: got %f, want 0.25", v)
	}
	// Off-grid samples clamp to the edge rather than exploding.
	if v := g.Bilinear(-5, -5); v != g.Get(0, 0) {
		t.Fatalf("clamped sample: got %f, want %f", v, g.Get(0, 0))
	}
}

func TestGaussianBlurPreservesFlatField(t *testing.T) {
	g := NewFloatGrid(16, 16)
	g.Fill(0.37)
	b := g.GaussianBlur(5)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if math.Abs(b.Get(x, y)-0.37) > 1e-12 {
				t.Fatalf("flat field changed at (%d,%d): %f", x, y, b.Get(x, y))
			}
		}
	}
}

func TestBlurReducesSharpnessMeasures(t *testing.T) {
	sharp := testPattern(64, 64, 1.0)
	soft := sharp.GaussianBlur(6)

	r := sharp.Bounds()
	if sharp.MeanGradientNorm(r, 1) <= soft.MeanGradientNorm(r, 1) {
		t.Fatalf("gradient norm did not drop under blur")
	}
	if sharp.SobelEnergy(r, 1) <= soft.SobelEnergy(r, 1) {
		t.Fatalf("sobel energy did not drop under blur")
	}
	sharpL := sharp.Laplacian()
	softL := soft.Laplacian()
	if sharpL.Variance(r) <= softL.Variance(r) {
		t.Fatalf("laplacian variance did not drop under blur")
	}
}

func TestDirectionalSharpnessSeparatesAxes(t *testing.T) {
	// Vertical stripes: all the gradient lives in x.
	g := NewFloatGrid(32, 32)
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if x%2 == 0 {
				g.Set(x, y, 1.0)
			}
		}
	}
	sx, sy := g.DirectionalSharpness(g.Bounds())
	if sx <= 0.5 {
		t.Fatalf("x sharpness too low for stripes: %f", sx)
	}
	if sy != 0 {
		t.Fatalf("y sharpness should be zero for vertical stripes, got %f", sy)
	}
}

func TestCenterOfGravity(t *testing.T) {
	g := NewFloatGrid(20, 20)
	g.Set(4, 6, 1.0)
	g.Set(6, 6, 1.0)

	x, y := g.CenterOfGravity(g.Bounds(), 0.1)
	if math.Abs(x-5) > 1e-9 || math.Abs(y-6) > 1e-9 {
		t.Fatalf("got (%f, %f), want (5, 6)", x, y)
	}

	// All below threshold: geometric center.
	x, y = g.CenterOfGravity(g.Bounds(), 2.0)
	if math.Abs(x-10) > 1e-9 || math.Abs(y-10) > 1e-9 {
		t.Fatalf("empty centroid: got (%f, %f), want (10, 10)", x, y)
	}
}

func TestMinMax(t *testing.T) {
	g := testPattern(32, 32, 1.0)
	g.Set(3, 3, -0.2)
	g.Set(9, 9, 1.7)

	min, max := g.MinMax(g.Bounds())
	if min != -0.2 || max != 1.7 {
		t.Fatalf("got (%f, %f), want (-0.2, 1.7)", min, max)
	}
}
