package lstack

import (
	"image"
	"math"
	"testing"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// With a fractional drizzle factor the patch origin lands between
// output pixels; stacker and blender must round it identically or the
// patch composites offset from where it was sampled. The AP here sits
// so that patch.Min is odd, the case where rounding disagreements
// show up.
func TestDrizzleFractionalOriginAlignment(t *testing.T) {
	img := makeFrame(240, 240, 0, 0, 1.0)
	fs, err := NewFrameStore([]image.Image{img}, 2, 2, nil)
	if err != nil {
		t.Fatalf("frame store: %v", err)
	}

	chans := lmath.GridFromImage(img)
	mf := &MeanFrame{
		Rect:        image.Rect(0, 0, 240, 240),
		Channels:    chans,
		Mono:        chans[0],
		MonoBlurred: chans[0].GaussianBlur(2),
	}
	ga := allValidAlignment(1)

	ap := &AlignmentPoint{
		ID: 0, X: 101, Y: 101, HalfBox: 24, HalfPatch: 24,
		Selected: []int{0},
		Ranking:  []APFrameScore{{Frame: 0, Score: 1.0}},
		Shifts:   []LocalShift{{Frame: 0}},
	}
	mesh := &Mesh{
		Points:    []*AlignmentPoint{ap},
		HalfBox:   24,
		HalfPatch: 24,
		Step:      24,
		Rect:      mf.Rect,
	}
	fields := map[int]*ShiftField{0: BuildShiftField(0, mesh, ga)}

	cfg := NewConfiguration()
	cfg.Stacking.Drizzle = 1.5

	StackPatch(fs, mf, ap, fields, &cfg)

	// The frame carries zero displacement, so every stacked pixel is a
	// straight bilinear sample of the source at its own output
	// coordinate divided by the drizzle factor.
	dz := cfg.Stacking.Drizzle
	patch := ap.Patch()
	ox := drizzleOrigin(patch.Min.X, dz)
	oy := drizzleOrigin(patch.Min.Y, dz)
	for py := 0; py < ap.Stacked[0].Dy(); py += 7 {
		for px := 0; px < ap.Stacked[0].Dx(); px += 7 {
			want := chans[0].Bilinear(float64(ox+px)/dz, float64(oy+py)/dz)
			got := ap.Stacked[0].Get(px, py)
			if math.Abs(got-want) > 1e-9 {
				t.Fatalf("stacked pixel (%d,%d) = %f, want %f", px, py, got, want)
			}
		}
	}

	// After blending, the composite around the AP must agree with the
	// source sampled at output coordinates over the drizzle factor;
	// any stacker/blender origin disagreement shows up as a shifted
	// patch here.
	out, err := Blend(mf, mesh, &cfg, NewDiagnostics(), nil)
	if err != nil {
		t.Fatalf("blend failed: %v", err)
	}
	for y := oy + 20; y < oy+52; y += 3 {
		for x := ox + 20; x < ox+52; x += 3 {
			want := chans[0].Bilinear(float64(x)/dz, float64(y)/dz)
			got := out[0].Get(x, y)
			if math.Abs(got-want) > 1e-9 {
				t.Fatalf("composite pixel (%d,%d) = %f, want %f", x, y, got, want)
			}
		}
	}
}

func TestBlendContinuity(t *testing.T) {
	// Two overlapping patches stacked to different constant
	// intensities over a third background level. The tent weighting
	// and the coverage cross-fade must keep every step between
	// adjacent output pixels small; a seam would show up as a jump.
	bg := lmath.NewFloatGrid(240, 240)
	bg.Fill(0.5)
	mf := &MeanFrame{
		Rect:        image.Rect(0, 0, 240, 240),
		Channels:    []lmath.FloatGrid{bg},
		Mono:        bg,
		MonoBlurred: bg,
	}

	newConstAP := func(id, x int, level float64) *AlignmentPoint {
		ap := &AlignmentPoint{ID: id, X: x, Y: 100, HalfBox: 24, HalfPatch: 24}
		s := lmath.NewFloatGrid(48, 48)
		s.Fill(level)
		ap.Stacked = []lmath.FloatGrid{s}
		return ap
	}
	ap1 := newConstAP(0, 100, 0.2)
	ap2 := newConstAP(1, 124, 0.8)
	mesh := &Mesh{
		Points:    []*AlignmentPoint{ap1, ap2},
		HalfBox:   24,
		HalfPatch: 24,
		Step:      24,
		Rect:      mf.Rect,
	}

	cfg := NewConfiguration()
	out, err := Blend(mf, mesh, &cfg, NewDiagnostics(), nil)
	if err != nil {
		t.Fatalf("blend failed: %v", err)
	}

	g := out[0]
	const maxStep = 0.06
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			v := g.Get(x, y)
			if x+1 < g.Dx() {
				if d := math.Abs(g.Get(x+1, y) - v); d > maxStep {
					t.Fatalf("horizontal step %f at (%d,%d) exceeds %f", d, x, y, maxStep)
				}
			}
			if y+1 < g.Dy() {
				if d := math.Abs(g.Get(x, y+1) - v); d > maxStep {
					t.Fatalf("vertical step %f at (%d,%d) exceeds %f", d, x, y, maxStep)
				}
			}
		}
	}
}
