package lstack

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// testPattern is the synthetic "surface": smooth, aperiodic-ish 2-D
// structure, defined on all of Z^2 so shifted frames can be generated
// analytically. detail scales the structure amplitude, modelling
// frames caught in better or worse seeing.
func testPattern(x, y, detail float64) float64 {
	v := 0.5 +
		detail*0.22*math.Sin(x*0.35)*math.Sin(y*0.29) +
		detail*0.11*math.Sin(x*0.11+y*0.07) +
		detail*0.06*math.Sin(x*0.53-y*0.41)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// makeFrame renders a w x h frame whose content is the pattern
// displaced by (sx, sy): frame pixel (u,v) holds pattern(u-sx, v-sy).
func makeFrame(w, h int, sx, sy, detail float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := testPattern(float64(x)-sx, float64(y)-sy, detail)
			img.SetGray16(x, y, color.Gray16{Y: uint16(v * 65535.0)})
		}
	}
	return img
}

// makeNoisyFrame renders the undisplaced pattern with additive
// zero-mean Gaussian sensor noise from a fixed seed. Pairing one of
// these with its clean twin exercises the rankers' noise handling.
func makeNoisyFrame(w, h int, detail, sigma float64, seed int64) *image.Gray16 {
	rnd := rand.New(rand.NewSource(seed))
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := testPattern(float64(x), float64(y), detail) + rnd.NormFloat64()*sigma
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v * 65535.0)})
		}
	}
	return img
}

// patternGrid is the same pattern as a FloatGrid, for tests that work
// below the image layer.
func patternGrid(w, h int, sx, sy, detail float64) lmath.FloatGrid {
	g := lmath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Set(x, y, testPattern(float64(x)-sx, float64(y)-sy, detail))
		}
	}
	return g
}

// blobGrid is a single Gaussian blob, for matcher tests that need a
// deviation surface with one unambiguous minimum.
func blobGrid(w, h int, cx, cy, sigma float64) lmath.FloatGrid {
	g := lmath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			g.Set(x, y, math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}
	return g
}

// testMeanFrame wraps a pattern grid in a MeanFrame the way the
// pipeline would build one.
func testMeanFrame(w, h int, noiseLevel int) *MeanFrame {
	mono := patternGrid(w, h, 0, 0, 1.0)
	return &MeanFrame{
		Rect:        image.Rect(0, 0, w, h),
		Channels:    []lmath.FloatGrid{mono},
		Mono:        mono,
		MonoBlurred: mono.GaussianBlur(noiseLevel),
	}
}
