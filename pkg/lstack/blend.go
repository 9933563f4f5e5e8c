package lstack

import (
	"image"
	"image/color"

	"github.com/sirupsen/logrus"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// Once accumulated patch weight at a pixel exceeds this, the
// background contributes nothing; below it, the composite cross-fades
// toward the globally-aligned background so coverage boundaries never
// show a hard edge.
const fullCoverageWeight = 0.5

// Blend composites the stacked AP patches and the globally-aligned
// background into the final output image. Each patch is laid down
// under a separable tent weight - full strength at the AP, zero at
// the patch edge - and the accumulation is normalized by total
// weight, so overlapping patches cross-fade smoothly.
//
// Job-fatal only if no AP survived all the pruning stages: there is
// nothing to blend.
func Blend(mf *MeanFrame, mesh *Mesh, cfg *Configuration, diag *Diagnostics, progress ProgressFunc) ([]lmath.FloatGrid, error) {
	kept := mesh.Kept()
	if len(kept) == 0 {
		return nil, fatal(PhaseBlend, ErrNoAlignmentPoints)
	}

	dz := cfg.Stacking.Drizzle
	outW := int(float64(mf.Rect.Dx()) * dz)
	outH := int(float64(mf.Rect.Dy()) * dz)
	nCh := len(mf.Channels)

	acc := make([]lmath.FloatGrid, nCh)
	for c := range acc {
		acc[c] = lmath.NewFloatGrid(outW, outH)
	}
	weights := lmath.NewFloatGrid(outW, outH)

	for k, ap := range kept {
		patch := ap.Patch()
		pw := ap.Stacked[0].Dx()
		ph := ap.Stacked[0].Dy()
		ox := drizzleOrigin(patch.Min.X, dz)
		oy := drizzleOrigin(patch.Min.Y, dz)

		for py := 0; py < ph; py++ {
			y := oy + py
			if y < 0 || y >= outH {
				continue
			}
			wy := tentWeight(py, ph)
			for px := 0; px < pw; px++ {
				x := ox + px
				if x < 0 || x >= outW {
					continue
				}
				w := wy * tentWeight(px, pw)
				for c := 0; c < nCh; c++ {
					acc[c].Add(x, y, w*ap.Stacked[c].Get(px, py))
				}
				weights.Add(x, y, w)
			}
		}
		progress.step(PhaseBlend, k, len(kept))
	}

	// Normalize, falling back to the background average where patch
	// coverage runs out.
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			w := weights.Get(x, y)
			cover := w / fullCoverageWeight
			if cover > 1 {
				cover = 1
			}
			for c := 0; c < nCh; c++ {
				bg := mf.Channels[c].Bilinear(float64(x)/dz, float64(y)/dz)
				var v float64
				if w > 0 {
					v = cover*(acc[c].Get(x, y)/w) + (1-cover)*bg
				} else {
					v = bg
				}
				acc[c].Set(x, y, v)
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"phase":  PhaseBlend,
		"aps":    len(kept),
		"output": image.Rect(0, 0, outW, outH),
	}).Info("composite blended")

	return acc, nil
}

// tentWeight is the separable triangular blending weight across a
// patch axis: 1 at the center, 0 at the edges.
func tentWeight(i, n int) float64 {
	c := float64(n-1) / 2.0
	if c == 0 {
		return 1
	}
	w := 1.0 - absf(float64(i)-c)/c
	if w < 0 {
		return 0
	}
	return w
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// RenderComposite converts the blended float channels into an output
// image with the input's channel layout: 16 bits per channel, gray or
// color.
func RenderComposite(channels []lmath.FloatGrid, colorInput bool) *image.RGBA64 {
	w, h := channels[0].Dx(), channels[0].Dy()
	img := image.NewRGBA64(image.Rect(0, 0, w, h))

	at := func(c, x, y int) uint16 {
		v := channels[c].Get(x, y)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		return uint16(v * 65535.0)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if colorInput && len(channels) == 3 {
				img.SetRGBA64(x, y, color.RGBA64{R: at(0, x, y), G: at(1, x, y), B: at(2, x, y), A: 0xffff})
			} else {
				g := at(0, x, y)
				img.SetRGBA64(x, y, color.RGBA64{R: g, G: g, B: g, A: 0xffff})
			}
		}
	}
	return img
}
