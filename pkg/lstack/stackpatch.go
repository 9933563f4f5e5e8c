package lstack

import (
	"math"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// drizzleOrigin maps a mean-frame coordinate to the first output
// pixel of a drizzle-scaled patch buffer. Fractional factors make
// v*dz land between output pixels; stacker and blender must round the
// same way, or patches composite offset from where they were sampled.
func drizzleOrigin(v int, dz float64) int {
	return int(math.Floor(float64(v) * dz))
}

// StackPatch de-warps and averages the selected frames' patches for
// one alignment point. Each frame's patch is resampled bilinearly
// through that frame's interpolated shift field, evaluated per pixel
// over the patch footprint, then accumulated into a running mean.
//
// The average is an unweighted arithmetic mean across the selected
// subset, unless quality weighting is configured; either way the
// division is by the actual contribution at this AP, which varies
// across APs as subsets shrink.
//
// The patch buffers are drizzle-scaled: with factor d, each patch
// pixel covers 1/d of a source pixel, recovering detail from
// under-sampled input via the sub-pixel shift diversity.
func StackPatch(fs *FrameStore, mf *MeanFrame, ap *AlignmentPoint, fields map[int]*ShiftField, cfg *Configuration) {
	if ap.Dropped {
		return
	}

	dz := cfg.Stacking.Drizzle
	patch := ap.Patch()
	pw := int(float64(patch.Dx()) * dz)
	ph := int(float64(patch.Dy()) * dz)
	ox := drizzleOrigin(patch.Min.X, dz)
	oy := drizzleOrigin(patch.Min.Y, dz)

	nCh := len(mf.Channels)
	acc := make([]lmath.FloatGrid, nCh)
	for c := range acc {
		acc[c] = lmath.NewFloatGrid(pw, ph)
	}

	totalWeight := 0.0
	for _, s := range ap.Shifts {
		field := fields[s.Frame].windowed(patch)
		chans := fs.Channels(s.Frame)

		w := 1.0
		if cfg.Stacking.QualityWeighted {
			w = ap.localWeight(s.Frame)
		}
		totalWeight += w

		for py := 0; py < ph; py++ {
			for px := 0; px < pw; px++ {
				// Mean-frame coordinate of this (possibly drizzled)
				// patch pixel, derived from the output pixel it will
				// occupy after blending.
				mx := float64(ox+px) / dz
				my := float64(oy+py) / dz

				dx, dy := field.Eval(mx, my)

				// Frame coordinate carrying the content for (mx, my).
				fx := mx + float64(mf.Rect.Min.X) + dx
				fy := my + float64(mf.Rect.Min.Y) + dy

				for c := 0; c < nCh; c++ {
					var v float64
					if len(chans) == 1 {
						v = chans[0].Bilinear(fx, fy)
					} else {
						v = chans[c].Bilinear(fx, fy)
					}
					acc[c].Add(px, py, w*v)
				}
			}
		}
	}

	for c := range acc {
		acc[c].Scale(1.0 / totalWeight)
	}
	ap.Stacked = acc
}

// localWeight is the frame's normalized local rank score at this AP,
// used only for quality-weighted averaging.
func (ap *AlignmentPoint) localWeight(frame int) float64 {
	best := ap.Ranking[0].Score
	if best <= 0 {
		return 1.0
	}
	for _, fs := range ap.Ranking {
		if fs.Frame == frame {
			return fs.Score / best
		}
	}
	return 1.0
}
