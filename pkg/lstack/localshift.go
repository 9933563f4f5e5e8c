package lstack

import (
	"math"
)

// Pairs whose deviation surface is flatter than this are dropped;
// stacking an unregistered patch smears detail instead of adding it.
const minLocalConfidence = 0.02

// EstimateShifts measures, for each frame selected at this AP, the
// sub-pixel local shift of the frame's patch against the mean frame's
// patch - the residual seeing deformation left after global
// registration. Uses the same spiral search and paraboloid refinement
// as the global aligner, just with a smaller window.
//
// Low-confidence pairs are dropped from the AP's subset (recorded,
// not fatal). An AP left with fewer usable frames than the minimum is
// discarded with reason "insufficient data".
func EstimateShifts(fs *FrameStore, mf *MeanFrame, ga *GlobalAlignment, ap *AlignmentPoint, cfg *Configuration, diag *Diagnostics) {
	if ap.Dropped {
		return
	}

	refBox := ap.Box()
	stride := cfg.Stacking.SamplingStride
	width := cfg.Stacking.LocalSearchWidth

	shifts := make([]LocalShift, 0, len(ap.Selected))
	for _, i := range ap.Selected {
		g := ga.Shifts[i]
		gx := int(math.Round(g.Dx))
		gy := int(math.Round(g.Dy))

		target := fs.MonoBlurred(i)
		baseX := refBox.Min.X + mf.Rect.Min.X + gx
		baseY := refBox.Min.Y + mf.Rect.Min.Y + gy

		res := searchLocalMatch(&mf.MonoBlurred, refBox, target, baseX, baseY, width, stride)
		if !res.Found || res.Confidence < minLocalConfidence {
			diag.AddFrameDrop(i, PhaseLocal, ReasonLowConfidence)
			continue
		}

		total := LocalShift{
			Frame: i,
			Dx:    float64(gx) - res.Dx,
			Dy:    float64(gy) - res.Dy,
		}
		shifts = append(shifts, total)

		diag.AddShiftMagnitude(math.Hypot(total.Dx-g.Dx, total.Dy-g.Dy))
	}

	if len(shifts) < cfg.Stacking.MinSelection {
		ap.drop(ReasonInsufficientData, diag)
		return
	}

	ap.Shifts = shifts

	// The selected subset shrinks to the pairs that actually
	// registered.
	ap.Selected = ap.Selected[:0]
	for _, s := range shifts {
		ap.Selected = append(ap.Selected, s.Frame)
	}
}
