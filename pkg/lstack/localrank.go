package lstack

import (
	"image"
	"math"
	"sort"
)

// RankLocal ranks every registered frame by its sharpness in the
// patch around one alignment point, and selects the best subset for
// stacking. Rankings are independent across APs: a frame caught by a
// good pocket of seeing at one AP can be hopeless at another.
//
// An AP that cannot muster the minimum selection count is discarded
// here rather than silently stacking fewer frames.
func RankLocal(fs *FrameStore, mf *MeanFrame, ga *GlobalAlignment, ap *AlignmentPoint, cfg *Configuration, diag *Diagnostics) {
	candidates := []APFrameScore{}
	for _, i := range fs.ValidIndices() {
		if !ga.Shifts[i].Valid {
			continue
		}
		rect := frameBox(ap, mf, ga.Shifts[i])
		score := localScore(fs, i, rect, cfg)
		candidates = append(candidates, APFrameScore{Frame: i, Score: score})
	}

	if len(candidates) < cfg.Stacking.MinSelection {
		ap.drop(ReasonInsufficientData, diag)
		return
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].Frame < candidates[b].Frame
	})

	ap.Ranking = candidates

	n := cfg.SelectionCount(len(candidates))
	ap.Selected = make([]int, n)
	for k := 0; k < n; k++ {
		ap.Selected[k] = candidates[k].Frame
	}
}

// frameBox maps the AP's matching box from mean-frame grid
// coordinates into the given frame's pixel coordinates, applying the
// integer part of the frame's global shift.
func frameBox(ap *AlignmentPoint, mf *MeanFrame, s GlobalShift) image.Rectangle {
	dx := int(math.Round(s.Dx))
	dy := int(math.Round(s.Dy))
	return ap.Box().Add(mf.Rect.Min).Add(image.Point{dx, dy})
}

// localScore applies the configured rank method to one patch of one
// frame. Same scoring as the global ranker, including the noise
// compensation, just windowed.
func localScore(fs *FrameStore, i int, rect image.Rectangle, cfg *Configuration) float64 {
	return rankMethods[cfg.Stacking.RankMethod](fs, i, rect, cfg.Stacking.SamplingStride)
}
