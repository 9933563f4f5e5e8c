package lstack

import (
	"context"
	"fmt"
	"image"
	"sort"

	"github.com/sirupsen/logrus"
)

// A RankMethodFunc scores the sharpness of one frame over a
// rectangle. Bigger is sharper. Methods must be monotone in true
// structure, insensitive to brightness offsets, and must rank a clean
// frame above a noisy copy of itself; see the properties exercised in
// rank_test.go.
type RankMethodFunc func(fs *FrameStore, i int, r image.Rectangle, stride int) float64

// The raw measures rise with residual noise as well as with real
// structure. Every method therefore subtracts a noise estimate: the
// measure's loss under one extra blur pass. A single pass strips only
// part of the noise band, so the estimate is scaled up before
// subtraction.
const noiseCompensation = 4.0

func compensated(raw, reblurred float64) float64 {
	return raw - noiseCompensation*(raw-reblurred)
}

var rankMethods = map[string]RankMethodFunc{
	// Mean gradient norm over the blurred frame. Good and fast; the
	// default.
	"xy-gradient": func(fs *FrameStore, i int, r image.Rectangle, stride int) float64 {
		return compensated(
			fs.MonoBlurred(i).MeanGradientNorm(r, stride),
			fs.MonoReblurred(i).MeanGradientNorm(r, stride))
	},

	// Variance of the Laplacian. The classic focus measure.
	"laplace": func(fs *FrameStore, i int, r image.Rectangle, stride int) float64 {
		return compensated(
			fs.MonoLaplacian(i).Variance(r),
			fs.MonoLaplacianReblurred(i).Variance(r))
	},

	// Summed Sobel magnitude. Slower, occasionally more stable on
	// low-contrast surface detail.
	"sobel": func(fs *FrameStore, i int, r image.Rectangle, stride int) float64 {
		return compensated(
			fs.MonoBlurred(i).SobelEnergy(r, stride),
			fs.MonoReblurred(i).SobelEnergy(r, stride))
	},
}

// A Ranking is the total order over the job's valid frames, plus the
// raw scores (indexed by frame index, zero for excluded frames).
type Ranking struct {
	// Frame indices, best first. Ties broken by capture order.
	Order []int

	// Normalized so the best frame scores 1.0.
	Scores []float64
}

func (r *Ranking) Best() int { return r.Order[0] }

// RankFrames scores every valid frame and produces the global quality
// order. It never discards frames; exclusion is the configuration's
// business, not the ranker's.
func RankFrames(ctx context.Context, fs *FrameStore, cfg *Configuration, progress ProgressFunc) (*Ranking, error) {
	method := rankMethods[cfg.Stacking.RankMethod]
	indices := fs.ValidIndices()
	if len(indices) == 0 {
		return nil, fmt.Errorf("rank frames: %w", ErrNoValidFrames)
	}

	scores := make([]float64, fs.Count())

	full := image.Rect(0, 0, fs.Width(), fs.Height())
	err := forEachUnit(ctx, len(indices), func(k int) {
		i := indices[k]
		scores[i] = method(fs, i, full, cfg.Stacking.SamplingStride)
		progress.step(PhaseRankFrames, k, len(indices))
	})
	if err != nil {
		return nil, err
	}

	order := append([]int{}, indices...)
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})

	// Normalize to best == 1.0, and publish the scores onto the frames.
	best := scores[order[0]]
	if best > 0 {
		for i := range scores {
			scores[i] /= best
		}
	}
	for _, i := range indices {
		fs.Frame(i).Score = scores[i]
	}

	logrus.WithFields(logrus.Fields{
		"phase":  PhaseRankFrames,
		"frames": len(indices),
		"best":   order[0],
		"method": cfg.Stacking.RankMethod,
	}).Info("frames ranked")

	return &Ranking{Order: order, Scores: scores}, nil
}
