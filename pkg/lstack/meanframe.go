package lstack

import (
	"context"
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/sirupsen/logrus"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// The MeanFrame is the reference composite: the globally-best frames,
// resampled to the common reference coordinate frame and averaged.
// AP placement, local ranking and local shift estimation all run
// against it. Built once per job, read-only thereafter.
type MeanFrame struct {
	// Reference-coordinate rectangle the mean frame covers (the
	// intersection area of the contributing shifts). Grids below are
	// indexed relative to Rect.Min.
	Rect image.Rectangle

	Channels []lmath.FloatGrid
	Mono     lmath.FloatGrid

	// Mono after the configured noise blur; the local matchers and the
	// AP grid metrics read this.
	MonoBlurred lmath.FloatGrid
}

// BuildMeanFrame averages the top-N valid globally-aligned frames.
// Each contributor is resampled by its sub-pixel global shift with
// Catmull-Rom before accumulation. A pure reduction: the only failure
// mode is having zero valid frames, which global alignment has
// already made fatal.
func BuildMeanFrame(ctx context.Context, fs *FrameStore, ranking *Ranking, ga *GlobalAlignment, cfg *Configuration, progress ProgressFunc) (*MeanFrame, error) {
	contributors := topValidFrames(ranking, ga, meanFrameCount(cfg, ga))

	rect := ga.Intersection
	nCh := 1
	if fs.Color() {
		nCh = 3
	}

	mf := &MeanFrame{Rect: rect}
	for c := 0; c < nCh; c++ {
		mf.Channels = append(mf.Channels, lmath.NewFloatGrid(rect.Dx(), rect.Dy()))
	}

	// Workers only resample; the accumulation happens afterwards, in
	// contributor order. Float addition is order-sensitive, so letting
	// goroutine completion order pick the summation order would make
	// the mean frame vary run to run.
	parts := make([][]lmath.FloatGrid, len(contributors))
	err := forEachUnit(ctx, len(contributors), func(k int) {
		defer progress.step(PhaseMeanFrame, k, len(contributors))
		i := contributors[k]
		aligned := alignedImage(fs.Frame(i).Img, ga.Shifts[i])

		chans := make([]lmath.FloatGrid, nCh)
		for c := 0; c < nCh; c++ {
			chans[c] = lmath.NewFloatGrid(rect.Dx(), rect.Dy())
		}
		for y := 0; y < rect.Dy(); y++ {
			for x := 0; x < rect.Dx(); x++ {
				r, g, b, _ := aligned.RGBA64At(rect.Min.X+x, rect.Min.Y+y).RGBA()
				if nCh == 1 {
					chans[0].Set(x, y, float64(r)/65535.0)
				} else {
					chans[0].Set(x, y, float64(r)/65535.0)
					chans[1].Set(x, y, float64(g)/65535.0)
					chans[2].Set(x, y, float64(b)/65535.0)
				}
			}
		}
		parts[k] = chans
	})
	if err != nil {
		return nil, err
	}

	for _, chans := range parts {
		for c := 0; c < nCh; c++ {
			for y := 0; y < rect.Dy(); y++ {
				for x := 0; x < rect.Dx(); x++ {
					mf.Channels[c].Add(x, y, chans[c].Get(x, y))
				}
			}
		}
	}

	scale := 1.0 / float64(len(contributors))
	for c := range mf.Channels {
		mf.Channels[c].Scale(scale)
	}

	mf.Mono = lmath.NewFloatGrid(rect.Dx(), rect.Dy())
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			if nCh == 1 {
				mf.Mono.Set(x, y, mf.Channels[0].Get(x, y))
			} else {
				v := 0.2989*mf.Channels[0].Get(x, y) +
					0.5870*mf.Channels[1].Get(x, y) +
					0.1140*mf.Channels[2].Get(x, y)
				mf.Mono.Set(x, y, v)
			}
		}
	}
	mf.MonoBlurred = mf.Mono.GaussianBlur(cfg.Stacking.NoiseLevel)

	logrus.WithFields(logrus.Fields{
		"phase":        PhaseMeanFrame,
		"contributors": len(contributors),
		"rect":         rect,
	}).Info("mean frame built")

	return mf, nil
}

// alignedImage resamples a frame into reference coordinates,
// translating its content back by the global shift.
func alignedImage(src image.Image, s GlobalShift) *image.RGBA64 {
	dst := image.NewRGBA64(src.Bounds())
	m := lmath.Identity().Translate(-s.Dx, -s.Dy)
	draw.CatmullRom.Transform(dst, f64.Aff3(m), src, src.Bounds(), draw.Src, nil)
	return dst
}

func meanFrameCount(cfg *Configuration, ga *GlobalAlignment) int {
	n := cfg.Stacking.MeanFrameCount
	if n == 0 {
		n = cfg.SelectionCount(ga.ValidCount())
	}
	if n > ga.ValidCount() {
		n = ga.ValidCount()
	}
	return n
}

// topValidFrames walks the quality order and returns the first n
// frames that passed global registration.
func topValidFrames(ranking *Ranking, ga *GlobalAlignment, n int) []int {
	out := make([]int, 0, n)
	for _, i := range ranking.Order {
		if !ga.Shifts[i].Valid {
			continue
		}
		out = append(out, i)
		if len(out) == n {
			break
		}
	}
	return out
}
