package lstack

import (
	"context"
	"image"
	"math"

	"github.com/sirupsen/logrus"
)

// A frame whose deviation surface has less contrast than this is
// considered unregistered - there was nothing for the correlation to
// lock onto.
const minGlobalConfidence = 0.05

// A GlobalShift is the whole-frame translation registering one frame
// to the reference: the frame's content is displaced by (Dx, Dy)
// relative to the reference frame, so the frame must be sampled at
// (x + Dx, y + Dy) to read the pixel corresponding to reference
// coordinate (x, y).
type GlobalShift struct {
	Dx, Dy     float64
	Confidence float64

	// False when registration failed; the frame is excluded from all
	// later averaging but remains addressable for display.
	Valid bool
}

// GlobalAlignment has exactly one entry per frame in the job, valid
// or not.
type GlobalAlignment struct {
	Shifts   []GlobalShift
	RefIndex int

	// The region of reference coordinates covered by every valid
	// frame; the mean frame is built over this.
	Intersection image.Rectangle
}

func (ga *GlobalAlignment) ValidCount() int {
	n := 0
	for _, s := range ga.Shifts {
		if s.Valid {
			n++
		}
	}
	return n
}

// AlignFrames registers every valid frame against the reference
// patch. Surface mode spirals out from zero shift; planet mode first
// stabilizes on the object's center of gravity, then refines around
// that - the object can wander across the whole field between frames,
// far beyond any sane spiral width.
func AlignFrames(ctx context.Context, fs *FrameStore, ranking *Ranking, refPatch *ReferencePatch, cfg *Configuration, diag *Diagnostics, progress ProgressFunc) (*GlobalAlignment, error) {
	refIdx := ranking.Best()
	refGrid := fs.MonoBlurred(refIdx)
	searchWidth := cfg.Stacking.GlobalSearchWidth
	stride := cfg.Stacking.SamplingStride
	planet := cfg.Stacking.Mode == ModePlanet

	var cogRefX, cogRefY float64
	if planet {
		cogRefX, cogRefY = refGrid.CenterOfGravity(refGrid.Bounds(), cfg.AlignmentPoints.BrightnessThreshold)
	}

	ga := &GlobalAlignment{
		Shifts:   make([]GlobalShift, fs.Count()),
		RefIndex: refIdx,
	}

	indices := fs.ValidIndices()
	err := forEachUnit(ctx, len(indices), func(k int) {
		defer progress.step(PhaseGlobalAlign, k, len(indices))
		i := indices[k]

		if i == refIdx {
			ga.Shifts[i] = GlobalShift{Valid: true, Confidence: 1.0}
			return
		}

		g := fs.MonoBlurred(i)

		// Integer warm start for the spiral.
		startDx, startDy := 0, 0
		if planet {
			cogX, cogY := g.CenterOfGravity(g.Bounds(), cfg.AlignmentPoints.BrightnessThreshold)
			startDx = int(math.Round(cogX - cogRefX))
			startDy = int(math.Round(cogY - cogRefY))
		}

		res := searchLocalMatch(refGrid, refPatch.Rect, g,
			refPatch.Rect.Min.X+startDx, refPatch.Rect.Min.Y+startDy,
			searchWidth, stride)

		if !res.Found {
			diag.AddFrameDrop(i, PhaseGlobalAlign, ReasonRegistrationFailed)
			return
		}
		if res.Confidence < minGlobalConfidence {
			diag.AddFrameDrop(i, PhaseGlobalAlign, ReasonLowConfidence)
			return
		}

		ga.Shifts[i] = GlobalShift{
			Dx:         float64(startDx) - res.Dx,
			Dy:         float64(startDy) - res.Dy,
			Confidence: res.Confidence,
			Valid:      true,
		}
	})
	if err != nil {
		return nil, err
	}

	if ga.ValidCount() == 0 {
		return nil, fatal(PhaseGlobalAlign, ErrNoValidFrames)
	}

	ga.Intersection = intersectionArea(fs, ga)
	if ga.Intersection.Empty() {
		return nil, fatal(PhaseGlobalAlign, ErrNoValidFrames)
	}

	logrus.WithFields(logrus.Fields{
		"phase":        PhaseGlobalAlign,
		"valid":        ga.ValidCount(),
		"frames":       len(indices),
		"intersection": ga.Intersection,
	}).Info("global alignment complete")

	return ga, nil
}

// intersectionArea is the reference-coordinate rectangle that every
// valid frame covers after its shift is applied. Frame pixels exist
// at frame coords [0,W)x[0,H); reference coordinate x reads frame
// coordinate x+Dx, so the frame covers reference x in [-Dx, W-Dx).
func intersectionArea(fs *FrameStore, ga *GlobalAlignment) image.Rectangle {
	minX, minY := 0.0, 0.0
	maxX, maxY := float64(fs.Width()), float64(fs.Height())

	for _, s := range ga.Shifts {
		if !s.Valid {
			continue
		}
		minX = math.Max(minX, -s.Dx)
		minY = math.Max(minY, -s.Dy)
		maxX = math.Min(maxX, float64(fs.Width())-s.Dx)
		maxY = math.Min(maxY, float64(fs.Height())-s.Dy)
	}

	return image.Rect(int(math.Ceil(minX)), int(math.Ceil(minY)),
		int(math.Floor(maxX)), int(math.Floor(maxY)))
}
