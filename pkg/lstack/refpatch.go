package lstack

import (
	"context"
	"image"

	"github.com/sirupsen/logrus"
)

// The ReferencePatch is the translation-registration template: the
// sub-region of the globally-best frame with the strongest 2-D
// structure. Immutable once selected; a manual override from the job
// configuration is just an injected alternative selection.
type ReferencePatch struct {
	Rect image.Rectangle

	// Structure score of the chosen window, min of the two axes.
	Structure float64

	// True when no window beat the structure threshold and the whole
	// frame is used for registration instead. Reported, not fatal.
	Fallback bool
}

// SelectReferencePatch scans candidate windows on the best-ranked
// frame and picks the one maximizing min(x-sharpness, y-sharpness).
// Taking the minimum across axes avoids 1-D-only features (a single
// straight edge) that would leave the translation search
// under-constrained along the edge.
func SelectReferencePatch(ctx context.Context, fs *FrameStore, ranking *Ranking, cfg *Configuration, diag *Diagnostics) (*ReferencePatch, error) {
	g := fs.MonoBlurred(ranking.Best())

	if rp := cfg.ReferencePatch; rp != nil {
		rect := image.Rect(rp.X, rp.Y, rp.X+rp.W, rp.Y+rp.H).Intersect(g.Bounds())
		sx, sy := g.DirectionalSharpness(rect)
		logrus.WithFields(logrus.Fields{"phase": PhaseRefPatch, "rect": rect}).
			Info("using manual reference patch")
		return &ReferencePatch{Rect: rect, Structure: minf(sx, sy)}, nil
	}

	// The search margin keeps every shifted window inside the frame.
	margin := cfg.Stacking.GlobalSearchWidth
	usable := image.Rect(margin, margin, g.Dx()-margin, g.Dy()-margin)
	if usable.Empty() {
		usable = g.Bounds()
	}

	// Window size: a quarter of the usable extent per axis, but never
	// smaller than two AP boxes.
	winW := maxi(usable.Dx()/4, 2*cfg.AlignmentPoints.BoxWidth)
	winH := maxi(usable.Dy()/4, 2*cfg.AlignmentPoints.BoxWidth)
	if winW > usable.Dx() {
		winW = usable.Dx()
	}
	if winH > usable.Dy() {
		winH = usable.Dy()
	}
	stepX := maxi(winW/4, 1)
	stepY := maxi(winH/4, 1)

	best := ReferencePatch{Structure: -1}
	for y := usable.Min.Y; y+winH <= usable.Max.Y; y += stepY {
		for x := usable.Min.X; x+winW <= usable.Max.X; x += stepX {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			rect := image.Rect(x, y, x+winW, y+winH)
			sx, sy := g.DirectionalSharpness(rect)
			if s := minf(sx, sy); s > best.Structure {
				best = ReferencePatch{Rect: rect, Structure: s}
			}
		}
	}

	if best.Structure <= 0 {
		return nil, fatal(PhaseRefPatch, ErrNoStructure)
	}

	if best.Structure < cfg.AlignmentPoints.StructureThreshold {
		// Degrade to full-frame correlation rather than registering
		// against a featureless template.
		best = ReferencePatch{Rect: usable, Structure: best.Structure, Fallback: true}
		diag.RefPatchFallback = true
		logrus.WithField("phase", PhaseRefPatch).
			Warn("no window above structure threshold, falling back to full-frame registration")
	}

	logrus.WithFields(logrus.Fields{
		"phase":     PhaseRefPatch,
		"rect":      best.Rect,
		"structure": best.Structure,
	}).Info("reference patch selected")

	return &best, nil
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}
