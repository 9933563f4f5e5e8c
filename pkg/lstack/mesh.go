package lstack

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// An AlignmentPoint is one local anchor on the mean frame. The box
// (half-width HalfBox) is what the local matchers correlate; the
// patch (half-width HalfPatch) is the larger area stacked and
// blended. Coordinates are mean-frame grid coordinates.
//
// The geometry fields are immutable once the mesh is finalized. The
// later fields are each written exactly once by their owning phase
// (local ranking, shift estimation, patch stacking) and are read-only
// afterwards, so cross-phase reads need no locking.
type AlignmentPoint struct {
	ID        int
	X, Y      int
	HalfBox   int
	HalfPatch int

	Dropped bool
	Reason  DropReason

	// Normalized 2-D structure at the point, best AP == 1.0.
	Structure float64

	// Filled by the local ranking phase.
	Ranking  []APFrameScore
	Selected []int

	// Filled by the shift estimation phase, parallel to Selected.
	Shifts []LocalShift

	// Filled by the patch stacker: one grid per channel, HalfPatch
	// geometry times the drizzle factor.
	Stacked []lmath.FloatGrid
}

type APFrameScore struct {
	Frame int
	Score float64
}

// A LocalShift is the total content displacement of one selected
// frame at this AP: global shift plus the locally-measured sub-pixel
// residual. The frame is sampled at (x+Dx, y+Dy) for mean-frame
// coordinate (x, y).
type LocalShift struct {
	Frame  int
	Dx, Dy float64
}

func (ap *AlignmentPoint) Box() image.Rectangle {
	return image.Rect(ap.X-ap.HalfBox, ap.Y-ap.HalfBox, ap.X+ap.HalfBox, ap.Y+ap.HalfBox)
}

func (ap *AlignmentPoint) Patch() image.Rectangle {
	return image.Rect(ap.X-ap.HalfPatch, ap.Y-ap.HalfPatch, ap.X+ap.HalfPatch, ap.Y+ap.HalfPatch)
}

func (ap *AlignmentPoint) drop(reason DropReason, diag *Diagnostics) {
	ap.Dropped = true
	ap.Reason = reason
	if diag != nil {
		diag.AddAPDrop(ap.ID, ap.X, ap.Y, reason)
	}
}

// The Mesh is the pruned set of alignment points plus the grid
// geometry they were laid out with. Supports explicit manual edits
// (add/move/remove), applied before the per-AP phases run; downstream
// stages never distinguish manual from automatic points.
type Mesh struct {
	Points []*AlignmentPoint

	HalfBox     int
	HalfPatch   int
	Step        int
	MinBoundary int
	Rect        image.Rectangle // mean frame extent, grid coords

	nextID int
}

func (m *Mesh) Kept() []*AlignmentPoint {
	out := []*AlignmentPoint{}
	for _, ap := range m.Points {
		if !ap.Dropped {
			out = append(out, ap)
		}
	}
	return out
}

// GenerateMesh lays a staggered grid of alignment points over the
// mean frame and prunes the ones without enough brightness, contrast
// or structure to anchor a local correlation. Spacing derives from
// the configured AP box width: patches are twice the step wide, so
// every pixel inside the mesh is covered by overlapping patches.
func GenerateMesh(ctx context.Context, mf *MeanFrame, cfg *Configuration, diag *Diagnostics, progress ProgressFunc) (*Mesh, error) {
	halfBox := cfg.AlignmentPoints.BoxWidth / 2
	step := maxi(halfBox, minAPStep)
	halfPatch := step
	minBoundary := maxi(halfBox+cfg.Stacking.LocalSearchWidth, halfPatch)

	m := &Mesh{
		HalfBox:     halfBox,
		HalfPatch:   halfPatch,
		Step:        step,
		MinBoundary: minBoundary,
		Rect:        image.Rect(0, 0, mf.Rect.Dx(), mf.Rect.Dy()),
	}

	// In planet mode the object floats against empty sky; the grid is
	// clipped to the silhouette's bounding box, with a patch of margin.
	area := m.Rect
	if cfg.Stacking.Mode == ModePlanet {
		area = silhouetteBounds(mf, cfg.AlignmentPoints.BrightnessThreshold, halfPatch).Intersect(m.Rect)
		if area.Empty() {
			return nil, fatal(PhaseAPGrid, ErrNoAlignmentPoints)
		}
	}

	ys := apLocations(area.Min.Y, area.Max.Y, minBoundary, step, true)
	for row, y := range ys {
		even := row%2 == 0
		for _, x := range apLocations(area.Min.X, area.Max.X, minBoundary, step, even) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.newPoint(x, y, mf, cfg, diag)
		}
	}

	diag.APGenerated = len(m.Points)

	// Structure is thresholded on a normalized scale, best AP == 1.
	maxStructure := 0.0
	for _, ap := range m.Points {
		if !ap.Dropped && ap.Structure > maxStructure {
			maxStructure = ap.Structure
		}
	}
	if maxStructure > 0 {
		for _, ap := range m.Points {
			ap.Structure /= maxStructure
			if !ap.Dropped && ap.Structure < cfg.AlignmentPoints.StructureThreshold {
				ap.drop(ReasonLowStructure, diag)
			}
		}
	}

	kept := len(m.Kept())
	diag.APKept = kept
	progress.step(PhaseAPGrid, len(m.Points)-1, len(m.Points))

	logrus.WithFields(logrus.Fields{
		"phase":     PhaseAPGrid,
		"generated": len(m.Points),
		"kept":      kept,
		"step":      step,
	}).Info("alignment point mesh generated")

	if kept == 0 {
		return nil, fatal(PhaseAPGrid, ErrNoAlignmentPoints)
	}
	return m, nil
}

// Spacing never drops below this, no matter how small a box width is
// configured; denser patches would overlap almost entirely.
const minAPStep = 8

// newPoint evaluates the grid point, possibly re-centering it toward
// the local brightness center of mass when most of its box is dark
// (useful on limbs and terminators), and appends it with its pruning
// status.
func (m *Mesh) newPoint(x, y int, mf *MeanFrame, cfg *Configuration, diag *Diagnostics) *AlignmentPoint {
	ap := &AlignmentPoint{
		ID:        m.nextID,
		X:         x,
		Y:         y,
		HalfBox:   m.HalfBox,
		HalfPatch: m.HalfPatch,
	}
	m.nextID++
	m.Points = append(m.Points, ap)

	g := &mf.MonoBlurred
	box := ap.Box()

	min, max := g.MinMax(box)
	if max <= cfg.AlignmentPoints.BrightnessThreshold {
		ap.drop(ReasonLowBrightness, diag)
		return ap
	}

	// Mostly-dark box: slide the point toward where the light is, so
	// the matcher has something to hold onto.
	if dimFraction(g, box, cfg.AlignmentPoints.BrightnessThreshold) > 0.5 {
		comX, comY := g.CenterOfGravity(box, cfg.AlignmentPoints.BrightnessThreshold)
		ap.X = clampi(int(math.Round(comX)), m.Rect.Min.X+m.MinBoundary, m.Rect.Max.X-m.MinBoundary)
		ap.Y = clampi(int(math.Round(comY)), m.Rect.Min.Y+m.MinBoundary, m.Rect.Max.Y-m.MinBoundary)
		box = ap.Box()
		min, max = g.MinMax(box)
	}

	if max-min <= cfg.AlignmentPoints.ContrastThreshold {
		ap.drop(ReasonLowContrast, diag)
		return ap
	}

	sx, sy := g.DirectionalSharpness(box)
	ap.Structure = minf(sx, sy)

	return ap
}

// apLocations places point centers in [lo, hi) along one axis:
// boundary points as close to the edges as the minimum boundary
// distance allows, interior points evenly spaced at roughly the step
// size. Odd rows are offset by half a step, staggering the grid.
func apLocations(lo, hi, minBoundary, step int, even bool) []int {
	first := lo + minBoundary
	last := hi - minBoundary
	span := last - first
	if span < 0 {
		return nil
	}
	if span == 0 {
		return []int{first}
	}

	n := span/step + 1
	if n < 2 {
		n = 2
	}

	if even {
		out := make([]int, 0, n)
		for k := 0; k < n; k++ {
			out = append(out, first+int(math.Round(float64(k)*float64(span)/float64(n-1))))
		}
		return out
	}

	// Odd rows: one fewer point, offset half a step in.
	out := make([]int, 0, n-1)
	for k := 0; k < n-1; k++ {
		pos := first + int(math.Round((float64(k)+0.5)*float64(span)/float64(n-1)))
		out = append(out, pos)
	}
	return out
}

func silhouetteBounds(mf *MeanFrame, brightThresh float64, margin int) image.Rectangle {
	g := &mf.MonoBlurred
	found := false
	var r image.Rectangle
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			if g.Get(x, y) > brightThresh {
				p := image.Point{x, y}
				if !found {
					r = image.Rectangle{Min: p, Max: p.Add(image.Point{1, 1})}
					found = true
				} else {
					r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Point{1, 1})})
				}
			}
		}
	}
	if !found {
		return image.Rectangle{}
	}
	return r.Inset(-margin)
}

func dimFraction(g *lmath.FloatGrid, r image.Rectangle, thresh float64) float64 {
	dim := 0
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if g.GetClamped(x, y) < thresh {
				dim++
			}
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(dim) / float64(n)
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Manual mesh edits. These are validated mutations applied before the
// per-AP phases run; the single-writer-per-phase rule stays intact.

// AddPoint inserts a user-chosen alignment point. It is evaluated
// with the same thresholds as automatic points; a point the metrics
// reject is refused rather than silently kept.
func (m *Mesh) AddPoint(x, y int, mf *MeanFrame, cfg *Configuration) (*AlignmentPoint, error) {
	if err := m.checkPosition(x, y); err != nil {
		return nil, err
	}
	ap := m.newPoint(x, y, mf, cfg, nil)
	if ap.Dropped {
		return nil, fmt.Errorf("add point (%d,%d): %s", x, y, ap.Reason)
	}
	// Manual points skip the normalized-structure pruning pass; the
	// user asked for this spot.
	return ap, nil
}

// MovePoint relocates an existing point, re-evaluating its metrics.
func (m *Mesh) MovePoint(id, x, y int, mf *MeanFrame, cfg *Configuration) error {
	ap := m.find(id)
	if ap == nil {
		return fmt.Errorf("move point: no AP with id %d", id)
	}
	if err := m.checkPosition(x, y); err != nil {
		return err
	}
	oldX, oldY, oldDropped, oldReason := ap.X, ap.Y, ap.Dropped, ap.Reason
	ap.X, ap.Y = x, y
	ap.Dropped, ap.Reason = false, ""

	g := &mf.MonoBlurred
	min, max := g.MinMax(ap.Box())
	if max <= cfg.AlignmentPoints.BrightnessThreshold || max-min <= cfg.AlignmentPoints.ContrastThreshold {
		ap.X, ap.Y, ap.Dropped, ap.Reason = oldX, oldY, oldDropped, oldReason
		return fmt.Errorf("move point %d: target position fails brightness/contrast thresholds", id)
	}
	sx, sy := g.DirectionalSharpness(ap.Box())
	ap.Structure = minf(sx, sy)
	return nil
}

// RemovePoint discards a point entirely.
func (m *Mesh) RemovePoint(id int) error {
	for k, ap := range m.Points {
		if ap.ID == id {
			m.Points = append(m.Points[:k], m.Points[k+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove point: no AP with id %d", id)
}

func (m *Mesh) find(id int) *AlignmentPoint {
	for _, ap := range m.Points {
		if ap.ID == id {
			return ap
		}
	}
	return nil
}

func (m *Mesh) checkPosition(x, y int) error {
	if x < m.Rect.Min.X+m.MinBoundary || x > m.Rect.Max.X-m.MinBoundary ||
		y < m.Rect.Min.Y+m.MinBoundary || y > m.Rect.Max.Y-m.MinBoundary {
		return fmt.Errorf("position (%d,%d) too close to the frame boundary", x, y)
	}
	return nil
}
