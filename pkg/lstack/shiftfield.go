package lstack

import (
	"image"
	"math"
)

// A ShiftField is the dense de-warp field for one frame: a smoothly
// varying content displacement defined at every mean-frame
// coordinate, interpolated from the sparse local shifts the frame
// received at the kept APs. Away from the mesh the field decays to
// the frame's global shift, so the background stays globally (not
// locally) registered.
//
// Fields differ frame to frame because the local shifts do; each is
// built fresh and read-only once built.
type ShiftField struct {
	global GlobalShift
	points []fieldPoint
	radius float64
}

type fieldPoint struct {
	x, y   float64
	dx, dy float64
}

// BuildShiftField gathers the local shifts measured for the given
// frame across all kept APs. The influence radius is twice the mesh
// step, so each point blends with its immediate neighbours and the
// field is seam-free across patch boundaries.
func BuildShiftField(frame int, mesh *Mesh, ga *GlobalAlignment) *ShiftField {
	sf := &ShiftField{
		global: ga.Shifts[frame],
		radius: 2.0 * float64(mesh.Step),
	}
	for _, ap := range mesh.Kept() {
		for _, s := range ap.Shifts {
			if s.Frame == frame {
				sf.points = append(sf.points, fieldPoint{
					x: float64(ap.X), y: float64(ap.Y),
					dx: s.Dx, dy: s.Dy,
				})
				break
			}
		}
	}
	return sf
}

// Eval returns the displacement at a mean-frame coordinate. Inside
// the mesh it is an inverse-distance blend of nearby AP shifts, with
// a background term that grows as the nearest AP recedes; the two
// weightings meet continuously, so the blender can sample anywhere
// without seeing a seam.
func (sf *ShiftField) Eval(x, y float64) (float64, float64) {
	sumW := 0.0
	sumDx, sumDy := 0.0, 0.0
	dMin := math.Inf(1)

	for _, p := range sf.points {
		d := math.Hypot(x-p.x, y-p.y)
		if d < dMin {
			dMin = d
		}
		if d >= sf.radius {
			continue
		}
		t := 1.0 - d/sf.radius
		w := t * t
		sumW += w
		sumDx += w * p.dx
		sumDy += w * p.dy
	}

	if sumW == 0 {
		// Beyond every AP's influence: pure global registration.
		return sf.global.Dx, sf.global.Dy
	}

	// Background weight: zero on top of an AP, approaching dominance
	// as the nearest AP recedes toward the influence radius.
	b := dMin / sf.radius
	wBg := b * b

	den := sumW + wBg
	return (sumDx + wBg*sf.global.Dx) / den, (sumDy + wBg*sf.global.Dy) / den
}

// windowed returns the subset of field points that can influence the
// given rectangle, as a cheaper field for patch-footprint evaluation.
// Points outside the inflated window contribute zero weight there, so
// the values are identical.
func (sf *ShiftField) windowed(r image.Rectangle) *ShiftField {
	out := &ShiftField{global: sf.global, radius: sf.radius}
	rad := int(math.Ceil(sf.radius))
	win := r.Inset(-rad)
	for _, p := range sf.points {
		if p.x >= float64(win.Min.X) && p.x <= float64(win.Max.X) &&
			p.y >= float64(win.Min.Y) && p.y <= float64(win.Max.Y) {
			out.points = append(out.points, p)
		}
	}
	return out
}
