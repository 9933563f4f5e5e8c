package lstack

import (
	"image"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// RenderOverlay draws the alignment point mesh over the mean frame:
// kept points get their full box outline and a center dot, dropped
// points get a dimmer cross with a hue keyed to the drop reason. The
// reference patch, when not a full-frame fallback, is outlined too.
// Intended for visual inspection of a run, not for further processing.
func RenderOverlay(mf *MeanFrame, mesh *Mesh, refPatch *ReferencePatch) image.Image {
	base := mf.Mono.ToGray16()
	dc := gg.NewContextForImage(base)
	dc.SetLineWidth(1)

	if refPatch != nil && !refPatch.Fallback {
		r := refPatch.Rect.Sub(mf.Rect.Min)
		dc.SetColor(colorful.Hsv(200, 0.8, 1.0))
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
	}

	for _, ap := range mesh.Points {
		x, y := float64(ap.X), float64(ap.Y)
		if ap.Dropped {
			dc.SetColor(dropHue(ap.Reason))
			dc.DrawLine(x-3, y, x+3, y)
			dc.DrawLine(x, y-3, x, y+3)
			dc.Stroke()
			continue
		}
		box := ap.Box()
		dc.SetColor(colorful.Hsv(120, 0.9, 0.9))
		dc.DrawRectangle(float64(box.Min.X), float64(box.Min.Y), float64(box.Dx()), float64(box.Dy()))
		dc.Stroke()
		dc.DrawPoint(x, y, 1.5)
		dc.Fill()
	}

	return dc.Image()
}

func dropHue(reason DropReason) colorful.Color {
	switch reason {
	case ReasonLowBrightness:
		return colorful.Hsv(50, 0.9, 0.8)
	case ReasonLowContrast:
		return colorful.Hsv(30, 0.9, 0.8)
	case ReasonLowStructure:
		return colorful.Hsv(0, 0.9, 0.8)
	default:
		return colorful.Hsv(300, 0.6, 0.8)
	}
}
