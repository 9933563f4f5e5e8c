package lstack

import (
	"image"
	"math"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// matchResult is the outcome of one spiral shift search.
type matchResult struct {
	// Sub-pixel shift of the target relative to the reference; the
	// target window must be read at (base - shift) to register with
	// the reference.
	Dx, Dy float64

	// How pronounced the deviation minimum is, in [0,1]. A flat
	// deviation surface (featureless or noise-dominated patch) scores
	// near zero.
	Confidence float64

	Found bool
}

// searchLocalMatch finds the translation that best registers a window
// of `target` against the reference box ref[refRect]. The target
// window starts at (baseX, baseY); candidate shifts are visited in a
// spiral, radius 0 outwards, and the search stops as soon as a whole
// ring brings no improvement - seeing displacements are small, so the
// nearest acceptable minimum is the right one. Sub-pixel refinement
// fits a paraboloid to the 3x3 deviation neighbourhood of the integer
// minimum.
//
// The same routine drives whole-frame registration and per-AP local
// shift estimation; only the window sizes and search widths differ.
func searchLocalMatch(ref *lmath.FloatGrid, refRect image.Rectangle,
	target *lmath.FloatGrid, baseX, baseY, searchWidth, stride int) matchResult {

	if stride < 1 {
		stride = 1
	}

	side := 2*searchWidth + 1
	deviations := lmath.NewFloatGrid(side, side)
	deviations.Fill(math.Inf(1))

	devSum, devCount := 0.0, 0

	evaluate := func(dx, dy int) float64 {
		sum := 0.0
		n := 0
		for y := refRect.Min.Y; y < refRect.Max.Y; y += stride {
			for x := refRect.Min.X; x < refRect.Max.X; x += stride {
				tv := target.GetClamped(baseX+(x-refRect.Min.X)-dx, baseY+(y-refRect.Min.Y)-dy)
				sum += math.Abs(ref.Get(x, y) - tv)
				n++
			}
		}
		dev := sum / float64(n)
		deviations.Set(dx+searchWidth, dy+searchWidth, dev)
		devSum += dev
		devCount++
		return dev
	}

	devMin := math.Inf(1)
	dxMin, dyMin := 0, 0
	found := false

	for r := 0; r <= searchWidth; r++ {
		devMinR := math.Inf(1)
		dxMinR, dyMinR := 0, 0

		for _, p := range lmath.CircleAround(0, 0, r) {
			dx, dy := p[0], p[1]
			if dev := evaluate(dx, dy); dev < devMinR {
				devMinR, dxMinR, dyMinR = dev, dx, dy
			}
		}

		// No improvement over the previous rings: the optimum is
		// interior, we are done.
		if devMinR >= devMin {
			found = true
			break
		}
		devMin, dxMin, dyMin = devMinR, dxMinR, dyMinR
	}

	if !found {
		// The minimum kept improving out to the widest ring; the true
		// shift lies beyond the search width.
		return matchResult{}
	}

	res := matchResult{
		Dx:    float64(dxMin),
		Dy:    float64(dyMin),
		Found: true,
	}

	// Contrast of the deviation surface, used as a confidence measure.
	devMean := devSum / float64(devCount)
	if devMean > 0 {
		res.Confidence = (devMean - devMin) / devMean
	}

	// Sub-pixel correction from the 3x3 neighbourhood. All neighbours
	// of the integer minimum have been evaluated, since the search ran
	// at least one ring past it.
	var block [3][3]float64
	for yy := 0; yy < 3; yy++ {
		for xx := 0; xx < 3; xx++ {
			block[yy][xx] = deviations.Get(dxMin+searchWidth-1+xx, dyMin+searchWidth-1+yy)
		}
	}
	if dxCorr, dyCorr, err := lmath.SubPixelSolve(block); err == nil {
		// A correction above one pixel means the fit went wrong;
		// keep the integer result.
		if math.Abs(dxCorr) < 1.0 && math.Abs(dyCorr) < 1.0 {
			res.Dx += dxCorr
			res.Dy += dyCorr
		}
	}

	return res
}
