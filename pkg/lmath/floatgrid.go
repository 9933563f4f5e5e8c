package lmath

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// A FloatGrid is a grid of floats, with some operations. It is the
// working representation for monochrome frame data throughout the
// stacker; pixel values are kept in the range [0, 1].
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

func (fg *FloatGrid) NewFromThis() FloatGrid  { return NewFloatGrid(fg.Dx(), fg.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Dy() int                 { return len(fg.values) / fg.stride }
func (fg *FloatGrid) Add(x, y int, v float64) { fg.values[fg.stride*y+x] += v }

func (fg *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: fg.stride, values: make([]float64, len(fg.values))}
	copy(g2.values, fg.values)
	return &g2
}

func (fg *FloatGrid) Fill(v float64) {
	for i := range fg.values {
		fg.values[i] = v
	}
}

// Scale multiplies every value by k, in place.
func (fg *FloatGrid) Scale(k float64) {
	for i := range fg.values {
		fg.values[i] *= k
	}
}

// GetClamped reads a value, clamping out-of-range coordinates to the
// nearest edge pixel.
func (fg *FloatGrid) GetClamped(x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= fg.Dx() {
		x = fg.Dx() - 1
	}
	if y < 0 {
		y = 0
	} else if y >= fg.Dy() {
		y = fg.Dy() - 1
	}
	return fg.Get(x, y)
}

// Bilinear samples the grid at a fractional position. Coordinates
// outside the grid are clamped to the edge, so the sample is defined
// everywhere.
func (fg *FloatGrid) Bilinear(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	tx := x - float64(x0)
	ty := y - float64(y0)

	v00 := fg.GetClamped(x0, y0)
	v10 := fg.GetClamped(x0+1, y0)
	v01 := fg.GetClamped(x0, y0+1)
	v11 := fg.GetClamped(x0+1, y0+1)

	top := v00*(1-tx) + v10*tx
	bot := v01*(1-tx) + v11*tx
	return top*(1-ty) + bot*ty
}

// SubGrid copies out the rectangle r (clamped at the edges) into a
// fresh grid.
func (fg *FloatGrid) SubGrid(r image.Rectangle) FloatGrid {
	g2 := NewFloatGrid(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			g2.Set(x, y, fg.GetClamped(r.Min.X+x, r.Min.Y+y))
		}
	}
	return g2
}

// GaussianBlur is a cheap 3x3 binomial blur, applied `passes` times.
// Each pass widens the effective kernel; the frame store uses the
// configured noise level as the pass count, so noisy inputs get
// smoothed harder before any gradients are measured.
func (fg FloatGrid) GaussianBlur(passes int) FloatGrid {
	g1 := fg
	for p := 0; p < passes; p++ {
		g1 = g1.blurOnce()
	}
	return g1
}

func (g1 FloatGrid) blurOnce() FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	g2 := g1.NewFromThis()
	T := g1.NewFromThis()

	//--- X blur, build up in T
	for y := 0; y < height; y++ {
		for x := 1; x < width-1; x++ {
			t := 2.0 * g1.Get(x, y)
			t += g1.Get(x-1, y)
			t += g1.Get(x+1, y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y, (3.0*g1.Get(0, y)+g1.Get(1, y))/4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1, y)+g1.Get(width-2, y))/4.0)
	}

	//--- Y blur, read from T and generate output
	for x := 0; x < width; x++ {
		for y := 1; y < height-1; y++ {
			t := 2.0 * T.Get(x, y)
			t += T.Get(x, y-1)
			t += T.Get(x, y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0, (3.0*T.Get(x, 0)+T.Get(x, 1))/4.0)
		g2.Set(x, height-1, (3.0*T.Get(x, height-1)+T.Get(x, height-2))/4.0)
	}

	return g2
}

// Laplacian applies the discrete 4-neighbour Laplacian.
func (fg *FloatGrid) Laplacian() FloatGrid {
	g2 := fg.NewFromThis()
	for y := 0; y < fg.Dy(); y++ {
		for x := 0; x < fg.Dx(); x++ {
			v := -4.0 * fg.Get(x, y)
			v += fg.GetClamped(x-1, y)
			v += fg.GetClamped(x+1, y)
			v += fg.GetClamped(x, y-1)
			v += fg.GetClamped(x, y+1)
			g2.Set(x, y, v)
		}
	}
	return g2
}

// MeanGradientNorm measures local contrast over the rectangle r,
// sampled with the given stride: the mean of sqrt(dx^2+dy^2) over all
// interior points. This is the workhorse sharpness measure.
func (fg *FloatGrid) MeanGradientNorm(r image.Rectangle, stride int) float64 {
	if stride < 1 {
		stride = 1
	}
	sum := 0.0
	n := 0
	for y := r.Min.Y; y < r.Max.Y-stride; y += stride {
		for x := r.Min.X; x < r.Max.X-stride; x += stride {
			dx := fg.GetClamped(x+stride, y) - fg.Get(x, y)
			dy := fg.GetClamped(x, y+stride) - fg.Get(x, y)
			sum += math.Sqrt(dx*dx + dy*dy)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// SobelEnergy sums the Sobel gradient magnitude over r.
func (fg *FloatGrid) SobelEnergy(r image.Rectangle, stride int) float64 {
	if stride < 1 {
		stride = 1
	}
	sum := 0.0
	for y := r.Min.Y; y < r.Max.Y; y += stride {
		for x := r.Min.X; x < r.Max.X; x += stride {
			gx := fg.GetClamped(x+1, y-1) + 2*fg.GetClamped(x+1, y) + fg.GetClamped(x+1, y+1) -
				fg.GetClamped(x-1, y-1) - 2*fg.GetClamped(x-1, y) - fg.GetClamped(x-1, y+1)
			gy := fg.GetClamped(x-1, y+1) + 2*fg.GetClamped(x, y+1) + fg.GetClamped(x+1, y+1) -
				fg.GetClamped(x-1, y-1) - 2*fg.GetClamped(x, y-1) - fg.GetClamped(x+1, y-1)
			sum += math.Hypot(gx, gy)
		}
	}
	return sum
}

// Variance over the rectangle r.
func (fg *FloatGrid) Variance(r image.Rectangle) float64 {
	sum, sumSq := 0.0, 0.0
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := fg.GetClamped(x, y)
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// MinMax over the rectangle r.
func (fg *FloatGrid) MinMax(r image.Rectangle) (float64, float64) {
	min, max := math.MaxFloat64, -math.MaxFloat64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := fg.GetClamped(x, y)
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return min, max
}

// DirectionalSharpness measures the mean absolute gradient over r in
// each axis separately, returning (x-sharpness, y-sharpness). Taking
// the min of the two rewards 2-D structure; a 1-D edge scores high in
// only one axis, and would under-constrain a translation search.
func (fg *FloatGrid) DirectionalSharpness(r image.Rectangle) (float64, float64) {
	sumX, sumY := 0.0, 0.0
	n := 0
	for y := r.Min.Y; y < r.Max.Y-1; y++ {
		for x := r.Min.X; x < r.Max.X-1; x++ {
			sumX += math.Abs(fg.GetClamped(x+1, y) - fg.Get(x, y))
			sumY += math.Abs(fg.GetClamped(x, y+1) - fg.Get(x, y))
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sumX / float64(n), sumY / float64(n)
}

// CenterOfGravity returns the brightness-weighted centroid of r,
// counting only pixels above the threshold.
func (fg *FloatGrid) CenterOfGravity(r image.Rectangle, thresh float64) (float64, float64) {
	sumX, sumY, sumW := 0.0, 0.0, 0.0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if v := fg.GetClamped(x, y); v > thresh {
				sumX += float64(x) * v
				sumY += float64(y) * v
				sumW += v
			}
		}
	}
	if sumW == 0 {
		return float64(r.Min.X+r.Max.X) / 2, float64(r.Min.Y+r.Max.Y) / 2
	}
	return sumX / sumW, sumY / sumW
}

func (fg *FloatGrid) Bounds() image.Rectangle {
	return image.Rect(0, 0, fg.Dx(), fg.Dy())
}

func (fg *FloatGrid) Stats() string {
	min, max := fg.MinMax(fg.Bounds())
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToGray16 renders the grid into a grayscale image, clamping values
// to [0,1].
func (fg *FloatGrid) ToGray16() *image.Gray16 {
	img := image.NewGray16(fg.Bounds())
	for y := 0; y < fg.Dy(); y++ {
		for x := 0; x < fg.Dx(); x++ {
			v := fg.Get(x, y)
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v * 65535.0)})
		}
	}
	return img
}

// GridFromImage extracts one FloatGrid per color channel, values
// scaled to [0,1]. A grayscale input yields a single grid.
func GridFromImage(img image.Image) []FloatGrid {
	b := img.Bounds()
	if _, isGray := img.(*image.Gray); isGray {
		return []FloatGrid{monoFromImage(img)}
	}
	if _, isGray16 := img.(*image.Gray16); isGray16 {
		return []FloatGrid{monoFromImage(img)}
	}

	chans := []FloatGrid{
		NewFloatGrid(b.Dx(), b.Dy()),
		NewFloatGrid(b.Dx(), b.Dy()),
		NewFloatGrid(b.Dx(), b.Dy()),
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			chans[0].Set(x, y, float64(r)/65535.0)
			chans[1].Set(x, y, float64(g)/65535.0)
			chans[2].Set(x, y, float64(bb)/65535.0)
		}
	}
	return chans
}

func monoFromImage(img image.Image) FloatGrid {
	b := img.Bounds()
	g := NewFloatGrid(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.Set(x, y, float64(r)/65535.0)
		}
	}
	return g
}

// MonoFromImage maps a color into a gray grid in the range [0,1],
// using the usual Rec.601 luma weights.
func MonoFromImage(img image.Image) FloatGrid {
	b := img.Bounds()
	g := NewFloatGrid(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			gray := float64(r)*0.2989 + float64(gg)*0.5870 + float64(bb)*0.1140
			g.Set(x, y, gray/65535.0)
		}
	}
	return g
}
