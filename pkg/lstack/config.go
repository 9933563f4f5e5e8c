package lstack

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

/* Example job file ...

stacking:
  mode: planet
  rankmethod: xy-gradient
  noiselevel: 4
  globalsearchwidth: 34
  localsearchwidth: 6
  framepercent: 20
  drizzle: 1

alignmentpoints:
  boxwidth: 48
  brightnessthreshold: 0.04
  contrastthreshold: 0.08
  structurethreshold: 0.05

output:
  filename: out.png

exclude: [17, 103]

*/

// Stabilization modes. Surface: the object is larger than the field
// of view (lunar/solar surface); the AP mesh covers the whole frame.
// Planet: the object floats free against background sky; the mesh is
// clipped to its silhouette and stabilization starts from the
// center of gravity.
const (
	ModeSurface = "surface"
	ModePlanet  = "planet"
)

type StackingOptions struct {
	Mode              string  // "surface" or "planet"
	RankMethod        string  // frame ranking strategy, see rank.go
	NoiseLevel        int     // 0..11, blur passes applied before measuring structure
	GlobalSearchWidth int     // max radius for whole-frame shift search
	LocalSearchWidth  int     // max radius for per-AP shift search
	FrameCount        int     // stack the best N frames per AP ...
	FramePercent      float64 // ... or the best N percent (mutually exclusive)
	MinSelection      int     // APs with fewer usable frames than this are dropped
	MeanFrameCount    int     // frames averaged into the mean frame (0 = same as selection)
	Drizzle           float64 // 1, 1.5, 2 or 3; output up-sampling factor
	BufferLevel       int     // 0..4, how many derived artifacts the frame store caches
	QualityWeighted   bool    // weight patch averaging by local rank score
	SamplingStride    int     // stride used when sampling deviations in the matchers
}

type APOptions struct {
	BoxWidth            int     // side length of the AP matching box, in pixels
	BrightnessThreshold float64 // patch max brightness must exceed this
	ContrastThreshold   float64 // patch max-min must exceed this
	StructureThreshold  float64 // min directional sharpness must exceed this
}

type OutputOptions struct {
	Filename        string // PNG composite
	HDRFilename     string // optional Radiance .hdr export
	OverlayFilename string // optional AP mesh overlay render
}

// A RectSpec pins down a rectangle in frame coordinates; used for the
// optional manual reference patch override.
type RectSpec struct {
	X, Y, W, H int
}

type Configuration struct {
	Stacking        StackingOptions
	AlignmentPoints APOptions
	Output          OutputOptions

	// Frames excluded before ranking (corrupted, overexposed, ...)
	Exclude []int

	// Optional manual reference patch; nil means auto-select.
	ReferencePatch *RectSpec
}

func NewConfiguration() Configuration {
	return Configuration{
		Stacking: StackingOptions{
			Mode:              ModeSurface,
			RankMethod:        "xy-gradient",
			NoiseLevel:        4,
			GlobalSearchWidth: 34,
			LocalSearchWidth:  6,
			FramePercent:      20.0,
			MinSelection:      5,
			Drizzle:           1.0,
			BufferLevel:       2,
			SamplingStride:    2,
		},
		AlignmentPoints: APOptions{
			BoxWidth:            48,
			BrightnessThreshold: 0.04,
			ContrastThreshold:   0.08,
			StructureThreshold:  0.05,
		},
		Output: OutputOptions{Filename: "out.png"},
	}
}

func LoadConfiguration(filename string) (Configuration, error) {
	c := NewConfiguration()

	contents, err := os.ReadFile(filename)
	if err != nil {
		return c, fmt.Errorf("read '%s': %v", filename, err)
	}
	if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("parse '%s': %v", filename, err)
	}

	return c, c.FinalizeConfiguration()
}

// FinalizeConfiguration does sanity checks and other post-processing.
// Everything here is rejected up front; the pipeline never starts
// with an out-of-range parameter.
func (c *Configuration) FinalizeConfiguration() error {
	s := &c.Stacking

	switch s.Mode {
	case ModeSurface, ModePlanet:
	case "":
		s.Mode = ModeSurface
	default:
		return fmt.Errorf("no stabilization mode named '%s'", s.Mode)
	}

	if _, exists := rankMethods[s.RankMethod]; !exists {
		return fmt.Errorf("no rank method named '%s'", s.RankMethod)
	}

	if s.NoiseLevel < 0 || s.NoiseLevel > 11 {
		return fmt.Errorf("noise level %d outside [0,11]", s.NoiseLevel)
	}
	if s.BufferLevel < 0 || s.BufferLevel > 4 {
		return fmt.Errorf("buffer level %d outside [0,4]", s.BufferLevel)
	}
	if s.GlobalSearchWidth < 1 {
		return fmt.Errorf("global search width %d must be >= 1", s.GlobalSearchWidth)
	}
	if s.LocalSearchWidth < 1 {
		return fmt.Errorf("local search width %d must be >= 1", s.LocalSearchWidth)
	}
	if s.SamplingStride < 1 {
		s.SamplingStride = 1
	}

	// FrameCount and FramePercent are mutually configured; exactly one
	// may be set.
	if s.FrameCount > 0 && s.FramePercent > 0 {
		return fmt.Errorf("framecount and framepercent are mutually exclusive")
	}
	if s.FrameCount == 0 && s.FramePercent == 0 {
		s.FramePercent = 20.0
	}
	if s.FramePercent < 0 || s.FramePercent > 100 {
		return fmt.Errorf("frame percent %.1f outside [0,100]", s.FramePercent)
	}
	if s.FrameCount < 0 {
		return fmt.Errorf("frame count %d must be positive", s.FrameCount)
	}
	if s.MinSelection < 1 {
		s.MinSelection = 1
	}

	switch s.Drizzle {
	case 0:
		s.Drizzle = 1.0
	case 1.0, 1.5, 2.0, 3.0:
	default:
		return fmt.Errorf("drizzle factor %.1f not one of 1, 1.5, 2, 3", s.Drizzle)
	}

	ap := &c.AlignmentPoints
	if ap.BoxWidth < 8 {
		return fmt.Errorf("AP box width %d too small (min 8)", ap.BoxWidth)
	}
	if ap.BrightnessThreshold < 0 || ap.ContrastThreshold < 0 || ap.StructureThreshold < 0 {
		return fmt.Errorf("AP thresholds must not be negative")
	}

	if c.ReferencePatch != nil {
		rp := c.ReferencePatch
		if rp.W < 8 || rp.H < 8 {
			return fmt.Errorf("manual reference patch %dx%d too small", rp.W, rp.H)
		}
	}

	return nil
}

// ValidateForFrameCount applies the checks that need to know how many
// frames survived exclusion.
func (c *Configuration) ValidateForFrameCount(n int) error {
	if n < 1 {
		return fmt.Errorf("job has no frames after exclusion")
	}
	if c.Stacking.FrameCount > n {
		return fmt.Errorf("selection count %d exceeds available frames %d", c.Stacking.FrameCount, n)
	}
	if c.Stacking.MinSelection > n {
		return fmt.Errorf("minimum selection %d exceeds available frames %d", c.Stacking.MinSelection, n)
	}
	return nil
}

// SelectionCount resolves the configured count-or-percentage into a
// concrete frame count, given the number of candidates. Never below
// the minimum selection, never above what is available.
func (c *Configuration) SelectionCount(n int) int {
	count := c.Stacking.FrameCount
	if count == 0 {
		count = int(float64(n)*c.Stacking.FramePercent/100.0 + 0.5)
	}
	if count < c.Stacking.MinSelection {
		count = c.Stacking.MinSelection
	}
	if count < 1 {
		count = 1
	}
	if count > n {
		count = n
	}
	return count
}

func (c *Configuration) AsYaml() string {
	b, _ := yaml.Marshal(c)
	return string(b)
}
