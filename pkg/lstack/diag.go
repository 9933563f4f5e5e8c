package lstack

import (
	"fmt"
	"sync"

	"github.com/skypies/util/histogram"
)

// Why a frame or an alignment point was excluded from further
// processing. Drops are recorded here and never abort the job.
type DropReason string

const (
	ReasonLowBrightness      DropReason = "low brightness"
	ReasonLowContrast        DropReason = "low contrast"
	ReasonLowStructure       DropReason = "low structure"
	ReasonInsufficientData   DropReason = "insufficient data"
	ReasonLowConfidence      DropReason = "low correlation confidence"
	ReasonRegistrationFailed DropReason = "registration failed"
)

type FrameDrop struct {
	Frame  int
	Phase  Phase
	Reason DropReason
}

type APDrop struct {
	ID     int
	X, Y   int
	Reason DropReason
}

// Diagnostics aggregates everything the pipeline excluded and why,
// plus a few distribution summaries. Delivered alongside the output
// image; consumed by the display layer.
type Diagnostics struct {
	mu sync.Mutex

	// Distribution of normalized frame quality scores, percent of best.
	ScoreHist histogram.Histogram

	// Distribution of local shift magnitudes, in 1/10 pixel.
	ShiftHist histogram.Histogram

	FrameDrops []FrameDrop
	APDrops    []APDrop

	APGenerated int
	APKept      int

	// True when reference patch selection fell back to the full frame.
	RefPatchFallback bool
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		ScoreHist: histogram.Histogram{NumBuckets: 100, ValMin: 0, ValMax: 100},
		ShiftHist: histogram.Histogram{NumBuckets: 100, ValMin: 0, ValMax: 100},
	}
}

func (d *Diagnostics) AddFrameDrop(frame int, phase Phase, reason DropReason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FrameDrops = append(d.FrameDrops, FrameDrop{Frame: frame, Phase: phase, Reason: reason})
}

func (d *Diagnostics) AddAPDrop(id, x, y int, reason DropReason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.APDrops = append(d.APDrops, APDrop{ID: id, X: x, Y: y, Reason: reason})
}

func (d *Diagnostics) AddScore(normalized float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ScoreHist.Add(histogram.ScalarVal(int(normalized * 100.0)))
}

func (d *Diagnostics) AddShiftMagnitude(pixels float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ShiftHist.Add(histogram.ScalarVal(int(pixels * 10.0)))
}

func (d *Diagnostics) Summary() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("diag[frames dropped: %d, APs: %d kept / %d generated, AP drops: %d]",
		len(d.FrameDrops), d.APKept, d.APGenerated, len(d.APDrops))
}
