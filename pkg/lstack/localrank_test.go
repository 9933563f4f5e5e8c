package lstack

import (
	"image"
	"testing"
)

// allValidAlignment is a zero-shift global alignment with the given
// validity flags, for tests that drive the per-AP phases directly.
func allValidAlignment(n int, invalid ...int) *GlobalAlignment {
	ga := &GlobalAlignment{Shifts: make([]GlobalShift, n)}
	for i := range ga.Shifts {
		ga.Shifts[i] = GlobalShift{Valid: true, Confidence: 1.0}
	}
	for _, i := range invalid {
		ga.Shifts[i] = GlobalShift{}
	}
	return ga
}

func TestRankLocalPenalizesNoise(t *testing.T) {
	// Same property as the global ranker, windowed to one AP box: a
	// noisy copy of a frame must rank below the clean original.
	imgs := []image.Image{
		makeFrame(192, 192, 0, 0, 1.0),
		makeNoisyFrame(192, 192, 1.0, 0.08, 7),
	}

	for _, method := range []string{"xy-gradient", "laplace", "sobel"} {
		t.Run(method, func(t *testing.T) {
			fs, err := NewFrameStore(imgs, 2, 4, nil)
			if err != nil {
				t.Fatalf("frame store: %v", err)
			}
			mf := testMeanFrame(192, 192, 4)
			ga := allValidAlignment(2)
			cfg := NewConfiguration()
			cfg.Stacking.RankMethod = method
			cfg.Stacking.MinSelection = 1

			ap := &AlignmentPoint{ID: 0, X: 96, Y: 96, HalfBox: 32, HalfPatch: 32}
			RankLocal(fs, mf, ga, ap, &cfg, NewDiagnostics())

			if ap.Dropped {
				t.Fatalf("AP dropped: %s", ap.Reason)
			}
			if ap.Ranking[0].Frame != 0 {
				t.Fatalf("noisy frame outranked its clean twin locally (ranking %v)", ap.Ranking)
			}
		})
	}
}

func TestRankLocalDropsBelowSelectionFloor(t *testing.T) {
	// Six frames, but two failed global registration. With a minimum
	// selection of five the AP cannot muster enough candidates and
	// must be discarded, with the drop recorded.
	imgs := make([]image.Image, 6)
	for i := range imgs {
		imgs[i] = makeFrame(128, 128, 0, 0, 1.0)
	}
	fs, err := NewFrameStore(imgs, 2, 2, nil)
	if err != nil {
		t.Fatalf("frame store: %v", err)
	}
	mf := testMeanFrame(128, 128, 2)
	ga := allValidAlignment(6, 4, 5)
	cfg := NewConfiguration()
	cfg.Stacking.MinSelection = 5

	diag := NewDiagnostics()
	ap := &AlignmentPoint{ID: 9, X: 64, Y: 64, HalfBox: 24, HalfPatch: 24}
	RankLocal(fs, mf, ga, ap, &cfg, diag)

	if !ap.Dropped {
		t.Fatalf("AP with 4 candidates survived a selection floor of 5")
	}
	if ap.Reason != ReasonInsufficientData {
		t.Fatalf("drop reason %q, want %q", ap.Reason, ReasonInsufficientData)
	}
	if len(diag.APDrops) != 1 || diag.APDrops[0].ID != 9 || diag.APDrops[0].Reason != ReasonInsufficientData {
		t.Fatalf("AP drop not recorded in diagnostics: %+v", diag.APDrops)
	}
}
