package lstack

import (
	"context"
	"reflect"
	"testing"
)

func TestBuildMeanFrameDeterministic(t *testing.T) {
	// The contributors are resampled in parallel but must be summed in
	// a fixed order: float addition is order-sensitive, and the mean
	// frame has to come out bit-identical run after run.
	imgs, sxs, sys := burst(t, 12, 240, 240)
	cfg := burstConfig()
	fs, err := NewFrameStore(imgs, cfg.Stacking.BufferLevel, cfg.Stacking.NoiseLevel, nil)
	if err != nil {
		t.Fatalf("frame store: %v", err)
	}

	// Fractional shifts force real Catmull-Rom resampling work onto
	// every worker.
	ga := &GlobalAlignment{Shifts: make([]GlobalShift, 12)}
	order := make([]int, 12)
	for i := range ga.Shifts {
		ga.Shifts[i] = GlobalShift{Dx: sxs[i] + 0.3, Dy: sys[i] - 0.2, Confidence: 1.0, Valid: true}
		order[i] = i
	}
	ga.Intersection = intersectionArea(fs, ga)
	ranking := &Ranking{Order: order}

	first, err := BuildMeanFrame(context.Background(), fs, ranking, ga, &cfg, nil)
	if err != nil {
		t.Fatalf("mean frame failed: %v", err)
	}
	for run := 0; run < 4; run++ {
		mf, err := BuildMeanFrame(context.Background(), fs, ranking, ga, &cfg, nil)
		if err != nil {
			t.Fatalf("mean frame failed on run %d: %v", run, err)
		}
		if !reflect.DeepEqual(first.Channels, mf.Channels) {
			t.Fatalf("mean frame differs between runs")
		}
	}
}
