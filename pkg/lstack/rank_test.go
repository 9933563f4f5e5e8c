package lstack

import (
	"context"
	"image"
	"reflect"
	"testing"
)

func rankTestStore(t *testing.T, details []float64, exclude []int) *FrameStore {
	t.Helper()
	imgs := make([]image.Image, len(details))
	for i, d := range details {
		imgs[i] = makeFrame(128, 128, 0, 0, d)
	}
	fs, err := NewFrameStore(imgs, 2, 2, exclude)
	if err != nil {
		t.Fatalf("frame store: %v", err)
	}
	return fs
}

func TestRankFramesOrdersBySharpness(t *testing.T) {
	// Frame 2 is the sharpest, then 0, then 3, then 1.
	details := []float64{0.8, 0.4, 1.0, 0.6}
	wantOrder := []int{2, 0, 3, 1}

	for _, method := range []string{"xy-gradient", "laplace", "sobel"} {
		t.Run(method, func(t *testing.T) {
			fs := rankTestStore(t, details, nil)
			cfg := NewConfiguration()
			cfg.Stacking.RankMethod = method

			r, err := RankFrames(context.Background(), fs, &cfg, nil)
			if err != nil {
				t.Fatalf("rank failed: %v", err)
			}
			if !reflect.DeepEqual(r.Order, wantOrder) {
				t.Fatalf("order %v, want %v (scores %v)", r.Order, wantOrder, r.Scores)
			}
			if r.Scores[r.Best()] != 1.0 {
				t.Fatalf("best score not normalized to 1: %f", r.Scores[r.Best()])
			}
			for _, i := range r.Order[1:] {
				if r.Scores[i] >= 1.0 || r.Scores[i] <= 0 {
					t.Fatalf("frame %d score %f outside (0,1)", i, r.Scores[i])
				}
			}
		})
	}
}

func TestRankFramesPenalizesNoise(t *testing.T) {
	// A clean frame and the same frame with additive Gaussian noise.
	// The raw structure measures all rise with noise, so this pins
	// down the noise compensation: the clean frame must win under
	// every method.
	imgs := []image.Image{
		makeFrame(128, 128, 0, 0, 1.0),
		makeNoisyFrame(128, 128, 1.0, 0.05, 1),
	}

	for _, method := range []string{"xy-gradient", "laplace", "sobel"} {
		t.Run(method, func(t *testing.T) {
			fs, err := NewFrameStore(imgs, 2, 4, nil)
			if err != nil {
				t.Fatalf("frame store: %v", err)
			}
			cfg := NewConfiguration()
			cfg.Stacking.RankMethod = method

			r, err := RankFrames(context.Background(), fs, &cfg, nil)
			if err != nil {
				t.Fatalf("rank failed: %v", err)
			}
			if r.Best() != 0 {
				t.Fatalf("noisy frame outranked its clean twin (scores %v)", r.Scores)
			}
			if r.Scores[1] >= r.Scores[0] {
				t.Fatalf("noisy score %f not below clean score %f", r.Scores[1], r.Scores[0])
			}
		})
	}
}

func TestRankFramesDeterministic(t *testing.T) {
	details := []float64{0.7, 0.9, 0.5, 1.0, 0.6, 0.8}
	cfg := NewConfiguration()

	a, err := RankFrames(context.Background(), rankTestStore(t, details, nil), &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RankFrames(context.Background(), rankTestStore(t, details, nil), &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Order, b.Order) || !reflect.DeepEqual(a.Scores, b.Scores) {
		t.Fatalf("ranking not deterministic: %v vs %v", a.Order, b.Order)
	}
}

func TestRankFramesSkipsExcluded(t *testing.T) {
	// The sharpest frame is excluded; it must not appear in the order.
	fs := rankTestStore(t, []float64{0.5, 1.0, 0.7}, []int{1})
	cfg := NewConfiguration()

	r, err := RankFrames(context.Background(), fs, &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r.Order, []int{2, 0}) {
		t.Fatalf("order %v, want [2 0]", r.Order)
	}
}

func TestRankFramesTieBreaksByCaptureOrder(t *testing.T) {
	fs := rankTestStore(t, []float64{0.8, 0.8, 0.8}, nil)
	cfg := NewConfiguration()

	r, err := RankFrames(context.Background(), fs, &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r.Order, []int{0, 1, 2}) {
		t.Fatalf("tied frames should keep capture order, got %v", r.Order)
	}
}

func TestRankFramesCancellation(t *testing.T) {
	fs := rankTestStore(t, []float64{0.8, 0.9, 1.0}, nil)
	cfg := NewConfiguration()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RankFrames(ctx, fs, &cfg, nil); err == nil {
		t.Fatalf("expected error from canceled context")
	}
}
