package lstack

import (
	"fmt"
	"image"
	"sync"

	"github.com/luckystack/luckystack/pkg/lmath"
)

// A Frame is one decoded input image. The pixel data is owned by the
// caller and never mutated by the engine; everything the engine needs
// is derived into FloatGrids via the FrameStore.
type Frame struct {
	Index int
	Img   image.Image

	// Set once by the quality ranker, normalized so the best frame
	// scores 1.0.
	Score float64
}

// The FrameStore hands out per-frame derived artifacts (monochrome
// grid, blurred grid, Laplacian, color channels). The buffer level
// decides which of those are kept after first computation and which
// are recomputed on every access - a pure memory/CPU trade-off:
//
//	0: cache nothing
//	1: cache monochrome grids
//	2: + blurred monochrome grids
//	3: + color channel grids
//	4: + Laplacian grids (everything)
//
// All accessors are safe for concurrent use; the store is read-shared
// by every phase worker.
type FrameStore struct {
	frames      []*Frame
	width       int
	height      int
	color       bool
	bufferLevel int
	blurPasses  int

	excluded map[int]bool

	mu           sync.Mutex
	mono         map[int]*lmath.FloatGrid
	blurred      map[int]*lmath.FloatGrid
	reblurred    map[int]*lmath.FloatGrid
	laplacian    map[int]*lmath.FloatGrid
	lapReblurred map[int]*lmath.FloatGrid
	channels     map[int][]lmath.FloatGrid
}

// NewFrameStore wraps a set of decoded frames. All frames must share
// one geometry. Excluded indices are removed from the working view
// before any ranking happens, but stay addressable for display.
func NewFrameStore(imgs []image.Image, bufferLevel, noiseLevel int, exclude []int) (*FrameStore, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("frame store: no frames")
	}

	b := imgs[0].Bounds()
	color := false
	fs := &FrameStore{
		width:       b.Dx(),
		height:      b.Dy(),
		bufferLevel: bufferLevel,
		blurPasses:  noiseLevel,
		excluded:     map[int]bool{},
		mono:         map[int]*lmath.FloatGrid{},
		blurred:      map[int]*lmath.FloatGrid{},
		reblurred:    map[int]*lmath.FloatGrid{},
		laplacian:    map[int]*lmath.FloatGrid{},
		lapReblurred: map[int]*lmath.FloatGrid{},
		channels:     map[int][]lmath.FloatGrid{},
	}

	for i, img := range imgs {
		ib := img.Bounds()
		if ib.Dx() != fs.width || ib.Dy() != fs.height {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, ib.Dx(), ib.Dy(), fs.width, fs.height)
		}
		switch img.(type) {
		case *image.Gray, *image.Gray16:
		default:
			color = true
		}
		fs.frames = append(fs.frames, &Frame{Index: i, Img: img})
	}
	fs.color = color

	for _, idx := range exclude {
		if idx < 0 || idx >= len(imgs) {
			return nil, fmt.Errorf("excluded frame index %d out of range", idx)
		}
		fs.excluded[idx] = true
	}

	return fs, nil
}

func (fs *FrameStore) Count() int       { return len(fs.frames) }
func (fs *FrameStore) Width() int       { return fs.width }
func (fs *FrameStore) Height() int      { return fs.height }
func (fs *FrameStore) Color() bool      { return fs.color }
func (fs *FrameStore) Frame(i int) *Frame { return fs.frames[i] }

func (fs *FrameStore) Excluded(i int) bool { return fs.excluded[i] }

// ValidIndices is the working view: every frame index not excluded by
// the job configuration, in capture order.
func (fs *FrameStore) ValidIndices() []int {
	out := make([]int, 0, len(fs.frames))
	for i := range fs.frames {
		if !fs.excluded[i] {
			out = append(out, i)
		}
	}
	return out
}

// Mono returns the grayscale grid for frame i.
func (fs *FrameStore) Mono(i int) *lmath.FloatGrid {
	fs.mu.Lock()
	if g, exists := fs.mono[i]; exists {
		fs.mu.Unlock()
		return g
	}
	fs.mu.Unlock()

	g := lmath.MonoFromImage(fs.frames[i].Img)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if cached, exists := fs.mono[i]; exists {
		return cached
	}
	if fs.bufferLevel >= 1 {
		fs.mono[i] = &g
	}
	return &g
}

// MonoBlurred returns the grayscale grid after the noise-level blur.
// All structure metrics and matchers run on this, so high-frequency
// noise does not masquerade as sharpness.
func (fs *FrameStore) MonoBlurred(i int) *lmath.FloatGrid {
	fs.mu.Lock()
	if g, exists := fs.blurred[i]; exists {
		fs.mu.Unlock()
		return g
	}
	fs.mu.Unlock()

	g := fs.Mono(i).GaussianBlur(fs.blurPasses)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if cached, exists := fs.blurred[i]; exists {
		return cached
	}
	if fs.bufferLevel >= 2 {
		fs.blurred[i] = &g
	}
	return &g
}

// MonoReblurred is MonoBlurred with one extra blur pass. The delta
// between a structure metric on the two grids isolates the highest
// band that survived the noise-level blur, where residual noise
// concentrates; the rank methods subtract it.
func (fs *FrameStore) MonoReblurred(i int) *lmath.FloatGrid {
	fs.mu.Lock()
	if g, exists := fs.reblurred[i]; exists {
		fs.mu.Unlock()
		return g
	}
	fs.mu.Unlock()

	g := fs.MonoBlurred(i).GaussianBlur(1)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if cached, exists := fs.reblurred[i]; exists {
		return cached
	}
	if fs.bufferLevel >= 2 {
		fs.reblurred[i] = &g
	}
	return &g
}

// MonoLaplacian returns the Laplacian of the blurred grid, used by
// the "laplace" rank method.
func (fs *FrameStore) MonoLaplacian(i int) *lmath.FloatGrid {
	fs.mu.Lock()
	if g, exists := fs.laplacian[i]; exists {
		fs.mu.Unlock()
		return g
	}
	fs.mu.Unlock()

	g := fs.MonoBlurred(i).Laplacian()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if cached, exists := fs.laplacian[i]; exists {
		return cached
	}
	if fs.bufferLevel >= 4 {
		fs.laplacian[i] = &g
	}
	return &g
}

// MonoLaplacianReblurred is the Laplacian of MonoReblurred; the
// "laplace" rank method pairs it with MonoLaplacian the way the
// gradient methods pair MonoReblurred with MonoBlurred.
func (fs *FrameStore) MonoLaplacianReblurred(i int) *lmath.FloatGrid {
	fs.mu.Lock()
	if g, exists := fs.lapReblurred[i]; exists {
		fs.mu.Unlock()
		return g
	}
	fs.mu.Unlock()

	g := fs.MonoReblurred(i).Laplacian()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if cached, exists := fs.lapReblurred[i]; exists {
		return cached
	}
	if fs.bufferLevel >= 4 {
		fs.lapReblurred[i] = &g
	}
	return &g
}

// Channels returns one grid per color channel (a single grid for
// grayscale input). The patch stacker samples these.
func (fs *FrameStore) Channels(i int) []lmath.FloatGrid {
	fs.mu.Lock()
	if ch, exists := fs.channels[i]; exists {
		fs.mu.Unlock()
		return ch
	}
	fs.mu.Unlock()

	ch := lmath.GridFromImage(fs.frames[i].Img)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if cached, exists := fs.channels[i]; exists {
		return cached
	}
	if fs.bufferLevel >= 3 {
		fs.channels[i] = ch
	}
	return ch
}
