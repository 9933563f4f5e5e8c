package lload

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/luckystack/luckystack/pkg/lmath"
)

func writeTestPNG(t *testing.T, dir, name string, shade uint8) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDirectoryOrdersByFilename(t *testing.T) {
	dir := t.TempDir()
	// Written out of order; PNGs carry no EXIF, so ordering falls back
	// to filenames.
	writeTestPNG(t, dir, "frame_0002.png", 20)
	writeTestPNG(t, dir, "frame_0001.png", 10)
	writeTestPNG(t, dir, "frame_0003.png", 30)
	// Non-image files are skipped, not errors.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	sources, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("got %d sources, want 3", len(sources))
	}
	for i, wantShade := range []float64{10, 20, 30} {
		r, _, _, _ := sources[i].Img.At(0, 0).RGBA()
		got := float64(r) / 257.0
		if got < wantShade-1 || got > wantShade+1 {
			t.Fatalf("source %d shade %f, want ~%f (ordering wrong?)", i, got, wantShade)
		}
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestImages(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, dir, "a.png", 10)
	writeTestPNG(t, dir, "b.png", 20)

	sources, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	imgs := Images(sources)
	if len(imgs) != 2 {
		t.Fatalf("got %d images", len(imgs))
	}
}

func TestWritePNGRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	img := image.NewRGBA64(image.Rect(0, 0, 4, 4))
	if err := WritePNG(img, path); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Bounds().Dx() != 4 {
		t.Fatalf("bad round trip bounds: %v", decoded.Bounds())
	}
}

func TestWriteHDR(t *testing.T) {
	g := lmath.NewFloatGrid(4, 4)
	g.Fill(0.5)
	path := filepath.Join(t.TempDir(), "out.hdr")
	if err := WriteHDR([]lmath.FloatGrid{g}, path); err != nil {
		t.Fatalf("hdr write failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatalf("empty hdr file")
	}
}
