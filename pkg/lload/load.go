package lload

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"
)

// A Source is one decoded input frame plus the metadata used to put
// the burst back into capture order.
type Source struct {
	Filename    string
	Img         image.Image
	CaptureTime time.Time
}

// Load decodes every recognized image under the given paths (files or
// directories, directories recursed). Unrecognized extensions are
// skipped silently so a capture directory can hold logs and configs
// alongside the frames.
//
// The result is in capture order: EXIF capture time when every frame
// carries one, filename order otherwise.
func Load(args ...string) ([]Source, error) {
	var sources []Source

	for _, arg := range args {
		item, err := os.Stat(arg)

		switch {

		case err != nil:
			return nil, fmt.Errorf("load %s: %v", arg, err)

		case item.IsDir():
			contents, err := os.ReadDir(arg)
			if err != nil {
				return nil, fmt.Errorf("readdir %s: %v", arg, err)
			}
			for _, content := range contents {
				sub, err := Load(filepath.Join(arg, content.Name()))
				if err != nil {
					return nil, err
				}
				sources = append(sources, sub...)
			}

		default:
			src, ok, err := loadFile(arg)
			if err != nil {
				return nil, err
			}
			if ok {
				sources = append(sources, src)
			}
		}
	}

	orderSources(sources)
	return sources, nil
}

// Images strips the metadata, for callers that only need pixels.
func Images(sources []Source) []image.Image {
	out := make([]image.Image, len(sources))
	for i, s := range sources {
		out[i] = s.Img
	}
	return out
}

func loadFile(filename string) (Source, bool, error) {
	src := Source{Filename: filename}

	reader, err := os.Open(filename)
	if err != nil {
		return src, false, fmt.Errorf("open+r '%s': %v", filename, err)
	}
	defer reader.Close()

	switch strings.ToLower(filepath.Ext(filename)) {

	case ".tif", ".tiff":
		src.Img, err = tiff.Decode(reader)
		if err != nil {
			return src, false, fmt.Errorf("tiff loading '%s': %v", filename, err)
		}
		src.CaptureTime = captureTime(filename)

	case ".png":
		src.Img, err = png.Decode(reader)
		if err != nil {
			return src, false, fmt.Errorf("png loading '%s': %v", filename, err)
		}

	case ".jpg", ".jpeg":
		src.Img, err = jpeg.Decode(reader)
		if err != nil {
			return src, false, fmt.Errorf("jpeg loading '%s': %v", filename, err)
		}
		src.CaptureTime = captureTime(filename)

	default:
		return src, false, nil
	}

	return src, true, nil
}

// captureTime pulls the EXIF capture timestamp, best effort; frames
// without one fall back to filename ordering.
func captureTime(filename string) time.Time {
	reader, err := os.Open(filename)
	if err != nil {
		return time.Time{}
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		return time.Time{}
	}
	t, err := ex.DateTime()
	if err != nil {
		return time.Time{}
	}
	return t
}

func orderSources(sources []Source) {
	timed := true
	for _, s := range sources {
		if s.CaptureTime.IsZero() {
			timed = false
			break
		}
	}

	if timed && len(sources) > 1 {
		sort.SliceStable(sources, func(i, j int) bool {
			return sources[i].CaptureTime.Before(sources[j].CaptureTime)
		})
		logrus.WithField("frames", len(sources)).Debug("frames ordered by capture time")
		return
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Filename < sources[j].Filename
	})
}
