package lload

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/luckystack/luckystack/pkg/lmath"
)

func WritePNG(img image.Image, filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return png.Encode(writer, img)
	}
}

// A Composite exposes stacked float channels as an hdr.Image, keeping
// the full linear dynamic range that the 16-bit PNG output clips.
type Composite struct {
	Channels []lmath.FloatGrid
}

func (c Composite) ColorModel() color.Model { return hdrcolor.RGBModel }
func (c Composite) Bounds() image.Rectangle { return c.Channels[0].Bounds() }
func (c Composite) At(x, y int) color.Color { return c.HDRAt(x, y) }
func (c Composite) Size() int               { return c.Bounds().Dx() * c.Bounds().Dy() }

func (c Composite) HDRAt(x, y int) hdrcolor.Color {
	if len(c.Channels) == 3 {
		return hdrcolor.RGB{R: c.Channels[0].Get(x, y), G: c.Channels[1].Get(x, y), B: c.Channels[2].Get(x, y)}
	}
	v := c.Channels[0].Get(x, y)
	return hdrcolor.RGB{R: v, G: v, B: v}
}

// WriteHDR encodes the stacked channels as a Radiance RGBE file.
func WriteHDR(channels []lmath.FloatGrid, filename string) error {
	var img hdr.Image = Composite{Channels: channels}
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return rgbe.Encode(writer, img)
	}
}
