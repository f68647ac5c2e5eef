package image

import (
	"bytes"
	"image"
	"image/png"
	"math"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/xerrors"
)

type HeatmapOptions struct {
	LowColor  colorful.Color
	HighColor colorful.Color
	MinAlpha  uint8
	MaxAlpha  uint8
}

// DefaultHeatmapOptions ramps from amber (#FFD200) at the threshold to red
// (#FF0000) at full intensity.
func DefaultHeatmapOptions() HeatmapOptions {
	return HeatmapOptions{
		LowColor:  colorful.Color{R: 1, G: 210.0 / 255.0, B: 0},
		HighColor: colorful.Color{R: 1, G: 0, B: 0},
		MinAlpha:  64,
		MaxAlpha:  180,
	}
}

type Heatmap struct {
	options HeatmapOptions
}

func NewHeatmap(options HeatmapOptions) *Heatmap {
	if options.MaxAlpha < options.MinAlpha {
		options.MinAlpha, options.MaxAlpha = options.MaxAlpha, options.MinAlpha
	}
	return &Heatmap{
		options,
	}
}

type HeatmapImage struct {
	Width  int
	Height int
	RGBA   *image.NRGBA
}

// Synthesize renders the mask as a translucent overlay. Unchanged pixels are
// fully transparent.
func (h *Heatmap) Synthesize(mask *DiffMask) *HeatmapImage {
	lut := h.lookupTable(mask.Threshold)
	img := image.NewNRGBA(image.Rect(0, 0, mask.Width, mask.Height))

	parallel.Line(mask.Height, func(start int, end int) {
		for y := start; y < end; y++ {
			row := mask.Intensity[y*mask.Width : (y+1)*mask.Width]
			offset := img.PixOffset(0, y)
			for _, v := range row {
				c := lut[v]
				img.Pix[offset] = c[0]
				img.Pix[offset+1] = c[1]
				img.Pix[offset+2] = c[2]
				img.Pix[offset+3] = c[3]
				offset += 4
			}
		}
	})

	return &HeatmapImage{
		Width:  mask.Width,
		Height: mask.Height,
		RGBA:   img,
	}
}

func (h *Heatmap) lookupTable(threshold uint8) [256][4]uint8 {
	var lut [256][4]uint8
	span := float64(255 - int(threshold))
	alphaSpan := float64(h.options.MaxAlpha - h.options.MinAlpha)

	for i := int(threshold) + 1; i < 256; i++ {
		t := float64(i-int(threshold)) / span
		r, g, b := h.options.LowColor.BlendHcl(h.options.HighColor, t).Clamped().RGB255()
		alpha := h.options.MinAlpha + uint8(math.Round(t*alphaSpan))
		lut[i] = [4]uint8{r, g, b, alpha}
	}

	return lut
}

func (h *HeatmapImage) EncodePNG() ([]byte, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, h.RGBA); err != nil {
		return nil, xerrors.Errorf("failed to encode heatmap: %w", err)
	}
	return buffer.Bytes(), nil
}
