package image

import (
	"change-detector/internal/failure"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/disintegration/imaging"
)

// MaxAspectRatioSkew is the largest ratio between the two inputs' aspect
// ratios that is accepted without an AspectRatioMismatch warning.
const MaxAspectRatioSkew = 1.5

// Normalize resizes both images to the smaller width and the smaller height
// of the pair with the same bilinear filter and reduces them to 8-bit luma.
func Normalize(before image.Image, after image.Image) (*NormalizedPair, error) {
	beforeBounds := before.Bounds()
	afterBounds := after.Bounds()
	if beforeBounds.Empty() || afterBounds.Empty() {
		return nil, failure.New(failure.InvalidArgument, "cannot normalize an empty image (%v, %v)", beforeBounds, afterBounds)
	}

	width := min(beforeBounds.Dx(), afterBounds.Dx())
	height := min(beforeBounds.Dy(), afterBounds.Dy())

	pair := &NormalizedPair{
		Width:  width,
		Height: height,
		Before: Grayscale(imaging.Resize(before, width, height, imaging.Linear)),
		After:  Grayscale(imaging.Resize(after, width, height, imaging.Linear)),
	}

	if w, ok := checkAspectRatio(beforeBounds, afterBounds); ok {
		pair.Warnings = append(pair.Warnings, w)
	}

	return pair, nil
}

// Grayscale converts an NRGBA image to luma using BT.601 weights in integer
// arithmetic, rounded to nearest. Alpha is ignored.
func Grayscale(img *image.NRGBA) []uint8 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	gray := make([]uint8, width*height)

	parallel.Line(height, func(start int, end int) {
		for y := start; y < end; y++ {
			rowStart := img.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			out := gray[y*width : (y+1)*width]
			for x := 0; x < width; x++ {
				offset := rowStart + x*4
				out[x] = luma(img.Pix[offset], img.Pix[offset+1], img.Pix[offset+2])
			}
		}
	})

	return gray
}

func luma(r uint8, g uint8, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

func checkAspectRatio(before image.Rectangle, after image.Rectangle) (Warning, bool) {
	beforeRatio := float64(before.Dx()) / float64(before.Dy())
	afterRatio := float64(after.Dx()) / float64(after.Dy())

	skew := max(beforeRatio, afterRatio) / min(beforeRatio, afterRatio)
	if skew <= MaxAspectRatioSkew {
		return Warning{}, false
	}

	return Warning{
		Code: AspectRatioMismatch,
		Message: fmt.Sprintf("aspect ratios differ by %.0f%% (%dx%d vs %dx%d); comparison accuracy is reduced",
			(skew-1)*100, before.Dx(), before.Dy(), after.Dx(), after.Dy()),
	}, true
}
