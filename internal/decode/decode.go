package decode

import (
	"bytes"
	"change-detector/internal/failure"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const (
	MinDimension = 50
	MaxDimension = 10000

	// MaxBytes is the per-image upload limit enforced by callers before Decode.
	MaxBytes = 10 << 20
)

type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	TIFF Format = "tiff"
	BMP  Format = "bmp"
	WebP Format = "webp"
)

func (f Format) MIMEType() string {
	return "image/" + string(f)
}

type codec struct {
	decode       func(io.Reader) (image.Image, error)
	decodeConfig func(io.Reader) (image.Config, error)
}

var codecs = map[Format]codec{
	JPEG: {jpeg.Decode, jpeg.DecodeConfig},
	PNG:  {png.Decode, png.DecodeConfig},
	TIFF: {tiff.Decode, tiff.DecodeConfig},
	BMP:  {bmp.Decode, bmp.DecodeConfig},
	WebP: {webp.Decode, webp.DecodeConfig},
}

var mimeTypes = map[string]Format{
	"image/jpeg":     JPEG,
	"image/jpg":      JPEG,
	"image/pjpeg":    JPEG,
	"image/png":      PNG,
	"image/tiff":     TIFF,
	"image/tif":      TIFF,
	"image/bmp":      BMP,
	"image/x-bmp":    BMP,
	"image/x-ms-bmp": BMP,
	"image/webp":     WebP,
}

// RawImage is a decoded input. It must not be mutated after Decode returns.
type RawImage struct {
	Width  int
	Height int
	Format Format
	Image  image.Image
}

// Sniff identifies the container format from the leading magic bytes.
func Sniff(data []byte) (Format, bool) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return JPEG, true
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return PNG, true
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return TIFF, true
	case bytes.HasPrefix(data, []byte("BM")):
		return BMP, true
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return WebP, true
	}
	return "", false
}

// FormatFromMIMEType maps a declared MIME type to a Format. Parameters such as
// "; charset=" are ignored.
func FormatFromMIMEType(mimeType string) (Format, bool) {
	mediaType, _, _ := strings.Cut(mimeType, ";")
	f, ok := mimeTypes[strings.ToLower(strings.TrimSpace(mediaType))]
	return f, ok
}

// CheckSize enforces the per-image byte limit.
func CheckSize(n int64) error {
	if n > MaxBytes {
		return failure.New(failure.InvalidArgument, "image is %d bytes, limit is %d bytes", n, MaxBytes)
	}
	return nil
}

// Decode turns an uploaded byte buffer into a RawImage. The byte signature
// decides the codec; declaredMIMEType only rejects inputs that announce a
// format outside the accepted set.
func Decode(data []byte, declaredMIMEType string) (*RawImage, error) {
	if declared := strings.TrimSpace(declaredMIMEType); declared != "" && !isUnknownMIMEType(declared) {
		if _, ok := FormatFromMIMEType(declared); !ok {
			return nil, failure.New(failure.UnsupportedFormat, "declared type %q is not one of JPEG, PNG, TIFF, BMP, WebP", declared)
		}
	}

	format, ok := Sniff(data)
	if !ok {
		return nil, failure.New(failure.UnsupportedFormat, "byte signature is not JPEG, PNG, TIFF, BMP or WebP")
	}
	c := codecs[format]

	config, err := c.decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, failure.Wrap(failure.CorruptedImage, err, "failed to read %s header", format)
	}
	if err := checkDimensions(config.Width, config.Height); err != nil {
		return nil, err
	}

	img, err := c.decode(bytes.NewReader(data))
	if err != nil {
		return nil, failure.Wrap(failure.CorruptedImage, err, "failed to decode %s pixel data", format)
	}

	bounds := img.Bounds()
	if bounds.Dx() != config.Width || bounds.Dy() != config.Height {
		return nil, failure.New(failure.CorruptedImage, "%s header declares %dx%d but pixel data is %dx%d",
			format, config.Width, config.Height, bounds.Dx(), bounds.Dy())
	}

	return &RawImage{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
		Image:  img,
	}, nil
}

// DecodeConfig reads only the header and validates format and dimensions.
func DecodeConfig(data []byte) (Format, image.Config, error) {
	format, ok := Sniff(data)
	if !ok {
		return "", image.Config{}, failure.New(failure.UnsupportedFormat, "byte signature is not JPEG, PNG, TIFF, BMP or WebP")
	}

	config, err := codecs[format].decodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", image.Config{}, failure.Wrap(failure.CorruptedImage, err, "failed to read %s header", format)
	}
	if err := checkDimensions(config.Width, config.Height); err != nil {
		return "", image.Config{}, err
	}

	return format, config, nil
}

func checkDimensions(width int, height int) error {
	if width < MinDimension || height < MinDimension || width > MaxDimension || height > MaxDimension {
		return failure.New(failure.DimensionOutOfRange, "image is %dx%d, each side must be between %d and %d pixels",
			width, height, MinDimension, MaxDimension)
	}
	return nil
}

func isUnknownMIMEType(mimeType string) bool {
	mediaType, _, _ := strings.Cut(mimeType, ";")
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/octet-stream", "binary/octet-stream":
		return true
	}
	return false
}
