// Package derivative renders thumbnail and cache image derivatives from
// raw source bytes. Render is a pure function: same input bytes and spec
// always produce the same output dimensions (encoder noise aside).
package derivative

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	_ "golang.org/x/image/webp" // register WebP decoding

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// Format is the output encoding for a rendered derivative.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// FitMode controls how the source image is mapped onto the target box.
type FitMode string

const (
	// FitContain letterboxes the source within the box, preserving aspect ratio.
	FitContain FitMode = "contain"
	// FitCover crops the source to fill the box entirely, preserving aspect ratio.
	FitCover FitMode = "cover"
	// FitFill stretches the source to the exact box dimensions, ignoring aspect ratio.
	FitFill FitMode = "fill"
	// FitInside only shrinks a source larger than the box; smaller sources pass through.
	FitInside FitMode = "inside"
	// FitOutside only enlarges a source smaller than the box; larger sources pass through.
	FitOutside FitMode = "outside"
)

// Spec describes a single derivative to render.
type Spec struct {
	TargetWidth  int
	TargetHeight int
	Format       Format
	Quality      int
	FitMode      FitMode
}

// Result is the rendered derivative: its encoded bytes and final dimensions.
type Result struct {
	Bytes  []byte
	Width  int
	Height int
}

// Renderer renders a derivative from raw source bytes per spec.
type Renderer interface {
	Render(sourceBytes []byte, spec Spec) (Result, error)
}

// ImagingRenderer implements Renderer using disintegration/imaging for
// decode/resize and go-webp for WebP encoding, the same stack the pipeline
// already used for fixed thumbnail presets, generalized to an arbitrary
// target box and fit mode.
type ImagingRenderer struct{}

// NewImagingRenderer constructs a stateless ImagingRenderer.
func NewImagingRenderer() *ImagingRenderer {
	return &ImagingRenderer{}
}

// Render decodes sourceBytes (honoring embedded EXIF orientation so the
// output is always upright), resizes per spec.FitMode, and encodes to
// spec.Format at spec.Quality.
func (r *ImagingRenderer) Render(sourceBytes []byte, spec Spec) (Result, error) {
	if spec.TargetWidth <= 0 || spec.TargetHeight <= 0 {
		return Result{}, shared.NewDomainError(shared.ErrInvalidInput, "target dimensions must be positive")
	}

	src, err := imaging.Decode(bytes.NewReader(sourceBytes), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, shared.NewDomainError(shared.ErrDecodeFailed, err.Error())
	}

	resized := applyFitMode(src, spec.TargetWidth, spec.TargetHeight, spec.FitMode)

	encoded, err := encode(resized, spec.Format, spec.Quality)
	if err != nil {
		return Result{}, err
	}

	bounds := resized.Bounds()
	return Result{
		Bytes:  encoded,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

func applyFitMode(src image.Image, w, h int, mode FitMode) image.Image {
	srcBounds := src.Bounds()
	fits := srcBounds.Dx() <= w && srcBounds.Dy() <= h

	switch mode {
	case FitCover:
		return imaging.Fill(src, w, h, imaging.Center, imaging.Lanczos)
	case FitFill:
		return imaging.Resize(src, w, h, imaging.Lanczos)
	case FitInside:
		if fits {
			return src
		}
		return imaging.Fit(src, w, h, imaging.Lanczos)
	case FitOutside:
		if !fits {
			return src
		}
		return imaging.Fill(src, w, h, imaging.Center, imaging.Lanczos)
	case FitContain:
		fallthrough
	default:
		return imaging.PasteCenter(imaging.New(w, h, color.NRGBA{}), imaging.Fit(src, w, h, imaging.Lanczos))
	}
}

func encode(img image.Image, format Format, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, shared.NewDomainError(shared.ErrEncodeFailed, err.Error())
		}
	case FormatPNG:
		level := png.CompressionLevel((100 - quality) * 9 / 100)
		if level > 9 {
			level = 9
		}
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(level)); err != nil {
			return nil, shared.NewDomainError(shared.ErrEncodeFailed, err.Error())
		}
	case FormatWebP:
		if err := encodeWebP(&buf, img, quality); err != nil {
			return nil, err
		}
	default:
		return nil, shared.NewDomainError(shared.ErrUnsupportedFormat, fmt.Sprintf("unsupported derivative format: %s", format))
	}

	return buf.Bytes(), nil
}

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return shared.NewDomainError(shared.ErrEncodeFailed, err.Error())
	}
	if err := webp.Encode(w, img, options); err != nil {
		return shared.NewDomainError(shared.ErrEncodeFailed, err.Error())
	}
	return nil
}

// ParseFormat maps a lowercase format string (as stored on CollectionSettings)
// to a Format, defaulting to an error for anything else.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJPEG, FormatPNG, FormatWebP:
		return Format(strings.ToLower(s)), nil
	default:
		return "", shared.NewDomainError(shared.ErrUnsupportedFormat, "unsupported format: "+s)
	}
}
