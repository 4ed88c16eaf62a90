package image

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Preprocessor transforms an image before OCR or storage.
type Preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// Chain runs preprocessors in order.
type Chain []Preprocessor

func (c Chain) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	var err error
	for _, p := range c {
		if img, err = p.Process(img); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// 灰度处理器
type GrayscaleProcessor struct{}

func (GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

type ContrastProcessor struct {
	Percentage float64
}

func (p ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.Percentage), nil
}

type SharpenProcessor struct {
	Sigma float64
}

func (p SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.Sigma), nil
}

// FitProcessor shrinks images whose longest side exceeds MaxSide. Smaller
// images are returned untouched.
type FitProcessor struct {
	MaxSide int
}

func (p FitProcessor) Process(img image.Image) (image.Image, error) {
	if p.MaxSide <= 0 {
		return img, nil
	}
	b := img.Bounds()
	if b.Dx() <= p.MaxSide && b.Dy() <= p.MaxSide {
		return img, nil
	}
	return imaging.Fit(img, p.MaxSide, p.MaxSide, imaging.Lanczos), nil
}

// OCRChain prepares a photo of a thermal receipt for tesseract.
func OCRChain() Chain {
	return Chain{
		GrayscaleProcessor{},
		ContrastProcessor{Percentage: 20},
		SharpenProcessor{Sigma: 1},
	}
}

type NormalizeOptions struct {
	MaxSide int
	Quality int
}

// Normalize decodes an upload honouring its EXIF orientation, caps the
// longest side and re-encodes it as JPEG.
func Normalize(r io.Reader, opts NormalizeOptions) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img, err = FitProcessor{MaxSide: opts.MaxSide}.Process(img)
	if err != nil {
		return nil, err
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
