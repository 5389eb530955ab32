// Package preprocess turns decoded frames into normalized network input
package preprocess

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/bdougie/vidfeatures/internal/models"
)

const (
	ResizeSize = 256
	CropSize   = 224
	Channels   = 3

	// TensorLen is the number of floats in one preprocessed frame
	TensorLen = Channels * CropSize * CropSize
)

// ImageNet training statistics
var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

// ToRGB converts a frame from its decoder-native channel order to packed RGB
func ToRGB(f models.Frame) (models.Frame, error) {
	want := f.Width * f.Height * f.Order.Channels()
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != want {
		return models.Frame{}, fmt.Errorf("malformed frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}

	switch f.Order {
	case models.RGB:
		return f, nil
	case models.BGR:
		pix := make([]byte, len(f.Pix))
		for i := 0; i < len(pix); i += 3 {
			pix[i], pix[i+1], pix[i+2] = f.Pix[i+2], f.Pix[i+1], f.Pix[i]
		}
		f.Pix, f.Order = pix, models.RGB
		return f, nil
	case models.RGBA:
		pix := make([]byte, f.Width*f.Height*3)
		for i, j := 0, 0; i < len(f.Pix); i, j = i+4, j+3 {
			pix[j], pix[j+1], pix[j+2] = f.Pix[i], f.Pix[i+1], f.Pix[i+2]
		}
		f.Pix, f.Order = pix, models.RGB
		return f, nil
	default:
		return models.Frame{}, fmt.Errorf("unknown color order %d", f.Order)
	}
}

// Transform resizes the shorter side to ResizeSize, center-crops CropSize x CropSize
// and returns the normalized channel-first tensor
func Transform(f models.Frame) ([]float32, error) {
	if f.Order != models.RGB {
		return nil, fmt.Errorf("transform expects RGB frames, got order %d", f.Order)
	}
	if len(f.Pix) != f.Width*f.Height*3 {
		return nil, fmt.Errorf("malformed frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}

	src := toRGBA(f)
	resized := resize(src, ResizeSize)

	b := resized.Bounds()
	top := int(math.RoundToEven(float64(b.Dy()-CropSize) / 2))
	left := int(math.RoundToEven(float64(b.Dx()-CropSize) / 2))
	if top < 0 || left < 0 {
		return nil, fmt.Errorf("resized frame %dx%d is smaller than the crop", b.Dx(), b.Dy())
	}

	out := make([]float32, TensorLen)
	plane := CropSize * CropSize
	for y := 0; y < CropSize; y++ {
		row := resized.Pix[(top+y)*resized.Stride:]
		for x := 0; x < CropSize; x++ {
			px := row[(left+x)*4:]
			for c := 0; c < Channels; c++ {
				v := float32(px[c]) / 255
				out[c*plane+y*CropSize+x] = (v - Mean[c]) / Std[c]
			}
		}
	}
	return out, nil
}

// ResizedSize returns the dimensions after scaling the shorter side to size
func ResizedSize(w, h, size int) (int, int) {
	if w <= h {
		return size, int(float64(size) * float64(h) / float64(w))
	}
	return int(float64(size) * float64(w) / float64(h)), size
}

func toRGBA(f models.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

func resize(src *image.RGBA, size int) *image.RGBA {
	b := src.Bounds()
	w, h := ResizedSize(b.Dx(), b.Dy(), size)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
