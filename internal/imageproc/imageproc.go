// Package imageproc turns uploaded image bytes into the fixed-size RGB tensors
// consumed by the classifier. Decoding supports JPEG, PNG and GIF; every image is
// converted to RGB, resized with bicubic interpolation and scaled to [0,1].
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync/atomic"

	"gender-classifier/internal/common"

	"github.com/nfnt/resize"
)

const Channels = 3

var maxPixels atomic.Int64

func init() {
	maxPixels.Store(common.DefaultMaxImagePixels)
}

// SetMaxPixels sets the largest width*height Decode accepts. Values below one
// restore the default.
func SetMaxPixels(n int) {
	if n < 1 {
		n = common.DefaultMaxImagePixels
	}
	maxPixels.Store(int64(n))
}

// MaxPixels returns the current decode limit.
func MaxPixels() int {
	return int(maxPixels.Load())
}

var (
	ErrEmptyImage = errors.New("image is empty")
	ErrDecode     = errors.New("image could not be decoded")
)

// Tensor is an RGB image in height-width-channel order with values in [0,1].
type Tensor struct {
	Width  int
	Height int
	Data   []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(width, height int) Tensor {
	return Tensor{Width: width, Height: height, Data: make([]float32, width*height*Channels)}
}

// Len returns the number of values the tensor should hold.
func (t Tensor) Len() int {
	return t.Width * t.Height * Channels
}

// At returns the value for pixel (x, y) and channel c.
func (t Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Width+x)*Channels+c]
}

// Validate checks the tensor shape against its data.
func (t Tensor) Validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("invalid tensor size %dx%d", t.Width, t.Height)
	}
	if len(t.Data) != t.Len() {
		return fmt.Errorf("tensor holds %d values, expected %d", len(t.Data), t.Len())
	}
	return nil
}

// CHW returns a copy of the data in channel-height-width order.
func (t Tensor) CHW() []float32 {
	plane := t.Width * t.Height
	out := make([]float32, len(t.Data))
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			for c := 0; c < Channels; c++ {
				out[c*plane+y*t.Width+x] = t.At(x, y, c)
			}
		}
	}
	return out
}

// Decode decodes image bytes and reports the detected format. The header is
// checked against MaxPixels before any pixel data is allocated.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", ErrEmptyImage
	}
	if limit := maxPixels.Load(); int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, limit)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, "", ErrEmptyImage
	}
	return img, format, nil
}

// Preprocess resizes img to width x height and scales RGB values to [0,1].
// Alpha is dropped without premultiplication.
func Preprocess(img image.Image, width, height int) Tensor {
	resized := resize.Resize(uint(width), uint(height), img, resize.Bicubic)
	bounds := resized.Bounds()

	t := NewTensor(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			i := (y*width + x) * Channels
			t.Data[i] = float32(px.R) / 255.0
			t.Data[i+1] = float32(px.G) / 255.0
			t.Data[i+2] = float32(px.B) / 255.0
		}
	}
	return t
}

// FromBytes decodes and preprocesses an image in one step.
func FromBytes(data []byte, width, height int) (Tensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return Tensor{}, err
	}
	return Preprocess(img, width, height), nil
}

// FlipHorizontal returns a mirrored copy of t.
func FlipHorizontal(t Tensor) Tensor {
	out := NewTensor(t.Width, t.Height)
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			src := (y*t.Width + x) * Channels
			dst := (y*t.Width + (t.Width - 1 - x)) * Channels
			copy(out.Data[dst:dst+Channels], t.Data[src:src+Channels])
		}
	}
	return out
}
