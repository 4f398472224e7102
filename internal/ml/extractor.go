package ml

import (
	"fmt"

	"gender-classifier/internal/imageproc"
)

// Extractor kinds recorded in model files.
const (
	ExtractorPool = "pool"
	ExtractorONNX = "onnx"
)

// FeatureExtractor turns a preprocessed tensor into the feature vector the head scores.
// Implementations must be safe for concurrent use.
type FeatureExtractor interface {
	Extract(t imageproc.Tensor) ([]float64, error)
	Dim() int
	Spec() ExtractorSpec
}

// ExtractorSpec identifies the extractor a head was trained against.
type ExtractorSpec struct {
	Kind string `json:"kind"`
	Grid int    `json:"grid,omitempty"`
	Dim  int    `json:"dim"`
}

// PoolExtractor averages each channel over a Grid x Grid layout of cells.
type PoolExtractor struct {
	Grid int
}

func NewPoolExtractor(grid int) *PoolExtractor {
	return &PoolExtractor{Grid: grid}
}

func (p *PoolExtractor) Dim() int {
	return p.Grid * p.Grid * imageproc.Channels
}

func (p *PoolExtractor) Spec() ExtractorSpec {
	return ExtractorSpec{Kind: ExtractorPool, Grid: p.Grid, Dim: p.Dim()}
}

func (p *PoolExtractor) Extract(t imageproc.Tensor) ([]float64, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Width < p.Grid || t.Height < p.Grid {
		return nil, fmt.Errorf("tensor %dx%d is smaller than pooling grid %d", t.Width, t.Height, p.Grid)
	}

	out := make([]float64, p.Dim())
	for cy := 0; cy < p.Grid; cy++ {
		y0, y1 := cy*t.Height/p.Grid, (cy+1)*t.Height/p.Grid
		for cx := 0; cx < p.Grid; cx++ {
			x0, x1 := cx*t.Width/p.Grid, (cx+1)*t.Width/p.Grid

			var sum [imageproc.Channels]float64
			for y := y0; y < y1; y++ {
				row := y * t.Width
				for x := x0; x < x1; x++ {
					i := (row + x) * imageproc.Channels
					for c := 0; c < imageproc.Channels; c++ {
						sum[c] += float64(t.Data[i+c])
					}
				}
			}

			n := float64((y1 - y0) * (x1 - x0))
			base := (cy*p.Grid + cx) * imageproc.Channels
			for c := 0; c < imageproc.Channels; c++ {
				out[base+c] = sum[c] / n
			}
		}
	}
	return out, nil
}
