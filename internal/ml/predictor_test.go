package ml

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"time"

	"gender-classifier/internal/imageproc"
)

type fixedScorer struct {
	score float64
	err   error
	size  int
}

func (f *fixedScorer) Infer(imageproc.Tensor) (float64, error) {
	return f.score, f.err
}

func (f *fixedScorer) InputSize() (int, int) {
	return f.size, f.size
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPredictor_Predict(t *testing.T) {
	metrics := &MockMetrics{}
	p := NewPredictor(&fixedScorer{score: 0.8, size: 8}, metrics)

	res, err := p.Predict(pngBytes(t, 20, 12, color.White))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Label != Male {
		t.Errorf("expected Male, got %s", res.Label)
	}
	if math.Abs(res.ConfidencePercent-80) > 1e-9 {
		t.Errorf("expected confidence 80, got %v", res.ConfidencePercent)
	}
	if metrics.predictions != 1 {
		t.Errorf("expected 1 prediction recorded, got %d", metrics.predictions)
	}
	if len(metrics.predictionScores) != 1 || metrics.predictionScores[0] != 0.8 {
		t.Errorf("expected score 0.8 recorded, got %v", metrics.predictionScores)
	}
}

func TestPredictor_InvalidInput(t *testing.T) {
	metrics := &MockMetrics{}
	p := NewPredictor(&fixedScorer{score: 0.8, size: 8}, metrics)

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not an image", []byte("definitely not a png")},
		{"truncated png", pngBytes(t, 4, 4, color.Black)[:20]},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Predict(tc.data)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if metrics.predictions != 0 || metrics.failures != 0 {
		t.Errorf("invalid input must not reach the model, got %d predictions %d failures", metrics.predictions, metrics.failures)
	}
}

func TestPredictor_InferenceFailure(t *testing.T) {
	tensor := imageproc.NewTensor(8, 8)

	testCases := []struct {
		name   string
		scorer *fixedScorer
	}{
		{"model error", &fixedScorer{err: errors.New("boom"), size: 8}},
		{"nan score", &fixedScorer{score: math.NaN(), size: 8}},
		{"score above one", &fixedScorer{score: 1.5, size: 8}},
		{"negative score", &fixedScorer{score: -0.1, size: 8}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &MockMetrics{}
			p := NewPredictor(tc.scorer, metrics)

			_, err := p.PredictTensor(tensor)
			if !errors.Is(err, ErrInference) {
				t.Errorf("expected ErrInference, got %v", err)
			}
			if metrics.failures != 1 {
				t.Errorf("expected 1 failure recorded, got %d", metrics.failures)
			}
		})
	}
}

func TestPredictor_NilSafety(t *testing.T) {
	var p *Predictor

	if _, err := p.Predict([]byte{1, 2, 3}); !errors.Is(err, ErrInference) {
		t.Errorf("expected ErrInference from nil predictor, got %v", err)
	}
	if _, err := p.PredictTensor(imageproc.NewTensor(1, 1)); err == nil {
		t.Error("expected error from nil predictor")
	}
	p.ObserveModelAge(time.Now())

	// nil metrics are allowed
	p = NewPredictor(&fixedScorer{score: 0.1, size: 4}, nil)
	res, err := p.PredictTensor(imageproc.NewTensor(4, 4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Label != Female {
		t.Errorf("expected Female, got %s", res.Label)
	}
}

func TestPredictor_ObserveModelAge(t *testing.T) {
	metrics := &MockMetrics{}
	p := NewPredictor(&fixedScorer{size: 4}, metrics)

	p.ObserveModelAge(time.Time{})
	if metrics.modelAge != 0 {
		t.Errorf("zero time must not be reported, got %v", metrics.modelAge)
	}

	p.ObserveModelAge(time.Now().Add(-time.Minute))
	if metrics.modelAge < 59 {
		t.Errorf("expected model age around 60s, got %v", metrics.modelAge)
	}
}

func TestPredictor_WithClassifier(t *testing.T) {
	c := NewClassifier(NewPoolExtractor(4), 16, 16, DefaultAdam(0.01))
	p := NewPredictor(c, nil)

	res, err := p.Predict(pngBytes(t, 32, 32, color.RGBA{R: 200, G: 100, B: 50, A: 255}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// untrained head scores exactly 0.5, which is not strictly above the threshold
	if res.Label != Female || res.ConfidencePercent != 50 {
		t.Errorf("expected Female at 50%%, got %s at %v", res.Label, res.ConfidencePercent)
	}
}
