package ml

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gender-classifier/internal/imageproc"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLPredictionScoresObserve(float64)
	MLModelAgeSet(float64)
}

// Scorer is the read-only half of Model.
type Scorer interface {
	Infer(t imageproc.Tensor) (float64, error)
	InputSize() (width, height int)
}

// Predictor maps images to labels. It never mutates the model; callers that
// share the model with a trainer must hold a read lock around PredictTensor.
type Predictor struct {
	model   Scorer
	metrics MetricsInterface
}

func NewPredictor(model Scorer, metrics MetricsInterface) *Predictor {
	return &Predictor{model: model, metrics: metrics}
}

// Preprocess decodes image bytes into a tensor of the model's input size.
// It does not touch model weights and needs no lock.
func (p *Predictor) Preprocess(data []byte) (imageproc.Tensor, error) {
	if p == nil || p.model == nil {
		return imageproc.Tensor{}, fmt.Errorf("%w: predictor not initialized", ErrInference)
	}
	if len(data) == 0 {
		return imageproc.Tensor{}, fmt.Errorf("%w: no image provided", ErrInvalidInput)
	}

	w, h := p.model.InputSize()
	t, err := imageproc.FromBytes(data, w, h)
	if err != nil {
		return imageproc.Tensor{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return t, nil
}

// PredictTensor runs inference and applies the decision threshold.
func (p *Predictor) PredictTensor(t imageproc.Tensor) (PredictionResult, error) {
	if p == nil || p.model == nil {
		return PredictionResult{}, fmt.Errorf("%w: predictor not initialized", ErrInference)
	}

	start := time.Now()
	score, err := p.model.Infer(t)
	if p.metrics != nil {
		p.metrics.MLLatencyObserve(time.Since(start).Seconds())
	}
	if err == nil && (math.IsNaN(score) || score < 0 || score > 1) {
		err = fmt.Errorf("%w: score %v outside [0,1]", ErrInference, score)
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.MLFailuresInc()
		}
		if !errors.Is(err, ErrInference) {
			err = fmt.Errorf("%w: %v", ErrInference, err)
		}
		log.Error().Err(err).Msg("prediction failed")
		return PredictionResult{}, err
	}

	if p.metrics != nil {
		p.metrics.MLPredictionsInc()
		p.metrics.MLPredictionScoresObserve(score)
	}
	return Classify(score), nil
}

// Predict preprocesses and classifies an image.
func (p *Predictor) Predict(data []byte) (PredictionResult, error) {
	t, err := p.Preprocess(data)
	if err != nil {
		return PredictionResult{}, err
	}
	return p.PredictTensor(t)
}

// ObserveModelAge reports the time since the model was last updated.
func (p *Predictor) ObserveModelAge(updatedAt time.Time) {
	if p == nil || p.metrics == nil || updatedAt.IsZero() {
		return
	}
	p.metrics.MLModelAgeSet(time.Since(updatedAt).Seconds())
}
