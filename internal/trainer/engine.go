package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"gender-classifier/internal/imageproc"
	"gender-classifier/internal/ml"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// Model is what the trainer needs from a classifier.
type Model interface {
	InputSize() (int, int)
	Infer(t imageproc.Tensor) (float64, error)
	TrainBatch(batch []imageproc.Tensor, targets []float64) (float64, error)
}

// Config controls a training run.
type Config struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	// Augment mirrors each training image with probability 0.5.
	Augment bool
	Seed    int64
}

// DefaultConfig mirrors the settings the shipped model was trained with.
func DefaultConfig() Config {
	return Config{
		Epochs:          10,
		BatchSize:       32,
		ValidationSplit: 0.2,
		Augment:         true,
		Seed:            42,
	}
}

// EpochResult summarises one pass over the training set.
type EpochResult struct {
	Epoch      int           `json:"epoch"`
	Loss       float64       `json:"loss"`
	Validation *Evaluation   `json:"validation,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Evaluation holds loss, accuracy and the confusion counts over a sample set.
// Male is the positive class.
type Evaluation struct {
	Count          int     `json:"count"`
	Loss           float64 `json:"loss"`
	Accuracy       float64 `json:"accuracy"`
	TruePositives  int     `json:"true_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
}

// Engine trains a model on a dataset.
type Engine struct {
	model Model
	cfg   Config
	rng   *rand.Rand
}

func NewEngine(model Model, cfg Config) (*Engine, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return nil, fmt.Errorf("validation split must be in [0,1), got %v", cfg.ValidationSplit)
	}
	return &Engine{model: model, cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Fit runs the configured number of epochs and returns one result per epoch.
func (e *Engine) Fit(ctx context.Context, ds *Dataset) ([]EpochResult, error) {
	train, val := ds.Split(e.cfg.ValidationSplit, e.cfg.Seed)
	if len(train) == 0 {
		return nil, fmt.Errorf("%w: no training samples after split", ErrEmptyDataset)
	}

	log.Info().
		Int("train", len(train)).
		Int("validation", len(val)).
		Int("epochs", e.cfg.Epochs).
		Int("batch_size", e.cfg.BatchSize).
		Msg("Starting training")

	results := make([]EpochResult, 0, e.cfg.Epochs)
	for epoch := 1; epoch <= e.cfg.Epochs; epoch++ {
		start := time.Now()
		loss, err := e.runEpoch(ctx, train)
		if err != nil {
			return results, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		res := EpochResult{Epoch: epoch, Loss: loss}
		if len(val) > 0 {
			ev, err := e.Evaluate(ctx, val)
			if err != nil {
				return results, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			res.Validation = ev
		}
		res.Duration = time.Since(start)
		results = append(results, res)

		logEv := log.Info().Int("epoch", epoch).Float64("loss", loss).Dur("duration", res.Duration)
		if res.Validation != nil {
			logEv = logEv.Float64("val_loss", res.Validation.Loss).Float64("val_accuracy", res.Validation.Accuracy)
		}
		logEv.Msg("Epoch complete")
	}
	return results, nil
}

func (e *Engine) runEpoch(ctx context.Context, samples []Sample) (float64, error) {
	order := e.rng.Perm(len(samples))
	w, h := e.model.InputSize()

	var losses, weights []float64
	for start := 0; start < len(order); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := min(start+e.cfg.BatchSize, len(order))

		batch := make([]imageproc.Tensor, 0, end-start)
		targets := make([]float64, 0, end-start)
		for _, idx := range order[start:end] {
			s := samples[idx]
			t, err := loadTensor(s, w, h)
			if err != nil {
				return 0, err
			}
			if e.cfg.Augment && e.rng.Intn(2) == 1 {
				t = imageproc.FlipHorizontal(t)
			}
			batch = append(batch, t)
			targets = append(targets, s.Label.Target())
		}

		loss, err := e.model.TrainBatch(batch, targets)
		if err != nil {
			return 0, err
		}
		losses = append(losses, loss*float64(len(batch)))
		weights = append(weights, float64(len(batch)))
	}
	return floats.Sum(losses) / floats.Sum(weights), nil
}

// Evaluate scores samples without training.
func (e *Engine) Evaluate(ctx context.Context, samples []Sample) (*Evaluation, error) {
	return Evaluate(ctx, e.model, samples)
}

// Evaluate scores samples with model.
func Evaluate(ctx context.Context, model Model, samples []Sample) (*Evaluation, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDataset
	}
	w, h := model.InputSize()

	ev := &Evaluation{Count: len(samples)}
	losses := make([]float64, 0, len(samples))
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := loadTensor(s, w, h)
		if err != nil {
			return nil, err
		}
		score, err := model.Infer(t)
		if err != nil {
			return nil, err
		}

		y := s.Label.Target()
		losses = append(losses, ml.BinaryCrossEntropy(score, y))

		predicted := ml.Classify(score).Label
		switch {
		case predicted == ml.Male && s.Label == ml.Male:
			ev.TruePositives++
		case predicted == ml.Female && s.Label == ml.Female:
			ev.TrueNegatives++
		case predicted == ml.Male:
			ev.FalsePositives++
		default:
			ev.FalseNegatives++
		}
	}

	ev.Loss = floats.Sum(losses) / float64(len(losses))
	ev.Accuracy = float64(ev.TruePositives+ev.TrueNegatives) / float64(ev.Count)
	return ev, nil
}
