package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"gender-classifier/internal/common"
	"gender-classifier/internal/imageproc"
)

const (
	modelFormat  = "gender-classifier/logistic-head"
	modelVersion = 1
)

// modelFile is the on-disk layout of a classifier.
type modelFile struct {
	Format      string        `json:"format"`
	Version     int           `json:"version"`
	InputWidth  int           `json:"input_width"`
	InputHeight int           `json:"input_height"`
	Extractor   ExtractorSpec `json:"extractor"`
	Head        headState     `json:"head"`
	TrainedAt   time.Time     `json:"trained_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Classifier combines a frozen feature extractor with a trainable logistic head.
type Classifier struct {
	extractor FeatureExtractor
	head      *LogisticHead
	width     int
	height    int
	trainedAt time.Time
	updatedAt time.Time
}

// NewClassifier creates an untrained classifier; its score is 0.5 for every input.
func NewClassifier(extractor FeatureExtractor, width, height int, adam AdamConfig) *Classifier {
	now := time.Now().UTC()
	return &Classifier{
		extractor: extractor,
		head:      NewLogisticHead(extractor.Dim(), adam),
		width:     width,
		height:    height,
		trainedAt: now,
		updatedAt: now,
	}
}

// LoadOptions controls how a model file is turned into a Classifier.
type LoadOptions struct {
	// Backbone is required when the model was trained against an ONNX extractor.
	Backbone FeatureExtractor
	// LearningRate, when positive, replaces the stored optimizer learning rate.
	LearningRate float64
}

// LoadClassifier reads a model file written by Save.
func LoadClassifier(path string, opts LoadOptions) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if mf.Format != modelFormat {
		return nil, fmt.Errorf("unsupported model format %q", mf.Format)
	}
	if mf.Version > modelVersion {
		return nil, fmt.Errorf("model version %d is newer than supported version %d", mf.Version, modelVersion)
	}
	if mf.InputWidth <= 0 || mf.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid model input size %dx%d", mf.InputWidth, mf.InputHeight)
	}

	var extractor FeatureExtractor
	switch mf.Extractor.Kind {
	case ExtractorPool:
		extractor = NewPoolExtractor(mf.Extractor.Grid)
	case ExtractorONNX:
		if opts.Backbone == nil {
			return nil, fmt.Errorf("model requires an ONNX backbone but none is configured")
		}
		extractor = opts.Backbone
	default:
		return nil, fmt.Errorf("unknown feature extractor %q", mf.Extractor.Kind)
	}

	head, err := headFromState(mf.Head)
	if err != nil {
		return nil, err
	}
	if head.Dim() != extractor.Dim() {
		return nil, fmt.Errorf("model head expects %d features, extractor produces %d", head.Dim(), extractor.Dim())
	}
	if opts.LearningRate > 0 {
		head.SetLearningRate(opts.LearningRate)
	}

	return &Classifier{
		extractor: extractor,
		head:      head,
		width:     mf.InputWidth,
		height:    mf.InputHeight,
		trainedAt: mf.TrainedAt,
		updatedAt: mf.UpdatedAt,
	}, nil
}

func (c *Classifier) InputSize() (int, int) {
	return c.width, c.height
}

// UpdatedAt returns the time of the last training step.
func (c *Classifier) UpdatedAt() time.Time {
	return c.updatedAt
}

// Steps returns the number of optimizer steps the head has taken.
func (c *Classifier) Steps() int {
	return c.head.Steps()
}

// SetLearningRate changes the optimizer learning rate for later steps.
func (c *Classifier) SetLearningRate(lr float64) {
	c.head.SetLearningRate(lr)
}

func (c *Classifier) features(t imageproc.Tensor) ([]float64, error) {
	if t.Width != c.width || t.Height != c.height {
		return nil, fmt.Errorf("model expects %dx%d input, got %dx%d", c.width, c.height, t.Width, t.Height)
	}
	return c.extractor.Extract(t)
}

func (c *Classifier) Infer(t imageproc.Tensor) (float64, error) {
	x, err := c.features(t)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInference, err)
	}
	score, err := c.head.Score(x)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return score, nil
}

func (c *Classifier) TrainStep(t imageproc.Tensor, target float64) (float64, error) {
	return c.TrainBatch([]imageproc.Tensor{t}, []float64{target})
}

// TrainBatch applies one optimizer step over several examples.
func (c *Classifier) TrainBatch(batch []imageproc.Tensor, targets []float64) (float64, error) {
	if target := invalidTarget(targets); target != nil {
		return 0, fmt.Errorf("%w: target %v outside [0,1]", ErrTraining, *target)
	}

	xs := make([][]float64, len(batch))
	for i, t := range batch {
		x, err := c.features(t)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTraining, err)
		}
		xs[i] = x
	}

	loss, err := c.head.Step(xs, targets)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTraining, err)
	}
	c.updatedAt = time.Now().UTC()
	return loss, nil
}

func invalidTarget(targets []float64) *float64 {
	for i, y := range targets {
		if math.IsNaN(y) || y < 0 || y > 1 {
			return &targets[i]
		}
	}
	return nil
}

// Save writes the classifier to path atomically: the data goes to a temporary
// file in the same directory which then replaces path.
func (c *Classifier) Save(path string) error {
	mf := modelFile{
		Format:      modelFormat,
		Version:     modelVersion,
		InputWidth:  c.width,
		InputHeight: c.height,
		Extractor:   c.extractor.Spec(),
		Head:        c.head.state(),
		TrainedAt:   c.trainedAt,
		UpdatedAt:   c.updatedAt,
	}

	data, err := json.Marshal(mf)
	if err != nil {
		return fmt.Errorf("%w: marshal model: %v", ErrPersistence, err)
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Close releases extractor resources.
func (c *Classifier) Close() error {
	if closer, ok := c.extractor.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WriteFileAtomic writes data to a temp file beside path, syncs it and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// OpenOptions extends LoadOptions with what is needed to start from scratch.
type OpenOptions struct {
	LoadOptions
	// CreateIfMissing builds an untrained classifier when the file does not exist.
	CreateIfMissing bool
	// ImageSize is the square input size used for a new pooling classifier.
	ImageSize int
	// PoolGrid is the pooling grid for a new classifier without a backbone.
	PoolGrid int
}

// OpenClassifier loads path, or creates an untrained classifier when the file
// is absent and CreateIfMissing is set. created reports which happened.
func OpenClassifier(path string, opts OpenOptions) (c *Classifier, created bool, err error) {
	c, err = LoadClassifier(path, opts.LoadOptions)
	if err == nil {
		return c, false, nil
	}
	if !opts.CreateIfMissing || !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	w, h := opts.ImageSize, opts.ImageSize
	extractor := opts.Backbone
	if extractor == nil {
		grid := opts.PoolGrid
		if grid <= 0 {
			grid = common.DefaultPoolGrid
		}
		extractor = NewPoolExtractor(grid)
	} else if sized, ok := extractor.(interface{ InputSize() (int, int) }); ok {
		w, h = sized.InputSize()
	}
	if w <= 0 || h <= 0 {
		return nil, false, fmt.Errorf("invalid input size %dx%d for new model", w, h)
	}

	lr := opts.LearningRate
	if lr <= 0 {
		lr = common.DefaultLearningRate
	}
	return NewClassifier(extractor, w, h, DefaultAdam(lr)), true, nil
}
