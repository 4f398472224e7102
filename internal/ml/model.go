// Package ml provides the binary gender classifier used by the service.
// It includes the Model contract shared by prediction and online learning,
// the score-to-label mapping, a trainable logistic head with an Adam optimizer,
// and feature extractors (pooled pixels or an optional ONNX backbone).
//
// A Classifier is not synchronized: inference calls may run concurrently, but
// TrainStep must be serialized against every other call by the owner.
package ml

import (
	"errors"

	"gender-classifier/internal/imageproc"
)

// Error taxonomy shared by every front-end.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidLabel = errors.New("invalid gender label")
	ErrInference    = errors.New("inference failed")
	ErrTraining     = errors.New("training failed")
	ErrPersistence  = errors.New("persistence failed")
)

// Model defines the mutable classifier shared by all requests.
type Model interface {
	// Infer returns the probability in [0,1] that the tensor shows the Male class.
	Infer(t imageproc.Tensor) (float64, error)

	// TrainStep applies exactly one gradient update on a single labeled example
	// and returns the training loss measured before the update.
	TrainStep(t imageproc.Tensor, target float64) (float64, error)

	// Save writes the current model state to path, replacing any existing file.
	Save(path string) error

	// InputSize returns the tensor width and height the model expects.
	InputSize() (width, height int)
}
