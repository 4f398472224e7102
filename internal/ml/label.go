package ml

import (
	"fmt"

	"gender-classifier/internal/common"
)

// Label is one of the two classes the model distinguishes.
type Label string

const (
	Male   Label = common.LabelMale
	Female Label = common.LabelFemale
)

// DecisionThreshold separates the classes; a score must be strictly above it to be Male.
const DecisionThreshold = common.DefaultDecisionThreshold

// PredictionResult is the outcome of a single prediction. It is never persisted.
type PredictionResult struct {
	Label             Label
	ConfidencePercent float64
	Score             float64
}

// ParseLabel accepts exactly "Male" or "Female".
func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case Male, Female:
		return Label(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLabel, s)
}

// Target maps a label to the numeric training target.
func (l Label) Target() float64 {
	if l == Male {
		return 1.0
	}
	return 0.0
}

func (l Label) String() string {
	return string(l)
}

// Classify maps a score in [0,1] to a label and a confidence in [50,100].
func Classify(score float64) PredictionResult {
	if score > DecisionThreshold {
		return PredictionResult{Label: Male, ConfidencePercent: score * 100, Score: score}
	}
	return PredictionResult{Label: Female, ConfidencePercent: (1 - score) * 100, Score: score}
}
