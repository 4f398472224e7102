// Package ledger keeps the aggregate feedback counters. It records how many
// corrections were applied and whether they confirmed the prediction shown to
// the user. No image data or per-submission record is ever stored.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gender-classifier/internal/common"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("ledger store closed")

// Ledger is the persisted set of feedback counters.
type Ledger struct {
	TotalFeedback        int        `json:"total_feedback"`
	CorrectPredictions   int        `json:"correct_predictions"`
	IncorrectPredictions int        `json:"incorrect_predictions"`
	OnlineTrainingCount  int        `json:"online_training_count"`
	LastUpdated          *time.Time `json:"last_updated"`
}

// Outcome says how a feedback submission relates to the prediction it corrects.
type Outcome int

const (
	// OutcomeUnknown means no previous prediction was supplied.
	OutcomeUnknown Outcome = iota
	OutcomeCorrect
	OutcomeIncorrect
)

// RecordFeedback applies one feedback submission to the counters.
func (l *Ledger) RecordFeedback(outcome Outcome, at time.Time) {
	l.TotalFeedback++
	l.OnlineTrainingCount++
	switch outcome {
	case OutcomeCorrect:
		l.CorrectPredictions++
	case OutcomeIncorrect:
		l.IncorrectPredictions++
	}
	t := at.UTC()
	l.LastUpdated = &t
}

// Stats is the read-only view served to clients.
type Stats struct {
	TotalFeedback        int        `json:"total_feedback"`
	CorrectPredictions   int        `json:"correct_predictions"`
	IncorrectPredictions int        `json:"incorrect_predictions"`
	Accuracy             float64    `json:"accuracy"`
	OnlineTrainingCount  int        `json:"online_training_count"`
	LastUpdated          *time.Time `json:"last_updated"`
}

// Stats derives accuracy as a percentage of total feedback, 0 when there is none.
func (l Ledger) Stats() Stats {
	var acc float64
	if l.TotalFeedback > 0 {
		acc = float64(l.CorrectPredictions) / float64(l.TotalFeedback) * 100
	}
	return Stats{
		TotalFeedback:        l.TotalFeedback,
		CorrectPredictions:   l.CorrectPredictions,
		IncorrectPredictions: l.IncorrectPredictions,
		Accuracy:             acc,
		OnlineTrainingCount:  l.OnlineTrainingCount,
		LastUpdated:          l.LastUpdated,
	}
}

// Store persists a Ledger. Implementations are safe for concurrent use and
// make each Update durable before returning.
type Store interface {
	// Load returns the current ledger, or a zero ledger when none was written yet.
	Load(ctx context.Context) (Ledger, error)
	// Update runs fn on the current ledger and persists the result atomically.
	// If fn returns an error nothing is written.
	Update(ctx context.Context, fn func(*Ledger) error) (Ledger, error)
	Close() error
}

// Open returns the store for backend. A bolt ledger configured with the JSON
// default path is placed beside it under the bolt default name.
func Open(backend, path string) (Store, error) {
	switch backend {
	case common.LedgerBackendJSON, "":
		s, err := NewFileStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case common.LedgerBackendBolt:
		if filepath.Ext(path) == ".json" {
			path = filepath.Join(filepath.Dir(path), common.DefaultLedgerBoltFilename)
		}
		s, err := NewBoltStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", backend)
}
