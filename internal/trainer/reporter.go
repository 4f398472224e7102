package trainer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gender-classifier/internal/ml"

	"github.com/rs/zerolog/log"
)

// Report is the outcome of a training run.
type Report struct {
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	TrainDir  string           `json:"train_dir"`
	TestDir   string           `json:"test_dir,omitempty"`
	ModelPath string           `json:"model_path"`
	Counts    map[ml.Label]int `json:"counts"`
	Config    Config           `json:"config"`
	Epochs    []EpochResult    `json:"epochs"`
	Test      *Evaluation      `json:"test,omitempty"`
}

// WriteSummary prints a human-readable summary.
func (r *Report) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "TRAINING SUMMARY\n")
	fmt.Fprintf(w, "================\n\n")
	fmt.Fprintf(w, "Dataset: %s (%d female, %d male)\n",
		r.TrainDir, r.Counts[ml.Female], r.Counts[ml.Male])
	fmt.Fprintf(w, "Duration: %s\n", r.EndTime.Sub(r.StartTime).Round(time.Millisecond))
	fmt.Fprintf(w, "Epochs: %d, batch size %d, validation split %.2f, augment %v\n\n",
		r.Config.Epochs, r.Config.BatchSize, r.Config.ValidationSplit, r.Config.Augment)

	fmt.Fprintf(w, "EPOCHS\n")
	fmt.Fprintf(w, "------\n")
	for _, e := range r.Epochs {
		if e.Validation != nil {
			fmt.Fprintf(w, "%3d  loss %.4f  val_loss %.4f  val_accuracy %.2f%%\n",
				e.Epoch, e.Loss, e.Validation.Loss, e.Validation.Accuracy*100)
		} else {
			fmt.Fprintf(w, "%3d  loss %.4f\n", e.Epoch, e.Loss)
		}
	}

	if r.Test != nil {
		fmt.Fprintf(w, "\nTEST (%s)\n", r.TestDir)
		fmt.Fprintf(w, "----\n")
		fmt.Fprintf(w, "Test accuracy: %.4f\n", r.Test.Accuracy)
		fmt.Fprintf(w, "Test loss: %.4f\n", r.Test.Loss)
		fmt.Fprintf(w, "Confusion: TP %d, TN %d, FP %d, FN %d\n",
			r.Test.TruePositives, r.Test.TrueNegatives, r.Test.FalsePositives, r.Test.FalseNegatives)
	}

	fmt.Fprintf(w, "\nModel written to %s\n", r.ModelPath)
}

// SaveJSON writes the report as indented JSON.
func (r *Report) SaveJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	log.Info().Str("file", path).Msg("Training report written")
	return nil
}
