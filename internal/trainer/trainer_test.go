package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gender-classifier/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeImages creates n solid images of the given gray level under root/class.
func writeImages(t *testing.T, root, class string, n int, level uint8) {
	t.Helper()
	dir := filepath.Join(root, class)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 20, 20))
		for y := 0; y < 20; y++ {
			for x := 0; x < 20; x++ {
				// left half slightly brighter so flips change the input
				v := level
				if x < 10 && v < 250 {
					v += 5
				}
				img.Set(x, y, color.RGBA{v, v, v, 255})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "img"+string(rune('a'+i))+".png"), buf.Bytes(), 0o644))
	}
}

func makeDataset(t *testing.T, perClass int) string {
	t.Helper()
	root := t.TempDir()
	writeImages(t, root, "female", perClass, 30)
	writeImages(t, root, "male", perClass, 220)
	return root
}

func newModel() *ml.Classifier {
	return ml.NewClassifier(ml.NewPoolExtractor(4), 16, 16, ml.DefaultAdam(0.05))
}

func TestLoadDir(t *testing.T) {
	root := makeDataset(t, 5)
	require.NoError(t, os.WriteFile(filepath.Join(root, "female", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "unknown"), 0o755))

	ds, err := LoadDir(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"female", "male"}, ds.Classes)
	assert.Len(t, ds.Samples, 10)
	assert.Equal(t, map[ml.Label]int{ml.Female: 5, ml.Male: 5}, ds.Counts())
	assert.Equal(t, ml.Female, ds.Samples[0].Label)
}

func TestLoadDir_Empty(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "male"), 0o755))

	_, err := LoadDir(root)
	assert.True(t, errors.Is(err, ErrEmptyDataset))

	_, err = LoadDir(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestSplit_StratifiedAndDeterministic(t *testing.T) {
	ds, err := LoadDir(makeDataset(t, 10))
	require.NoError(t, err)

	train, val := ds.Split(0.2, 7)
	assert.Len(t, train, 16)
	assert.Len(t, val, 4)

	valCounts := map[ml.Label]int{}
	for _, s := range val {
		valCounts[s.Label]++
	}
	assert.Equal(t, 2, valCounts[ml.Female])
	assert.Equal(t, 2, valCounts[ml.Male])

	train2, val2 := ds.Split(0.2, 7)
	assert.Equal(t, train, train2)
	assert.Equal(t, val, val2)

	all, none := ds.Split(0, 7)
	assert.Len(t, all, 20)
	assert.Empty(t, none)
}

func TestNewEngine_Validation(t *testing.T) {
	m := newModel()
	_, err := NewEngine(m, Config{Epochs: 0, BatchSize: 1})
	assert.Error(t, err)
	_, err = NewEngine(m, Config{Epochs: 1, BatchSize: 0})
	assert.Error(t, err)
	_, err = NewEngine(m, Config{Epochs: 1, BatchSize: 1, ValidationSplit: 1})
	assert.Error(t, err)
}

func TestFit_LearnsSeparableData(t *testing.T) {
	ds, err := LoadDir(makeDataset(t, 8))
	require.NoError(t, err)

	m := newModel()
	before, err := Evaluate(context.Background(), m, ds.Samples)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Epochs = 30
	cfg.BatchSize = 4
	eng, err := NewEngine(m, cfg)
	require.NoError(t, err)

	results, err := eng.Fit(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, results, 30)
	require.NotNil(t, results[0].Validation)
	assert.Less(t, results[len(results)-1].Loss, results[0].Loss)

	after, err := Evaluate(context.Background(), m, ds.Samples)
	require.NoError(t, err)
	assert.Less(t, after.Loss, before.Loss)
	assert.Equal(t, 1.0, after.Accuracy)
	assert.Equal(t, 8, after.TruePositives)
	assert.Equal(t, 8, after.TrueNegatives)
}

func TestFit_Cancelled(t *testing.T) {
	ds, err := LoadDir(makeDataset(t, 3))
	require.NoError(t, err)

	eng, err := NewEngine(newModel(), Config{Epochs: 2, BatchSize: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Fit(ctx, ds)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEvaluate_UntrainedModel(t *testing.T) {
	ds, err := LoadDir(makeDataset(t, 2))
	require.NoError(t, err)

	ev, err := Evaluate(context.Background(), newModel(), ds.Samples)
	require.NoError(t, err)
	// score 0.5 classifies every sample as Female
	assert.Equal(t, 4, ev.Count)
	assert.Equal(t, 0.5, ev.Accuracy)
	assert.Equal(t, 2, ev.TrueNegatives)
	assert.Equal(t, 2, ev.FalseNegatives)
	assert.InDelta(t, 0.6931, ev.Loss, 1e-3)

	_, err = Evaluate(context.Background(), newModel(), nil)
	assert.True(t, errors.Is(err, ErrEmptyDataset))
}

func TestReport(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &Report{
		StartTime: start,
		EndTime:   start.Add(3 * time.Second),
		TrainDir:  "data/train",
		TestDir:   "data/test",
		ModelPath: "model.json",
		Counts:    map[ml.Label]int{ml.Female: 3, ml.Male: 4},
		Config:    DefaultConfig(),
		Epochs: []EpochResult{
			{Epoch: 1, Loss: 0.69, Validation: &Evaluation{Count: 2, Loss: 0.6, Accuracy: 0.5}},
			{Epoch: 2, Loss: 0.5},
		},
		Test: &Evaluation{Count: 4, Loss: 0.3, Accuracy: 0.75, TruePositives: 2, TrueNegatives: 1, FalseNegatives: 1},
	}

	var buf bytes.Buffer
	r.WriteSummary(&buf)
	out := buf.String()
	assert.Contains(t, out, "Dataset: data/train (3 female, 4 male)")
	assert.Contains(t, out, "val_accuracy 50.00%")
	assert.Contains(t, out, "Test accuracy: 0.7500")
	assert.Contains(t, out, "Model written to model.json")

	path := filepath.Join(t.TempDir(), "reports", "report.json")
	require.NoError(t, r.SaveJSON(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 4, decoded.Counts[ml.Male])
	assert.Len(t, decoded.Epochs, 2)
	assert.Equal(t, 0.75, decoded.Test.Accuracy)
}
