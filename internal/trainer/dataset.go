// Package trainer runs the offline training of the classifier head on a
// directory of labelled images.
package trainer

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gender-classifier/internal/imageproc"
	"gender-classifier/internal/ml"

	"github.com/rs/zerolog/log"
)

// ErrEmptyDataset is returned when a directory holds no usable images.
var ErrEmptyDataset = errors.New("dataset contains no images")

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// Sample is one labelled image on disk.
type Sample struct {
	Path  string
	Label ml.Label
}

// Dataset is a set of samples found under a root directory with one
// sub-directory per class.
type Dataset struct {
	Root    string
	Classes []string
	Samples []Sample
}

// LoadDir scans root. Class directories are matched case-insensitively to
// "female" and "male"; in alphabetical order that gives female=0, male=1,
// which matches the model targets.
func LoadDir(root string) (*Dataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %w", err)
	}

	ds := &Dataset{Root: root}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		label, ok := classLabel(e.Name())
		if !ok {
			log.Warn().Str("dir", e.Name()).Msg("Skipping unknown class directory")
			continue
		}
		ds.Classes = append(ds.Classes, e.Name())

		files, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read class directory %s: %w", e.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			ds.Samples = append(ds.Samples, Sample{
				Path:  filepath.Join(root, e.Name(), f.Name()),
				Label: label,
			})
		}
	}

	sort.Strings(ds.Classes)
	sort.Slice(ds.Samples, func(i, j int) bool { return ds.Samples[i].Path < ds.Samples[j].Path })

	if len(ds.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, root)
	}

	log.Info().
		Str("root", root).
		Strs("classes", ds.Classes).
		Int("samples", len(ds.Samples)).
		Msg("Dataset loaded")
	return ds, nil
}

func classLabel(dir string) (ml.Label, bool) {
	switch strings.ToLower(dir) {
	case "female":
		return ml.Female, true
	case "male":
		return ml.Male, true
	}
	return "", false
}

// Counts returns the number of samples per label.
func (ds *Dataset) Counts() map[ml.Label]int {
	counts := make(map[ml.Label]int, 2)
	for _, s := range ds.Samples {
		counts[s.Label]++
	}
	return counts
}

// Split holds out a fraction of each class for validation. The split is
// stratified and deterministic for a given seed.
func (ds *Dataset) Split(validation float64, seed int64) (train, val []Sample) {
	if validation <= 0 {
		return append([]Sample(nil), ds.Samples...), nil
	}

	byLabel := map[ml.Label][]Sample{}
	for _, s := range ds.Samples {
		byLabel[s.Label] = append(byLabel[s.Label], s)
	}

	rng := rand.New(rand.NewSource(seed))
	for _, label := range []ml.Label{ml.Female, ml.Male} {
		group := byLabel[label]
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })

		n := int(float64(len(group)) * validation)
		if n == 0 && len(group) > 1 {
			n = 1
		}
		val = append(val, group[:n]...)
		train = append(train, group[n:]...)
	}
	return train, val
}

// loadTensor reads and preprocesses one sample.
func loadTensor(s Sample, width, height int) (imageproc.Tensor, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return imageproc.Tensor{}, fmt.Errorf("failed to read %s: %w", s.Path, err)
	}
	t, err := imageproc.FromBytes(data, width, height)
	if err != nil {
		return imageproc.Tensor{}, fmt.Errorf("failed to decode %s: %w", s.Path, err)
	}
	return t, nil
}
