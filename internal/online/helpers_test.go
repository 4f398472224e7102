package online

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gender-classifier/internal/imageproc"
	"gender-classifier/internal/ledger"
	"gender-classifier/internal/ml"
)

// flakyStore wraps a ledger.Store and can be told to fail reads.
type flakyStore struct {
	ledger.Store
	failLoad atomic.Bool
}

func (s *flakyStore) Load(ctx context.Context) (ledger.Ledger, error) {
	if s.failLoad.Load() {
		return ledger.Ledger{}, errors.New("ledger read failed")
	}
	return s.Store.Load(ctx)
}

// fakeModel is a deterministic ml.Model that detects overlapping access.
type fakeModel struct {
	size int

	mu       sync.Mutex
	score    float64
	steps    int
	saves    int
	trainErr error
	saveErr  error

	inferring int32
	training  int32
	overlap   atomic.Bool
}

func newFakeModel() *fakeModel {
	return &fakeModel{size: 8, score: 0.5}
}

func (f *fakeModel) InputSize() (int, int) {
	return f.size, f.size
}

func (f *fakeModel) Infer(imageproc.Tensor) (float64, error) {
	atomic.AddInt32(&f.inferring, 1)
	defer atomic.AddInt32(&f.inferring, -1)
	if atomic.LoadInt32(&f.training) > 0 {
		f.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.score, nil
}

func (f *fakeModel) TrainStep(_ imageproc.Tensor, target float64) (float64, error) {
	if atomic.AddInt32(&f.training, 1) > 1 || atomic.LoadInt32(&f.inferring) > 0 {
		f.overlap.Store(true)
	}
	defer atomic.AddInt32(&f.training, -1)
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trainErr != nil {
		return 0, f.trainErr
	}
	loss := -(target*math.Log(f.score) + (1-target)*math.Log(1-f.score))
	f.score += (target - f.score) * 0.1
	f.steps++
	return loss, nil
}

func (f *fakeModel) Save(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	return ml.WriteFileAtomic(path, []byte(fmt.Sprintf("steps=%d", f.steps)), 0o644)
}

func (f *fakeModel) counts() (steps, saves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.steps, f.saves
}

// mockMetrics implements Metrics.
type mockMetrics struct {
	mu                 sync.Mutex
	predictions        int
	failures           int
	feedback           int
	trainingFailures   int
	losses             []float64
	accuracy           float64
	checkpoints        int
	checkpointFailures int
}

func (m *mockMetrics) MLPredictionsInc()                 { m.mu.Lock(); m.predictions++; m.mu.Unlock() }
func (m *mockMetrics) MLFailuresInc()                    { m.mu.Lock(); m.failures++; m.mu.Unlock() }
func (m *mockMetrics) MLLatencyObserve(float64)          {}
func (m *mockMetrics) MLPredictionScoresObserve(float64) {}
func (m *mockMetrics) MLModelAgeSet(float64)             {}
func (m *mockMetrics) FeedbackInc()                      { m.mu.Lock(); m.feedback++; m.mu.Unlock() }
func (m *mockMetrics) TrainingFailuresInc()              { m.mu.Lock(); m.trainingFailures++; m.mu.Unlock() }
func (m *mockMetrics) TrainingLatencyObserve(float64)    {}
func (m *mockMetrics) CheckpointsInc()                   { m.mu.Lock(); m.checkpoints++; m.mu.Unlock() }
func (m *mockMetrics) CheckpointFailuresInc()            { m.mu.Lock(); m.checkpointFailures++; m.mu.Unlock() }

func (m *mockMetrics) TrainingLossObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.losses = append(m.losses, v)
}

func (m *mockMetrics) AccuracySet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accuracy = v
}

// zeroGIF is a valid GIF header describing a 0x0 image.
var zeroGIF = []byte{
	'G', 'I', 'F', '8', '9', 'a',
	0, 0, 0, 0, 0x80, 0, 0,
	0, 0, 0, 255, 255, 255,
	0x3b,
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
