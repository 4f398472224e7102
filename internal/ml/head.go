package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// lossEpsilon clips probabilities before the log in binary cross-entropy.
const lossEpsilon = 1e-7

// AdamConfig holds optimizer hyperparameters.
type AdamConfig struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	Epsilon      float64 `json:"epsilon"`
}

// DefaultAdam returns the optimizer settings used for online learning.
func DefaultAdam(learningRate float64) AdamConfig {
	return AdamConfig{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// LogisticHead is a single sigmoid unit over a feature vector, trained with Adam.
type LogisticHead struct {
	weights []float64
	bias    float64

	adam  AdamConfig
	step  int
	m, v  []float64
	mBias float64
	vBias float64

	// scratch buffer for gradients
	grad []float64
}

// NewLogisticHead creates a zero-initialised head over dim features.
func NewLogisticHead(dim int, adam AdamConfig) *LogisticHead {
	return &LogisticHead{
		weights: make([]float64, dim),
		adam:    adam,
		m:       make([]float64, dim),
		v:       make([]float64, dim),
		grad:    make([]float64, dim),
	}
}

// Dim returns the number of input features.
func (h *LogisticHead) Dim() int {
	return len(h.weights)
}

// Steps returns the number of optimizer steps applied so far.
func (h *LogisticHead) Steps() int {
	return h.step
}

// SetLearningRate replaces the optimizer learning rate, keeping moment estimates.
func (h *LogisticHead) SetLearningRate(lr float64) {
	h.adam.LearningRate = lr
}

// Score returns sigmoid(w.x + b).
func (h *LogisticHead) Score(x []float64) (float64, error) {
	if len(x) != len(h.weights) {
		return 0, fmt.Errorf("feature vector has %d values, head expects %d", len(x), len(h.weights))
	}
	return sigmoid(floats.Dot(h.weights, x) + h.bias), nil
}

// Step applies one Adam update over a batch and returns the mean
// binary cross-entropy measured before the update.
func (h *LogisticHead) Step(batch [][]float64, targets []float64) (float64, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	if len(batch) != len(targets) {
		return 0, fmt.Errorf("batch has %d samples but %d targets", len(batch), len(targets))
	}

	for i := range h.grad {
		h.grad[i] = 0
	}
	var gradBias, loss float64
	n := float64(len(batch))

	for i, x := range batch {
		p, err := h.Score(x)
		if err != nil {
			return 0, err
		}
		y := targets[i]
		loss += BinaryCrossEntropy(p, y)

		// dL/dz for sigmoid + cross-entropy
		d := (p - y) / n
		floats.AddScaled(h.grad, d, x)
		gradBias += d
	}
	loss /= n

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("non-finite loss %v", loss)
	}

	h.step++
	a := h.adam
	lrT := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, float64(h.step))) / (1 - math.Pow(a.Beta1, float64(h.step)))

	for i, g := range h.grad {
		h.m[i] = a.Beta1*h.m[i] + (1-a.Beta1)*g
		h.v[i] = a.Beta2*h.v[i] + (1-a.Beta2)*g*g
		h.weights[i] -= lrT * h.m[i] / (math.Sqrt(h.v[i]) + a.Epsilon)
	}
	h.mBias = a.Beta1*h.mBias + (1-a.Beta1)*gradBias
	h.vBias = a.Beta2*h.vBias + (1-a.Beta2)*gradBias*gradBias
	h.bias -= lrT * h.mBias / (math.Sqrt(h.vBias) + a.Epsilon)

	return loss, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// BinaryCrossEntropy is the clipped log loss of probability p against target y.
func BinaryCrossEntropy(p, y float64) float64 {
	p = math.Min(math.Max(p, lossEpsilon), 1-lossEpsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// headState is the serialized form of a LogisticHead.
type headState struct {
	Weights []float64  `json:"weights"`
	Bias    float64    `json:"bias"`
	Adam    AdamConfig `json:"optimizer"`
	Step    int        `json:"optimizer_step"`
	M       []float64  `json:"optimizer_m"`
	V       []float64  `json:"optimizer_v"`
	MBias   float64    `json:"optimizer_m_bias"`
	VBias   float64    `json:"optimizer_v_bias"`
}

func (h *LogisticHead) state() headState {
	return headState{
		Weights: append([]float64(nil), h.weights...),
		Bias:    h.bias,
		Adam:    h.adam,
		Step:    h.step,
		M:       append([]float64(nil), h.m...),
		V:       append([]float64(nil), h.v...),
		MBias:   h.mBias,
		VBias:   h.vBias,
	}
}

func headFromState(s headState) (*LogisticHead, error) {
	dim := len(s.Weights)
	if dim == 0 {
		return nil, fmt.Errorf("model has no weights")
	}
	h := NewLogisticHead(dim, s.Adam)
	copy(h.weights, s.Weights)
	h.bias = s.Bias
	h.step = s.Step
	// moment estimates are optional; a head trained elsewhere may ship without them
	if len(s.M) == dim && len(s.V) == dim {
		copy(h.m, s.M)
		copy(h.v, s.V)
		h.mBias = s.MBias
		h.vBias = s.VBias
	} else {
		h.step = 0
	}
	if h.adam.Beta1 == 0 && h.adam.Beta2 == 0 {
		h.adam = DefaultAdam(h.adam.LearningRate)
	}
	return h, nil
}
