package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gender-classifier/internal/imageproc"

	ort "github.com/yalue/onnxruntime_go"
)

// BackboneMetadata describes the frozen ONNX feature network.
type BackboneMetadata struct {
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	Layout      string  `json:"layout"` // NHWC or NCHW
}

// BackboneMetadataPath returns the conventional metadata file next to a backbone model.
func BackboneMetadataPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + "_metadata.json"
}

// LoadBackboneMetadata reads metadata and fills in defaults.
func LoadBackboneMetadata(path string) (BackboneMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BackboneMetadata{}, fmt.Errorf("failed to read backbone metadata: %w", err)
	}

	var md BackboneMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return BackboneMetadata{}, fmt.Errorf("failed to parse backbone metadata: %w", err)
	}
	if md.InputName == "" {
		md.InputName = "input"
	}
	if md.OutputName == "" {
		md.OutputName = "output"
	}
	if md.Layout == "" {
		md.Layout = "NHWC"
	}
	md.Layout = strings.ToUpper(md.Layout)
	return md, nil
}

// inputSize returns width and height implied by the input shape.
func (md BackboneMetadata) inputSize() (int, int, error) {
	if len(md.InputShape) != 4 {
		return 0, 0, fmt.Errorf("backbone input shape must have 4 dimensions, got %v", md.InputShape)
	}
	switch md.Layout {
	case "NHWC":
		return int(md.InputShape[2]), int(md.InputShape[1]), nil
	case "NCHW":
		return int(md.InputShape[3]), int(md.InputShape[2]), nil
	}
	return 0, 0, fmt.Errorf("unsupported backbone layout %q", md.Layout)
}

func (md BackboneMetadata) outputDim() int {
	dim := 1
	for _, d := range md.OutputShape[1:] {
		dim *= int(d)
	}
	return dim
}

// ONNXExtractor runs a frozen backbone and uses its output as features.
type ONNXExtractor struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	metadata     BackboneMetadata
	width        int
	height       int
	dim          int
}

// NewONNXExtractor loads the backbone at modelPath. libraryPath may be empty to
// use the onnxruntime shared library from the default search path.
func NewONNXExtractor(modelPath string, metadata BackboneMetadata, libraryPath string) (*ONNXExtractor, error) {
	width, height, err := metadata.inputSize()
	if err != nil {
		return nil, err
	}
	if len(metadata.OutputShape) < 2 {
		return nil, fmt.Errorf("backbone output shape must have a batch and a feature dimension, got %v", metadata.OutputShape)
	}

	if !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXExtractor{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		metadata:     metadata,
		width:        width,
		height:       height,
		dim:          metadata.outputDim(),
	}, nil
}

func (e *ONNXExtractor) Dim() int {
	return e.dim
}

func (e *ONNXExtractor) Spec() ExtractorSpec {
	return ExtractorSpec{Kind: ExtractorONNX, Dim: e.dim}
}

// InputSize returns the tensor size the backbone was exported with.
func (e *ONNXExtractor) InputSize() (int, int) {
	return e.width, e.height
}

func (e *ONNXExtractor) Extract(t imageproc.Tensor) ([]float64, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Width != e.width || t.Height != e.height {
		return nil, fmt.Errorf("backbone expects %dx%d input, got %dx%d", e.width, e.height, t.Width, t.Height)
	}

	// the session shares preallocated tensors, so runs are serialized
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.metadata.Layout == "NCHW" {
		copy(e.inputTensor.GetData(), t.CHW())
	} else {
		copy(e.inputTensor.GetData(), t.Data)
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("backbone run failed: %w", err)
	}

	raw := e.outputTensor.GetData()
	out := make([]float64, e.dim)
	for i := range out {
		out[i] = float64(raw[i])
	}
	return out, nil
}

// Close releases the session and tensors.
func (e *ONNXExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	return nil
}
