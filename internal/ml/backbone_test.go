package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackboneMetadataPath(t *testing.T) {
	assert.Equal(t, "models/backbone_metadata.json", BackboneMetadataPath("models/backbone.onnx"))
	assert.Equal(t, "backbone_metadata.json", BackboneMetadataPath("backbone"))
}

func TestLoadBackboneMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"input_shape":[1,3,224,160],"output_shape":[1,512],"layout":"nchw"}`), 0o644))

	md, err := LoadBackboneMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "input", md.InputName)
	assert.Equal(t, "output", md.OutputName)
	assert.Equal(t, "NCHW", md.Layout)
	assert.Equal(t, 512, md.outputDim())

	w, h, err := md.inputSize()
	require.NoError(t, err)
	assert.Equal(t, 160, w)
	assert.Equal(t, 224, h)

	md.Layout = "NHWC"
	md.InputShape = []int64{1, 96, 64, 3}
	w, h, err = md.inputSize()
	require.NoError(t, err)
	assert.Equal(t, 64, w)
	assert.Equal(t, 96, h)

	md.InputShape = []int64{1, 3}
	_, _, err = md.inputSize()
	assert.Error(t, err)

	_, err = LoadBackboneMetadata(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestNewONNXExtractor_RejectsBadMetadata(t *testing.T) {
	_, err := NewONNXExtractor("unused.onnx", BackboneMetadata{InputShape: []int64{1, 2}, Layout: "NHWC"}, "")
	assert.Error(t, err)

	_, err = NewONNXExtractor("unused.onnx", BackboneMetadata{InputShape: []int64{1, 8, 8, 3}, OutputShape: []int64{1}, Layout: "NHWC"}, "")
	assert.Error(t, err)
}
