package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/predict", r.URL.Path)

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "face.png", header.Filename)
		assert.Equal(t, []byte("png-bytes"), data)

		writeJSON(w, http.StatusOK, map[string]interface{}{"gender": "Female", "confidence": 87.5, "success": true})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	res, err := c.Predict(context.Background(), "/tmp/images/face.png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "Female", res.Gender)
	assert.Equal(t, 87.5, res.Confidence)
	assert.True(t, res.Success)
}

func TestFeedback_SendsFormFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Male", r.FormValue("correctGender"))
		assert.Equal(t, "Female", r.FormValue("prediction"))
		_, _, err := r.FormFile("image")
		assert.NoError(t, err)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true, "message": "ok", "total_feedback": 4, "training_loss": 0.42, "privacy_safe": true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	res, err := c.Feedback(context.Background(), "a.jpg", []byte("x"), "Male", "Female")
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalFeedback)
	assert.InDelta(t, 0.42, res.TrainingLoss, 1e-9)
}

func TestFeedback_OmitsEmptyPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, ok := r.MultipartForm.Value["prediction"]
		assert.False(t, ok)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Feedback(context.Background(), "a.jpg", []byte("x"), "Female", "")
	require.NoError(t, err)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "Invalid gender label", "success": false})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Feedback(context.Background(), "a.jpg", []byte("x"), "other", "")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid gender label", apiErr.Message)
}

func TestStatsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "boom"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_feedback": 10, "correct_predictions": 7, "incorrect_predictions": 3,
			"accuracy": 70.0, "online_training_count": 10, "privacy_safe": true, "data_stored": false,
		})
	}))
	defer srv.Close()

	st, err := New(srv.URL, time.Second).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 10, st.TotalFeedback)
	assert.Equal(t, 70.0, st.Accuracy)
	assert.True(t, st.PrivacySafe)
}

func TestSaveModelIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "disk full", "success": false})
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).SaveModel(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, err.Error(), "disk full")
}

func TestHealthAndCheckpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "model_loaded": true})
		case "/api/checkpoints":
			writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": []map[string]interface{}{
				{"at": "2026-01-02T03:04:05Z", "primary": "model.json", "reason": "manual", "online_training_count": 3},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.ModelLoaded)

	cps, err := c.Checkpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, cps.Checkpoints, 1)
	assert.Equal(t, 3, cps.Checkpoints[0].OnlineTrainingCount)
	assert.Equal(t, "model.json", cps.Checkpoints[0].Primary)
}
