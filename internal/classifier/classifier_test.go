package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/flames/internal/protocol"
)

func parseFrame(t *testing.T, raw string) *protocol.Frame {
	t.Helper()
	f, err := protocol.ParseFrame([]byte(raw))
	require.NoError(t, err)
	return f
}

func TestNewVector_FeatureOrder(t *testing.T) {
	v := NewVector(parseFrame(t, `{"node":"N1","temp":52.3,"hum":25,"flame":1,"smoke":920}`))

	values, err := v.Values()
	require.NoError(t, err)
	assert.Equal(t, []float64{920, 52.3, 1, 25}, values)
}

func TestNewVector_Defaults(t *testing.T) {
	v := NewVector(parseFrame(t, `{"node":"N1","temp":30,"hum":60}`))

	values, err := v.Values()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 30, 0, 60}, values)
}

func TestNewVector_MissingTemperature(t *testing.T) {
	v := NewVector(parseFrame(t, `{"node":"N1","hum":60}`))

	_, err := v.Values()
	assert.ErrorIs(t, err, ErrMissingFeature)
	assert.Contains(t, err.Error(), "temperature")
}

// weights push hot smoky readings towards "fire"
const binaryModel = `{
	"classes": ["normal", "fire"],
	"mean": [300, 30, 0.2, 50],
	"scale": [200, 10, 0.4, 20],
	"weights": [[2.0, 1.5, 2.5, -1.0]],
	"bias": [-1.0]
}`

func TestLinearModel_Binary(t *testing.T) {
	m, err := ParseLinearModel([]byte(binaryModel))
	require.NoError(t, err)

	fire := NewVector(parseFrame(t, `{"node":"N1","temp":52.3,"hum":25,"flame":1,"smoke":920}`))
	res, err := m.Classify(context.Background(), fire)
	require.NoError(t, err)
	assert.Equal(t, "fire", res.Label)
	assert.Greater(t, res.Confidence, 0.99)

	calm := NewVector(parseFrame(t, `{"node":"N1","temp":24,"hum":65,"flame":0,"smoke":120}`))
	res, err = m.Classify(context.Background(), calm)
	require.NoError(t, err)
	assert.Equal(t, "normal", res.Label)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestLinearModel_Multiclass(t *testing.T) {
	m, err := ParseLinearModel([]byte(`{
		"classes": ["false", "fire", "normal"],
		"mean": [0, 0, 0, 0],
		"scale": [1, 1, 0, 1],
		"weights": [[0, 0, 0, 0], [0, 0, 1, 0], [0, 0, -1, 0]],
		"bias": [0, 0, 0]
	}`))
	require.NoError(t, err)

	x := 3.0
	res, err := m.Classify(context.Background(), Vector{&x, &x, &x, &x})
	require.NoError(t, err)
	assert.Equal(t, "fire", res.Label)

	var sum float64
	for _, p := range softmax([]float64{0, 3, -3}) {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestLinearModel_MissingFeature(t *testing.T) {
	m, err := ParseLinearModel([]byte(binaryModel))
	require.NoError(t, err)

	_, err = m.Classify(context.Background(), NewVector(parseFrame(t, `{"node":"N1"}`)))
	assert.ErrorIs(t, err, ErrMissingFeature)
}

func TestParseLinearModel_Invalid(t *testing.T) {
	tests := map[string]string{
		"one_class":     `{"classes":["fire"],"mean":[0,0,0,0],"scale":[1,1,1,1],"weights":[[0,0,0,0]],"bias":[0]}`,
		"short_scaler":  `{"classes":["a","b"],"mean":[0,0],"scale":[1,1,1,1],"weights":[[0,0,0,0]],"bias":[0]}`,
		"row_count":     `{"classes":["a","b","c"],"mean":[0,0,0,0],"scale":[1,1,1,1],"weights":[[0,0,0,0]],"bias":[0]}`,
		"short_weights": `{"classes":["a","b"],"mean":[0,0,0,0],"scale":[1,1,1,1],"weights":[[0,0]],"bias":[0]}`,
		"not_json":      `classes`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLinearModel([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadLinearModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(binaryModel), 0o600))

	m, err := LoadLinearModel(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"normal", "fire"}, m.Classes)

	_, err = LoadLinearModel(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestHTTPClassifier(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":"fire","confidence":0.9825}`))
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second)
	res, err := c.Classify(context.Background(), NewVector(parseFrame(t, `{"node":"N1","temp":52.3,"hum":25,"flame":1,"smoke":920}`)))
	require.NoError(t, err)

	assert.Equal(t, Result{Label: "fire", Confidence: 0.9825}, res)
	assert.Equal(t, []float64{920, 52.3, 1, 25}, got.Features)
	assert.Equal(t, []string{"smoke", "temperature", "flame", "humidity"}, got.Names)
}

func TestHTTPClassifier_Errors(t *testing.T) {
	tests := map[string]func(w http.ResponseWriter){
		"status": func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"no_label": func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"confidence":0.5}`))
		},
		"out_of_range": func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"label":"fire","confidence":1.5}`))
		},
	}

	v := NewVector(parseFrame(t, `{"node":"N1","temp":30,"hum":60}`))
	for name, respond := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				respond(w)
			}))
			defer srv.Close()

			_, err := NewHTTPClassifier(srv.URL, time.Second).Classify(context.Background(), v)
			assert.Error(t, err)
		})
	}
}

func TestFunc(t *testing.T) {
	var c Classifier = Func(func(ctx context.Context, v Vector) (Result, error) {
		return Result{Label: "normal", Confidence: 0.7}, nil
	})
	res, err := c.Classify(context.Background(), Vector{})
	require.NoError(t, err)
	assert.Equal(t, "normal", res.Label)
}
