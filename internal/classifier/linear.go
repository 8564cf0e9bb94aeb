package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// LinearModel is a standardized linear classifier exported from training as
// JSON. Binary models carry a single weight row scoring the second class.
type LinearModel struct {
	Classes []string    `json:"classes"`
	Mean    []float64   `json:"mean"`
	Scale   []float64   `json:"scale"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// LoadLinearModel reads and validates a model file
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return ParseLinearModel(data)
}

// ParseLinearModel decodes and validates a model
func ParseLinearModel(data []byte) (*LinearModel, error) {
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *LinearModel) validate() error {
	if len(m.Classes) < 2 {
		return fmt.Errorf("model needs at least 2 classes, has %d", len(m.Classes))
	}
	if len(m.Mean) != NumFeatures || len(m.Scale) != NumFeatures {
		return fmt.Errorf("scaler must have %d features", NumFeatures)
	}

	rows := len(m.Classes)
	if rows == 2 {
		rows = 1
	}
	if len(m.Weights) != rows || len(m.Bias) != rows {
		return fmt.Errorf("expected %d weight rows and biases, got %d and %d", rows, len(m.Weights), len(m.Bias))
	}
	for i, w := range m.Weights {
		if len(w) != NumFeatures {
			return fmt.Errorf("weight row %d has %d values, want %d", i, len(w), NumFeatures)
		}
	}
	return nil
}

// Classify implements Classifier
func (m *LinearModel) Classify(_ context.Context, v Vector) (Result, error) {
	x, err := v.Values()
	if err != nil {
		return Result{}, err
	}

	for i := range x {
		scale := m.Scale[i]
		if scale == 0 {
			scale = 1
		}
		x[i] = (x[i] - m.Mean[i]) / scale
	}

	scores := make([]float64, len(m.Weights))
	for r, w := range m.Weights {
		z := m.Bias[r]
		for i := range x {
			z += w[i] * x[i]
		}
		scores[r] = z
	}

	var probs []float64
	if len(m.Classes) == 2 {
		p := sigmoid(scores[0])
		probs = []float64{1 - p, p}
	} else {
		probs = softmax(scores)
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return Result{Label: m.Classes[best], Confidence: probs[best]}, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(z []float64) []float64 {
	peak := z[0]
	for _, v := range z[1:] {
		if v > peak {
			peak = v
		}
	}

	out := make([]float64, len(z))
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
