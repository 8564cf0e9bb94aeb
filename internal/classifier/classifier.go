// Package classifier turns a reading's sensor values into a fire/normal label
// with a confidence in [0,1]. The model itself is a black box behind the
// Classifier interface.
package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/firewatch/flames/internal/protocol"
)

// ErrMissingFeature is returned when a feature the model needs is absent
var ErrMissingFeature = errors.New("feature value missing")

// NumFeatures is the model input width
const NumFeatures = 4

// FeatureNames is the fixed input order the model was trained with
var FeatureNames = [NumFeatures]string{"smoke", "temperature", "flame", "humidity"}

// Vector is the model input in FeatureNames order. A nil entry is a value
// the node did not send.
type Vector [NumFeatures]*float64

// NewVector builds the model input from a frame. Smoke and flame default to
// 0 when absent; temperature and humidity stay nil.
func NewVector(f *protocol.Frame) Vector {
	smoke := float64(f.SmokeValue())
	flame := float64(f.FlameValue())
	return Vector{&smoke, f.Temp, &flame, f.Hum}
}

// Values returns the dense input or ErrMissingFeature
func (v Vector) Values() ([]float64, error) {
	values := make([]float64, NumFeatures)
	for i, p := range v {
		if p == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeature, FeatureNames[i])
		}
		values[i] = *p
	}
	return values, nil
}

// Result is one classification
type Result struct {
	Label      string
	Confidence float64
}

// Classifier labels a feature vector
type Classifier interface {
	Classify(ctx context.Context, v Vector) (Result, error)
}

// Func adapts a function to Classifier
type Func func(ctx context.Context, v Vector) (Result, error)

// Classify implements Classifier
func (f Func) Classify(ctx context.Context, v Vector) (Result, error) {
	return f(ctx, v)
}
