package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type predictRequest struct {
	Features []float64 `json:"features"`
	Names    []string  `json:"names"`
}

type predictResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// HTTPClassifier calls a remote model server
type HTTPClassifier struct {
	client *resty.Client
	path   string
}

// NewHTTPClassifier creates a client for baseURL. Predictions are POSTed
// to /predict.
func NewHTTPClassifier(baseURL string, timeout time.Duration) *HTTPClassifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPClassifier{
		client: client,
		path:   "/predict",
	}
}

// Classify implements Classifier
func (c *HTTPClassifier) Classify(ctx context.Context, v Vector) (Result, error) {
	x, err := v.Values()
	if err != nil {
		return Result{}, err
	}

	var out predictResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(predictRequest{Features: x, Names: FeatureNames[:]}).
		SetResult(&out).
		Post(c.path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call classifier: %w", err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("classifier returned status %d", resp.StatusCode())
	}
	if out.Label == "" {
		return Result{}, fmt.Errorf("classifier returned no label")
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Result{}, fmt.Errorf("classifier confidence %v out of range", out.Confidence)
	}

	return Result{Label: out.Label, Confidence: out.Confidence}, nil
}
