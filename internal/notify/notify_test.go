package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/metrics"
	"github.com/firewatch/flames/internal/protocol"
)

type capturedRequest struct {
	path string
	body map[string]any
}

func newWebhookServer(t *testing.T, status int, delay time.Duration) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, capturedRequest{path: r.URL.Path, body: body})
		mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
			}
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), got...)
	}
}

func readingEvent() *protocol.NewReadingEvent {
	temp := 52.3
	return &protocol.NewReadingEvent{
		NodeID:       "N1",
		GatewayID:    "GW1",
		Timestamp:    time.Date(2026, 2, 17, 11, 20, 26, 0, time.FixedZone("UTC+8", 8*60*60)),
		Temperature:  &temp,
		Flame:        1,
		Smoke:        920,
		RSSI:         -64,
		SNR:          10,
		AIPrediction: "fire",
		Confidence:   protocol.FormatConfidence(0.9825),
	}
}

func incidentEvent() *protocol.IncidentUpdateEvent {
	return &protocol.IncidentUpdateEvent{
		Type:         protocol.EventIncidentUpdate,
		Transition:   "create",
		IncidentID:   7,
		Status:       "active",
		NodeID:       "N1",
		GatewayID:    "GW1",
		AIPrediction: "fire",
		Confidence:   0.9825,
	}
}

func newTestMetrics() *metrics.WorkerMetrics {
	return metrics.NewWorkerMetrics(prometheus.NewRegistry())
}

func TestWebhookSink_Paths(t *testing.T) {
	srv, requests := newWebhookServer(t, http.StatusOK, 0)
	f := NewFanout(time.Second, newTestMetrics(), zap.NewNop(), NewWebhookSink(srv.URL))

	f.NewReading(context.Background(), readingEvent())
	f.IncidentUpdate(context.Background(), incidentEvent())

	got := requests()
	require.Len(t, got, 2)

	assert.Equal(t, "/notify-new-data", got[0].path)
	assert.Equal(t, "N1", got[0].body["node_id"])
	assert.Equal(t, "98.25%", got[0].body["confidence"])
	assert.Equal(t, "2026-02-17T11:20:26+08:00", got[0].body["timestamp"])
	assert.Nil(t, got[0].body["humidity"])

	assert.Equal(t, "/notify-incident", got[1].path)
	assert.Equal(t, "incident_update", got[1].body["type"])
	assert.Equal(t, 0.9825, got[1].body["confidence"])
}

func TestFanout_FailureIsLoggedAndCounted(t *testing.T) {
	srv, _ := newWebhookServer(t, http.StatusBadGateway, 0)
	m := newTestMetrics()
	f := NewFanout(time.Second, m, zap.NewNop(), NewWebhookSink(srv.URL))

	f.NewReading(context.Background(), readingEvent())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotifyFailures.WithLabelValues(protocol.EventNewReading, "webhook")))
}

func TestFanout_TimeoutBoundsDelivery(t *testing.T) {
	srv, _ := newWebhookServer(t, http.StatusOK, 2*time.Second)
	m := newTestMetrics()
	f := NewFanout(50*time.Millisecond, m, zap.NewNop(), NewWebhookSink(srv.URL))

	start := time.Now()
	f.NewReading(context.Background(), readingEvent())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotifyFailures.WithLabelValues(protocol.EventNewReading, "webhook")))
}

func TestFanout_UnreachableEndpoint(t *testing.T) {
	m := newTestMetrics()
	f := NewFanout(200*time.Millisecond, m, zap.NewNop(), NewWebhookSink("http://127.0.0.1:1"))

	f.IncidentUpdate(context.Background(), incidentEvent())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotifyFailures.WithLabelValues(protocol.EventIncidentUpdate, "webhook")))
}

type recordingPublisher struct {
	keys   []string
	values [][]byte
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, value []byte) error {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return p.err
}

func TestKafkaSink_IncidentsOnly(t *testing.T) {
	pub := &recordingPublisher{}
	f := NewFanout(time.Second, newTestMetrics(), zap.NewNop(), NewKafkaSink(pub))

	f.NewReading(context.Background(), readingEvent())
	f.IncidentUpdate(context.Background(), incidentEvent())

	require.Len(t, pub.values, 1)
	assert.Equal(t, "N1", pub.keys[0])

	var got protocol.IncidentUpdateEvent
	require.NoError(t, json.Unmarshal(pub.values[0], &got))
	assert.Equal(t, int64(7), got.IncidentID)
	assert.Equal(t, "create", got.Transition)
}

func TestFanout_OneSinkFailureDoesNotBlockOthers(t *testing.T) {
	srv, requests := newWebhookServer(t, http.StatusOK, 0)
	pub := &recordingPublisher{err: errors.New("leader not available")}
	m := newTestMetrics()
	f := NewFanout(time.Second, m, zap.NewNop(), NewKafkaSink(pub), NewWebhookSink(srv.URL))

	f.IncidentUpdate(context.Background(), incidentEvent())

	assert.Len(t, requests(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotifyFailures.WithLabelValues(protocol.EventIncidentUpdate, "kafka")))
}
