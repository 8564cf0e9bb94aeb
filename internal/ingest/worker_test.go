package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/classifier"
	"github.com/firewatch/flames/internal/database"
	"github.com/firewatch/flames/internal/incident"
	"github.com/firewatch/flames/internal/lock"
	"github.com/firewatch/flames/internal/metrics"
	"github.com/firewatch/flames/internal/protocol"
	"github.com/firewatch/flames/internal/queue"
)

var manila = time.FixedZone("UTC+8", 8*60*60)

type recordingNotifier struct {
	mu        sync.Mutex
	readings  []*protocol.NewReadingEvent
	incidents []*protocol.IncidentUpdateEvent
}

func (n *recordingNotifier) NewReading(ctx context.Context, ev *protocol.NewReadingEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readings = append(n.readings, ev)
}

func (n *recordingNotifier) IncidentUpdate(ctx context.Context, ev *protocol.IncidentUpdateEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incidents = append(n.incidents, ev)
}

func (n *recordingNotifier) transitions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.incidents {
		out = append(out, ev.Transition)
	}
	return out
}

// labelByTemp lets each test choose the classification through the payload
func labelByTemp(ctx context.Context, v classifier.Vector) (classifier.Result, error) {
	values, err := v.Values()
	if err != nil {
		return classifier.Result{}, err
	}
	if values[1] >= 50 {
		return classifier.Result{Label: "fire", Confidence: 0.9825}, nil
	}
	return classifier.Result{Label: "normal", Confidence: 0.91}, nil
}

type testEnv struct {
	worker   *Worker
	store    *database.Memory
	notifier *recordingNotifier
	metrics  *metrics.WorkerMetrics
}

func setupWorker(t *testing.T, cls classifier.Classifier) *testEnv {
	t.Helper()
	store := database.NewMemory()
	notifier := &recordingNotifier{}
	m := metrics.NewWorkerMetrics(prometheus.NewRegistry())

	w := NewWorker(
		store,
		cls,
		incident.NewTracker(incident.Policy{}, zap.NewNop()),
		lock.NewKeyedMutex(),
		notifier,
		m,
		manila,
		zap.NewNop(),
	)
	return &testEnv{worker: w, store: store, notifier: notifier, metrics: m}
}

func envelope(gateway, node string, temp float64) []byte {
	return []byte(fmt.Sprintf(`{"gateway":%q,"rssi":-64,"snr":10,"received_at":"2026-02-17T11:20:26+08:00",`+
		`"payload":{"node":%q,"temp":%v,"hum":25,"flame":1,"smoke":920,"lat":14.6,"lon":121.0}}`, gateway, node, temp))
}

const (
	fireTemp   = 52.3
	normalTemp = 24.0
)

func TestHandle_FireFireNormal(t *testing.T) {
	env := setupWorker(t, classifier.Func(labelByTemp))
	ctx := context.Background()

	require.NoError(t, env.worker.Handle(ctx, envelope("GW1", "N1", fireTemp)))
	first := env.store.Incidents()
	require.Len(t, first, 1)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, env.worker.Handle(ctx, envelope("GW1", "N1", fireTemp)))
	second := env.store.Incidents()
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.True(t, second[0].LastUpdatedAt.After(first[0].LastUpdatedAt))
	assert.Equal(t, first[0].StartedAt, second[0].StartedAt)

	require.NoError(t, env.worker.Handle(ctx, envelope("GW1", "N1", normalTemp)))
	final := env.store.Incidents()
	require.Len(t, final, 1)
	assert.Equal(t, database.IncidentStatusResolved, final[0].Status)
	assert.NotNil(t, final[0].ResolvedAt)

	assert.Len(t, env.store.Readings(), 3)
	assert.Equal(t, []string{"create", "update", "resolve"}, env.notifier.transitions())
}

func TestHandle_NotificationGating(t *testing.T) {
	env := setupWorker(t, classifier.Func(labelByTemp))
	ctx := context.Background()

	for _, temp := range []float64{fireTemp, fireTemp, fireTemp, normalTemp, normalTemp, normalTemp} {
		require.NoError(t, env.worker.Handle(ctx, envelope("GW1", "N1", temp)))
	}

	assert.Len(t, env.notifier.readings, 6)
	assert.Equal(t, []string{"create", "update", "update", "resolve"}, env.notifier.transitions())

	ev := env.notifier.incidents[0]
	assert.Equal(t, protocol.EventIncidentUpdate, ev.Type)
	assert.Equal(t, "N1", ev.NodeID)
	assert.Equal(t, "GW1", ev.GatewayID)
	assert.Equal(t, "fire", ev.AIPrediction)
	assert.Equal(t, 0.9825, ev.Confidence)
	require.NotNil(t, ev.Latitude)
	assert.Equal(t, 14.6, *ev.Latitude)
}

func TestHandle_ReadingFields(t *testing.T) {
	env := setupWorker(t, classifier.Func(labelByTemp))

	require.NoError(t, env.worker.Handle(context.Background(), envelope("GW1", "N1", fireTemp)))

	readings := env.store.Readings()
	require.Len(t, readings, 1)
	r := readings[0]
	assert.Equal(t, "N1", r.NodeID)
	assert.Equal(t, "GW1", r.GatewayID)
	assert.Equal(t, -64, r.RSSI)
	assert.Equal(t, 10.0, r.SNR)
	assert.Equal(t, 920, r.Smoke)
	assert.Equal(t, 1, r.Flame)
	assert.Equal(t, "fire", r.AIPrediction)
	assert.True(t, r.Timestamp.Equal(time.Date(2026, 2, 17, 3, 20, 26, 0, time.UTC)))
	assert.Equal(t, 11, r.LocalTimestamp.Hour())
	assert.Equal(t, manila, r.LocalTimestamp.Location())

	ev := env.notifier.readings[0]
	assert.Equal(t, "98.25%", ev.Confidence)
	_, offset := ev.Timestamp.Zone()
	assert.Equal(t, 8*60*60, offset)
}

func TestHandle_FeatureOrder(t *testing.T) {
	var got []float64
	env := setupWorker(t, classifier.Func(func(ctx context.Context, v classifier.Vector) (classifier.Result, error) {
		var err error
		got, err = v.Values()
		return classifier.Result{Label: "normal", Confidence: 0.5}, err
	}))

	payload := []byte(`{"gateway":"GW1","rssi":-70,"snr":7.5,"received_at":"2026-02-17T11:20:26+08:00",` +
		`"payload":{"node":"N1","smoke":920,"temp":52.3,"flame":1,"hum":25}}`)
	require.NoError(t, env.worker.Handle(context.Background(), payload))

	assert.Equal(t, []float64{920, 52.3, 1, 25}, got)
}

func TestHandle_LooselyTypedPayload(t *testing.T) {
	var got []float64
	env := setupWorker(t, classifier.Func(func(ctx context.Context, v classifier.Vector) (classifier.Result, error) {
		var err error
		got, err = v.Values()
		return classifier.Result{Label: "normal", Confidence: 0.5}, err
	}))

	payload := []byte(`{"gateway":"GW1","rssi":-70,"snr":7.5,"received_at":"2026-02-17T11:20:26+08:00",` +
		`"payload":{"node":"N1","smoke":920.0,"temp":"52.3","flame":true,"hum":25,"batt":3.7}}`)
	require.NoError(t, env.worker.Handle(context.Background(), payload))

	assert.Equal(t, []float64{920, 52.3, 1, 25}, got)
	readings := env.store.Readings()
	require.Len(t, readings, 1)
	assert.Equal(t, 920, readings[0].Smoke)
	assert.Equal(t, 1, readings[0].Flame)
}

func TestHandle_AutoProvisionOnce(t *testing.T) {
	env := setupWorker(t, classifier.Func(labelByTemp))
	ctx := context.Background()

	require.NoError(t, env.worker.Handle(ctx, envelope("GW-NEW", "N1", normalTemp)))
	require.NoError(t, env.worker.Handle(ctx, envelope("GW-NEW", "N2", normalTemp)))

	gws := env.store.Gateways()
	require.Len(t, gws, 1)
	assert.Equal(t, "GW-NEW", gws[0].GatewayID)
	assert.Nil(t, gws[0].OrganizationID)
	assert.Equal(t, database.GatewayStatusProvisional, gws[0].Status)
	assert.NotEmpty(t, gws[0].Description)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.GatewaysCreated))
}

func TestHandle_InvalidEnvelopesDropped(t *testing.T) {
	env := setupWorker(t, classifier.Func(labelByTemp))

	payloads := map[string]string{
		"not_json":        `ACK:N1`,
		"missing_gateway": `{"rssi":-64,"payload":{"node":"N1","temp":30,"hum":20}}`,
		"missing_node":    `{"gateway":"GW1","payload":{"temp":30,"hum":20}}`,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			err := env.worker.Handle(context.Background(), []byte(payload))
			assert.Error(t, err)
		})
	}

	assert.Empty(t, env.store.Gateways())
	assert.Empty(t, env.store.Readings())
	assert.Empty(t, env.notifier.readings)
}

func TestHandle_ClassifierFailureDropsMessage(t *testing.T) {
	calls := 0
	env := setupWorker(t, classifier.Func(func(ctx context.Context, v classifier.Vector) (classifier.Result, error) {
		calls++
		if calls == 1 {
			return classifier.Result{}, errors.New("model unavailable")
		}
		return labelByTemp(ctx, v)
	}))
	ctx := context.Background()

	assert.Error(t, env.worker.Handle(ctx, envelope("GW1", "N1", fireTemp)))
	assert.Empty(t, env.store.Readings())
	assert.Empty(t, env.notifier.readings)

	// the next message is processed normally
	require.NoError(t, env.worker.Handle(ctx, envelope("GW1", "N1", fireTemp)))
	assert.Len(t, env.store.Readings(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Failed.WithLabelValues("classify")))
}

func TestHandle_MissingTemperatureIsClassifierFailure(t *testing.T) {
	m, err := classifier.ParseLinearModel([]byte(`{"classes":["normal","fire"],"mean":[0,0,0,0],"scale":[1,1,1,1],"weights":[[1,1,1,1]],"bias":[0]}`))
	require.NoError(t, err)
	env := setupWorker(t, m)

	payload := []byte(`{"gateway":"GW1","rssi":-64,"snr":10,"received_at":"2026-02-17T11:20:26+08:00","payload":{"node":"N1","hum":25}}`)
	assert.ErrorIs(t, env.worker.Handle(context.Background(), payload), classifier.ErrMissingFeature)
	assert.Empty(t, env.store.Readings())
}

// failingStore fails incident creation after the reading insert succeeded
type failingStore struct {
	*database.Memory
	err error
}

func (s *failingStore) WithTx(ctx context.Context, fn func(database.Tx) error) error {
	return s.Memory.WithTx(ctx, func(tx database.Tx) error {
		return fn(&failingTx{Tx: tx, err: s.err})
	})
}

type failingTx struct {
	database.Tx
	err error
}

func (tx *failingTx) CreateIncident(ctx context.Context, inc *database.Incident) (int64, error) {
	return 0, tx.err
}

func TestHandle_PersistenceFailureRollsBack(t *testing.T) {
	env := setupWorker(t, classifier.Func(labelByTemp))
	mem := env.store
	env.worker.store = &failingStore{Memory: mem, err: errors.New("connection reset")}

	err := env.worker.Handle(context.Background(), envelope("GW1", "N1", fireTemp))
	assert.Error(t, err)

	assert.Empty(t, mem.Readings(), "reading insert must be rolled back")
	assert.Empty(t, mem.Incidents())
	assert.Empty(t, env.notifier.readings)
	assert.Empty(t, env.notifier.incidents)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Failed.WithLabelValues("persist")))
}

func TestHandle_ConcurrentSameNode(t *testing.T) {
	env := setupWorker(t, classifier.Func(labelByTemp))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- env.worker.Handle(ctx, envelope("GW1", "N1", fireTemp))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	active := 0
	for _, inc := range env.store.Incidents() {
		if inc.IsActive() {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Len(t, env.store.Incidents(), 1)
	assert.Len(t, env.store.Readings(), 20)

	transitions := env.notifier.transitions()
	require.Len(t, transitions, 20)
	creates := 0
	for _, tr := range transitions {
		if tr == "create" {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
}

type sliceSource struct {
	payloads [][]byte
}

func (s *sliceSource) Serve(ctx context.Context, handler queue.MessageHandler) error {
	for _, p := range s.payloads {
		if err := handler(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func TestRun_ContinuesPastBadMessages(t *testing.T) {
	env := setupWorker(t, classifier.Func(labelByTemp))

	src := &sliceSource{payloads: [][]byte{
		[]byte(`garbage`),
		envelope("GW1", "N1", fireTemp),
		[]byte(`{"gateway":"GW1","payload":{}}`),
		envelope("GW1", "N2", normalTemp),
	}}

	require.NoError(t, env.worker.Run(context.Background(), src))
	assert.Len(t, env.store.Readings(), 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.Processed))
}
