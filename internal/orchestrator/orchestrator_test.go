package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/events"
)

type fakeComponent struct {
	id        events.ComponentID
	deps      []events.ComponentID
	startErr  error
	healthErr error
	stopDelay time.Duration
	started   *[]events.ComponentID
	stopped   *[]events.ComponentID
	starts    atomic.Int32
	stops     atomic.Int32
	forced    atomic.Int32
}

func (f *fakeComponent) ID() events.ComponentID                  { return f.id }
func (f *fakeComponent) Dependencies() []events.ComponentID      { return f.deps }

func (f *fakeComponent) Start(ctx context.Context) error {
	if f.started != nil {
		*f.started = append(*f.started, f.id)
	}
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	time.Sleep(f.stopDelay)
	if f.stopped != nil {
		*f.stopped = append(*f.stopped, f.id)
	}
	f.stops.Add(1)
	return nil
}

func (f *fakeComponent) ForceStop(ctx context.Context) error     { f.forced.Add(1); return nil }
func (f *fakeComponent) HealthCheck(ctx context.Context) error   { return f.healthErr }
func (f *fakeComponent) Metrics() map[string]float64             { return map[string]float64{"calls": 1} }
func (f *fakeComponent) HandleEvent(ev events.Event)             {}

func testConfig() Config {
	return Config{
		HealthCheckInterval:      20 * time.Millisecond,
		ComponentStartDelay:      1 * time.Millisecond,
		ShutdownBudget:           200 * time.Millisecond,
		ComponentStopBudget:      50 * time.Millisecond,
		ComponentForceStopBudget: 50 * time.Millisecond,
	}
}

func TestRegisterComponentRefusesDuplicates(t *testing.T) {
	o := New(testConfig(), nil)
	c := &fakeComponent{id: "crypto"}
	require.NoError(t, o.RegisterComponent(c))
	require.Error(t, o.RegisterComponent(c))
}

func TestStartAllComponentsRunsInDeclaredOrder(t *testing.T) {
	o := New(testConfig(), nil)
	var startedOrder []events.ComponentID

	mk := func(id events.ComponentID) *fakeComponent { return &fakeComponent{id: id, started: &startedOrder} }
	crypto := mk("crypto")
	net := mk("network")
	identity := mk("identity")

	for _, c := range []*fakeComponent{crypto, net, identity} {
		require.NoError(t, o.RegisterComponent(c))
	}

	require.NoError(t, o.StartAllComponents(context.Background()))

	for _, c := range []*fakeComponent{crypto, net, identity} {
		require.Equal(t, int32(1), c.starts.Load())
		status, err := o.Status(c.id)
		require.NoError(t, err)
		require.Equal(t, StatusRunning, status)
	}
	require.Equal(t, []events.ComponentID{"crypto", "network", "identity"}, startedOrder)
}

func TestStopComponentForceStopsOnTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ComponentStopBudget = 5 * time.Millisecond
	o := New(cfg, nil)

	c := &fakeComponent{id: "slow", stopDelay: 50 * time.Millisecond}
	require.NoError(t, o.RegisterComponent(c))
	require.NoError(t, o.StartComponent(context.Background(), c.id))

	// Stop sleeps past the 5ms stop budget, so StopComponent falls back to
	// ForceStop.
	require.NoError(t, o.StopComponent(context.Background(), c.id))
	require.Equal(t, int32(1), c.forced.Load())

	status, err := o.Status(c.id)
	require.NoError(t, err)
	require.Equal(t, StatusStopped, status)
}

func TestShutdownAllComponentsReverseOrder(t *testing.T) {
	o := New(testConfig(), nil)
	var stoppedOrder []events.ComponentID
	a := &fakeComponent{id: "a", stopped: &stoppedOrder}
	b := &fakeComponent{id: "b", stopped: &stoppedOrder}
	require.NoError(t, o.RegisterComponent(a))
	require.NoError(t, o.RegisterComponent(b))
	require.NoError(t, o.StartAllComponents(context.Background()))
	require.NoError(t, o.ShutdownAllComponents(context.Background()))

	require.Equal(t, int32(1), a.stops.Load())
	require.Equal(t, int32(1), b.stops.Load())
	require.Equal(t, []events.ComponentID{"b", "a"}, stoppedOrder)
}

func TestHealthLoopFlipsStatusOnFailure(t *testing.T) {
	cfg := testConfig()
	o := New(cfg, nil)
	c := &fakeComponent{id: "flaky"}
	require.NoError(t, o.RegisterComponent(c))
	require.NoError(t, o.StartComponent(context.Background(), c.id))

	c.healthErr = context.DeadlineExceeded
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.StartHealthLoop(ctx)
	defer o.StopHealthLoop()

	require.Eventually(t, func() bool {
		status, _ := o.Status(c.id)
		return status == StatusError
	}, time.Second, 5*time.Millisecond)

	c.healthErr = nil
	require.Eventually(t, func() bool {
		status, _ := o.Status(c.id)
		return status == StatusRunning
	}, time.Second, 5*time.Millisecond)
}

func TestSystemMetricsAggregatesPerComponent(t *testing.T) {
	o := New(testConfig(), nil)
	c := &fakeComponent{id: "mesh"}
	require.NoError(t, o.RegisterComponent(c))
	m := o.SystemMetrics()
	require.Equal(t, float64(1), m["component_mesh_calls"])
	require.Contains(t, m, "orchestrator_component_count")
}
