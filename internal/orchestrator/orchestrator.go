// Package orchestrator implements the runtime orchestrator (spec §4.1): a
// component lifecycle manager that brings subsystems up in dependency
// order, supervises their health, and routes inter-component events.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/zhtp-core/internal/events"
	"github.com/luxfi/zhtp-core/internal/zlog"
)

// Status is a component's lifecycle state (spec §4.1 state machine).
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Component is anything the orchestrator can bring up, probe, and tear
// down. ForceStop is the fallback invoked when Stop exceeds its budget
// (spec §4.1 Graceful shutdown).
type Component interface {
	ID() events.ComponentID
	Dependencies() []events.ComponentID
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ForceStop(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Metrics() map[string]float64
	// HandleEvent is delivered events addressed to this component or
	// broadcast on the bus. Implementations should not block.
	HandleEvent(ev events.Event)
}

type health struct {
	status     Status
	errorCount int
	lastError  string
}

type entry struct {
	component Component
	health    health
}

// Orchestrator owns the component map exclusively; components only ever see
// it through the Bus and their own Start/Stop/HealthCheck calls (spec §3
// "Ownership").
type Orchestrator struct {
	mu         sync.RWMutex
	components map[events.ComponentID]*entry
	order      []events.ComponentID // declared dependency order, leaves first

	bus *events.Bus
	log zlog.Logger

	healthInterval time.Duration
	startDelay     time.Duration
	shutdownBudget time.Duration
	stopBudget     time.Duration
	forceStopBudget time.Duration

	stopHealthLoop chan struct{}
	healthLoopDone chan struct{}
}

// Config bundles the orchestrator's own timing knobs, drawn from NodeConfig.
type Config struct {
	HealthCheckInterval     time.Duration
	ComponentStartDelay     time.Duration
	ShutdownBudget          time.Duration
	ComponentStopBudget     time.Duration
	ComponentForceStopBudget time.Duration
}

// New creates an empty orchestrator.
func New(cfg Config, log zlog.Logger) *Orchestrator {
	if log == nil {
		log = zlog.NewNoOp()
	}
	return &Orchestrator{
		components:      make(map[events.ComponentID]*entry),
		bus:             events.NewBus(),
		log:             log,
		healthInterval:  cfg.HealthCheckInterval,
		startDelay:      cfg.ComponentStartDelay,
		shutdownBudget:  cfg.ShutdownBudget,
		stopBudget:      cfg.ComponentStopBudget,
		forceStopBudget: cfg.ComponentForceStopBudget,
	}
}

// Bus exposes the shared inter-component event bus.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// RegisterComponent adds c to the component map. Idempotent: registering
// the same ID twice is a refused duplicate, not an overwrite.
func (o *Orchestrator) RegisterComponent(c Component) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := c.ID()
	if _, exists := o.components[id]; exists {
		return fmt.Errorf("component %q already registered", id)
	}
	o.components[id] = &entry{component: c, health: health{status: StatusStopped}}
	o.order = append(o.order, id)
	o.bus.Subscribe(id)
	return nil
}

func (o *Orchestrator) get(id events.ComponentID) (*entry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.components[id]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", id)
	}
	return e, nil
}

func (o *Orchestrator) setStatus(id events.ComponentID, s Status, errMsg string) {
	o.mu.Lock()
	e, ok := o.components[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	prev := e.health.status
	e.health.status = s
	if s == StatusError {
		e.health.errorCount++
		e.health.lastError = errMsg
	}
	o.mu.Unlock()

	if prev != s {
		o.log.Info("component status transition", "component", id, "from", prev.String(), "to", s.String())
	}
}

// StartComponent starts a single component, running its declared
// dependencies are NOT started transitively here — StartAllComponents is
// responsible for ordering; StartComponent just drives the state machine
// for one component.
func (o *Orchestrator) StartComponent(ctx context.Context, id events.ComponentID) error {
	e, err := o.get(id)
	if err != nil {
		return err
	}
	o.setStatus(id, StatusStarting, "")
	if err := e.component.Start(ctx); err != nil {
		o.setStatus(id, StatusError, err.Error())
		return fmt.Errorf("start component %q: %w", id, err)
	}
	o.setStatus(id, StatusRunning, "")
	return nil
}

// StopComponent stops a component under the configured stop budget,
// invoking ForceStop if that budget is exceeded (spec §5 Cancellation).
func (o *Orchestrator) StopComponent(ctx context.Context, id events.ComponentID) error {
	e, err := o.get(id)
	if err != nil {
		return err
	}
	o.setStatus(id, StatusStopping, "")

	stopCtx, cancel := context.WithTimeout(ctx, o.stopBudget)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.component.Stop(stopCtx) }()

	select {
	case err := <-done:
		if err != nil {
			o.setStatus(id, StatusError, err.Error())
			return fmt.Errorf("stop component %q: %w", id, err)
		}
		o.setStatus(id, StatusStopped, "")
		return nil
	case <-stopCtx.Done():
		o.log.Warn("component stop exceeded budget, invoking force stop", "component", id, "budget", o.stopBudget)
		forceCtx, forceCancel := context.WithTimeout(ctx, o.forceStopBudget)
		defer forceCancel()
		if err := e.component.ForceStop(forceCtx); err != nil {
			o.setStatus(id, StatusError, err.Error())
			return fmt.Errorf("force stop component %q: %w", id, err)
		}
		o.setStatus(id, StatusStopped, "")
		return nil
	}
}

// RestartComponent stops then starts a component.
func (o *Orchestrator) RestartComponent(ctx context.Context, id events.ComponentID) error {
	if err := o.StopComponent(ctx, id); err != nil {
		return err
	}
	return o.StartComponent(ctx, id)
}

// StartAllComponents starts every registered component strictly in
// declared dependency order, pausing startDelay between each to let each
// level settle (spec §4.1).
func (o *Orchestrator) StartAllComponents(ctx context.Context) error {
	o.mu.RLock()
	order := append([]events.ComponentID{}, o.order...)
	o.mu.RUnlock()

	for i, id := range order {
		if err := o.StartComponent(ctx, id); err != nil {
			return err
		}
		if i < len(order)-1 {
			select {
			case <-time.After(o.startDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// ShutdownAllComponents stops every component in reverse dependency order
// under a total shutdown budget; on timeout remaining components are
// simply marked Stopped so shutdown always completes (spec §4.1).
func (o *Orchestrator) ShutdownAllComponents(ctx context.Context) error {
	o.mu.RLock()
	order := append([]events.ComponentID{}, o.order...)
	o.mu.RUnlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, o.shutdownBudget)
	defer cancel()

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		select {
		case <-shutdownCtx.Done():
			o.log.Warn("shutdown budget exceeded, marking remaining components stopped", "component", id)
			o.setStatus(id, StatusStopped, "")
			continue
		default:
		}
		if err := o.StopComponent(shutdownCtx, id); err != nil {
			o.log.Error("error stopping component during shutdown", "component", id, "error", err)
		}
	}
	return nil
}

// SendMessage delivers an event to a single component via the bus.
func (o *Orchestrator) SendMessage(id events.ComponentID, ev events.Event) bool {
	return o.bus.Send(id, ev)
}

// BroadcastMessage fans an event out to every component.
func (o *Orchestrator) BroadcastMessage(ev events.Event) {
	o.bus.Broadcast(ev)
}

// SystemMetrics aggregates every component's metrics under a
// "component_<id>_" prefix and adds orchestrator-level totals.
func (o *Orchestrator) SystemMetrics() map[string]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]float64)
	running, errored := 0, 0
	for id, e := range o.components {
		prefix := fmt.Sprintf("component_%s_", id)
		for k, v := range e.component.Metrics() {
			out[prefix+k] = v
		}
		switch e.health.status {
		case StatusRunning:
			running++
		case StatusError:
			errored++
		}
	}
	out["orchestrator_running_count"] = float64(running)
	out["orchestrator_error_count"] = float64(errored)
	out["orchestrator_component_count"] = float64(len(o.components))
	return out
}

// Status returns the current lifecycle status of a component.
func (o *Orchestrator) Status(id events.ComponentID) (Status, error) {
	e, err := o.get(id)
	if err != nil {
		return StatusStopped, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return e.health.status, nil
}

// StartHealthLoop launches the periodic health-check loop (spec §4.1
// "Health loop"). Call StopHealthLoop to stop it.
func (o *Orchestrator) StartHealthLoop(ctx context.Context) {
	o.mu.Lock()
	if o.stopHealthLoop != nil {
		o.mu.Unlock()
		return // already running
	}
	o.stopHealthLoop = make(chan struct{})
	o.healthLoopDone = make(chan struct{})
	stop := o.stopHealthLoop
	done := o.healthLoopDone
	o.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(o.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				o.runHealthPass(ctx)
			}
		}
	}()
}

// StopHealthLoop stops a running health loop and waits for it to exit.
func (o *Orchestrator) StopHealthLoop() {
	o.mu.Lock()
	stop := o.stopHealthLoop
	done := o.healthLoopDone
	o.stopHealthLoop = nil
	o.healthLoopDone = nil
	o.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (o *Orchestrator) runHealthPass(ctx context.Context) {
	o.mu.RLock()
	ids := make([]events.ComponentID, 0, len(o.components))
	for id := range o.components {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	for _, id := range ids {
		e, err := o.get(id)
		if err != nil {
			continue
		}
		o.mu.RLock()
		wasError := e.health.status == StatusError
		o.mu.RUnlock()

		probeCtx, cancel := context.WithTimeout(ctx, o.healthInterval)
		err = e.component.HealthCheck(probeCtx)
		cancel()

		if err != nil {
			o.setStatus(id, StatusError, err.Error())
			o.bus.Broadcast(events.Event{Kind: events.KindHealthCheckFailed, Source: id, Payload: err.Error()})
			continue
		}
		if wasError {
			o.setStatus(id, StatusRunning, "")
			o.bus.Broadcast(events.Event{Kind: events.KindHealthCheckRestore, Source: id})
		}
	}
}
