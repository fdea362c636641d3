// Package telemetry exposes per-component metrics (spec §4.1: the
// orchestrator's Metrics() map on every registered component) as
// Prometheus gauges, following the registerer/registry split the
// teacher's metrics package uses.
package telemetry

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/zhtp-core/internal/events"
)

// Registry is a prometheus.Registerer that is also a prometheus.Gatherer;
// production callers pass prometheus.NewRegistry(), tests can pass a
// throwaway one.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry creates a fresh, empty metrics registry.
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// ComponentGauges lazily registers and updates one gauge per metric name
// a component reports, namespaced by component ID so two components can
// both report e.g. "entries" without colliding.
type ComponentGauges struct {
	mu       sync.Mutex
	registry Registry
	gauges   map[events.ComponentID]map[string]prometheus.Gauge
}

// NewComponentGauges builds a gauge set backed by registry.
func NewComponentGauges(registry Registry) *ComponentGauges {
	return &ComponentGauges{
		registry: registry,
		gauges:   make(map[events.ComponentID]map[string]prometheus.Gauge),
	}
}

// Report updates (registering on first sight) a gauge for every
// key/value pair in metrics, namespaced under "zhtpnode_<component>".
func (c *ComponentGauges) Report(component events.ComponentID, metrics map[string]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byName, ok := c.gauges[component]
	if !ok {
		byName = make(map[string]prometheus.Gauge)
		c.gauges[component] = byName
	}

	for name, value := range metrics {
		g, ok := byName[name]
		if !ok {
			g = prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zhtpnode",
				Subsystem: string(component),
				Name:      name,
				Help:      fmt.Sprintf("%s metric reported by the %s component", name, component),
			})
			if err := c.registry.Register(g); err != nil {
				return fmt.Errorf("telemetry: register gauge %s/%s: %w", component, name, err)
			}
			byName[name] = g
		}
		g.Set(value)
	}
	return nil
}
