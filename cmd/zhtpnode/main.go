// Command zhtpnode hosts one node of the mesh: it loads configuration,
// builds the identity, DHT, mesh, chainstate, and consensus components,
// registers the DHT and mesh with the runtime orchestrator, and runs until
// signaled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/luxfi/zhtp-core/internal/chainstate"
	"github.com/luxfi/zhtp-core/internal/config"
	"github.com/luxfi/zhtp-core/internal/consensus"
	"github.com/luxfi/zhtp-core/internal/dht"
	"github.com/luxfi/zhtp-core/internal/discovery"
	"github.com/luxfi/zhtp-core/internal/events"
	"github.com/luxfi/zhtp-core/internal/identity"
	"github.com/luxfi/zhtp-core/internal/mesh"
	"github.com/luxfi/zhtp-core/internal/orchestrator"
	"github.com/luxfi/zhtp-core/internal/peerregistry"
	"github.com/luxfi/zhtp-core/internal/protocols"
	"github.com/luxfi/zhtp-core/internal/storage"
	"github.com/luxfi/zhtp-core/internal/telemetry"
	"github.com/luxfi/zhtp-core/internal/zkverify"
	"github.com/luxfi/zhtp-core/internal/zlog"
	"github.com/luxfi/zhtp-core/pkg/envelope"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zhtpnode:", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := zlog.New()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg, log); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	idMgr, err := identity.New("did:zhtp:node", "local-device", nil)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	self := idMgr.NodeID()
	log.Info("node identity created", "node_id", self.String())

	maxStorageBytes := uint64(cfg.MaxStorageGB * float64(1<<30))
	store := dht.New(self, maxStorageBytes, dht.WithLogger(log))

	checkpointPath := filepath.Join(cfg.StorageDir, "chainstate.cbor")
	chain := chainstate.New()
	if loaded, err := storage.Load(checkpointPath); err == nil {
		chain = loaded.State
		log.Info("restored chainstate checkpoint", "height", chain.Height())
	} else {
		log.Info("starting from genesis chainstate", "reason", err.Error())
	}
	engine := consensus.NewEngine(chain)
	verifier := zkverify.New(noopInnerVerifier{}, chain, zkverify.WithLogger(log), zkverify.WithLocalNode(self))
	_ = verifier

	bus := events.NewBus()
	meshServer := mesh.New(mesh.Config{
		Self:                 self,
		RequestedProtocols:   requestedProtocols(cfg.RequestedProtocols),
		DetectedCapabilities: []peerregistry.Transport{peerregistry.TransportBLE, peerregistry.TransportQUIC},
		Hardware:             detectedHardware{},
		Content:              dhtContentResolver{store: store},
		Sender:               noopSender{},
		Log:                  log,
		Bus:                  bus,
	}, routingAdapter{store: store})

	protocols.Register(meshServer.Handlers(), protocols.Deps{
		Chain:    chain,
		Consensus: engine,
		Store:    store,
		Registry: meshServer.Registry(),
		Log:      log,
	})

	orch := orchestrator.New(orchestrator.Config{
		HealthCheckInterval:      cfg.HealthCheckInterval,
		ComponentStartDelay:      cfg.ComponentStartDelay,
		ShutdownBudget:           cfg.ShutdownBudget,
		ComponentStopBudget:      cfg.ComponentStopBudget,
		ComponentForceStopBudget: cfg.ComponentForceStopBudget,
	}, log)

	if err := orch.RegisterComponent(newDHTComponent(store)); err != nil {
		return err
	}
	if err := orch.RegisterComponent(newMeshComponent(meshServer)); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.StartAllComponents(ctx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	orch.StartHealthLoop(ctx)

	advertiser, err := discovery.Advertise(self, cfg.MeshPort)
	if err != nil {
		log.Warn("mdns advertisement unavailable", "error", err.Error())
	} else {
		defer advertiser.Shutdown()
	}

	registry := telemetry.NewRegistry()
	gauges := telemetry.NewComponentGauges(registry)
	go runTelemetryLoop(ctx, orch, gauges, log)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownBudget)
	defer shutdownCancel()
	orch.StopHealthLoop()
	if err := orch.ShutdownAllComponents(shutdownCtx); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	if err := storage.Save(checkpointPath, chain, chain.ActiveValidators()); err != nil {
		return fmt.Errorf("save chainstate checkpoint: %w", err)
	}
	return nil
}

// runTelemetryLoop polls the orchestrator's aggregated system metrics
// and reports them as Prometheus gauges until ctx is canceled.
func runTelemetryLoop(ctx context.Context, orch *orchestrator.Orchestrator, gauges *telemetry.ComponentGauges, log zlog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := gauges.Report(events.ComponentID("system"), orch.SystemMetrics()); err != nil {
				log.Warn("telemetry report failed", "error", err.Error())
			}
		}
	}
}

func requestedProtocols(names []string) []peerregistry.Transport {
	out := make([]peerregistry.Transport, 0, len(names))
	for _, n := range names {
		out = append(out, peerregistry.Transport(n))
	}
	if len(out) == 0 {
		return []peerregistry.Transport{peerregistry.TransportBLE, peerregistry.TransportQUIC}
	}
	return out
}

// routingAdapter exposes the DHT's Kademlia routing table as mesh's
// Closest collaborator.
type routingAdapter struct {
	store *dht.Store
}

func (r routingAdapter) Closest(target identity.NodeID, k int) []identity.NodeID {
	return r.store.Closest(target, k)
}

// detectedHardware reports Bluetooth and WiFi-Direct as present and LoRa
// and satellite as absent; a real host wires this to its actual platform
// capability probe.
type detectedHardware struct{}

func (detectedHardware) HasBluetooth() bool      { return true }
func (detectedHardware) HasWiFiDirect() bool     { return true }
func (detectedHardware) HasLoRaRadio() bool      { return false }
func (detectedHardware) HasSatelliteModem() bool { return false }

// dhtContentResolver backs the mesh server's Web4 content hook with the
// DHT's content-addressed store, keying on domain+path as the content hash.
type dhtContentResolver struct {
	store *dht.Store
}

func (r dhtContentResolver) Resolve(domain, path string) ([]byte, error) {
	data, ok := r.store.RetrieveData(context.Background(), domain+path)
	if !ok {
		return nil, fmt.Errorf("zhtpnode: no content for %s%s", domain, path)
	}
	return data, nil
}

type noopSender struct{}

func (noopSender) Send(peer identity.NodeID, transport peerregistry.Transport, env envelope.Envelope) error {
	return nil
}

type noopInnerVerifier struct{}

func (noopInnerVerifier) Verify(p zkverify.TxProof) bool { return true }

// dhtComponent adapts *dht.Store to orchestrator.Component.
type dhtComponent struct {
	store *dht.Store
}

func newDHTComponent(store *dht.Store) *dhtComponent { return &dhtComponent{store: store} }

func (c *dhtComponent) ID() events.ComponentID             { return "dht" }
func (c *dhtComponent) Dependencies() []events.ComponentID { return nil }
func (c *dhtComponent) Start(ctx context.Context) error    { return nil }
func (c *dhtComponent) Stop(ctx context.Context) error     { return nil }
func (c *dhtComponent) ForceStop(ctx context.Context) error { return nil }
func (c *dhtComponent) HealthCheck(ctx context.Context) error {
	return nil
}
func (c *dhtComponent) Metrics() map[string]float64 {
	stats := c.store.Stats()
	return map[string]float64{
		"entries": float64(stats.TotalEntries),
		"usage_bytes": float64(stats.TotalSize),
	}
}
func (c *dhtComponent) HandleEvent(ev events.Event) {}

// meshComponent adapts *mesh.Server to orchestrator.Component.
type meshComponent struct {
	server *mesh.Server
}

func newMeshComponent(server *mesh.Server) *meshComponent { return &meshComponent{server: server} }

func (c *meshComponent) ID() events.ComponentID             { return "mesh" }
func (c *meshComponent) Dependencies() []events.ComponentID { return []events.ComponentID{"dht"} }
func (c *meshComponent) Start(ctx context.Context) error    { return nil }
func (c *meshComponent) Stop(ctx context.Context) error {
	c.server.EmergencyStop()
	return nil
}
func (c *meshComponent) ForceStop(ctx context.Context) error { return c.Stop(ctx) }
func (c *meshComponent) HealthCheck(ctx context.Context) error {
	return nil
}
func (c *meshComponent) Metrics() map[string]float64 {
	return map[string]float64{"protocol_count": float64(len(c.server.Protocols()))}
}
func (c *meshComponent) HandleEvent(ev events.Event) {}
