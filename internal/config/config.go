// Package config defines NodeConfig (spec §6) and loads it via viper with
// environment-variable overrides, following the teacher's pattern of a
// typed config struct plus a separate validation pass that warns on
// suspicious-but-legal values and errors on invalid ones.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/luxfi/zhtp-core/internal/zlog"
)

// RewardOrchestratorParams controls the theoretical-reward claim cadence
// (spec §4.2 Reward accounting).
type RewardOrchestratorParams struct {
	ClaimInterval   time.Duration
	MinClaimTokens  uint64
}

// NodeConfig is the host-supplied configuration surface (spec §6). CLI
// argument parsing that produces a NodeConfig is out of scope (spec §1).
type NodeConfig struct {
	Environment string // e.g. "mainnet", "testnet", "dev"

	MeshPort int
	APIPort  int

	StorageDir   string
	KeystoreDir  string
	MaxStorageGB float64

	ValidatorEnabled       bool
	SmartContractsEnabled  bool
	HostedStorageGB        float64

	RequestedProtocols []string
	BootstrapPeers     []string

	HealthCheckInterval    time.Duration
	ComponentStartDelay    time.Duration
	ShutdownBudget         time.Duration
	ComponentStopBudget    time.Duration
	ComponentForceStopBudget time.Duration

	RewardOrchestrator RewardOrchestratorParams
}

// IsEdgeNode implements spec §4.1's edge-node classification: a node is
// edge when validation is disabled, smart contracts are disabled, and
// hosted storage is under 100GB.
func (c NodeConfig) IsEdgeNode() bool {
	return !c.ValidatorEnabled && !c.SmartContractsEnabled && c.HostedStorageGB < 100
}

// Default returns a NodeConfig with the defaults named throughout spec.md
// (500ms inter-start delay, 30s shutdown budget, 10s stop budget, 5s force
// stop budget, k=20 DHT bucket size lives in the dht package itself).
func Default() NodeConfig {
	return NodeConfig{
		Environment:              "dev",
		MeshPort:                 7777,
		APIPort:                  8080,
		StorageDir:               "./data",
		KeystoreDir:              "./keystore",
		MaxStorageGB:             10,
		ValidatorEnabled:         false,
		SmartContractsEnabled:    false,
		HostedStorageGB:          0,
		RequestedProtocols:       []string{"ble", "wifi-direct", "quic"},
		BootstrapPeers:           nil,
		HealthCheckInterval:      5 * time.Second,
		ComponentStartDelay:      500 * time.Millisecond,
		ShutdownBudget:           30 * time.Second,
		ComponentStopBudget:      10 * time.Second,
		ComponentForceStopBudget: 5 * time.Second,
		RewardOrchestrator: RewardOrchestratorParams{
			ClaimInterval:  1 * time.Hour,
			MinClaimTokens: 100,
		},
	}
}

// Load reads a NodeConfig from the environment (prefix ZHTP_) over the
// defaults, mirroring viper's common env-override pattern (seen in the
// retrieved luxfi-cli example's use of spf13/viper).
func Load() (NodeConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("ZHTP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if v.IsSet("environment") {
		cfg.Environment = v.GetString("environment")
	}
	if v.IsSet("mesh_port") {
		cfg.MeshPort = v.GetInt("mesh_port")
	}
	if v.IsSet("api_port") {
		cfg.APIPort = v.GetInt("api_port")
	}
	if v.IsSet("storage_dir") {
		cfg.StorageDir = v.GetString("storage_dir")
	}
	if v.IsSet("keystore_dir") {
		cfg.KeystoreDir = v.GetString("keystore_dir")
	}
	if v.IsSet("max_storage_gb") {
		cfg.MaxStorageGB = v.GetFloat64("max_storage_gb")
	}
	if v.IsSet("validator_enabled") {
		cfg.ValidatorEnabled = v.GetBool("validator_enabled")
	}
	if v.IsSet("smart_contracts_enabled") {
		cfg.SmartContractsEnabled = v.GetBool("smart_contracts_enabled")
	}
	if v.IsSet("hosted_storage_gb") {
		cfg.HostedStorageGB = v.GetFloat64("hosted_storage_gb")
	}
	if v.IsSet("bootstrap_peers") {
		cfg.BootstrapPeers = v.GetStringSlice("bootstrap_peers")
	}

	if err := Validate(cfg, zlog.NewNoOp()); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// Validate checks a NodeConfig for hard errors and logs warnings for
// suspicious-but-legal values, the same two-tier policy the teacher's
// consensus-parameter validator applies.
func Validate(c NodeConfig, log zlog.Logger) error {
	if c.MeshPort <= 0 || c.MeshPort > 65535 {
		return fmt.Errorf("invalid mesh port %d", c.MeshPort)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid api port %d", c.APIPort)
	}
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir must not be empty")
	}
	if c.MaxStorageGB <= 0 {
		return fmt.Errorf("max_storage_gb must be positive")
	}
	if len(c.RequestedProtocols) == 0 {
		log.Warn("no transport protocols requested; mesh will fall back to BLE minimum viable mesh")
	}
	if c.IsEdgeNode() && len(c.BootstrapPeers) == 0 {
		log.Warn("node classifies as edge with no bootstrap peers configured; it will fail to discover an existing network")
	}
	if c.HealthCheckInterval < time.Second {
		log.Warn("health_check_interval below 1s may cause excessive probe overhead", "interval", c.HealthCheckInterval)
	}
	if c.ComponentStopBudget <= c.ComponentForceStopBudget {
		log.Warn("component stop budget should exceed the force-stop budget", "stop", c.ComponentStopBudget, "force_stop", c.ComponentForceStopBudget)
	}
	return nil
}
