package config

import (
	"fmt"
	"strings"

	"nhbmarket/crypto"
)

// Validate checks the loaded configuration for values the node cannot run
// with.
func (cfg *Config) Validate() error {
	switch cfg.StorageBackend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("storage: unsupported backend %q", cfg.StorageBackend)
	}
	if strings.TrimSpace(cfg.Owner) == "" {
		return fmt.Errorf("owner: address required")
	}
	if _, err := crypto.ParseAccount(cfg.Owner); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	if addr := strings.TrimSpace(cfg.MarketAddress); addr != "" {
		if _, err := crypto.ParseAccount(addr); err != nil {
			return fmt.Errorf("market address: %w", err)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0,1]")
	}
	if cfg.Webhook.Enabled() && strings.TrimSpace(cfg.Webhook.SecretEnv) == "" {
		return fmt.Errorf("webhook: SecretEnv required when Endpoint is set")
	}
	return nil
}
