package config

import "fmt"

// Validate enforces the Configuration error class of §7: missing threshold
// and a missing registration PSK under production are both fatal at startup.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if cfg.Threshold <= 0 {
		return fmt.Errorf("config: threshold must be positive")
	}
	if cfg.TotalNodes <= 0 {
		return fmt.Errorf("config: total_nodes must be positive")
	}
	if cfg.Threshold > cfg.TotalNodes {
		return fmt.Errorf("config: threshold (%d) exceeds total_nodes (%d)", cfg.Threshold, cfg.TotalNodes)
	}
	if cfg.Production && cfg.RegistrationPSK == "" {
		return fmt.Errorf("config: NODE_REGISTRATION_PSK is required in production")
	}
	if cfg.PartyIndex < 0 || cfg.PartyIndex >= cfg.TotalNodes {
		return fmt.Errorf("config: party_index %d out of range [0, %d)", cfg.PartyIndex, cfg.TotalNodes)
	}
	return nil
}
