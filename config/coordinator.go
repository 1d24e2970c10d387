package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// CoordinatorConfig is the coordinator process's on-disk configuration: the
// relay/registry/grant/pki HTTP surface that every node's Config.CoordinatorURL
// points at. It is intentionally smaller than Config — the coordinator holds
// no party index or threshold of its own.
type CoordinatorConfig struct {
	ListenAddress   string `toml:"ListenAddress"`
	DataDir         string `toml:"DataDir"`
	RegistrationPSK string `toml:"RegistrationPSK"`
	AuditDSN        string `toml:"AuditDSN"`
	GrantSeedHex    string `toml:"GrantSeedHex"`
	TotalNodes      int    `toml:"TotalNodes"`
	Production      bool   `toml:"Production"`
	AdminAuthSecret string `toml:"AdminAuthSecret"`
}

// LoadCoordinator reads the coordinator config at path, writing a fresh
// default (with no grant-signing seed set) if it does not yet exist, the
// same load-or-create shape as Load.
func LoadCoordinator(path string) (*CoordinatorConfig, error) {
	cfg := &CoordinatorConfig{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created, err := createDefaultCoordinator(path)
		if err != nil {
			return nil, err
		}
		cfg = created
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvRegistrationPSK); v != "" {
		cfg.RegistrationPSK = v
	}
	if v, ok := lookupBool(EnvProduction); ok {
		cfg.Production = v
	}
	if v := os.Getenv(EnvAdminAuthSecret); v != "" {
		cfg.AdminAuthSecret = v
	}

	if err := ValidateCoordinator(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefaultCoordinator(path string) (*CoordinatorConfig, error) {
	cfg := &CoordinatorConfig{
		ListenAddress: ":8080",
		DataDir:       "./torcus-coordinator-data",
		AuditDSN:      "./torcus-coordinator-data/audit.db",
		TotalNodes:    5,
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateCoordinator enforces the coordinator's §7 Configuration error
// class: a production deployment must be able to authenticate registering
// nodes.
func ValidateCoordinator(cfg *CoordinatorConfig) error {
	if cfg == nil {
		return fmt.Errorf("config: nil coordinator configuration")
	}
	if cfg.TotalNodes <= 0 {
		return fmt.Errorf("config: total_nodes must be positive")
	}
	if cfg.Production && cfg.RegistrationPSK == "" {
		return fmt.Errorf("config: NODE_REGISTRATION_PSK is required in production")
	}
	return nil
}
