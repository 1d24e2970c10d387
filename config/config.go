// Package config loads and validates per-node TOML configuration for the
// wallet cluster, using a load-or-create-default pattern.
package config

import (
	"encoding/hex"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/torcus-network/wallet-cluster/crypto"
)

// Config is a single node's on-disk configuration.
type Config struct {
	PartyIndex       int    `toml:"PartyIndex"`
	DataDir          string `toml:"DataDir"`
	ListenAddress    string `toml:"ListenAddress"`
	CoordinatorURL   string `toml:"CoordinatorURL"`
	NodeIdentityKey  string `toml:"NodeIdentityKey"`
	Threshold        int    `toml:"Threshold"`
	TotalNodes       int    `toml:"TotalNodes"`
	P2PEnabled       bool   `toml:"P2PEnabled"`
	P2PFallbackHTTP  bool   `toml:"P2PFallbackHTTP"`
	QUICPort         int    `toml:"QUICPort"`
	ProposalTimeoutS int    `toml:"ProposalTimeoutSeconds"`
	RegistrationPSK  string `toml:"RegistrationPSK"`
	Production       bool   `toml:"Production"`
}

// Load reads the configuration at path, creating a default one (with a
// freshly generated node identity key) if it does not yet exist, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		cfg = created
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.NodeIdentityKey == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.NodeIdentityKey = hex.EncodeToString(key.Bytes())

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file. Threshold and
// TotalNodes are left at 0, which Validate rejects until they are set.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		PartyIndex:       0,
		DataDir:          "./torcus-data",
		ListenAddress:    ":4001",
		CoordinatorURL:   "http://127.0.0.1:8080",
		NodeIdentityKey:  hex.EncodeToString(key.Bytes()),
		Threshold:        0,
		TotalNodes:       0,
		P2PEnabled:       true,
		P2PFallbackHTTP:  true,
		QUICPort:         4001,
		ProposalTimeoutS: 10,
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
