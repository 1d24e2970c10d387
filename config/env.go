package config

import (
	"os"
	"strconv"
)

// Environment variable names, per §6.
const (
	EnvP2PEnabled      = "P2P_ENABLED"
	EnvP2PFallbackHTTP = "P2P_FALLBACK_HTTP"
	EnvQUICPort        = "QUIC_PORT"
	EnvProposalTimeout = "P2P_PROPOSAL_TIMEOUT"
	EnvRegistrationPSK = "NODE_REGISTRATION_PSK"
	EnvProduction      = "TORCUS_PRODUCTION"
	EnvAdminAuthSecret = "ADMIN_AUTH_SECRET"
)

// ApplyEnvOverrides overlays environment variables on top of the TOML-loaded
// config, the same override-after-load pattern the daemons' flags-then-env
// handling uses.
func ApplyEnvOverrides(cfg *Config) {
	if v, ok := lookupBool(EnvP2PEnabled); ok {
		cfg.P2PEnabled = v
	}
	if v, ok := lookupBool(EnvP2PFallbackHTTP); ok {
		cfg.P2PFallbackHTTP = v
	}
	if v, ok := lookupInt(EnvQUICPort); ok {
		cfg.QUICPort = v
	}
	if v, ok := lookupInt(EnvProposalTimeout); ok {
		cfg.ProposalTimeoutS = v
	}
	if v := os.Getenv(EnvRegistrationPSK); v != "" {
		cfg.RegistrationPSK = v
	}
	if v, ok := lookupBool(EnvProduction); ok {
		cfg.Production = v
	}
}

func lookupBool(name string) (bool, bool) {
	raw, set := os.LookupEnv(name)
	if !set {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func lookupInt(name string) (int, bool) {
	raw, set := os.LookupEnv(name)
	if !set {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
