// Command coordinatord runs the cluster's coordination plane: the node
// registry, the minimal certificate authority, grant issuance, and the
// HTTP relay fallback that stands in for QUIC when a node cannot reach its
// peers directly. It holds no key shares and participates in no MPC
// protocol round itself — every cryptographic operation here issues or
// authenticates, it never signs on a wallet's behalf.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/torcus-network/wallet-cluster/admin"
	"github.com/torcus-network/wallet-cluster/audit"
	"github.com/torcus-network/wallet-cluster/byzantine"
	"github.com/torcus-network/wallet-cluster/config"
	"github.com/torcus-network/wallet-cluster/crypto"
	"github.com/torcus-network/wallet-cluster/grant"
	"github.com/torcus-network/wallet-cluster/httpmw"
	"github.com/torcus-network/wallet-cluster/kv"
	torcustelemetry "github.com/torcus-network/wallet-cluster/observability/logging"
	telemetry "github.com/torcus-network/wallet-cluster/observability/otel"
	"github.com/torcus-network/wallet-cluster/pki"
	"github.com/torcus-network/wallet-cluster/registry"
	"github.com/torcus-network/wallet-cluster/transport"
)

func main() {
	configFile := flag.String("config", "./coordinator.toml", "Path to the coordinator configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TORCUS_ENV"))
	baseLogger := torcustelemetry.Setup("coordinatord", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "coordinatord",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    true,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.LoadCoordinator(*configFile)
	if err != nil {
		log.Fatalf("load coordinator config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.AuditDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("open audit database: %v", err)
	}
	auditStore, err := audit.Open(db)
	if err != nil {
		log.Fatalf("open audit store: %v", err)
	}

	coordinationKV, err := kv.NewLevelStore(cfg.DataDir + "/coordination-kv")
	if err != nil {
		log.Fatalf("open coordination kv: %v", err)
	}
	defer coordinationKV.Close()
	detector := byzantine.New(coordinationKV, auditStore, requiredVoteThreshold(cfg))
	voteProcessor := byzantine.NewProcessor(detector)
	voteHandler := byzantine.NewHandler(voteProcessor)

	grantKey, err := loadOrCreateGrantKey(cfg)
	if err != nil {
		log.Fatalf("load grant signing key: %v", err)
	}
	issuer := grant.NewIssuer(grantKey)
	grantHandler := grant.NewHandler(issuer)

	ca, err := pki.NewCA()
	if err != nil {
		log.Fatalf("initialise certificate authority: %v", err)
	}
	nodeRegistry := registry.New(cfg.RegistrationPSK)
	defer nodeRegistry.Close()
	pkiHandler := pki.NewHandler(ca, nodeRegistry.ValidateCertToken)
	registryHandler := registry.NewHandler(nodeRegistry)

	parties := make([]int, cfg.TotalNodes)
	for i := range parties {
		parties[i] = i
	}
	relay := transport.NewRelayServer(parties)
	adminHandler := admin.NewHandler(auditStore)
	adminAuth := httpmw.NewAdminAuthenticator(httpmw.AdminAuthConfig{
		Enabled:    cfg.AdminAuthSecret != "",
		HMACSecret: cfg.AdminAuthSecret,
		ScopeClaim: "scope",
	}, baseLogger)

	obs := httpmw.NewObservability(httpmw.ObservabilityConfig{
		ServiceName: "coordinatord",
		LogRequests: true,
	}, slog.NewLogLogger(baseLogger.Handler(), slog.LevelInfo))
	limiter := httpmw.NewRateLimiter(map[string]httpmw.RateLimit{
		"registry": {RatePerSecond: 5, Burst: 10},
		"grant":    {RatePerSecond: 20, Burst: 40},
		"relay":    {RatePerSecond: 200, Burst: 400},
		"vote":     {RatePerSecond: 50, Burst: 100},
	})
	cors := httpmw.CORS(httpmw.CORSConfig{})

	mux := http.NewServeMux()
	mux.Handle("/registry/", obs.Middleware("registry")(limiter.Middleware("registry")(cors(registryHandler.Router()))))
	mux.Handle("/certs/", obs.Middleware("certs")(cors(pkiHandler.Router())))
	mux.Handle("/grant/", obs.Middleware("grant")(limiter.Middleware("grant")(cors(grantHandler.Router()))))
	mux.Handle("/relay/", obs.Middleware("relay")(limiter.Middleware("relay")(relay.Router())))
	mux.Handle("/vote/", obs.Middleware("vote")(limiter.Middleware("vote")(cors(voteHandler.Router()))))
	mux.Handle("/admin/", obs.Middleware("admin")(adminAuth.Middleware("admin:read")(cors(adminHandler.Router()))))
	mux.Handle("/metrics", obs.MetricsHandler())

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(mux, "coordinatord"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("--- coordinatord listening on %s ---\n", cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("coordinator server failed: %v", err)
	}
	fmt.Println("--- coordinatord shutting down ---")
}

// requiredVoteThreshold derives the cluster-wide vote threshold the Byzantine
// Detector counts towards: a majority of the configured cluster size, the
// same majority shape session.go uses for participant thresholds.
func requiredVoteThreshold(cfg *config.CoordinatorConfig) int {
	return cfg.TotalNodes/2 + 1
}

// loadOrCreateGrantKey loads the coordinator's Ed25519 grant-signing key from
// its configured hex seed. With no seed configured it generates a fresh key
// that is not persisted, so the grant public key changes on every restart.
func loadOrCreateGrantKey(cfg *config.CoordinatorConfig) (*crypto.GrantSigningKey, error) {
	if cfg.GrantSeedHex != "" {
		seed, err := hex.DecodeString(strings.TrimSpace(cfg.GrantSeedHex))
		if err != nil {
			return nil, fmt.Errorf("decode grant seed: %w", err)
		}
		return crypto.GrantSigningKeyFromSeed(seed)
	}
	return crypto.GenerateGrantSigningKey()
}
