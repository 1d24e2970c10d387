// Command walletnoded runs a single cluster party: it registers with the
// coordinator, obtains its CA-signed node certificate, joins the QUIC or
// HTTP-relay transport, and drives the Session Coordinator and Presignature
// Pool for its share of the threshold wallet. It holds no CGGMP24/FROST
// engine itself — that math is injected at bootstrap.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/torcus-network/wallet-cluster/config"
	"github.com/torcus-network/wallet-cluster/coordclient"
	"github.com/torcus-network/wallet-cluster/crypto"
	"github.com/torcus-network/wallet-cluster/mpc"
	"github.com/torcus-network/wallet-cluster/nodestate"
	torcustelemetry "github.com/torcus-network/wallet-cluster/observability/logging"
	telemetry "github.com/torcus-network/wallet-cluster/observability/otel"
	"github.com/torcus-network/wallet-cluster/pki"
	"github.com/torcus-network/wallet-cluster/presig"
	"github.com/torcus-network/wallet-cluster/presigengine"
	"github.com/torcus-network/wallet-cluster/registry"
	"github.com/torcus-network/wallet-cluster/session"
	"github.com/torcus-network/wallet-cluster/transport"
	"github.com/torcus-network/wallet-cluster/vote"
)

// presigTargetSize is the per-participant-set pool size the background
// refill loop maintains, per §4.G's target_size.
const presigTargetSize = 4

func main() {
	configFile := flag.String("config", "./node.toml", "Path to the node configuration file")
	allowUnregistered := flag.Bool("allow-unregistered", false, "Continue running even if coordinator registration fails")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TORCUS_ENV"))
	baseLogger := torcustelemetry.Setup("walletnoded", env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "walletnoded",
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
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

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("load node config: %v", err)
	}

	store, err := nodestate.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("open node state: %v", err)
	}

	identityKeyBytes, err := hex.DecodeString(strings.TrimSpace(cfg.NodeIdentityKey))
	if err != nil {
		log.Fatalf("decode node identity key: %v", err)
	}
	identityKey, err := crypto.PrivateKeyFromBytes(identityKeyBytes)
	if err != nil {
		log.Fatalf("load node identity key: %v", err)
	}
	baseLogger.Info("node identity loaded", "public_key", hex.EncodeToString(identityKey.PubKey().Bytes()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := coordclient.New(cfg.CoordinatorURL)
	nodeID := fmt.Sprintf("node-%d", cfg.PartyIndex)

	heartbeatInterval, err := registerNode(ctx, client, store, cfg, nodeID)
	if err != nil {
		if *allowUnregistered {
			baseLogger.Warn("continuing unregistered", "error", err)
			heartbeatInterval = 15 * time.Second
		} else {
			log.Fatalf("register with coordinator: %v", err)
		}
	}

	tlsConfig, err := loadOrIssueNodeTLS(ctx, client, store, cfg)
	if err != nil {
		if cfg.P2PEnabled {
			log.Fatalf("provision node tls identity: %v", err)
		}
		baseLogger.Warn("tls identity unavailable, QUIC transport disabled", "error", err)
	}

	var tport transport.Transport
	switch {
	case cfg.P2PEnabled && tlsConfig != nil:
		peers, perr := peerAddresses(ctx, client, cfg.PartyIndex)
		if perr != nil {
			baseLogger.Warn("peer discovery failed, starting with an empty peer set", "error", perr)
		}
		listenAddr := fmt.Sprintf(":%d", cfg.QUICPort)
		tport, err = transport.NewQUICTransport(ctx, cfg.PartyIndex, listenAddr, tlsConfig, peers)
		if err != nil {
			log.Fatalf("start quic transport: %v", err)
		}
	case cfg.P2PFallbackHTTP:
		tport = transport.NewHTTPRelayClient(ctx, cfg.PartyIndex, cfg.CoordinatorURL)
	default:
		log.Fatalf("fatal transport init failure: quic disabled and http fallback disabled")
	}
	defer tport.Close()

	proposalTimeout := time.Duration(cfg.ProposalTimeoutS) * time.Second
	coordinator := session.NewCoordinator(cfg.PartyIndex, tport, proposalTimeout)

	generator := presigengine.New(coordinator, unavailableEngineFactory, cfg.PartyIndex)
	pool := presig.New(generator, rate.Limit(1), 1)
	defer pool.Close()

	participants := make([]int, cfg.TotalNodes)
	for i := range participants {
		participants[i] = i
	}
	go runPresigRefillLoop(ctx, pool, participants, baseLogger)

	if heartbeatInterval > 0 {
		go runHeartbeatLoop(ctx, client, store, cfg, nodeID, heartbeatInterval, baseLogger)
	}

	fmt.Printf("--- walletnoded party %d listening ---\n", cfg.PartyIndex)
	<-ctx.Done()
	fmt.Println("--- walletnoded shutting down ---")
}

// registerNode registers with the coordinator on first run, reusing a
// persisted cert_token on restart (§6's "persisted for restart-safe
// re-auth").
func registerNode(ctx context.Context, client *coordclient.Client, store *nodestate.Store, cfg *config.Config, nodeID string) (time.Duration, error) {
	if _, ok, err := store.LoadCertToken(cfg.PartyIndex); err == nil && ok {
		// Already registered in a previous run; the persisted cert_token
		// covers re-auth, so there is nothing further to do here.
		return registry.DefaultHeartbeatInterval, nil
	}
	result, err := client.Register(ctx, cfg.RegistrationPSK, nodeID, cfg.PartyIndex, cfg.ListenAddress, cfg.QUICPort, []string{"sign", "keygen"})
	if err != nil {
		return 0, err
	}
	if result.CertToken != "" {
		if err := store.SaveCertToken(nodestate.CertTokenRecord{
			PartyIndex: cfg.PartyIndex,
			Token:      result.CertToken,
			IssuedAt:   time.Now(),
		}); err != nil {
			return 0, fmt.Errorf("persist cert token: %w", err)
		}
	}
	return result.HeartbeatInterval, nil
}

// loadOrIssueNodeTLS returns the node's QUIC mutual-TLS config, minting a
// fresh certificate against the coordinator's CA on first run and loading
// the persisted one on restart (§6 persisted state layout).
func loadOrIssueNodeTLS(ctx context.Context, client *coordclient.Client, store *nodestate.Store, cfg *config.Config) (*tls.Config, error) {
	rec, ok, err := store.LoadNodeCert(cfg.PartyIndex)
	if err != nil {
		return nil, err
	}
	if !ok {
		tokenRec, tokOK, err := store.LoadCertToken(cfg.PartyIndex)
		if err != nil || !tokOK {
			return nil, fmt.Errorf("no cert token available to request a node certificate")
		}
		hostnames := []string{fmt.Sprintf("node-%d", cfg.PartyIndex), "127.0.0.1"}
		certPEM, keyPEM, caCertPEM, err := client.NodeCert(ctx, cfg.PartyIndex, tokenRec.Token, hostnames)
		if err != nil {
			return nil, err
		}
		rec = nodestate.NodeCertRecord{PartyIndex: cfg.PartyIndex, CertPEM: certPEM, KeyPEM: keyPEM, CACertPEM: caCertPEM}
		if err := store.SaveNodeCert(rec); err != nil {
			return nil, fmt.Errorf("persist node cert: %w", err)
		}
	}

	cert, err := pki.TLSCertificate(rec.CertPEM, rec.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("load node tls certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rec.CACertPEM) {
		return nil, fmt.Errorf("parse ca certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h3"},
	}, nil
}

// peerAddresses fetches the coordinator's current membership snapshot and
// translates it into QUIC dial targets, excluding the local party.
func peerAddresses(ctx context.Context, client *coordclient.Client, localParty int) ([]transport.PeerAddress, error) {
	nodes, err := client.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	peers := make([]transport.PeerAddress, 0, len(nodes))
	for _, n := range nodes {
		if n.PartyIndex == localParty || n.QUICPort == 0 {
			continue
		}
		host := n.Endpoint
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		peers = append(peers, transport.PeerAddress{PartyIndex: n.PartyIndex, Address: fmt.Sprintf("%s:%d", host, n.QUICPort)})
	}
	return peers, nil
}

func runHeartbeatLoop(ctx context.Context, client *coordclient.Client, store *nodestate.Store, cfg *config.Config, nodeID string, interval time.Duration, logger interface {
	Warn(msg string, args ...any)
}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, ok, err := store.LoadCertToken(cfg.PartyIndex)
			if err != nil || !ok {
				continue
			}
			if _, err := client.Heartbeat(ctx, rec.Token, nodeID, cfg.PartyIndex, []string{"sign", "keygen"}); err != nil {
				logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// runPresigRefillLoop periodically tops the pool up to presigTargetSize for
// the full cluster participant set (§4.G refill policy).
func runPresigRefillLoop(ctx context.Context, pool *presig.Pool, participants []int, logger interface {
	Warn(msg string, args ...any)
}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := pool.Refill(ctx, participants, presigTargetSize); err != nil {
				logger.Warn("presignature refill failed", "error", err)
			}
		}
	}
}

// signAndSubmitVote signs a ballot on txID/value as nodeID and forwards it
// to the coordinator's Vote Processor. Which transactions to vote on is
// decided by watching the target blockchain, out of scope here — this is
// the capability a caller would invoke per observed transaction.
func signAndSubmitVote(ctx context.Context, client *coordclient.Client, identityKey *crypto.PrivateKey, nodeID, peerID, txID string, value uint64) (*coordclient.VoteOutcome, error) {
	v, err := vote.Sign(identityKey, nodeID, peerID, txID, value, time.Now())
	if err != nil {
		return nil, fmt.Errorf("sign vote: %w", err)
	}
	return client.SubmitVote(ctx, v)
}

// unavailableEngineFactory is the slot a concrete CGGMP24/FROST engine
// plugs into at bootstrap; that math is out of this system's scope.
func unavailableEngineFactory(protocol mpc.Protocol, localParty int, participants []int, aux []byte) (mpc.StateMachine, error) {
	return nil, fmt.Errorf("walletnoded: no signing engine configured for protocol %q", protocol)
}
