package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/discoveryservice"
	"github.com/zfogg/ascii-chat/pkg/acip/logx"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
)

func main() {
	fs := flag.NewFlagSet("discovery-service", flag.ExitOnError)
	logFlags := logx.RegisterFlags(fs)

	port := fs.Int("port", 27224, "TCP port to listen on")
	dbPath := fs.String("discovery-database-path", "", "Path to the sqlite session/rate-limit database (empty: in-memory)")
	encryptKey := fs.String("encrypt-key", "", "Hex-encoded 32-byte static X25519 private key (empty: per-connection ephemeral)")
	requireServerIdentity := fs.Bool("require-server-identity", false, "Reject session creators without a signed identity")
	requireClientIdentity := fs.Bool("require-client-identity", false, "Reject joiners without a signed identity")
	stunServers := fs.String("stun-servers", "", "Comma-separated STUN server URLs (stored in the service config; not sent to participants)")
	turnServers := fs.String("turn-servers", "", "Comma-separated TURN server URLs (stored in the service config; not sent to participants)")
	turnUsername := fs.String("turn-username", "", "TURN username")
	turnCredential := fs.String("turn-credential", "", "TURN credential")
	turnSecret := fs.String("turn-secret", "", "TURN shared secret for time-limited credentials")
	upnp := fs.Bool("upnp", false, "Accepted and stored in the service config; no UPnP port mapping is requested")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "ascii-chat discovery-service: session registry, signaling relay, NAT advisory\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logx.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logx.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logx.SetDefault(log)

	// Identity-file errors on startup terminate the discovery-service.
	identityPath, err := crypto.DefaultIdentityPath()
	if err != nil {
		log.Error("cannot resolve identity path", "error", err)
		os.Exit(2)
	}
	identity, err := crypto.LoadOrCreateIdentity(identityPath)
	if err != nil {
		log.Error("identity file unusable", "path", identityPath, "error", err)
		os.Exit(2)
	}
	var identityPub [32]byte
	copy(identityPub[:], identity.Public)
	log.Info("discovery-service identity", "fingerprint", crypto.Fingerprint(identityPub))

	cfg := discoveryservice.DefaultConfig()
	cfg.RequireServerIdentity = *requireServerIdentity
	cfg.RequireClientIdentity = *requireClientIdentity
	cfg.STUNServers = splitList(*stunServers)
	cfg.TURNServers = splitList(*turnServers)
	cfg.TURNUsername = *turnUsername
	cfg.TURNCredential = *turnCredential
	cfg.TURNSecret = *turnSecret
	cfg.UPnP = *upnp

	if *encryptKey != "" {
		raw, err := hex.DecodeString(*encryptKey)
		if err != nil || len(raw) != 32 {
			fmt.Fprintln(os.Stderr, "--encrypt-key must be 64 hex characters (32 bytes)")
			os.Exit(1)
		}
		var priv [32]byte
		copy(priv[:], raw)
		staticKey, err := crypto.NewStaticKeyPair(priv)
		if err != nil {
			log.Error("invalid --encrypt-key", "error", err)
			os.Exit(1)
		}
		cfg.StaticKey = staticKey
		log.Info("static handshake key", "fingerprint", crypto.Fingerprint(staticKey.Public))
	}

	// Database errors degrade to in-memory for the current process.
	store, err := discoveryservice.OpenStore(*dbPath)
	if err != nil {
		log.Warn("sqlite store unavailable, running in-memory", "path", *dbPath, "error", err)
		store, err = discoveryservice.OpenStore("")
		if err != nil {
			log.Error("in-memory store failed", "error", err)
			os.Exit(2)
		}
	}
	defer store.Close()

	var limiter ratelimit.Limiter
	sqlLimiter, err := ratelimit.NewSQLiteLimiter(log.Logger, *dbPath)
	if err != nil {
		log.Warn("sqlite rate limiter unavailable, using in-memory", "error", err)
		limiter = ratelimit.NewMemoryLimiter(log.Logger)
	} else {
		limiter = sqlLimiter
	}
	defer limiter.Destroy()

	svc := discoveryservice.New(cfg, store, limiter, log.Logger)
	address := net.JoinHostPort("", strconv.Itoa(*port))
	if err := svc.Listen(address); err != nil {
		log.Error("listen failed", "address", address, "error", err)
		os.Exit(2)
	}
	log.Info("discovery-service listening", "address", svc.Addr().String(), "database", *dbPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		svc.Stop()
	}()

	if err := svc.Run(); err != nil {
		log.Error("discovery-service failed", "error", err)
		os.Exit(2)
	}
	log.Info("discovery-service stopped")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
