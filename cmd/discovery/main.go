package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/discoveryclient"
	"github.com/zfogg/ascii-chat/pkg/acip/logx"
)

func main() {
	fs := flag.NewFlagSet("discovery", flag.ExitOnError)
	logFlags := logx.RegisterFlags(fs)

	sessionString := fs.String("session-string", "", "Session to join (empty: create a new session)")
	discoveryServer := fs.String("discovery-server", "localhost", "Discovery-service hostname")
	discoveryPort := fs.Int("discovery-port", 27224, "Discovery-service port")
	port := fs.Int("port", 27225, "Media port to listen on if elected host")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "ascii-chat discovery mode: NAT-aware peer session setup\n\n")
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

	identityPath, err := crypto.DefaultIdentityPath()
	if err != nil {
		log.Error("cannot resolve identity path", "error", err)
		os.Exit(2)
	}
	identity, err := crypto.LoadOrCreateIdentity(identityPath)
	if err != nil {
		// Discovery mode degrades to unsigned broadcasts; only the
		// discovery-service treats identity failures as fatal.
		log.Warn("identity unavailable, broadcasting unsigned", "error", err)
		identity = nil
	} else {
		var pub [32]byte
		copy(pub[:], identity.Public)
		log.Info("participant identity", "fingerprint", crypto.Fingerprint(pub))
	}

	var exiting atomic.Bool
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		exiting.Store(true)
	}()

	var client *discoveryclient.Client
	client = discoveryclient.New(discoveryclient.Config{
		SessionString:   *sessionString,
		DiscoveryServer: *discoveryServer,
		DiscoveryPort:   *discoveryPort,
		ListenPort:      *port,
		Identity:        identity,
		ShouldExit:      func() bool { return exiting.Load() },
		OnStateChange: func(from, to discoveryclient.State) {
			if to == discoveryclient.StateWaitingPeer {
				// The session string is the thing a user shares; surface it
				// the moment it exists.
				fmt.Printf("session: %s\n", client.SessionString())
			}
		},
	}, log)

	if err := client.Run(context.Background()); err != nil {
		log.Error("discovery failed", "error", err)
		os.Exit(2)
	}
	log.Info("discovery ended")
}
