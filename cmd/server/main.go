package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/zfogg/ascii-chat/pkg/acip/host"
	"github.com/zfogg/ascii-chat/pkg/acip/logx"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
)

func main() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	logFlags := logx.RegisterFlags(fs)

	port := fs.Int("port", 27224, "TCP port to listen on (WebSocket clients use port+1)")
	address := fs.String("address", "", "IPv4 address to bind (empty: all interfaces)")
	address6 := fs.String("address6", "", "IPv6 address to bind in addition to --address")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "ascii-chat server: star-topology session host\n\n")
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

	cfg := host.DefaultConfig()
	cfg.RequireEncryption = false // clients opt in with the handshake
	limiter := ratelimit.NewMemoryLimiter(log.Logger)
	defer limiter.Destroy()

	h := host.New(cfg, host.PassthroughMixer{}, limiter, nil, log.Logger)

	tcpAddr := net.JoinHostPort(*address, strconv.Itoa(*port))
	if err := h.Listen(tcpAddr); err != nil {
		log.Error("listen failed", "address", tcpAddr, "error", err)
		os.Exit(2)
	}
	log.Info("server listening", "address", h.Addr().String())

	if *address6 != "" {
		ln6, err := net.Listen("tcp6", net.JoinHostPort(*address6, strconv.Itoa(*port)))
		if err != nil {
			log.Error("ipv6 listen failed", "address", *address6, "error", err)
			os.Exit(2)
		}
		go func() {
			if err := h.ServeOn(ln6); err != nil {
				log.Error("ipv6 accept loop failed", "error", err)
			}
		}()
		log.Info("server listening on ipv6", "address", ln6.Addr().String())
	}

	wsAddr := net.JoinHostPort(*address, strconv.Itoa(*port+1))
	go func() {
		if err := h.ServeWebSocket(wsAddr); err != nil {
			log.Error("websocket listener failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		h.Stop()
	}()

	if err := h.Run(); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(2)
	}

	stats := h.Snapshot()
	log.Info("server stopped",
		"clients_joined", stats.ClientsJoined,
		"frames_relayed", stats.FramesRelayed)
}
