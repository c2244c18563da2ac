package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/crypto"
	"github.com/zfogg/ascii-chat/pkg/acip/discoveryclient"
	"github.com/zfogg/ascii-chat/pkg/acip/logx"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

func main() {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	logFlags := logx.RegisterFlags(fs)

	hostName := fs.String("host", "localhost", "Server hostname or address")
	port := fs.Int("port", 27224, "Server TCP port")
	useWebSocket := fs.Bool("websocket", false, "Connect over WebSocket instead of raw TCP")
	noEncrypt := fs.Bool("no-encrypt", false, "Skip the crypto handshake (plaintext session)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "ascii-chat client: connect to a session host\n\n")
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

	var exiting atomic.Bool
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		exiting.Store(true)
	}()
	shouldExit := func() bool { return exiting.Load() }

	var conn transport.Conn
	if *useWebSocket {
		url := fmt.Sprintf("ws://%s:%d/", *hostName, *port+1)
		conn, err = transport.DialWebSocket(url, 5*time.Second, log.Logger)
	} else {
		conn, err = transport.DialParallel(*hostName, *port, 5*time.Second, shouldExit, transport.DefaultKeepalive, log.Logger)
	}
	if err != nil {
		log.Error("connect failed", "host", *hostName, "port", *port, "error", err)
		os.Exit(2)
	}
	defer conn.Close()
	log.Info("connected", "peer", conn.PeerID(), "transport", conn.Kind())

	var secure *crypto.SecureStream
	if !*noEncrypt {
		secure, err = discoveryclient.InitiatorHandshake(conn)
		if err != nil {
			log.Error("handshake failed", "error", err)
			os.Exit(2)
		}
		log.Info("secure stream established")
	}

	if err := join(conn, secure); err != nil {
		log.Error("join failed", "error", err)
		os.Exit(2)
	}

	if err := run(conn, secure, shouldExit, log); err != nil {
		log.Error("session failed", "error", err)
		os.Exit(2)
	}
	log.Info("client stopped")
}

// join declares the protocol version, our capabilities, and membership,
// in the order the wire protocol requires.
func join(conn transport.Conn, secure *crypto.SecureStream) error {
	settings, err := packet.DefaultSettings().Encode()
	if err != nil {
		return err
	}

	for _, msg := range []struct {
		typ     packet.Type
		payload []byte
	}{
		{packet.TypeProtocolVersion, []byte{0, 1}},
		{packet.TypeClientCapabilities, settings},
		{packet.TypeClientJoin, nil},
	} {
		if err := send(conn, secure, msg.typ, msg.payload); err != nil {
			return err
		}
	}
	return nil
}

func send(conn transport.Conn, secure *crypto.SecureStream, typ packet.Type, payload []byte) error {
	out := payload
	if secure != nil {
		sealed, err := secure.Seal(payload)
		if err != nil {
			return err
		}
		out = sealed
	}
	encoded, err := packet.EncodeNext(typ, out)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(encoded); err != nil {
		return acerr.Wrap(acerr.ConnectionReset, "send packet", err)
	}
	return nil
}

// run services the session: answer pings and account received frames.
// Frame rendering happens outside the session fabric.
func run(conn transport.Conn, secure *crypto.SecureStream, shouldExit func() bool, log *logx.Logger) error {
	var frames, audioBatches uint64
	for {
		if shouldExit() {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		pkt, err := packet.DecodeStream(conn)
		if err != nil {
			code, _ := acerr.CodeOf(err)
			if code == acerr.Timeout {
				continue
			}
			if code == acerr.EndOfStream {
				log.Info("server closed the connection", "frames", frames, "audio_batches", audioBatches)
				return nil
			}
			return err
		}

		payload := pkt.Payload
		if secure != nil {
			if payload, err = secure.Open(pkt.Payload); err != nil {
				return err
			}
		}

		switch pkt.Type {
		case packet.TypePing:
			if err := send(conn, secure, packet.TypePong, nil); err != nil {
				return err
			}
		case packet.TypeImageFrame:
			frames++
			log.DebugTransport("frame received", "bytes", len(payload), "total", frames)
		case packet.TypeAudioBatch:
			audioBatches++
		case packet.TypeErrorMessage:
			log.Warn("server error message", "message", string(payload))
		}
	}
}
