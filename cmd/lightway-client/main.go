/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command lightway-client dials a lightway-server and feeds the
// resulting connection's decrypted traffic to a local TUN device
// (§2, client role).
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	spfcbr "github.com/spf13/cobra"

	libcbr "github.com/expressvpn/lightway/cobra"
	"github.com/expressvpn/lightway/internal/telemetry"
	"github.com/expressvpn/lightway/logger"
	"github.com/expressvpn/lightway/logger/config"
	"github.com/expressvpn/lightway/logger/level"
	"github.com/expressvpn/lightway/server"
	"github.com/expressvpn/lightway/tun/direct"
	libver "github.com/nabbar/golib/version"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	flagPSK       string
	flagServer    string
	flagTransport string
	flagTunName   string
	flagMTU       int

	flagKeyUpdate time.Duration
	flagKeepalive time.Duration
	flagKATimeout time.Duration
)

func main() {
	app := libcbr.New()
	app.SetVersion(libver.NewVersion(
		libver.License_MIT,
		"lightway-client",
		"Lightway client data plane",
		"2026-07-30",
		"",
		"v0.1.0",
		"expressvpn",
		"lightway-client",
		struct{}{},
	))
	app.SetFuncInit(func() {})
	app.Init()

	var verbose int
	app.SetFlagVerbose(true, &verbose)

	app.AddFlagString(true, &flagPSK, "psk", "", "", "hex-encoded 32-byte pre-shared key (required)")
	app.AddFlagString(true, &flagServer, "server", "", "", "server address:port to dial (required)")
	app.AddFlagString(true, &flagTransport, "transport", "t", "udp", "outside transport: udp or tcp")
	app.AddFlagString(true, &flagTunName, "tun-name", "", "lightway0", "TUN device name to create")
	app.AddFlagInt(true, &flagMTU, "mtu", "", 1350, "inside MTU advertised locally before the server's NetworkConfig arrives")

	app.AddFlagDuration(true, &flagKeyUpdate, "key-update-interval", "", 1*time.Hour, "AEAD traffic key rotation interval")
	app.AddFlagDuration(true, &flagKeepalive, "keepalive-interval", "", 5*time.Second, "keepalive ping interval")
	app.AddFlagDuration(true, &flagKATimeout, "keepalive-timeout", "", 20*time.Second, "keepalive timeout before the connection is torn down")

	app.AddCommandCompletion()
	app.Cobra().RunE = run

	if err := app.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *spfcbr.Command, _ []string) error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}

	log := logger.New(context.Background())
	log.SetLevel(level.InfoLevel)
	if err := log.SetOptions(&config.Options{Stdout: &config.OptionsStd{EnableTrace: true}}); err != nil {
		return err
	}
	defer log.Close()
	cfg.Log = func() logger.Logger { return log }
	cfg.Metrics = telemetry.New(prometheus.NewRegistry())

	tunEngine, err := direct.New(flagTunName, flagMTU)
	if err != nil {
		return err
	}
	defer tunEngine.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()

	cl, err := server.Dial(dialCtx, cfg, tunEngine)
	if err != nil {
		return err
	}
	defer cl.Close()

	if nc, ok := cl.NetworkConfig(); ok {
		log.Info(fmt.Sprintf("connected: client-ip=%s server-ip=%s dns-ip=%s mtu=%d", nc.ClientIP, nc.ServerIP, nc.DNSIP, nc.MTU), nil)
	}

	<-ctx.Done()
	return nil
}

func parseConfig() (server.ClientConfig, error) {
	psk, err := parsePSK(flagPSK)
	if err != nil {
		return server.ClientConfig{}, err
	}

	addr, err := netip.ParseAddrPort(flagServer)
	if err != nil {
		return server.ClientConfig{}, fmt.Errorf("invalid --server: %w", err)
	}

	transport, err := parseTransport(flagTransport)
	if err != nil {
		return server.ClientConfig{}, err
	}

	return server.ClientConfig{
		PSK:               psk,
		ServerAddr:        addr,
		Transport:         transport,
		KeyUpdateInterval: flagKeyUpdate,
		KeepaliveInterval: flagKeepalive,
		KeepaliveTimeout:  flagKATimeout,
	}, nil
}

func parsePSK(s string) ([32]byte, error) {
	var psk [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return psk, fmt.Errorf("invalid --psk: %w", err)
	}
	if len(raw) != 32 {
		return psk, fmt.Errorf("--psk must decode to exactly 32 bytes, got %d", len(raw))
	}
	copy(psk[:], raw)
	return psk, nil
}

func parseTransport(s string) (server.TransportKind, error) {
	switch s {
	case "udp":
		return server.TransportUDP, nil
	case "tcp":
		return server.TransportTCP, nil
	default:
		return 0, fmt.Errorf("invalid --transport %q: must be udp or tcp", s)
	}
}
