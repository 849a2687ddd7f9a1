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

// Command lightway-server runs the server role (§2): one TUN device
// fanned out across every connection a configured listener accepts.
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
	flagPSK        string
	flagBind       string
	flagTransport  string
	flagNetwork    string
	flagServerIP   string
	flagDNSIP      string
	flagTunName    string
	flagMTU        int
	flagProxyProto bool

	flagKeyUpdate time.Duration
	flagKeepalive time.Duration
	flagKATimeout time.Duration
	flagAuthTTL   time.Duration
)

func main() {
	app := libcbr.New()
	app.SetVersion(libver.NewVersion(
		libver.License_MIT,
		"lightway-server",
		"Lightway server data plane",
		"2026-07-30",
		"",
		"v0.1.0",
		"expressvpn",
		"lightway-server",
		struct{}{},
	))
	app.SetFuncInit(func() {})
	app.Init()

	var verbose int
	app.SetFlagVerbose(true, &verbose)

	app.AddFlagString(true, &flagPSK, "psk", "", "", "hex-encoded 32-byte pre-shared key (required)")
	app.AddFlagString(true, &flagBind, "bind", "", "0.0.0.0:27690", "address:port to listen on")
	app.AddFlagString(true, &flagTransport, "transport", "t", "udp", "outside transport: udp or tcp")
	app.AddFlagString(true, &flagNetwork, "network", "", "10.125.0.0/16", "internal address range to allocate clients from")
	app.AddFlagString(true, &flagServerIP, "server-ip", "", "10.125.0.1", "server's own address inside network")
	app.AddFlagString(true, &flagDNSIP, "dns-ip", "", "10.125.0.2", "DNS resolver address inside network")
	app.AddFlagString(true, &flagTunName, "tun-name", "", "lightway0", "TUN device name to create")
	app.AddFlagInt(true, &flagMTU, "mtu", "", 1350, "inside MTU advertised to clients")
	app.AddFlagBool(true, &flagProxyProto, "proxy-protocol", "", false, "expect a PROXY protocol v2 header on every accepted TCP connection")

	app.AddFlagDuration(true, &flagKeyUpdate, "key-update-interval", "", 1*time.Hour, "AEAD traffic key rotation interval")
	app.AddFlagDuration(true, &flagKeepalive, "keepalive-interval", "", 5*time.Second, "keepalive ping interval")
	app.AddFlagDuration(true, &flagKATimeout, "keepalive-timeout", "", 20*time.Second, "keepalive timeout before a connection is torn down")
	app.AddFlagDuration(true, &flagAuthTTL, "auth-ttl", "", 0, "maximum time a connection may stay authenticated; 0 disables expiry")

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

	tunEngine, err := direct.New(flagTunName, cfg.MTU)
	if err != nil {
		return err
	}
	defer tunEngine.Close()

	srv, err := server.New(cfg, tunEngine)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info(fmt.Sprintf("lightway-server listening on %s (%s)", flagBind, flagTransport), nil)

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return srv.Stop(stopCtx)
}

func parseConfig() (server.Config, error) {
	psk, err := parsePSK(flagPSK)
	if err != nil {
		return server.Config{}, err
	}

	bind, err := netip.ParseAddrPort(flagBind)
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid --bind: %w", err)
	}

	network, err := netip.ParsePrefix(flagNetwork)
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid --network: %w", err)
	}

	serverIP, err := netip.ParseAddr(flagServerIP)
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid --server-ip: %w", err)
	}

	dnsIP, err := netip.ParseAddr(flagDNSIP)
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid --dns-ip: %w", err)
	}

	transport, err := parseTransport(flagTransport)
	if err != nil {
		return server.Config{}, err
	}

	return server.Config{
		PSK:               psk,
		BindAddr:          bind,
		Transport:         transport,
		ProxyProtocol:     flagProxyProto,
		Network:           network,
		ServerIP:          serverIP,
		DNSIP:             dnsIP,
		MTU:               flagMTU,
		KeyUpdateInterval: flagKeyUpdate,
		KeepaliveInterval: flagKeepalive,
		KeepaliveTimeout:  flagKATimeout,
		AuthTTL:           flagAuthTTL,
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
