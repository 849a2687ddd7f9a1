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

// Package server wires the rest of this module into the two runnable
// roles described by §2: a server fanning one TUN device out across
// many connections via a destination-IP router, and a client driving
// exactly one connection to a configured remote. Neither role's
// handshake is a real DTLS/TLS negotiation (see keys.go); everything
// downstream of key derivation -- connection lifecycle, record layer,
// expresslane, keepalive, IP pooling, session rotation -- is the same
// machinery the rest of this module already implements.
package server

import (
	"net/netip"
	"time"

	"github.com/expressvpn/lightway/internal/telemetry"
	"github.com/expressvpn/lightway/logger"
)

// TransportKind selects the outside transport a Server or Client
// speaks (§4.6, §4.7).
type TransportKind uint8

const (
	TransportUDP TransportKind = iota
	TransportTCP
)

// Config configures a Server.
type Config struct {
	PSK       [32]byte
	BindAddr  netip.AddrPort
	Transport TransportKind

	// ProxyProtocol accepts a PROXY protocol v2 header at the front of
	// every accepted TCP connection; ignored for TransportUDP.
	ProxyProtocol bool

	// Network is the address range ServerIP, DNSIP and every allocated
	// client address are drawn from.
	Network  netip.Prefix
	ServerIP netip.Addr
	DNSIP    netip.Addr
	MTU      int

	KeyUpdateInterval time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	// AuthTTL bounds how long a connection may stay Online before
	// connmgr's reaper tears it down for an expired authentication
	// (§4.5); zero means authentication never expires.
	AuthTTL time.Duration

	GSOEnabled    bool
	GSOQueueLimit int

	Metrics *telemetry.Sink
	Log     logger.FuncLog
}
