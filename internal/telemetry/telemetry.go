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

// Package telemetry is the counter sink every "bump a metric" mention
// in the data-plane spec resolves to. One Sink per process, registered
// against a caller-supplied prometheus.Registerer so cmd/lightway-server
// and cmd/lightway-client can expose it however their ambient HTTP
// stack prefers.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Sink holds every counter the outside/inside transports and the
// connection manager increment. Fields are exported Counters rather
// than hidden behind methods: callers on a hot path should not pay for
// an extra function call per packet.
type Sink struct {
	BadPacketVersion          *prometheus.CounterVec
	ParseWireFailed           prometheus.Counter
	NoHeader                  prometheus.Counter
	SessionRotationViaReplay  prometheus.Counter
	ConnRecoveredViaSession   prometheus.Counter
	RejectedSession           prometheus.Counter
	IndexDisagreement         prometheus.Counter
	GsoQueueFull              prometheus.Counter
	PktinfoMissing            prometheus.Counter
	ProxyProtocolRejected     *prometheus.CounterVec
	FramingErrorFatal         prometheus.Counter
	ReapedIdle                prometheus.Counter
	ReapedAuthExpired         prometheus.Counter
	ReapedPending             prometheus.Counter
	TunPacketDropped          prometheus.Counter
	TunIoUringBlocked         prometheus.Counter
	TunRxError                prometheus.Counter
}

// New builds a Sink and registers every collector with reg. reg is
// typically a dedicated prometheus.Registry rather than the global
// DefaultRegisterer, so tests can construct independent Sinks.
func New(reg prometheus.Registerer) *Sink {
	s := &Sink{
		BadPacketVersion: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightway",
			Subsystem: "udp",
			Name:      "bad_packet_version_total",
			Help:      "Outside packets dropped for carrying an unsupported protocol version.",
		}, []string{"version"}),
		ParseWireFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "udp", Name: "parse_wire_failed_total",
			Help: "Outside packets dropped because the wire header could not be parsed.",
		}),
		NoHeader: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "udp", Name: "no_header_total",
			Help: "Outside packets too short to contain a header.",
		}),
		SessionRotationViaReplay: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "connmgr", Name: "session_rotation_attempted_via_replay_total",
			Help: "A replayed record implied an address move; the address was not migrated.",
		}),
		ConnRecoveredViaSession: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "connmgr", Name: "conn_recovered_via_session_total",
			Help: "A connection's address was recovered via its pending session id after a successful decrypt.",
		}),
		RejectedSession: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "udp", Name: "rejected_session_total",
			Help: "REJECTED replies sent for an unknown session id.",
		}),
		IndexDisagreement: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "connmgr", Name: "index_disagreement_total",
			Help: "The peer-addr and session-id indexes disagreed; peer-addr won.",
		}),
		GsoQueueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "udp", Name: "gso_queue_full_total",
			Help: "A packet was dropped because a connection's GSO send queue was full.",
		}),
		PktinfoMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "udp", Name: "pktinfo_missing_total",
			Help: "recvmsg on an unspecified bind address returned no IP_PKTINFO ancillary data.",
		}),
		ProxyProtocolRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "tcp", Name: "proxy_protocol_rejected_total",
			Help: "Incoming TCP connections rejected during PROXY protocol header parsing.",
		}, []string{"reason"}),
		FramingErrorFatal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "tcp", Name: "framing_error_fatal_total",
			Help: "TCP connections terminated by an unrecoverable framing error.",
		}),
		ReapedIdle: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "connmgr", Name: "reaped_idle_total",
			Help: "Connections disconnected by the idle-connection reaper.",
		}),
		ReapedAuthExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "connmgr", Name: "reaped_auth_expired_total",
			Help: "Connections disconnected by the authentication-expiry reaper.",
		}),
		ReapedPending: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "connmgr", Name: "reaped_pending_total",
			Help: "Pending-rotation entries dropped once their target had already disconnected.",
		}),
		TunPacketDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "tun", Name: "packet_dropped_total",
			Help: "A TUN receive was dropped because the engine's delivery channel was full.",
		}),
		TunIoUringBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "tun", Name: "iouring_blocked_total",
			Help: "The io_uring engine's submitter thread blocked waiting for a completion or the tx queue.",
		}),
		TunRxError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lightway", Subsystem: "tun", Name: "rx_error_total",
			Help: "A TUN read completion reported an error other than EAGAIN.",
		}),
	}

	reg.MustRegister(
		s.BadPacketVersion, s.ParseWireFailed, s.NoHeader, s.SessionRotationViaReplay,
		s.ConnRecoveredViaSession, s.RejectedSession, s.IndexDisagreement, s.GsoQueueFull,
		s.PktinfoMissing, s.ProxyProtocolRejected, s.FramingErrorFatal, s.ReapedIdle,
		s.ReapedAuthExpired, s.ReapedPending, s.TunPacketDropped, s.TunIoUringBlocked,
		s.TunRxError,
	)

	return s
}
