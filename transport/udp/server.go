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

// Package udp is the datagram outside transport (§4.6): a recvmsg/
// sendmsg loop over one UDP socket shared by every connection bound to
// it, a connmgr.Manager doing connection lookup/creation/address
// recovery, and the wire header parse that happens before either.
package udp

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/expressvpn/lightway/connection"
	"github.com/expressvpn/lightway/connmgr"
	"github.com/expressvpn/lightway/internal/telemetry"
	"github.com/expressvpn/lightway/logger"
	"github.com/expressvpn/lightway/wire"
)

// maxOutsideMTU bounds the recv buffer every read reuses (§4.6).
const maxOutsideMTU = 1500

// AdapterFactory builds the connection.Config (adapter, role, version,
// logger...) for a newly observed peer. Producing an Adapter means
// driving whatever handshake negotiates its AEAD keys, which is
// server/cmd territory, not this package's -- the same reasoning that
// put NetworkConfig/EncodingRequest handling behind
// connection.Config.OnControlFrame rather than inside Connection
// itself. This package fills in Outside and OnControlFrame itself
// before handing the result to connmgr.
type AdapterFactory func(peerAddr netip.AddrPort) (connection.Config, error)

// Config configures a Server.
type Config struct {
	BindAddr      netip.AddrPort
	BufferSize    int
	GSOEnabled    bool
	GSOQueueLimit int

	Manager    *connmgr.Manager
	Metrics    *telemetry.Sink
	Log        logger.FuncLog
	NewAdapter AdapterFactory

	// OnNewConnection, if set, is called once for each connection genuinely
	// created by this server (not one recovered via the fast Lookup
	// path or a pending-rotation hit), before the record that created
	// it has finished being processed. server.Server uses this to start
	// bringOnline for the new *connection.Connection, which NewAdapter
	// cannot capture directly since it builds the Config before the
	// connection it will belong to exists.
	OnNewConnection func(*connection.Connection)
}

// Server is the datagram outside transport: one bound socket shared by
// every connection the configured connmgr.Manager tracks.
type Server struct {
	cfg  Config
	sock rawSocket
	mode bindMode

	running atomic.Bool
	gone    atomic.Bool

	sendersMu sync.Mutex
	senders   map[*connection.Connection]*outsideSender

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds the outside socket. The server does not start receiving
// until Listen is called.
func New(cfg Config) (*Server, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.New(prometheus.NewRegistry())
	}

	sock, err := newRawSocket(cfg.BindAddr, cfg.BufferSize)
	if err != nil {
		return nil, err
	}

	return newServer(cfg, sock), nil
}

// newServer wires a Server around an already-constructed rawSocket,
// letting tests substitute a fake socket in place of newRawSocket's OS
// binding.
func newServer(cfg Config, sock rawSocket) *Server {
	s := &Server{
		cfg:     cfg,
		sock:    sock,
		mode:    classifyBindMode(cfg.BindAddr),
		senders: make(map[*connection.Connection]*outsideSender),
	}
	s.gone.Store(true)
	return s
}

// Listen starts the receive loop in a background goroutine and returns
// immediately. Cancel ctx or call Shutdown/Close to stop it.
func (s *Server) Listen(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning.Error(nil)
	}
	s.gone.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.recvLoop(ctx)

	return nil
}

// Shutdown stops the receive loop and waits for it to return, or for
// ctx to expire first.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.Load() {
		return ErrNotRunning.Error(nil)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the receive loop (if running) and releases the socket.
// Safe to call more than once.
func (s *Server) Close() error {
	if s.running.Load() {
		s.cancel()
		s.wg.Wait()
	}
	if s.gone.CompareAndSwap(false, true) {
		return s.sock.close()
	}
	return nil
}

func (s *Server) IsRunning() bool { return s.running.Load() }
func (s *Server) IsGone() bool    { return s.gone.Load() }

// OpenConnections reports the manager's current connection count.
func (s *Server) OpenConnections() int64 {
	if s.cfg.Manager == nil {
		return 0
	}
	return int64(s.cfg.Manager.Len())
}

func (s *Server) recvLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.running.Store(false)

	buf := make([]byte, maxOutsideMTU)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, peerAddr, localAddr, err := s.sock.recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logError("udp recv failed", err)
			continue
		}

		s.dataReceived(peerAddr, localAddr, buf[:n])
	}
}

// dataReceived implements §4.6 step-by-step: parse the header only,
// reject unsupported versions, take the fast lookup path by peer
// address before falling through to FindOrCreateDatagramConnection,
// decrypt, and branch on the replay/success/error outcome.
func (s *Server) dataReceived(peerAddr, localAddr netip.AddrPort, buf []byte) {
	hdr, consumed, err := wire.ParseHeader(buf)
	if err != nil {
		s.cfg.Metrics.NoHeader.Inc()
		return
	}

	if !s.cfg.Manager.IsSupportedVersion(hdr.Version) {
		s.cfg.Metrics.BadPacketVersion.WithLabelValues(hdr.Version.String()).Inc()
		return
	}

	record := buf[consumed:]

	conn, updatePeerAddr, err := s.lookupOrCreate(peerAddr, localAddr, hdr)
	if err != nil {
		s.sendReject(peerAddr, localAddr)
		return
	}

	if hdr.Flags.ExpressData() {
		s.expressDataReceived(conn, peerAddr, updatePeerAddr, record)
		return
	}

	n, err := conn.ReceiveOutsideRecord(time.Now(), record)
	switch {
	case err != nil:
		s.logError("outside data processing failed", err)
		_ = conn.Disconnect()

	case n == 0:
		if updatePeerAddr {
			s.cfg.Metrics.SessionRotationViaReplay.Inc()
		}

	default:
		if updatePeerAddr {
			s.cfg.Metrics.ConnRecoveredViaSession.Inc()
			conn.TriggerSessionIDRotation()
			s.cfg.Manager.SetPeerAddr(conn, peerAddr)
			s.sendersMu.Lock()
			sender := s.senders[conn]
			s.sendersMu.Unlock()
			if sender != nil {
				sender.SetPeerAddr(peerAddr)
			}
		}
	}
}

// expressDataReceived opens one ExpresslaneData envelope instead of
// routing through conn.ReceiveOutsideRecord's per-frame AEAD decrypt
// (§4.3, §8 scenario S4). Address-floating recovery (§4.6 step 3)
// applies the same way it does to the normal path: a session-id hit
// from an unexpected address still migrates the connection.
func (s *Server) expressDataReceived(conn *connection.Connection, peerAddr netip.AddrPort, updatePeerAddr bool, record []byte) {
	d, _, err := wire.ParseExpresslaneData(record)
	if err != nil {
		s.cfg.Metrics.NoHeader.Inc()
		return
	}

	if err := conn.ReceiveExpresslaneData(time.Now(), d); err != nil {
		s.logError("expresslane data processing failed", err)
		return
	}

	if updatePeerAddr {
		s.cfg.Metrics.ConnRecoveredViaSession.Inc()
		conn.TriggerSessionIDRotation()
		s.cfg.Manager.SetPeerAddr(conn, peerAddr)
		s.sendersMu.Lock()
		sender := s.senders[conn]
		s.sendersMu.Unlock()
		if sender != nil {
			sender.SetPeerAddr(peerAddr)
		}
	}
}

func (s *Server) lookupOrCreate(peerAddr, localAddr netip.AddrPort, hdr wire.Header) (*connection.Connection, bool, error) {
	if conn, ok := s.cfg.Manager.Lookup(peerAddr); ok {
		return conn, false, nil
	}

	cfg, err := s.cfg.NewAdapter(peerAddr)
	if err != nil {
		return nil, false, err
	}

	var gsoLimit int
	if s.cfg.GSOEnabled {
		gsoLimit = s.cfg.GSOQueueLimit
	}
	sender := newOutsideSender(s.sock, s.cfg.Metrics, peerAddr, localAddr, gsoLimit)
	cfg.Outside = sender
	if cfg.OnControlFrame == nil {
		cfg.OnControlFrame = func(wire.Frame) {}
	}

	conn, updatePeerAddr, err := s.cfg.Manager.FindOrCreateDatagramConnection(peerAddr, hdr.Version, hdr.SessionID, localAddr, cfg)
	if err != nil {
		return nil, false, err
	}

	// FindOrCreateDatagramConnection returns an already-existing
	// connection (recovered via pending session id, or a byAddr hit
	// racing the Lookup miss above) without ever touching cfg -- in
	// that case sender was built for nothing and must not replace the
	// real one already registered for conn.
	s.sendersMu.Lock()
	_, exists := s.senders[conn]
	if !exists {
		s.senders[conn] = sender
		sender.bind(conn)
	}
	s.sendersMu.Unlock()

	if !exists {
		go s.forgetSenderOnDisconnect(conn)
		if s.cfg.OnNewConnection != nil {
			s.cfg.OnNewConnection(conn)
		}
	}

	return conn, updatePeerAddr, nil
}

func (s *Server) forgetSenderOnDisconnect(conn *connection.Connection) {
	<-conn.Done()
	s.sendersMu.Lock()
	delete(s.senders, conn)
	s.sendersMu.Unlock()
}

func (s *Server) sendReject(peerAddr, localAddr netip.AddrPort) {
	s.cfg.Metrics.RejectedSession.Inc()

	reply := wire.Header{Version: wire.MinSupportedVersion, SessionID: wire.RejectedSessionID}
	buf := reply.AppendTo(make([]byte, 0, wire.HeaderSize))
	_ = s.sock.send(buf, peerAddr, localAddr)
}

func (s *Server) logError(msg string, err error) {
	if s.cfg.Log == nil {
		return
	}
	if log := s.cfg.Log(); log != nil {
		log.Error(msg, err)
	}
}
