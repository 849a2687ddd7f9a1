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

// Package tcp is the streaming outside transport (§4.7): an accept
// loop tolerant of accept(2) failures, optional PROXY protocol v2
// consumption at connect time, and one reader goroutine per socket
// feeding length-framed records to connection.Connection.
package tcp

import (
	"bufio"
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/expressvpn/lightway/connection"
	"github.com/expressvpn/lightway/connmgr"
	"github.com/expressvpn/lightway/internal/telemetry"
	"github.com/expressvpn/lightway/logger"
)

// ConnFactory builds the connection.Config for a newly accepted,
// PROXY-resolved peer. As with transport/udp.AdapterFactory, producing
// an Adapter means driving a handshake -- server/cmd territory.
type ConnFactory func(peerAddr net.Addr) (connection.Config, error)

// Config configures a Server.
type Config struct {
	BindAddr      string
	ProxyProtocol bool

	Manager *connmgr.Manager
	Metrics *telemetry.Sink
	Log     logger.FuncLog
	NewConn ConnFactory

	// OnNewConnection, if set, is called once for every accepted
	// connection right after it is created -- unlike transport/udp
	// there is no fast-path recovery to exclude, a TCP accept is
	// always a brand new connection. server/cmd uses this the same
	// way it uses transport/udp's hook of the same name.
	OnNewConnection func(*connection.Connection)
}

// Server is the streaming outside transport: one TCP listener, every
// accepted socket becoming its own Stream connection.
type Server struct {
	cfg Config
	ln  net.Listener

	running atomic.Bool
	gone    atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds the listener. The server does not start accepting until
// Listen is called.
func New(cfg Config) (*Server, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.New(prometheus.NewRegistry())
	}

	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return nil, ErrListenFailed.Error(err)
	}
	return newServer(cfg, ln), nil
}

func newServer(cfg Config, ln net.Listener) *Server {
	s := &Server{cfg: cfg, ln: ln}
	s.gone.Store(true)
	return s
}

// Listen starts the accept loop in a background goroutine and returns
// immediately. Cancel ctx or call Shutdown/Close to stop it.
func (s *Server) Listen(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning.Error(nil)
	}
	s.gone.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

// Shutdown stops the accept loop and waits for every in-flight
// handler goroutine to return, or for ctx to expire first.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.Load() {
		return ErrNotRunning.Error(nil)
	}
	s.cancel()
	_ = s.ln.Close()

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

// Close stops the accept loop (if running) and releases the listener.
// Safe to call more than once.
func (s *Server) Close() error {
	if s.running.Load() {
		s.cancel()
		_ = s.ln.Close()
		s.wg.Wait()
	}
	if s.gone.CompareAndSwap(false, true) {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) IsRunning() bool { return s.running.Load() }
func (s *Server) IsGone() bool    { return s.gone.Load() }

// Addr reports the listener's bound address, useful when BindAddr asks
// for an ephemeral port (":0").
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) OpenConnections() int64 {
	if s.cfg.Manager == nil {
		return 0
	}
	return int64(s.cfg.Manager.Len())
}

// acceptLoop is tolerant of accept(2) failures per §4.7: one failed
// accept is logged and the loop continues, never exits, unless ctx has
// been cancelled (in which case the listener is already closed and
// Accept's error is expected).
func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.running.Store(false)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logError("tcp accept failed", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	peerAddr := conn.RemoteAddr()
	localAddr := conn.LocalAddr()

	reader := bufio.NewReader(conn)
	if s.cfg.ProxyProtocol {
		resolved, reason, err := resolveProxyProtocolPeer(reader)
		if err != nil {
			s.logError("PROXY protocol header rejected", err)
			s.cfg.Metrics.ProxyProtocolRejected.WithLabelValues(reason).Inc()
			return
		}
		peerAddr = resolved
	}

	cfg, err := s.cfg.NewConn(peerAddr)
	if err != nil {
		s.logError("building connection config failed", err)
		return
	}

	sender := newOutsideSender(conn)
	cfg.Outside = sender

	netPeerAddr, ok := toAddrPort(peerAddr)
	if !ok {
		s.logError("peer address is not IP-based", nil)
		return
	}
	netLocalAddr, _ := toAddrPort(localAddr)

	c, err := s.cfg.Manager.CreateStreamingConnection(netLocalAddr, netPeerAddr, cfg)
	if err != nil {
		s.logError("creating streaming connection failed", err)
		return
	}

	if s.cfg.OnNewConnection != nil {
		s.cfg.OnNewConnection(c)
	}

	s.readLoop(c, reader)
}

// readLoop reads length-framed records until one is malformed, a
// decrypt/dispatch error occurs, or the stream ends -- all fatal per
// §4.7 (there is no per-record drop-and-recover for a stream the way
// there is for a datagram). End-of-stream is the ordinary case and
// does not bump FramingErrorFatal; a genuinely malformed length prefix
// or an oversized record does.
func (s *Server) readLoop(c *connection.Connection, reader *bufio.Reader) {
	defer func() { _ = c.Disconnect() }()

	for {
		record, err := readRecord(reader)
		if err != nil {
			if !isEndOfStream(err) {
				s.cfg.Metrics.FramingErrorFatal.Inc()
			}
			return
		}

		if _, err := c.ReceiveOutsideRecord(time.Now(), record); err != nil {
			s.logError("outside data processing failed", err)
			s.cfg.Metrics.FramingErrorFatal.Inc()
			return
		}
	}
}

func (s *Server) logError(msg string, err error) {
	if s.cfg.Log == nil {
		return
	}
	if log := s.cfg.Log(); log != nil {
		log.Error(msg, err)
	}
}
