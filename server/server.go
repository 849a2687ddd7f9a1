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

package server

import (
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
	"github.com/expressvpn/lightway/ippool"
	"github.com/expressvpn/lightway/keepalive"
	"github.com/expressvpn/lightway/recordlayer"
	lwtun "github.com/expressvpn/lightway/tun"
	tcptransport "github.com/expressvpn/lightway/transport/tcp"
	udptransport "github.com/expressvpn/lightway/transport/udp"
	"github.com/expressvpn/lightway/wire"
)

// Server is the server role (§2): one TUN device, one outside
// transport, many connections sharing a router and an IP pool.
type Server struct {
	cfg Config
	tun lwtun.Engine

	pool   *ippool.Pool
	mgr    *connmgr.Manager
	router *mapRouter

	clientToServerKey, serverToClientKey [32]byte

	udp *udptransport.Server
	tcp *tcptransport.Server

	keepalivesMu sync.Mutex
	keepalives   map[*connection.Connection]*keepalive.Keepalive

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Server around tun without starting it; call Start to
// bind the outside transport and begin serving.
func New(cfg Config, tun lwtun.Engine) (*Server, error) {
	if tun == nil {
		return nil, ErrTUNRequired.Error(nil)
	}
	if cfg.PSK == ([32]byte{}) {
		return nil, ErrInvalidPSK.Error(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.New(prometheus.NewRegistry())
	}

	clientToServer, serverToClient, err := deriveStaticKeys(cfg.PSK)
	if err != nil {
		return nil, err
	}

	pool, err := ippool.New(cfg.Network, []netip.Addr{cfg.ServerIP, cfg.DNSIP})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:               cfg,
		tun:               tun,
		pool:              pool,
		mgr:               connmgr.New(cfg.Log),
		router:            newMapRouter(),
		clientToServerKey: clientToServer,
		serverToClientKey: serverToClient,
		keepalives:        make(map[*connection.Connection]*keepalive.Keepalive),
	}

	switch cfg.Transport {
	case TransportUDP:
		srv, err := udptransport.New(udptransport.Config{
			BindAddr:      cfg.BindAddr,
			GSOEnabled:    cfg.GSOEnabled,
			GSOQueueLimit: cfg.GSOQueueLimit,
			Manager:       s.mgr,
			Metrics:       cfg.Metrics,
			Log:           cfg.Log,
			NewAdapter:    s.newAdapterConfig,
			OnNewConnection: func(c *connection.Connection) {
				go s.bringOnline(c)
			},
		})
		if err != nil {
			return nil, err
		}
		s.udp = srv

	case TransportTCP:
		srv, err := tcptransport.New(tcptransport.Config{
			BindAddr:      cfg.BindAddr.String(),
			ProxyProtocol: cfg.ProxyProtocol,
			Manager:       s.mgr,
			Metrics:       cfg.Metrics,
			Log:           cfg.Log,
			NewConn:       s.newConnConfig,
			OnNewConnection: func(c *connection.Connection) {
				go s.bringOnline(c)
			},
		})
		if err != nil {
			return nil, err
		}
		s.tcp = srv

	default:
		return nil, ErrUnsupportedTransport.Error(nil)
	}

	return s, nil
}

// newAdapterConfig builds the connection.Config transport/udp needs
// for a newly observed peer -- everything except Outside, which the
// transport fills in itself once the sender exists.
func (s *Server) newAdapterConfig(netip.AddrPort) (connection.Config, error) {
	return s.newConfig()
}

// newConnConfig is newAdapterConfig's transport/tcp counterpart; the
// PROXY-resolved peer address it receives isn't needed here, since
// CreateStreamingConnection fills PeerAddr/LocalAddr itself.
func (s *Server) newConnConfig(net.Addr) (connection.Config, error) {
	return s.newConfig()
}

func (s *Server) newConfig() (connection.Config, error) {
	adapter, err := recordlayer.NewAEADAdapter(s.serverToClientKey, s.clientToServerKey, s.cfg.KeyUpdateInterval)
	if err != nil {
		return connection.Config{}, err
	}

	return connection.Config{
		Role:      connection.RoleServer,
		Version:   wire.MinSupportedVersion,
		Adapter:   adapter,
		Inside:    tunInsideSender{tun: s.tun},
		ReleaseIP: s.pool.Free,
		Log:       s.cfg.Log,
		Now:       time.Now(),
	}, nil
}

// Start binds the outside transport's accept/receive loop and the TUN
// read loop. Cancel ctx or call Stop to wind both down.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning.Error(nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	var err error
	switch s.cfg.Transport {
	case TransportUDP:
		err = s.udp.Listen(ctx)
	case TransportTCP:
		err = s.tcp.Listen(ctx)
	}
	if err != nil {
		s.running.Store(false)
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runInsideReadLoop(ctx, s.tun, s.router.route, s.cfg.Metrics)
	}()

	return nil
}

// Stop shuts the outside transport down and waits for the TUN read
// loop to return, or for ctx to expire first.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return ErrNotRunning.Error(nil)
	}
	s.cancel()

	var err error
	switch s.cfg.Transport {
	case TransportUDP:
		err = s.udp.Shutdown(ctx)
	case TransportTCP:
		err = s.tcp.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.running.Store(false)
	return err
}

// OpenConnections reports the number of connections currently tracked
// by the connection manager.
func (s *Server) OpenConnections() int64 {
	return int64(s.mgr.Len())
}

// bringOnline drives one freshly created connection through the
// lifecycle ladder the transport packages never touch (§4.4): the
// handshake, LinkUp, Authenticating, an internal IP and (for datagram
// connections) a session id, then Online with its NetworkConfig and
// keepalive task. Any failure along the way tears the connection down
// rather than leaving it stuck mid-ladder.
func (s *Server) bringOnline(c *connection.Connection) {
	if err := c.Handshake(context.Background()); err != nil {
		s.logError("handshake failed", err)
		_ = c.Disconnect()
		return
	}
	if err := c.SetState(connection.LinkUp); err != nil {
		s.logError("transition to LinkUp failed", err)
		_ = c.Disconnect()
		return
	}
	if err := c.SetState(connection.Authenticating); err != nil {
		s.logError("transition to Authenticating failed", err)
		_ = c.Disconnect()
		return
	}

	ip, err := s.pool.Allocate()
	if err != nil {
		s.logError("ip pool allocation failed", err)
		_ = c.Disconnect()
		return
	}

	if c.Kind() == connection.Datagram {
		sid, err := connmgr.NewSessionID()
		if err != nil {
			s.pool.Free(ip)
			s.logError("session id allocation failed", err)
			_ = c.Disconnect()
			return
		}
		if err := s.mgr.AssignSessionID(c, sid); err != nil {
			s.pool.Free(ip)
			s.logError("assigning session id failed", err)
			_ = c.Disconnect()
			return
		}
	}

	c.AssignInternalIP(ip)
	s.router.set(ip, c)
	if s.cfg.AuthTTL > 0 {
		c.SetAuthExpiry(time.Now().Add(s.cfg.AuthTTL))
	}

	if err := c.SetState(connection.Online); err != nil {
		s.router.remove(ip)
		s.logError("transition to Online failed", err)
		_ = c.Disconnect()
		return
	}

	nc := wire.NetworkConfig{
		Family:   wire.AddrFamilyV4,
		ClientIP: ip,
		ServerIP: s.cfg.ServerIP,
		DNSIP:    s.cfg.DNSIP,
		MTU:      uint16(s.cfg.MTU),
	}
	if err := c.SendNetworkConfig(nc); err != nil {
		s.logError("sending network config failed", err)
	}

	if err := c.BeginExpresslaneRotation(); err != nil {
		s.logError("expresslane rotation failed", err)
	}

	ka := keepalive.New(context.Background(), keepalive.Config{
		Interval:   s.cfg.KeepaliveInterval,
		Timeout:    s.cfg.KeepaliveTimeout,
		Continuous: true,
		Log:        s.cfg.Log,
	}, c)
	ka.Online()

	s.keepalivesMu.Lock()
	s.keepalives[c] = ka
	s.keepalivesMu.Unlock()

	go s.cleanupOnDisconnect(c, ip, ka)
}

func (s *Server) cleanupOnDisconnect(c *connection.Connection, ip netip.Addr, ka *keepalive.Keepalive) {
	<-c.Done()
	ka.Close()

	s.keepalivesMu.Lock()
	delete(s.keepalives, c)
	s.keepalivesMu.Unlock()

	s.router.remove(ip)
}

func (s *Server) logError(msg string, err error) {
	if s.cfg.Log == nil {
		return
	}
	if log := s.cfg.Log(); log != nil {
		log.Error(msg, err)
	}
}
