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
	"bufio"
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/expressvpn/lightway/connection"
	"github.com/expressvpn/lightway/internal/telemetry"
	"github.com/expressvpn/lightway/keepalive"
	"github.com/expressvpn/lightway/logger"
	"github.com/expressvpn/lightway/recordlayer"
	lwtun "github.com/expressvpn/lightway/tun"
	tcptransport "github.com/expressvpn/lightway/transport/tcp"
	"github.com/expressvpn/lightway/wire"
)

// maxClientOutsideMTU bounds the client's UDP recv buffer, mirroring
// transport/udp's identically-named constant.
const maxClientOutsideMTU = 1500

// ClientConfig configures a Client.
type ClientConfig struct {
	PSK        [32]byte
	ServerAddr netip.AddrPort
	Transport  TransportKind

	KeyUpdateInterval time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	Metrics *telemetry.Sink
	Log     logger.FuncLog
}

// Client is the client role (§2): one connection to one server,
// driven through the same lifecycle ladder Server.bringOnline drives
// server side, feeding the same TUN device both roles share.
type Client struct {
	cfg ClientConfig
	tun lwtun.Engine
	ka  *keepalive.Keepalive

	conn *connection.Connection

	udpConn *net.UDPConn
	tcpConn net.Conn
	tcpRead *bufio.Reader

	networkConfigReady chan struct{}
	networkConfigMu     sync.Mutex
	networkConfig       *wire.NetworkConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial derives traffic keys from cfg.PSK, opens the outside transport,
// drives the connection through Connecting -> LinkUp -> Authenticating
// -> Online (§4.4), and returns once the server's NetworkConfig has
// been applied -- or the first of ctx expiring, the dial failing, or
// the connection dying before it got that far.
func Dial(ctx context.Context, cfg ClientConfig, tun lwtun.Engine) (*Client, error) {
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

	adapter, err := recordlayer.NewAEADAdapter(clientToServer, serverToClient, cfg.KeyUpdateInterval)
	if err != nil {
		return nil, err
	}

	cl := &Client{cfg: cfg, tun: tun, networkConfigReady: make(chan struct{}, 1)}

	var (
		outside   connection.OutsideSender
		kind      connection.Kind
		udpSender *clientUDPSender
	)

	switch cfg.Transport {
	case TransportUDP:
		udpConn, dialErr := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(cfg.ServerAddr))
		if dialErr != nil {
			return nil, dialErr
		}
		cl.udpConn = udpConn
		udpSender = &clientUDPSender{conn: udpConn}
		outside = udpSender
		kind = connection.Datagram

	case TransportTCP:
		tcpConn, dialErr := net.Dial("tcp", cfg.ServerAddr.String())
		if dialErr != nil {
			return nil, dialErr
		}
		cl.tcpConn = tcpConn
		cl.tcpRead = bufio.NewReader(tcpConn)
		outside = &clientTCPSender{conn: tcpConn}
		kind = connection.Stream

	default:
		return nil, ErrUnsupportedTransport.Error(nil)
	}

	cl.conn = connection.New(connection.Config{
		Kind:           kind,
		Role:           connection.RoleClient,
		Version:        wire.MinSupportedVersion,
		SessionID:      wire.EmptySessionID,
		Adapter:        adapter,
		Outside:        outside,
		Inside:         tunInsideSender{tun: tun},
		Log:            cfg.Log,
		Now:            time.Now(),
		OnControlFrame: cl.onControlFrame,
	})

	if udpSender != nil {
		udpSender.bind(cl.conn)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl.cancel = cancel

	cl.wg.Add(3)
	go func() { defer cl.wg.Done(); cl.recvLoop(runCtx) }()
	go func() { defer cl.wg.Done(); runInsideReadLoop(runCtx, tun, singleRouter{cl.conn}.route, cfg.Metrics) }()
	go func() {
		defer cl.wg.Done()
		<-runCtx.Done()
		if cl.udpConn != nil {
			_ = cl.udpConn.Close()
		}
		if cl.tcpConn != nil {
			_ = cl.tcpConn.Close()
		}
	}()

	if err := cl.bringOnline(ctx); err != nil {
		_ = cl.Close()
		return nil, err
	}

	return cl, nil
}

// bringOnline mirrors Server.bringOnline from the client's side of the
// ladder: no IP pool or router to touch, but the same handshake and
// state transitions, plus a bootstrap Ping since a datagram connection
// does not exist server-side until the server has observed one (§4.5).
func (cl *Client) bringOnline(ctx context.Context) error {
	if err := cl.conn.Handshake(ctx); err != nil {
		return err
	}
	if err := cl.conn.SetState(connection.LinkUp); err != nil {
		return err
	}
	if err := cl.conn.SetState(connection.Authenticating); err != nil {
		return err
	}
	if err := cl.conn.SendKeepalive(); err != nil {
		return err
	}

	select {
	case <-cl.networkConfigReady:
	case <-cl.conn.Done():
		return ErrConnectionClosed.Error(nil)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := cl.conn.SetState(connection.Online); err != nil {
		return err
	}

	cl.ka = keepalive.New(context.Background(), keepalive.Config{
		Interval:   cl.cfg.KeepaliveInterval,
		Timeout:    cl.cfg.KeepaliveTimeout,
		Continuous: true,
		Log:        cl.cfg.Log,
	}, cl.conn)
	cl.ka.Online()

	return nil
}

// NetworkConfig returns the addressing the server assigned once Dial
// has returned successfully.
func (cl *Client) NetworkConfig() (wire.NetworkConfig, bool) {
	cl.networkConfigMu.Lock()
	defer cl.networkConfigMu.Unlock()
	if cl.networkConfig == nil {
		return wire.NetworkConfig{}, false
	}
	return *cl.networkConfig, true
}

// Connection exposes the underlying connection, e.g. for State().
func (cl *Client) Connection() *connection.Connection { return cl.conn }

// Close tears the connection down and waits for every background
// goroutine to return. Safe to call more than once.
func (cl *Client) Close() error {
	if cl.cancel != nil {
		cl.cancel()
	}
	if cl.conn != nil {
		_ = cl.conn.Disconnect()
	}
	if cl.ka != nil {
		cl.ka.Close()
	}
	cl.wg.Wait()
	return nil
}

func (cl *Client) onControlFrame(f wire.Frame) {
	nc, ok := f.(wire.NetworkConfig)
	if !ok {
		return
	}

	cl.networkConfigMu.Lock()
	cl.networkConfig = &nc
	cl.networkConfigMu.Unlock()

	select {
	case cl.networkConfigReady <- struct{}{}:
	default:
	}
}

func (cl *Client) recvLoop(ctx context.Context) {
	switch cl.cfg.Transport {
	case TransportUDP:
		cl.recvLoopUDP(ctx)
	case TransportTCP:
		cl.recvLoopTCP(ctx)
	}
}

// recvLoopUDP mirrors transport/udp's header parse-then-decrypt split,
// and additionally learns this connection's session id the first time
// the server's reply carries one, since a freshly dialled client has
// no way to know it in advance (§4.5).
func (cl *Client) recvLoopUDP(ctx context.Context) {
	buf := make([]byte, maxClientOutsideMTU)
	for {
		n, err := cl.udpConn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cl.logError("udp recv failed", err)
			continue
		}

		hdr, consumed, err := wire.ParseHeader(buf[:n])
		if err != nil {
			continue
		}
		if cl.conn.SessionID().IsEmpty() && !hdr.SessionID.IsEmpty() && !hdr.SessionID.IsRejected() {
			_ = cl.conn.AssignSessionID(hdr.SessionID)
		}

		if hdr.Flags.ExpressData() {
			d, _, err := wire.ParseExpresslaneData(buf[consumed:n])
			if err != nil {
				cl.logError("expresslane parse failed", err)
				continue
			}
			if err := cl.conn.ReceiveExpresslaneData(time.Now(), d); err != nil {
				cl.logError("expresslane open failed", err)
			}
			continue
		}

		if _, err := cl.conn.ReceiveOutsideRecord(time.Now(), buf[consumed:n]); err != nil {
			cl.logError("outside data processing failed", err)
			_ = cl.conn.Disconnect()
			return
		}
	}
}

func (cl *Client) recvLoopTCP(ctx context.Context) {
	for {
		record, err := tcptransport.ReadRecord(cl.tcpRead)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_ = cl.conn.Disconnect()
			return
		}

		if _, err := cl.conn.ReceiveOutsideRecord(time.Now(), record); err != nil {
			cl.logError("outside data processing failed", err)
			_ = cl.conn.Disconnect()
			return
		}
	}
}

func (cl *Client) logError(msg string, err error) {
	if cl.cfg.Log == nil {
		return
	}
	if log := cl.cfg.Log(); log != nil {
		log.Error(msg, err)
	}
}

// clientUDPSender is the client-role counterpart of transport/udp's
// outsideSender: it needs the same deferred bind(conn), since the
// record this sender must build a wire.Header for is produced by the
// adapter before New has returned a *connection.Connection to bind.
type clientUDPSender struct {
	mu   sync.RWMutex
	conn *net.UDPConn
	c    *connection.Connection
}

func (s *clientUDPSender) bind(c *connection.Connection) {
	s.mu.Lock()
	s.c = c
	s.mu.Unlock()
}

func (s *clientUDPSender) SendOutside(record []byte) error {
	return s.send(record, 0)
}

// SendOutsideExpress mirrors transport/udp's outsideSender: the client
// side of the expresslane fast path sets the same express-data bit
// (§4.3).
func (s *clientUDPSender) SendOutsideExpress(record []byte) error {
	return s.send(record, wire.FlagExpressData)
}

func (s *clientUDPSender) send(record []byte, flags wire.HeaderFlags) error {
	s.mu.RLock()
	c := s.c
	s.mu.RUnlock()

	buf := make([]byte, 0, wire.HeaderSize+len(record))
	if c != nil {
		buf = wire.Header{Version: c.Version(), Flags: flags, SessionID: c.SessionID()}.AppendTo(buf)
	}
	buf = append(buf, record...)

	_, err := s.conn.Write(buf)
	return err
}

// clientTCPSender needs none of that: stream connections carry no
// on-wire session id (§4.5), so there is nothing to defer.
type clientTCPSender struct {
	mu   sync.Mutex
	conn net.Conn
}

func (s *clientTCPSender) SendOutside(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tcptransport.WriteRecord(s.conn, record)
}
