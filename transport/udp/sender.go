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

package udp

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/expressvpn/lightway/connection"
	"github.com/expressvpn/lightway/internal/telemetry"
	"github.com/expressvpn/lightway/wire"
)

// outsideSender is the connection.OutsideSender every datagram
// connection holds: a shared rawSocket plus the peer/local address
// pair replies are sourced from, and an optional per-connection GSO
// queue. peerAddr tracks connmgr.Manager.SetPeerAddr's session-based
// address recovery (§4.6 step 3) so a stale reply target is never
// used once the manager has migrated the connection.
//
// Connection only ever hands SendOutside a bare encrypted record --
// the fixed wire.Header every outside packet carries is framing this
// transport owns, the mirror image of dataReceived parsing it off
// before the record ever reaches Connection.ReceiveOutsideRecord.
type outsideSender struct {
	sock    rawSocket
	metrics *telemetry.Sink

	mu        sync.RWMutex
	peerAddr  netip.AddrPort
	localAddr netip.AddrPort
	conn      *connection.Connection

	gso atomic.Pointer[gsoSendState]
}

func newOutsideSender(sock rawSocket, metrics *telemetry.Sink, peerAddr, localAddr netip.AddrPort, gsoQueueLimit int) *outsideSender {
	s := &outsideSender{sock: sock, metrics: metrics, peerAddr: peerAddr, localAddr: localAddr}
	if gsoQueueLimit > 0 {
		s.gso.Store(newGsoSendState(gsoQueueLimit))
	}
	return s
}

// bind attaches the Connection the sender was constructed for, once it
// exists -- lookupOrCreate builds the sender before
// FindOrCreateDatagramConnection returns the *connection.Connection it
// belongs to, so Version/SessionID aren't available until this runs.
func (s *outsideSender) bind(conn *connection.Connection) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// SetPeerAddr updates the address a future SendOutside targets. Called
// by the server's dataReceived loop when connmgr.Manager.SetPeerAddr
// migrates a connection to a new observed source address.
func (s *outsideSender) SetPeerAddr(addr netip.AddrPort) {
	s.mu.Lock()
	s.peerAddr = addr
	s.mu.Unlock()
}

func (s *outsideSender) SendOutside(record []byte) error {
	return s.send(record, 0)
}

// SendOutsideExpress is the expresslane fast path's entry point: it
// sets the header's express-data bit instead of leaving it clear,
// letting the peer's dataReceived branch straight to
// wire.ParseExpresslaneData instead of the per-frame AEAD adapter
// (§4.3, §8 scenario S4). record here is already a sealed
// ExpresslaneData envelope, not a Frame-encoded record.
func (s *outsideSender) SendOutsideExpress(record []byte) error {
	return s.send(record, wire.FlagExpressData)
}

func (s *outsideSender) send(record []byte, flags wire.HeaderFlags) error {
	s.mu.RLock()
	peerAddr, localAddr, conn := s.peerAddr, s.localAddr, s.conn
	s.mu.RUnlock()

	buf := make([]byte, 0, wire.HeaderSize+len(record))
	if conn != nil {
		buf = wire.Header{Version: conn.Version(), Flags: flags, SessionID: conn.SessionID()}.AppendTo(buf)
	}
	buf = append(buf, record...)

	if state := s.gso.Load(); state != nil {
		return sendWithGso(s.sock, state, s.metrics, buf, peerAddr, localAddr)
	}
	return s.sock.send(buf, peerAddr, localAddr)
}
