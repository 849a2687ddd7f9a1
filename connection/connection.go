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

// Package connection implements the per-tunnel lifecycle state machine
// (§4.4): Connecting -> LinkUp -> Authenticating -> Online, with
// Disconnecting/Disconnected reachable from any live state. A
// Connection owns its record-layer adapter and expresslane channel,
// tracks the timing instants the reapers act on, and republishes its
// own lifecycle plus the adapter's crypto events on a single outward
// channel.
package connection

import (
	"context"
	"crypto/rand"
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/expressvpn/lightway/expresslane"
	"github.com/expressvpn/lightway/logger"
	"github.com/expressvpn/lightway/recordlayer"
	"github.com/expressvpn/lightway/wire"
)

// expresslaneRetransmitPoll is how often the background pump checks
// whether an outstanding ExpresslaneConfig needs retransmitting. It
// only needs to be finer-grained than the 500ms base backoff (§4.3
// point 3); the Channel itself decides whether a given tick is due.
const expresslaneRetransmitPoll = 100 * time.Millisecond

// Kind distinguishes datagram (UDP) connections, which carry their own
// session id and float across addresses, from stream (TCP) connections,
// which do not.
type Kind uint8

const (
	Datagram Kind = iota
	Stream
)

// Role distinguishes which side of the tunnel this process is acting
// as; FirstPacketReceived is only legal on the client side (§4.4).
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// OutsideSender delivers an encrypted record to the peer over whatever
// transport owns this connection (UDP socket bound to peer addr, or a
// TCP stream writer).
type OutsideSender interface {
	SendOutside(record []byte) error
}

// expressSender is the optional capability transport/udp's outsideSender
// implements: a send that sets the header's express-data bit instead of
// leaving it clear. transport/tcp has no Header/flags concept in its
// stream framing, so it never implements this -- Data frames over TCP
// always take the normal per-frame AEAD path below.
type expressSender interface {
	SendOutsideExpress(record []byte) error
}

// InsideSender delivers a decrypted inside IPv4 packet to the local TUN
// device (or a test double).
type InsideSender interface {
	SendInside(packet []byte) error
}

// Rotator begins a session-id rotation on behalf of a Connection,
// mirroring connmgr.begin_session_id_rotation (§4.5): it asks the
// record layer for a fresh session id and registers it in the
// manager's pending-rotation table. Connection only tracks that a
// rotation is outstanding; connmgr owns the pending-rotation index.
type Rotator interface {
	BeginSessionIDRotation(c *Connection) (wire.SessionID, error)
}

// Connection is one live tunnel, client or server side. All mutable
// fields are guarded by mu; background goroutines (the adapter event
// pump, reapers, keepalive) only ever hold a reference, never a
// strong owning handle, matching §5's weak-reference ownership model
// (Go's GC plays the role the teacher's Arc/Weak pair would).
type Connection struct {
	mu sync.Mutex

	kind Kind
	role Role

	version          wire.Version
	sessionID        wire.SessionID
	pendingSessionID *wire.SessionID

	peerAddr  netip.AddrPort
	localAddr netip.AddrPort
	internalIP *netip.Addr

	state State

	adapter    recordlayer.Adapter
	Expresslane *expresslane.Channel

	startedAt               time.Time
	lastOutsideDataReceived time.Time
	authExpiresAt           time.Time

	outside OutsideSender
	inside  InsideSender
	rotator Rotator

	firstPacketSeen bool
	onControlFrame  func(wire.Frame)

	events chan recordlayer.Event
	done   chan struct{}
	log    logger.FuncLog

	disconnectOnce sync.Once
	closed         bool
	ipReleased     bool
	releaseIP      func(netip.Addr)
}

// Config bundles a Connection's fixed collaborators at construction.
type Config struct {
	Kind      Kind
	Role      Role
	Version   wire.Version
	SessionID wire.SessionID
	PeerAddr  netip.AddrPort
	LocalAddr netip.AddrPort
	Adapter   recordlayer.Adapter
	Outside   OutsideSender
	Inside    InsideSender
	Rotator   Rotator
	ReleaseIP func(netip.Addr)
	Log       logger.FuncLog
	Now       time.Time

	// OnControlFrame receives NetworkConfig and EncodingRequest frames
	// as they are decoded -- negotiation belongs to whichever side
	// (client or server handshake-completion code) owns IP-pool
	// assignment and encoding policy, not to Connection itself.
	OnControlFrame func(wire.Frame)
}

// New constructs a Connection in the Connecting state and starts the
// goroutine that republishes the adapter's crypto events.
func New(cfg Config) *Connection {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	c := &Connection{
		kind:                    cfg.Kind,
		role:                    cfg.Role,
		version:                 cfg.Version,
		sessionID:               cfg.SessionID,
		peerAddr:                cfg.PeerAddr,
		localAddr:               cfg.LocalAddr,
		state:                   Connecting,
		adapter:                 cfg.Adapter,
		Expresslane:             expresslane.New(),
		startedAt:               now,
		lastOutsideDataReceived: now,
		outside:                 cfg.Outside,
		inside:                  cfg.Inside,
		rotator:                 cfg.Rotator,
		releaseIP:               cfg.ReleaseIP,
		onControlFrame:          cfg.OnControlFrame,
		log:                     cfg.Log,
		events:                  make(chan recordlayer.Event, 32),
		done:                    make(chan struct{}),
	}

	if c.adapter != nil {
		go c.pumpAdapterEvents()
	}

	go c.pumpExpresslaneRetransmit()

	return c
}

// BeginExpresslaneRotation generates a fresh 32-byte key, stages it via
// Expresslane.BeginRotation, and sends the resulting ExpresslaneConfig
// frame (§4.3 point 1). The server side calls this once a connection
// reaches Online, mirroring how it calls SendNetworkConfig exactly
// once on the same transition; pumpExpresslaneRetransmit takes over
// resending it until the peer's ack arrives.
func (c *Connection) BeginExpresslaneRotation() error {
	var key expresslane.Key
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return ErrExpresslaneKeyGen.Error(err)
	}
	cfg := c.Expresslane.BeginRotation(key)
	return c.sendFrame(cfg)
}

// pumpExpresslaneRetransmit resends an unacknowledged ExpresslaneConfig
// per the 500ms*(1+attempts) backoff (§4.3 point 3) until Done.
func (c *Connection) pumpExpresslaneRetransmit() {
	t := time.NewTicker(expresslaneRetransmitPoll)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if cfg, due := c.Expresslane.DueRetransmit(time.Now()); due {
				_ = c.sendFrame(cfg)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) pumpAdapterEvents() {
	for {
		select {
		case e, ok := <-c.adapter.Events():
			if !ok {
				return
			}
			if e.Kind == recordlayer.TlsKeysUpdateStart {
				c.onTlsKeysUpdateStart()
			}
			c.emit(e)
		case <-c.done:
			return
		}
	}
}

// onTlsKeysUpdateStart implements §4.4's coupling: on datagram
// connections, a TLS key update immediately triggers a session-id
// rotation unless one is already pending (§9 "Key-update + session
// rotation coupling").
func (c *Connection) onTlsKeysUpdateStart() {
	c.beginSessionIDRotation()
}

// TriggerSessionIDRotation begins a session-id rotation the same way a
// TLS key update does, for callers outside this package that observe a
// reason to rotate of their own: transport/udp's data_received calls
// this when a record decrypts successfully from a peer address other
// than the one on file (§4.6 step 3), recovering the session before
// trusting the new address.
func (c *Connection) TriggerSessionIDRotation() {
	c.beginSessionIDRotation()
}

func (c *Connection) beginSessionIDRotation() {
	c.mu.Lock()
	kind := c.kind
	hasPending := c.pendingSessionID != nil
	rotator := c.rotator
	c.mu.Unlock()

	if kind != Datagram || hasPending || rotator == nil {
		return
	}

	sid, err := rotator.BeginSessionIDRotation(c)
	if err != nil {
		return
	}

	c.mu.Lock()
	if c.pendingSessionID == nil {
		c.pendingSessionID = &sid
	}
	c.mu.Unlock()
}

func (c *Connection) emit(e recordlayer.Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	select {
	case c.events <- e:
	default:
	}
}

// Events returns the Connection's outward event stream: its own
// lifecycle transitions plus everything the adapter reports. Never
// closed -- consumers select on Done() to know when to stop watching.
func (c *Connection) Events() <-chan recordlayer.Event {
	return c.events
}

// Done is closed exactly once, when Disconnect completes. Background
// watchers (the connection manager's per-connection goroutine,
// keepalive) select on it instead of range-ing over Events(), which is
// never closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState drives the state machine forward. See state.go for the
// legal-transition table.
func (c *Connection) SetState(to State) error {
	c.mu.Lock()
	from := c.state
	if !from.canTransitionTo(to) {
		c.mu.Unlock()
		return ErrInvalidTransition.Error(nil)
	}
	c.state = to
	c.mu.Unlock()

	c.emit(recordlayer.Event{Kind: recordlayer.StateChanged})
	return nil
}

func (c *Connection) Kind() Kind { return c.kind }
func (c *Connection) Role() Role { return c.role }

// Version reports the protocol version this connection was constructed
// with. It never changes, so it needs no lock.
func (c *Connection) Version() wire.Version { return c.version }

func (c *Connection) SessionID() wire.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// PendingSessionID reports the in-flight rotation target, if any.
func (c *Connection) PendingSessionID() (wire.SessionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingSessionID == nil {
		return wire.SessionID{}, false
	}
	return *c.pendingSessionID, true
}

// RoutesSessionID reports whether sid should be accepted for this
// connection: either the current session id, or the pending rotation
// target while one is outstanding (§3 invariant).
func (c *Connection) RoutesSessionID(sid wire.SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sid == c.sessionID {
		return true
	}
	return c.pendingSessionID != nil && sid == *c.pendingSessionID
}

// AssignSessionID gives the connection its first session id, once,
// when the handshake completes (before any rotation can begin).
func (c *Connection) AssignSessionID(sid wire.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sessionID.IsEmpty() {
		return ErrInvalidTransition.Error(nil)
	}
	c.sessionID = sid
	return nil
}

// FinalizeSessionIDRotation is called by connmgr on
// SessionIdRotationAcknowledged: it promotes the pending session id to
// current and clears the pending slot.
func (c *Connection) FinalizeSessionIDRotation(oldSID, newSID wire.SessionID) error {
	c.mu.Lock()
	if c.pendingSessionID == nil || *c.pendingSessionID != newSID || c.sessionID != oldSID {
		c.mu.Unlock()
		return ErrNoPendingRotation.Error(nil)
	}
	c.sessionID = newSID
	c.pendingSessionID = nil
	c.mu.Unlock()

	c.emit(recordlayer.Event{Kind: recordlayer.SessionIdRotationAcknowledged, OldSessionID: oldSID, NewSessionID: newSID})
	return nil
}

func (c *Connection) PeerAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerAddr
}

// SetPeerAddr is called only after a successful decrypt from a new
// address (§4.6 step 3) -- never speculatively, so an attacker cannot
// steal a session's address slot by sending unauthenticated packets.
func (c *Connection) SetPeerAddr(addr netip.AddrPort) {
	c.mu.Lock()
	c.peerAddr = addr
	c.mu.Unlock()
}

func (c *Connection) LocalAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAddr
}

func (c *Connection) SetLocalAddr(addr netip.AddrPort) {
	c.mu.Lock()
	c.localAddr = addr
	c.mu.Unlock()
}

// InternalIP returns the assigned inside IPv4, if the connection has
// reached Online at least once.
func (c *Connection) InternalIP() (netip.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalIP == nil {
		return netip.Addr{}, false
	}
	return *c.internalIP, true
}

// AssignInternalIP records the pool-allocated address for this
// connection, set once when entering Online.
func (c *Connection) AssignInternalIP(ip netip.Addr) {
	c.mu.Lock()
	c.internalIP = &ip
	c.mu.Unlock()
}

// ReleaseInternalIP returns the assigned address exactly once (at
// teardown); subsequent calls are no-ops, satisfying the "released
// exactly once at drop" invariant.
func (c *Connection) ReleaseInternalIP() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalIP == nil || c.ipReleased || c.releaseIP == nil {
		c.ipReleased = true
		return
	}
	c.ipReleased = true
	ip := *c.internalIP
	c.releaseIP(ip)
}

func (c *Connection) MarkOutsideDataReceived(now time.Time) {
	c.mu.Lock()
	c.lastOutsideDataReceived = now
	c.mu.Unlock()
}

func (c *Connection) LastOutsideDataReceived() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutsideDataReceived
}

func (c *Connection) SetAuthExpiry(t time.Time) {
	c.mu.Lock()
	c.authExpiresAt = t
	c.mu.Unlock()
}

func (c *Connection) IsAuthExpired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.authExpiresAt.IsZero() && now.After(c.authExpiresAt)
}

// ValidateDataFrame implements "Online is the only state that
// processes Data frames ... Authenticating rejects Data; other states
// drop with metric bumps" (§4.4). Callers bump their own metric on a
// non-nil error; the distinction between the two error codes lets the
// caller choose the right metric name.
func (c *Connection) ValidateDataFrame() error {
	switch c.State() {
	case Online:
		return nil
	case Authenticating:
		return ErrDataBeforeOnline.Error(nil)
	default:
		return ErrInvalidTransition.Error(nil)
	}
}

// MarkFirstPacketReceived emits FirstPacketReceived. Per §4.4 this is
// only a legal occurrence on the client; the server side observing it
// is treated as a programming error.
func (c *Connection) MarkFirstPacketReceived() error {
	if c.role == RoleServer {
		return ErrInvalidTransition.Error(nil)
	}
	c.emit(recordlayer.Event{Kind: recordlayer.FirstPacketReceived})
	return nil
}

func (c *Connection) MarkKeepaliveReply() {
	c.emit(recordlayer.Event{Kind: recordlayer.KeepaliveReply})
}

func (c *Connection) SendOutside(record []byte) error {
	if c.outside == nil {
		return nil
	}
	return c.outside.SendOutside(record)
}

func (c *Connection) SendInside(packet []byte) error {
	if c.inside == nil {
		return nil
	}
	return c.inside.SendInside(packet)
}

// ReceiveOutsideRecord decrypts one on-wire record and dispatches every
// frame it contains. The returned count is frames decoded: 0 means the
// record was consumed with nothing to show for it (a duplicate/replay),
// which transport/udp's should_update_peer_addr gating (§4.6 step 3)
// depends on being distinguishable from both an error and a genuine
// decode.
func (c *Connection) ReceiveOutsideRecord(now time.Time, record []byte) (int, error) {
	if c.adapter == nil {
		return 0, ErrInvalidTransition.Error(nil)
	}

	plaintext, err := c.adapter.Decrypt(record)
	if err != nil {
		return 0, err
	}
	if plaintext == nil {
		return 0, nil
	}

	c.MarkOutsideDataReceived(now)

	n := 0
	for len(plaintext) > 0 {
		f, consumed, err := wire.ParseFrame(plaintext)
		if err != nil {
			return n, err
		}
		plaintext = plaintext[consumed:]
		n++

		if err := c.dispatchFrame(f); err != nil {
			return n, err
		}
	}

	return n, nil
}

// ReceiveExpresslaneData opens one ExpresslaneData envelope -- the
// payload carried directly under a Header whose express-data bit is
// set, with no lightway frame prefix of its own (§4.3) -- and delivers
// the recovered packet inside. transport/udp's dataReceived calls this
// instead of ReceiveOutsideRecord once it observes the bit.
func (c *Connection) ReceiveExpresslaneData(now time.Time, d wire.ExpresslaneData) error {
	plaintext, err := c.Expresslane.Open(c.SessionID(), d)
	if err != nil {
		return err
	}

	c.MarkOutsideDataReceived(now)
	c.markFirstPacketIfClient()
	return c.SendInside(plaintext)
}

func (c *Connection) dispatchFrame(f wire.Frame) error {
	switch frame := f.(type) {
	case wire.Data:
		if err := c.ValidateDataFrame(); err != nil {
			return err
		}
		c.markFirstPacketIfClient()
		return c.SendInside(frame.Packet)

	case wire.Ping:
		return c.sendFrame(wire.Pong{})

	case wire.Pong:
		c.MarkKeepaliveReply()
		return nil

	case wire.Goodbye:
		return c.Disconnect()

	case wire.ExpresslaneConfig:
		reply, isAck := c.Expresslane.OnConfigReceived(frame)
		if isAck {
			return nil
		}
		return c.sendFrame(reply)

	case wire.NetworkConfig, wire.EncodingRequest:
		if c.onControlFrame != nil {
			c.onControlFrame(f)
		}
		return nil

	default:
		return nil
	}
}

// markFirstPacketIfClient reports the connection's first successfully
// decoded Data frame exactly once, client side only (§4.4).
func (c *Connection) markFirstPacketIfClient() {
	c.mu.Lock()
	role := c.role
	already := c.firstPacketSeen
	c.firstPacketSeen = true
	c.mu.Unlock()

	if role == RoleClient && !already {
		_ = c.MarkFirstPacketReceived()
	}
}

// SendData wraps packet in a Data frame, encrypts it and sends it
// outside. This is the inside-to-outside direction's only entry point
// into a connection: server/cmd's TUN-read loop calls it once it has
// resolved which connection owns packet's destination address.
//
// Once the expresslane fast path is ready and the outside sender
// supports setting the header's express-data bit, Data frames bypass
// the per-frame AEAD adapter entirely and travel sealed under
// Expresslane instead (§4.3, §8 scenario S4); everything else --
// Ping/Pong, NetworkConfig, the ExpresslaneConfig handshake itself --
// keeps going through the normal record-layer path.
func (c *Connection) SendData(packet []byte) error {
	if es, ok := c.outside.(expressSender); ok && c.Expresslane.Ready() {
		d, err := c.Expresslane.Seal(c.SessionID(), packet)
		if err != nil {
			return err
		}
		return es.SendOutsideExpress(d.AppendTo(nil))
	}
	return c.sendFrame(wire.Data{Packet: packet})
}

// SendKeepalive sends a Ping frame outside. It satisfies
// keepalive.Sender directly: a *Connection is its own keepalive
// sender, rather than needing a wrapper type in server/cmd.
func (c *Connection) SendKeepalive() error {
	return c.sendFrame(wire.Ping{})
}

// SendNetworkConfig wraps nc in a NetworkConfig frame, encrypts it and
// sends it outside. Called exactly once, by the server side, on the
// StateChanged(Online) transition (§4.4).
func (c *Connection) SendNetworkConfig(nc wire.NetworkConfig) error {
	return c.sendFrame(nc)
}

// Handshake drives the adapter's handshake to completion or ctx
// expiry. A nil adapter (not expected outside of tests that build a
// bare Connection) makes this a no-op rather than a panic.
func (c *Connection) Handshake(ctx context.Context) error {
	if c.adapter == nil {
		return nil
	}
	return c.adapter.Handshake(ctx)
}

func (c *Connection) sendFrame(f wire.Frame) error {
	record, err := c.adapter.Encrypt(wire.AppendFrame(nil, f))
	if err != nil {
		return err
	}
	return c.SendOutside(record)
}

// Disconnect tears the connection down: Disconnecting then
// Disconnected, releasing the inside IP and closing the adapter.
// Idempotent -- a second call observes Disconnected and returns nil.
func (c *Connection) Disconnect() error {
	var outcome error

	c.disconnectOnce.Do(func() {
		if c.State() != Disconnecting {
			if err := c.SetState(Disconnecting); err != nil {
				outcome = err
				return
			}
		}

		c.ReleaseInternalIP()

		if c.adapter != nil {
			_ = c.adapter.Close()
		}

		if err := c.SetState(Disconnected); err != nil {
			outcome = err
			return
		}

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})

	return outcome
}
