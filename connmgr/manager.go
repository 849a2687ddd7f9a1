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

// Package connmgr implements the live-connection map (§3, §4.5): a
// dual index by peer address and by session id, a pending-rotation
// table bridging an old session id to its rotation target, and the
// four periodic reapers. Go has no portable pre-1.24 weak pointer the
// teacher's atomic.Map generics could stand in for, so "the weak
// reference is dead" (§9) is represented the idiomatic Go way instead:
// a plain strong pointer plus an explicit liveness check
// (connection.Disconnected), which the reapers evaluate on their own
// schedule exactly as the original evaluates a dropped Weak.
package connmgr

import (
	"crypto/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/expressvpn/lightway/connection"
	"github.com/expressvpn/lightway/logger"
	"github.com/expressvpn/lightway/recordlayer"
	"github.com/expressvpn/lightway/wire"
)

// Reap intervals and thresholds, named as invariants per §4.5.
const (
	IdleSweepInterval    = time.Minute
	IdleThreshold        = 24 * time.Hour
	AuthSweepInterval    = 6 * time.Hour
	PendingSweepInterval = 6 * time.Hour
	HandshakeBudget      = 60 * time.Second
)

// Manager is the live-connection map. The zero value is not usable;
// construct with New.
type Manager struct {
	mu sync.Mutex

	byAddr    map[netip.AddrPort]*connection.Connection
	bySession map[wire.SessionID]*connection.Connection
	pending   map[wire.SessionID]*connection.Connection

	totalSessions uint64

	log logger.FuncLog

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds an empty Manager and starts its three map-level periodic
// reapers (idle, auth-expired, pending-cleanup). Call Close to stop
// them.
func New(log logger.FuncLog) *Manager {
	m := &Manager{
		byAddr:    make(map[netip.AddrPort]*connection.Connection),
		bySession: make(map[wire.SessionID]*connection.Connection),
		pending:   make(map[wire.SessionID]*connection.Connection),
		log:       log,
		stop:      make(chan struct{}),
	}

	m.wg.Add(3)
	go m.reapLoop(IdleSweepInterval, m.reapIdle)
	go m.reapLoop(AuthSweepInterval, m.reapAuthExpired)
	go m.reapLoop(PendingSweepInterval, m.reapPending)

	return m
}

// Close stops the periodic reapers. It does not disconnect any live
// connection.
func (m *Manager) Close() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) reapLoop(interval time.Duration, fn func(now time.Time)) {
	defer m.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			fn(now)
		case <-m.stop:
			return
		}
	}
}

// CreateStreamingConnection inserts a new stream-transport connection
// keyed only by peer address (stream connections carry no on-wire
// session id, so always MinSupportedVersion per §4.5). peerAddr must
// be unoccupied.
func (m *Manager) CreateStreamingConnection(localAddr, peerAddr netip.AddrPort, cfg connection.Config) (*connection.Connection, error) {
	m.mu.Lock()
	if _, occupied := m.byAddr[peerAddr]; occupied {
		m.mu.Unlock()
		return nil, ErrPeerAddrOccupied.Error(nil)
	}

	cfg.Kind = connection.Stream
	cfg.Version = wire.MinSupportedVersion
	cfg.PeerAddr = peerAddr
	cfg.LocalAddr = localAddr
	cfg.SessionID = wire.EmptySessionID
	cfg.Rotator = m

	c := connection.New(cfg)
	m.byAddr[peerAddr] = c
	m.totalSessions++
	m.mu.Unlock()

	m.watch(c)
	m.armHandshakeTimer(c)

	return c, nil
}

// FindOrCreateDatagramConnection implements §4.5's lookup/creation
// contract exactly. The returned bool is should_update_peer_addr: the
// caller (transport/udp) must only call SetPeerAddr after that packet's
// AEAD has successfully decrypted (§4.6 step 3).
func (m *Manager) FindOrCreateDatagramConnection(peerAddr netip.AddrPort, version wire.Version, sessionID wire.SessionID, localAddr netip.AddrPort, cfg connection.Config) (c *connection.Connection, shouldUpdatePeerAddr bool, err error) {
	m.mu.Lock()

	if held, occupied := m.byAddr[peerAddr]; occupied {
		m.mu.Unlock()
		if sessionID.IsEmpty() || sessionID == held.SessionID() {
			return held, peerAddr != held.PeerAddr(), nil
		}
		return nil, false, ErrSessionIDMismatch.Error(nil)
	}

	if sessionID.IsEmpty() {
		cfg.Kind = connection.Datagram
		cfg.Version = version
		cfg.PeerAddr = peerAddr
		cfg.LocalAddr = localAddr
		cfg.SessionID = wire.EmptySessionID
		cfg.Rotator = m

		c = connection.New(cfg)
		m.byAddr[peerAddr] = c
		m.totalSessions++
		m.mu.Unlock()

		m.watch(c)
		m.armHandshakeTimer(c)
		return c, false, nil
	}

	target, found := m.pending[sessionID]
	if !found {
		m.mu.Unlock()
		return nil, false, ErrNoActiveSession.Error(nil)
	}
	if target.State() == connection.Disconnected {
		delete(m.pending, sessionID)
		m.mu.Unlock()
		return nil, false, ErrNoActiveSession.Error(nil)
	}
	m.mu.Unlock()

	return target, true, nil
}

// Lookup is the fast-path lookup transport/udp performs before falling
// through to FindOrCreateDatagramConnection, so a caller avoids
// building a connection.Config (record-layer adapter, outside sender)
// it will not need.
func (m *Manager) Lookup(peerAddr netip.AddrPort) (*connection.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byAddr[peerAddr]
	return c, ok
}

// IsSupportedVersion reports whether v is a protocol version this
// manager's connections can be created with. Only the major version is
// checked (§4.6 step 1): minor versions are forward-compatible within
// a major line, the same rule original_source applies via its mocked
// is_supported_version collaborator.
func (m *Manager) IsSupportedVersion(v wire.Version) bool {
	return v.Major == wire.MinSupportedVersion.Major
}

// AssignSessionID gives c its first session id once the handshake
// completes, indexing it for direct session-id lookups.
func (m *Manager) AssignSessionID(c *connection.Connection, sid wire.SessionID) error {
	if err := c.AssignSessionID(sid); err != nil {
		return err
	}
	m.mu.Lock()
	m.bySession[sid] = c
	m.mu.Unlock()
	return nil
}

// BySessionID looks up a connection directly by session id, for
// components that only carry a session id rather than a peer address.
func (m *Manager) BySessionID(sid wire.SessionID) (*connection.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.bySession[sid]
	return c, ok
}

// SetPeerAddr is called only after a successful decrypt on
// should_update_peer_addr (§4.6 step 3): it updates the connection's
// own address and the peer-addr index atomically.
func (m *Manager) SetPeerAddr(c *connection.Connection, newAddr netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := c.PeerAddr()
	if held, ok := m.byAddr[old]; ok && held == c {
		delete(m.byAddr, old)
	}
	c.SetPeerAddr(newAddr)
	m.byAddr[newAddr] = c
}

// BeginSessionIDRotation implements connection.Rotator: it asks for a
// fresh random session id and registers it in the pending-rotation
// table. No-op (returns the existing pending id) if a rotation is
// already in flight for c.
func (m *Manager) BeginSessionIDRotation(c *connection.Connection) (wire.SessionID, error) {
	if sid, pending := c.PendingSessionID(); pending {
		return sid, nil
	}

	sid, err := randomSessionID()
	if err != nil {
		return wire.SessionID{}, err
	}

	m.mu.Lock()
	m.pending[sid] = c
	m.mu.Unlock()

	return sid, nil
}

// finalizeRotation implements §4.5's finalize_session_id_rotation:
// remove the pending entry and swap the session-id index entry from
// old to new.
func (m *Manager) finalizeRotation(c *connection.Connection, oldSID, newSID wire.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, newSID)
	if held, ok := m.bySession[oldSID]; ok && held == c {
		delete(m.bySession, oldSID)
	}
	m.bySession[newSID] = c
}

// remove deletes c from both indexes (and any pending entry pointing
// at it), used when a connection disconnects.
func (m *Manager) remove(c *connection.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.byAddr[c.PeerAddr()]; ok && held == c {
		delete(m.byAddr, c.PeerAddr())
	}
	if held, ok := m.bySession[c.SessionID()]; ok && held == c {
		delete(m.bySession, c.SessionID())
	}
	for sid, held := range m.pending {
		if held == c {
			delete(m.pending, sid)
		}
	}
}

// watch spawns the per-connection goroutine that reacts to the
// connection's own event stream: finalizing session-id rotations and
// cleaning up the indexes once it disconnects.
func (m *Manager) watch(c *connection.Connection) {
	go func() {
		for {
			select {
			case e, ok := <-c.Events():
				if !ok {
					return
				}
				switch e.Kind {
				case recordlayer.SessionIdRotationAcknowledged:
					m.finalizeRotation(c, e.OldSessionID, e.NewSessionID)
				case recordlayer.StateChanged:
					if c.State() == connection.Disconnected {
						m.remove(c)
						return
					}
				}
			case <-c.Done():
				m.remove(c)
				return
			}
		}
	}()
}

// armHandshakeTimer implements the single-shot stale-handshake reaper
// (§4.5): if c has not reached Online within HandshakeBudget of
// creation, it is disconnected.
func (m *Manager) armHandshakeTimer(c *connection.Connection) {
	t := time.AfterFunc(HandshakeBudget, func() {
		if c.State() != connection.Online && c.State() != connection.Disconnected {
			_ = c.Disconnect()
		}
	})
	go func() {
		<-c.Done()
		t.Stop()
	}()
}

// reapIdle disconnects connections whose last outside data is older
// than IdleThreshold (§8 scenario S5).
func (m *Manager) reapIdle(now time.Time) {
	for _, c := range m.snapshot() {
		if now.Sub(c.LastOutsideDataReceived()) > IdleThreshold {
			_ = c.Disconnect()
		}
	}
}

// reapAuthExpired disconnects connections whose auth-expiry instant
// has passed.
func (m *Manager) reapAuthExpired(now time.Time) {
	for _, c := range m.snapshot() {
		if c.IsAuthExpired(now) {
			_ = c.Disconnect()
		}
	}
}

// reapPending drops pending-rotation entries whose target connection
// has already disconnected.
func (m *Manager) reapPending(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, c := range m.pending {
		if c.State() == connection.Disconnected {
			delete(m.pending, sid)
		}
	}
}

// snapshot copies the live connection set out from under the lock, per
// §5: "reapers acquire the map lock, collect targets, release the
// lock, then disconnect asynchronously -- disconnect() must never be
// called while holding the map lock."
func (m *Manager) snapshot() []*connection.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[*connection.Connection]struct{}, len(m.byAddr))
	out := make([]*connection.Connection, 0, len(m.byAddr))
	for _, c := range m.byAddr {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Len reports the number of distinct live connections indexed by peer
// address.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAddr)
}

// TotalSessions returns the monotonic count of connections ever
// created through this manager.
func (m *Manager) TotalSessions() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSessions
}

// NewSessionID mints a fresh random session id, the same generator
// BeginSessionIDRotation uses internally. server/cmd calls
// this when bringing a connection online so it can call AssignSessionID
// itself instead of waiting on a client-initiated rotation.
func NewSessionID() (wire.SessionID, error) {
	return randomSessionID()
}

func randomSessionID() (wire.SessionID, error) {
	var sid wire.SessionID
	if _, err := rand.Read(sid[:]); err != nil {
		return wire.SessionID{}, err
	}
	if sid.IsEmpty() || sid.IsRejected() {
		return randomSessionID()
	}
	return sid, nil
}
