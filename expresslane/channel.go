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

// Package expresslane implements the AES-256-GCM fast-path AEAD channel
// that bypasses the TLS/DTLS record layer once both peers have
// exchanged keys. Construction follows the teacher's crypt package
// (aes.NewCipher + cipher.NewGCM), generalized from a one-shot helper
// into a stateful per-direction channel with a sliding replay window,
// counter-based nonces, and a two-phase key-rotation handshake.
package expresslane

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/expressvpn/lightway/wire"
)

// retransmitBaseDelay is the 500ms unit §4.3 point 3's backoff scales
// by (1 + retransmit_count).
const retransmitBaseDelay = 500 * time.Millisecond

// Key is a raw AES-256 key for one direction of an expresslane Channel.
type Key = wire.ExpresslaneKey

// Channel holds the negotiated state for one connection's expresslane
// fast path: the keys used to seal outgoing data, the keys accepted
// when opening incoming data, and the replay window guarding against
// re-delivery.
type Channel struct {
	mu sync.Mutex

	selfKey     *Key
	nextSelfKey *Key

	peerKey     *Key
	prevPeerKey *Key

	counter uint64
	window  replayWindow

	configCounter       uint64
	retransmitAttempts  int
	pendingRetransmitID uint64
	lastSentAt          time.Time
}

// New returns an empty Channel. It becomes Ready only once both a self
// key and a peer key have been installed via BeginRotation/OnConfigReceived.
func New() *Channel {
	return &Channel{}
}

// Ready reports whether the channel has both a current self key and a
// current peer key, i.e. it can Seal and Open traffic.
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfKey != nil && c.peerKey != nil
}

// BeginRotation stages newKey as the next self key and returns the
// ExpresslaneConfig frame to send the peer, advertising it. The staged
// key is not used for sealing until the peer acknowledges it (see
// OnConfigReceived).
func (c *Channel) BeginRotation(newKey Key) wire.ExpresslaneConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := newKey
	c.nextSelfKey = &k
	c.configCounter++
	c.retransmitAttempts = 0
	c.pendingRetransmitID++
	c.lastSentAt = time.Now()

	return wire.ExpresslaneConfig{
		Version: wire.ExpresslaneConfigVersion1,
		Header:  wire.ExpresslaneHeaderEnabled,
		Counter: c.configCounter,
		Key:     newKey,
	}
}

// DueRetransmit reports whether the rotation started by BeginRotation
// is still unacknowledged after 500ms * (1 + retransmit_count) (§4.3
// point 3's retransmit policy), and if so returns the same
// ExpresslaneConfig frame to resend and bumps the attempt count.
// Returns false once the rotation has been acked (OnConfigReceived
// cleared nextSelfKey) or none is outstanding.
func (c *Channel) DueRetransmit(now time.Time) (wire.ExpresslaneConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nextSelfKey == nil {
		return wire.ExpresslaneConfig{}, false
	}

	backoff := time.Duration(1+c.retransmitAttempts) * retransmitBaseDelay
	if now.Sub(c.lastSentAt) < backoff {
		return wire.ExpresslaneConfig{}, false
	}

	c.retransmitAttempts++
	c.pendingRetransmitID++
	c.lastSentAt = now

	return wire.ExpresslaneConfig{
		Version: wire.ExpresslaneConfigVersion1,
		Header:  wire.ExpresslaneHeaderEnabled,
		Counter: c.configCounter,
		Key:     *c.nextSelfKey,
	}, true
}

// OnConfigReceived processes a peer's ExpresslaneConfig. If it is an
// ack of a rotation we began (cfg.Header.Ack()), the staged self key is
// promoted to current. Otherwise it is the peer announcing its own new
// key: the current peer key is kept as prevPeerKey for one epoch, the
// new key is installed, and the returned frame (ack=true) should be
// sent back to the peer.
func (c *Channel) OnConfigReceived(cfg wire.ExpresslaneConfig) (reply wire.ExpresslaneConfig, isAck bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.Header.Ack() {
		if c.nextSelfKey != nil {
			c.selfKey = c.nextSelfKey
			c.nextSelfKey = nil
			c.retransmitAttempts = 0
			c.pendingRetransmitID = 0
		}
		return wire.ExpresslaneConfig{}, true
	}

	k := cfg.Key
	c.prevPeerKey = c.peerKey
	c.peerKey = &k

	return wire.ExpresslaneConfig{
		Version: wire.ExpresslaneConfigVersion1,
		Header:  wire.ExpresslaneHeaderEnabled | wire.ExpresslaneHeaderAck,
		Counter: cfg.Counter,
		Key:     cfg.Key,
	}, false
}

// Seal encrypts plaintext under the current self key, producing a wire
// ExpresslaneData envelope. associatedData is session_id(8) || wire_counter_be(8)
// per §4.3; sessionID is the connection's current outside session id.
//
// The outgoing counter wraps with explicit wrap-around semantics: after
// sealing at counter u64::MAX the next call seals at 0.
func (c *Channel) Seal(sessionID wire.SessionID, plaintext []byte) (wire.ExpresslaneData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selfKey == nil {
		return wire.ExpresslaneData{}, ErrNotReady.Error(nil)
	}

	counter := c.counter
	c.counter++ // wraps naturally: math/bits semantics of uint64 overflow

	aead, e := newAEAD(*c.selfKey)
	if e != nil {
		return wire.ExpresslaneData{}, e
	}

	var iv [wire.ExpresslaneIVSize]byte
	if _, err := io.ReadFull(rand.Reader, iv[:]); err != nil {
		return wire.ExpresslaneData{}, ErrSeal.Error(err)
	}

	ad := associatedData(sessionID, counter)
	sealed := aead.Seal(nil, iv[:], plaintext, ad)

	tagStart := len(sealed) - wire.ExpresslaneTagSize
	var tag [wire.ExpresslaneTagSize]byte
	copy(tag[:], sealed[tagStart:])

	return wire.ExpresslaneData{
		Counter:    counter,
		IV:         iv,
		AuthTag:    tag,
		Ciphertext: sealed[:tagStart],
	}, nil
}

// Open authenticates and decrypts an incoming ExpresslaneData envelope,
// enforcing the replay window. It first tries the current peer key,
// then the previous peer key (to survive one rekey epoch), so a late
// packet encrypted under the key just rotated away from still decrypts.
func (c *Channel) Open(sessionID wire.SessionID, d wire.ExpresslaneData) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peerKey == nil {
		return nil, ErrNoPeerKey.Error(nil)
	}

	if !c.window.accept(d.Counter) {
		if d.Counter <= c.window.maxCounter && c.window.maxCounter-d.Counter >= replayWindowSize {
			return nil, ErrTooOld.Error(nil)
		}
		return nil, ErrReplayedExpressData.Error(nil)
	}

	ad := associatedData(sessionID, d.Counter)
	sealed := append(append([]byte{}, d.Ciphertext...), d.AuthTag[:]...)

	plaintext, err := tryOpen(*c.peerKey, d.IV, sealed, ad)
	if err != nil && c.prevPeerKey != nil {
		plaintext, err = tryOpen(*c.prevPeerKey, d.IV, sealed, ad)
	}
	if err != nil {
		return nil, ErrAEADAuth.Error(err)
	}

	return plaintext, nil
}

func tryOpen(key Key, iv [wire.ExpresslaneIVSize]byte, sealed, ad []byte) ([]byte, error) {
	aead, e := newAEAD(key)
	if e != nil {
		return nil, e
	}
	return aead.Open(nil, iv[:], sealed, ad)
}

func newAEAD(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, ErrAESBlock.Error(err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrAESGCM.Error(err)
	}

	return aead, nil
}

// associatedData builds session_id(8) || wire_counter_be(8), the AEAD
// associated-data vector specified in §4.3/§6.
func associatedData(sessionID wire.SessionID, counter uint64) []byte {
	ad := make([]byte, 16)
	copy(ad[0:8], sessionID[:])
	binary.BigEndian.PutUint64(ad[8:16], counter)
	return ad
}
