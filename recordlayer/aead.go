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

package recordlayer

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"time"
)

// AEADAdapter is the concrete Adapter used once the handshake has
// derived traffic secrets. It plays the role the real DTLS/TLS library
// plays in production (explicitly out of scope per the data plane's
// non-goals): AES-256-GCM keyed record encryption, grounded the same
// way as package expresslane on the teacher's crypt.go
// aes.NewCipher+cipher.NewGCM construction, with an application-driven
// key-update cycle standing in for the library's own rekey machinery.
type AEADAdapter struct {
	mu sync.Mutex

	sendKey [32]byte
	recvKey [32]byte
	sendSeq uint64

	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD

	keyUpdateInterval time.Duration
	keyUpdateInFlight bool

	events chan Event
	closed bool
	stop   chan struct{}
}

// NewAEADAdapter builds an adapter from the pair of directional traffic
// keys negotiated by the handshake. keyUpdateInterval of zero disables
// the periodic key-update ticker (tests typically want this).
func NewAEADAdapter(sendKey, recvKey [32]byte, keyUpdateInterval time.Duration) (*AEADAdapter, error) {
	sendBlock, err := aes.NewCipher(sendKey[:])
	if err != nil {
		return nil, ErrHandshakeFailed.Error(err)
	}
	sendAEAD, err := cipher.NewGCM(sendBlock)
	if err != nil {
		return nil, ErrHandshakeFailed.Error(err)
	}

	recvBlock, err := aes.NewCipher(recvKey[:])
	if err != nil {
		return nil, ErrHandshakeFailed.Error(err)
	}
	recvAEAD, err := cipher.NewGCM(recvBlock)
	if err != nil {
		return nil, ErrHandshakeFailed.Error(err)
	}

	a := &AEADAdapter{
		sendKey:           sendKey,
		recvKey:           recvKey,
		sendAEAD:          sendAEAD,
		recvAEAD:          recvAEAD,
		keyUpdateInterval: keyUpdateInterval,
		events:            make(chan Event, 16),
		stop:              make(chan struct{}),
	}

	if keyUpdateInterval > 0 {
		go a.tickKeyUpdates()
	}

	return a, nil
}

// Handshake is a no-op: by construction an AEADAdapter already holds
// derived traffic keys. A real DTLS/TLS adapter performs the actual
// negotiation here.
func (a *AEADAdapter) Handshake(ctx context.Context) error {
	return nil
}

func (a *AEADAdapter) Encrypt(plaintext []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed.Error(nil)
	}

	var nonce [12]byte
	binary.BigEndian.PutUint64(nonce[4:], a.sendSeq)
	a.sendSeq++

	sealed := a.sendAEAD.Seal(nil, nonce[:], plaintext, nil)
	return append(nonce[:], sealed...), nil
}

func (a *AEADAdapter) Decrypt(record []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed.Error(nil)
	}
	if len(record) < 12 {
		return nil, ErrReadFailed.Error(nil)
	}

	nonce, sealed := record[:12], record[12:]
	plaintext, err := a.recvAEAD.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrReadFailed.Error(err)
	}
	return plaintext, nil
}

// TriggerKeyUpdate replaces the send-direction AEAD with one built from
// a freshly-generated random key and reports the start/completed event
// pair. The receive key is left unchanged. A real
// TLS 1.3 key update derives the next traffic secret from the current
// one (RFC 8446 §7.2); the record-layer library that owns that
// derivation is the opaque collaborator this adapter stands in for, so
// here it is a fresh random key -- sufficient to exercise the
// connection-level rotation coupling (§9 "Key-update + session
// rotation coupling") without reimplementing TLS 1.3 key scheduling.
func (a *AEADAdapter) TriggerKeyUpdate() error {
	a.mu.Lock()
	if a.keyUpdateInFlight {
		a.mu.Unlock()
		return ErrKeyUpdateInFlight.Error(nil)
	}
	a.keyUpdateInFlight = true
	a.mu.Unlock()

	a.emit(Event{Kind: TlsKeysUpdateStart})

	var newKey [32]byte
	if _, err := io.ReadFull(rand.Reader, newKey[:]); err != nil {
		a.mu.Lock()
		a.keyUpdateInFlight = false
		a.mu.Unlock()
		return ErrHandshakeFailed.Error(err)
	}

	block, err := aes.NewCipher(newKey[:])
	if err != nil {
		a.mu.Lock()
		a.keyUpdateInFlight = false
		a.mu.Unlock()
		return ErrHandshakeFailed.Error(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		a.mu.Lock()
		a.keyUpdateInFlight = false
		a.mu.Unlock()
		return ErrHandshakeFailed.Error(err)
	}

	a.mu.Lock()
	a.sendKey = newKey
	a.sendAEAD = aead
	a.sendSeq = 0
	a.keyUpdateInFlight = false
	a.mu.Unlock()

	a.emit(Event{Kind: TlsKeysUpdateCompleted})
	return nil
}

func (a *AEADAdapter) Events() <-chan Event {
	return a.events
}

func (a *AEADAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stop)
	close(a.events)
	return nil
}

func (a *AEADAdapter) emit(e Event) {
	select {
	case a.events <- e:
	default:
		// Slow consumer: drop rather than block the crypto path.
	}
}

func (a *AEADAdapter) tickKeyUpdates() {
	t := time.NewTicker(a.keyUpdateInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = a.TriggerKeyUpdate()
		case <-a.stop:
			return
		}
	}
}
