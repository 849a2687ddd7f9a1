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

import "context"

// Adapter is the opaque record-layer collaborator a Connection drives:
// it owns the handshake, turns plaintext frame bytes into an encrypted
// record and back, and reports key-update/keylog/session events on a
// channel. The data plane never reaches into a concrete TLS/DTLS
// implementation directly -- every crypto decision lives behind this
// interface, matching the spec's explicit non-goal of treating the
// handshake library as an external collaborator.
type Adapter interface {
	// Handshake drives the handshake to completion or ctx expiry.
	Handshake(ctx context.Context) error

	// Encrypt turns plaintext frame bytes into one on-wire record.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt recovers plaintext frame bytes from one on-wire record.
	// A return of (nil, nil) means "record consumed, zero frames
	// decoded" -- e.g. a duplicate/replayed record -- distinct from an
	// error.
	Decrypt(record []byte) ([]byte, error)

	// TriggerKeyUpdate requests a TLS key update, reported back as a
	// TlsKeysUpdateStart/TlsKeysUpdateCompleted event pair. Returns
	// ErrKeyUpdateInFlight if one is already outstanding.
	TriggerKeyUpdate() error

	// Events returns the channel events are delivered on. Closed when
	// the adapter is closed.
	Events() <-chan Event

	Close() error
}
