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

// Package recordlayer adapts the opaque external TLS/DTLS library (here
// the self-contained AES-256-GCM AEADAdapter stands in for it, per the
// data plane's explicit non-goal of owning the handshake library itself)
// into the six named events the connection state machine reacts to.
package recordlayer

import "github.com/expressvpn/lightway/wire"

// EventKind discriminates the events an Adapter reports on its Events
// channel.
type EventKind uint8

const (
	StateChanged EventKind = iota + 1
	TlsKeysUpdateStart
	TlsKeysUpdateCompleted
	FirstPacketReceived
	KeepaliveReply
	SessionIdRotationAcknowledged
)

func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "StateChanged"
	case TlsKeysUpdateStart:
		return "TlsKeysUpdateStart"
	case TlsKeysUpdateCompleted:
		return "TlsKeysUpdateCompleted"
	case FirstPacketReceived:
		return "FirstPacketReceived"
	case KeepaliveReply:
		return "KeepaliveReply"
	case SessionIdRotationAcknowledged:
		return "SessionIdRotationAcknowledged"
	}
	return "Unknown"
}

// Event is one occurrence reported by an Adapter. OldSessionID/NewSessionID
// are only meaningful for SessionIdRotationAcknowledged.
type Event struct {
	Kind         EventKind
	OldSessionID wire.SessionID
	NewSessionID wire.SessionID
}
