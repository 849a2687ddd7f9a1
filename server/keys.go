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
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// clientToServerInfo and serverToClientInfo are the fixed HKDF info
// labels deriveStaticKeys expands the PSK into. A real deployment
// negotiates session keys through a DTLS/TLS handshake binding a PSK
// identity to an ephemeral key exchange (§4.1); that negotiation is
// out of scope here (recordlayer.AEADAdapter already stands in for
// the record layer the handshake would feed), so this package derives
// a fixed pair of directional keys straight from the configured PSK
// instead. TriggerKeyUpdate still rotates traffic keys forward from
// this starting point, which is the only forward-secrecy property a
// real handshake would add beyond what's implemented here.
var (
	clientToServerInfo = []byte("lightway static client-to-server traffic key")
	serverToClientInfo = []byte("lightway static server-to-client traffic key")
)

// deriveStaticKeys expands psk into the two directional AEAD traffic
// keys a connection's AEADAdapter needs. Deterministic: the same psk
// always yields the same pair, which is what lets a freshly dialled
// client and a freshly accepted server agree on keys without ever
// exchanging a handshake message.
func deriveStaticKeys(psk [32]byte) (clientToServer, serverToClient [32]byte, err error) {
	if err = expand(psk, clientToServerInfo, clientToServer[:]); err != nil {
		return [32]byte{}, [32]byte{}, ErrKeyDerivationFailed.Error(err)
	}
	if err = expand(psk, serverToClientInfo, serverToClient[:]); err != nil {
		return [32]byte{}, [32]byte{}, ErrKeyDerivationFailed.Error(err)
	}
	return clientToServer, serverToClient, nil
}

func expand(psk [32]byte, info []byte, out []byte) error {
	reader := hkdf.New(sha256.New, psk[:], nil, info)
	_, err := io.ReadFull(reader, out)
	return err
}
