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

package wire

import (
	"encoding/binary"
	"fmt"
)

// SessionID is the 8-byte opaque session identifier carried in every
// Header. It is selected by the server and changes at each rotation.
type SessionID [8]byte

// EmptySessionID denotes "client does not yet have a session".
var EmptySessionID = SessionID{}

// RejectedSessionID is the server's response to an unknown session,
// telling the client to restart its handshake.
var RejectedSessionID = SessionID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (s SessionID) String() string {
	return fmt.Sprintf("%x", [8]byte(s))
}

// IsEmpty reports whether s is the EmptySessionID sentinel.
func (s SessionID) IsEmpty() bool {
	return s == EmptySessionID
}

// IsRejected reports whether s is the RejectedSessionID sentinel.
func (s SessionID) IsRejected() bool {
	return s == RejectedSessionID
}

// Version is the two-byte major/minor protocol version carried in
// every Header.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// MinSupportedVersion is used for connections that carry no on-wire
// version indication of their own (stream connections, per §4.5).
var MinSupportedVersion = Version{Major: 1, Minor: 0}

// HeaderFlags carries the per-packet bits that sit alongside the
// version and session id.
type HeaderFlags uint8

const (
	// FlagAggressiveMode requests the remote side prioritise this
	// connection's processing.
	FlagAggressiveMode HeaderFlags = 1 << iota
	// FlagExpressData indicates the payload following the Header is
	// an ExpresslaneData envelope rather than a TLS/DTLS record.
	FlagExpressData
)

func (f HeaderFlags) Aggressive() bool   { return f&FlagAggressiveMode != 0 }
func (f HeaderFlags) ExpressData() bool  { return f&FlagExpressData != 0 }

// HeaderSize is the fixed on-wire size of a Header: 2 version bytes,
// 1 flags byte, 8 session-id bytes.
const HeaderSize = 11

// Header is the fixed prefix of every outside packet.
type Header struct {
	Version   Version
	Flags     HeaderFlags
	SessionID SessionID
}

// ParseHeader reads a Header from the front of buf without copying.
// It returns the header and the number of bytes consumed.
func ParseHeader(buf []byte) (Header, int, error) {
	if len(buf) < HeaderSize {
		return Header{}, 0, ErrInsufficientData.Error(nil)
	}

	h := Header{
		Version: Version{Major: buf[0], Minor: buf[1]},
		Flags:   HeaderFlags(buf[2]),
	}
	copy(h.SessionID[:], buf[3:11])

	return h, HeaderSize, nil
}

// AppendTo appends the wire encoding of h to buf and returns the
// extended slice.
func (h Header) AppendTo(buf []byte) []byte {
	var tmp [HeaderSize]byte
	tmp[0] = h.Version.Major
	tmp[1] = h.Version.Minor
	tmp[2] = byte(h.Flags)
	copy(tmp[3:11], h.SessionID[:])
	return append(buf, tmp[:]...)
}

// cursor is a small borrow-oriented reader over a byte slice: it never
// copies, only advances an offset, so callers can bail out with
// ErrInsufficientData and retry once more bytes have arrived.
type cursor struct {
	buf []byte
	off int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return ErrInsufficientData.Error(nil)
	}
	return nil
}

func (c *cursor) u8() uint8 {
	v := c.buf[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	v := binary.BigEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u64() uint64 {
	v := binary.BigEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v
}

func (c *cursor) skip(n int) {
	c.off += n
}

// bytes returns a sub-slice aliasing the cursor's backing array -- the
// caller must not retain it past the lifetime of the original buffer
// unless it copies.
func (c *cursor) bytes(n int) []byte {
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}
