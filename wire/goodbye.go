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

import "encoding/binary"

// GoodbyeReason enumerates why a peer is tearing down the connection.
type GoodbyeReason uint16

const (
	GoodbyeReasonUnknown GoodbyeReason = iota
	GoodbyeReasonRequestedByPeer
	GoodbyeReasonInactiveSession
	GoodbyeReasonServerError
)

// GoodbyeWireOverhead is the fixed portion of a Goodbye frame, not
// counting its free-form detail text: a 2-byte reason code and a
// 2-byte detail length.
const GoodbyeWireOverhead = 4

// Goodbye announces an orderly connection teardown.
type Goodbye struct {
	Reason GoodbyeReason
	Detail []byte
}

func (Goodbye) Type() Type { return TypeGoodbye }

func (g Goodbye) AppendTo(buf []byte) []byte {
	var hdr [GoodbyeWireOverhead]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(g.Reason))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(g.Detail)))
	buf = append(buf, hdr[:]...)
	return append(buf, g.Detail...)
}

func parseGoodbye(buf []byte) (Frame, int, error) {
	c := newCursor(buf)
	if e := c.need(GoodbyeWireOverhead); e != nil {
		return nil, 0, e
	}

	reason := GoodbyeReason(c.u16())
	length := c.u16()

	if e := c.need(int(length)); e != nil {
		return nil, 0, e
	}

	return Goodbye{Reason: reason, Detail: c.bytes(int(length))}, c.off, nil
}
