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

// PongWireOverhead is the fixed portion of a Pong frame, not counting
// its payload: a 2-byte id echoing the Ping that triggered it, and a
// 2-byte payload length.
const PongWireOverhead = 4

// Pong answers a Ping (or is sent unsolicited as a keepalive probe
// reply). Payload aliases the buffer it was parsed from.
type Pong struct {
	ID      uint16
	Payload []byte
}

func (Pong) Type() Type { return TypePong }

func (p Pong) AppendTo(buf []byte) []byte {
	var hdr [PongWireOverhead]byte
	binary.BigEndian.PutUint16(hdr[0:2], p.ID)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(p.Payload)))
	buf = append(buf, hdr[:]...)
	return append(buf, p.Payload...)
}

func parsePong(buf []byte) (Frame, int, error) {
	c := newCursor(buf)
	if e := c.need(PongWireOverhead); e != nil {
		return nil, 0, e
	}

	id := c.u16()
	length := c.u16()

	if e := c.need(int(length)); e != nil {
		return nil, 0, e
	}

	var payload []byte
	if length > 0 {
		payload = c.bytes(int(length))
	}

	return Pong{ID: id, Payload: payload}, c.off, nil
}
