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

// DataWireOverhead is the 2-byte length prefix carried ahead of every
// encapsulated packet.
const DataWireOverhead = 2

// Data carries one encapsulated inside-interface packet. Packet
// aliases the buffer it was parsed from -- it is the one payload the
// doc comment calls out as surviving past the frame boundary into the
// TUN write path, so callers that hand it off to another goroutine
// must copy it first.
type Data struct {
	Packet []byte
}

func (Data) Type() Type { return TypeData }

func (d Data) AppendTo(buf []byte) []byte {
	var hdr [DataWireOverhead]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(d.Packet)))
	buf = append(buf, hdr[:]...)
	return append(buf, d.Packet...)
}

func parseData(buf []byte) (Frame, int, error) {
	c := newCursor(buf)
	if e := c.need(DataWireOverhead); e != nil {
		return nil, 0, e
	}

	length := c.u16()

	if e := c.need(int(length)); e != nil {
		return nil, 0, e
	}

	return Data{Packet: c.bytes(int(length))}, c.off, nil
}
