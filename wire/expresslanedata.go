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

// ExpresslaneData does not carry a Type tag of its own: it rides
// directly under the outside Header, selected by HeaderFlags.ExpressData,
// instead of going through the TLS/DTLS record layer and ParseFrame's
// tagged-union dispatch like every other frame.
//
// ExpresslaneDataWireOverhead is its fixed portion: 8-byte counter,
// 12-byte IV, 16-byte AuthTag, 2-byte data length, 2 reserved bytes.
const ExpresslaneDataWireOverhead = 40

const (
	ExpresslaneIVSize  = 12
	ExpresslaneTagSize = 16
)

// ExpresslaneData is one ciphertext envelope on the Expresslane fast
// path. Counter is the wire nonce counter (big-endian on the wire,
// combined with the session id to form the AEAD associated data).
// Ciphertext aliases the buffer it was parsed from and includes the
// trailing AuthTag, ready to hand to cipher.AEAD.Open as a single
// sealed blob the way crypto/cipher expects it.
type ExpresslaneData struct {
	Counter    uint64
	IV         [ExpresslaneIVSize]byte
	AuthTag    [ExpresslaneTagSize]byte
	Ciphertext []byte
}

// AppendTo appends the wire encoding of d to buf. Ciphertext must not
// include the AuthTag -- it is written separately.
func (d ExpresslaneData) AppendTo(buf []byte) []byte {
	var hdr [ExpresslaneDataWireOverhead]byte
	binary.BigEndian.PutUint64(hdr[0:8], d.Counter)
	copy(hdr[8:20], d.IV[:])
	copy(hdr[20:36], d.AuthTag[:])
	binary.BigEndian.PutUint16(hdr[36:38], uint16(len(d.Ciphertext)))
	// hdr[38:40] stays zero (reserved).
	buf = append(buf, hdr[:]...)
	return append(buf, d.Ciphertext...)
}

// ParseExpresslaneData reads an ExpresslaneData envelope from the
// front of buf without copying the ciphertext.
func ParseExpresslaneData(buf []byte) (ExpresslaneData, int, error) {
	c := newCursor(buf)
	if e := c.need(ExpresslaneDataWireOverhead); e != nil {
		return ExpresslaneData{}, 0, e
	}

	var d ExpresslaneData
	d.Counter = c.u64()
	copy(d.IV[:], c.bytes(ExpresslaneIVSize))
	copy(d.AuthTag[:], c.bytes(ExpresslaneTagSize))
	length := c.u16()
	c.skip(2)

	if e := c.need(int(length)); e != nil {
		return ExpresslaneData{}, 0, e
	}

	d.Ciphertext = c.bytes(int(length))

	return d, c.off, nil
}
