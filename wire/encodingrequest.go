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

// EncodingRequestWireSize is the fixed size of an EncodingRequest body:
// 8-byte id, 1-byte enable flag, and 39 reserved zero bytes. Layout
// taken from original_source/lightway-core/src/wire/encoding_request.rs,
// which spec.md gives only as a byte count.
const EncodingRequestWireSize = 48

// EncodingRequest asks the peer to enable or disable a framing
// extension identified by ID. The 39 reserved bytes must round-trip as
// zero; they exist for future extension without bumping the protocol
// version.
type EncodingRequest struct {
	ID     uint64
	Enable bool
}

func (EncodingRequest) Type() Type { return TypeEncodingRequest }

func (r EncodingRequest) AppendTo(buf []byte) []byte {
	var body [EncodingRequestWireSize]byte
	binary.BigEndian.PutUint64(body[0:8], r.ID)
	if r.Enable {
		body[8] = 1
	}
	// body[9:48] stays zero.
	return append(buf, body[:]...)
}

func parseEncodingRequest(buf []byte) (Frame, int, error) {
	c := newCursor(buf)
	if e := c.need(EncodingRequestWireSize); e != nil {
		return nil, 0, e
	}

	id := c.u64()
	enableByte := c.u8()

	var enable bool
	switch enableByte {
	case 0:
		enable = false
	case 1:
		enable = true
	default:
		return nil, 0, ErrInvalidBool.Error(nil)
	}

	c.skip(39)

	return EncodingRequest{ID: id, Enable: enable}, c.off, nil
}
