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

// ExpresslaneConfigVersion enumerates the negotiated Expresslane
// wire-format version.
type ExpresslaneConfigVersion uint8

const (
	ExpresslaneConfigVersionUnknown ExpresslaneConfigVersion = 0
	ExpresslaneConfigVersion1       ExpresslaneConfigVersion = 1
)

// ExpresslaneConfigHeader is the bitfield packed into the second byte
// of an ExpresslaneConfig body. Bit order (MSB first) matches
// original_source/lightway-core/src/wire/expresslane_config.rs: bit 0
// is Enabled, bit 1 is Ack, the remaining 6 bits are unused.
type ExpresslaneConfigHeader uint8

const (
	ExpresslaneHeaderEnabled ExpresslaneConfigHeader = 1 << 7
	ExpresslaneHeaderAck     ExpresslaneConfigHeader = 1 << 6
)

func (h ExpresslaneConfigHeader) Enabled() bool { return h&ExpresslaneHeaderEnabled != 0 }
func (h ExpresslaneConfigHeader) Ack() bool     { return h&ExpresslaneHeaderAck != 0 }

// ExpresslaneKey is a raw AES-256 key for the Expresslane AEAD channel.
type ExpresslaneKey [32]byte

// ExpresslaneConfigWireOverhead is the fixed size of an
// ExpresslaneConfig body: 1 version byte, 1 header byte, 2 reserved
// bytes, 8-byte counter, 32-byte key.
const ExpresslaneConfigWireOverhead = 44

// ExpresslaneConfig negotiates (or rotates) the Expresslane AEAD
// channel's key and starting counter.
type ExpresslaneConfig struct {
	Version ExpresslaneConfigVersion
	Header  ExpresslaneConfigHeader
	Counter uint64
	Key     ExpresslaneKey
}

func (ExpresslaneConfig) Type() Type { return TypeExpresslaneConfig }

func (cfg ExpresslaneConfig) AppendTo(buf []byte) []byte {
	var body [ExpresslaneConfigWireOverhead]byte
	body[0] = byte(cfg.Version)
	body[1] = byte(cfg.Header)
	// body[2:4] stays zero (reserved).
	binary.BigEndian.PutUint64(body[4:12], cfg.Counter)
	copy(body[12:44], cfg.Key[:])
	return append(buf, body[:]...)
}

func parseExpresslaneConfig(buf []byte) (Frame, int, error) {
	c := newCursor(buf)
	if e := c.need(ExpresslaneConfigWireOverhead); e != nil {
		return nil, 0, e
	}

	version := ExpresslaneConfigVersion(c.u8())
	header := ExpresslaneConfigHeader(c.u8())
	c.skip(2)
	counter := c.u64()

	var key ExpresslaneKey
	copy(key[:], c.bytes(32))

	return ExpresslaneConfig{
		Version: version,
		Header:  header,
		Counter: counter,
		Key:     key,
	}, c.off, nil
}
