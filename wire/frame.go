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

// Type is the one-byte discriminant that precedes every Frame on the
// wire (ExpresslaneData excepted -- it rides directly under the outside
// Header, flagged by HeaderFlags.ExpressData, with no Type byte of its
// own).
type Type uint8

const (
	TypePing Type = iota + 1
	TypePong
	TypeData
	TypeNetworkConfig
	TypeGoodbye
	TypeEncodingRequest
	TypeExpresslaneConfig
)

// Frame is the tagged union of everything that can follow a Header
// inside a TLS/DTLS record. Concrete types alias the buffer they were
// parsed from wherever they carry a payload; callers that need to
// retain a Frame past the lifetime of the read buffer must copy it.
type Frame interface {
	Type() Type
	AppendTo(buf []byte) []byte
}

// ParseFrame reads the Type tag and dispatches to the matching frame
// parser. It returns the frame and the number of bytes consumed from
// buf.
func ParseFrame(buf []byte) (Frame, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrInsufficientData.Error(nil)
	}

	t := Type(buf[0])
	body := buf[1:]

	var (
		f Frame
		n int
		e error
	)

	switch t {
	case TypePing:
		f, n, e = parsePing(body)
	case TypePong:
		f, n, e = parsePong(body)
	case TypeData:
		f, n, e = parseData(body)
	case TypeNetworkConfig:
		f, n, e = parseNetworkConfig(body)
	case TypeGoodbye:
		f, n, e = parseGoodbye(body)
	case TypeEncodingRequest:
		f, n, e = parseEncodingRequest(body)
	case TypeExpresslaneConfig:
		f, n, e = parseExpresslaneConfig(body)
	default:
		return nil, 0, ErrInvalidFrameType.Error(nil)
	}

	if e != nil {
		return nil, 0, e
	}

	return f, 1 + n, nil
}

// AppendFrame appends f's Type tag followed by its wire encoding to buf.
func AppendFrame(buf []byte, f Frame) []byte {
	buf = append(buf, byte(f.Type()))
	return f.AppendTo(buf)
}
