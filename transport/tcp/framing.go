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

package tcp

import (
	"encoding/binary"
	"io"
)

// maxOutsideMTU bounds every record this transport frames, the TCP
// counterpart of transport/udp's identically-named constant.
const maxOutsideMTU = 1500

// recordLengthSize is the 2-byte length prefix this package puts in
// front of every encrypted record on the wire. A real TLS/DTLS record
// is self-delimiting (its own record header carries a length); the
// AEADAdapter this module's handshake-less record layer uses is not,
// so something has to delimit successive records within an otherwise
// boundary-less TCP byte stream. Framing errors are fatal per §4.7 --
// there is no datagram to drop and recover from, only the stream to
// tear down.
const recordLengthSize = 2

// writeRecord frames one record with its length prefix and writes it
// in a single call, so a concurrent writer never observes a torn
// length/payload pair.
func writeRecord(w io.Writer, record []byte) error {
	if len(record) > maxOutsideMTU {
		return ErrRecordTooLarge.Error(nil)
	}

	buf := make([]byte, recordLengthSize+len(record))
	binary.BigEndian.PutUint16(buf, uint16(len(record)))
	copy(buf[recordLengthSize:], record)

	_, err := w.Write(buf)
	return err
}

// readRecord blocks until one full length-prefixed record has arrived,
// or returns the error (including io.EOF) that ended the stream.
func readRecord(r io.Reader) ([]byte, error) {
	var lenBuf [recordLengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) > maxOutsideMTU {
		return nil, ErrRecordTooLarge.Error(nil)
	}

	record := make([]byte, n)
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, err
	}
	return record, nil
}

// WriteRecord and ReadRecord export the same length-prefix framing for
// callers outside this package that dial out rather than accept --
// server/cmd's client role has no listener to accept into, but must
// speak the identical wire framing this server side uses.
func WriteRecord(w io.Writer, record []byte) error { return writeRecord(w, record) }
func ReadRecord(r io.Reader) ([]byte, error)        { return readRecord(r) }
