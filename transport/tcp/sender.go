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
	"net"
	"sync"
)

// outsideSender is the connection.OutsideSender for one accepted TCP
// socket. Unlike transport/udp's sender there is no peer address to
// retarget and no GSO batching -- a stream has exactly one peer for
// its entire life -- but writes still need a mutex: Pong/Expresslane
// replies originate from the reader goroutine's own dispatch while a
// future inside-to-outside forwarding path could write concurrently.
type outsideSender struct {
	mu   sync.Mutex
	conn net.Conn
}

func newOutsideSender(conn net.Conn) *outsideSender {
	return &outsideSender{conn: conn}
}

func (s *outsideSender) SendOutside(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeRecord(s.conn, record)
}
