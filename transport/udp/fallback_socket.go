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

package udp

import "net"
import "net/netip"

// fallbackSocket is the portable rawSocket built on the standard
// library alone, used on every GOOS other than Linux (see
// socket_fallback.go); Linux traffic goes through socket_linux.go
// instead, whose recvmsg/PKTINFO/GSO path socket_linux_test.go covers.
type fallbackSocket struct {
	conn *net.UDPConn
	bind netip.AddrPort
}

func newFallbackSocket(bind netip.AddrPort, bufferSize int) (*fallbackSocket, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(bind))
	if err != nil {
		return nil, ErrListenFailed.Error(err)
	}

	if bufferSize > 0 {
		_ = conn.SetReadBuffer(bufferSize)
		_ = conn.SetWriteBuffer(bufferSize)
	}

	return &fallbackSocket{conn: conn, bind: bind}, nil
}

func (s *fallbackSocket) recv(buf []byte) (int, netip.AddrPort, netip.AddrPort, error) {
	n, peerAddr, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, netip.AddrPort{}, err
	}

	local := netip.AddrPort{}
	if !s.bind.Addr().IsUnspecified() {
		local = s.bind
	}

	return n, peerAddr, local, nil
}

func (s *fallbackSocket) send(buf []byte, peerAddr, _ netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(buf, peerAddr)
	return err
}

func (s *fallbackSocket) sendBatch(bufs [][]byte, peerAddr, localAddr netip.AddrPort) error {
	for _, b := range bufs {
		if err := s.send(b, peerAddr, localAddr); err != nil {
			return err
		}
	}
	return nil
}

func (s *fallbackSocket) close() error {
	return s.conn.Close()
}
