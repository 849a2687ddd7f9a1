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

import "net/netip"

// bindMode mirrors original_source's BindMode enum: whether the
// server bound to a specific local address (so every reply is already
// correctly sourced) or to an unspecified one (so the local address a
// given packet actually arrived on has to be recovered per-packet via
// IP_PKTINFO and remembered for replies).
type bindMode uint8

const (
	bindSpecificAddress bindMode = iota
	bindUnspecifiedAddress
)

func (b bindMode) needsPktinfo() bool { return b == bindUnspecifiedAddress }

func classifyBindMode(addr netip.AddrPort) bindMode {
	if addr.Addr().IsUnspecified() {
		return bindUnspecifiedAddress
	}
	return bindSpecificAddress
}

// rawSocket is the OS-facing half of the UDP server: enough to receive
// a datagram together with the local address it actually arrived on,
// and to send one back sourced from that same local address.
// socket_linux.go implements this with recvmsg/sendmsg and
// IP_PKTINFO/UDP_SEGMENT (§4.6); socket_fallback.go implements it
// portably with net.UDPConn for every other GOOS, without GSO and
// without per-packet local-address recovery on an unspecified bind
// (documented in DESIGN.md as a platform limitation, not a spec gap).
type rawSocket interface {
	// recv blocks until a datagram arrives or the socket is closed. A
	// zero-value localAddr means "not recovered" (always true on the
	// fallback implementation when bound to an unspecified address).
	recv(buf []byte) (n int, peerAddr, localAddr netip.AddrPort, err error)

	// send transmits buf to peerAddr, sourced from localAddr when the
	// bind address is unspecified and localAddr is valid.
	send(buf []byte, peerAddr, localAddr netip.AddrPort) error

	// sendBatch sends same-sized packets with GSO where the platform
	// supports it; portable implementations just loop over send.
	sendBatch(bufs [][]byte, peerAddr, localAddr netip.AddrPort) error

	close() error
}
