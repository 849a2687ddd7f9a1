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

//go:build !linux

package udp

import "net/netip"

// newRawSocket on non-Linux platforms is a plain net.UDPConn: no
// IP_PKTINFO (the kernel headers/cmsg layout IP_PKTINFO relies on are
// not portable across BSD/Darwin/Windows the way this module would
// need), no UDP_SEGMENT GSO. A server bound to a specific address still
// works correctly; one bound to an unspecified address cannot recover
// the per-packet local address, so replies are sent unbound (the
// kernel picks the source) -- acceptable for the development/test
// platforms this fallback targets, not for Linux production use, which
// always takes socket_linux.go.
func newRawSocket(bind netip.AddrPort, bufferSize int) (rawSocket, error) {
	return newFallbackSocket(bind, bufferSize)
}
