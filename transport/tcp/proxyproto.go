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
	"bufio"
	"io"
	"net"
	"net/netip"

	"github.com/pires/go-proxyproto"
)

// resolveProxyProtocolPeer consumes one PROXY protocol v2 header off
// reader and returns the address it carries. Per §4.7: IPv4 sources
// replace the kernel-reported peer address; IPv6, Unix, and
// unspecified PROXY sources are rejected even though the library
// parses them -- this module only ever hands connmgr an IPv4
// netip.AddrPort.
func resolveProxyProtocolPeer(reader *bufio.Reader) (net.Addr, string, error) {
	header, err := proxyproto.Read(reader)
	if err != nil {
		return nil, "parse_error", ErrProxyHeaderRejected.Error(err)
	}

	switch addr := header.SourceAddr.(type) {
	case *net.TCPAddr:
		if addr.IP == nil || addr.IP.IsUnspecified() {
			return nil, "unspecified", ErrProxyHeaderRejected.Error(nil)
		}
		if addr.IP.To4() == nil {
			return nil, "ipv6", ErrProxyHeaderRejected.Error(nil)
		}
		return addr, "", nil
	case nil:
		return nil, "unspecified", ErrProxyHeaderRejected.Error(nil)
	default:
		return nil, "unix", ErrProxyHeaderRejected.Error(nil)
	}
}

func isEndOfStream(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

func toAddrPort(addr net.Addr) (netip.AddrPort, bool) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ip, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(tcpAddr.Port)), true
}
