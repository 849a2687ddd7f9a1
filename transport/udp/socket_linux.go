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

//go:build linux

package udp

import (
	"encoding/binary"
	"net/netip"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxSocket is the Linux rawSocket: recvmsg/sendmsg over a raw fd so
// IP_PKTINFO can recover and restore the per-packet local address on an
// unspecified bind, and UDP_SEGMENT can batch equal-length packets into
// one GSO send (§4.6). Grounded on original_source's UdpSocket/
// read_from_socket/send_to_socket; unix.PktInfo4/ParseSocketControlMessage
// stand in for the hand-rolled cmsg module the Rust side needed.
type linuxSocket struct {
	fd   int
	bind bindMode

	mu      sync.Mutex
	recvOOB []byte
}

func newRawSocket(bind netip.AddrPort, bufferSize int) (rawSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, ErrListenFailed.Error(err)
	}

	sa := &unix.SockaddrInet4{Port: int(bind.Port())}
	if bind.Addr().Is4() {
		sa.Addr = bind.Addr().As4()
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, ErrListenFailed.Error(err)
	}

	if bufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bufferSize)
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bufferSize)
	}

	mode := classifyBindMode(bind)
	if mode.needsPktinfo() {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
			_ = unix.Close(fd)
			return nil, ErrListenFailed.Error(err)
		}
	}

	return &linuxSocket{
		fd:      fd,
		bind:    mode,
		recvOOB: make([]byte, unix.CmsgSpace(unix.SizeofInet4Pktinfo)),
	}, nil
}

func (s *linuxSocket) recv(buf []byte) (int, netip.AddrPort, netip.AddrPort, error) {
	s.mu.Lock()
	oob := s.recvOOB
	s.mu.Unlock()

	n, oobn, _, from, err := unix.Recvmsg(s.fd, buf, oob, 0)
	if err != nil {
		return 0, netip.AddrPort{}, netip.AddrPort{}, ErrRecvFailed.Error(err)
	}

	peerAddr, ok := sockaddrToAddrPort(from)
	if !ok {
		return 0, netip.AddrPort{}, netip.AddrPort{}, ErrRecvFailed.Error(nil)
	}

	var localAddr netip.AddrPort
	if s.bind.needsPktinfo() {
		local, ok := parsePktinfoDst(oob[:oobn])
		if !ok {
			return 0, netip.AddrPort{}, netip.AddrPort{}, ErrMissingPktinfo.Error(nil)
		}
		localAddr = local
	}

	return n, peerAddr, localAddr, nil
}

func (s *linuxSocket) send(buf []byte, peerAddr, localAddr netip.AddrPort) error {
	return s.sendmsg(buf, peerAddr, pktinfoControl(localAddr))
}

// sendBatch groups same-length packets into one UDP_SEGMENT GSO send per
// group; singletons and the odd length left over from an uneven split
// are sent individually. Mirrors send_gso_batch's size-group cascade,
// minus the per-connection queue/in-progress state, which lives in
// gso.go instead of here.
func (s *linuxSocket) sendBatch(bufs [][]byte, peerAddr, localAddr netip.AddrPort) error {
	groups := make(map[int][][]byte)
	for _, b := range bufs {
		groups[len(b)] = append(groups[len(b)], b)
	}

	for segSize, group := range groups {
		if len(group) == 1 {
			if err := s.send(group[0], peerAddr, localAddr); err != nil {
				return err
			}
			continue
		}

		combined := make([]byte, 0, segSize*len(group))
		for _, b := range group {
			combined = append(combined, b...)
		}

		oob := pktinfoControl(localAddr)
		oob = append(oob, udpSegmentControl(uint16(segSize))...)
		if err := s.sendmsg(combined, peerAddr, oob); err != nil {
			return err
		}
	}
	return nil
}

func (s *linuxSocket) sendmsg(buf []byte, peerAddr netip.AddrPort, oob []byte) error {
	sa := &unix.SockaddrInet4{Port: int(peerAddr.Port()), Addr: peerAddr.Addr().As4()}
	if err := unix.Sendmsg(s.fd, buf, oob, sa, 0); err != nil {
		return ErrSendFailed.Error(err)
	}
	return nil
}

func (s *linuxSocket) close() error {
	return unix.Close(s.fd)
}

func sockaddrToAddrPort(sa unix.Sockaddr) (netip.AddrPort, bool) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)), true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)), true
	default:
		return netip.AddrPort{}, false
	}
}

// parsePktinfoDst extracts the destination address of the received
// packet (ipi_spec_dst) from an IP_PKTINFO control message.
func parsePktinfoDst(oob []byte) (netip.AddrPort, bool) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return netip.AddrPort{}, false
	}
	for _, m := range msgs {
		if m.Header.Level != unix.IPPROTO_IP || m.Header.Type != unix.IP_PKTINFO {
			continue
		}
		pi := (*unix.Inet4Pktinfo)(unsafe.Pointer(&m.Data[0]))
		return netip.AddrPortFrom(netip.AddrFrom4(pi.Spec_dst), 0), true
	}
	return netip.AddrPort{}, false
}

// pktinfoControl builds the IP_PKTINFO cmsg that sources a reply from
// localAddr; a zero-value localAddr (specific-bind-address servers,
// which never need to recover or restore a local address) yields no
// control message at all.
func pktinfoControl(localAddr netip.AddrPort) []byte {
	if !localAddr.IsValid() || !localAddr.Addr().Is4() {
		return nil
	}
	return unix.PktInfo4(&unix.Inet4Pktinfo{Spec_dst: localAddr.Addr().As4()})
}

func udpSegmentControl(segmentSize uint16) []byte {
	b := make([]byte, unix.CmsgSpace(2))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = unix.SOL_UDP
	h.Type = unix.UDP_SEGMENT
	h.SetLen(unix.CmsgLen(2))
	binary.NativeEndian.PutUint16(b[unix.CmsgLen(0):], segmentSize)
	return b
}
