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

package server

import (
	"context"
	"net/netip"

	"github.com/expressvpn/lightway/connection"
	"github.com/expressvpn/lightway/internal/telemetry"
	lwtun "github.com/expressvpn/lightway/tun"
)

// tunInsideSender adapts a tun.Engine to connection.InsideSender, the
// one-line seam between a Connection's decrypted Data frames and the
// TUN device both roles share.
type tunInsideSender struct {
	tun lwtun.Engine
}

func (s tunInsideSender) SendInside(packet []byte) error {
	return s.tun.TrySend(packet)
}

// parseIPv4DestAddr reads just enough of pkt's header to find its
// destination address: the version nibble (rejecting anything but
// IPv4, per this module's non-goals) and bytes 16:20.
func parseIPv4DestAddr(pkt []byte) (netip.Addr, bool) {
	if len(pkt) < 20 {
		return netip.Addr{}, false
	}
	if pkt[0]>>4 != 4 {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(pkt[16:20])
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// runInsideReadLoop pumps packets off tun until ctx is cancelled,
// resolving each one's destination through route and forwarding it to
// the owning connection's SendData. A packet with no destination route
// is dropped, not fatal -- the same "best effort delivery" the outside
// transports apply to a single bad record.
func runInsideReadLoop(ctx context.Context, tun lwtun.Engine, route func(netip.Addr) (*connection.Connection, bool), metrics *telemetry.Sink) {
	for {
		pkt, err := tun.RecvBuf(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.TunRxError.Inc()
			continue
		}

		dst, ok := parseIPv4DestAddr(pkt)
		if !ok {
			metrics.TunPacketDropped.Inc()
			continue
		}

		c, ok := route(dst)
		if !ok {
			metrics.TunPacketDropped.Inc()
			continue
		}

		if err := c.SendData(pkt); err != nil {
			metrics.TunPacketDropped.Inc()
		}
	}
}
