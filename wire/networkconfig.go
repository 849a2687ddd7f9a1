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

import (
	"encoding/binary"
	"net/netip"
)

// AddrFamily distinguishes the IPv4 and IPv6 encodings of
// NetworkConfig's three addresses. The wire value is the address
// length in bytes, so parsing doubles as validation.
type AddrFamily uint8

const (
	AddrFamilyV4 AddrFamily = 4
	AddrFamilyV6 AddrFamily = 16
)

// NetworkConfigWireOverhead is the fixed portion of a NetworkConfig
// frame excluding the three address blocks: 1 family byte + 2 MTU
// bytes.
const NetworkConfigWireOverhead = 3

// NetworkConfig is sent by the server once a connection reaches Online,
// assigning the client its tunnel addressing.
type NetworkConfig struct {
	Family    AddrFamily
	ClientIP  netip.Addr
	ServerIP  netip.Addr
	DNSIP     netip.Addr
	MTU       uint16
}

func (NetworkConfig) Type() Type { return TypeNetworkConfig }

func (n NetworkConfig) AppendTo(buf []byte) []byte {
	buf = append(buf, byte(n.Family))
	buf = appendAddr(buf, n.ClientIP, n.Family)
	buf = appendAddr(buf, n.ServerIP, n.Family)
	buf = appendAddr(buf, n.DNSIP, n.Family)

	var mtu [2]byte
	binary.BigEndian.PutUint16(mtu[:], n.MTU)
	return append(buf, mtu[:]...)
}

func appendAddr(buf []byte, a netip.Addr, fam AddrFamily) []byte {
	if fam == AddrFamilyV4 {
		b := a.As4()
		return append(buf, b[:]...)
	}
	b := a.As16()
	return append(buf, b[:]...)
}

func parseNetworkConfig(buf []byte) (Frame, int, error) {
	c := newCursor(buf)
	if e := c.need(1); e != nil {
		return nil, 0, e
	}

	fam := AddrFamily(c.u8())
	if fam != AddrFamilyV4 && fam != AddrFamilyV6 {
		return nil, 0, ErrInvalidLength.Error(nil)
	}

	n := int(fam)
	if e := c.need(3*n + 2); e != nil {
		return nil, 0, e
	}

	client, _ := netip.AddrFromSlice(c.bytes(n))
	server, _ := netip.AddrFromSlice(c.bytes(n))
	dns, _ := netip.AddrFromSlice(c.bytes(n))
	mtu := c.u16()

	return NetworkConfig{
		Family:   fam,
		ClientIP: client,
		ServerIP: server,
		DNSIP:    dns,
		MTU:      mtu,
	}, c.off, nil
}
