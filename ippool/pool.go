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

// Package ippool implements the server's IPv4 tunnel-address allocator:
// a reserved set that is never handed out, an allocated set of
// currently-in-use addresses, and an LRU deque of available addresses.
// Sub-pools may be carved out of a parent pool for per-source subnet
// partitioning.
package ippool

import (
	"container/list"
	"encoding/binary"
	"math/rand"
	"net/netip"
	"sync"
)

// Pool allocates IPv4 addresses out of a fixed network range.
// Reserved addresses (the network address, the broadcast address, and
// any caller-supplied service addresses) are never handed out.
type Pool struct {
	mu sync.Mutex

	network   netip.Prefix
	reserved  map[netip.Addr]struct{}
	allocated map[netip.Addr]struct{}
	available *list.List // of netip.Addr, front = next to allocate
}

// New builds a Pool over network, reserving network.Addr(), the
// broadcast address, and every address in reserved. Every other host
// address in network starts out available, in shuffled order.
func New(network netip.Prefix, reserved []netip.Addr) (*Pool, error) {
	if !network.Addr().Is4() {
		return nil, ErrNotIPv4.Error(nil)
	}

	p := &Pool{
		network:   network,
		reserved:  make(map[netip.Addr]struct{}),
		allocated: make(map[netip.Addr]struct{}),
		available: list.New(),
	}

	p.reserved[network.Masked().Addr()] = struct{}{}
	p.reserved[broadcastOf(network)] = struct{}{}
	for _, ip := range reserved {
		p.reserved[ip] = struct{}{}
	}

	for _, ip := range hostsOf(network) {
		if _, skip := p.reserved[ip]; !skip {
			p.available.PushBack(ip)
		}
	}

	p.shuffleLocked()

	return p, nil
}

// ShuffleIPs randomizes the order of the available queue so consecutive
// allocations don't hand out sequential addresses. New already calls
// this once at construction (§4.10: "shuffle_ips() is called once at
// startup to resist guessing"); it remains exported for callers that
// want to reshuffle explicitly.
func (p *Pool) ShuffleIPs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shuffleLocked()
}

func (p *Pool) shuffleLocked() {
	ips := make([]netip.Addr, 0, p.available.Len())
	for e := p.available.Front(); e != nil; e = e.Next() {
		ips = append(ips, e.Value.(netip.Addr))
	}

	rand.Shuffle(len(ips), func(i, j int) { ips[i], ips[j] = ips[j], ips[i] })

	p.available.Init()
	for _, ip := range ips {
		p.available.PushBack(ip)
	}
}

// Allocate pops the front of the available queue. Returns
// ErrPoolExhausted if nothing remains.
func (p *Pool) Allocate() (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.available.Front()
	if e == nil {
		return netip.Addr{}, ErrPoolExhausted.Error(nil)
	}

	ip := e.Value.(netip.Addr)
	p.available.Remove(e)
	p.allocated[ip] = struct{}{}

	return ip, nil
}

// Free returns ip to the back of the available queue. Freeing an
// address that was never allocated (reserved, unrelated, or already
// free) is a silent no-op, matching the original implementation's
// "attempt to free unallocated IP" warning-and-ignore behaviour.
func (p *Pool) Free(ip netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allocated[ip]; !ok {
		return
	}

	delete(p.allocated, ip)
	p.available.PushBack(ip)
}

// SplitSubnet carves a child Pool out of p: every available address
// inside subnet moves from p to the child (removed from p, in order);
// every reserved address inside subnet is copied into the child's
// reserved set without being removed from p's (see DESIGN.md's Open
// Questions decision — reserved addresses are never in available, so
// this has no functional effect on allocation).
func (p *Pool) SplitSubnet(subnet netip.Prefix) *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()

	child := &Pool{
		network:   subnet,
		reserved:  make(map[netip.Addr]struct{}),
		allocated: make(map[netip.Addr]struct{}),
		available: list.New(),
	}

	var next *list.Element
	for e := p.available.Front(); e != nil; e = next {
		next = e.Next()
		ip := e.Value.(netip.Addr)
		if subnet.Contains(ip) {
			p.available.Remove(e)
			child.available.PushBack(ip)
		}
	}

	for ip := range p.reserved {
		if subnet.Contains(ip) {
			child.reserved[ip] = struct{}{}
		}
	}

	return child
}

// Len reports the number of currently available addresses.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available.Len()
}

func broadcastOf(p netip.Prefix) netip.Addr {
	base := p.Masked().Addr().As4()
	mask := uint32(0xffffffff) << (32 - p.Bits())
	b := binary.BigEndian.Uint32(base[:]) | ^mask
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], b)
	return netip.AddrFrom4(out)
}

// hostsOf enumerates every address in p except the network and
// broadcast addresses, ascending -- the standard IPv4 "hosts" range.
func hostsOf(p netip.Prefix) []netip.Addr {
	network := p.Masked().Addr().As4()
	start := binary.BigEndian.Uint32(network[:])
	broadcast := broadcastOf(p).As4()
	end := binary.BigEndian.Uint32(broadcast[:])

	if end <= start+1 {
		return nil
	}

	out := make([]netip.Addr, 0, end-start-1)
	for v := start + 1; v < end; v++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		out = append(out, netip.AddrFrom4(b))
	}
	return out
}
