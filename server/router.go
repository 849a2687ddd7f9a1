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
	"net/netip"
	"sync"

	"github.com/expressvpn/lightway/connection"
)

// router resolves which connection owns an inside packet read off the
// TUN device, by its destination address. The server side fans one
// TUN device out across many connections and needs the map; the
// client side only ever has the one connection it dialled.
type router interface {
	route(dst netip.Addr) (*connection.Connection, bool)
}

// mapRouter is the server-role router: every connection claims its
// assigned internal IP on bringup and releases it on teardown.
type mapRouter struct {
	mu   sync.RWMutex
	byIP map[netip.Addr]*connection.Connection
}

func newMapRouter() *mapRouter {
	return &mapRouter{byIP: make(map[netip.Addr]*connection.Connection)}
}

func (r *mapRouter) set(ip netip.Addr, c *connection.Connection) {
	r.mu.Lock()
	r.byIP[ip] = c
	r.mu.Unlock()
}

func (r *mapRouter) remove(ip netip.Addr) {
	r.mu.Lock()
	delete(r.byIP, ip)
	r.mu.Unlock()
}

func (r *mapRouter) route(dst netip.Addr) (*connection.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byIP[dst]
	return c, ok
}

// singleRouter is the client-role router: every packet routes to the
// one connection the client dialled, regardless of dst.
type singleRouter struct {
	c *connection.Connection
}

func (r singleRouter) route(netip.Addr) (*connection.Connection, bool) {
	return r.c, true
}
