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

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/expressvpn/lightway/internal/telemetry"
)

// gsoSendState batches one connection's outgoing records so same-length
// packets can ride a single UDP_SEGMENT send instead of one syscall
// each. Mirrors original_source's GsoSendState: a bounded queue plus an
// atomic in-progress flag that serializes drains without a held lock
// across the syscall. Only Linux batches at the socket level; on every
// other platform the fallback socket's sendBatch sends the queued
// packets one at a time.
type gsoSendState struct {
	mu         sync.Mutex
	queue      [][]byte
	queueLimit int

	inProgress atomic.Bool
}

func newGsoSendState(queueLimit int) *gsoSendState {
	return &gsoSendState{queueLimit: queueLimit}
}

func (g *gsoSendState) enqueue(record []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) >= g.queueLimit {
		return false
	}
	g.queue = append(g.queue, append([]byte(nil), record...))
	return true
}

func (g *gsoSendState) drain() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	q := g.queue
	g.queue = nil
	return q
}

func (g *gsoSendState) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// sendWithGso is outsideSender.SendOutside's GSO-enabled path: a record
// arriving while another send is in flight is queued rather than sent
// inline, and the goroutine that wins the compare-and-swap drains the
// queue once and sends what it found together with its own record.
// Records enqueued after that drain stay queued until the next send
// wins the compare-and-swap.
func sendWithGso(sock rawSocket, state *gsoSendState, metrics *telemetry.Sink, record []byte, peerAddr, localAddr netip.AddrPort) error {
	if !state.inProgress.CompareAndSwap(false, true) {
		if !state.enqueue(record) {
			metrics.GsoQueueFull.Inc()
		}
		return nil
	}

	pending := state.drain()
	defer state.inProgress.Store(false)

	if len(pending) == 0 {
		return sock.send(record, peerAddr, localAddr)
	}

	pending = append(pending, record)
	return sock.sendBatch(pending, peerAddr, localAddr)
}
