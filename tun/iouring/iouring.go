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

// Package iouring is the Linux io_uring tun.Engine: a dedicated
// submitter goroutine owns one ring split into an rx half and a tx
// half, prefills every rx slot with a Read against the registered TUN
// fd, and republishes completions on ordinary Go channels so the rest
// of the process never touches the ring directly.
package iouring

import (
	"context"
	"time"

	"github.com/godzie44/go-uring/uring"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/expressvpn/lightway/internal/telemetry"
	lwtun "github.com/expressvpn/lightway/tun"
)

const (
	registeredFdIndex = 0
	sqpollIdleTime     = 100 * time.Millisecond
)

// slotKind encodes which half of the ring a completion's user-data
// belongs to, the same high-bit trick the original Rust SlotIdx uses
// (Tx(i) = i, Rx(i) = !i) so dispatch is a single branch rather than a
// second lookup table.
type slotKind uint8

const (
	slotTx slotKind = iota
	slotRx
)

func slotUserData(kind slotKind, idx int) uint64 {
	if kind == slotTx {
		return uint64(idx)
	}
	return ^uint64(idx)
}

func slotFromUserData(u uint64) (slotKind, int) {
	if int64(u) < 0 {
		return slotRx, int(^u)
	}
	return slotTx, int(u)
}

// Engine is the tun.Engine backed by an io_uring ring talking directly
// to the TUN device's registered file descriptor.
type Engine struct {
	mtu     int
	metrics *telemetry.Sink

	txQueue chan []byte
	rxQueue chan []byte

	cancel context.CancelFunc
	done   chan struct{}
}

var _ lwtun.Engine = (*Engine)(nil)

// Config configures an Engine. Metrics may be nil, in which case the
// engine's counter bumps are no-ops -- useful for tests that don't
// want to stand up a registry.
type Config struct {
	Fd        int
	MTU       int
	RingSize  int
	ChanDepth int
	Metrics   *telemetry.Sink
}

// New registers fd with a fresh ring and starts the submitter
// goroutine. fd must stay open and valid for the Engine's lifetime;
// Close does not close it (the caller owns the TUN device).
func New(cfg Config) (*Engine, error) {
	if cfg.RingSize == 0 {
		cfg.RingSize = 1024
	}
	if cfg.ChanDepth == 0 {
		cfg.ChanDepth = cfg.RingSize
	}

	ring, err := uring.New(uint32(cfg.RingSize), uring.WithSQPoll(sqpollIdleTime))
	if err != nil {
		return nil, lwtun.ErrCreateFailed.Error(err)
	}
	if err := ring.RegisterFiles([]int{cfg.Fd}); err != nil {
		_ = ring.Close()
		return nil, lwtun.ErrCreateFailed.Error(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		mtu:     cfg.MTU,
		metrics: cfg.Metrics,
		txQueue: make(chan []byte, cfg.ChanDepth),
		rxQueue: make(chan []byte, cfg.ChanDepth),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go e.run(ctx, ring, cfg.RingSize, cfg.MTU)

	return e, nil
}

// RecvBuf returns the next packet the submitter goroutine published, or
// ctx.Err() if ctx is done first.
func (e *Engine) RecvBuf(ctx context.Context) ([]byte, error) {
	select {
	case buf, ok := <-e.rxQueue:
		if !ok {
			return nil, lwtun.ErrRecvQueueClosed.Error(nil)
		}
		return buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TrySend enqueues buf for the submitter goroutine to write, matching
// the original's mpsc try_send: a full queue is WouldBlock, never a
// blocking wait.
func (e *Engine) TrySend(buf []byte) error {
	select {
	case e.txQueue <- buf:
		return nil
	default:
		return lwtun.ErrWouldBlock.Error(nil)
	}
}

func (e *Engine) MTU() int { return e.mtu }

func (e *Engine) Close() error {
	e.cancel()
	<-e.done
	return nil
}

// run is the single goroutine that owns the ring end to end: prefill
// every rx slot, then loop: queue whatever the tx queue holds (up to the
// free tx slots), replenish rx slots, block in SubmitAndWait until at
// least one completion arrives, and publish completions. This stands in
// for the original's `tokio::select!` between the tx mpsc and the
// eventfd wakeup, collapsed into the ring's own blocking wait since
// SubmitAndWait plays the eventfd's role; a buffer handed to TrySend
// while the loop is blocked is picked up after the next completion.
func (e *Engine) run(ctx context.Context, ring *uring.Ring, ringSize, mtu int) {
	defer close(e.done)
	defer ring.Close()

	nrSlots := ringSize / 2
	rxBufs := make([][]byte, nrSlots)
	txBufs := make([][]byte, nrSlots)
	rxFree := make([]int, nrSlots)
	txFree := make([]int, 0, nrSlots)
	for i := 0; i < nrSlots; i++ {
		rxFree[i] = i
		txFree = append(txFree, i)
	}

	queueRead := func(idx int) {
		rxBufs[idx] = make([]byte, mtu)
		ring.QueueSQE(uring.Read(registeredFdIndex, rxBufs[idx], 0), 0, slotUserData(slotRx, idx))
	}
	for _, idx := range rxFree {
		queueRead(idx)
	}
	rxFree = rxFree[:0]

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		for len(txFree) > 0 {
			select {
			case buf := <-e.txQueue:
				idx := txFree[len(txFree)-1]
				txFree = txFree[:len(txFree)-1]
				txBufs[idx] = buf
				ring.QueueSQE(uring.Write(registeredFdIndex, buf, 0), 0, slotUserData(slotTx, idx))
			default:
				goto drain
			}
		}

	drain:
		for _, idx := range rxFree {
			queueRead(idx)
		}
		rxFree = rxFree[:0]

		waitNr := uint32(1)
		if _, err := ring.SubmitAndWait(waitNr); err != nil {
			e.bump(e.metrics.TunRxError)
			continue
		}

		e.bump(e.metrics.TunIoUringBlocked)

		cqes := ring.PeekCQEventBatch(int(ringSize))
		for _, cqe := range cqes {
			kind, idx := slotFromUserData(cqe.UserData)
			switch kind {
			case slotRx:
				if cqe.Res > 0 {
					buf := rxBufs[idx][:cqe.Res]
					select {
					case e.rxQueue <- buf:
					default:
						e.bump(e.metrics.TunPacketDropped)
					}
				} else if cqe.Res < 0 {
					e.bump(e.metrics.TunRxError)
				}
				rxFree = append(rxFree, idx)
			case slotTx:
				txBufs[idx] = nil
				txFree = append(txFree, idx)
			}
		}
	}
}

// bump increments c unless the engine was built without a metrics sink.
func (e *Engine) bump(c prometheus.Counter) {
	if e.metrics == nil || c == nil {
		return
	}
	c.Inc()
}
