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

// Package direct is the portable tun.Engine: one goroutine blocked in
// Device.Read, feeding a bounded channel, and a synchronous Device.Write
// for sends.
package direct

import (
	"context"
	"sync"

	"golang.zx2c4.com/wireguard/tun"

	lwtun "github.com/expressvpn/lightway/tun"
)

// recvQueueSize bounds how many not-yet-consumed packets the reader
// goroutine may buffer before it starts blocking on the device itself --
// the same role the original's per-direction channel plays, just without
// an io_uring ring backing it.
const recvQueueSize = 256

// device is the slice of tun.Device this engine actually drives. Naming
// it narrowly (rather than embedding the full tun.Device) keeps the
// engine's test double small and makes the real dependency explicit.
type device interface {
	Read(buf []byte, offset int) (int, error)
	Write(buf []byte, offset int) (int, error)
	MTU() (int, error)
	Close() error
}

// Engine wraps a golang.zx2c4.com/wireguard/tun.Device. Reads happen on
// a dedicated goroutine since Device.Read blocks; the original's
// "non-blocking fd driven by async runtime readiness events" becomes,
// in idiomatic Go, a blocking read loop whose result is handed across a
// channel instead of awaited inline.
type Engine struct {
	dev device
	mtu int

	recvCh chan []byte
	errCh  chan error

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ lwtun.Engine = (*Engine)(nil)

// New creates (or opens) a TUN interface named name with the given MTU
// and starts its reader goroutine. An empty name lets the platform pick
// one.
func New(name string, mtu int) (*Engine, error) {
	dev, err := tun.CreateTUN(name, mtu)
	if err != nil {
		return nil, lwtun.ErrCreateFailed.Error(err)
	}

	actualMTU, err := dev.MTU()
	if err != nil {
		_ = dev.Close()
		return nil, lwtun.ErrCreateFailed.Error(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		dev:    dev,
		mtu:    actualMTU,
		recvCh: make(chan []byte, recvQueueSize),
		errCh:  make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go e.readLoop(ctx)

	return e, nil
}

// readLoop is the translation of the original's "receive allocates an
// MTU-sized buffer, truncates to the recv'd length" -- Go's Device.Read
// takes the same offset-prefixed buffer convention as the wireguard-go
// device it wraps, so each iteration allocates fresh rather than reusing
// a pool, matching the original's per-call BytesMut.
func (e *Engine) readLoop(ctx context.Context) {
	defer close(e.done)

	for {
		buf := make([]byte, e.mtu)
		n, err := e.dev.Read(buf, 0)
		if err != nil {
			select {
			case e.errCh <- err:
			default:
			}
			return
		}
		if n == 0 {
			continue
		}

		select {
		case e.recvCh <- buf[:n]:
		case <-ctx.Done():
			return
		}
	}
}

// RecvBuf returns the next received packet, or ctx.Err() if ctx is done
// first, or the read loop's terminal error if the device closed.
func (e *Engine) RecvBuf(ctx context.Context) ([]byte, error) {
	select {
	case buf := <-e.recvCh:
		return buf, nil
	case err := <-e.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TrySend is a single synchronous Device.Write call, matching the
// original's "send is a single syscall; WouldBlock is not an error" --
// WouldBlock is only surfaced if the underlying device itself reports
// it (e.g. a platform whose TUN write path is genuinely non-blocking).
func (e *Engine) TrySend(buf []byte) error {
	_, err := e.dev.Write(buf, 0)
	if err == nil {
		return nil
	}
	if isWouldBlock(err) {
		return lwtun.ErrWouldBlock.Error(err)
	}
	return err
}

func (e *Engine) MTU() int { return e.mtu }

func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		err = e.dev.Close()
		<-e.done
	})
	return err
}
