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

// Package tun is the inside transport (§4.8): the seam between the
// connection/server plumbing and a real TUN device, with two
// interchangeable engines living in tun/direct and tun/iouring.
package tun

import "context"

// Engine is the pair of operations every TUN backend exposes. RecvBuf
// blocks (respecting ctx) until a packet is available; TrySend never
// blocks -- it returns ErrWouldBlock if the backend's send path cannot
// accept more right now, mirroring the original's IOCallbackResult
// Ok/WouldBlock/Err three-way split.
type Engine interface {
	RecvBuf(ctx context.Context) ([]byte, error)
	TrySend(buf []byte) error
	MTU() int
	Close() error
}
