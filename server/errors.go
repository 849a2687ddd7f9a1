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

import "github.com/expressvpn/lightway/errors"

const (
	ErrInvalidPSK errors.CodeError = iota + errors.MinPkgServer
	ErrKeyDerivationFailed
	ErrTUNRequired
	ErrUnsupportedTransport
	ErrAlreadyRunning
	ErrNotRunning
	ErrPoolAllocationFailed
	ErrSessionIDAllocationFailed
	ErrNoRouteToConnection
	ErrConnectionClosed
)

func init() {
	errors.RegisterIdFctMessage(ErrInvalidPSK, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrInvalidPSK:
		return "pre-shared key must not be all zero bytes"
	case ErrKeyDerivationFailed:
		return "static traffic key derivation failed"
	case ErrTUNRequired:
		return "a tun.Engine is required"
	case ErrUnsupportedTransport:
		return "unsupported transport kind"
	case ErrAlreadyRunning:
		return "already running"
	case ErrNotRunning:
		return "not running"
	case ErrPoolAllocationFailed:
		return "internal ip allocation failed"
	case ErrSessionIDAllocationFailed:
		return "session id allocation failed"
	case ErrNoRouteToConnection:
		return "no connection owns this destination address"
	case ErrConnectionClosed:
		return "connection closed before coming online"
	}

	return ""
}
