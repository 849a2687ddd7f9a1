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

package connection

import "github.com/expressvpn/lightway/errors"

const (
	ErrInvalidTransition errors.CodeError = iota + errors.MinPkgConnection
	ErrAlreadyDisconnected
	ErrDataBeforeOnline
	ErrNoPendingRotation
	ErrHandshakeTimedOut
	ErrAuthExpired
	ErrAuthDenied
	ErrExpresslaneKeyGen
)

func init() {
	errors.RegisterIdFctMessage(ErrInvalidTransition, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrInvalidTransition:
		return "illegal connection state transition"
	case ErrAlreadyDisconnected:
		return "connection is already disconnected"
	case ErrDataBeforeOnline:
		return "data frame received before the connection reached online"
	case ErrNoPendingRotation:
		return "no session-id rotation is pending"
	case ErrHandshakeTimedOut:
		return "handshake did not complete within its budget"
	case ErrAuthExpired:
		return "authentication token has expired"
	case ErrAuthDenied:
		return "authentication was denied"
	case ErrExpresslaneKeyGen:
		return "failed to generate an expresslane rotation key"
	}

	return ""
}
