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

package connmgr

import "github.com/expressvpn/lightway/errors"

const (
	ErrPeerAddrOccupied errors.CodeError = iota + errors.MinPkgConnManager
	ErrSessionIDMismatch
	ErrNoActiveSession
	ErrRotationPending
	ErrIndexDisagreement
)

func init() {
	errors.RegisterIdFctMessage(ErrPeerAddrOccupied, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrPeerAddrOccupied:
		return "peer address already has a live connection"
	case ErrSessionIDMismatch:
		return "session id does not match the connection held at this peer address"
	case ErrNoActiveSession:
		return "no active or pending session for this session id"
	case ErrRotationPending:
		return "a session-id rotation is already in flight for this connection"
	case ErrIndexDisagreement:
		return "peer-addr and session-id indexes disagree (programming error)"
	}

	return ""
}
