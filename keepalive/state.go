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

package keepalive

// State is one of the five keepalive task states (§4.9).
type State uint8

const (
	Inactive State = iota
	Suspended
	Waiting
	Needed
	Pending
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Suspended:
		return "suspended"
	case Waiting:
		return "waiting"
	case Needed:
		return "needed"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// Message is one of the six inputs the keepalive task reacts to (§4.9).
type Message uint8

const (
	Online Message = iota
	OutsideActivity
	ReplyReceived
	NetworkChange
	TracerDeltaExceeded
	Suspend
)

func (m Message) String() string {
	switch m {
	case Online:
		return "online"
	case OutsideActivity:
		return "outside-activity"
	case ReplyReceived:
		return "reply-received"
	case NetworkChange:
		return "network-change"
	case TracerDeltaExceeded:
		return "tracer-delta-exceeded"
	case Suspend:
		return "suspend"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of a keepalive task.
type Result uint8

const (
	// Cancelled means Close was called.
	Cancelled Result = iota
	// Timedout means an outstanding reply never arrived within timeout.
	Timedout
)

func (r Result) String() string {
	switch r {
	case Cancelled:
		return "cancelled"
	case Timedout:
		return "timedout"
	default:
		return "unknown"
	}
}
