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

// State is one of the six lifecycle stages a Connection passes
// through (§4.4). Ordered so the "forward" ladder Connecting < LinkUp <
// Authenticating < Online is a plain integer comparison.
type State uint8

const (
	Connecting State = iota
	LinkUp
	Authenticating
	Online
	Disconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case LinkUp:
		return "LinkUp"
	case Authenticating:
		return "Authenticating"
	case Online:
		return "Online"
	case Disconnecting:
		return "Disconnecting"
	case Disconnected:
		return "Disconnected"
	}
	return "Unknown"
}

// canTransitionTo reports whether s -> to is one of the legal
// transitions in §4.4's diagram. The ladder Connecting -> LinkUp ->
// Authenticating -> Online only ever moves forward one step at a time;
// Disconnecting and Disconnected are reachable from any live state
// (teardown always wins) but, once Disconnected, nothing moves it
// again.
func (s State) canTransitionTo(to State) bool {
	if s == Disconnected {
		return false
	}

	if to == Disconnecting || to == Disconnected {
		if to == Disconnected && s != Disconnecting {
			// Online -> Disconnected is the "fatal err" shortcut in
			// the diagram; Connecting/LinkUp/Authenticating tear down
			// through Disconnecting first in this implementation.
			return s == Online
		}
		return true
	}

	switch s {
	case Connecting:
		return to == LinkUp
	case LinkUp:
		return to == Authenticating
	case Authenticating:
		return to == Online
	default:
		return false
	}
}
