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

package expresslane

// replayWindowSize is the number of trailing counters the window
// tracks, packed into one bitmap word. Resist growing this: 64 packets
// matches the in-flight ceiling of a single UDP flow at realistic RTTs.
const replayWindowSize = 64

// replayWindow implements the sliding-window replay check over a
// 64-bit counter space: bit i of bitmap represents counter
// maxCounter-i, counting from the low bit.
type replayWindow struct {
	maxCounter  uint64
	bitmap      uint64
	initialized bool
}

// accept reports whether counter c is new. On true it updates the
// window; on false c is a replay or too old and must be rejected
// without side effects.
func (w *replayWindow) accept(c uint64) bool {
	if !w.initialized {
		w.initialized = true
		w.maxCounter = c
		w.bitmap = 1
		return true
	}

	if c > w.maxCounter {
		shift := c - w.maxCounter
		if shift >= replayWindowSize {
			w.bitmap = 1
		} else {
			w.bitmap = (w.bitmap << shift) | 1
		}
		w.maxCounter = c
		return true
	}

	age := w.maxCounter - c
	if age >= replayWindowSize {
		return false
	}

	bit := uint64(1) << age
	if w.bitmap&bit != 0 {
		return false
	}

	w.bitmap |= bit
	return true
}
