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

package wire

import "github.com/expressvpn/lightway/errors"

const (
	ErrInsufficientData errors.CodeError = iota + errors.MinPkgWire
	ErrInvalidFrameType
	ErrInvalidBool
	ErrInvalidLength
	ErrInvalidVersion
)

func init() {
	errors.RegisterIdFctMessage(ErrInsufficientData, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrInsufficientData:
		return "insufficient data to parse frame"
	case ErrInvalidFrameType:
		return "unknown frame type tag"
	case ErrInvalidBool:
		return "invalid boolean encoding"
	case ErrInvalidLength:
		return "declared length exceeds remaining buffer"
	case ErrInvalidVersion:
		return "unsupported protocol version"
	}

	return ""
}
