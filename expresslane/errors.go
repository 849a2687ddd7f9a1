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

import "github.com/expressvpn/lightway/errors"

const (
	ErrAESBlock errors.CodeError = iota + errors.MinPkgExpresslane
	ErrAESGCM
	ErrSeal
	ErrAEADAuth
	ErrReplayedExpressData
	ErrTooOld
	ErrNoPeerKey
	ErrNotReady
)

func init() {
	errors.RegisterIdFctMessage(ErrAESBlock, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrAESBlock:
		return "failed to build AES cipher block"
	case ErrAESGCM:
		return "failed to build AES-GCM AEAD"
	case ErrSeal:
		return "failed to seal expresslane payload"
	case ErrAEADAuth:
		return "AEAD authentication failed"
	case ErrReplayedExpressData:
		return "counter already seen in replay window"
	case ErrTooOld:
		return "counter older than replay window floor"
	case ErrNoPeerKey:
		return "no peer key negotiated yet"
	case ErrNotReady:
		return "expresslane channel not ready: missing self or peer key"
	}

	return ""
}
