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

// Package keepalive implements the per-connection keepalive task
// (§4.9): a small message-driven state machine deciding when to send a
// keepalive frame and when an outstanding reply has taken too long.
package keepalive

import (
	"context"
	"time"

	"github.com/expressvpn/lightway/logger"
)

// Sender sends one keepalive frame on the connection this task
// belongs to (e.g. connection.Connection.SendKeepalive, which sends a
// Ping frame).
type Sender interface {
	SendKeepalive() error
}

// Config parameterises a keepalive task (§4.9).
type Config struct {
	// Interval is the time between consecutive keepalives in
	// continuous mode, and the grace period between a Needed
	// keepalive and the next one.
	Interval time.Duration
	// Timeout is how long a reply may be outstanding before the
	// connection is declared dead.
	Timeout time.Duration
	// Continuous: if true, keepalives repeat on a cadence; if false,
	// they fire only on demand and cease when a reply arrives.
	Continuous bool
	Log        logger.FuncLog
}

// Keepalive runs the state machine for one connection in a background
// goroutine until Close is called or a reply times out.
type Keepalive struct {
	msgs    chan Message
	result  chan Result
	stopped chan struct{}
	cancel  context.CancelFunc
}

// New starts a keepalive task against sender. Call Close to stop it;
// Result blocks for the terminal outcome.
func New(ctx context.Context, cfg Config, sender Sender) *Keepalive {
	runCtx, cancel := context.WithCancel(ctx)

	k := &Keepalive{
		msgs:    make(chan Message, 1024),
		result:  make(chan Result, 1),
		stopped: make(chan struct{}),
		cancel:  cancel,
	}

	go k.run(runCtx, cfg, sender)

	return k
}

// Close cancels the task; its terminal result (available from Result)
// becomes Cancelled unless a timeout had already fired.
func (k *Keepalive) Close() {
	k.cancel()
}

// Result blocks until the task has ended, returning Cancelled or
// Timedout.
func (k *Keepalive) Result() Result {
	return <-k.result
}

// Online signals that the connection has reached the Online state;
// in continuous mode this starts the keepalive cadence.
func (k *Keepalive) Online() { k.send(Online) }

// ReplyReceived signals that a keepalive reply arrived.
func (k *Keepalive) ReplyReceived() { k.send(ReplyReceived) }

// NetworkChangeDetected signals a local network change; starts a
// keepalive immediately unless one is already pending.
func (k *Keepalive) NetworkChangeDetected() { k.send(NetworkChange) }

// TracerDeltaExceeded signals that too long has passed since any
// outside traffic was observed (the round-trip tracer's threshold).
func (k *Keepalive) TracerDeltaExceeded() { k.send(TracerDeltaExceeded) }

// SuspendKeepalive signals that keepalives should stop until Online is
// signalled again.
func (k *Keepalive) SuspendKeepalive() { k.send(Suspend) }

// OutsideActivity signals that outside traffic was observed, resetting
// the interval timer (never the outstanding reply timeout). Dropped
// rather than blocking if the task is saturated, since activity
// notifications are frequent and advisory.
func (k *Keepalive) OutsideActivity() {
	select {
	case k.msgs <- OutsideActivity:
	case <-k.stopped:
	default:
	}
}

func (k *Keepalive) send(msg Message) {
	select {
	case k.msgs <- msg:
	case <-k.stopped:
	}
}

func (k *Keepalive) run(ctx context.Context, cfg Config, sender Sender) {
	defer close(k.stopped)

	state := Inactive

	var timeoutTimer *time.Timer
	defer func() {
		if timeoutTimer != nil {
			timeoutTimer.Stop()
		}
	}()

	for {
		var intervalTimer *time.Timer
		var intervalC <-chan time.Time
		if state == Waiting || state == Pending {
			intervalTimer = time.NewTimer(cfg.Interval)
			intervalC = intervalTimer.C
		}

		var neededC <-chan time.Time
		if state == Needed {
			fired := make(chan time.Time, 1)
			fired <- time.Time{}
			neededC = fired
		}

		var timeoutC <-chan time.Time
		if timeoutTimer != nil {
			timeoutC = timeoutTimer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(intervalTimer)
			k.result <- Cancelled
			return

		case msg := <-k.msgs:
			stopTimer(intervalTimer)
			state = handleMessage(msg, cfg, state, &timeoutTimer)

		case <-neededC:
			stopTimer(intervalTimer)
			state = sendKeepalive(cfg, sender, &timeoutTimer, k.log(cfg))

		case <-intervalC:
			state = sendKeepalive(cfg, sender, &timeoutTimer, k.log(cfg))

		case <-timeoutC:
			stopTimer(intervalTimer)
			k.result <- Timedout
			return
		}
	}
}

// handleMessage implements §4.9's message table. Note the deliberate
// divergence from the Rust prototype: OutsideActivity here never
// touches the armed reply timeout, matching the spec's stated
// semantics ("resets the interval timer, never the timeout") rather
// than the prototype's apparent slip of clearing it.
func handleMessage(msg Message, cfg Config, state State, timeoutTimer **time.Timer) State {
	switch msg {
	case Online:
		if (state == Inactive || state == Suspended) && cfg.Continuous {
			return Waiting
		}
		return state

	case OutsideActivity:
		return state

	case ReplyReceived:
		stopTimer(*timeoutTimer)
		*timeoutTimer = nil
		if cfg.Continuous {
			return Waiting
		}
		return Inactive

	case NetworkChange:
		if state != Pending {
			return Needed
		}
		return state

	case TracerDeltaExceeded:
		if state != Pending && state != Suspended {
			return Needed
		}
		return state

	case Suspend:
		stopTimer(*timeoutTimer)
		*timeoutTimer = nil
		return Suspended

	default:
		return state
	}
}

func sendKeepalive(cfg Config, sender Sender, timeoutTimer **time.Timer, log logger.Logger) State {
	if err := sender.SendKeepalive(); err != nil && log != nil {
		log.Error("send keepalive failed", ErrSendFailed.Error(err))
	}
	if *timeoutTimer == nil {
		*timeoutTimer = time.NewTimer(cfg.Timeout)
	}
	return Pending
}

func (k *Keepalive) log(cfg Config) logger.Logger {
	if cfg.Log == nil {
		return nil
	}
	return cfg.Log()
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
