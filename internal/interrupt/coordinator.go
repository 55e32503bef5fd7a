// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package interrupt detects out-of-band abort requests while a remote call
// is in flight.
//
// While the shell waits on a reply, no line editor is reading the terminal.
// The coordinator owns the terminal for that window: it switches it to raw
// no-echo mode, waits for input with poll(2) under a short timeout, and fires
// a shared cancel hook exactly once when an abort key arrives. The prior
// terminal mode is restored on every exit path before control returns to the
// line editor. Other triggers (such as a SIGINT handler) converge on the same
// hook through Trigger.
//
// Readiness comes from poll(2) rather than read deadlines: a terminal stdin
// is a plain blocking descriptor outside the runtime poller, so deadline
// reads fail on it with ErrNoDeadline. poll works on any descriptor.
package interrupt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// abortKey is the ESC byte.
	abortKey = 0x1b

	// intrKey is the Ctrl+C byte. Raw mode clears ISIG, so Ctrl+C arrives
	// as input instead of raising SIGINT; the watcher treats it as a second
	// abort key.
	intrKey = 0x03

	// pollInterval bounds both cancellation latency and watcher shutdown
	// latency.
	pollInterval = 50 * time.Millisecond
)

// ErrAlreadyArmed is returned by Arm while a watcher is alive. At most one
// watcher may exist at a time.
var ErrAlreadyArmed = errors.New("cancel watcher already armed")

// Coordinator owns the shared cancel signal for one request at a time.
// The signal is reset on every Arm, so a cancellation can never leak into
// the next request.
type Coordinator struct {
	input *os.File

	mu       sync.Mutex
	armed    bool
	fired    bool
	once     *sync.Once
	onCancel func()
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a coordinator reading the abort key from input, normally
// os.Stdin. Non-terminal inputs (pipes in tests) are watched without the raw
// mode switch.
func New(input *os.File) *Coordinator {
	return &Coordinator{input: input}
}

// Arm clears the cancel signal and starts the key watcher. onCancel runs at
// most once per armed period, from whichever trigger fires first.
func (c *Coordinator) Arm(onCancel func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed {
		return ErrAlreadyArmed
	}
	c.armed = true
	c.fired = false
	c.once = new(sync.Once)
	c.onCancel = onCancel
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go c.watch(c.stopCh, c.doneCh)
	return nil
}

// Disarm stops the watcher and waits for it to restore the terminal. Safe to
// call whether or not a cancellation fired; must be called after every armed
// request, regardless of outcome.
func (c *Coordinator) Disarm() {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return
	}
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh

	c.mu.Lock()
	c.armed = false
	c.onCancel = nil
	c.mu.Unlock()
}

// Trigger raises the cancel signal. Idempotent within an armed period; calls
// while disarmed are ignored. Any input path that detects an abort request
// funnels through here.
func (c *Coordinator) Trigger() {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return
	}
	once := c.once
	hook := c.onCancel
	c.fired = true
	c.mu.Unlock()

	once.Do(func() {
		if hook != nil {
			hook()
		}
	})
}

// Fired reports whether the signal was raised during the current or most
// recent armed period.
func (c *Coordinator) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// watch reads single bytes until an abort key arrives or Disarm closes
// stopCh. It must never block indefinitely: pollRead bounds every wait to
// pollInterval, and the liveness check runs every cycle.
func (c *Coordinator) watch(stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	fd := int(c.input.Fd())
	var prior *term.State
	if term.IsTerminal(fd) {
		st, err := term.MakeRaw(fd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot watch for cancel key: %v\n", err)
			<-stopCh
			return
		}
		prior = st
	}

	// Restore runs on every exit path, including a panic in the loop body.
	defer func() {
		if prior != nil {
			term.Restore(fd, prior)
		}
	}()

	buf := make([]byte, 1)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := pollRead(fd, buf)
		if n > 0 && (buf[0] == abortKey || buf[0] == intrKey) {
			c.Trigger()
			return
		}
		if err != nil {
			// EOF or a closed input; nothing further to read.
			<-stopCh
			return
		}
	}
}

// pollRead waits up to pollInterval for input on fd and reads at most one
// byte. A timeout or an interrupted syscall returns (0, nil) so the caller
// loops; a hung-up or failed descriptor returns an error.
func pollRead(fd int, buf []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	ready, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if ready == 0 {
		return 0, nil
	}
	if fds[0].Revents&unix.POLLIN == 0 {
		return 0, io.EOF
	}

	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
