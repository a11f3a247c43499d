// Copyright The netavark test harness authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runner executes external commands with a hard wall-clock timeout,
// optionally joined to a network namespace. Every external command of the
// harness funnels through this package so a hung process can never stall a
// test run indefinitely.
package runner

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/cihub/seelog"
	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// ExitCodeAny disables the exit code expectation of an invocation.
	ExitCodeAny = -1
	// ExitCodeTimeout is the sentinel exit code recorded for a timed-out
	// command, matching the coreutils timeout convention.
	ExitCodeTimeout = 124

	// DefaultTimeout bounds invocations that do not set their own.
	DefaultTimeout = 10 * time.Second

	// killGracePeriod is how long a process group gets between SIGTERM and
	// SIGKILL after its deadline expired.
	killGracePeriod = 2 * time.Second
)

// Invocation describes a single external command execution. It is consumed
// by Run or Start and not retained afterwards.
type Invocation struct {
	// Args is the full argument vector, Args[0] being the binary.
	Args []string
	// NetNSPath, when non-empty, joins the command to that network
	// namespace. Mount, pid and the other namespaces of the caller are
	// preserved.
	NetNSPath string
	// Stdin is attached to the command when non-nil.
	Stdin io.Reader
	// Timeout is the hard wall-clock bound. Zero means DefaultTimeout.
	Timeout time.Duration
	// ExpectedExitCode is checked after the command finishes. The zero
	// value expects success; ExitCodeAny skips the check entirely.
	ExpectedExitCode int
}

// Result captures the outcome of one invocation. Immutable once produced.
type Result struct {
	// Output is the merged stdout and stderr of the command. Ordering
	// across the two streams is not guaranteed.
	Output string
	// ExitCode is 0 on success, the process's own code otherwise, or
	// ExitCodeTimeout when the deadline expired.
	ExitCode int
	// TimedOut distinguishes a deadline expiry from a plain non-zero exit.
	TimedOut bool
}

// ExitError reports an exit code differing from the invocation's expectation.
type ExitError struct {
	Args     []string
	Expected int
	Result   *Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("runner: command %q exited with %d, expected %d; output:\n%s",
		strings.Join(e.Args, " "), e.Result.ExitCode, e.Expected, e.Result.Output)
}

// TimeoutError reports a command exceeding its wall-clock deadline.
type TimeoutError struct {
	Args    []string
	Timeout time.Duration
	Result  *Result
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("runner: command %q timed out after %s; output:\n%s",
		strings.Join(e.Args, " "), e.Timeout, e.Result.Output)
}

// Handle supervises a started command. Listeners and other background
// processes hold on to it; foreground callers use Run instead.
type Handle struct {
	inv    *Invocation
	cmd    *exec.Cmd
	output *bytes.Buffer

	mu      sync.Mutex
	stopped bool

	done   chan struct{}
	result *Result
	err    error
}

// Run executes the invocation and blocks until it finishes or its deadline
// expires. The result is returned even when the error is non-nil.
func Run(inv *Invocation) (*Result, error) {
	handle, err := Start(inv)
	if err != nil {
		return nil, err
	}

	return handle.Wait()
}

// Start launches the invocation in the background and returns a handle to
// supervise it. The command runs in its own process group so that helpers it
// spawns are terminated along with it.
func Start(inv *Invocation) (*Handle, error) {
	if len(inv.Args) == 0 {
		return nil, errors.New("runner: invocation has no argument vector")
	}

	cmd := exec.Command(inv.Args[0], inv.Args[1:]...)
	output := &bytes.Buffer{}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.Stdin = inv.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Starting the child on a thread joined to the target namespace is all
	// it takes: the child inherits the thread's network namespace and keeps
	// it after the thread switches back.
	var err error
	if inv.NetNSPath != "" {
		err = ns.WithNetNSPath(inv.NetNSPath, func(_ ns.NetNS) error {
			return cmd.Start()
		})
	} else {
		err = cmd.Start()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "runner: unable to start %q", strings.Join(inv.Args, " "))
	}

	log.Infof("Running %q (netns=%q timeout=%s pid=%d)",
		strings.Join(inv.Args, " "), inv.NetNSPath, timeoutFor(inv), cmd.Process.Pid)

	handle := &Handle{
		inv:    inv,
		cmd:    cmd,
		output: output,
		done:   make(chan struct{}),
	}
	go handle.supervise()

	return handle, nil
}

// Wait blocks until the command finishes, its deadline expires, or Stop is
// called. The result is returned even when the error is non-nil.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	return h.result, h.err
}

// Stop forcibly terminates the process group and returns the result with
// whatever output was captured before termination. Safe to call after the
// command already finished.
func (h *Handle) Stop() (*Result, error) {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	select {
	case <-h.done:
	default:
		h.signalGroup(unix.SIGKILL)
	}
	<-h.done

	return h.result, h.err
}

func (h *Handle) supervise() {
	waitCh := make(chan error, 1)
	go func() {
		waitCh <- h.cmd.Wait()
	}()

	timeout := timeoutFor(h.inv)
	select {
	case err := <-waitCh:
		h.finish(err, false)
		return
	case <-time.After(timeout):
	}

	// Deadline expired. Ask the process group to terminate, then force the
	// issue after the grace period.
	h.signalGroup(unix.SIGTERM)
	select {
	case err := <-waitCh:
		h.finish(err, true)
	case <-time.After(killGracePeriod):
		h.signalGroup(unix.SIGKILL)
		h.finish(<-waitCh, true)
	}
}

func (h *Handle) signalGroup(sig unix.Signal) {
	_ = unix.Kill(-h.cmd.Process.Pid, sig)
}

func (h *Handle) finish(waitErr error, timedOut bool) {
	h.result = &Result{
		Output:   h.output.String(),
		ExitCode: exitCode(waitErr, timedOut),
		TimedOut: timedOut,
	}

	log.Infof("Command %q exited with %d (timedOut=%t); output:\n%s",
		strings.Join(h.inv.Args, " "), h.result.ExitCode, timedOut, h.result.Output)

	h.err = h.check()
	close(h.done)
}

// check enforces the invocation's exit code expectation. A deliberately
// stopped command is never held to it.
func (h *Handle) check() error {
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()

	if stopped || h.inv.ExpectedExitCode == ExitCodeAny {
		return nil
	}
	if h.result.TimedOut {
		if h.inv.ExpectedExitCode == ExitCodeTimeout {
			return nil
		}
		return &TimeoutError{Args: h.inv.Args, Timeout: timeoutFor(h.inv), Result: h.result}
	}
	if h.result.ExitCode != h.inv.ExpectedExitCode {
		return &ExitError{Args: h.inv.Args, Expected: h.inv.ExpectedExitCode, Result: h.result}
	}

	return nil
}

func exitCode(waitErr error, timedOut bool) int {
	if timedOut {
		return ExitCodeTimeout
	}
	if waitErr == nil {
		return 0
	}

	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}

	return exitErr.ExitCode()
}

func timeoutFor(inv *Invocation) time.Duration {
	if inv.Timeout > 0 {
		return inv.Timeout
	}

	return DefaultTimeout
}
