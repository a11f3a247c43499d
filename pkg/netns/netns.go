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

// Package netns manages isolated network namespaces for test scenarios. Each
// namespace is kept alive by a long-lived placeholder process; the namespace
// exists exactly as long as the placeholder does.
package netns

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	log "github.com/cihub/seelog"
	"github.com/pkg/errors"
	vishnetns "github.com/vishvananda/netns"
)

const (
	placeholderBinary = "sleep"
	placeholderArg    = "infinity"
)

// Namespace is a handle to an isolated network namespace, keyed by the pid of
// its placeholder process. A handle is valid only between New and Close;
// using it afterwards is a programming error.
type Namespace struct {
	cmd    *exec.Cmd
	pid    int
	closed bool
}

// New creates a fresh network namespace by starting a placeholder process
// with its own network stack. Creation failure is fatal to the caller's
// scenario; there is no retry.
func New() (*Namespace, error) {
	cmd := exec.Command(placeholderBinary, placeholderArg)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWNET,
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "netns: unable to start namespace placeholder process")
	}
	if cmd.Process == nil || cmd.Process.Pid == 0 {
		return nil, errors.New("netns: placeholder process has no pid")
	}

	ns := &Namespace{
		cmd: cmd,
		pid: cmd.Process.Pid,
	}

	// The handle must not be used until creation has observably succeeded;
	// opening the namespace file confirms the placeholder is alive with its
	// own network stack.
	handle, err := vishnetns.GetFromPath(ns.Path())
	if err != nil {
		ns.Close()
		return nil, errors.Wrapf(err, "netns: namespace of pid %d is not usable", ns.pid)
	}
	handle.Close()

	log.Debugf("Created network namespace backed by pid %d", ns.pid)
	return ns, nil
}

// Pid returns the pid of the placeholder process. The namespace's socket
// tables are visible under /proc/<pid>/net.
func (ns *Namespace) Pid() int {
	return ns.pid
}

// Path returns the filesystem path other processes use to join the namespace.
func (ns *Namespace) Path() string {
	return fmt.Sprintf("/proc/%d/ns/net", ns.pid)
}

// Close forcibly terminates the placeholder process, releasing the namespace
// once no other references remain. Safe to call more than once.
func (ns *Namespace) Close() error {
	if ns.closed {
		return nil
	}
	ns.closed = true

	if err := ns.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrapf(err, "netns: unable to kill placeholder pid %d", ns.pid)
	}
	// Reap the placeholder so it does not linger as a zombie.
	_ = ns.cmd.Wait()

	log.Debugf("Destroyed network namespace backed by pid %d", ns.pid)
	return nil
}
