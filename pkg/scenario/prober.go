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

package scenario

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bastjan/netstat"
	"github.com/pkg/errors"

	"github.com/navidys/netavark/pkg/assertions"
	"github.com/navidys/netavark/pkg/runner"
)

// The connectivity prober runs nmap ncat on both sides of every check: a
// listener inside the container namespace and a sender in the host
// namespace. Byte-for-byte payload delivery is the sole correctness
// criterion.
const (
	ncBinary = "nc"

	payloadLength = 10

	listenerTimeout   = 30 * time.Second
	senderTimeout     = 10 * time.Second
	readinessTimeout  = 5 * time.Second
	readinessInterval = 50 * time.Millisecond

	// A udp listener never exits on its own; give the datagram a moment to
	// land before reaping the process.
	udpDrainDelay = 200 * time.Millisecond
)

const payloadAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// probe runs one send/receive check: listener in the container namespace on
// containerPort, sender in the host namespace against the forwarded
// hostPort, exact payload equality asserted on what the listener captured.
func (s *Scenario) probe(proto string, nw networkAddressing, hostPort, containerPort int) error {
	payload := randomPayload(payloadLength)

	lst, err := s.startListener(proto, nw.ipv6, containerPort)
	if err != nil {
		return err
	}
	defer lst.stop()

	if err := lst.waitReady(); err != nil {
		return err
	}

	target := s.opts.HostIP
	if target == "" {
		target = nw.gateway.String()
	}
	if err := s.sendPayload(proto, nw.ipv6, target, hostPort, payload); err != nil {
		return err
	}

	result, err := lst.result(proto)
	if err != nil {
		return err
	}

	description := fmt.Sprintf("%s payload to %s port %d (container port %d)",
		proto, target, hostPort, containerPort)
	return assertions.Assert(result.Output, assertions.Equal, payload, description)
}

// listener is a background ncat process inside the container namespace. Its
// ready channel yields once the socket is observably bound in the
// namespace's socket tables, so the sender never races the bind.
type listener struct {
	handle *runner.Handle
	ready  chan error
	stdin  *os.File
}

func (s *Scenario) startListener(proto string, ipv6 bool, port int) (*listener, error) {
	args := []string{ncBinary, "-l", familyFlag(ipv6)}
	args = append(args, protocolFlags(proto)...)
	args = append(args, "-p", strconv.Itoa(port))

	inv := &runner.Invocation{
		Args:             args,
		NetNSPath:        s.harness.ContainerNS.Path(),
		Timeout:          listenerTimeout,
		ExpectedExitCode: runner.ExitCodeAny,
	}

	var stdin *os.File
	if proto == "udp" {
		// A udp listener exits as soon as its stdin drains, before the
		// payload arrives; it needs an always-open source. The tcp and
		// sctp listeners must not get one or they never close the
		// connection.
		f, err := os.Open("/dev/zero")
		if err != nil {
			return nil, errors.Wrap(err, "prober: unable to open listener input stream")
		}
		inv.Stdin = f
		stdin = f
	}

	handle, err := runner.Start(inv)
	if err != nil {
		if stdin != nil {
			stdin.Close()
		}
		return nil, errors.Wrapf(err, "prober: unable to start %s listener on port %d", proto, port)
	}

	lst := &listener{
		handle: handle,
		ready:  make(chan error, 1),
		stdin:  stdin,
	}
	go lst.pollReady(s.harness.ContainerNS.Pid(), proto, ipv6, port)

	return lst, nil
}

// waitReady blocks until the listener port is bound or readiness polling
// gave up. Polling is itself deadline-bounded, so this cannot hang.
func (l *listener) waitReady() error {
	return <-l.ready
}

// result collects the listener's captured output. A tcp or sctp listener
// exits once the sender closes the connection; a udp listener is reaped
// after a short drain delay.
func (l *listener) result(proto string) (*runner.Result, error) {
	if proto == "udp" {
		time.Sleep(udpDrainDelay)
		return l.handle.Stop()
	}

	return l.handle.Wait()
}

// stop reaps the listener process if it is still around. Verify leaves no
// residual listeners behind, pass or fail.
func (l *listener) stop() {
	_, _ = l.handle.Stop()
	if l.stdin != nil {
		l.stdin.Close()
		l.stdin = nil
	}
}

func (l *listener) pollReady(nsPid int, proto string, ipv6 bool, port int) {
	deadline := time.Now().Add(readinessTimeout)
	for time.Now().Before(deadline) {
		bound, err := portBound(nsPid, proto, ipv6, port)
		if err != nil {
			l.ready <- err
			return
		}
		if bound {
			l.ready <- nil
			return
		}
		time.Sleep(readinessInterval)
	}

	l.ready <- errors.Errorf("prober: no %s listener bound on port %d within %s",
		proto, port, readinessTimeout)
}

// portBound inspects the namespace's socket tables through the placeholder
// process's /proc entry.
func portBound(nsPid int, proto string, ipv6 bool, port int) (bool, error) {
	if proto == "sctp" {
		return sctpPortBound(nsPid, port)
	}

	// ProcRoot is package state in netstat; scenario steps are strictly
	// sequential, so the reassignment per call is safe.
	netstat.ProcRoot = fmt.Sprintf("/proc/%d/", nsPid)

	table := netstat.TCP
	switch {
	case proto == "tcp" && !ipv6:
	case proto == "tcp" && ipv6:
		table = netstat.TCP6
	case proto == "udp" && !ipv6:
		table = netstat.UDP
	case proto == "udp" && ipv6:
		table = netstat.UDP6
	default:
		return false, errors.Errorf("prober: unsupported protocol %q", proto)
	}

	connections, err := table.Connections()
	if err != nil {
		return false, errors.Wrapf(err, "prober: unable to read %s socket table of pid %d", proto, nsPid)
	}

	for _, conn := range connections {
		if int(conn.Port) != port {
			continue
		}
		if proto == "tcp" && conn.State != netstat.TCPListen {
			continue
		}
		return true, nil
	}

	return false, nil
}

// sctpPortBound scans /proc/<pid>/net/sctp/eps, which netstat does not
// cover. The endpoints file only exists once the sctp module is loaded.
func sctpPortBound(nsPid int, port int) (bool, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/net/sctp/eps", nsPid))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "prober: unable to read sctp endpoints of pid %d", nsPid)
	}
	defer file.Close()

	want := strconv.Itoa(port)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// ENDPT SOCK STY SST HBKT LPORT UID INODE LADDRS
		if len(fields) >= 6 && fields[5] == want {
			return true, nil
		}
	}

	return false, scanner.Err()
}

// sendPayload connects from the host namespace to target:port and transmits
// the payload, closing the connection at EOF.
func (s *Scenario) sendPayload(proto string, ipv6 bool, target string, port int, payload string) error {
	args := []string{ncBinary, "--send-only", familyFlag(ipv6)}
	args = append(args, protocolFlags(proto)...)
	args = append(args, target, strconv.Itoa(port))

	inv := &runner.Invocation{
		Args:      args,
		NetNSPath: s.harness.HostNS.Path(),
		Stdin:     strings.NewReader(payload),
		Timeout:   senderTimeout,
	}
	if proto == "udp" {
		// Datagram delivery cannot be confirmed by the sender's exit code.
		inv.ExpectedExitCode = runner.ExitCodeAny
	}

	_, err := runner.Run(inv)
	if err != nil {
		return errors.Wrapf(err, "prober: unable to send %s payload to %s port %d", proto, target, port)
	}

	return nil
}

func randomPayload(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = payloadAlphabet[rand.Intn(len(payloadAlphabet))]
	}

	return string(b)
}

func familyFlag(ipv6 bool) string {
	if ipv6 {
		return "-6"
	}

	return "-4"
}

func protocolFlags(proto string) []string {
	switch proto {
	case "udp":
		return []string{"-u"}
	case "sctp":
		return []string{"--sctp"}
	}

	return nil
}
