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

// Package scenario drives netavark through a full port-forwarding lifecycle
// against a pair of isolated network namespaces: build a configuration
// document from randomized addressing, apply it, prove connectivity across
// the requested protocols and address families, and tear it down again.
package scenario

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/cihub/seelog"
	"github.com/containernetworking/cni/pkg/invoke"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/navidys/netavark/pkg/netns"
	"github.com/navidys/netavark/pkg/runner"
	"github.com/navidys/netavark/pkg/topology"
)

const (
	// envNetavarkPath points at the netavark binary under test. When unset
	// the binary is looked up on PATH.
	envNetavarkPath = "NETAVARK"
	// envTempDirRoot overrides where scenario scratch directories go.
	envTempDirRoot = "NETAVARK_TMPDIR"
	// envPreserveTestDirs keeps scratch directories around for debugging.
	envPreserveTestDirs = "NETAVARK_PRESERVE_TEST_DIRS"

	netavarkTimeout = 30 * time.Second

	maxRandomPort = 32768

	networkDriver    = "bridge"
	ipamDriver       = "host-local"
	configDumpName   = "setup.json"
	containerIDBytes = 32
)

// Family selects the address families a scenario exercises.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
	FamilyDual
)

// State tracks a scenario through its lifecycle. The failure states are
// terminal; a scenario never retries a failed step.
type State int

const (
	StateBuilt State = iota
	StateApplied
	StateVerified
	StateTornDown
	StateSetupFailed
	StateVerifyFailed
	StateTeardownFailed
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateApplied:
		return "applied"
	case StateVerified:
		return "verified"
	case StateTornDown:
		return "torn-down"
	case StateSetupFailed:
		return "setup-failed"
	case StateVerifyFailed:
		return "verify-failed"
	case StateTeardownFailed:
		return "teardown-failed"
	}

	return "unknown"
}

// Options are the test parameters of one scenario. Unset fields get random
// or conventional defaults when the scenario is built.
type Options struct {
	// Protocols to forward and verify. Defaults to tcp only.
	Protocols []string
	// Family selects IPv4, IPv6 or dual-stack networks.
	Family Family
	// HostPort and ContainerPort are the base ports of the mapping; zero
	// means a random port in [1, 32768].
	HostPort      int
	ContainerPort int
	// Range is the number of consecutive ports the mapping spans, >= 1.
	Range int
	// HostIP optionally binds the mapping to one host address. When empty,
	// connectivity checks target the network's gateway address.
	HostIP string
}

// Harness owns the resources shared by a scenario: the host and container
// namespaces and a scratch directory. Close always reaps both namespace
// placeholders and removes the scratch directory, even after a failure.
type Harness struct {
	HostNS       *netns.Namespace
	ContainerNS  *netns.Namespace
	TempDir      string
	NetavarkPath string

	preserve bool
}

// NewHarness locates the netavark binary and reserves the namespace pair plus
// a scratch directory. Any failure here is fatal to the run; no scenario can
// proceed without its namespaces.
func NewHarness() (*Harness, error) {
	netavarkPath, err := FindNetavark()
	if err != nil {
		return nil, err
	}

	hostNS, err := netns.New()
	if err != nil {
		return nil, errors.Wrap(err, "scenario: unable to create host namespace")
	}
	containerNS, err := netns.New()
	if err != nil {
		hostNS.Close()
		return nil, errors.Wrap(err, "scenario: unable to create container namespace")
	}

	tempDir, err := os.MkdirTemp(os.Getenv(envTempDirRoot), "netavark-test-")
	if err != nil {
		containerNS.Close()
		hostNS.Close()
		return nil, errors.Wrap(err, "scenario: unable to create scratch directory")
	}

	preserve, _ := strconv.ParseBool(os.Getenv(envPreserveTestDirs))

	return &Harness{
		HostNS:       hostNS,
		ContainerNS:  containerNS,
		TempDir:      tempDir,
		NetavarkPath: netavarkPath,
		preserve:     preserve,
	}, nil
}

// Close force-terminates both namespace placeholders and removes the scratch
// directory unless preservation was requested.
func (h *Harness) Close() {
	if h.ContainerNS != nil {
		if err := h.ContainerNS.Close(); err != nil {
			log.Warnf("Error destroying container namespace: %v", err)
		}
	}
	if h.HostNS != nil {
		if err := h.HostNS.Close(); err != nil {
			log.Warnf("Error destroying host namespace: %v", err)
		}
	}
	if h.TempDir != "" && !h.preserve {
		if err := os.RemoveAll(h.TempDir); err != nil {
			log.Warnf("Error removing scratch directory %s: %v", h.TempDir, err)
		}
	}
}

// FindNetavark returns the path of the netavark binary under test, from the
// NETAVARK environment variable or PATH.
func FindNetavark() (string, error) {
	if path := os.Getenv(envNetavarkPath); path != "" {
		return path, nil
	}

	path, err := invoke.FindInPath("netavark", filepath.SplitList(os.Getenv("PATH")))
	if err != nil {
		return "", errors.Wrap(err, "scenario: unable to find netavark binary")
	}

	return path, nil
}

// networkAddressing is the generated topology of one named network.
type networkAddressing struct {
	name        string
	iface       string
	bridge      string
	subnet      *net.IPNet
	gateway     net.IP
	containerIP net.IP
	ipv6        bool
}

// Scenario is one complete setup/verify/teardown exercise of netavark. It is
// built from test parameters, used once, then discarded.
type Scenario struct {
	harness *Harness
	opts    Options
	nets    []networkAddressing
	config  *Config
	state   State

	// setupOutput is netavark's stdout from the setup invocation, kept for
	// structured assertions against the reported result.
	setupOutput string
}

// New builds a scenario: unset options are resolved to defaults, a topology
// is generated per requested address family, and the configuration document
// is assembled. The scenario starts in the Built state.
func New(harness *Harness, opts Options) (*Scenario, error) {
	if len(opts.Protocols) == 0 {
		opts.Protocols = []string{"tcp"}
	}
	for _, proto := range opts.Protocols {
		switch proto {
		case "tcp", "udp", "sctp":
		default:
			return nil, errors.Errorf("scenario: unsupported protocol %q", proto)
		}
	}
	if opts.Range <= 0 {
		opts.Range = 1
	}
	if opts.HostPort == 0 {
		opts.HostPort = 1 + rand.Intn(maxRandomPort)
	}
	if opts.ContainerPort == 0 {
		opts.ContainerPort = 1 + rand.Intn(maxRandomPort)
	}

	s := &Scenario{
		harness: harness,
		opts:    opts,
		nets:    buildAddressing(opts.Family),
		state:   StateBuilt,
	}
	s.config = s.buildConfig()

	if err := s.dumpConfig(); err != nil {
		log.Warnf("Unable to dump scenario config: %v", err)
	}

	return s, nil
}

func buildAddressing(family Family) []networkAddressing {
	var nets []networkAddressing

	if family == FamilyIPv4 || family == FamilyDual {
		subnet := topology.RandomSubnet()
		nets = append(nets, networkAddressing{
			subnet:      subnet,
			gateway:     topology.GatewayFromSubnet(subnet),
			containerIP: topology.RandomIPInSubnet(subnet),
		})
	}
	if family == FamilyIPv6 || family == FamilyDual {
		subnet := topology.RandomSubnetIPv6()
		nets = append(nets, networkAddressing{
			subnet:      subnet,
			gateway:     topology.GatewayFromSubnet(subnet),
			containerIP: topology.RandomIPInSubnet(subnet),
			ipv6:        true,
		})
	}

	for i := range nets {
		nets[i].name = "testnet" + strconv.Itoa(i)
		nets[i].iface = "eth" + strconv.Itoa(i)
		nets[i].bridge = "podman" + strconv.Itoa(i)
	}

	return nets
}

func (s *Scenario) buildConfig() *Config {
	cfg := &Config{
		ContainerID:   randomID(),
		ContainerName: "netavark-test-" + uuid.New().String()[:8],
		PortMappings: []PortMapping{{
			HostIP:        s.opts.HostIP,
			ContainerPort: s.opts.ContainerPort,
			HostPort:      s.opts.HostPort,
			Range:         s.opts.Range,
			Protocol:      strings.Join(s.opts.Protocols, ","),
		}},
		Networks:    make(map[string]PerNetworkOptions),
		NetworkInfo: make(map[string]NetworkInfo),
	}

	for _, nw := range s.nets {
		cfg.Networks[nw.name] = PerNetworkOptions{
			StaticIPs:     []string{nw.containerIP.String()},
			InterfaceName: nw.iface,
		}
		cfg.NetworkInfo[nw.name] = NetworkInfo{
			Name:             nw.name,
			ID:               randomID(),
			Driver:           networkDriver,
			NetworkInterface: nw.bridge,
			Subnets: []Subnet{{
				Subnet:  nw.subnet.String(),
				Gateway: nw.gateway.String(),
			}},
			IPv6Enabled: nw.ipv6,
			Internal:    false,
			DNSEnabled:  false,
			IPAMOptions: map[string]string{"driver": ipamDriver},
		}
	}

	return cfg
}

// Config returns the scenario's configuration document.
func (s *Scenario) Config() *Config {
	return s.config
}

// State returns the scenario's current lifecycle state.
func (s *Scenario) State() State {
	return s.state
}

// ConfigDocument serializes the configuration document to wire JSON.
func (s *Scenario) ConfigDocument() ([]byte, error) {
	doc, err := json.Marshal(s.config)
	if err != nil {
		return nil, errors.Wrap(err, "scenario: unable to serialize config")
	}

	return doc, nil
}

// Apply invokes netavark setup against the container namespace with the
// scenario's configuration document on stdin. Failure is terminal.
func (s *Scenario) Apply() error {
	doc, err := s.ConfigDocument()
	if err != nil {
		return err
	}

	return s.ApplyDocument(doc)
}

// ApplyDocument is Apply with a caller-supplied document, used to exercise
// netavark's handling of malformed input.
func (s *Scenario) ApplyDocument(document []byte) error {
	if s.state != StateBuilt {
		return errors.Errorf("scenario: cannot apply in state %s", s.state)
	}

	result, err := runner.Run(&runner.Invocation{
		Args:      []string{s.harness.NetavarkPath, "setup", s.harness.ContainerNS.Path()},
		NetNSPath: s.harness.HostNS.Path(),
		Stdin:     bytes.NewReader(document),
		Timeout:   netavarkTimeout,
	})
	if err != nil {
		s.state = StateSetupFailed
		return errors.Wrap(err, "scenario: netavark setup failed")
	}

	s.setupOutput = result.Output
	s.state = StateApplied
	return nil
}

// Verify proves connectivity for every requested protocol, port offset and
// address family: a listener inside the container namespace must receive,
// byte for byte, the payload sent from the host namespace through the
// forwarded port. The first failing check is terminal.
func (s *Scenario) Verify() error {
	if s.state != StateApplied {
		return errors.Errorf("scenario: cannot verify in state %s", s.state)
	}

	// Host and container ports advance in lockstep across the range;
	// mismatched range bases are deliberately not exercised.
	for _, proto := range s.opts.Protocols {
		for offset := 0; offset < s.opts.Range; offset++ {
			hostPort := s.opts.HostPort + offset
			containerPort := s.opts.ContainerPort + offset
			for _, nw := range s.nets {
				if err := s.probe(proto, nw, hostPort, containerPort); err != nil {
					s.state = StateVerifyFailed
					return err
				}
			}
		}
	}

	s.state = StateVerified
	return nil
}

// Teardown invokes netavark teardown with the same namespace and document.
func (s *Scenario) Teardown() error {
	if s.state != StateApplied && s.state != StateVerified {
		return errors.Errorf("scenario: cannot tear down in state %s", s.state)
	}

	doc, err := s.ConfigDocument()
	if err != nil {
		return err
	}

	_, err = runner.Run(&runner.Invocation{
		Args:      []string{s.harness.NetavarkPath, "teardown", s.harness.ContainerNS.Path()},
		NetNSPath: s.harness.HostNS.Path(),
		Stdin:     bytes.NewReader(doc),
		Timeout:   netavarkTimeout,
	})
	if err != nil {
		s.state = StateTeardownFailed
		return errors.Wrap(err, "scenario: netavark teardown failed")
	}

	s.state = StateTornDown
	return nil
}

// Run drives one full Apply, Verify, Teardown cycle, stopping at the first
// failed step.
func (s *Scenario) Run() error {
	if err := s.Apply(); err != nil {
		return err
	}
	if err := s.Verify(); err != nil {
		return err
	}

	return s.Teardown()
}

// SetupOutput returns netavark's stdout from the setup invocation.
func (s *Scenario) SetupOutput() string {
	return s.setupOutput
}

func (s *Scenario) dumpConfig() error {
	if s.harness == nil || s.harness.TempDir == "" {
		return nil
	}

	doc, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(s.harness.TempDir, configDumpName), doc, 0644)
}

func randomID() string {
	id := uuid.New().String() + uuid.New().String()
	return strings.ReplaceAll(id, "-", "")[:2*containerIDBytes]
}
