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
	"net"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Building a scenario touches neither namespaces nor netavark, so a harness
// carrying only a scratch directory is enough for these tests.
func newBuildOnlyHarness(t *testing.T) *Harness {
	return &Harness{TempDir: t.TempDir()}
}

func TestBuildResolvesDefaults(t *testing.T) {
	s, err := New(newBuildOnlyHarness(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, StateBuilt, s.State())

	cfg := s.Config()
	require.Len(t, cfg.PortMappings, 1)
	mapping := cfg.PortMappings[0]
	assert.Equal(t, "tcp", mapping.Protocol)
	assert.Equal(t, 1, mapping.Range)
	assert.GreaterOrEqual(t, mapping.HostPort, 1)
	assert.LessOrEqual(t, mapping.HostPort, 32768)
	assert.GreaterOrEqual(t, mapping.ContainerPort, 1)
	assert.LessOrEqual(t, mapping.ContainerPort, 32768)

	assert.Len(t, cfg.ContainerID, 64)
	assert.NotEmpty(t, cfg.ContainerName)
	assert.Len(t, cfg.Networks, 1)
	assert.Len(t, cfg.NetworkInfo, 1)
}

func TestBuildGeneratesValidIPv4Addressing(t *testing.T) {
	s, err := New(newBuildOnlyHarness(t), Options{Family: FamilyIPv4})
	require.NoError(t, err)

	require.Len(t, s.nets, 1)
	nw := s.nets[0]
	assert.False(t, nw.ipv6)

	info := s.Config().NetworkInfo[nw.name]
	require.Len(t, info.Subnets, 1)

	_, subnet, err := net.ParseCIDR(info.Subnets[0].Subnet)
	require.NoError(t, err)

	gateway := net.ParseIP(info.Subnets[0].Gateway)
	require.NotNil(t, gateway)
	assert.True(t, subnet.Contains(gateway))

	static := s.Config().Networks[nw.name].StaticIPs
	require.Len(t, static, 1)
	containerIP := net.ParseIP(static[0])
	require.NotNil(t, containerIP)
	assert.True(t, subnet.Contains(containerIP))
	assert.NotEqual(t, gateway.String(), containerIP.String())
}

func TestBuildDualStack(t *testing.T) {
	s, err := New(newBuildOnlyHarness(t), Options{
		Protocols: []string{"tcp", "udp"},
		Family:    FamilyDual,
		Range:     3,
	})
	require.NoError(t, err)

	cfg := s.Config()
	assert.Equal(t, "tcp,udp", cfg.PortMappings[0].Protocol)
	assert.Equal(t, 3, cfg.PortMappings[0].Range)
	require.Len(t, cfg.NetworkInfo, 2)

	var sawIPv6 bool
	for _, info := range cfg.NetworkInfo {
		if info.IPv6Enabled {
			sawIPv6 = true
			_, subnet, err := net.ParseCIDR(info.Subnets[0].Subnet)
			require.NoError(t, err)
			ones, bits := subnet.Mask.Size()
			assert.Equal(t, 64, ones)
			assert.Equal(t, 128, bits)
		}
	}
	assert.True(t, sawIPv6, "dual-stack scenario has no ipv6 network")
}

func TestBuildRejectsUnknownProtocol(t *testing.T) {
	_, err := New(newBuildOnlyHarness(t), Options{Protocols: []string{"icmp"}})
	require.Error(t, err)
}

func TestConfigDocumentWireShape(t *testing.T) {
	s, err := New(newBuildOnlyHarness(t), Options{Family: FamilyIPv4})
	require.NoError(t, err)

	doc, err := s.ConfigDocument()
	require.NoError(t, err)

	assert.NotEqual(t, jsoniter.InvalidValue,
		jsoniter.Get(doc, "container_id").ValueType())
	assert.NotEqual(t, jsoniter.InvalidValue,
		jsoniter.Get(doc, "port_mappings", 0, "host_port").ValueType())

	nw := s.nets[0]
	assert.Equal(t, nw.containerIP.String(),
		jsoniter.Get(doc, "networks", nw.name, "static_ips", 0).ToString())
	assert.Equal(t, nw.iface,
		jsoniter.Get(doc, "networks", nw.name, "interface_name").ToString())
	assert.Equal(t, nw.subnet.String(),
		jsoniter.Get(doc, "network_info", nw.name, "subnets", 0, "subnet").ToString())
	assert.Equal(t, nw.gateway.String(),
		jsoniter.Get(doc, "network_info", nw.name, "subnets", 0, "gateway").ToString())
	assert.Equal(t, "bridge",
		jsoniter.Get(doc, "network_info", nw.name, "driver").ToString())
	assert.Equal(t, "host-local",
		jsoniter.Get(doc, "network_info", nw.name, "ipam_options", "driver").ToString())
}

func TestLifecycleStateGuards(t *testing.T) {
	s, err := New(newBuildOnlyHarness(t), Options{})
	require.NoError(t, err)

	// Verify and Teardown are only reachable through a successful Apply.
	assert.Error(t, s.Verify())
	assert.Error(t, s.Teardown())
	assert.Equal(t, StateBuilt, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "built", StateBuilt.String())
	assert.Equal(t, "setup-failed", StateSetupFailed.String())
	assert.Equal(t, "torn-down", StateTornDown.String())
}
