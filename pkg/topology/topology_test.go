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

package topology

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSubnetShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		subnet := RandomSubnet()
		ones, bits := subnet.Mask.Size()
		assert.Equal(t, 24, ones)
		assert.Equal(t, 32, bits)

		ip := subnet.IP.To4()
		require.NotNil(t, ip)
		assert.Equal(t, byte(10), ip[0])
		assert.Equal(t, byte(0), ip[3])
	}
}

func TestRandomSubnetIPv6Shape(t *testing.T) {
	for i := 0; i < 100; i++ {
		subnet := RandomSubnetIPv6()
		ones, bits := subnet.Mask.Size()
		assert.Equal(t, 64, ones)
		assert.Equal(t, 128, bits)
		assert.Equal(t, byte(0xfd), subnet.IP[0])
	}
}

func TestGatewayFromSubnet(t *testing.T) {
	_, subnet, err := net.ParseCIDR("10.5.6.0/24")
	require.NoError(t, err)
	assert.Equal(t, "10.5.6.1", GatewayFromSubnet(subnet).String())

	_, subnet, err = net.ParseCIDR("fd00:1:2:3::/64")
	require.NoError(t, err)
	assert.Equal(t, "fd00:1:2:3::1", GatewayFromSubnet(subnet).String())
}

func TestRandomIPInSubnetExcludesReservedAddresses(t *testing.T) {
	_, subnet, err := net.ParseCIDR("10.9.9.0/24")
	require.NoError(t, err)

	gateway := GatewayFromSubnet(subnet)
	for i := 0; i < 500; i++ {
		ip := RandomIPInSubnet(subnet)
		require.True(t, subnet.Contains(ip), "%s not in %s", ip, subnet)
		assert.NotEqual(t, "10.9.9.0", ip.String())
		assert.NotEqual(t, gateway.String(), ip.String())
		assert.NotEqual(t, "10.9.9.255", ip.String())
	}
}

func TestRandomIPInSubnetSmallestUsableSubnet(t *testing.T) {
	// A /30 has exactly one assignable host once base, gateway and
	// broadcast are excluded.
	_, subnet, err := net.ParseCIDR("10.1.1.0/30")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.Equal(t, "10.1.1.2", RandomIPInSubnet(subnet).String())
	}
}

func TestGatewayAndRandomIPsPairwiseDistinctIPv4(t *testing.T) {
	_, subnet, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)

	seen := map[string]bool{GatewayFromSubnet(subnet).String(): true}
	for i := 0; i < 3; i++ {
		ip := RandomIPInSubnet(subnet)
		require.True(t, subnet.Contains(ip))
		assert.False(t, seen[ip.String()], "duplicate address %s", ip)
		seen[ip.String()] = true
	}
}

func TestGatewayAndRandomIPsPairwiseDistinctIPv6(t *testing.T) {
	subnet := RandomSubnetIPv6()

	seen := map[string]bool{GatewayFromSubnet(subnet).String(): true}
	for i := 0; i < 3; i++ {
		ip := RandomIPInSubnet(subnet)
		require.True(t, subnet.Contains(ip))
		assert.False(t, seen[ip.String()], "duplicate address %s", ip)
		seen[ip.String()] = true
	}
}

func TestConcurrentDrawsDoNotCorruptState(t *testing.T) {
	_, subnet, err := net.ParseCIDR("10.2.0.0/16")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ip := RandomIPInSubnet(subnet)
				if !subnet.Contains(ip) {
					t.Errorf("%s not in %s", ip, subnet)
					return
				}
			}
		}()
	}
	wg.Wait()
}
