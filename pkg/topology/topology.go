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

// Package topology generates randomized, valid addressing for test
// scenarios: private subnets, their gateways and assignable container
// addresses that never collide with infrastructure addresses.
package topology

import (
	"math/big"
	"math/rand"
	"net"
	"sync"
	"time"
)

var (
	// All draws go through one guarded source; the generators are called
	// from multiple goroutines when scenarios run concurrently at a higher
	// level.
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RandomSubnet returns a random /24 network under the 10.0.0.0/8 private
// range, with the two middle octets drawn uniformly.
func RandomSubnet() *net.IPNet {
	rngMu.Lock()
	second := rng.Intn(256)
	third := rng.Intn(256)
	rngMu.Unlock()

	return &net.IPNet{
		IP:   net.IPv4(10, byte(second), byte(third), 0).To4(),
		Mask: net.CIDRMask(24, 32),
	}
}

// RandomSubnetIPv6 returns a random /64 network under the fd00::/8
// locally-assigned prefix, with the rest of the prefix drawn uniformly.
func RandomSubnetIPv6() *net.IPNet {
	ip := make(net.IP, net.IPv6len)
	ip[0] = 0xfd

	rngMu.Lock()
	rng.Read(ip[1:8])
	rngMu.Unlock()

	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(64, 128),
	}
}

// GatewayFromSubnet returns the first usable address of the subnet, at
// numeric offset 1 from the network base.
func GatewayFromSubnet(subnet *net.IPNet) net.IP {
	return ipAtOffset(subnet, big.NewInt(1))
}

// RandomIPInSubnet returns a uniformly random address strictly inside the
// subnet's usable range. The network base, the gateway at offset 1 and, for
// IPv4, the broadcast address are always excluded, so the result is always
// assignable and distinct from infrastructure addresses.
func RandomIPInSubnet(subnet *net.IPNet) net.IP {
	ones, bits := subnet.Mask.Size()
	hostBits := uint(bits - ones)

	// Assignable offsets are [2, top]: 0 is the network base, 1 the
	// gateway, and IPv4 reserves the broadcast address at the top.
	top := new(big.Int).Lsh(big.NewInt(1), hostBits)
	top.Sub(top, big.NewInt(1))
	if bits == 32 {
		top.Sub(top, big.NewInt(1))
	}

	span := new(big.Int).Sub(top, big.NewInt(1))
	rngMu.Lock()
	offset := new(big.Int).Rand(rng, span)
	rngMu.Unlock()
	offset.Add(offset, big.NewInt(2))

	return ipAtOffset(subnet, offset)
}

func ipAtOffset(subnet *net.IPNet, offset *big.Int) net.IP {
	base := subnet.IP.Mask(subnet.Mask)

	value := new(big.Int).SetBytes(base)
	value.Add(value, offset)

	ip := make(net.IP, len(base))
	value.FillBytes(ip)

	return ip
}
