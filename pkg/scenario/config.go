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

// Config is the document netavark consumes on stdin for both setup and
// teardown. It is the single source of truth for the wire schema; scenarios
// serialize it with encoding/json rather than assembling strings.
type Config struct {
	ContainerID   string                       `json:"container_id"`
	ContainerName string                       `json:"container_name"`
	PortMappings  []PortMapping                `json:"port_mappings"`
	Networks      map[string]PerNetworkOptions `json:"networks"`
	NetworkInfo   map[string]NetworkInfo       `json:"network_info"`
}

// PortMapping is one host-port-to-container-port forwarding rule, optionally
// spanning a contiguous range of ports.
type PortMapping struct {
	HostIP        string `json:"host_ip"`
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Range         int    `json:"range"`
	Protocol      string `json:"protocol"`
}

// PerNetworkOptions carries the container's addressing on one network.
type PerNetworkOptions struct {
	StaticIPs     []string `json:"static_ips"`
	InterfaceName string   `json:"interface_name"`
}

// NetworkInfo describes one named network to netavark.
type NetworkInfo struct {
	Name             string            `json:"name"`
	ID               string            `json:"id"`
	Driver           string            `json:"driver"`
	NetworkInterface string            `json:"network_interface"`
	Subnets          []Subnet          `json:"subnets"`
	IPv6Enabled      bool              `json:"ipv6_enabled"`
	Internal         bool              `json:"internal"`
	DNSEnabled       bool              `json:"dns_enabled"`
	IPAMOptions      map[string]string `json:"ipam_options"`
}

// Subnet pairs a CIDR with its gateway address.
type Subnet struct {
	Subnet  string `json:"subnet"`
	Gateway string `json:"gateway"`
}
