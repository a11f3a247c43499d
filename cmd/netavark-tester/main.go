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

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	log "github.com/cihub/seelog"
	"github.com/pkg/errors"

	"github.com/navidys/netavark/pkg/logger"
	"github.com/navidys/netavark/pkg/scenario"
	"github.com/navidys/netavark/pkg/version"
)

const defaultLogFilePath = "/tmp/netavark-tester.log"

func main() {
	defer log.Flush()
	logger.SetupLogger(logger.GetLogFileLocation(defaultLogFilePath))

	var (
		printVersion  bool
		protocols     string
		ipFamily      string
		hostPort      int
		containerPort int
		portRange     int
		hostIP        string
	)
	flag.BoolVar(&printVersion, "version", false, "prints version and exits")
	flag.StringVar(&protocols, "proto", "tcp", "comma-separated protocols to verify (tcp, udp, sctp)")
	flag.StringVar(&ipFamily, "ip-family", "4", "address families to exercise: 4, 6 or dual")
	flag.IntVar(&hostPort, "host-port", 0, "base host port (0 = random)")
	flag.IntVar(&containerPort, "container-port", 0, "base container port (0 = random)")
	flag.IntVar(&portRange, "range", 1, "number of consecutive ports the mapping spans")
	flag.StringVar(&hostIP, "host-ip", "", "host address the mapping binds to (default: gateway)")
	flag.Parse()

	if printVersion {
		if err := printVersionInfo(); err != nil {
			os.Stderr.WriteString(
				fmt.Sprintf("Error getting version string: %s\n", err.Error()))
			os.Exit(1)
		}
		return
	}

	family, err := parseFamily(ipFamily)
	if err != nil {
		log.Errorf("%v", err)
		log.Flush()
		os.Exit(1)
	}

	opts := scenario.Options{
		Protocols:     strings.Split(protocols, ","),
		Family:        family,
		HostPort:      hostPort,
		ContainerPort: containerPort,
		Range:         portRange,
		HostIP:        hostIP,
	}
	if err := runScenario(opts); err != nil {
		log.Errorf("Scenario failed: %v", err)
		log.Flush()
		os.Exit(1)
	}

	log.Info("Scenario passed")
}

func runScenario(opts scenario.Options) error {
	harness, err := scenario.NewHarness()
	if err != nil {
		return err
	}
	defer harness.Close()

	s, err := scenario.New(harness, opts)
	if err != nil {
		return err
	}

	return s.Run()
}

func parseFamily(value string) (scenario.Family, error) {
	switch value {
	case "4":
		return scenario.FamilyIPv4, nil
	case "6":
		return scenario.FamilyIPv6, nil
	case "dual":
		return scenario.FamilyDual, nil
	}

	return 0, errors.Errorf("unknown ip family %q, want 4, 6 or dual", value)
}

func printVersionInfo() error {
	versionInfo, err := version.String()
	if err != nil {
		return err
	}

	fmt.Println(versionInfo)
	return nil
}
