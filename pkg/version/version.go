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

package version

import "encoding/json"

// Version information, set at build time via -ldflags.
var (
	Version      = "0.0.0"
	GitShortHash = ""
	BuildTime    = ""
)

type versionInfo struct {
	Version      string `json:"version"`
	GitShortHash string `json:"gitShortHash"`
	BuildTime    string `json:"buildTime"`
}

// String returns the version information as a JSON string.
func String() (string, error) {
	info := versionInfo{
		Version:      Version,
		GitShortHash: GitShortHash,
		BuildTime:    BuildTime,
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
