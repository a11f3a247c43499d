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

package logger

import (
	"fmt"
	"os"
	"strings"

	log "github.com/cihub/seelog"
)

const (
	// envLogFilePath overrides the log file location passed to SetupLogger.
	envLogFilePath = "NETAVARK_TESTER_LOG_FILE"
	// envLogLevel sets the minimum log level. Defaults to info.
	envLogLevel = "NETAVARK_TESTER_LOG_LEVEL"

	defaultLogLevel = "info"

	seelogConfigTemplate = `
<seelog type="asyncloop" minlevel="%s">
	<outputs formatid="main">
		<console />%s
	</outputs>
	<formats>
		<format id="main" format="%%UTCDate(2006-01-02T15:04:05Z07:00) [%%LEVEL] %%Msg%%n" />
	</formats>
</seelog>`
)

// SetupLogger configures the process-wide seelog logger. A non-empty
// logFilePath adds a rolling file output next to the console output.
func SetupLogger(logFilePath string) {
	logger, err := log.LoggerFromConfigAsString(loggerConfig(logFilePath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logger: %v\n", err)
		return
	}
	if err := log.ReplaceLogger(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error replacing logger: %v\n", err)
	}
}

// GetLogFileLocation returns the log file path from the environment, falling
// back to the passed in default.
func GetLogFileLocation(defaultLogFilePath string) string {
	if path := os.Getenv(envLogFilePath); path != "" {
		return path
	}

	return defaultLogFilePath
}

func loggerConfig(logFilePath string) string {
	var fileOutput string
	if logFilePath != "" {
		fileOutput = fmt.Sprintf(`
		<rollingfile filename="%s" type="date" datepattern="2006-01-02" archivetype="none" maxrolls="2" />`,
			logFilePath)
	}

	return fmt.Sprintf(seelogConfigTemplate, logLevel(), fileOutput)
}

func logLevel() string {
	level := strings.ToLower(os.Getenv(envLogLevel))
	switch level {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return level
	}

	return defaultLogLevel
}
