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

// Package assertions compares actual command output against expectations and
// produces structured diagnostics on mismatch. A failed assertion is fatal to
// the scenario that raised it.
package assertions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/cihub/seelog"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Comparison is the closed set of supported comparison kinds.
type Comparison int

const (
	// Equal is exact string equality. The expected value is never treated
	// as a pattern.
	Equal Comparison = iota
	// NotEqual is exact string inequality.
	NotEqual
	// Match treats the expected value as a regular expression.
	Match
	// NotMatch negates Match.
	NotMatch
	// Less and friends compare numerically when both sides parse as
	// integers, lexically otherwise.
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
)

func (c Comparison) String() string {
	switch c {
	case Equal:
		return "=="
	case NotEqual:
		return "!="
	case Match:
		return "=~"
	case NotMatch:
		return "!~"
	case Less:
		return "<"
	case LessOrEqual:
		return "<="
	case Greater:
		return ">"
	case GreaterOrEqual:
		return ">="
	}

	return fmt.Sprintf("Comparison(%d)", int(c))
}

// ParseComparison maps an operator string to its Comparison.
func ParseComparison(op string) (Comparison, error) {
	switch op {
	case "==", "=":
		return Equal, nil
	case "!=":
		return NotEqual, nil
	case "=~":
		return Match, nil
	case "!~":
		return NotMatch, nil
	case "<":
		return Less, nil
	case "<=":
		return LessOrEqual, nil
	case ">":
		return Greater, nil
	case ">=":
		return GreaterOrEqual, nil
	}

	return 0, errors.Errorf("assertions: unknown comparison operator %q", op)
}

// FailureError carries the full diagnostic context of a failed assertion.
type FailureError struct {
	Description string
	Comparison  Comparison
	Expected    string
	Actual      string
}

func (e *FailureError) Error() string {
	description := e.Description
	if description == "" {
		description = "output of the most recent command"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "assertion failed: %s\n", description)
	fmt.Fprintf(&b, "expected (%s): %q\n", e.Comparison, e.Expected)

	// Each line of multi-line actual output gets its own aligned, labelled
	// row so diffs stay readable in the log.
	lines := strings.Split(e.Actual, "\n")
	fmt.Fprintf(&b, "actual       : %q", lines[0])
	for _, line := range lines[1:] {
		fmt.Fprintf(&b, "\n             > %q", line)
	}

	return b.String()
}

// Assert compares actual against expected and returns a *FailureError on
// mismatch. An invalid pattern in a Match comparison is an error in its own
// right, not a mismatch.
func Assert(actual string, op Comparison, expected string, description string) error {
	ok, err := Compare(actual, op, expected)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	failure := &FailureError{
		Description: description,
		Comparison:  op,
		Expected:    expected,
		Actual:      actual,
	}
	log.Errorf("%v", failure)

	return failure
}

// AssertJSON extracts a field from the JSON document by a dot-separated query
// path and compares it like Assert. Extraction failures, including malformed
// documents, count as a mismatch rather than a crash.
func AssertJSON(document string, path string, op Comparison, expected string, description string) error {
	value := jsoniter.Get([]byte(document), jsonQueryKeys(path)...)
	if value.ValueType() == jsoniter.InvalidValue {
		failure := &FailureError{
			Description: description,
			Comparison:  op,
			Expected:    expected,
			Actual:      fmt.Sprintf("<no value at %q in %s>", path, document),
		}
		log.Errorf("%v", failure)
		return failure
	}

	return Assert(value.ToString(), op, expected, description)
}

// Compare evaluates actual <op> expected. It is a pure function of its
// inputs; each comparison kind is independently testable through it.
func Compare(actual string, op Comparison, expected string) (bool, error) {
	switch op {
	case Equal:
		return actual == expected, nil
	case NotEqual:
		return actual != expected, nil
	case Match, NotMatch:
		matched, err := regexp.MatchString(expected, actual)
		if err != nil {
			return false, errors.Wrapf(err, "assertions: invalid pattern %q", expected)
		}
		if op == NotMatch {
			matched = !matched
		}
		return matched, nil
	case Less, LessOrEqual, Greater, GreaterOrEqual:
		return compareOrdered(actual, op, expected), nil
	}

	return false, errors.Errorf("assertions: unsupported comparison %v", op)
}

func compareOrdered(actual string, op Comparison, expected string) bool {
	actualNum, errActual := strconv.ParseInt(strings.TrimSpace(actual), 10, 64)
	expectedNum, errExpected := strconv.ParseInt(strings.TrimSpace(expected), 10, 64)
	if errActual == nil && errExpected == nil {
		switch op {
		case Less:
			return actualNum < expectedNum
		case LessOrEqual:
			return actualNum <= expectedNum
		case Greater:
			return actualNum > expectedNum
		case GreaterOrEqual:
			return actualNum >= expectedNum
		}
	}

	switch op {
	case Less:
		return actual < expected
	case LessOrEqual:
		return actual <= expected
	case Greater:
		return actual > expected
	case GreaterOrEqual:
		return actual >= expected
	}

	return false
}

// jsonQueryKeys splits a dot path like ".a.b.0" into jsoniter lookup keys,
// turning numeric segments into array indexes.
func jsonQueryKeys(path string) []interface{} {
	var keys []interface{}
	for _, segment := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		if segment == "" {
			continue
		}
		if index, err := strconv.Atoi(segment); err == nil {
			keys = append(keys, index)
			continue
		}
		keys = append(keys, segment)
	}

	return keys
}
