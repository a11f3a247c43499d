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

package assertions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertEqualPasses(t *testing.T) {
	assert.NoError(t, Assert("foo", Equal, "foo", "equality"))
}

func TestAssertEqualFailsWithDiagnostic(t *testing.T) {
	err := Assert("foo", Equal, "bar", "equality")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foo")
	assert.Contains(t, err.Error(), "bar")
	assert.Contains(t, err.Error(), "equality")
}

func TestAssertEqualDoesNotTreatExpectedAsPattern(t *testing.T) {
	// "a.c" would match "abc" as a pattern; it must not under equality.
	assert.Error(t, Assert("abc", Equal, "a.c", ""))
	assert.NoError(t, Assert("a.c", Equal, "a.c", ""))
}

func TestAssertFallbackDescription(t *testing.T) {
	err := Assert("foo", Equal, "bar", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "most recent command")
}

func TestAssertNotEqual(t *testing.T) {
	assert.NoError(t, Assert("foo", NotEqual, "bar", ""))
	assert.Error(t, Assert("foo", NotEqual, "foo", ""))
}

func TestAssertMatch(t *testing.T) {
	assert.NoError(t, Assert("foobar", Match, "^foo", ""))
	assert.Error(t, Assert("foobar", Match, "^bar", ""))
}

func TestAssertNotMatch(t *testing.T) {
	assert.NoError(t, Assert("foobar", NotMatch, "^bar", ""))
	assert.Error(t, Assert("foobar", NotMatch, "^foo", ""))
}

func TestAssertInvalidPatternIsAnError(t *testing.T) {
	err := Assert("foo", Match, "(", "")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "assertion failed")
}

func TestAssertRelationalNumeric(t *testing.T) {
	// Lexically "9" > "10"; both sides parse as integers, so the
	// comparison must be numeric.
	assert.NoError(t, Assert("9", Less, "10", ""))
	assert.Error(t, Assert("10", Less, "9", ""))
	assert.NoError(t, Assert("10", GreaterOrEqual, "10", ""))
}

func TestAssertRelationalLexical(t *testing.T) {
	assert.NoError(t, Assert("abc", Less, "abd", ""))
	assert.Error(t, Assert("abd", Less, "abc", ""))
}

func TestFailureErrorLabelsMultilineActual(t *testing.T) {
	err := Assert("line one\nline two", Equal, "other", "multi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"line one"`)
	assert.Contains(t, err.Error(), `> "line two"`)
}

func TestParseComparison(t *testing.T) {
	for symbol, want := range map[string]Comparison{
		"==": Equal,
		"=":  Equal,
		"!=": NotEqual,
		"=~": Match,
		"!~": NotMatch,
		"<":  Less,
		"<=": LessOrEqual,
		">":  Greater,
		">=": GreaterOrEqual,
	} {
		got, err := ParseComparison(symbol)
		require.NoError(t, err, symbol)
		assert.Equal(t, want, got, symbol)
	}

	_, err := ParseComparison("~=")
	assert.Error(t, err)
}

func TestAssertJSONFieldPasses(t *testing.T) {
	assert.NoError(t, AssertJSON(`{"a":1}`, ".a", Equal, "1", ""))
}

func TestAssertJSONMissingFieldIsAMismatch(t *testing.T) {
	err := AssertJSON(`{"a":1}`, ".b", Equal, "1", "missing field")
	require.Error(t, err)
	assert.IsType(t, &FailureError{}, err)
}

func TestAssertJSONMalformedDocumentIsAMismatch(t *testing.T) {
	err := AssertJSON(`{"a":`, ".a", Equal, "1", "malformed")
	require.Error(t, err)
	assert.IsType(t, &FailureError{}, err)
}

func TestAssertJSONNestedAndIndexedPaths(t *testing.T) {
	document := `{"a":{"b":"x"},"items":[{"name":"first"},{"name":"second"}]}`
	assert.NoError(t, AssertJSON(document, ".a.b", Equal, "x", ""))
	assert.NoError(t, AssertJSON(document, ".items.1.name", Equal, "second", ""))
	assert.Error(t, AssertJSON(document, ".items.2.name", Equal, "third", ""))
}

func TestCompareIsPure(t *testing.T) {
	ok, err := Compare("foo", Equal, "foo")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Compare("foo", NotMatch, "bar")
	require.NoError(t, err)
	assert.True(t, ok)
}
