package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/oblivkv/kvserver/errors"
)

var testSets = map[string][]string{
	"A": {"a", "b", "c"},
	"B": {"b", "c", "d"},
	"C": {"c", "d", "e"},
}

func testLookup(key string) Set {
	return NewSet(testSets[key])
}

func TestEval(t *testing.T) {
	for _, tc := range []struct {
		query string
		want  []string
	}{
		{"A", []string{"a", "b", "c"}},
		{"A | B", []string{"a", "b", "c", "d"}},
		{"A & B", []string{"b", "c"}},
		{"A - B", []string{"a"}},
		{"A & B & C", []string{"c"}},
		{"A | B - C", []string{"a", "b", "c", "d"}},
		{"(A | B) - C", []string{"a", "b"}},
		{"A & (B | C)", []string{"b", "c"}},
		{"(A - B) | (C - B)", []string{"a", "e"}},
		{"missing", []string{}},
		{"A & missing", []string{}},
		{"A - missing", []string{"a", "b", "c"}},
	} {
		got, err := Eval(tc.query, testLookup)
		require.NoError(t, err, tc.query)
		require.Equal(t, tc.want, got, tc.query)
	}
}

func TestEvalErrors(t *testing.T) {
	for _, query := range []string{"", "   ", "A |", "(A", "A )", "| A", "A & & B"} {
		_, err := Eval(query, testLookup)
		require.Error(t, err, "query %q", query)
		require.Equal(t, apierrors.CodeInvalidArgument, apierrors.CodeOf(err), "query %q", query)
	}
}

func TestReferencedKeys(t *testing.T) {
	keys, err := ReferencedKeys("(A | B) & A - C")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, keys)
}
