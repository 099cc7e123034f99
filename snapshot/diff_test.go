package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netraven/core/snapshot"
)

func TestContentHashIgnoresLineEndingAndTrailingWhitespace(t *testing.T) {
	a := []byte("interface Gi0/1\n ip address 10.0.0.1\r\n")
	b := []byte("interface Gi0/1   \r\n ip address 10.0.0.1\n")
	require.Equal(t, snapshot.ContentHash(a), snapshot.ContentHash(b))
}

func TestContentHashDoesNotIgnoreSemanticDifference(t *testing.T) {
	a := []byte("ip address 10.0.0.1\n")
	b := []byte("ip address 10.0.0.2\n")
	require.NotEqual(t, snapshot.ContentHash(a), snapshot.ContentHash(b))
}

func TestContentHashDoesNotDropBlankLines(t *testing.T) {
	a := []byte("line1\n\nline2\n")
	b := []byte("line1\nline2\n")
	require.NotEqual(t, snapshot.ContentHash(a), snapshot.ContentHash(b))
}

func TestDiffLinesDetectsAddRemoveEqual(t *testing.T) {
	old := []string{"a", "b", "c"}
	new := []string{"a", "x", "c"}

	changes := snapshot.DiffLines(old, new)

	var got []snapshot.ChangeKind
	for _, c := range changes {
		got = append(got, c.Kind)
	}
	require.Equal(t, []snapshot.ChangeKind{
		snapshot.ChangeEqual, snapshot.ChangeRemove, snapshot.ChangeAdd, snapshot.ChangeEqual,
	}, got)
}

func TestDiffLinesIdentical(t *testing.T) {
	lines := []string{"a", "b", "c"}
	changes := snapshot.DiffLines(lines, lines)
	for _, c := range changes {
		require.Equal(t, snapshot.ChangeEqual, c.Kind)
	}
}
