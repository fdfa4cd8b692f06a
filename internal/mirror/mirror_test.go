package mirror_test

import (
	"testing"

	"starcore/internal/mirror"
	"starcore/internal/starerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadAllRoundTrip(t *testing.T) {
	s, err := mirror.Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write("cmp-abc123", []byte("hello world")))

	got, err := s.ReadAll("cmp-abc123")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assert.True(t, s.Exists("cmp-abc123"))
}

func TestReadRangeInflatesByteWindow(t *testing.T) {
	s, err := mirror.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write("cmp-1", []byte("0123456789")))

	got, err := s.ReadRange("cmp-1", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, "234", string(got))
}

func TestReadRangeOutOfBoundsReturnsMirrorMiss(t *testing.T) {
	s, err := mirror.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write("cmp-1", []byte("short")))

	_, err = s.ReadRange("cmp-1", 0, 100)
	require.Error(t, err)
	assert.Equal(t, starerrors.MirrorMiss, starerrors.CodeOf(err))
}

func TestReadMissingCompoundReturnsMirrorMiss(t *testing.T) {
	s, err := mirror.Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.ReadAll("does-not-exist")
	assert.Equal(t, starerrors.MirrorMiss, starerrors.CodeOf(err))
}

func TestWriteOverwritesAtomically(t *testing.T) {
	s, err := mirror.Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write("cmp-1", []byte("version one")))
	require.NoError(t, s.Write("cmp-1", []byte("version two, a bit longer")))

	got, err := s.ReadAll("cmp-1")
	require.NoError(t, err)
	assert.Equal(t, "version two, a bit longer", string(got))
}

func TestDeleteRemovesContent(t *testing.T) {
	s, err := mirror.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write("cmp-1", []byte("data")))

	require.NoError(t, s.Delete("cmp-1"))
	assert.False(t, s.Exists("cmp-1"))

	require.NoError(t, s.Delete("cmp-1")) // idempotent
}

func TestWalkVisitsEveryCompound(t *testing.T) {
	s, err := mirror.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write("cmp-aaa", []byte("a")))
	require.NoError(t, s.Write("cmp-bbb", []byte("b")))

	seen := map[string]bool{}
	err = s.Walk(func(id string) error {
		seen[id] = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, seen["cmp-aaa"])
	assert.True(t, seen["cmp-bbb"])
}

func TestNestedCompoundIDsMirrorTheSourceTree(t *testing.T) {
	s, err := mirror.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write("notes/2025/july.md", []byte("nested")))

	got, err := s.ReadAll("notes/2025/july.md")
	require.NoError(t, err)
	assert.Equal(t, "nested", string(got))

	seen := map[string]bool{}
	require.NoError(t, s.Walk(func(id string) error {
		seen[id] = true
		return nil
	}))
	assert.True(t, seen["notes/2025/july.md"], "walk should yield the root-relative path as the compound id, got %v", seen)
}
