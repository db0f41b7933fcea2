package sessionstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteThenReadArtifact(t *testing.T) {
	s := New(t.TempDir())

	path, err := s.WriteArtifact("batch-1", "task-1.out", []byte("hello"))
	require.NoError(t, err)
	assert.FileExists(t, path)

	data, err := s.ReadArtifact("batch-1", "task-1.out")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStore_WriteArtifactCreatesNestedParents(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.WriteArtifact("batch-1", "nested/dir/context.md", []byte("context"))
	require.NoError(t, err)

	data, err := s.ReadArtifact("batch-1", "nested/dir/context.md")
	require.NoError(t, err)
	assert.Equal(t, "context", string(data))
}

func TestStore_ArtifactDirIsPerBatch(t *testing.T) {
	base := t.TempDir()
	s := New(base)

	dirA, err := s.ArtifactDir("batch-a")
	require.NoError(t, err)
	dirB, err := s.ArtifactDir("batch-b")
	require.NoError(t, err)

	assert.NotEqual(t, dirA, dirB)
	assert.Equal(t, filepath.Join(base, "batch-a"), dirA)
}

func TestStore_RemoveArtifactDirDeletesEverything(t *testing.T) {
	s := New(t.TempDir())

	dir, err := s.WriteArtifact("batch-1", "task-1.out", []byte("data"))
	require.NoError(t, err)
	require.NoError(t, s.RemoveArtifactDir("batch-1"))

	_, err = os.Stat(filepath.Dir(dir))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_RemoveArtifactDirOnMissingDirIsANoOp(t *testing.T) {
	s := New(t.TempDir())
	assert.NoError(t, s.RemoveArtifactDir("never-created"))
}

func TestStore_ArtifactIDCannotEscapeBaseDir(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.ArtifactDir("../escape")
	assert.Error(t, err)
}

func TestStore_RelPathCannotEscapeArtifactDir(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.WriteArtifact("batch-1", "../../escape.txt", []byte("x"))
	assert.Error(t, err)
}
