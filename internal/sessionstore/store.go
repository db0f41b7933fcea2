// Package sessionstore implements the session artifact directory (§6):
// a per-batch directory holding each task's output-sink dump, its patch
// (patch mode only), and the batch's rendered context, retained when a
// batch's changes weren't applied so they're available for recovery.
package sessionstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/theerud/taskcore/internal/core"
)

var _ core.SessionStore = (*Store)(nil)

// Store persists session artifacts under baseDir, one subdirectory per
// batch named after its artifact id.
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir. The directory is created lazily,
// on first write, mirroring the isolation package's worktree base dir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// ArtifactDir returns the directory path for artifactID, creating it if
// it doesn't exist yet.
func (s *Store) ArtifactDir(artifactID string) (string, error) {
	dir, err := s.resolveDir(artifactID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("sessionstore: creating artifact dir: %w", err)
	}
	return dir, nil
}

// WriteArtifact writes data to relPath inside artifactID's directory,
// atomically, and returns the file's absolute path.
func (s *Store) WriteArtifact(artifactID, relPath string, data []byte) (string, error) {
	dir, err := s.ArtifactDir(artifactID)
	if err != nil {
		return "", err
	}
	path, err := resolveRelPath(dir, relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("sessionstore: creating parent directories: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("sessionstore: writing artifact: %w", err)
	}
	return path, nil
}

// ReadArtifact reads relPath back out of artifactID's directory.
func (s *Store) ReadArtifact(artifactID, relPath string) ([]byte, error) {
	dir, err := s.resolveDir(artifactID)
	if err != nil {
		return nil, err
	}
	path, err := resolveRelPath(dir, relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: reading artifact: %w", err)
	}
	return data, nil
}

// RemoveArtifactDir deletes artifactID's entire directory. Safe to call
// on a directory that was never created.
func (s *Store) RemoveArtifactDir(artifactID string) error {
	dir, err := s.resolveDir(artifactID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("sessionstore: removing artifact dir: %w", err)
	}
	return nil
}

// resolveDir rejects an artifactID that would escape baseDir via ".." or
// a path separator, mirroring toolruntime's workspace-escape guard.
func (s *Store) resolveDir(artifactID string) (string, error) {
	if strings.TrimSpace(artifactID) == "" {
		return "", fmt.Errorf("sessionstore: artifact id must not be empty")
	}
	joined := filepath.Join(s.baseDir, artifactID)
	rel, err := filepath.Rel(s.baseDir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("sessionstore: artifact id %q escapes the session store", artifactID)
	}
	return joined, nil
}

// resolveRelPath rejects a relPath that would escape dir via "..",
// keeping every artifact write confined to its own batch directory.
func resolveRelPath(dir, relPath string) (string, error) {
	joined := filepath.Join(dir, relPath)
	rel, err := filepath.Rel(dir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("sessionstore: path %q escapes the artifact directory", relPath)
	}
	return joined, nil
}
