package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theerud/taskcore/internal/core"
)

func writeAgentFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644))
}

func TestLoadFile_ParsesFrontmatterAndBody(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "reviewer", "---\nname: reviewer\ndescription: Reviews code\nmodel: opus\n---\nYou are a careful reviewer.\n")

	def, errs := scanDir(dir, core.AgentSourceBundled)
	require.Empty(t, errs)
	require.Len(t, def, 1)
	assert.Equal(t, "reviewer", def[0].Name)
	assert.Equal(t, "Reviews code", def[0].Description)
	assert.Equal(t, "You are a careful reviewer.", def[0].SystemPrompt)
}

func TestLoadFile_MissingDescriptionIsLoadError(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "broken", "---\nname: broken\n---\nbody\n")

	defs, errs := scanDir(dir, core.AgentSourceBundled)
	assert.Empty(t, defs)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "description")
}

func TestRegistry_ProjectOverridesUserOverridesBundled(t *testing.T) {
	bundledDir := t.TempDir()
	userDir := t.TempDir()
	projectDir := t.TempDir()

	writeAgentFile(t, bundledDir, "coder", "---\nname: coder\ndescription: bundled version\n---\nbundled prompt\n")
	writeAgentFile(t, userDir, "coder", "---\nname: coder\ndescription: user version\n---\nuser prompt\n")
	writeAgentFile(t, projectDir, "coder", "---\nname: coder\ndescription: project version\n---\nproject prompt\n")

	reg, err := New(Sources{BundledDir: bundledDir, UserDir: userDir, ProjectDir: projectDir}, nil, nil)
	require.NoError(t, err)

	def, err := reg.Get("coder")
	require.NoError(t, err)
	assert.Equal(t, "project version", def.Description)
}

func TestRegistry_DisabledAgentFilteredOut(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "retired", "---\nname: retired\ndescription: old agent\n---\nbody\n")

	reg, err := New(Sources{BundledDir: dir}, []string{"retired"}, nil)
	require.NoError(t, err)

	_, err = reg.Get("retired")
	assert.Error(t, err)
	assert.Empty(t, reg.List())
}

func TestRegistry_SuggestsSimilarNames(t *testing.T) {
	dir := t.TempDir()
	writeAgentFile(t, dir, "reviewer", "---\nname: reviewer\ndescription: reviews code\n---\nbody\n")

	reg, err := New(Sources{BundledDir: dir}, nil, nil)
	require.NoError(t, err)

	_, err = reg.Get("reviewr")
	require.Error(t, err)
	suggestions := reg.Suggest("reviewr")
	assert.Contains(t, suggestions, "reviewer")
}

func TestSplitFrontmatter_BodyOnlyFile(t *testing.T) {
	header, body, err := splitFrontmatter("just a plain prompt\n")
	require.NoError(t, err)
	assert.Empty(t, header)
	assert.Equal(t, "just a plain prompt\n", body)
}

func TestSplitFrontmatter_UnterminatedDelimiterErrors(t *testing.T) {
	_, _, err := splitFrontmatter("---\nname: x\nno closing delimiter")
	assert.Error(t, err)
}
