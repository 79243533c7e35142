package controller

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/contextharness/pkg/workspace"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	return ws
}

func scratchFiles(t *testing.T, ws *workspace.Workspace) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(ws.Root(), workspace.ScratchDir))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestMaskBelowThreshold(t *testing.T) {
	ws := newWorkspace(t)
	for _, text := range []string{"", "short", strings.Repeat("x", MaskThreshold), strings.Repeat("é", MaskThreshold)} {
		got, err := Mask("read_file", text, ws)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}
	assert.Empty(t, scratchFiles(t, ws))
}

func TestMaskOffloads(t *testing.T) {
	ws := newWorkspace(t)
	text := strings.Repeat("line of output\n", 200) + "tail"
	require.Greater(t, utf8.RuneCountInString(text), MaskThreshold)

	got, err := Mask("search_files", text, ws)
	require.NoError(t, err)

	files := scratchFiles(t, ws)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], "search_files_"))
	rel := filepath.Join(workspace.ScratchDir, files[0])

	data, err := os.ReadFile(filepath.Join(ws.Root(), rel))
	require.NoError(t, err)
	assert.Equal(t, text, string(data))

	assert.Less(t, len(got), len(text))
	lines := strings.SplitN(got, "\n", 2)
	assert.Equal(t, "[Output (3004 chars, 201 lines) saved to "+rel+"]", lines[0])
	assert.Contains(t, got, "Preview: line of output\n")
	assert.True(t, strings.HasSuffix(got, "...\nUse read_file to examine specific sections."))
}

func TestMaskJustOverThreshold(t *testing.T) {
	ws := newWorkspace(t)
	text := strings.Repeat("a", MaskThreshold+1)
	got, err := Mask("read_file", text, ws)
	require.NoError(t, err)
	assert.Contains(t, got, "(2001 chars, 1 lines)")
	assert.Contains(t, got, "Preview: "+strings.Repeat("a", previewChars)+"...\n")
}

func TestMaskPreviewTrimsTrailingWhitespace(t *testing.T) {
	ws := newWorkspace(t)
	text := strings.Repeat("b", 295) + "     " + strings.Repeat("c", 2000)
	got, err := Mask("x", text, ws)
	require.NoError(t, err)
	assert.Contains(t, got, "Preview: "+strings.Repeat("b", 295)+"...\n")
}

func TestMaskStorageFailure(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.RemoveAll(filepath.Join(ws.Root(), workspace.ScratchDir)))

	_, err := Mask("read_file", strings.Repeat("z", MaskThreshold+10), ws)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestMaskScratchNotADirectory(t *testing.T) {
	ws := newWorkspace(t)
	dir := filepath.Join(ws.Root(), workspace.ScratchDir)
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("file"), 0o644))

	_, err := Mask("search_files", strings.Repeat("q", MaskThreshold+1), ws)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}
