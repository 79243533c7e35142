package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := New(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	return w
}

func TestNewCreatesLayout(t *testing.T) {
	w := newTestWorkspace(t)
	for _, d := range []string{ScratchDir, PlansDir, MemoryDir} {
		info, err := os.Stat(filepath.Join(w.Root(), d))
		require.NoError(t, err, d)
		assert.True(t, info.IsDir(), d)
	}
	// Idempotent.
	require.NoError(t, w.Ensure())
}

func TestScratchPathUnique(t *testing.T) {
	w := newTestWorkspace(t)
	fixed := time.UnixMilli(1700000000000)
	w.now = func() time.Time { return fixed }

	p1 := w.ScratchPath("test")
	p2 := w.ScratchPath("test")
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, filepath.Join(w.Root(), ScratchDir), filepath.Dir(p1))
}

func TestWriteScratchSkipsExistingFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	a, err := New(root)
	require.NoError(t, err)
	b, err := New(root)
	require.NoError(t, err)
	fixed := time.UnixMilli(1700000000000)
	a.now = func() time.Time { return fixed }
	b.now = func() time.Time { return fixed }

	pa, err := a.WriteScratch("out", "from a")
	require.NoError(t, err)
	pb, err := b.WriteScratch("out", "from b")
	require.NoError(t, err)
	assert.NotEqual(t, pa, pb)

	got, err := os.ReadFile(pa)
	require.NoError(t, err)
	assert.Equal(t, "from a", string(got))
	got, err = os.ReadFile(pb)
	require.NoError(t, err)
	assert.Equal(t, "from b", string(got))
}

func TestWriteScratchFailsWhenScratchIsNotADirectory(t *testing.T) {
	w := newTestWorkspace(t)
	dir := filepath.Join(w.Root(), ScratchDir)
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a dir"), 0o644))

	done := make(chan error, 1)
	go func() {
		_, err := w.WriteScratch("tool", "data")
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "creating scratch file")
	case <-time.After(3 * time.Second):
		t.Fatal("WriteScratch did not return")
	}
}

func TestScratchPathSanitizesLabel(t *testing.T) {
	w := newTestWorkspace(t)
	p := w.ScratchPath("My Tool/Output!")
	assert.True(t, strings.HasPrefix(filepath.Base(p), "my_tool_output__"), filepath.Base(p))
	assert.Equal(t, "read_file-2", SanitizeLabel("Read_File-2"))
}

func TestPlanPersistence(t *testing.T) {
	w := newTestWorkspace(t)

	_, ok, err := w.ReadPlan()
	require.NoError(t, err)
	assert.False(t, ok)

	plan := "## Step 1\nDo the thing\n"
	_, err = w.WritePlan(plan)
	require.NoError(t, err)
	got, ok, err := w.ReadPlan()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, plan, got)

	_, err = w.WritePlan("v2")
	require.NoError(t, err)
	got, _, err = w.ReadPlan()
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestPlanSurvivesReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "shared")
	w1, err := New(root)
	require.NoError(t, err)
	_, err = w1.WritePlan("## Plan v1\n- Step 2: report")
	require.NoError(t, err)

	w2, err := New(root)
	require.NoError(t, err)
	got, ok, err := w2.ReadPlan()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, got, "Step 2")
}

func TestChildIsolation(t *testing.T) {
	w := newTestWorkspace(t)
	child, err := w.Child("researcher")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Root(), AgentsDir, "researcher"), child.Root())
	assert.DirExists(t, filepath.Join(child.Root(), ScratchDir))

	_, err = child.WritePlan("agent plan")
	require.NoError(t, err)

	_, ok, err := w.ReadPlan()
	require.NoError(t, err)
	assert.False(t, ok)
	got, ok, err := child.ReadPlan()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "agent plan", got)
}

func TestChildRejectsEmptyName(t *testing.T) {
	w := newTestWorkspace(t)
	_, err := w.Child("")
	assert.Error(t, err)
	_, err = w.Child("..")
	assert.Error(t, err)
}

func TestRel(t *testing.T) {
	w := newTestWorkspace(t)
	assert.Equal(t, filepath.Join(ScratchDir, "a.txt"), w.Rel(filepath.Join(w.Root(), ScratchDir, "a.txt")))
	assert.Equal(t, "/elsewhere/a.txt", w.Rel("/elsewhere/a.txt"))
	assert.Equal(t, "..notes", Rel("/ws", "/ws/..notes"))
	assert.Equal(t, "/ws2/a.txt", Rel("/ws", "/ws2/a.txt"))
}

func TestWriteScratch(t *testing.T) {
	w := newTestWorkspace(t)
	p, err := w.WriteScratch("read_file", "payload")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(w.Rel(p), filepath.Join(ScratchDir, "read_file_")))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, os.RemoveAll(filepath.Join(w.Root(), ScratchDir)))
	_, err = w.WriteScratch("x", "y")
	assert.Error(t, err)
}
