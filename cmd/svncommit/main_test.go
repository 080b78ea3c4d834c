package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svncore/editor"
	"github.com/rcowham/svncore/svnpath"
)

// recordingDriver wraps editor.DefaultEditor and records every call made
// against it, so tests can assert on driving order without a live session.
type recordingDriver struct {
	editor.DefaultEditor
	calls []string
	props map[string]string
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{props: map[string]string{}}
}

func (d *recordingDriver) AddDirectory(path string, parent editor.DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (editor.DirHandle, error) {
	d.calls = append(d.calls, "add-dir "+path)
	return d.DefaultEditor.AddDirectory(path, parent, copyFromPath, copyFromRev)
}

func (d *recordingDriver) OpenDirectory(path string, parent editor.DirHandle, baseRev svnpath.Revision) (editor.DirHandle, error) {
	d.calls = append(d.calls, "open-dir "+path)
	return d.DefaultEditor.OpenDirectory(path, parent, baseRev)
}

func (d *recordingDriver) AddFile(path string, parent editor.DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (editor.FileHandle, error) {
	d.calls = append(d.calls, "add-file "+path)
	return d.DefaultEditor.AddFile(path, parent, copyFromPath, copyFromRev)
}

func (d *recordingDriver) DeleteEntry(path string, rev svnpath.Revision, parent editor.DirHandle) error {
	d.calls = append(d.calls, "delete "+path)
	return d.DefaultEditor.DeleteEntry(path, rev, parent)
}

func (d *recordingDriver) ChangeFileProp(file editor.FileHandle, name string, value []byte) error {
	d.props[name] = string(value)
	return nil
}

func (d *recordingDriver) CloseDirectory(dir editor.DirHandle) error {
	d.calls = append(d.calls, "close-dir")
	return nil
}

func TestLoadEditScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_message: "add a file"
adds:
  - path: src/main.go
    content: "package main\n"
deletes:
  - src/old.go
prop_changes:
  - path: src
    is_dir: true
    props:
      - name: svn:ignore
        value: "*.o"
`), 0644))

	script, err := loadEditScript(path)
	require.NoError(t, err)
	assert.Equal(t, "add a file", script.LogMessage)
	require.Len(t, script.Adds, 1)
	assert.Equal(t, "src/main.go", script.Adds[0].Path)
	assert.Equal(t, []string{"src/old.go"}, script.Deletes)
	require.Len(t, script.PropChanges, 1)
	assert.True(t, script.PropChanges[0].IsDir)
}

func TestLoadEditScriptMissingFile(t *testing.T) {
	_, err := loadEditScript(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDirHandlesEnsureOpensAncestorsOnce(t *testing.T) {
	d := newRecordingDriver()
	ed := editor.NewGuard(d)
	root, err := ed.OpenRoot(svnpath.Invalid)
	require.NoError(t, err)
	dirs := newDirHandles(ed, root)

	_, err = dirs.ensure("a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"open-dir a", "open-dir a/b", "open-dir a/b/c"}, d.calls)

	d.calls = nil
	_, err = dirs.ensure("a/b/c")
	require.NoError(t, err)
	assert.Empty(t, d.calls, "already-resolved ancestors must not be reopened")
}

func TestRunAddFileWritesContentAndProps(t *testing.T) {
	d := newRecordingDriver()
	ed := editor.NewGuard(d)
	root, err := ed.OpenRoot(svnpath.Invalid)
	require.NoError(t, err)
	dirs := newDirHandles(ed, root)

	err = runAdd(ed, dirs, AddEntry{
		Path:    "README.md",
		Content: "hello",
		Props:   []PropEdit{{Name: "svn:eol-style", Value: "native"}},
	})
	require.NoError(t, err)
	assert.Contains(t, d.calls, "add-file README.md")
	assert.Equal(t, "native", d.props["svn:eol-style"])
}

func TestRunAddDirectoryWithCopyFrom(t *testing.T) {
	d := newRecordingDriver()
	ed := editor.NewGuard(d)
	root, err := ed.OpenRoot(svnpath.Invalid)
	require.NoError(t, err)
	dirs := newDirHandles(ed, root)

	err = runAdd(ed, dirs, AddEntry{Path: "branches/rel1", IsDir: true, CopyFrom: "trunk", CopyFromRev: 4})
	require.NoError(t, err)
	assert.Contains(t, d.calls, "add-dir branches/rel1")
	// the new directory's handle must be registered for subsequent children
	assert.Contains(t, dirs.byPath, "branches/rel1")
}

func TestRunDeleteResolvesParent(t *testing.T) {
	d := newRecordingDriver()
	ed := editor.NewGuard(d)
	root, err := ed.OpenRoot(svnpath.Invalid)
	require.NoError(t, err)
	dirs := newDirHandles(ed, root)

	require.NoError(t, runDelete(ed, dirs, "src/old.go"))
	assert.Contains(t, d.calls, "open-dir src")
	assert.Contains(t, d.calls, "delete src/old.go")
}

func TestDirHandlesCloseAllIsBottomUp(t *testing.T) {
	d := newRecordingDriver()
	ed := editor.NewGuard(d)
	root, err := ed.OpenRoot(svnpath.Invalid)
	require.NoError(t, err)
	dirs := newDirHandles(ed, root)

	_, err = dirs.ensure("a/b")
	require.NoError(t, err)
	d.calls = nil
	require.NoError(t, dirs.closeAll())
	assert.Equal(t, []string{"close-dir", "close-dir"}, d.calls)
}
