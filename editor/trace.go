package editor

import (
	"fmt"
	"io"

	"github.com/rcowham/svncore/svnpath"
)

// TraceEditor wraps a downstream Editor and writes human-readable trace
// output (spec.md §4.3: "Adding path", "Deleting path", "Transmitting
// file data ..."): one line per target revision, add, delete, property
// change and skipped path, and for text deltas "Transmitting file data "
// plus one "." per window, ended by CloseFile. OpenRoot, OpenDirectory,
// OpenFile, CloseDirectory, CloseEdit and AbortEdit print nothing.
// It must not alter semantics: every call is forwarded unchanged and its
// result returned verbatim.
type TraceEditor struct {
	Down Editor
	Out  io.Writer

	// dirPaths/filePaths remember the path behind a handle purely for
	// trace output; TraceEditor does not otherwise interpret handles.
	dirPaths  map[DirHandle]string
	filePaths map[FileHandle]string
}

// NewTraceEditor wraps down, printing to out.
func NewTraceEditor(down Editor, out io.Writer) *TraceEditor {
	return &TraceEditor{
		Down:      down,
		Out:       out,
		dirPaths:  map[DirHandle]string{},
		filePaths: map[FileHandle]string{},
	}
}

func (t *TraceEditor) line(format string, args ...interface{}) {
	fmt.Fprintf(t.Out, format+"\n", args...)
}

func (t *TraceEditor) SetTargetRevision(rev svnpath.Revision) error {
	t.line("Updating to revision %d", rev)
	return t.Down.SetTargetRevision(rev)
}

func (t *TraceEditor) OpenRoot(baseRev svnpath.Revision) (DirHandle, error) {
	h, err := t.Down.OpenRoot(baseRev)
	if err == nil {
		t.dirPaths[h] = ""
	}
	return h, err
}

func (t *TraceEditor) DeleteEntry(path string, rev svnpath.Revision, parent DirHandle) error {
	t.line("Deleting       %s", path)
	return t.Down.DeleteEntry(path, rev, parent)
}

func (t *TraceEditor) AddDirectory(path string, parent DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (DirHandle, error) {
	if HasCopyFrom(copyFromPath, copyFromRev) {
		t.line("Adding (copy)  %s <- %s@%d", path, copyFromPath, copyFromRev)
	} else {
		t.line("Adding         %s", path)
	}
	h, err := t.Down.AddDirectory(path, parent, copyFromPath, copyFromRev)
	if err == nil {
		t.dirPaths[h] = path
	}
	return h, err
}

func (t *TraceEditor) OpenDirectory(path string, parent DirHandle, baseRev svnpath.Revision) (DirHandle, error) {
	h, err := t.Down.OpenDirectory(path, parent, baseRev)
	if err == nil {
		t.dirPaths[h] = path
	}
	return h, err
}

func (t *TraceEditor) ChangeDirProp(dir DirHandle, name string, value []byte) error {
	t.line("Setting property on %s: %s", t.dirPaths[dir], name)
	return t.Down.ChangeDirProp(dir, name, value)
}

func (t *TraceEditor) CloseDirectory(dir DirHandle) error {
	delete(t.dirPaths, dir)
	return t.Down.CloseDirectory(dir)
}

func (t *TraceEditor) AbsentDirectory(path string, parent DirHandle) error {
	t.line("Skipped        %s (authz)", path)
	return t.Down.AbsentDirectory(path, parent)
}

func (t *TraceEditor) AddFile(path string, parent DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (FileHandle, error) {
	if HasCopyFrom(copyFromPath, copyFromRev) {
		t.line("Adding (copy)  %s <- %s@%d", path, copyFromPath, copyFromRev)
	} else {
		t.line("Adding         %s", path)
	}
	h, err := t.Down.AddFile(path, parent, copyFromPath, copyFromRev)
	if err == nil {
		t.filePaths[h] = path
	}
	return h, err
}

func (t *TraceEditor) OpenFile(path string, parent DirHandle, baseRev svnpath.Revision) (FileHandle, error) {
	h, err := t.Down.OpenFile(path, parent, baseRev)
	if err == nil {
		t.filePaths[h] = path
	}
	return h, err
}

func (t *TraceEditor) ApplyTextDelta(file FileHandle, baseChecksum *svnpath.Checksum) (WindowSink, error) {
	fmt.Fprintf(t.Out, "Transmitting file data ")
	down, err := t.Down.ApplyTextDelta(file, baseChecksum)
	if err != nil {
		return nil, err
	}
	return &tracingSink{down: down, out: t.Out}, nil
}

func (t *TraceEditor) ChangeFileProp(file FileHandle, name string, value []byte) error {
	t.line("Setting property on %s: %s", t.filePaths[file], name)
	return t.Down.ChangeFileProp(file, name, value)
}

func (t *TraceEditor) CloseFile(file FileHandle, resultChecksum *svnpath.Checksum) error {
	fmt.Fprintln(t.Out)
	delete(t.filePaths, file)
	return t.Down.CloseFile(file, resultChecksum)
}

func (t *TraceEditor) AbsentFile(path string, parent DirHandle) error {
	t.line("Skipped        %s (authz)", path)
	return t.Down.AbsentFile(path, parent)
}

func (t *TraceEditor) CloseEdit() error { return t.Down.CloseEdit() }
func (t *TraceEditor) AbortEdit() error { return t.Down.AbortEdit() }

// tracingSink wraps the downstream WindowSink and streams one "." per
// window while transmitting file data.
type tracingSink struct {
	down WindowSink
	out  io.Writer
}

func (s *tracingSink) PutWindow(win DeltaWindow) error {
	fmt.Fprint(s.out, ".")
	return s.down.PutWindow(win)
}

func (s *tracingSink) Close() error { return s.down.Close() }

var _ Editor = (*TraceEditor)(nil)
