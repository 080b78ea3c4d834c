package editor

import (
	"sync/atomic"

	"github.com/rcowham/svncore/svnpath"
)

// DefaultEditor implements every Editor operation as a successful no-op,
// handing out stable, unique handles and discarding delta windows. It is
// the base spec.md §4.3 describes, meant to be embedded and have selected
// methods overridden by a concrete editor (see the recordingEditor types
// in cmd/svnupdate and in package update's tests).
type DefaultEditor struct {
	nextHandle int64
}

func (d *DefaultEditor) allocDir() DirHandle {
	return DirHandle(atomic.AddInt64(&d.nextHandle, 1))
}

func (d *DefaultEditor) allocFile() FileHandle {
	return FileHandle(atomic.AddInt64(&d.nextHandle, 1))
}

func (d *DefaultEditor) SetTargetRevision(rev svnpath.Revision) error { return nil }

func (d *DefaultEditor) OpenRoot(baseRev svnpath.Revision) (DirHandle, error) {
	return d.allocDir(), nil
}

func (d *DefaultEditor) DeleteEntry(path string, rev svnpath.Revision, parent DirHandle) error {
	return nil
}

func (d *DefaultEditor) AddDirectory(path string, parent DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (DirHandle, error) {
	return d.allocDir(), nil
}

func (d *DefaultEditor) OpenDirectory(path string, parent DirHandle, baseRev svnpath.Revision) (DirHandle, error) {
	return d.allocDir(), nil
}

func (d *DefaultEditor) ChangeDirProp(dir DirHandle, name string, value []byte) error { return nil }

func (d *DefaultEditor) CloseDirectory(dir DirHandle) error { return nil }

func (d *DefaultEditor) AbsentDirectory(path string, parent DirHandle) error { return nil }

func (d *DefaultEditor) AddFile(path string, parent DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (FileHandle, error) {
	return d.allocFile(), nil
}

func (d *DefaultEditor) OpenFile(path string, parent DirHandle, baseRev svnpath.Revision) (FileHandle, error) {
	return d.allocFile(), nil
}

func (d *DefaultEditor) ApplyTextDelta(file FileHandle, baseChecksum *svnpath.Checksum) (WindowSink, error) {
	return discardSink{}, nil
}

func (d *DefaultEditor) ChangeFileProp(file FileHandle, name string, value []byte) error { return nil }

func (d *DefaultEditor) CloseFile(file FileHandle, resultChecksum *svnpath.Checksum) error { return nil }

func (d *DefaultEditor) AbsentFile(path string, parent DirHandle) error { return nil }

func (d *DefaultEditor) CloseEdit() error { return nil }

func (d *DefaultEditor) AbortEdit() error { return nil }

// discardSink implements WindowSink by dropping every window, used by
// DefaultEditor and by callers that want to drive an edit without
// materializing file content (e.g. a dry-run commit).
type discardSink struct{}

func (discardSink) PutWindow(DeltaWindow) error { return nil }
func (discardSink) Close() error                { return nil }

var _ Editor = (*DefaultEditor)(nil)
