// Package editor defines the generic tree-edit protocol (spec.md §4.2):
// an abstract, callback-driven description of a tree transformation used
// uniformly by the update driver, the commit driver, and diff producers.
package editor

import (
	"github.com/rcowham/svncore/svnerr"
	"github.com/rcowham/svncore/svnpath"
)

// DirHandle and FileHandle are opaque tokens minted by an Editor
// implementation's open_root/add_directory/open_directory/add_file/
// open_file calls. They are distinct types so the compiler rejects, e.g.,
// passing a DirHandle to ChangeFileProp.
type DirHandle int64

// FileHandle is the file-side counterpart of DirHandle.
type FileHandle int64

// WindowSink receives the svndiff window stream pushed by ApplyTextDelta's
// caller (spec.md §4.1's windows, one at a time, in order).
type WindowSink interface {
	// PutWindow consumes one decoded delta window.
	PutWindow(win DeltaWindow) error
	// Close finalizes the window stream; it is called exactly once, after
	// the last PutWindow, before CloseFile.
	Close() error
}

// DeltaWindow is the editor-facing view of an svndiff window; it is
// defined here (rather than imported from package svndiff) so that
// package editor has no dependency on the wire codec, matching spec.md's
// layering (the editor is "uniform" across update, commit, and diff).
type DeltaWindow struct {
	SourceOffset uint64
	SourceLength uint64
	TargetLength uint64
	Instructions []DeltaInstruction
	NewData      []byte
}

// DeltaInstruction mirrors svndiff.Instruction at the editor boundary.
type DeltaInstruction struct {
	Kind   byte // 0=source-copy 1=target-copy 2=new-data
	Offset uint64
	Length uint64
}

// Editor is the full tree-mutation callback surface of spec.md §4.2.
// Every method may suspend on network I/O and must be safe to call from a
// single logical thread of control (spec.md §5).
type Editor interface {
	// SetTargetRevision is called at most once, before OpenRoot.
	SetTargetRevision(rev svnpath.Revision) error

	OpenRoot(baseRev svnpath.Revision) (DirHandle, error)

	DeleteEntry(path string, rev svnpath.Revision, parent DirHandle) error

	AddDirectory(path string, parent DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (DirHandle, error)
	OpenDirectory(path string, parent DirHandle, baseRev svnpath.Revision) (DirHandle, error)
	ChangeDirProp(dir DirHandle, name string, value []byte) error
	CloseDirectory(dir DirHandle) error
	AbsentDirectory(path string, parent DirHandle) error

	AddFile(path string, parent DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (FileHandle, error)
	OpenFile(path string, parent DirHandle, baseRev svnpath.Revision) (FileHandle, error)
	ApplyTextDelta(file FileHandle, baseChecksum *svnpath.Checksum) (WindowSink, error)
	ChangeFileProp(file FileHandle, name string, value []byte) error
	CloseFile(file FileHandle, resultChecksum *svnpath.Checksum) error
	AbsentFile(path string, parent DirHandle) error

	CloseEdit() error
	AbortEdit() error
}

// HasCopyFrom reports whether an add_* call carries copy-from
// information, per spec.md's "(path, rev)" optional pair.
func HasCopyFrom(copyFromPath string, copyFromRev svnpath.Revision) bool {
	return copyFromPath != "" && copyFromRev.IsValid()
}

// ErrProtocolMisuse is returned by strict editors (such as Guard) when
// the driver violates
// spec.md §4.2's protocol invariants: a call after CloseEdit/AbortEdit, a
// double-close, an out-of-order close, or an unknown handle.
func ErrProtocolMisuse(msg string) error {
	return svnerr.New(svnerr.KindProtocolMisuse, msg)
}
