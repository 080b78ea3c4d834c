package editor

import (
	"github.com/rcowham/svncore/svnerr"
	"github.com/rcowham/svncore/svnpath"
)

// Guard wraps a downstream Editor and enforces the protocol invariants of
// spec.md §4.2: OpenRoot precedes every other call, every opened
// directory/file handle is closed exactly once (bottom-up for
// directories), CloseEdit is called at most once, AbortEdit is not called
// after a successful CloseEdit, and no operation succeeds after the drive
// has finished. It treats violations
// as svnerr.KindProtocolMisuse errors rather than silent corruption,
// satisfying spec.md §8 property 3.
type Guard struct {
	Down Editor

	rootOpened bool
	finished   bool // CloseEdit or AbortEdit has run
	closed     bool // CloseEdit has run successfully
	openDirs   map[DirHandle]struct{}
	openFiles  map[FileHandle]struct{}
	// dirChildren counts each directory's currently-open children (both
	// directories and files), so CloseDirectory can verify bottom-up
	// closing. Incremented when a child opens under it, decremented when
	// that child closes.
	dirChildren map[DirHandle]int
	dirParent   map[DirHandle]DirHandle
	fileParent  map[FileHandle]DirHandle
}

// NewGuard constructs a Guard around down.
func NewGuard(down Editor) *Guard {
	return &Guard{
		Down:        down,
		openDirs:    map[DirHandle]struct{}{},
		openFiles:   map[FileHandle]struct{}{},
		dirChildren: map[DirHandle]int{},
		dirParent:   map[DirHandle]DirHandle{},
		fileParent:  map[FileHandle]DirHandle{},
	}
}

func (g *Guard) checkLive() error {
	if g.finished {
		return editorMisuse("operation called after close_edit/abort_edit")
	}
	return nil
}

func editorMisuse(msg string) error { return ErrProtocolMisuse(msg) }

func (g *Guard) SetTargetRevision(rev svnpath.Revision) error {
	if g.rootOpened {
		return editorMisuse("set_target_revision called after open_root")
	}
	if err := g.checkLive(); err != nil {
		return err
	}
	return g.Down.SetTargetRevision(rev)
}

func (g *Guard) OpenRoot(baseRev svnpath.Revision) (DirHandle, error) {
	if err := g.checkLive(); err != nil {
		return 0, err
	}
	if g.rootOpened {
		return 0, editorMisuse("open_root called more than once")
	}
	h, err := g.Down.OpenRoot(baseRev)
	if err != nil {
		return h, err
	}
	g.rootOpened = true
	g.openDirs[h] = struct{}{}
	return h, nil
}

func (g *Guard) requireOpenDir(h DirHandle) error {
	if !g.rootOpened {
		return editorMisuse("operation called before open_root")
	}
	if _, ok := g.openDirs[h]; !ok {
		return editorMisuse("unknown or already-closed directory handle")
	}
	return nil
}

func (g *Guard) DeleteEntry(path string, rev svnpath.Revision, parent DirHandle) error {
	if err := g.checkLive(); err != nil {
		return err
	}
	if err := g.requireOpenDir(parent); err != nil {
		return err
	}
	return g.Down.DeleteEntry(path, rev, parent)
}

func (g *Guard) AddDirectory(path string, parent DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (DirHandle, error) {
	if err := g.checkLive(); err != nil {
		return 0, err
	}
	if err := g.requireOpenDir(parent); err != nil {
		return 0, err
	}
	h, err := g.Down.AddDirectory(path, parent, copyFromPath, copyFromRev)
	if err != nil {
		return h, err
	}
	g.openDirs[h] = struct{}{}
	g.dirParent[h] = parent
	g.dirChildren[parent]++
	return h, nil
}

func (g *Guard) OpenDirectory(path string, parent DirHandle, baseRev svnpath.Revision) (DirHandle, error) {
	if err := g.checkLive(); err != nil {
		return 0, err
	}
	if err := g.requireOpenDir(parent); err != nil {
		return 0, err
	}
	h, err := g.Down.OpenDirectory(path, parent, baseRev)
	if err != nil {
		return h, err
	}
	g.openDirs[h] = struct{}{}
	g.dirParent[h] = parent
	g.dirChildren[parent]++
	return h, nil
}

func (g *Guard) ChangeDirProp(dir DirHandle, name string, value []byte) error {
	if err := g.checkLive(); err != nil {
		return err
	}
	if err := g.requireOpenDir(dir); err != nil {
		return err
	}
	return g.Down.ChangeDirProp(dir, name, value)
}

func (g *Guard) CloseDirectory(dir DirHandle) error {
	if err := g.checkLive(); err != nil {
		return err
	}
	if err := g.requireOpenDir(dir); err != nil {
		return err
	}
	if g.dirChildren[dir] != 0 {
		return editorMisuse("close_directory called before all children closed (not bottom-up)")
	}
	if err := g.Down.CloseDirectory(dir); err != nil {
		return err
	}
	delete(g.openDirs, dir)
	delete(g.dirChildren, dir)
	if parent, ok := g.dirParent[dir]; ok {
		g.dirChildren[parent]--
		delete(g.dirParent, dir)
	}
	return nil
}

func (g *Guard) AbsentDirectory(path string, parent DirHandle) error {
	if err := g.checkLive(); err != nil {
		return err
	}
	if err := g.requireOpenDir(parent); err != nil {
		return err
	}
	return g.Down.AbsentDirectory(path, parent)
}

func (g *Guard) AddFile(path string, parent DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (FileHandle, error) {
	if err := g.checkLive(); err != nil {
		return 0, err
	}
	if err := g.requireOpenDir(parent); err != nil {
		return 0, err
	}
	h, err := g.Down.AddFile(path, parent, copyFromPath, copyFromRev)
	if err != nil {
		return h, err
	}
	g.openFiles[h] = struct{}{}
	g.fileParent[h] = parent
	g.dirChildren[parent]++
	return h, nil
}

func (g *Guard) OpenFile(path string, parent DirHandle, baseRev svnpath.Revision) (FileHandle, error) {
	if err := g.checkLive(); err != nil {
		return 0, err
	}
	if err := g.requireOpenDir(parent); err != nil {
		return 0, err
	}
	h, err := g.Down.OpenFile(path, parent, baseRev)
	if err != nil {
		return h, err
	}
	g.openFiles[h] = struct{}{}
	g.fileParent[h] = parent
	g.dirChildren[parent]++
	return h, nil
}

func (g *Guard) requireOpenFile(h FileHandle) error {
	if _, ok := g.openFiles[h]; !ok {
		return editorMisuse("unknown or already-closed file handle")
	}
	return nil
}

func (g *Guard) ApplyTextDelta(file FileHandle, baseChecksum *svnpath.Checksum) (WindowSink, error) {
	if err := g.checkLive(); err != nil {
		return nil, err
	}
	if err := g.requireOpenFile(file); err != nil {
		return nil, err
	}
	return g.Down.ApplyTextDelta(file, baseChecksum)
}

func (g *Guard) ChangeFileProp(file FileHandle, name string, value []byte) error {
	if err := g.checkLive(); err != nil {
		return err
	}
	if err := g.requireOpenFile(file); err != nil {
		return err
	}
	return g.Down.ChangeFileProp(file, name, value)
}

func (g *Guard) CloseFile(file FileHandle, resultChecksum *svnpath.Checksum) error {
	if err := g.checkLive(); err != nil {
		return err
	}
	if err := g.requireOpenFile(file); err != nil {
		return err
	}
	if err := g.Down.CloseFile(file, resultChecksum); err != nil {
		return err
	}
	delete(g.openFiles, file)
	if parent, ok := g.fileParent[file]; ok {
		g.dirChildren[parent]--
		delete(g.fileParent, file)
	}
	return nil
}

func (g *Guard) AbsentFile(path string, parent DirHandle) error {
	if err := g.checkLive(); err != nil {
		return err
	}
	if err := g.requireOpenDir(parent); err != nil {
		return err
	}
	return g.Down.AbsentFile(path, parent)
}

func (g *Guard) CloseEdit() error {
	if g.finished {
		return editorMisuse("close_edit called more than once")
	}
	if len(g.openDirs) != 0 || len(g.openFiles) != 0 {
		return svnerr.New(svnerr.KindIncompleteEdit, "close_edit called with directories or files still open")
	}
	if err := g.Down.CloseEdit(); err != nil {
		return err
	}
	g.finished = true
	g.closed = true
	return nil
}

// AbortEdit is idempotent: calling it after a prior AbortEdit is a silent
// no-op that does not re-invoke the downstream AbortEdit. Calling it after
// a successful CloseEdit is a protocol misuse error.
func (g *Guard) AbortEdit() error {
	if g.closed {
		return editorMisuse("abort_edit called after close_edit")
	}
	if g.finished {
		return nil
	}
	g.finished = true
	return g.Down.AbortEdit()
}

var _ Editor = (*Guard)(nil)
