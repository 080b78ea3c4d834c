package main

// svncommit drives the commit driver against a live RA session from a
// declarative YAML edit script (adds/deletes/copies/property changes),
// printing the revision the server assigns: a single-purpose tool built
// directly around one package's driving API, flags and all defined in
// main().

import (
	"fmt"
	"os"
	"time"

	"github.com/perforce/p4prometheus/version"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
	yaml "gopkg.in/yaml.v2"

	"github.com/rcowham/svncore/baseline"
	"github.com/rcowham/svncore/commit"
	"github.com/rcowham/svncore/config"
	"github.com/rcowham/svncore/editor"
	"github.com/rcowham/svncore/ra"
	"github.com/rcowham/svncore/svnpath"
	"github.com/rcowham/svncore/workingcopy"
)

// PropEdit sets name to value, or removes it when Remove is true.
type PropEdit struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Remove bool   `yaml:"remove"`
}

// AddEntry adds a new file or directory at Path, optionally as a copy of
// CopyFrom@CopyFromRev.
type AddEntry struct {
	Path        string     `yaml:"path"`
	IsDir       bool       `yaml:"is_dir"`
	Content     string     `yaml:"content"`
	CopyFrom    string     `yaml:"copy_from"`
	CopyFromRev int64      `yaml:"copy_from_rev"`
	Props       []PropEdit `yaml:"props"`
}

// PropChangeEntry changes properties on an already-existing resource.
type PropChangeEntry struct {
	Path  string     `yaml:"path"`
	IsDir bool       `yaml:"is_dir"`
	Props []PropEdit `yaml:"props"`
}

// EditScript is one commit's worth of tree mutations, in the order
// spec.md §4.6 expects them applied: property-only changes and content
// changes are independent of each other, but deletes, adds and copies
// below share the tree.Tree valid-targets tracking the commit driver
// itself keeps.
type EditScript struct {
	LogMessage  string            `yaml:"log_message"`
	Adds        []AddEntry        `yaml:"adds"`
	Deletes     []string          `yaml:"deletes"`
	PropChanges []PropChangeEntry `yaml:"prop_changes"`
}

func loadEditScript(filename string) (*EditScript, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	var script EditScript
	if err := yaml.Unmarshal(raw, &script); err != nil {
		return nil, fmt.Errorf("invalid edit script %v: %v", filename, err)
	}
	return &script, nil
}

// dirHandles tracks every directory handle opened or added so far during
// the drive, keyed by repository-relative path ("" is the root).
type dirHandles struct {
	ed     editor.Editor
	byPath map[string]editor.DirHandle
	opened []editor.DirHandle // opened/added, in open order, for bottom-up close
}

func newDirHandles(ed editor.Editor, root editor.DirHandle) *dirHandles {
	return &dirHandles{ed: ed, byPath: map[string]editor.DirHandle{"": root}}
}

// ensure returns the handle for path, opening every not-yet-seen ancestor
// directory (assumed to already exist on the server) along the way.
func (h *dirHandles) ensure(path string) (editor.DirHandle, error) {
	if handle, ok := h.byPath[path]; ok {
		return handle, nil
	}
	parent, err := h.ensure(svnpath.Dir(path))
	if err != nil {
		return 0, err
	}
	handle, err := h.ed.OpenDirectory(path, parent, svnpath.Invalid)
	if err != nil {
		return 0, err
	}
	h.byPath[path] = handle
	h.opened = append(h.opened, handle)
	return handle, nil
}

// add registers a freshly added directory's handle without reopening it.
func (h *dirHandles) add(path string, handle editor.DirHandle) {
	h.byPath[path] = handle
	h.opened = append(h.opened, handle)
}

// closeAll closes every tracked directory bottom-up (deepest first).
func (h *dirHandles) closeAll() error {
	for i := len(h.opened) - 1; i >= 0; i-- {
		if err := h.ed.CloseDirectory(h.opened[i]); err != nil {
			return err
		}
	}
	return nil
}

func applyProps(ed editor.Editor, isDir bool, dirHandle editor.DirHandle, fileHandle editor.FileHandle, props []PropEdit) error {
	for _, p := range props {
		var value []byte
		if !p.Remove {
			value = []byte(p.Value)
		}
		var err error
		if isDir {
			err = ed.ChangeDirProp(dirHandle, p.Name, value)
		} else {
			err = ed.ChangeFileProp(fileHandle, p.Name, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func runAdd(ed editor.Editor, dirs *dirHandles, a AddEntry) error {
	parent, err := dirs.ensure(svnpath.Dir(a.Path))
	if err != nil {
		return err
	}
	copyRev := svnpath.Invalid
	if a.CopyFrom != "" {
		copyRev = svnpath.Revision(a.CopyFromRev)
	}
	if a.IsDir {
		h, err := ed.AddDirectory(a.Path, parent, a.CopyFrom, copyRev)
		if err != nil {
			return err
		}
		if err := applyProps(ed, true, h, 0, a.Props); err != nil {
			return err
		}
		dirs.add(a.Path, h)
		return nil
	}
	h, err := ed.AddFile(a.Path, parent, a.CopyFrom, copyRev)
	if err != nil {
		return err
	}
	if err := applyProps(ed, false, 0, h, a.Props); err != nil {
		return err
	}
	if a.Content != "" {
		sink, err := ed.ApplyTextDelta(h, nil)
		if err != nil {
			return err
		}
		content := []byte(a.Content)
		if err := sink.PutWindow(editor.DeltaWindow{
			TargetLength: uint64(len(content)),
			Instructions: []editor.DeltaInstruction{{Kind: 2, Length: uint64(len(content))}},
			NewData:      content,
		}); err != nil {
			return err
		}
		if err := sink.Close(); err != nil {
			return err
		}
	}
	return ed.CloseFile(h, nil)
}

func runDelete(ed editor.Editor, dirs *dirHandles, path string) error {
	parent, err := dirs.ensure(svnpath.Dir(path))
	if err != nil {
		return err
	}
	return ed.DeleteEntry(path, svnpath.Invalid, parent)
}

func runPropChange(ed editor.Editor, dirs *dirHandles, p PropChangeEntry) error {
	parent, err := dirs.ensure(svnpath.Dir(p.Path))
	if err != nil {
		return err
	}
	if p.IsDir {
		h, err := ed.OpenDirectory(p.Path, parent, svnpath.Invalid)
		if err != nil {
			return err
		}
		if err := applyProps(ed, true, h, 0, p.Props); err != nil {
			return err
		}
		dirs.add(p.Path, h)
		return nil
	}
	h, err := ed.OpenFile(p.Path, parent, svnpath.Invalid)
	if err != nil {
		return err
	}
	if err := applyProps(ed, false, 0, h, p.Props); err != nil {
		return err
	}
	return ed.CloseFile(h, nil)
}

func main() {
	var (
		configFile = kingpin.Arg(
			"config",
			"YAML config file (repository_url, checkout, auth, auto_props).",
		).Required().String()
		scriptFile = kingpin.Arg(
			"script",
			"YAML edit script to commit (log_message/adds/deletes/prop_changes).",
		).Required().String()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Short('d').Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svncommit")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Drives a commit against a Subversion repository from a YAML edit script\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("svncommit"))
	logger.Infof("Starting %s, config: %v, script: %v", startTime, *configFile, *scriptFile)

	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	script, err := loadEditScript(*scriptFile)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	sess := ra.New(cfg.RepositoryURL, nil, &ra.StaticAuth{Username: cfg.Auth.Username, Password: cfg.Auth.Password}, logger)
	defer sess.Close()
	props := baseline.New(sess)
	wc := workingcopy.NewMemory()

	d := commit.New(sess, props, wc, logger)
	d.LogMessage = script.LogMessage
	if len(cfg.Rules) > 0 {
		d.AutoProps = cfg
	}
	var result commit.Info
	d.CommitCallback = func(i commit.Info) { result = i }

	ed := editor.NewGuard(d)
	root, err := ed.OpenRoot(svnpath.Invalid)
	if err != nil {
		logger.Fatalf("open_root failed: %v", err)
	}
	dirs := newDirHandles(ed, root)

	for _, a := range script.Adds {
		if err := runAdd(ed, dirs, a); err != nil {
			logger.Fatalf("add %s failed: %v", a.Path, err)
		}
	}
	for _, path := range script.Deletes {
		if err := runDelete(ed, dirs, path); err != nil {
			logger.Fatalf("delete %s failed: %v", path, err)
		}
	}
	for _, p := range script.PropChanges {
		if err := runPropChange(ed, dirs, p); err != nil {
			logger.Fatalf("prop change %s failed: %v", p.Path, err)
		}
	}

	if err := dirs.closeAll(); err != nil {
		logger.Fatalf("close_directory failed: %v", err)
	}
	if err := ed.CloseDirectory(root); err != nil {
		logger.Fatalf("close_directory (root) failed: %v", err)
	}
	if err := ed.CloseEdit(); err != nil {
		logger.Fatalf("close_edit failed: %v", err)
	}

	logger.Infof("Committed revision %d (author=%s date=%s)", result.Revision, result.Author, result.Date)
	fmt.Println(int64(result.Revision))
}
