package main

// svnupdate drives one update-report exchange against a Subversion
// repository's WebDAV/DeltaV endpoint and prints a trace of the tree it
// receives, optionally rendering the resulting tree shape as a graphviz
// dot file and/or PNG.

import (
	"bytes"
	"fmt"
	"io"
	_ "net/http/pprof" // profiling only
	"os"
	"time"

	graphviz "github.com/goccy/go-graphviz"
	"github.com/perforce/p4prometheus/version"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/svncore/baseline"
	"github.com/rcowham/svncore/config"
	"github.com/rcowham/svncore/editor"
	"github.com/rcowham/svncore/ra"
	"github.com/rcowham/svncore/report"
	"github.com/rcowham/svncore/svnpath"
	"github.com/rcowham/svncore/tracelog"
	"github.com/rcowham/svncore/tree"
	"github.com/rcowham/svncore/update"
	"github.com/rcowham/svncore/workingcopy"
)

// recordingEditor builds a tree.Tree of everything the update driver
// opens/adds/deletes and, if rec is non-nil, mirrors each call as a
// tracelog.Event — the capture cmd/svngraph later renders. Embeds
// editor.DefaultEditor for handle allocation and every method this tool
// has no use for, the same "embed and override selected methods" shape
// spec.md §4.3 describes for building a concrete editor.
type recordingEditor struct {
	editor.DefaultEditor
	tree *tree.Tree
	rec  *tracelog.Recorder
}

func newRecordingEditor(rec *tracelog.Recorder) *recordingEditor {
	return &recordingEditor{tree: tree.New(), rec: rec}
}

func (e *recordingEditor) emit(ev tracelog.Event) {
	if e.rec == nil {
		return
	}
	if err := e.rec.WriteEvent(ev); err != nil {
		logrus.StandardLogger().WithError(err).Warn("failed to write trace event")
	}
}

func (e *recordingEditor) OpenRoot(baseRev svnpath.Revision) (editor.DirHandle, error) {
	h, err := e.DefaultEditor.OpenRoot(baseRev)
	if err != nil {
		return h, err
	}
	e.tree.Add("", true, false)
	e.emit(tracelog.Event{Op: "open-root", IsDir: true})
	return h, nil
}

func (e *recordingEditor) AddDirectory(path string, parent editor.DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (editor.DirHandle, error) {
	h, err := e.DefaultEditor.AddDirectory(path, parent, copyFromPath, copyFromRev)
	if err != nil {
		return h, err
	}
	e.tree.Add(path, true, editor.HasCopyFrom(copyFromPath, copyFromRev))
	e.emit(tracelog.Event{Op: "add-dir", Path: path, IsDir: true, Fields: map[string]string{"copyfrom-path": copyFromPath}})
	return h, nil
}

func (e *recordingEditor) OpenDirectory(path string, parent editor.DirHandle, baseRev svnpath.Revision) (editor.DirHandle, error) {
	h, err := e.DefaultEditor.OpenDirectory(path, parent, baseRev)
	if err != nil {
		return h, err
	}
	e.tree.Add(path, true, false)
	e.emit(tracelog.Event{Op: "open-dir", Path: path, IsDir: true})
	return h, nil
}

func (e *recordingEditor) DeleteEntry(path string, rev svnpath.Revision, parent editor.DirHandle) error {
	e.tree.Delete(path)
	e.emit(tracelog.Event{Op: "delete", Path: path})
	return e.DefaultEditor.DeleteEntry(path, rev, parent)
}

func (e *recordingEditor) AddFile(path string, parent editor.DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (editor.FileHandle, error) {
	h, err := e.DefaultEditor.AddFile(path, parent, copyFromPath, copyFromRev)
	if err != nil {
		return h, err
	}
	e.tree.Add(path, false, false)
	e.emit(tracelog.Event{Op: "add-file", Path: path, Fields: map[string]string{"copyfrom-path": copyFromPath}})
	return h, nil
}

func (e *recordingEditor) OpenFile(path string, parent editor.DirHandle, baseRev svnpath.Revision) (editor.FileHandle, error) {
	h, err := e.DefaultEditor.OpenFile(path, parent, baseRev)
	if err != nil {
		return h, err
	}
	e.tree.Add(path, false, false)
	e.emit(tracelog.Event{Op: "open-file", Path: path})
	return h, nil
}

func (e *recordingEditor) CloseEdit() error {
	e.emit(tracelog.Event{Op: "close-edit"})
	return e.DefaultEditor.CloseEdit()
}

var _ editor.Editor = (*recordingEditor)(nil)

func main() {
	var (
		configFile = kingpin.Arg(
			"config",
			"YAML config file (repository_url, checkout, auth, auto_props).",
		).Required().String()
		path = kingpin.Flag(
			"path",
			"Repository-relative path to update.",
		).Default("").String()
		revision = kingpin.Flag(
			"revision",
			"Revision to update to (default HEAD).",
		).Int64()
		recursive = kingpin.Flag(
			"recursive",
			"Update the full subtree rather than just the target.",
		).Default("true").Bool()
		dotFile = kingpin.Flag(
			"dot",
			"Write the updated tree's shape as a graphviz dot file.",
		).String()
		pngFile = kingpin.Flag(
			"png",
			"Render the updated tree's shape to a PNG file.",
		).String()
		traceFile = kingpin.Flag(
			"trace",
			"Capture the drive as a tracelog file, for cmd/svngraph.",
		).String()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Short('d').Int()
		doProfile = kingpin.Flag(
			"profile",
			"Enable memory profiling (writes profile output to a temporary directory, whose path is logged).",
		).Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svnupdate")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Drives an update-report exchange against a Subversion repository\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if *doProfile {
		defer profile.Start(profile.MemProfile).Stop()
	}

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("svnupdate"))
	logger.Infof("Starting %s, config: %v", startTime, *configFile)

	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	sess := ra.New(cfg.RepositoryURL, nil, &ra.StaticAuth{Username: cfg.Auth.Username, Password: cfg.Auth.Password}, logger)
	defer sess.Close()
	props := baseline.New(sess)
	wc := workingcopy.NewMemory()

	targetRev := svnpath.Invalid
	if *revision != 0 {
		targetRev = svnpath.Revision(*revision)
	}

	rb, err := report.NewBuilder(report.Options{
		SrcPath:        *path,
		TargetRevision: targetRev,
		Recursive:      *recursive,
	})
	if err != nil {
		logger.Fatalf("failed to build report: %v", err)
	}
	if err := rb.SetPath("", svnpath.Empty, true); err != nil {
		logger.Fatalf("failed to write report entry: %v", err)
	}
	reportFile, err := rb.FinishReport()
	if err != nil {
		logger.Fatalf("failed to finish report: %v", err)
	}
	defer rb.Close()

	reportBody, err := io.ReadAll(reportFile)
	if err != nil {
		logger.Fatalf("failed to read report: %v", err)
	}

	req, err := sess.NewRequest("REPORT", "/"+*path, reportBody, map[string]string{"Content-Type": "text/xml; charset=utf-8"})
	if err != nil {
		logger.Fatalf("failed to build REPORT request: %v", err)
	}
	resp, err := sess.Do(req)
	if err != nil {
		logger.Fatalf("REPORT request failed: %v", err)
	}
	defer resp.Body.Close()

	var traceOut *os.File
	var rec *tracelog.Recorder
	if *traceFile != "" {
		traceOut, err = os.Create(*traceFile)
		if err != nil {
			logger.Fatalf("failed to create trace file: %v", err)
		}
		defer traceOut.Close()
		rec = tracelog.NewRecorder(traceOut)
		if err := rec.WriteHeader("update", cfg.RepositoryURL+"/"+*path); err != nil {
			logger.Fatalf("failed to write trace header: %v", err)
		}
	}

	rootEditor := newRecordingEditor(rec)
	guarded := editor.NewGuard(rootEditor)
	traced := editor.NewTraceEditor(guarded, os.Stdout)

	d := update.New(traced, sess, wc, logger)
	d.Props = props
	if err := d.Run(resp.Body); err != nil {
		logger.Fatalf("update failed: %v", err)
	}

	if *dotFile != "" || *pngFile != "" {
		graph := rootEditor.tree.ToDot("svnupdate")
		if *dotFile != "" {
			if err := os.WriteFile(*dotFile, []byte(graph.String()), 0644); err != nil {
				logger.Errorf("failed to write dot file: %v", err)
			}
		}
		if *pngFile != "" {
			if err := renderPNG(graph.String(), *pngFile); err != nil {
				logger.Errorf("failed to render PNG: %v", err)
			}
		}
	}
	logger.Infof("Update complete")
}

func renderPNG(dotSrc, outFile string) error {
	gv := graphviz.New()
	defer gv.Close()
	graph, err := graphviz.ParseBytes([]byte(dotSrc))
	if err != nil {
		return fmt.Errorf("parsing dot source: %w", err)
	}
	defer graph.Close()
	var buf bytes.Buffer
	if err := gv.Render(graph, graphviz.PNG, &buf); err != nil {
		return fmt.Errorf("rendering PNG: %w", err)
	}
	return os.WriteFile(outFile, buf.Bytes(), 0644)
}
