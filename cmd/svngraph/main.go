package main

// svngraph reads a tracelog capture of a prior svnupdate drive (written by
// its --trace flag) and renders the tree it describes to a graphviz dot file and/or PNG.

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	graphviz "github.com/goccy/go-graphviz"
	"github.com/perforce/p4prometheus/version"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/svncore/tracelog"
	"github.com/rcowham/svncore/tree"
)

// rebuildTree replays a tracelog capture's events into a fresh tree.Tree,
// the same shape the capturing side (cmd/svnupdate's recordingEditor)
// built it with.
func rebuildTree(r io.Reader) (*tree.Tree, string, error) {
	rd, err := tracelog.NewReader(r)
	if err != nil {
		return nil, "", err
	}
	t := tree.New()
	for {
		ev, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", err
		}
		switch ev.Op {
		case "open-root":
			t.Add("", true, false)
		case "add-dir":
			t.Add(ev.Path, true, ev.Fields["copyfrom-path"] != "")
		case "open-dir":
			t.Add(ev.Path, true, false)
		case "add-file":
			t.Add(ev.Path, false, false)
		case "open-file":
			t.Add(ev.Path, false, false)
		case "delete":
			t.Delete(ev.Path)
		}
	}
	return t, rd.Target, nil
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

func main() {
	var (
		traceFile = kingpin.Arg(
			"trace",
			"Tracelog capture to render (written by cmd/svnupdate's --trace flag).",
		).Required().String()
		dotFile = kingpin.Flag(
			"dot",
			"Graphviz dot file to write.",
		).Short('o').String()
		pngFile = kingpin.Flag(
			"png",
			"PNG file to render.",
		).String()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svngraph")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Renders a tracelog capture's tree shape to graphviz dot/PNG\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("svngraph"))
	logger.Infof("Starting %s, trace: %v", startTime, *traceFile)

	f, err := os.Open(*traceFile)
	if err != nil {
		logger.Fatalf("failed to open trace file: %v", err)
	}
	defer f.Close()

	t, target, err := rebuildTree(f)
	if err != nil {
		logger.Fatalf("failed to parse trace file: %v", err)
	}
	logger.Infof("Rebuilt tree for %s", target)

	graph := t.ToDot(target)
	if *dotFile != "" {
		if err := os.WriteFile(*dotFile, []byte(graph.String()), 0644); err != nil {
			logger.Fatalf("failed to write dot file: %v", err)
		}
	}
	if *pngFile != "" {
		if err := renderPNG(graph.String(), *pngFile); err != nil {
			logger.Fatalf("failed to render PNG: %v", err)
		}
	}
	if *dotFile == "" && *pngFile == "" {
		fmt.Println(graph.String())
	}
}
