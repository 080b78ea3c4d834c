// Package tracelog implements a structured, line-oriented recorder of
// editor events: the sequence of editor.Editor calls made during one
// drive, so that cmd/svnupdate (with --trace) can capture a drive and
// cmd/svngraph can later replay or render it without re-running the
// network exchange.
package tracelog

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rcowham/svncore/svnerr"
)

// Event is one recorded editor call.
type Event struct {
	Op     string // e.g. "open-root", "open-dir", "add-dir", "open-file", "add-file", "delete", "close-edit"
	Path   string
	IsDir  bool
	Fields map[string]string
}

// Recorder writes Events to an underlying io.Writer as they occur. It has
// no buffering of its own beyond whatever the given io.Writer provides —
// callers wrap it in a *bufio.Writer for high-volume drives.
type Recorder struct {
	w io.Writer
}

// NewRecorder wraps w.
func NewRecorder(w io.Writer) *Recorder { return &Recorder{w: w} }

// SetWriter redirects subsequent writes to w.
func (r *Recorder) SetWriter(w io.Writer) { r.w = w }

// WriteHeader writes the trace's one-line preamble identifying what kind
// of drive (update/commit) produced it and against what target.
func (r *Recorder) WriteHeader(kind, target string) error {
	_, err := fmt.Fprintf(r.w, "# svncore-trace kind=%s target=%s\n", kind, target)
	return err
}

// WriteEvent appends one event line: "EV op path dir=true|false k1=v1
// k2=v2 ...", with the Fields entries written after dir= in sorted key
// order for deterministic output.
func (r *Recorder) WriteEvent(ev Event) error {
	var b strings.Builder
	b.WriteString("EV ")
	b.WriteString(ev.Op)
	b.WriteString(" ")
	b.WriteString(quoteField(ev.Path))
	b.WriteString(" dir=")
	b.WriteString(strconv.FormatBool(ev.IsDir))
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(quoteField(ev.Fields[k]))
	}
	b.WriteString("\n")
	_, err := io.WriteString(r.w, b.String())
	return err
}

func quoteField(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\n\"") {
		return strconv.Quote(s)
	}
	return s
}

// Reader parses a trace written by Recorder back into Events, used by
// cmd/svngraph to rebuild a tree.Tree for rendering without re-running
// the drive.
type Reader struct {
	sc     *bufio.Scanner
	Kind   string
	Target string
}

// NewReader wraps r, reading (and consuming) the header line immediately.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	rd := &Reader{sc: sc}
	if !sc.Scan() {
		return nil, svnerr.New(svnerr.KindIncompleteData, "empty trace file")
	}
	line := sc.Text()
	if !strings.HasPrefix(line, "# svncore-trace ") {
		return nil, svnerr.Newf(svnerr.KindMalformedXML, "not a svncore trace file: %q", line)
	}
	for _, tok := range strings.Fields(strings.TrimPrefix(line, "# svncore-trace ")) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "kind":
			rd.Kind = kv[1]
		case "target":
			rd.Target = kv[1]
		}
	}
	return rd, nil
}

// Next returns the next Event, or (nil, io.EOF) at end of stream.
func (r *Reader) Next() (*Event, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return parseEventLine(r.sc.Text())
}

func parseEventLine(line string) (*Event, error) {
	fields := splitQuoted(line)
	if len(fields) < 3 || fields[0] != "EV" {
		return nil, svnerr.Newf(svnerr.KindMalformedXML, "malformed trace line: %q", line)
	}
	ev := &Event{Op: fields[1], Path: unquoteField(fields[2]), Fields: map[string]string{}}
	for _, tok := range fields[3:] {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if kv[0] == "dir" {
			ev.IsDir = kv[1] == "true"
			continue
		}
		ev.Fields[kv[0]] = unquoteField(kv[1])
	}
	return ev, nil
}

func unquoteField(s string) string {
	if s == `""` {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

// splitQuoted splits on spaces while keeping double-quoted spans intact.
func splitQuoted(line string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ' ' && !inQuotes:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
