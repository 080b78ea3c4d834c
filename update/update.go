// Package update implements the update driver (C5): it consumes an
// update-report XML response and drives an editor.Editor, handling
// inline txdelta, fetch-file fallback, property directives, and
// opportunistic depth-1 PROPFIND pre-fetching (spec.md §4.5).
package update

import (
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/svncore/baseline"
	"github.com/rcowham/svncore/editor"
	"github.com/rcowham/svncore/ra"
	"github.com/rcowham/svncore/svndiff"
	"github.com/rcowham/svncore/svnerr"
	"github.com/rcowham/svncore/svnpath"
	"github.com/rcowham/svncore/tree"
	"github.com/rcowham/svncore/workingcopy"
)

// Driver parses one update-report response and drives Editor, per
// spec.md §4.5's state machine.
type Driver struct {
	Editor  editor.Editor
	Session *ra.Session
	WC      workingcopy.WorkingCopy
	Logger  *logrus.Logger

	// AnchorIsTarget is false when update-report was anchored above the
	// requested target for safety (spec.md §4.5: "unless the subtree
	// being updated is not the true target"), in which case checked-in
	// hrefs are not persisted.
	AnchorIsTarget bool

	// Props resolves depth-1 PROPFINDs opportunistically issued on added
	// directories (spec.md §4.5), overlapped with report parsing on the
	// session's secondary connection. Nil disables pre-fetching.
	Props *baseline.Resolver

	tree *tree.Tree
}

// New returns a Driver ready to parse one report body.
func New(ed editor.Editor, sess *ra.Session, wc workingcopy.WorkingCopy, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{Editor: ed, Session: sess, WC: wc, Logger: logger, AnchorIsTarget: true, tree: tree.New()}
}

// dirFrame tracks one open directory's state while parsing its element.
type dirFrame struct {
	handle editor.DirHandle
	path   string
}

// fileFrame tracks one open file's state while parsing its element.
type fileFrame struct {
	handle editor.FileHandle
	path   string
	sink   editor.WindowSink
}

// Run parses r as an update-report and drives d.Editor. If it returns
// before CloseEdit is called (an error, or a stream that ends early) it
// calls AbortEdit first; a stream that ends without the closing
// update-report tag is reported as incomplete-edit (spec.md §4.5).
func (d *Driver) Run(r io.Reader) (err error) {
	dec := xml.NewDecoder(r)
	closed := false
	defer func() {
		if !closed {
			if abortErr := d.Editor.AbortEdit(); abortErr != nil {
				d.Logger.WithError(abortErr).Warn("abort_edit failed during update cleanup")
			}
			if err == nil {
				err = svnerr.New(svnerr.KindIncompleteEdit, "update-report stream ended before close-edit")
			}
		}
	}()

	var dirStack []dirFrame
	var fileStack []fileFrame

	for {
		tok, tokErr := dec.Token()
		if tokErr == io.EOF {
			break
		}
		if tokErr != nil {
			return svnerr.Wrap(tokErr, svnerr.KindMalformedXML, "reading update-report token")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := d.handleStart(dec, t, &dirStack, &fileStack); err != nil {
				return err
			}
		case xml.EndElement:
			if err := d.handleEnd(t, &dirStack, &fileStack); err != nil {
				return err
			}
			if t.Name.Local == "update-report" {
				closed = true
				return d.Editor.CloseEdit()
			}
		}
	}
	return nil
}

func attr(se xml.StartElement, name string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func revAttr(se xml.StartElement, name string) svnpath.Revision {
	v, ok := attr(se, name)
	if !ok {
		return svnpath.Invalid
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return svnpath.Invalid
	}
	return svnpath.Revision(n)
}

func (d *Driver) currentDir(stack []dirFrame) (dirFrame, bool) {
	if len(stack) == 0 {
		return dirFrame{}, false
	}
	return stack[len(stack)-1], true
}

func (d *Driver) handleStart(dec *xml.Decoder, se xml.StartElement, dirStack *[]dirFrame, fileStack *[]fileFrame) error {
	switch se.Name.Local {
	case "update-report":
		return nil
	case "target-revision":
		rev, _ := attr(se, "rev")
		n, _ := strconv.ParseInt(rev, 10, 64)
		return d.Editor.SetTargetRevision(svnpath.Revision(n))
	case "open-directory":
		if len(*dirStack) == 0 {
			h, err := d.Editor.OpenRoot(revAttr(se, "rev"))
			if err != nil {
				return err
			}
			*dirStack = append(*dirStack, dirFrame{handle: h, path: ""})
			d.tree.Add("", true, false)
			return nil
		}
		parent, _ := d.currentDir(*dirStack)
		name, _ := attr(se, "name")
		path := svnpath.Join(parent.path, name)
		h, err := d.Editor.OpenDirectory(path, parent.handle, revAttr(se, "rev"))
		if err != nil {
			return err
		}
		*dirStack = append(*dirStack, dirFrame{handle: h, path: path})
		d.tree.Add(path, true, false)
		return nil
	case "add-directory":
		parent, _ := d.currentDir(*dirStack)
		name, _ := attr(se, "name")
		path := svnpath.Join(parent.path, name)
		copyFrom, hasCopy := attr(se, "copyfrom-path")
		copyRev := revAttr(se, "copyfrom-rev")
		h, err := d.Editor.AddDirectory(path, parent.handle, copyFrom, copyRev)
		if err != nil {
			return err
		}
		*dirStack = append(*dirStack, dirFrame{handle: h, path: path})
		d.tree.Add(path, true, hasCopy)
		return nil
	case "absent-directory":
		parent, _ := d.currentDir(*dirStack)
		name, _ := attr(se, "name")
		return d.Editor.AbsentDirectory(svnpath.Join(parent.path, name), parent.handle)
	case "open-file":
		parent, _ := d.currentDir(*dirStack)
		name, _ := attr(se, "name")
		path := svnpath.Join(parent.path, name)
		h, err := d.Editor.OpenFile(path, parent.handle, revAttr(se, "rev"))
		if err != nil {
			return err
		}
		*fileStack = append(*fileStack, fileFrame{handle: h, path: path})
		return nil
	case "add-file":
		parent, _ := d.currentDir(*dirStack)
		name, _ := attr(se, "name")
		path := svnpath.Join(parent.path, name)
		copyFrom, _ := attr(se, "copyfrom-path")
		copyRev := revAttr(se, "copyfrom-rev")
		h, err := d.Editor.AddFile(path, parent.handle, copyFrom, copyRev)
		if err != nil {
			return err
		}
		*fileStack = append(*fileStack, fileFrame{handle: h, path: path})
		return nil
	case "absent-file":
		parent, _ := d.currentDir(*dirStack)
		name, _ := attr(se, "name")
		return d.Editor.AbsentFile(svnpath.Join(parent.path, name), parent.handle)
	case "delete-entry":
		parent, _ := d.currentDir(*dirStack)
		name, _ := attr(se, "name")
		path := svnpath.Join(parent.path, name)
		if d.tree.Contains(path) {
			return svnerr.Newf(svnerr.KindUnexpectedElement, "illegal delete of opened subtree root %s", path)
		}
		return d.Editor.DeleteEntry(path, revAttr(se, "rev"), parent.handle)
	case "set-prop":
		name, _ := attr(se, "name")
		encoding, _ := attr(se, "encoding")
		raw, err := readCharData(dec)
		if err != nil {
			return err
		}
		value := raw
		if encoding == "base64" {
			decoded, derr := base64.StdEncoding.DecodeString(string(raw))
			if derr != nil {
				return svnerr.Wrap(derr, svnerr.KindMalformedXML, "decoding base64 property value")
			}
			value = decoded
		}
		return d.setCurrentProp(name, value, dirStack, fileStack)
	case "remove-prop":
		name, _ := attr(se, "name")
		return d.setCurrentProp(name, nil, dirStack, fileStack)
	case "txdelta":
		raw, err := readCharData(dec)
		if err != nil {
			return err
		}
		return d.applyInlineTxdelta(raw, fileStack)
	case "fetch-file":
		return d.fetchFile(fileStack)
	case "fetch-props":
		return nil // not acted on; added directories' properties are only fetched by prefetchDir
	case "checked-in":
		href, err := readCharData(dec)
		if err != nil {
			return err
		}
		if err := d.recordCheckedIn(string(href), dirStack, fileStack); err != nil {
			return err
		}
		if len(*fileStack) == 0 {
			if dir, ok := d.currentDir(*dirStack); ok {
				d.prefetchDir(dir.path, string(href))
			}
		}
		return nil
	default:
		return nil
	}
}

func (d *Driver) setCurrentProp(name string, value []byte, dirStack *[]dirFrame, fileStack *[]fileFrame) error {
	if len(*fileStack) > 0 {
		f := (*fileStack)[len(*fileStack)-1]
		return d.Editor.ChangeFileProp(f.handle, name, value)
	}
	dir, ok := d.currentDir(*dirStack)
	if !ok {
		return svnerr.New(svnerr.KindUnexpectedElement, "property directive outside any open directory")
	}
	return d.Editor.ChangeDirProp(dir.handle, name, value)
}

func (d *Driver) recordCheckedIn(href string, dirStack *[]dirFrame, fileStack *[]fileFrame) error {
	if !d.AnchorIsTarget || d.WC == nil {
		return nil
	}
	var path string
	if len(*fileStack) > 0 {
		path = (*fileStack)[len(*fileStack)-1].path
	} else if dir, ok := d.currentDir(*dirStack); ok {
		path = dir.path
	}
	return d.WC.PushWcProp(path, "svn:wc:ra_dav:version-url", href)
}

func (d *Driver) applyInlineTxdelta(b64 []byte, fileStack *[]fileFrame) error {
	if len(*fileStack) == 0 {
		return svnerr.New(svnerr.KindUnexpectedElement, "txdelta outside any open file")
	}
	idx := len(*fileStack) - 1
	f := &(*fileStack)[idx]
	if f.sink == nil {
		sink, err := d.Editor.ApplyTextDelta(f.handle, nil)
		if err != nil {
			return err
		}
		f.sink = sink
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(b64)))
	n, err := base64.StdEncoding.Decode(raw, b64)
	if err != nil {
		return svnerr.Wrap(err, svnerr.KindMalformedXML, "decoding inline txdelta")
	}
	dec, err := svndiff.NewDecoder(&rawReader{raw[:n]}, svndiff.Version1)
	if err != nil {
		return err
	}
	for {
		win, werr := dec.Next()
		if werr == io.EOF {
			break
		}
		if werr != nil {
			return werr
		}
		if err := f.sink.PutWindow(convertWindow(win)); err != nil {
			return err
		}
	}
	return nil
}

func convertWindow(w *svndiff.Window) editor.DeltaWindow {
	instrs := make([]editor.DeltaInstruction, len(w.Instructions))
	for i, in := range w.Instructions {
		instrs[i] = editor.DeltaInstruction{Kind: byte(in.Kind), Offset: in.Offset, Length: in.Length}
	}
	return editor.DeltaWindow{
		SourceOffset: w.SourceOffset,
		SourceLength: w.SourceLength,
		TargetLength: w.TargetLength,
		Instructions: instrs,
		NewData:      w.NewData,
	}
}

// fetchFile issues a GET against the current file's version URL when the
// server used the legacy non-"send-all" report shape (spec.md §4.5).
func (d *Driver) fetchFile(fileStack *[]fileFrame) error {
	if len(*fileStack) == 0 || d.Session == nil {
		return nil
	}
	idx := len(*fileStack) - 1
	f := &(*fileStack)[idx]
	versionURL, ok := "", false
	if d.WC != nil {
		versionURL, ok = d.WC.WcProp(f.path, "svn:wc:ra_dav:version-url")
	}
	if !ok {
		return svnerr.Newf(svnerr.KindIncompleteData, "no version URL cached for fetch-file on %s", f.path)
	}
	req, err := d.Session.NewRequest(http.MethodGet, versionURL, nil, nil)
	if err != nil {
		return err
	}
	resp, err := d.Session.FollowReadRedirect(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return svnerr.Wrap(err, svnerr.KindIncompleteData, "reading fetch-file response")
	}
	if f.sink == nil {
		sink, err := d.Editor.ApplyTextDelta(f.handle, nil)
		if err != nil {
			return err
		}
		f.sink = sink
	}
	if resp.Header.Get("Content-Type") == "application/vnd.svn-svndiff" {
		dec, err := svndiff.NewDecoder(&rawReader{body}, svndiff.Version1)
		if err != nil {
			return err
		}
		for {
			win, werr := dec.Next()
			if werr == io.EOF {
				break
			}
			if werr != nil {
				return werr
			}
			if err := f.sink.PutWindow(convertWindow(win)); err != nil {
				return err
			}
		}
		return nil
	}
	kind, _ := filetype.Match(body)
	d.Logger.WithField("detected", kind.MIME.Value).Debug("fetch-file: sniffed content type")
	return f.sink.PutWindow(editor.DeltaWindow{
		TargetLength: uint64(len(body)),
		Instructions: []editor.DeltaInstruction{{Kind: 2, Length: uint64(len(body))}},
		NewData:      body,
	})
}

func (d *Driver) handleEnd(ee xml.EndElement, dirStack *[]dirFrame, fileStack *[]fileFrame) error {
	switch ee.Name.Local {
	case "add-file", "open-file":
		if len(*fileStack) == 0 {
			return svnerr.New(svnerr.KindUnexpectedElement, "unmatched file close tag")
		}
		f := (*fileStack)[len(*fileStack)-1]
		*fileStack = (*fileStack)[:len(*fileStack)-1]
		if f.sink != nil {
			if err := f.sink.Close(); err != nil {
				return err
			}
		}
		return d.Editor.CloseFile(f.handle, nil)
	case "add-directory", "open-directory":
		if len(*dirStack) == 0 {
			return svnerr.New(svnerr.KindUnexpectedElement, "unmatched directory close tag")
		}
		dir := (*dirStack)[len(*dirStack)-1]
		*dirStack = (*dirStack)[:len(*dirStack)-1]
		return d.Editor.CloseDirectory(dir.handle)
	default:
		return nil
	}
}

func readCharData(dec *xml.Decoder) ([]byte, error) {
	var out []byte
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, svnerr.Wrap(err, svnerr.KindMalformedXML, "reading character data")
		}
		switch t := tok.(type) {
		case xml.CharData:
			out = append(out, t...)
		case xml.EndElement:
			return out, nil
		}
	}
}

// rawReader adapts a byte slice to io.Reader for svndiff.NewDecoder,
// which wants a bufio-friendly stream rather than a fixed buffer.
type rawReader struct{ b []byte }

func (r *rawReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
