// Package report implements the report builder (C4): it serializes the
// working copy's "what I have" statement as XML for the server's REPORT
// method, streaming entries to a temp file so arbitrarily large reports
// never buffer in memory (spec.md §4.4).
package report

import (
	"encoding/xml"
	"io"
	"os"

	"github.com/rcowham/svncore/svnerr"
	"github.com/rcowham/svncore/svnpath"
)

// Options are the report's top-level flags and addressing fields
// (spec.md §4.4).
type Options struct {
	SrcPath         string
	TargetRevision  svnpath.Revision // svnpath.Invalid if unset
	UpdateTarget    string           // leaf name when updating a single file
	DstPath         string           // set for switch operations
	Recursive       bool
	IgnoreAncestry  bool
	ResourceWalk    bool
}

// Builder accumulates report entries into a temp file via set_path/
// link_path/delete_path, driven by the caller (typically the working
// copy's status walker).
type Builder struct {
	opts Options
	f    *os.File
	enc  *xml.Encoder
	done bool
}

// NewBuilder opens a fresh temp file and writes the report's opening
// tags and fixed fields.
func NewBuilder(opts Options) (*Builder, error) {
	f, err := os.CreateTemp("", "svncore-report-*.xml")
	if err != nil {
		return nil, svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "creating report scratch file")
	}
	b := &Builder{opts: opts, f: f, enc: xml.NewEncoder(f)}
	if _, err := io.WriteString(f, `<?xml version="1.0" encoding="utf-8"?>`+"\n"); err != nil {
		b.cleanup()
		return nil, svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "writing report header")
	}
	if err := b.writeStart(); err != nil {
		b.cleanup()
		return nil, err
	}
	return b, nil
}

func (b *Builder) writeStart() error {
	_, err := io.WriteString(b.f, "<S:update-report xmlns:S=\"http://subversion.tigris.org/xmlns/\">\n")
	if err != nil {
		return svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "writing report open tag")
	}
	if err := b.writeElem("S:src-path", b.opts.SrcPath); err != nil {
		return err
	}
	if b.opts.TargetRevision.IsValid() {
		if err := b.writeElem("S:target-revision", itoa(b.opts.TargetRevision)); err != nil {
			return err
		}
	}
	if b.opts.UpdateTarget != "" {
		if err := b.writeElem("S:update-target", b.opts.UpdateTarget); err != nil {
			return err
		}
	}
	if b.opts.DstPath != "" {
		if err := b.writeElem("S:dst-path", b.opts.DstPath); err != nil {
			return err
		}
	}
	if !b.opts.Recursive {
		if err := b.writeElem("S:recursive", "no"); err != nil {
			return err
		}
	}
	if b.opts.IgnoreAncestry {
		if err := b.writeElem("S:ignore-ancestry", "yes"); err != nil {
			return err
		}
	}
	if b.opts.ResourceWalk {
		if err := b.writeElem("S:resource-walk", "yes"); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) writeElem(name, value string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := b.enc.EncodeToken(start); err != nil {
		return wrapWriteErr(err)
	}
	if err := b.enc.EncodeToken(xml.CharData(value)); err != nil {
		return wrapWriteErr(err)
	}
	if err := b.enc.EncodeToken(start.End()); err != nil {
		return wrapWriteErr(err)
	}
	return b.enc.Flush()
}

func wrapWriteErr(err error) error {
	return svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "writing report entry")
}

func itoa(r svnpath.Revision) string {
	// avoid importing strconv in two places for one conversion
	if r == 0 {
		return "0"
	}
	neg := r < 0
	n := int64(r)
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SetPath records "I have path at revision rev" (spec.md §4.4).
func (b *Builder) SetPath(path string, rev svnpath.Revision, startEmpty bool) error {
	start := xml.StartElement{Name: xml.Name{Local: "S:entry"}, Attr: []xml.Attr{
		{Name: xml.Name{Local: "rev"}, Value: itoa(rev)},
	}}
	if startEmpty {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "start-empty"}, Value: "true"})
	}
	return b.writeEntry(start, path)
}

// LinkPath records "path is switched to linkpath at rev".
func (b *Builder) LinkPath(path, linkpath string, rev svnpath.Revision, startEmpty bool) error {
	start := xml.StartElement{Name: xml.Name{Local: "S:entry"}, Attr: []xml.Attr{
		{Name: xml.Name{Local: "rev"}, Value: itoa(rev)},
		{Name: xml.Name{Local: "linkpath"}, Value: linkpath},
	}}
	if startEmpty {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "start-empty"}, Value: "true"})
	}
	return b.writeEntry(start, path)
}

// DeletePath records "I do not have path".
func (b *Builder) DeletePath(path string) error {
	start := xml.StartElement{Name: xml.Name{Local: "S:missing"}}
	return b.writeEntry(start, path)
}

func (b *Builder) writeEntry(start xml.StartElement, path string) error {
	if b.done {
		return svnerr.New(svnerr.KindRequestCreationFailed, "report already finished")
	}
	if err := b.enc.EncodeToken(start); err != nil {
		return wrapWriteErr(err)
	}
	if err := b.enc.EncodeToken(xml.CharData(path)); err != nil {
		return wrapWriteErr(err)
	}
	if err := b.enc.EncodeToken(start.End()); err != nil {
		return wrapWriteErr(err)
	}
	return b.enc.Flush()
}

// FinishReport closes the report body and returns a seeked-to-start
// reader over the completed XML document, ready to be used as an HTTP
// request body. The caller is responsible for closing and removing the
// returned file (or calling Builder.Close after the request completes).
func (b *Builder) FinishReport() (*os.File, error) {
	if b.done {
		return nil, svnerr.New(svnerr.KindRequestCreationFailed, "report already finished")
	}
	if _, err := io.WriteString(b.f, "</S:update-report>\n"); err != nil {
		return nil, wrapWriteErr(err)
	}
	b.done = true
	if _, err := b.f.Seek(0, io.SeekStart); err != nil {
		return nil, svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "rewinding report file")
	}
	return b.f, nil
}

// AbortReport discards the temp file without sending anything.
func (b *Builder) AbortReport() error {
	return b.cleanup()
}

// Close removes the underlying temp file. Safe to call after
// FinishReport once the request has been sent.
func (b *Builder) Close() error {
	return b.cleanup()
}

func (b *Builder) cleanup() error {
	name := b.f.Name()
	closeErr := b.f.Close()
	removeErr := os.Remove(name)
	return svnerr.Chain(wrapOrNil(closeErr), wrapOrNil(removeErr))
}

func wrapOrNil(err error) error {
	if err == nil {
		return nil
	}
	return svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "cleaning up report scratch file")
}
