package filerevs

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svncore/baseline"
	"github.com/rcowham/svncore/editor"
	"github.com/rcowham/svncore/ra"
	"github.com/rcowham/svncore/svndiff"
	"github.com/rcowham/svncore/svnerr"
	"github.com/rcowham/svncore/svnpath"
)

type noAuth struct{}

func (noAuth) Credentials(realm string, attempt int) (string, string, bool) { return "", "", false }
func (noAuth) OnSuccess(user, pass string)                                 {}

const multistatusTemplate = `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:" xmlns:lp="http://subversion.tigris.org/xmlns/dav/">
  <D:response>
    <D:href>%s</D:href>
    <D:propstat>
      <D:prop>%s</D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

// writePropfindFixture answers GetBaselineInfo's chain of PROPFINDs
// (VCC discovery, checked-in, baseline-collection), the same
// request-body-inspection strategy package commit's tests use.
func writePropfindFixture(w http.ResponseWriter, requestBody string) {
	w.WriteHeader(207)
	switch {
	case strings.Contains(requestBody, "baseline-collection"):
		fmt.Fprintf(w, multistatusTemplate, "/repos/!svn/bln/9",
			`<lp:baseline-collection>/repos/!svn/bc/9</lp:baseline-collection><D:version-name>9</D:version-name>`)
	case strings.Contains(requestBody, "checked-in"):
		fmt.Fprintf(w, multistatusTemplate, "/repos/!svn/vcc/default",
			`<D:checked-in>/repos/!svn/bln/9</D:checked-in>`)
	default: // version-controlled-configuration probe
		fmt.Fprintf(w, multistatusTemplate, "/repos/trunk/file.txt",
			`<D:version-controlled-configuration>/repos/!svn/vcc/default</D:version-controlled-configuration>`)
	}
}

func encodeSvndiffBase64(t *testing.T, content string) string {
	t.Helper()
	var buf bytes.Buffer
	win := svndiff.Window{
		TargetLength: uint64(len(content)),
		Instructions: []svndiff.Instruction{{Kind: svndiff.NewData, Length: uint64(len(content))}},
		NewData:      []byte(content),
	}
	require.NoError(t, svndiff.EncodeWindows(&buf, svndiff.Version0, []svndiff.Window{win}))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestDriver(t *testing.T, report http.HandlerFunc) (*Driver, func()) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			raw, _ := io.ReadAll(r.Body)
			writePropfindFixture(w, string(raw))
		case "REPORT":
			report(w, r)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	sess := ra.New(srv.URL, nil, noAuth{}, nil)
	props := baseline.New(sess)
	return New(sess, props, nil), func() { sess.Close(); srv.Close() }
}

// capturingSink records every window pushed to it, standing in for a
// real editor.ApplyTextDelta destination in these tests.
type capturingSink struct {
	windows []editor.DeltaWindow
	closed  bool
}

func (s *capturingSink) PutWindow(win editor.DeltaWindow) error {
	s.windows = append(s.windows, win)
	return nil
}
func (s *capturingSink) Close() error { s.closed = true; return nil }

func TestGetParsesRevisionsPropsAndTxdelta(t *testing.T) {
	delta := encodeSvndiffBase64(t, "hello world")
	d, cleanup := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<?xml version="1.0"?>
<S:file-revs-report xmlns:S="http://subversion.tigris.org/xmlns/svn/">
  <S:file-rev path="/trunk/file.txt" rev="5">
    <S:rev-prop name="svn:author">alice</S:rev-prop>
    <S:rev-prop name="svn:log">initial</S:rev-prop>
    <S:set-prop name="svn:eol-style">native</S:set-prop>
  </S:file-rev>
  <S:file-rev path="/trunk/file.txt" rev="9">
    <S:rev-prop name="svn:author">bob</S:rev-prop>
    <S:remove-prop name="svn:eol-style"/>
    <S:txdelta>%s</S:txdelta>
  </S:file-rev>
</S:file-revs-report>`, delta)
	})
	defer cleanup()

	var revs []FileRevision
	var sinks []*capturingSink
	err := d.Get("trunk/file.txt", svnpath.Revision(1), svnpath.Revision(9), func(rev FileRevision) (editor.WindowSink, error) {
		revs = append(revs, rev)
		s := &capturingSink{}
		sinks = append(sinks, s)
		return s, nil
	})
	require.NoError(t, err)
	require.Len(t, revs, 2)

	assert.Equal(t, svnpath.Revision(5), revs[0].Revision)
	assert.Equal(t, "alice", revs[0].RevProps["svn:author"])
	assert.Equal(t, "initial", revs[0].RevProps["svn:log"])
	require.Len(t, revs[0].PropDiffs, 1)
	assert.Equal(t, "svn:eol-style", revs[0].PropDiffs[0].Name)
	assert.False(t, revs[0].PropDiffs[0].IsDelete())

	assert.Equal(t, svnpath.Revision(9), revs[1].Revision)
	assert.Equal(t, "bob", revs[1].RevProps["svn:author"])
	require.Len(t, revs[1].PropDiffs, 1)
	assert.True(t, revs[1].PropDiffs[0].IsDelete())

	require.Len(t, sinks, 2)
	assert.Empty(t, sinks[0].windows)
	assert.False(t, sinks[0].closed)
	require.Len(t, sinks[1].windows, 1)
	assert.Equal(t, []byte("hello world"), sinks[1].windows[0].NewData)
	assert.True(t, sinks[1].closed)
}

func TestGetHandlerMayDeclineSink(t *testing.T) {
	delta := encodeSvndiffBase64(t, "ignored")
	d, cleanup := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<?xml version="1.0"?>
<S:file-revs-report xmlns:S="http://subversion.tigris.org/xmlns/svn/">
  <S:file-rev path="/trunk/file.txt" rev="3">
    <S:rev-prop name="svn:author">carol</S:rev-prop>
    <S:txdelta>%s</S:txdelta>
  </S:file-rev>
</S:file-revs-report>`, delta)
	})
	defer cleanup()

	var called int
	err := d.Get("trunk/file.txt", svnpath.Invalid, svnpath.Revision(3), func(rev FileRevision) (editor.WindowSink, error) {
		called++
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestGetNoRevisionsIsAnError(t *testing.T) {
	d, cleanup := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `<?xml version="1.0"?><S:file-revs-report xmlns:S="http://subversion.tigris.org/xmlns/svn/"></S:file-revs-report>`)
	})
	defer cleanup()

	err := d.Get("trunk/file.txt", svnpath.Invalid, svnpath.Revision(3), func(rev FileRevision) (editor.WindowSink, error) {
		return nil, nil
	})
	require.Error(t, err)
}

func TestGetNotImplementedSurfacesUnsupportedFeature(t *testing.T) {
	d, cleanup := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})
	defer cleanup()

	err := d.Get("trunk/file.txt", svnpath.Invalid, svnpath.Revision(3), func(rev FileRevision) (editor.WindowSink, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, svnerr.KindUnsupportedFeature, svnerr.KindOf(err))
}
