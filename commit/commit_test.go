package commit

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svncore/baseline"
	"github.com/rcowham/svncore/config"
	"github.com/rcowham/svncore/editor"
	"github.com/rcowham/svncore/ra"
	"github.com/rcowham/svncore/svnpath"
	"github.com/rcowham/svncore/workingcopy"
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

// writePropfindFixture answers a PROPFIND by inspecting which property
// was requested (rather than call order), so a VCC lookup, a checked-in
// lookup, and a baseline-collection lookup can all be driven off the same
// handler regardless of how many other PROPFINDs preceded them.
func writePropfindFixture(w http.ResponseWriter, requestBody, path string) {
	w.WriteHeader(207)
	switch {
	case strings.Contains(requestBody, "activity-collection-set"):
		fmt.Fprintf(w, multistatusTemplate, path, ``)
	case strings.Contains(requestBody, "baseline-collection"):
		fmt.Fprintf(w, multistatusTemplate, "/repos/!svn/bln/6",
			`<lp:baseline-collection>/repos/!svn/bc/6</lp:baseline-collection><D:version-name>6</D:version-name>`)
	case strings.Contains(requestBody, "checked-in"):
		fmt.Fprintf(w, multistatusTemplate, "/repos/!svn/vcc/default",
			`<D:checked-in>/repos/!svn/bln/6</D:checked-in>`)
	default: // version-controlled-configuration / baseline-relative-path probe
		fmt.Fprintf(w, multistatusTemplate, path,
			`<D:version-controlled-configuration>/repos/!svn/vcc/default</D:version-controlled-configuration>`)
	}
}

// newTestDriver wires a Driver against an httptest server whose handler
// routes on method, mirroring a minimal mod_dav_svn session: MKACTIVITY
// always succeeds, CHECKOUT/MKCOL/PUT/PROPPATCH/DELETE report success,
// MERGE returns a fixed new revision, PROPFIND answers whatever the
// resolver is probing for (VCC / checked-in / activity-collection-set).
func newTestDriver(t *testing.T, extra http.HandlerFunc) (*Driver, *[]*http.Request, func()) {
	var requests []*http.Request
	mux := http.NewServeMux()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))
		recorded := r.Clone(r.Context())
		recorded.Body = io.NopCloser(bytes.NewReader(raw))
		requests = append(requests, recorded)
		if extra != nil {
			extra(w, r)
			return
		}
		switch r.Method {
		case "MKACTIVITY":
			w.WriteHeader(http.StatusCreated)
		case "CHECKOUT":
			w.Header().Set("Location", r.URL.Path+";working")
			w.WriteHeader(http.StatusCreated)
		case "MKCOL":
			w.WriteHeader(http.StatusCreated)
		case http.MethodPut:
			w.WriteHeader(http.StatusNoContent)
		case "PROPPATCH":
			w.WriteHeader(207)
			fmt.Fprintf(w, multistatusTemplate, r.URL.Path, ``)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case "MERGE":
			w.WriteHeader(207)
			fmt.Fprintf(w, multistatusTemplate, "/repos/!svn/bln/7",
				`<D:version-name>7</D:version-name><D:creationdate>2026-07-31T00:00:00Z</D:creationdate><D:creator-displayname>alice</D:creator-displayname>`)
		case "PROPFIND":
			writePropfindFixture(w, string(raw), r.URL.Path)
		default:
			mux.ServeHTTP(w, r)
		}
	}))
	sess := ra.New(srv.URL, nil, noAuth{}, nil)
	props := baseline.New(sess)
	wc := workingcopy.NewMemory()
	d := New(sess, props, wc, nil)
	return d, &requests, func() { sess.Close(); srv.Close() }
}

func TestDriverAddFileCommitsAndReportsRevision(t *testing.T) {
	d, _, cleanup := newTestDriver(t, nil)
	defer cleanup()

	var info Info
	d.CommitCallback = func(i Info) { info = i }

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	fh, err := d.AddFile("hello.txt", root, "", svnpath.Invalid)
	require.NoError(t, err)

	sink, err := d.ApplyTextDelta(fh, nil)
	require.NoError(t, err)
	require.NoError(t, sink.PutWindow(editor.DeltaWindow{
		TargetLength: 5,
		Instructions: []editor.DeltaInstruction{{Kind: 2, Length: 5}},
		NewData:      []byte("hello"),
	}))
	require.NoError(t, sink.Close())
	require.NoError(t, d.CloseFile(fh, nil))

	require.NoError(t, d.CloseDirectory(root))
	require.NoError(t, d.CloseEdit())

	assert.Equal(t, svnpath.Revision(7), info.Revision)
	assert.Equal(t, "alice", info.Author)
	assert.Equal(t, "2026-07-31T00:00:00Z", info.Date)
}

func TestDriverDeleteEntryIdempotentOn404(t *testing.T) {
	d, _, cleanup := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "MKACTIVITY":
			w.WriteHeader(http.StatusCreated)
		case "CHECKOUT":
			w.Header().Set("Location", r.URL.Path+";working")
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	defer cleanup()
	d.IdempotentDelete = true

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	err = d.DeleteEntry("old.txt", svnpath.Revision(6), root)
	assert.NoError(t, err)
}

func TestDriverDeleteEntryNotIdempotentSurfaces404(t *testing.T) {
	d, _, cleanup := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "MKACTIVITY":
			w.WriteHeader(http.StatusCreated)
		case "CHECKOUT":
			w.Header().Set("Location", r.URL.Path+";working")
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	defer cleanup()

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	err = d.DeleteEntry("old.txt", svnpath.Revision(6), root)
	require.Error(t, err)
}

func TestCloseEditWithoutMutationFails(t *testing.T) {
	d, _, cleanup := newTestDriver(t, nil)
	defer cleanup()

	err := d.CloseEdit()
	require.Error(t, err)
}

func TestAddDirectoryWithCopyFromIsRegisteredRecursively(t *testing.T) {
	d, _, cleanup := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "MKACTIVITY":
			w.WriteHeader(http.StatusCreated)
		case "CHECKOUT":
			w.Header().Set("Location", r.URL.Path+";working")
			w.WriteHeader(http.StatusCreated)
		case "PROPFIND":
			raw, _ := io.ReadAll(r.Body)
			writePropfindFixture(w, string(raw), r.URL.Path)
		case "COPY":
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	defer cleanup()

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	_, err = d.AddDirectory("branch", root, "trunk", svnpath.Revision(6))
	require.NoError(t, err)

	assert.True(t, d.targets.IsRecursive("branch"))
}

func TestLockTokenSentAsIfHeaderOnPut(t *testing.T) {
	d, requests, cleanup := newTestDriver(t, nil)
	defer cleanup()
	d.LockTokens = map[string]string{"locked.txt": "opaquelocktoken:abc-123"}

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	fh, err := d.AddFile("locked.txt", root, "", svnpath.Invalid)
	require.NoError(t, err)

	sink, err := d.ApplyTextDelta(fh, nil)
	require.NoError(t, err)
	require.NoError(t, sink.PutWindow(editor.DeltaWindow{
		TargetLength: 5,
		Instructions: []editor.DeltaInstruction{{Kind: 2, Length: 5}},
		NewData:      []byte("hello"),
	}))
	require.NoError(t, sink.Close())
	require.NoError(t, d.CloseFile(fh, nil))
	require.NoError(t, d.CloseDirectory(root))
	require.NoError(t, d.CloseEdit())

	var sawIfOnPut bool
	for _, r := range *requests {
		if r.Method == http.MethodPut {
			assert.Equal(t, "(<opaquelocktoken:abc-123>)", r.Header.Get("If"))
			sawIfOnPut = true
		}
	}
	assert.True(t, sawIfOnPut, "expected at least one PUT request")
}

func TestLockTokenAbsentLeavesNoIfHeader(t *testing.T) {
	d, requests, cleanup := newTestDriver(t, nil)
	defer cleanup()

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	fh, err := d.AddFile("unlocked.txt", root, "", svnpath.Invalid)
	require.NoError(t, err)
	sink, err := d.ApplyTextDelta(fh, nil)
	require.NoError(t, err)
	require.NoError(t, sink.PutWindow(editor.DeltaWindow{
		TargetLength: 2,
		Instructions: []editor.DeltaInstruction{{Kind: 2, Length: 2}},
		NewData:      []byte("hi"),
	}))
	require.NoError(t, sink.Close())
	require.NoError(t, d.CloseFile(fh, nil))
	require.NoError(t, d.CloseDirectory(root))
	require.NoError(t, d.CloseEdit())

	for _, r := range *requests {
		assert.Empty(t, r.Header.Get("If"))
	}
}

// pngHeader is the 8-byte PNG signature, enough for h2non/filetype to
// recognize image/png from a content sample.
var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func TestCloseFileSniffsMimeTypeWhenNotSetExplicitly(t *testing.T) {
	d, _, cleanup := newTestDriver(t, nil)
	defer cleanup()

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	fh, err := d.AddFile("image.dat", root, "", svnpath.Invalid)
	require.NoError(t, err)

	sink, err := d.ApplyTextDelta(fh, nil)
	require.NoError(t, err)
	require.NoError(t, sink.PutWindow(editor.DeltaWindow{
		TargetLength: uint64(len(pngHeader)),
		Instructions: []editor.DeltaInstruction{{Kind: 2, Length: uint64(len(pngHeader))}},
		NewData:      pngHeader,
	}))
	require.NoError(t, sink.Close())

	fr, err := d.file(fh)
	require.NoError(t, err)

	require.NoError(t, d.CloseFile(fh, nil))

	assert.Equal(t, []byte("image/png"), fr.propSets["svn:mime-type"])
}

func TestCloseFileDoesNotOverrideExplicitMimeType(t *testing.T) {
	d, _, cleanup := newTestDriver(t, nil)
	defer cleanup()

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	fh, err := d.AddFile("image.dat", root, "", svnpath.Invalid)
	require.NoError(t, err)
	require.NoError(t, d.ChangeFileProp(fh, "svn:mime-type", []byte("application/explicit")))

	sink, err := d.ApplyTextDelta(fh, nil)
	require.NoError(t, err)
	require.NoError(t, sink.PutWindow(editor.DeltaWindow{
		TargetLength: uint64(len(pngHeader)),
		Instructions: []editor.DeltaInstruction{{Kind: 2, Length: uint64(len(pngHeader))}},
		NewData:      pngHeader,
	}))
	require.NoError(t, sink.Close())
	require.NoError(t, d.CloseFile(fh, nil))

	fr, err := d.file(fh)
	require.NoError(t, err)
	assert.Equal(t, []byte("application/explicit"), fr.propSets["svn:mime-type"])
}

func TestCloseFileAutoPropsTakesPrecedenceOverSniffing(t *testing.T) {
	d, _, cleanup := newTestDriver(t, nil)
	defer cleanup()
	d.AutoProps = &config.Config{Rules: []config.AutoPropRule{
		{MimeType: "image/x-special", Binary: true, RePath: regexp.MustCompile(`\.dat$`)},
	}}

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	fh, err := d.AddFile("image.dat", root, "", svnpath.Invalid)
	require.NoError(t, err)

	sink, err := d.ApplyTextDelta(fh, nil)
	require.NoError(t, err)
	require.NoError(t, sink.PutWindow(editor.DeltaWindow{
		TargetLength: uint64(len(pngHeader)),
		Instructions: []editor.DeltaInstruction{{Kind: 2, Length: uint64(len(pngHeader))}},
		NewData:      pngHeader,
	}))
	require.NoError(t, sink.Close())
	require.NoError(t, d.CloseFile(fh, nil))

	fr, err := d.file(fh)
	require.NoError(t, err)
	assert.Equal(t, []byte("image/x-special"), fr.propSets["svn:mime-type"])
}

func TestCloseFileAutoPropsTextRuleLeavesMimeTypeUnset(t *testing.T) {
	d, _, cleanup := newTestDriver(t, nil)
	defer cleanup()
	d.AutoProps = &config.Config{Rules: []config.AutoPropRule{
		{MimeType: "", Binary: false, RePath: regexp.MustCompile(`\.txt$`)},
	}}

	root, err := d.OpenRoot(svnpath.Revision(6))
	require.NoError(t, err)

	fh, err := d.AddFile("notes.txt", root, "", svnpath.Invalid)
	require.NoError(t, err)

	sink, err := d.ApplyTextDelta(fh, nil)
	require.NoError(t, err)
	require.NoError(t, sink.PutWindow(editor.DeltaWindow{
		TargetLength: 5,
		Instructions: []editor.DeltaInstruction{{Kind: 2, Length: 5}},
		NewData:      []byte("hello"),
	}))
	require.NoError(t, sink.Close())
	require.NoError(t, d.CloseFile(fh, nil))

	fr, err := d.file(fh)
	require.NoError(t, err)
	_, isSet := fr.propSets["svn:mime-type"]
	assert.False(t, isSet)
}
