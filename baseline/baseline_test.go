package baseline

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/svncore/ra"
	"github.com/rcowham/svncore/svnpath"
)

type noAuth struct{}

func (noAuth) Credentials(realm string, attempt int) (string, string, bool) { return "", "", false }
func (noAuth) OnSuccess(user, pass string)                                 {}

func newTestResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, func()) {
	srv := httptest.NewServer(handler)
	sess := ra.New(srv.URL, nil, noAuth{}, nil)
	return New(sess), func() { sess.Close(); srv.Close() }
}

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

func TestGetOneProp(t *testing.T) {
	r, cleanup := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(207)
		fmt.Fprintf(w, multistatusTemplate, "/repos/!svn/vcc/default",
			`<D:checked-in>/repos/!svn/bln/6</D:checked-in>`)
	})
	defer cleanup()

	v, err := r.GetOneProp("/repos/!svn/vcc/default", "", "checked-in")
	require.NoError(t, err)
	assert.Equal(t, "/repos/!svn/bln/6", v)
}

func TestGetBaselineInfoHead(t *testing.T) {
	calls := 0
	r, cleanup := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.WriteHeader(207)
		switch calls {
		case 1: // get_starting_props
			fmt.Fprintf(w, multistatusTemplate, "/repos/trunk",
				`<D:version-controlled-configuration>/repos/!svn/vcc/default</D:version-controlled-configuration>`)
		case 2: // checked-in on VCC
			fmt.Fprintf(w, multistatusTemplate, "/repos/!svn/vcc/default",
				`<D:checked-in>/repos/!svn/bln/6</D:checked-in>`)
		default: // baseline-collection + version-name on baseline
			fmt.Fprintf(w, multistatusTemplate, "/repos/!svn/bln/6",
				`<lp:baseline-collection>/repos/!svn/bc/6</lp:baseline-collection><D:version-name>6</D:version-name>`)
		}
	})
	defer cleanup()

	info, err := r.GetBaselineInfo("/repos/trunk", svnpath.Invalid)
	require.NoError(t, err)
	assert.Equal(t, "/repos/!svn/bc/6", info.BaselineCollection)
	assert.Equal(t, svnpath.Revision(6), info.ActualRevision)
}

func TestGetStartingPropsWalksUpOnNotFound(t *testing.T) {
	calls := 0
	r, cleanup := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(207)
		fmt.Fprintf(w, multistatusTemplate, "/repos",
			`<D:version-controlled-configuration>/repos/!svn/vcc/default</D:version-controlled-configuration>`)
	})
	defer cleanup()

	sp, err := r.GetStartingProps("/repos/trunk/src")
	require.NoError(t, err)
	assert.Equal(t, "/repos/!svn/vcc/default", sp.VCCURL)
	assert.NotEmpty(t, sp.StrippedSuffix)
}

func TestTranslateLiveProp(t *testing.T) {
	client, isEntry := TranslateLiveProp(PropVersionName)
	assert.True(t, isEntry)
	assert.Equal(t, "svn:entry:committed-rev", client)

	client, isEntry = TranslateLiveProp(PropBaselineCollection)
	assert.False(t, isEntry)
	assert.Equal(t, PropBaselineCollection, client)
}
