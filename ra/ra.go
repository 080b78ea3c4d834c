// Package ra implements the RA session (C8): the HTTP/WebDAV transport
// the rest of the core drives. It owns the connection, authentication
// state, retry/relocate policy, and translates HTTP status codes and
// <D:error> bodies into svnerr values.
package ra

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/svncore/svnerr"
)

// AuthProvider supplies credentials on demand. Implementations live
// outside the core (spec.md §1: "prompt/auth providers" are out of
// scope); the session only calls this interface.
type AuthProvider interface {
	// Credentials returns the next credential pair to try, or ok=false
	// if the provider has nothing further to offer.
	Credentials(realm string, attempt int) (username, password string, ok bool)
	// OnSuccess is called once after the first 2xx response following a
	// 401, so the provider can persist the credentials that worked.
	OnSuccess(username, password string)
}

// MaxAuthAttempts bounds auth-provider iteration (spec.md §7: "after
// four failures, surface authn-failed").
const MaxAuthAttempts = 4

// Capabilities records what the server advertised via OPTIONS' DAV:
// response header (the supplemented OPTIONS capability discovery,
// SPEC_FULL.md).
type Capabilities struct {
	DAVLevels []string
	raw       string
}

// Supports reports whether the server's DAV header listed token.
func (c Capabilities) Supports(token string) bool {
	for _, t := range c.DAVLevels {
		if t == token {
			return true
		}
	}
	return false
}

// Session owns one client-to-server connection. A secondary worker pool
// of size 1 stands in for spec.md §5's "at most two concurrent HTTP
// exchanges" — used to overlap a depth-1 PROPFIND with a streaming
// REPORT parse (see package update).
type Session struct {
	BaseURL string
	Client  *http.Client
	Auth    AuthProvider
	Logger  *logrus.Logger

	secondary *pond.WorkerPool

	mu           sync.Mutex
	caps         *Capabilities
	repoRootURL  string
	repositoryID string

	triedUser string
	triedPass string
}

// New opens a session against baseURL. The caller owns Client's
// lifetime; Close only tears down the secondary worker pool.
func New(baseURL string, client *http.Client, auth AuthProvider, logger *logrus.Logger) *Session {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Client:    client,
		Auth:      auth,
		Logger:    logger,
		secondary: pond.New(1, 0, pond.MinWorkers(1)),
	}
}

// Close releases the secondary connection's worker pool.
func (s *Session) Close() {
	s.secondary.StopAndWait()
}

// SubmitSecondary runs fn on the session's secondary connection,
// overlapping it with whatever the primary connection is doing. Per
// spec.md §5 this is used during REPORT parsing for opportunistic
// property PROPFINDs.
func (s *Session) SubmitSecondary(fn func()) {
	s.secondary.Submit(fn)
}

// davErrorBody is the <D:error> XML the server sends on many non-2xx
// responses (spec.md §7: parsed from the
// http://apache.org/dav/xmlns namespace).
type davErrorBody struct {
	XMLName     xml.Name `xml:"error"`
	HumanReadable struct {
		ErrCode string `xml:"errcode,attr"`
		Text    string `xml:",chardata"`
	} `xml:"human-readable"`
}

// Do sends req, applying authentication and translating the result into
// a structured error. body, if non-nil, must support Seek (via
// req.GetBody) so the request can be replayed across auth attempts.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < MaxAuthAttempts; attempt++ {
		if attempt > 0 {
			if req.GetBody == nil {
				return nil, svnerr.Newf(svnerr.KindAuthnFailed, "cannot retry %s %s with a non-replayable body", req.Method, req.URL)
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "rebuilding request body for retry")
			}
			req.Body = body
		}
		resp, err := s.Client.Do(req)
		if err != nil {
			if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
				return nil, svnerr.Wrap(err, svnerr.KindConnectionTimedOut, "request timed out")
			}
			return nil, svnerr.Wrap(err, svnerr.KindConnectionFailed, "request failed")
		}
		if resp.StatusCode != http.StatusUnauthorized {
			if attempt > 0 && resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if user, pass, ok := s.lastTriedCreds(); ok {
					s.Auth.OnSuccess(user, pass)
				}
			}
			return resp, s.translateStatus(resp)
		}
		resp.Body.Close()
		user, pass, ok := s.Auth.Credentials(s.authRealm(resp), attempt)
		if !ok {
			lastErr = svnerr.New(svnerr.KindAuthnFailed, "auth provider exhausted")
			break
		}
		s.rememberTriedCreds(user, pass)
		req.SetBasicAuth(user, pass)
	}
	if lastErr == nil {
		lastErr = svnerr.New(svnerr.KindAuthnFailed, "too many authentication attempts")
	}
	return nil, lastErr
}

func (s *Session) rememberTriedCreds(user, pass string) { s.triedUser, s.triedPass = user, pass }
func (s *Session) lastTriedCreds() (string, string, bool) {
	if s.triedUser == "" {
		return "", "", false
	}
	return s.triedUser, s.triedPass, true
}

func (s *Session) authRealm(resp *http.Response) string {
	return resp.Header.Get("WWW-Authenticate")
}

// translateStatus maps a non-2xx response to an svnerr.Kind, parsing a
// <D:error> body when present (spec.md §7, §4.8).
func (s *Session) translateStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var bodyErr *davErrorBody
	if resp.Body != nil && resp.ContentLength != 0 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		var parsed davErrorBody
		if xml.Unmarshal(raw, &parsed) == nil && parsed.HumanReadable.Text != "" {
			bodyErr = &parsed
		}
	}
	msg := fmt.Sprintf("%s %s: %s", resp.Request.Method, resp.Request.URL, resp.Status)
	if bodyErr != nil {
		msg = strings.TrimSpace(bodyErr.HumanReadable.Text)
	}
	kind := statusToKind(resp.StatusCode)
	if resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusTemporaryRedirect {
		return svnerr.Newf(kind, "repository relocated: %s", resp.Header.Get("Location"))
	}
	return svnerr.New(kind, msg)
}

func statusToKind(status int) svnerr.Kind {
	switch status {
	case http.StatusNotFound:
		return svnerr.KindPathNotFound
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect:
		return svnerr.KindRelocated
	case http.StatusUnauthorized:
		return svnerr.KindAuthnFailed
	case http.StatusMethodNotAllowed:
		return svnerr.KindMethodNotAllowed
	case http.StatusConflict:
		return svnerr.KindOutOfDate
	case http.StatusLocked:
		return svnerr.KindNoLockToken
	case http.StatusForbidden:
		return svnerr.KindForbidden
	case http.StatusNotImplemented:
		return svnerr.KindUnsupportedFeature
	default:
		if status >= 500 {
			return svnerr.KindRequestFailed
		}
		return svnerr.KindRequestFailed
	}
}

// NewRequest builds an *http.Request with a replayable body, so Do can
// retry it across auth attempts. path may be repository-relative (joined
// onto s.BaseURL) or an already-absolute URL (a server-supplied href,
// e.g. from a PROPFIND checked-in property) — the latter is used as-is.
func (s *Session) NewRequest(method, path string, body []byte, headers map[string]string) (*http.Request, error) {
	full := path
	if !strings.Contains(path, "://") {
		full = s.BaseURL + path
	}
	req, err := http.NewRequest(method, full, bytes.NewReader(body))
	if err != nil {
		return nil, svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "building "+method+" "+full)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// DiscoverCapabilities issues OPTIONS against the repository root and
// parses the DAV: response header, per SPEC_FULL.md's supplemented
// capability-negotiation feature (original_source/util.c).
func (s *Session) DiscoverCapabilities() (*Capabilities, error) {
	req, err := s.NewRequest(http.MethodOptions, "/", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw := resp.Header.Get("DAV")
	caps := &Capabilities{raw: raw}
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			caps.DAVLevels = append(caps.DAVLevels, tok)
		}
	}
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
	return caps, nil
}

// FollowReadRedirect issues a read-only request (GET or PROPFIND) and,
// on a single 3xx response, re-issues it against the Location header
// once before surfacing any further error — the read-redirect-following
// supplemented feature (SPEC_FULL.md, grounded on original_source's
// util.c). Mutating methods must not call this.
func (s *Session) FollowReadRedirect(req *http.Request) (*http.Response, error) {
	resp, err := s.Do(req)
	if err == nil {
		return resp, nil
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	if svnerr.KindOf(err) != svnerr.KindRelocated || req.GetBody == nil {
		return nil, err
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, err
	}
	newURL, parseErr := url.Parse(loc)
	if parseErr != nil {
		return nil, err
	}
	body, bodyErr := req.GetBody()
	if bodyErr != nil {
		return nil, err
	}
	redirected, reqErr := http.NewRequest(req.Method, newURL.String(), body)
	if reqErr != nil {
		return nil, err
	}
	redirected.Header = req.Header.Clone()
	redirected.GetBody = req.GetBody
	return s.Do(redirected)
}
