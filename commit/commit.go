// Package commit implements the commit driver (C6): it exposes an
// editor.Editor whose calls are translated into WebDAV/DeltaV actions
// against a server-side activity (spec.md §4.6).
package commit

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/svncore/baseline"
	"github.com/rcowham/svncore/config"
	"github.com/rcowham/svncore/editor"
	"github.com/rcowham/svncore/ra"
	"github.com/rcowham/svncore/svndiff"
	"github.com/rcowham/svncore/svnerr"
	"github.com/rcowham/svncore/svnpath"
	"github.com/rcowham/svncore/tree"
	"github.com/rcowham/svncore/workingcopy"
)

// mimeTypeSampleSize bounds how many bytes of a new file's content are
// retained for content-type sniffing (h2non/filetype only needs the
// leading header bytes of most formats).
const mimeTypeSampleSize = 512

// State is a resource's place in the CHECKOUT lifecycle (spec.md §4.6).
type State int

const (
	StateNew State = iota
	StateCheckedOut
	StateDone
)

// Info is what close_edit learns from the MERGE response (spec.md §4.6
// step 5): the new revision, its committed date, and its author.
type Info struct {
	Revision svnpath.Revision
	Date     string
	Author   string
}

type dirRes struct {
	handle     editor.DirHandle
	path       string
	versionURL string
	workingURL string
	state      State
	propSets   map[string][]byte // nil value = remove
}

type fileRes struct {
	handle        editor.FileHandle
	path          string
	versionURL    string
	workingURL    string
	state         State
	propSets      map[string][]byte
	tmpPath       string
	baseSum       *svnpath.Checksum
	contentSample []byte // leading bytes of new-data content, for MIME sniffing
}

// Driver drives one commit against an RA session, per spec.md §4.6's
// NEW/CHECKED_OUT/DONE state machine.
type Driver struct {
	Session *ra.Session
	Props   *baseline.Resolver
	WC      workingcopy.WorkingCopy
	Logger  *logrus.Logger

	// LogMessage, if non-empty, is PROPPATCHed onto the new baseline as
	// svn:log before any tree mutation (spec.md §4.6 step 2).
	LogMessage string

	// IdempotentDelete makes a 404 on DELETE succeed rather than surface
	// path-not-found (spec.md §9 Open Questions: opt-in, not unconditional
	// — see DESIGN.md).
	IdempotentDelete bool

	// CommitCallback, if set, is invoked exactly once from CloseEdit with
	// the MERGE response's revision/date/author.
	CommitCallback func(Info)

	// PutPool stages each file's svndiff body to a temp file off the
	// driving goroutine, the same pool-submit-then-wait shape the
	// teacher's GitBlob.SaveBlob uses for its archive writes.
	PutPool *pond.WorkerPool

	// AutoProps, if set, is consulted for svn:mime-type classification
	// before content sniffing (supplemented feature, SPEC_FULL.md; the
	// teacher's RegexpTypeMap shape, adapted in package config).
	AutoProps *config.Config

	// LockTokens maps a committed path to the lock token the server
	// issued for it; CHECKOUT/PUT/DELETE/PROPPATCH against a locked path
	// carry it as an `If:` header (supplemented feature, SPEC_FULL.md).
	LockTokens map[string]string

	activityURL  string
	activityOnce sync.Once
	activityErr  error

	dirs  map[editor.DirHandle]*dirRes
	files map[editor.FileHandle]*fileRes

	nextHandle int64
	targets    *tree.Tree
}

// New returns a Driver ready to drive one commit.
func New(sess *ra.Session, props *baseline.Resolver, wc workingcopy.WorkingCopy, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Driver{
		Session: sess,
		Props:   props,
		WC:      wc,
		Logger:  logger,
		PutPool: pond.New(4, 0, pond.MinWorkers(2)),
		dirs:    map[editor.DirHandle]*dirRes{},
		files:   map[editor.FileHandle]*fileRes{},
		targets: tree.New(),
	}
}

func (d *Driver) allocDir() editor.DirHandle {
	d.nextHandle++
	return editor.DirHandle(d.nextHandle)
}

func (d *Driver) allocFile() editor.FileHandle {
	d.nextHandle++
	return editor.FileHandle(d.nextHandle)
}

// --- activity lifecycle -------------------------------------------------

func (d *Driver) activityCollectionURL(force bool) (string, error) {
	if !force && d.WC != nil {
		if url, ok := d.WC.ActivityURL(); ok && url != "" {
			return url, nil
		}
	}
	if d.Props != nil {
		href, err := d.Props.GetOneProp(d.Session.BaseURL+"/", "", "activity-collection-set")
		if err == nil && href != "" {
			if d.WC != nil {
				if err := d.WC.SetActivityURL(href); err != nil {
					d.Logger.WithError(err).Debug("caching activity collection URL failed")
				}
			}
			return href, nil
		}
	}
	// mod_dav_svn's conventional default when the live property is absent.
	fallback := "/!svn/act"
	if d.WC != nil {
		if err := d.WC.SetActivityURL(fallback); err != nil {
			d.Logger.WithError(err).Debug("caching fallback activity collection URL failed")
		}
	}
	return fallback, nil
}

// ensureActivity creates the commit's activity exactly once, retrying one
// time against a freshly discovered collection URL on a 404 (spec.md
// §4.6 step 1, §7 "stale activity-collection cache").
func (d *Driver) ensureActivity() error {
	d.activityOnce.Do(func() {
		d.activityErr = d.createActivity(false)
	})
	return d.activityErr
}

func (d *Driver) createActivity(force bool) error {
	collection, err := d.activityCollectionURL(force)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	candidate := strings.TrimRight(collection, "/") + "/" + id
	req, err := d.Session.NewRequest("MKACTIVITY", candidate, nil, nil)
	if err != nil {
		return err
	}
	resp, err := d.Session.Do(req)
	if err != nil {
		if svnerr.KindOf(err) == svnerr.KindPathNotFound && !force {
			return d.createActivity(true)
		}
		return err
	}
	resp.Body.Close()
	d.activityURL = candidate
	return d.applyLogMessage()
}

// applyLogMessage implements spec.md §4.6 step 2: follow the VCC to the
// current baseline, CHECKOUT it into the activity, PROPPATCH svn:log.
func (d *Driver) applyLogMessage() error {
	if d.LogMessage == "" || d.Props == nil {
		return nil
	}
	sp, err := d.Props.GetStartingProps(d.Session.BaseURL + "/")
	if err != nil {
		return err
	}
	baselineURL, err := d.Props.GetOneProp(sp.VCCURL, "", "checked-in")
	if err != nil {
		return err
	}
	working, err := d.checkoutInto(baselineURL, "")
	if err != nil {
		return err
	}
	return d.proppatch(working, "", map[string][]byte{"svn:log": []byte(d.LogMessage)})
}

// lockHeaders returns headers with an `If:` lock-token header added for
// path, if a token is registered for it (SPEC_FULL.md's lock-token
// supplemented feature); headers is returned unmodified if path carries
// no token.
func (d *Driver) lockHeaders(path string, headers map[string]string) map[string]string {
	token, ok := d.LockTokens[path]
	if !ok || token == "" {
		return headers
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["If"] = fmt.Sprintf("(<%s>)", token)
	return headers
}

// checkoutInto issues CHECKOUT against versionURL into the current
// activity, returning the resulting working-resource URL (its Location
// header, or versionURL itself for servers that checkout in place).
// path, if non-empty, is consulted against LockTokens.
func (d *Driver) checkoutInto(versionURL, path string) (string, error) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?><D:checkout xmlns:D="DAV:"><D:activity-set><D:href>%s</D:href></D:activity-set></D:checkout>`, d.activityURL)
	headers := d.lockHeaders(path, map[string]string{"Content-Type": "text/xml; charset=utf-8"})
	req, err := d.Session.NewRequest("CHECKOUT", versionURL, []byte(body), headers)
	if err != nil {
		return "", err
	}
	resp, err := d.Session.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "" {
		return loc, nil
	}
	return versionURL, nil
}

// --- directory state -----------------------------------------------------

// ensureDirCheckedOut performs the deferred CHECKOUT on first real
// mutation (spec.md §4.6: "do not CHECKOUT yet — defer until a real
// mutation arrives") and registers the path as a valid MERGE target.
func (d *Driver) ensureDirCheckedOut(dr *dirRes) error {
	if dr.state != StateNew {
		return nil
	}
	if err := d.ensureActivity(); err != nil {
		return err
	}
	working, err := d.checkoutInto(dr.versionURL, dr.path)
	if err != nil {
		return err
	}
	dr.workingURL = working
	dr.state = StateCheckedOut
	d.targets.Add(dr.path, true, false)
	return nil
}

func (d *Driver) ensureFileCheckedOut(fr *fileRes) error {
	if fr.state != StateNew {
		return nil
	}
	if err := d.ensureActivity(); err != nil {
		return err
	}
	working, err := d.checkoutInto(fr.versionURL, fr.path)
	if err != nil {
		return err
	}
	fr.workingURL = working
	fr.state = StateCheckedOut
	d.targets.Add(fr.path, false, false)
	return nil
}

// resourceVersionURL resolves path's immutable version-resource URL: the
// working copy's cached svn:wc:ra_dav:version-url, falling back to a
// direct session-rooted path for servers that resolve HEAD-relative paths
// without a PROPFIND (spec.md §6.3's cache, §7's "one forced PROPFIND" on
// a cache miss — here simplified to the session-relative fallback since
// no PROPFIND is warranted merely to discover an addressable URL).
func (d *Driver) resourceVersionURL(path string) string {
	if d.WC != nil {
		if url, ok := d.WC.WcProp(path, "svn:wc:ra_dav:version-url"); ok && url != "" {
			return url
		}
	}
	return d.Session.BaseURL + "/" + path
}

// --- editor.Editor ---------------------------------------------------------

var _ editor.Editor = (*Driver)(nil)

func (d *Driver) SetTargetRevision(rev svnpath.Revision) error { return nil }

// OpenRoot pins the root to HEAD regardless of baseRev (spec.md §9 Open
// Questions: preserved deliberately, resolved lazily at first mutation —
// see DESIGN.md).
func (d *Driver) OpenRoot(baseRev svnpath.Revision) (editor.DirHandle, error) {
	h := d.allocDir()
	d.dirs[h] = &dirRes{handle: h, path: "", versionURL: d.Session.BaseURL + "/", state: StateNew}
	return h, nil
}

func (d *Driver) dir(h editor.DirHandle) (*dirRes, error) {
	dr, ok := d.dirs[h]
	if !ok {
		return nil, svnerr.New(svnerr.KindUnexpectedElement, "unknown directory handle")
	}
	return dr, nil
}

func (d *Driver) file(h editor.FileHandle) (*fileRes, error) {
	fr, ok := d.files[h]
	if !ok {
		return nil, svnerr.New(svnerr.KindUnexpectedElement, "unknown file handle")
	}
	return fr, nil
}

func childURL(parentWorkingURL, name string) string {
	return strings.TrimRight(parentWorkingURL, "/") + "/" + name
}

func (d *Driver) DeleteEntry(path string, rev svnpath.Revision, parent editor.DirHandle) error {
	pr, err := d.dir(parent)
	if err != nil {
		return err
	}
	if err := d.ensureDirCheckedOut(pr); err != nil {
		return err
	}
	url := childURL(pr.workingURL, svnpath.Base(path))
	headers := map[string]string{}
	if rev.IsValid() {
		headers["X-SVN-Version-Name"] = fmt.Sprintf("%d", int64(rev))
	}
	headers = d.lockHeaders(path, headers)
	req, err := d.Session.NewRequest(http.MethodDelete, url, nil, headers)
	if err != nil {
		return err
	}
	resp, err := d.Session.Do(req)
	if err != nil {
		if svnerr.KindOf(err) == svnerr.KindPathNotFound && d.IdempotentDelete {
			d.targets.Add(path, false, false)
			return nil
		}
		return err
	}
	resp.Body.Close()
	d.targets.Add(path, false, false)
	return nil
}

func (d *Driver) AddDirectory(path string, parent editor.DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (editor.DirHandle, error) {
	pr, err := d.dir(parent)
	if err != nil {
		return 0, err
	}
	if err := d.ensureDirCheckedOut(pr); err != nil {
		return 0, err
	}
	working := childURL(pr.workingURL, svnpath.Base(path))
	recursive := false
	if editor.HasCopyFrom(copyFromPath, copyFromRev) {
		if err := d.copyInto(copyFromPath, copyFromRev, working, true); err != nil {
			return 0, err
		}
		recursive = true
	} else {
		req, err := d.Session.NewRequest("MKCOL", working, nil, nil)
		if err != nil {
			return 0, err
		}
		resp, err := d.Session.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
	}
	h := d.allocDir()
	d.dirs[h] = &dirRes{handle: h, path: path, workingURL: working, state: StateCheckedOut}
	d.targets.Add(path, true, recursive)
	return h, nil
}

// copyInto resolves copyFromPath@copyFromRev's baseline-collection
// location and issues COPY into dst (spec.md §4.6 step 4). A failed COPY
// is reported as the literal "file-or-directory-likely-out-of-date"
// condition spec.md calls out, with the source path as context.
func (d *Driver) copyInto(copyFromPath string, copyFromRev svnpath.Revision, dst string, infinity bool) error {
	if d.Props == nil {
		return svnerr.New(svnerr.KindUnsupportedFeature, "no property resolver configured to resolve a copy-from source")
	}
	info, err := d.Props.GetBaselineInfo(d.Session.BaseURL+"/"+copyFromPath, copyFromRev)
	if err != nil {
		return svnerr.Wrapf(err, svnerr.KindOutOfDate, "file-or-directory-likely-out-of-date: %s", copyFromPath)
	}
	src := strings.TrimRight(info.BaselineCollection, "/") + "/" + strings.TrimLeft(info.RelativePath, "/")
	headers := map[string]string{"Destination": dst}
	if infinity {
		headers["Depth"] = "infinity"
	}
	req, err := d.Session.NewRequest("COPY", src, nil, headers)
	if err != nil {
		return err
	}
	resp, err := d.Session.Do(req)
	if err != nil {
		return svnerr.Wrapf(err, svnerr.KindOutOfDate, "file-or-directory-likely-out-of-date: %s", copyFromPath)
	}
	resp.Body.Close()
	return nil
}

func (d *Driver) OpenDirectory(path string, parent editor.DirHandle, baseRev svnpath.Revision) (editor.DirHandle, error) {
	h := d.allocDir()
	d.dirs[h] = &dirRes{handle: h, path: path, versionURL: d.resourceVersionURL(path), state: StateNew}
	return h, nil
}

func (d *Driver) ChangeDirProp(dir editor.DirHandle, name string, value []byte) error {
	dr, err := d.dir(dir)
	if err != nil {
		return err
	}
	if err := d.ensureDirCheckedOut(dr); err != nil {
		return err
	}
	if dr.propSets == nil {
		dr.propSets = map[string][]byte{}
	}
	dr.propSets[name] = value
	return nil
}

func (d *Driver) CloseDirectory(dir editor.DirHandle) error {
	dr, err := d.dir(dir)
	if err != nil {
		return err
	}
	if dr.state == StateCheckedOut && len(dr.propSets) > 0 {
		if err := d.proppatch(dr.workingURL, dr.path, dr.propSets); err != nil {
			return err
		}
	}
	dr.state = StateDone
	return nil
}

func (d *Driver) AbsentDirectory(path string, parent editor.DirHandle) error { return nil }

func (d *Driver) AddFile(path string, parent editor.DirHandle, copyFromPath string, copyFromRev svnpath.Revision) (editor.FileHandle, error) {
	pr, err := d.dir(parent)
	if err != nil {
		return 0, err
	}
	if err := d.ensureDirCheckedOut(pr); err != nil {
		return 0, err
	}
	working := childURL(pr.workingURL, svnpath.Base(path))
	recursive := false
	if editor.HasCopyFrom(copyFromPath, copyFromRev) {
		if err := d.copyInto(copyFromPath, copyFromRev, working, false); err != nil {
			return 0, err
		}
	}
	h := d.allocFile()
	d.files[h] = &fileRes{handle: h, path: path, workingURL: working, state: StateCheckedOut}
	d.targets.Add(path, false, recursive)
	return h, nil
}

func (d *Driver) OpenFile(path string, parent editor.DirHandle, baseRev svnpath.Revision) (editor.FileHandle, error) {
	h := d.allocFile()
	d.files[h] = &fileRes{handle: h, path: path, versionURL: d.resourceVersionURL(path), state: StateNew}
	return h, nil
}

// fileSink stages incoming delta windows to a temp file on the driver's
// PutPool (spec.md §4.6: "apply_textdelta: open a temp file, create an
// svndiff encoder feeding into it"); the PUT itself happens from
// CloseFile, once the result checksum (if any) is known.
type fileSink struct {
	driver  *Driver
	res     *fileRes
	windows []svndiff.Window
}

func (s *fileSink) PutWindow(win editor.DeltaWindow) error {
	instrs := make([]svndiff.Instruction, len(win.Instructions))
	for i, in := range win.Instructions {
		instrs[i] = svndiff.Instruction{Kind: svndiff.InstructionKind(in.Kind), Offset: in.Offset, Length: in.Length}
	}
	s.windows = append(s.windows, svndiff.Window{
		SourceOffset: win.SourceOffset,
		SourceLength: win.SourceLength,
		TargetLength: win.TargetLength,
		Instructions: instrs,
		NewData:      win.NewData,
	})
	if len(s.res.contentSample) < mimeTypeSampleSize {
		room := mimeTypeSampleSize - len(s.res.contentSample)
		if room > len(win.NewData) {
			room = len(win.NewData)
		}
		s.res.contentSample = append(s.res.contentSample, win.NewData[:room]...)
	}
	return nil
}

func (s *fileSink) Close() error {
	tmp, err := os.CreateTemp("", "svncommit-*.tmp")
	if err != nil {
		return svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "creating PUT staging temp file")
	}
	path := tmp.Name()
	windows := s.windows
	done := make(chan error, 1)
	s.driver.PutPool.Submit(func() {
		defer tmp.Close()
		done <- svndiff.EncodeWindows(tmp, svndiff.Version0, windows)
	})
	if err := <-done; err != nil {
		os.Remove(path)
		return svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "staging PUT body")
	}
	s.res.tmpPath = path
	return nil
}

func (d *Driver) ApplyTextDelta(file editor.FileHandle, baseChecksum *svnpath.Checksum) (editor.WindowSink, error) {
	fr, err := d.file(file)
	if err != nil {
		return nil, err
	}
	if err := d.ensureFileCheckedOut(fr); err != nil {
		return nil, err
	}
	fr.baseSum = baseChecksum
	return &fileSink{driver: d, res: fr}, nil
}

func (d *Driver) ChangeFileProp(file editor.FileHandle, name string, value []byte) error {
	fr, err := d.file(file)
	if err != nil {
		return err
	}
	if err := d.ensureFileCheckedOut(fr); err != nil {
		return err
	}
	if fr.propSets == nil {
		fr.propSets = map[string][]byte{}
	}
	fr.propSets[name] = value
	return nil
}

func (d *Driver) CloseFile(file editor.FileHandle, resultChecksum *svnpath.Checksum) error {
	fr, err := d.file(file)
	if err != nil {
		return err
	}
	if fr.tmpPath != "" {
		if err := d.putStagedBody(fr, resultChecksum); err != nil {
			os.Remove(fr.tmpPath)
			return err
		}
		os.Remove(fr.tmpPath)
	}
	d.classifyMimeType(fr)
	if len(fr.propSets) > 0 {
		if err := d.proppatch(fr.workingURL, fr.path, fr.propSets); err != nil {
			return err
		}
	}
	fr.state = StateDone
	return nil
}

// classifyMimeType sets svn:mime-type on fr if the caller has not already
// set it explicitly, consulting AutoProps first and falling back to
// sniffing the leading bytes of the file's new-data content (spec.md
// SPEC_FULL.md's commit-side AutoProps/filetype supplemented feature).
func (d *Driver) classifyMimeType(fr *fileRes) {
	if _, alreadySet := fr.propSets["svn:mime-type"]; alreadySet {
		return
	}
	if d.AutoProps != nil {
		if mime, binary, found := d.AutoProps.MimeTypeFor(fr.path); found {
			if mime == "" && !binary {
				return // explicit "text" rule: leave svn:mime-type unset
			}
			if mime == "" {
				mime = "application/octet-stream"
			}
			d.setMimeType(fr, mime)
			return
		}
	}
	if len(fr.contentSample) == 0 {
		return
	}
	kind, err := filetype.Match(fr.contentSample)
	if err != nil || kind.MIME.Value == "" {
		return
	}
	d.setMimeType(fr, kind.MIME.Value)
}

func (d *Driver) setMimeType(fr *fileRes, mime string) {
	if fr.propSets == nil {
		fr.propSets = map[string][]byte{}
	}
	fr.propSets["svn:mime-type"] = []byte(mime)
}

func (d *Driver) putStagedBody(fr *fileRes, resultChecksum *svnpath.Checksum) error {
	body, err := os.ReadFile(fr.tmpPath)
	if err != nil {
		return svnerr.Wrap(err, svnerr.KindRequestCreationFailed, "reading staged PUT body")
	}
	headers := d.lockHeaders(fr.path, map[string]string{"Content-Type": "application/vnd.svn-svndiff"})
	if fr.baseSum != nil && !fr.baseSum.IsUnknown() {
		headers["X-SVN-Base-Fulltext-MD5"] = fmt.Sprintf("%x", fr.baseSum[:])
	}
	if resultChecksum != nil && !resultChecksum.IsUnknown() {
		headers["X-SVN-Result-Fulltext-MD5"] = fmt.Sprintf("%x", resultChecksum[:])
	}
	req, err := d.Session.NewRequest(http.MethodPut, fr.workingURL, body, headers)
	if err != nil {
		return err
	}
	resp, err := d.Session.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (d *Driver) AbsentFile(path string, parent editor.DirHandle) error { return nil }

// proppatch issues a PROPPATCH against url, splitting changes into a
// D:set section (non-nil values) and a D:remove section (nil values).
// path, if non-empty, is consulted against LockTokens for the If header.
func (d *Driver) proppatch(url, path string, changes map[string][]byte) error {
	if len(changes) == 0 {
		return nil
	}
	var sets, removes strings.Builder
	for name, value := range changes {
		local := name
		if i := strings.LastIndex(name, ":"); i >= 0 {
			local = name[i+1:]
		}
		if value == nil {
			fmt.Fprintf(&removes, "<S:%s/>", local)
			continue
		}
		var escaped bytes.Buffer
		xml.EscapeText(&escaped, value)
		fmt.Fprintf(&sets, "<S:%s>%s</S:%s>", local, escaped.String(), local)
	}
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="utf-8"?><D:propertyupdate xmlns:D="DAV:" xmlns:S="http://subversion.tigris.org/xmlns/svn/">`)
	if sets.Len() > 0 {
		fmt.Fprintf(&body, "<D:set><D:prop>%s</D:prop></D:set>", sets.String())
	}
	if removes.Len() > 0 {
		fmt.Fprintf(&body, "<D:remove><D:prop>%s</D:prop></D:remove>", removes.String())
	}
	body.WriteString(`</D:propertyupdate>`)
	headers := d.lockHeaders(path, map[string]string{"Content-Type": "text/xml; charset=utf-8"})
	req, err := d.Session.NewRequest("PROPPATCH", url, []byte(body.String()), headers)
	if err != nil {
		return err
	}
	resp, err := d.Session.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// --- close / abort ---------------------------------------------------------

// CloseEdit implements spec.md §4.6 step 5: MERGE the activity, parse the
// new revision/date/author out of the response, invoke CommitCallback,
// then tear down the activity.
func (d *Driver) CloseEdit() error {
	if d.activityURL == "" {
		return svnerr.New(svnerr.KindIncompleteEdit, "close_edit called on a commit with no mutation")
	}
	info, mergeErr := d.merge()
	if mergeErr != nil {
		return svnerr.Chain(mergeErr, d.deleteActivity())
	}
	if d.CommitCallback != nil {
		d.CommitCallback(*info)
	}
	return d.deleteActivity()
}

func (d *Driver) merge() (*Info, error) {
	var targets strings.Builder
	for _, path := range d.targets.Paths() {
		depth := "0"
		if d.targets.IsRecursive(path) {
			depth = "infinity"
		}
		fmt.Fprintf(&targets, `<S:target path="%s" depth="%s"/>`, path, depth)
	}
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?><D:merge xmlns:D="DAV:" xmlns:S="http://subversion.tigris.org/xmlns/svn/"><D:source><D:href>%s</D:href></D:source><D:no-auto-merge/><D:no-checkout/><D:prop><D:version-name/><D:creationdate/><D:creator-displayname/></D:prop><S:update-set>%s</S:update-set></D:merge>`, d.activityURL, targets.String())
	req, err := d.Session.NewRequest("MERGE", d.Session.BaseURL+"/", []byte(body), map[string]string{"Content-Type": "text/xml; charset=utf-8"})
	if err != nil {
		return nil, err
	}
	resp, err := d.Session.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, svnerr.Wrap(err, svnerr.KindIncompleteData, "reading MERGE response")
	}
	props, err := baseline.ParseMultistatusProps(raw)
	if err != nil {
		return nil, err
	}
	info := &Info{}
	var sawRevision bool
	for _, m := range props {
		if v, ok := m["version-name"]; ok && v != "" {
			var rev int64
			fmt.Sscanf(v, "%d", &rev)
			info.Revision = svnpath.Revision(rev)
			sawRevision = true
		}
		if v, ok := m["creationdate"]; ok && v != "" {
			info.Date = v
		}
		if v, ok := m["creator-displayname"]; ok && v != "" {
			info.Author = v
		}
	}
	if !sawRevision {
		return nil, svnerr.New(svnerr.KindIncompleteData, "MERGE response carried no new revision")
	}
	return info, nil
}

func (d *Driver) deleteActivity() error {
	if d.activityURL == "" {
		return nil
	}
	req, err := d.Session.NewRequest(http.MethodDelete, d.activityURL, nil, nil)
	if err != nil {
		return err
	}
	resp, err := d.Session.Do(req)
	if err != nil {
		if svnerr.KindOf(err) == svnerr.KindPathNotFound {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// AbortEdit tears down the activity, ignoring a 404 (spec.md §4.6 step 6).
// It is a no-op if no activity was ever created.
func (d *Driver) AbortEdit() error {
	return d.deleteActivity()
}
