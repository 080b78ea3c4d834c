// Package baseline implements the baseline/property resolver (C7): VCC
// discovery, baseline-collection resolution for a revision, and bulk DAV
// property fetching, translated into the client's canonical property
// names (spec.md §4.7).
package baseline

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rcowham/svncore/ra"
	"github.com/rcowham/svncore/svnerr"
	"github.com/rcowham/svncore/svnpath"
)

// Depth is a PROPFIND depth.
type Depth int

const (
	Depth0        Depth = 0
	Depth1        Depth = 1
	DepthInfinity Depth = -1
)

func (d Depth) header() string {
	if d == DepthInfinity {
		return "infinity"
	}
	return strconv.Itoa(int(d))
}

// Live DAV/svn property names (spec.md §4.7, §6.1).
const (
	PropVersionControlledConfiguration = "DAV:version-controlled-configuration"
	PropCheckedIn                      = "DAV:checked-in"
	PropBaselineCollection             = "DAV:baseline-collection"
	PropVersionName                    = "DAV:version-name"
	PropCreationDate                   = "DAV:creationdate"
	PropCreatorDisplayName             = "DAV:creator-displayname"
	PropBaselineRelativePath           = "http://subversion.tigris.org/xmlns/dav/:baseline-relative-path"
	PropMD5Checksum                    = "http://subversion.tigris.org/xmlns/dav/:md5-checksum"
	PropRepositoryUUID                 = "http://subversion.tigris.org/xmlns/dav/:repository-uuid"
)

// liveToEntry maps server live properties to the reserved entry
// properties the working copy stores (spec.md §6.3).
var liveToEntry = map[string]string{
	PropVersionName:        "svn:entry:committed-rev",
	PropCreationDate:       "svn:entry:committed-date",
	PropCreatorDisplayName: "svn:entry:last-author",
	PropRepositoryUUID:     "svn:entry:uuid",

	"version-name":        "svn:entry:committed-rev",
	"creationdate":        "svn:entry:committed-date",
	"creator-displayname": "svn:entry:last-author",
	"repository-uuid":     "svn:entry:uuid",
}

// TranslateLiveProp returns the canonical client property name for a
// server live property, and whether it is one of the reserved entry
// properties (spec.md §4.7 "property translation"). davName may be a
// fully namespaced constant (PropVersionName) or the bare local name
// multistatus parsing produces ("version-name") — both resolve the same
// entry.
func TranslateLiveProp(davName string) (client string, isEntry bool) {
	if entry, ok := liveToEntry[davName]; ok {
		return entry, true
	}
	if entry, ok := liveToEntry[localName(davName)]; ok {
		return entry, true
	}
	return davName, false
}

// Props is the result of a PROPFIND: url -> propname -> value.
type Props map[string]map[string]string

// Resolver issues PROPFIND requests against an RA session and resolves
// the VCC/baseline chain.
type Resolver struct {
	Session *ra.Session
}

// New returns a Resolver backed by sess.
func New(sess *ra.Session) *Resolver {
	return &Resolver{Session: sess}
}

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href     string     `xml:"href"`
	PropStat []propstat `xml:"propstat"`
}

type propstat struct {
	Prop   rawProp `xml:"prop"`
	Status string  `xml:"status"`
}

// rawProp captures arbitrary child elements of DAV:prop as name/value
// pairs without a fixed schema, since the set of properties requested
// varies by caller.
type rawProp struct {
	XML []byte `xml:",innerxml"`
}

// GetProps issues a PROPFIND against url at the given depth, optionally
// pinned to a baseline via label, restricted to names if non-empty
// (an empty names list means "propfind allprop").
func (r *Resolver) GetProps(url string, depth Depth, label string, names []string) (Props, error) {
	body := buildPropfindBody(names)
	headers := map[string]string{
		"Depth":        depth.header(),
		"Content-Type": "text/xml; charset=utf-8",
	}
	if label != "" {
		headers["Label"] = label
	}
	req, err := r.Session.NewRequest("PROPFIND", url, []byte(body), headers)
	if err != nil {
		return nil, err
	}
	resp, err := r.Session.FollowReadRedirect(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, svnerr.Wrap(err, svnerr.KindIncompleteData, "reading PROPFIND response")
	}
	return parseMultistatus(raw)
}

func buildPropfindBody(names []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?><D:propfind xmlns:D="DAV:">`)
	if len(names) == 0 {
		b.WriteString("<D:allprop/>")
	} else {
		b.WriteString("<D:prop>")
		for _, n := range names {
			b.WriteString("<D:" + localName(n) + "/>")
		}
		b.WriteString("</D:prop>")
	}
	b.WriteString("</D:propfind>")
	return b.String()
}

func localName(davName string) string {
	if i := strings.LastIndex(davName, ":"); i >= 0 {
		return davName[i+1:]
	}
	return davName
}

// ParseMultistatusProps exposes the multistatus parser for callers outside
// this package that receive a DAV multistatus body from a method other
// than PROPFIND (the commit driver's MERGE response carries the new
// revision's version-name/creationdate/creator-displayname the same way).
func ParseMultistatusProps(raw []byte) (Props, error) {
	return parseMultistatus(raw)
}

func parseMultistatus(raw []byte) (Props, error) {
	var ms multistatus
	if err := xml.Unmarshal(raw, &ms); err != nil {
		return nil, svnerr.Wrap(err, svnerr.KindMalformedXML, "parsing multistatus")
	}
	out := Props{}
	for _, resp := range ms.Responses {
		m := map[string]string{}
		for _, ps := range resp.PropStat {
			if !strings.Contains(ps.Status, "200") {
				continue
			}
			for name, val := range parseInnerProps(ps.Prop.XML) {
				m[name] = val
			}
		}
		out[resp.Href] = m
	}
	return out, nil
}

// parseInnerProps walks DAV:prop's raw inner XML tag by tag, collecting
// one entry per leaf element, tolerant of arbitrary namespaces (the set
// of properties a server may return is open-ended).
func parseInnerProps(inner []byte) map[string]string {
	out := map[string]string{}
	dec := xml.NewDecoder(strings.NewReader("<root>" + string(inner) + "</root>"))
	var curName string
	var curText strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				curName = qualifiedName(t.Name)
				curText.Reset()
			}
		case xml.CharData:
			if depth == 2 {
				curText.Write(t)
			}
		case xml.EndElement:
			if depth == 2 && curName != "" {
				out[curName] = curText.String()
			}
			depth--
		}
	}
	return out
}

// qualifiedName deliberately drops the namespace: every property this
// resolver requests is asked for by local name (buildPropfindBody), so
// matching responses back up by local name alone is sufficient and
// avoids having to track every server's namespace-prefix choice.
func qualifiedName(name xml.Name) string {
	return name.Local
}

// GetOneProp is a convenience over GetProps for a single property on a
// single resource.
func (r *Resolver) GetOneProp(url, label, name string) (string, error) {
	props, err := r.GetProps(url, Depth0, label, []string{name})
	if err != nil {
		return "", err
	}
	for _, m := range props {
		if v, ok := m[localName(name)]; ok {
			return v, nil
		}
	}
	return "", svnerr.Newf(svnerr.KindIncompleteData, "property %s not present on %s", name, url)
}

// StartingProps is what get_starting_props discovers (spec.md §4.7).
type StartingProps struct {
	VCCURL               string
	ResourceType         string
	BaselineRelativePath string
	StrippedSuffix       string // components chopped off while walking up
}

// GetStartingProps discovers the VCC for url, walking up the parent
// chain on path-not-found and accumulating the stripped suffix, per
// spec.md §4.7 / §7's local-recovery rule.
func (r *Resolver) GetStartingProps(url string) (*StartingProps, error) {
	cur := url
	var stripped []string
	for {
		props, err := r.GetProps(cur, Depth0, "", []string{PropVersionControlledConfiguration, PropBaselineRelativePath})
		if err == nil {
			for _, m := range props {
				vcc, hasVCC := m["version-controlled-configuration"]
				if !hasVCC {
					continue
				}
				return &StartingProps{
					VCCURL:               vcc,
					BaselineRelativePath: m["baseline-relative-path"],
					StrippedSuffix:       strings.Join(reverse(stripped), "/"),
				}, nil
			}
		}
		if svnerr.KindOf(err) != svnerr.KindPathNotFound && err != nil {
			return nil, err
		}
		parent, leaf := splitURL(cur)
		if leaf == "" || parent == cur {
			return nil, svnerr.Newf(svnerr.KindBadURL, "no version-controlled-configuration found walking up from %s", url)
		}
		stripped = append(stripped, leaf)
		cur = parent
	}
}

func splitURL(u string) (parent, leaf string) {
	trimmed := strings.TrimRight(u, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return trimmed, ""
	}
	return trimmed[:i], trimmed[i+1:]
}

func reverse(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[len(ss)-1-i] = s
	}
	return out
}

// BaselineInfo is the result of get_baseline_info (spec.md §4.7).
type BaselineInfo struct {
	IsDir               bool
	BaselineCollection  string
	RelativePath        string
	ActualRevision      svnpath.Revision
}

// GetBaselineInfo resolves url at rev (svnpath.Invalid meaning HEAD) to
// its baseline collection, per spec.md §4.7's two-step walk.
func (r *Resolver) GetBaselineInfo(url string, rev svnpath.Revision) (*BaselineInfo, error) {
	sp, err := r.GetStartingProps(url)
	if err != nil {
		return nil, err
	}
	var label string
	var baselineURL string
	if rev.IsValid() {
		label = fmt.Sprintf("%d", int64(rev))
		checkedIn, err := r.GetOneProp(sp.VCCURL, label, "checked-in")
		if err != nil {
			return nil, err
		}
		baselineURL = checkedIn
	} else {
		checkedIn, err := r.GetOneProp(sp.VCCURL, "", "checked-in")
		if err != nil {
			return nil, err
		}
		baselineURL = checkedIn
	}
	props, err := r.GetProps(baselineURL, Depth0, "", []string{PropBaselineCollection, PropVersionName})
	if err != nil {
		return nil, err
	}
	var collection string
	var actualRev svnpath.Revision = svnpath.Invalid
	for _, m := range props {
		if v, ok := m["baseline-collection"]; ok {
			collection = v
		}
		if v, ok := m["version-name"]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				actualRev = svnpath.Revision(n)
			}
		}
	}
	if collection == "" {
		return nil, svnerr.Newf(svnerr.KindIncompleteData, "no baseline-collection on %s", baselineURL)
	}
	return &BaselineInfo{
		BaselineCollection: collection,
		RelativePath:       joinRelative(sp.BaselineRelativePath, sp.StrippedSuffix),
		ActualRevision:     actualRev,
	}, nil
}

// joinRelative joins a baseline-relative path with the suffix stripped
// while walking up to find it, inserting a "/" between them only when
// both are non-empty.
func joinRelative(base, suffix string) string {
	switch {
	case base == "":
		return suffix
	case suffix == "":
		return base
	default:
		return strings.TrimRight(base, "/") + "/" + suffix
	}
}
