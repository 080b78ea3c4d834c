// Package workingcopy defines the capability the core consumes from the
// on-disk working copy (spec.md §1: "the core sees it only as a
// WorkingCopy capability") plus a minimal in-memory reference
// implementation used by tests and by the cmd/ tools when no real
// working-copy store is wired in.
package workingcopy

import (
	"sync"

	"github.com/rcowham/svncore/svnpath"
)

// Entry is what the working copy remembers about one path: the entry
// metadata translated from DAV live properties (spec.md §6.3) plus the
// cached version-resource URL used to skip a PROPFIND on the next visit.
type Entry struct {
	Path          string
	VersionURL    string // svn:wc:ra_dav:version-url
	CommittedRev  svnpath.Revision
	CommittedDate string
	LastAuthor    string
	UUID          string
}

// WorkingCopy is the persistence boundary the update and commit drivers
// push entry metadata and version URLs through. The core never reads or
// writes the on-disk format directly.
type WorkingCopy interface {
	// PushWcProp records name=value for path (spec.md §6.3's three
	// svn:wc:ra_dav:* / svn:entry:* namespaces).
	PushWcProp(path, name, value string) error
	// WcProp returns a previously pushed property, or "" if unset.
	WcProp(path, name string) (string, bool)
	// ActivityURL returns the cached activity-collection URL at the
	// working copy root, or "" if none is cached yet.
	ActivityURL() (string, bool)
	// SetActivityURL caches the activity-collection URL at the root.
	SetActivityURL(url string) error
}

const (
	propVersionURL   = "svn:wc:ra_dav:version-url"
	propActivityURL  = "svn:wc:ra_dav:activity-url"
	propCommittedRev = "svn:entry:committed-rev"
)

// Memory is a minimal in-memory WorkingCopy, adequate for driving tests
// and for cmd/svnupdate when the caller has no real on-disk store.
type Memory struct {
	mu    sync.Mutex
	props map[string]map[string]string // path -> name -> value
}

// NewMemory returns an empty in-memory working copy.
func NewMemory() *Memory {
	return &Memory{props: map[string]map[string]string{}}
}

func (m *Memory) PushWcProp(path, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.props[path]
	if !ok {
		p = map[string]string{}
		m.props[path] = p
	}
	p[name] = value
	return nil
}

func (m *Memory) WcProp(path, name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.props[path]
	if !ok {
		return "", false
	}
	v, ok := p[name]
	return v, ok
}

func (m *Memory) ActivityURL() (string, bool) {
	return m.WcProp("", propActivityURL)
}

func (m *Memory) SetActivityURL(url string) error {
	return m.PushWcProp("", propActivityURL, url)
}

var _ WorkingCopy = (*Memory)(nil)
