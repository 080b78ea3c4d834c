// Package svnpath implements the repository path, revision, node-kind,
// property, and checksum primitives from spec.md §3. It has no knowledge
// of the network or the working copy; it is pure data-model plumbing
// shared by every other package.
package svnpath

import (
	"strings"

	"github.com/rcowham/svncore/svnerr"
)

// Revision is a repository-wide snapshot number. Invalid means "HEAD" or
// "no particular base", matching spec.md's "distinguished sentinel".
type Revision int64

// Invalid is the sentinel revision meaning "HEAD-not-yet-known" or "no
// particular base".
const Invalid Revision = -1

// Empty is revision 0, the empty initial tree.
const Empty Revision = 0

// IsValid reports whether r names a concrete revision.
func (r Revision) IsValid() bool { return r != Invalid }

// Kind is a tree node's type.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindDir
	KindNone
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindNone:
		return "none"
	default:
		return "unknown"
	}
}

// Canonicalize enforces spec.md §3's Path rules: slash-separated, no
// trailing slash (except the root), no "." or empty segments, no
// backtracking ("..").
func Canonicalize(p string) (string, error) {
	if p == "" {
		return "", svnerr.New(svnerr.KindBadFilename, "path must not be empty")
	}
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", nil // the repository root
	}
	parts := strings.Split(trimmed, "/")
	out := make([]string, 0, len(parts))
	for _, seg := range parts {
		switch seg {
		case "":
			return "", svnerr.Newf(svnerr.KindBadFilename, "empty path segment in %q", p)
		case ".":
			return "", svnerr.Newf(svnerr.KindBadFilename, "'.' segment not allowed in %q", p)
		case "..":
			return "", svnerr.Newf(svnerr.KindBadFilename, "backtracking ('..') not allowed in %q", p)
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/"), nil
}

// Join joins a canonical parent path with a single child component.
func Join(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}

// Dir returns the parent of a canonical path, or "" if p is already the
// root or a single top-level component.
func Dir(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Base returns the final path component.
func Base(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return p
	}
	return p[i+1:]
}

// IsAncestor reports whether ancestor is p itself or a directory prefix of
// it (component-wise, not byte-wise: "foo" is not an ancestor of "foobar").
func IsAncestor(ancestor, p string) bool {
	if ancestor == "" {
		return true
	}
	if ancestor == p {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// Property is a (name, value) pair. A nil Value represents deletion, per
// spec.md §3.
type Property struct {
	Name  string
	Value []byte
}

// IsDelete reports whether this property entry represents a deletion.
func (p Property) IsDelete() bool { return p.Value == nil }

// Checksum is the fixed 16-byte MD5 content fingerprint used throughout
// the core. A zero Checksum is the conventional "unknown".
type Checksum [16]byte

// IsUnknown reports whether c is the all-zero "unknown" checksum.
func (c Checksum) IsUnknown() bool { return c == Checksum{} }

// Matches implements spec.md §3's match rule: two checksums match iff
// either side is unknown, or they are byte-equal.
func (c Checksum) Matches(other Checksum) bool {
	if c.IsUnknown() || other.IsUnknown() {
		return true
	}
	return c == other
}
