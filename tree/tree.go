// Package tree tracks the set of repository paths touched by one edit
// drive. It tracks two different things depending on caller: the update
// driver's "what did the server just open" stack (to catch an illegal
// delete of the root of the subtree being updated — spec.md §8 boundary
// behavior), and the commit driver's valid-targets set (spec.md §4.6:
// every mutated path, with a copied directory's subtree registered
// recursively).
package tree

import "strings"

// Node is one path component in the tree.
type Node struct {
	Name      string
	Path      string
	IsDir     bool
	Recursive bool // this subtree was registered recursively (copy-from)
	Children  []*Node
}

// Tree is a rooted set of Nodes keyed by canonical, slash-separated paths.
type Tree struct {
	root *Node
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{root: &Node{}}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Add registers path as present, recording whether it is a directory and
// whether the registration is recursive (the whole subtree is considered
// touched — used for copy-from directories per spec.md §4.6).
func (t *Tree) Add(path string, isDir bool, recursive bool) {
	parts := splitPath(path)
	cur := t.root
	accum := ""
	for i, part := range parts {
		accum = joinPath(accum, part)
		var child *Node
		for _, c := range cur.Children {
			if c.Name == part {
				child = c
				break
			}
		}
		if child == nil {
			child = &Node{Name: part, Path: accum}
			cur.Children = append(cur.Children, child)
		}
		if i == len(parts)-1 {
			child.IsDir = isDir
			if recursive {
				child.Recursive = true
			}
		}
		cur = child
	}
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}

// Delete removes path and its subtree.
func (t *Tree) Delete(path string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}
	cur := t.root
	for i, part := range parts {
		idx := -1
		for j, c := range cur.Children {
			if c.Name == part {
				idx = j
				break
			}
		}
		if idx < 0 {
			return // nothing to delete
		}
		if i == len(parts)-1 {
			cur.Children[idx] = cur.Children[len(cur.Children)-1]
			cur.Children = cur.Children[:len(cur.Children)-1]
			return
		}
		cur = cur.Children[idx]
	}
}

func (t *Tree) find(path string) *Node {
	if path == "" {
		return t.root
	}
	parts := splitPath(path)
	cur := t.root
	for _, part := range parts {
		var next *Node
		for _, c := range cur.Children {
			if c.Name == part {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// Contains reports whether path is in the tree, either registered directly
// or created as an ancestor of something registered.
func (t *Tree) Contains(path string) bool {
	return t.find(path) != nil
}

// Walk calls fn for path and for every descendant beneath it.
func (t *Tree) Walk(path string, fn func(path string, isDir bool)) {
	n := t.find(path)
	if n == nil {
		return
	}
	t.walkNode(n, fn)
}

func (t *Tree) walkNode(n *Node, fn func(path string, isDir bool)) {
	if n.Path != "" {
		fn(n.Path, n.IsDir)
	}
	for _, c := range n.Children {
		t.walkNode(c, fn)
	}
}

// IsRecursive reports whether path was registered with the recursive flag
// set (a copy-from directory's subtree, spec.md §4.6).
func (t *Tree) IsRecursive(path string) bool {
	n := t.find(path)
	return n != nil && n.Recursive
}

// Paths returns every registered path in the tree, in depth-first order.
func (t *Tree) Paths() []string {
	var out []string
	t.walkNode(t.root, func(path string, isDir bool) { out = append(out, path) })
	return out
}

// IsAncestorOpen reports whether any strict ancestor of path (path itself
// is not checked) is registered as a directory in the tree.
func (t *Tree) IsAncestorOpen(path string) bool {
	parts := splitPath(path)
	accum := ""
	for i := 0; i < len(parts)-1; i++ {
		accum = joinPath(accum, parts[i])
		if n := t.find(accum); n != nil && n.IsDir {
			return true
		}
	}
	return false
}
