package tree

import "github.com/emicklei/dot"

// ToDot renders the tree as a directed graphviz graph, one dot.Node per
// registered path, for visualizing the shape of a drive (see
// cmd/svngraph).
func (t *Tree) ToDot(name string) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.Attr("label", name)
	nodes := map[string]dot.Node{}
	var visit func(n *Node, parent *Node)
	visit = func(n *Node, parent *Node) {
		label := n.Name
		if n.Path == "" {
			label = "/"
		}
		if n.IsDir {
			label += "/"
		}
		gn, ok := nodes[n.Path]
		if !ok {
			gn = g.Node("/"+n.Path).Attr("label", label)
			if n.Recursive {
				gn.Attr("style", "filled").Attr("fillcolor", "lightyellow")
			}
			nodes[n.Path] = gn
		}
		if parent != nil {
			g.Edge(nodes[parent.Path], gn)
		}
		for _, c := range n.Children {
			visit(c, n)
		}
	}
	visit(t.root, nil)
	return g
}
