package dom

import (
	"weak"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// registry maps the raw nodes of one tree to their wrappers. The document
// holds the registry of its own tree. Each detached tree has a registry of
// its own, held only by its member wrappers, so a detached tree nothing
// refers to is collected along with its wrappers.
type registry struct {
	root    *html.Node
	members map[*html.Node]*Node
}

func newRegistry(root *html.Node) *registry {
	return &registry{root: root, members: make(map[*html.Node]*Node)}
}

// registryOf returns the registry of the tree containing n, creating it for
// a detached tree that has none.
func (d *Document) registryOf(n *html.Node) *registry {
	top := n
	for top.Parent != nil {
		top = top.Parent
	}
	if top == d.root {
		return d.connected
	}
	if p, ok := d.trees[top]; ok {
		if r := p.Value(); r != nil {
			return r
		}
	}
	if len(d.trees) >= d.sweepAt {
		d.sweep()
	}
	r := newRegistry(top)
	d.trees[top] = weak.Make(r)
	return r
}

// sweep drops the entries of collected detached trees.
func (d *Document) sweep() {
	for k, p := range d.trees {
		if p.Value() == nil {
			delete(d.trees, k)
		}
	}
	d.sweepAt = 2*len(d.trees) + 16
}

// moved must follow any change to the tree membership of the subtree rooted
// at n, where old is the registry of the tree n belonged to. Wrappers move
// to the registry of n's new tree, and <style> sheets follow connectivity.
func (d *Document) moved(n *html.Node, old *registry) {
	reg := d.registryOf(n)
	connected := reg == d.connected
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		v := old.members[c]
		if v != nil && old != reg {
			delete(old.members, c)
			reg.members[c] = v
			v.reg = reg
		}
		if c.Type == html.ElementNode && c.DataAtom == atom.Style {
			switch {
			case connected:
				if v == nil {
					v = d.wrap(c)
				}
				if v.sheet == nil {
					v.sheet = newStyleSheet(v.TextContent())
				}
			case v != nil:
				v.sheet = nil
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)
	if old != reg && old != d.connected && len(old.members) == 0 {
		if p, ok := d.trees[old.root]; ok && p.Value() == old {
			delete(d.trees, old.root)
		}
	}
}

// Tracked reports the number of live node wrappers, split by whether their
// tree is connected. Detached trees nothing refers to are not counted once
// collected.
func (d *Document) Tracked() (connected, detached int) {
	d.sweep()
	for _, p := range d.trees {
		if r := p.Value(); r != nil {
			detached += len(r.members)
		}
	}
	return len(d.connected.members), detached
}
