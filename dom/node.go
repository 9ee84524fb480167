package dom

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NodeType identifies the kind of a [Node].
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
	DoctypeNode  NodeType = 10
)

var (
	// ErrNotFound indicates a reference or removed node is not a child of
	// the node operated on.
	ErrNotFound = errors.New(`dom: node is not a child of this node`)

	// ErrHierarchy indicates an insertion would create a cycle, or insert
	// into a node that cannot have children.
	ErrHierarchy = errors.New(`dom: invalid hierarchy`)
)

// Node is a node of a [Document]. The zero value is not usable.
type Node struct {
	raw     *html.Node
	doc     *Document
	reg     *registry
	sheet   *StyleSheet
	owner   string
	binding any
}

// Document returns the owning document.
func (n *Node) Document() *Document { return n.doc }

// Type returns the kind of node.
func (n *Node) Type() NodeType {
	switch n.raw.Type {
	case html.ElementNode:
		return ElementNode
	case html.TextNode:
		return TextNode
	case html.CommentNode:
		return CommentNode
	case html.DoctypeNode:
		return DoctypeNode
	default:
		return DocumentNode
	}
}

// TagName returns the upper-cased tag name of an element, or "".
func (n *Node) TagName() string {
	if n.raw.Type != html.ElementNode {
		return ``
	}
	return strings.ToUpper(n.raw.Data)
}

// NodeName mirrors the DOM nodeName property.
func (n *Node) NodeName() string {
	switch n.raw.Type {
	case html.ElementNode:
		return n.TagName()
	case html.TextNode:
		return `#text`
	case html.CommentNode:
		return `#comment`
	case html.DoctypeNode:
		return n.raw.Data
	default:
		return `#document`
	}
}

// Is reports whether n is an element with the given (case-insensitive) tag.
func (n *Node) Is(tag string) bool {
	return n.raw.Type == html.ElementNode && strings.EqualFold(n.raw.Data, tag)
}

// Binding returns the value attached by [Node.SetBinding], or nil.
func (n *Node) Binding() any { return n.binding }

// SetBinding attaches an opaque value to n, such as a script wrapper. It
// lives exactly as long as n.
func (n *Node) SetBinding(v any) { n.binding = v }

// Owner returns the app that created this node through its scoped document,
// or "" if none did.
func (n *Node) Owner() string { return n.owner }

// SetOwner records the app that created this node.
func (n *Node) SetOwner(app string) { n.owner = app }

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.raw.Attr {
		if a.Namespace == `` && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return ``, false
}

// HasAttr reports whether the named attribute is present.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attr(name)
	return ok
}

// SetAttr sets the named attribute, replacing any existing value.
func (n *Node) SetAttr(name, value string) {
	name = strings.ToLower(name)
	for i, a := range n.raw.Attr {
		if a.Namespace == `` && a.Key == name {
			n.raw.Attr[i].Val = value
			return
		}
	}
	n.raw.Attr = append(n.raw.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr removes the named attribute, if present.
func (n *Node) RemoveAttr(name string) {
	attrs := n.raw.Attr[:0]
	for _, a := range n.raw.Attr {
		if a.Namespace == `` && strings.EqualFold(a.Key, name) {
			continue
		}
		attrs = append(attrs, a)
	}
	n.raw.Attr = attrs
}

// TextContent mirrors the DOM textContent getter.
func (n *Node) TextContent() string {
	switch n.raw.Type {
	case html.TextNode, html.CommentNode:
		return n.raw.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			if cc.Type == html.TextNode {
				b.WriteString(cc.Data)
			} else {
				walk(cc)
			}
		}
	}
	walk(n.raw)
	return b.String()
}

// SetTextContent replaces all children with a single text node. A connected
// <style> element gets a fresh sheet.
func (n *Node) SetTextContent(text string) {
	switch n.raw.Type {
	case html.TextNode, html.CommentNode:
		n.raw.Data = text
		return
	}
	for c := n.raw.FirstChild; c != nil; {
		next := c.NextSibling
		n.raw.RemoveChild(c)
		n.doc.moved(c, n.reg)
		c = next
	}
	if text != `` {
		n.raw.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	if n.raw.DataAtom == atom.Style && n.sheet != nil {
		n.sheet = newStyleSheet(text)
	}
}

// Sheet returns the style sheet of a connected <style> element, or nil.
func (n *Node) Sheet() *StyleSheet { return n.sheet }

// Parent returns the parent node, or nil.
func (n *Node) Parent() *Node { return n.doc.wrap(n.raw.Parent) }

// FirstChild returns the first child, or nil.
func (n *Node) FirstChild() *Node { return n.doc.wrap(n.raw.FirstChild) }

// NextSibling returns the next sibling, or nil.
func (n *Node) NextSibling() *Node { return n.doc.wrap(n.raw.NextSibling) }

// ChildNodes returns a snapshot of the children.
func (n *Node) ChildNodes() []*Node {
	var nodes []*Node
	for c := n.raw.FirstChild; c != nil; c = c.NextSibling {
		nodes = append(nodes, n.doc.wrap(c))
	}
	return nodes
}

// IndexOf returns the position of child within n's children, or -1.
func (n *Node) IndexOf(child *Node) int {
	var i int
	for c := n.raw.FirstChild; c != nil; c = c.NextSibling {
		if child != nil && c == child.raw {
			return i
		}
		i++
	}
	return -1
}

// Contains reports whether other is n or a descendant of n.
func (n *Node) Contains(other *Node) bool {
	return other != nil && isAncestor(n.raw, other.raw)
}

// IsConnected reports whether n is attached to its document.
func (n *Node) IsConnected() bool { return isAncestor(n.doc.root, n.raw) }

// QuerySelector returns the first matching descendant element, or nil.
func (n *Node) QuerySelector(selector string) *Node {
	return n.doc.querySelector(n.raw, selector)
}

// QuerySelectorAll returns every matching descendant element.
func (n *Node) QuerySelectorAll(selector string) []*Node {
	return n.doc.querySelectorAll(n.raw, selector)
}

// OuterHTML serializes n and its descendants.
func (n *Node) OuterHTML() string {
	var b bytes.Buffer
	_ = html.Render(&b, n.raw)
	return b.String()
}

func (n *Node) intercepted() Interceptor {
	if n.doc.interceptor == nil || n.raw.Type != html.ElementNode {
		return nil
	}
	if n.raw.DataAtom != atom.Head && n.raw.DataAtom != atom.Body {
		return nil
	}
	if p := n.raw.Parent; p == nil || p.DataAtom != atom.Html || p.Parent != n.doc.root {
		return nil
	}
	return n.doc.interceptor
}

// AppendChild appends child, consulting the interceptor for head and body.
func (n *Node) AppendChild(child *Node) (*Node, error) {
	return n.InsertBefore(child, nil)
}

// InsertBefore inserts child before ref (appending if ref is nil),
// consulting the interceptor for head and body.
func (n *Node) InsertBefore(child, ref *Node) (*Node, error) {
	if i := n.intercepted(); i != nil {
		if result, handled, err := i.Insert(n, child, ref); handled || err != nil {
			return result, err
		}
	}
	return n.RawInsertBefore(child, ref)
}

// RemoveChild removes child, consulting the interceptor for head and body.
func (n *Node) RemoveChild(child *Node) (*Node, error) {
	if i := n.intercepted(); i != nil {
		if result, handled, err := i.Remove(n, child); handled || err != nil {
			return result, err
		}
	}
	return n.RawRemoveChild(child)
}

// Remove detaches n from its parent, without interception.
func (n *Node) Remove() {
	if n.raw.Parent != nil {
		_, _ = n.Parent().RawRemoveChild(n)
	}
}

// RawAppendChild is the native append.
func (n *Node) RawAppendChild(child *Node) (*Node, error) {
	return n.RawInsertBefore(child, nil)
}

// RawInsertBefore is the native insertBefore. An attached child is moved.
func (n *Node) RawInsertBefore(child, ref *Node) (*Node, error) {
	if child == nil || child.doc != n.doc {
		return nil, ErrHierarchy
	}
	switch n.raw.Type {
	case html.TextNode, html.CommentNode, html.DoctypeNode:
		return nil, ErrHierarchy
	}
	if isAncestor(child.raw, n.raw) {
		return nil, ErrHierarchy
	}
	if ref != nil && ref.raw.Parent != n.raw {
		return nil, ErrNotFound
	}
	if ref == child {
		return child, nil
	}
	old := child.reg
	if p := child.raw.Parent; p != nil {
		p.RemoveChild(child.raw)
	}
	var refRaw *html.Node
	if ref != nil {
		refRaw = ref.raw
	}
	n.raw.InsertBefore(child.raw, refRaw)
	n.doc.moved(child.raw, old)
	return child, nil
}

// RawRemoveChild is the native removeChild.
func (n *Node) RawRemoveChild(child *Node) (*Node, error) {
	if child == nil || child.raw.Parent != n.raw {
		return nil, ErrNotFound
	}
	n.raw.RemoveChild(child.raw)
	n.doc.moved(child.raw, child.reg)
	return child, nil
}
