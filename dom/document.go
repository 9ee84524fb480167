package dom

import (
	"bytes"
	"io"
	"strings"
	"weak"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type (
	// Document is a mutable HTML document.
	Document struct {
		root        *html.Node
		connected   *registry
		trees       map[*html.Node]weak.Pointer[registry]
		sweepAt     int
		interceptor Interceptor
	}

	// Interceptor is consulted by head and body insertion/removal, see the
	// package docs. Returning handled=false falls through to the native
	// operation.
	Interceptor interface {
		Insert(parent, child, ref *Node) (result *Node, handled bool, err error)
		Remove(parent, child *Node) (result *Node, handled bool, err error)
	}
)

const emptyDocument = `<!DOCTYPE html><html><head></head><body></body></html>`

// NewDocument returns an empty document, with head and body.
func NewDocument() *Document {
	d, err := ParseDocument(strings.NewReader(emptyDocument))
	if err != nil {
		panic(err)
	}
	return d
}

// ParseDocument parses a full HTML document. Missing head or body elements
// are implied by the parser.
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	d := &Document{
		root:      root,
		connected: newRegistry(root),
		trees:     make(map[*html.Node]weak.Pointer[registry]),
	}
	d.moved(root, d.connected)
	return d, nil
}

func (d *Document) wrap(n *html.Node) *Node {
	if n == nil {
		return nil
	}
	reg := d.registryOf(n)
	if v, ok := reg.members[n]; ok {
		return v
	}
	v := &Node{raw: n, doc: d, reg: reg}
	reg.members[n] = v
	return v
}

// Interceptor returns the registered interceptor, or nil.
func (d *Document) Interceptor() Interceptor { return d.interceptor }

// SetInterceptor replaces the registered interceptor. A nil value removes it.
func (d *Document) SetInterceptor(i Interceptor) { d.interceptor = i }

// Root returns the document node.
func (d *Document) Root() *Node { return d.wrap(d.root) }

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() *Node {
	return d.wrap(findChildElement(d.root, atom.Html))
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *Node {
	if el := findChildElement(d.root, atom.Html); el != nil {
		return d.wrap(findChildElement(el, atom.Head))
	}
	return nil
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *Node {
	if el := findChildElement(d.root, atom.Html); el != nil {
		return d.wrap(findChildElement(el, atom.Body))
	}
	return nil
}

// CreateElement returns a new, disconnected element.
func (d *Document) CreateElement(tag string) *Node {
	tag = strings.ToLower(tag)
	return d.wrap(&html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	})
}

// CreateComment returns a new, disconnected comment node.
func (d *Document) CreateComment(text string) *Node {
	return d.wrap(&html.Node{Type: html.CommentNode, Data: text})
}

// CreateTextNode returns a new, disconnected text node.
func (d *Document) CreateTextNode(text string) *Node {
	return d.wrap(&html.Node{Type: html.TextNode, Data: text})
}

// ParseFragment parses markup as the children of a <div>, returning the
// resulting top-level nodes, all disconnected.
func (d *Document) ParseFragment(markup string) ([]*Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: `div`, DataAtom: atom.Div}
	raw, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, len(raw))
	for i, n := range raw {
		nodes[i] = d.wrap(n)
	}
	return nodes, nil
}

// QuerySelector returns the first element matching the CSS selector, in
// document order, or nil. Invalid selectors match nothing.
func (d *Document) QuerySelector(selector string) *Node {
	return d.querySelector(d.root, selector)
}

func (d *Document) querySelector(from *html.Node, selector string) *Node {
	sel := goquery.NewDocumentFromNode(from).Find(selector)
	if sel.Length() == 0 {
		return nil
	}
	return d.wrap(sel.Get(0))
}

func (d *Document) querySelectorAll(from *html.Node, selector string) []*Node {
	sel := goquery.NewDocumentFromNode(from).Find(selector)
	nodes := make([]*Node, 0, sel.Length())
	for _, n := range sel.Nodes {
		nodes = append(nodes, d.wrap(n))
	}
	return nodes
}

// QuerySelectorAll returns every element matching the CSS selector, in
// document order.
func (d *Document) QuerySelectorAll(selector string) []*Node {
	return d.querySelectorAll(d.root, selector)
}

// Render serializes the whole document.
func (d *Document) Render() string {
	var b bytes.Buffer
	_ = html.Render(&b, d.root)
	return b.String()
}

func findChildElement(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// isAncestor reports whether a is n or an ancestor of n.
func isAncestor(a, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == a {
			return true
		}
	}
	return false
}
