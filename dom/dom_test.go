package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingInterceptor struct {
	inserts []*Node
	removes []*Node
	handle  bool
}

func (x *recordingInterceptor) Insert(parent, child, ref *Node) (*Node, bool, error) {
	x.inserts = append(x.inserts, child)
	return child, x.handle, nil
}

func (x *recordingInterceptor) Remove(parent, child *Node) (*Node, bool, error) {
	x.removes = append(x.removes, child)
	return child, x.handle, nil
}

func TestNewDocument(t *testing.T) {
	d := NewDocument()
	require.NotNil(t, d.Head())
	require.NotNil(t, d.Body())
	require.Equal(t, `HTML`, d.DocumentElement().TagName())
	require.True(t, d.Head().IsConnected())
	require.Same(t, d.Head(), d.QuerySelector(`head`))
}

func TestNode_identity(t *testing.T) {
	d := NewDocument()
	el := d.CreateElement(`DIV`)
	_, err := d.Body().AppendChild(el)
	require.NoError(t, err)
	require.Same(t, el, d.Body().FirstChild())
	require.Same(t, el, d.QuerySelector(`body > div`))
	require.Equal(t, `DIV`, el.TagName())
}

func TestNode_InsertBefore(t *testing.T) {
	d := NewDocument()
	body := d.Body()
	a, b, c := d.CreateElement(`a`), d.CreateElement(`b`), d.CreateElement(`i`)
	_, err := body.AppendChild(a)
	require.NoError(t, err)
	_, err = body.AppendChild(c)
	require.NoError(t, err)
	_, err = body.InsertBefore(b, c)
	require.NoError(t, err)
	require.Equal(t, []*Node{a, b, c}, body.ChildNodes())
	require.Equal(t, 1, body.IndexOf(b))

	_, err = body.InsertBefore(d.CreateElement(`p`), d.CreateElement(`p`))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = a.AppendChild(body)
	require.ErrorIs(t, err, ErrHierarchy)

	// moving an attached node
	_, err = a.AppendChild(c)
	require.NoError(t, err)
	require.Equal(t, []*Node{a, b}, body.ChildNodes())
	require.True(t, body.Contains(c))
}

func TestNode_RemoveChild(t *testing.T) {
	d := NewDocument()
	el := d.CreateElement(`div`)
	_, err := d.Body().RemoveChild(el)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = d.Body().AppendChild(el)
	require.NoError(t, err)
	_, err = d.Body().RemoveChild(el)
	require.NoError(t, err)
	require.False(t, el.IsConnected())
	require.Nil(t, el.Parent())
}

func TestNode_attributes(t *testing.T) {
	d := NewDocument()
	el := d.CreateElement(`script`)
	_, ok := el.Attr(`src`)
	require.False(t, ok)
	el.SetAttr(`SRC`, `/a.js`)
	el.SetAttr(`src`, `/b.js`)
	v, ok := el.Attr(`src`)
	require.True(t, ok)
	require.Equal(t, `/b.js`, v)
	el.SetAttr(`async`, ``)
	require.True(t, el.HasAttr(`async`))
	el.RemoveAttr(`async`)
	require.False(t, el.HasAttr(`async`))
	require.Equal(t, `<script src="/b.js"></script>`, el.OuterHTML())
}

func TestDocument_interceptor(t *testing.T) {
	d := NewDocument()
	rec := &recordingInterceptor{handle: true}
	d.SetInterceptor(rec)

	style := d.CreateElement(`style`)
	_, err := d.Head().AppendChild(style)
	require.NoError(t, err)
	require.Equal(t, []*Node{style}, rec.inserts)
	require.False(t, style.IsConnected())

	// other parents are never intercepted
	div := d.CreateElement(`div`)
	_, err = d.Body().RawAppendChild(div)
	require.NoError(t, err)
	_, err = div.AppendChild(d.CreateElement(`span`))
	require.NoError(t, err)
	require.Len(t, rec.inserts, 1)

	_, err = d.Body().RemoveChild(div)
	require.NoError(t, err)
	require.Equal(t, []*Node{div}, rec.removes)
	require.True(t, div.IsConnected())

	rec.handle = false
	_, err = d.Body().RemoveChild(div)
	require.NoError(t, err)
	require.False(t, div.IsConnected())

	d.SetInterceptor(nil)
	_, err = d.Head().AppendChild(style)
	require.NoError(t, err)
	require.Len(t, rec.inserts, 1)
}

func TestStyleSheet_lifecycle(t *testing.T) {
	d := NewDocument()
	style := d.CreateElement(`style`)
	style.SetTextContent(`.a { color: red } .b { color: blue }`)
	require.Nil(t, style.Sheet())

	_, err := d.Head().AppendChild(style)
	require.NoError(t, err)
	sheet := style.Sheet()
	require.NotNil(t, sheet)
	require.Equal(t, 2, sheet.Len())

	_, err = sheet.InsertRule(`.c { margin: 0 }`, 2)
	require.NoError(t, err)
	require.Equal(t, 3, sheet.Len())
	require.True(t, strings.Contains(sheet.CSSRules()[2], `margin: 0`))

	_, err = sheet.InsertRule(`.d { margin: 0 }`, 9)
	require.ErrorIs(t, err, ErrIndexSize)
	_, err = sheet.InsertRule(``, 0)
	require.ErrorIs(t, err, ErrSyntax)

	style.Remove()
	require.Nil(t, style.Sheet())

	_, err = d.Head().AppendChild(style)
	require.NoError(t, err)
	require.Equal(t, 2, style.Sheet().Len(), `programmatic rules are lost on re-attach`)
}

func TestStyleSheet_nestedDisconnect(t *testing.T) {
	d := NewDocument()
	container := d.CreateElement(`div`)
	_, err := d.Body().AppendChild(container)
	require.NoError(t, err)
	style := d.CreateElement(`style`)
	_, err = container.AppendChild(style)
	require.NoError(t, err)
	require.NotNil(t, style.Sheet())
	require.Zero(t, style.Sheet().Len())

	container.Remove()
	require.Nil(t, style.Sheet())
}

func TestDocument_ParseFragment(t *testing.T) {
	d := NewDocument()
	nodes, err := d.ParseFragment(`<div id="app"><qiankun-head></qiankun-head><p>x</p></div>`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	root := nodes[0]
	require.Nil(t, root.Parent())
	require.NotNil(t, root.QuerySelector(`qiankun-head`))
	_, err = d.Body().AppendChild(root)
	require.NoError(t, err)
	require.Same(t, root, d.QuerySelector(`#app`))
	require.Equal(t, `x`, root.TextContent())
	require.Contains(t, d.Render(), `<div id="app">`)
}
