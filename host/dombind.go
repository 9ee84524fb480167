package host

import (
	"errors"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-microapp/dom"
)

type (
	// binder maps dom nodes to script objects, and back. Script state is
	// attached to the nodes themselves, so it is collected with them.
	binder struct {
		h         *Host
		key       *goja.Symbol
		nodeProto *goja.Object
		sheetProt *goja.Object
		doc       *goja.Object
	}

	// binding is the script state of one node or sheet.
	binding struct {
		b         *binder
		obj       *goja.Object
		listeners map[string][]goja.Value
	}

	// handle is stored under binder.key on each wrapper, pointing back at
	// the node or sheet it wraps.
	handle struct {
		node  *dom.Node
		sheet *dom.StyleSheet
	}
)

func newBinder(h *Host) *binder {
	b := &binder{
		h:   h,
		key: goja.NewSymbol(`node`),
	}
	b.nodeProto = b.newNodeProto()
	b.sheetProt = b.newSheetProto()
	return b
}

// Wrap returns the script object for n, or nil if n is nil.
func (h *Host) Wrap(n *dom.Node) *goja.Object { return h.bind.wrap(n) }

// Unwrap returns the node behind a value returned by [Host.Wrap].
func (h *Host) Unwrap(v goja.Value) (*dom.Node, bool) {
	n := h.bind.node(v)
	return n, n != nil
}

// DocumentObject returns the script object bound as the document global.
func (h *Host) DocumentObject() *goja.Object { return h.bind.doc }

// DispatchEvent fires an event of the given type at n, invoking the
// on<type> handler property, then any listeners added with
// addEventListener.
func (h *Host) DispatchEvent(n *dom.Node, typ string) error {
	target := h.Wrap(n)
	if target == nil {
		return dom.ErrNotFound
	}
	return h.bind.dispatch(n, target, h.bind.newEvent(typ, target))
}

func (b *binder) wrap(n *dom.Node) *goja.Object {
	if n == nil {
		return nil
	}
	return b.bound(n).obj
}

// bound returns the script state of n, creating it on first use.
func (b *binder) bound(n *dom.Node) *binding {
	if v, ok := n.Binding().(*binding); ok && v.b == b {
		return v
	}
	v := &binding{b: b, obj: b.newWrapper(b.nodeProto, &handle{node: n})}
	n.SetBinding(v)
	return v
}

func (b *binder) newWrapper(proto *goja.Object, h *handle) *goja.Object {
	o := b.h.rt.NewObject()
	if err := o.SetPrototype(proto); err != nil {
		panic(err)
	}
	if err := o.DefineDataPropertySymbol(b.key, b.h.rt.ToValue(h), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		panic(err)
	}
	return o
}

// handle returns the handle of a wrapper, and the binding it must match.
func (b *binder) handle(v goja.Value) (*goja.Object, *handle) {
	o, ok := v.(*goja.Object)
	if !ok {
		return nil, nil
	}
	hv := o.GetSymbol(b.key)
	if hv == nil {
		return nil, nil
	}
	h, _ := hv.Export().(*handle)
	return o, h
}

// owns reports whether o is the wrapper recorded in the binding v.
func (b *binder) owns(o *goja.Object, v any) bool {
	bn, ok := v.(*binding)
	return ok && bn.b == b && bn.obj == o
}

// node returns the node wrapped by v, or nil.
func (b *binder) node(v goja.Value) *dom.Node {
	if o, h := b.handle(v); h != nil && h.node != nil && b.owns(o, h.node.Binding()) {
		return h.node
	}
	return nil
}

func (b *binder) value(n *dom.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return b.wrap(n)
}

func (b *binder) array(nodes []*dom.Node) goja.Value {
	values := make([]any, len(nodes))
	for i, n := range nodes {
		values[i] = b.wrap(n)
	}
	return b.h.rt.NewArray(values...)
}

func (b *binder) this(call goja.FunctionCall) *dom.Node {
	if n := b.node(call.This); n != nil {
		return n
	}
	panic(b.h.rt.NewTypeError("Illegal invocation"))
}

// arg returns the node passed as argument i, or nil if nullable and the
// argument is null or undefined.
func (b *binder) arg(call goja.FunctionCall, i int, nullable bool) *dom.Node {
	v := call.Argument(i)
	if nullable && (goja.IsUndefined(v) || goja.IsNull(v)) {
		return nil
	}
	if n := b.node(v); n != nil {
		return n
	}
	panic(b.h.rt.NewTypeError("parameter %d is not of type 'Node'", i+1))
}

// throw raises err as a DOMException-like error.
func (b *binder) throw(err error) {
	e := b.h.rt.NewGoError(err)
	switch {
	case errors.Is(err, dom.ErrNotFound):
		_ = e.Set(`name`, `NotFoundError`)
	case errors.Is(err, dom.ErrHierarchy):
		_ = e.Set(`name`, `HierarchyRequestError`)
	case errors.Is(err, dom.ErrIndexSize):
		_ = e.Set(`name`, `IndexSizeError`)
	case errors.Is(err, dom.ErrSyntax):
		_ = e.Set(`name`, `SyntaxError`)
	}
	panic(e)
}

// rethrow raises the first JS exception in err, or err as a Go error.
func (b *binder) rethrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(b.h.rt.NewGoError(err))
}

func (b *binder) method(o *goja.Object, name string, fn func(n *dom.Node, call goja.FunctionCall) goja.Value) {
	_ = o.Set(name, func(call goja.FunctionCall) goja.Value {
		return fn(b.this(call), call)
	})
}

func (b *binder) accessor(o *goja.Object, name string, get func(n *dom.Node) goja.Value, set func(n *dom.Node, v goja.Value)) {
	var setter goja.Value
	if set != nil {
		setter = b.h.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			set(b.this(call), call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = o.DefineAccessorProperty(name, b.h.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return get(b.this(call))
	}), setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (b *binder) reflectAttr(o *goja.Object, name string) {
	b.accessor(o, name, func(n *dom.Node) goja.Value {
		v, _ := n.Attr(name)
		return b.h.rt.ToValue(v)
	}, func(n *dom.Node, v goja.Value) {
		n.SetAttr(name, v.String())
	})
}

func (b *binder) newNodeProto() *goja.Object {
	rt := b.h.rt
	p := rt.NewObject()

	b.method(p, `appendChild`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		res, err := n.AppendChild(b.arg(call, 0, false))
		if err != nil {
			b.throw(err)
		}
		return b.value(res)
	})
	b.method(p, `insertBefore`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		res, err := n.InsertBefore(b.arg(call, 0, false), b.arg(call, 1, true))
		if err != nil {
			b.throw(err)
		}
		return b.value(res)
	})
	b.method(p, `removeChild`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		res, err := n.RemoveChild(b.arg(call, 0, false))
		if err != nil {
			b.throw(err)
		}
		return b.value(res)
	})
	b.method(p, `remove`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		n.Remove()
		return goja.Undefined()
	})
	b.method(p, `contains`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		other := b.arg(call, 0, true)
		return rt.ToValue(other != nil && n.Contains(other))
	})
	b.method(p, `setAttribute`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		n.SetAttr(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	b.method(p, `getAttribute`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		if v, ok := n.Attr(call.Argument(0).String()); ok {
			return rt.ToValue(v)
		}
		return goja.Null()
	})
	b.method(p, `hasAttribute`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		return rt.ToValue(n.HasAttr(call.Argument(0).String()))
	})
	b.method(p, `removeAttribute`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		n.RemoveAttr(call.Argument(0).String())
		return goja.Undefined()
	})
	b.method(p, `querySelector`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		return b.value(n.QuerySelector(call.Argument(0).String()))
	})
	b.method(p, `querySelectorAll`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		return b.array(n.QuerySelectorAll(call.Argument(0).String()))
	})
	b.method(p, `addEventListener`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		typ, fn := call.Argument(0).String(), call.Argument(1)
		if _, ok := goja.AssertFunction(fn); !ok {
			return goja.Undefined()
		}
		bn := b.bound(n)
		if bn.listeners == nil {
			bn.listeners = make(map[string][]goja.Value)
		}
		byType := bn.listeners
		for _, v := range byType[typ] {
			if v.SameAs(fn) {
				return goja.Undefined()
			}
		}
		byType[typ] = append(byType[typ], fn)
		return goja.Undefined()
	})
	b.method(p, `removeEventListener`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		typ, fn := call.Argument(0).String(), call.Argument(1)
		bn := b.bound(n)
		list := bn.listeners[typ]
		for i, v := range list {
			if v.SameAs(fn) {
				bn.listeners[typ] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	})
	b.method(p, `dispatchEvent`, func(n *dom.Node, call goja.FunctionCall) goja.Value {
		event := call.Argument(0).ToObject(rt)
		if err := b.dispatch(n, b.wrap(n), event); err != nil {
			b.rethrow(err)
		}
		return rt.ToValue(true)
	})

	b.accessor(p, `nodeType`, func(n *dom.Node) goja.Value { return rt.ToValue(int(n.Type())) }, nil)
	b.accessor(p, `nodeName`, func(n *dom.Node) goja.Value { return rt.ToValue(n.NodeName()) }, nil)
	b.accessor(p, `tagName`, func(n *dom.Node) goja.Value {
		if n.Type() != dom.ElementNode {
			return goja.Undefined()
		}
		return rt.ToValue(n.TagName())
	}, nil)
	b.accessor(p, `parentNode`, func(n *dom.Node) goja.Value { return b.value(n.Parent()) }, nil)
	b.accessor(p, `firstChild`, func(n *dom.Node) goja.Value { return b.value(n.FirstChild()) }, nil)
	b.accessor(p, `nextSibling`, func(n *dom.Node) goja.Value { return b.value(n.NextSibling()) }, nil)
	b.accessor(p, `childNodes`, func(n *dom.Node) goja.Value { return b.array(n.ChildNodes()) }, nil)
	b.accessor(p, `isConnected`, func(n *dom.Node) goja.Value { return rt.ToValue(n.IsConnected()) }, nil)
	b.accessor(p, `outerHTML`, func(n *dom.Node) goja.Value { return rt.ToValue(n.OuterHTML()) }, nil)
	textContent := func(n *dom.Node) goja.Value { return rt.ToValue(n.TextContent()) }
	setTextContent := func(n *dom.Node, v goja.Value) { n.SetTextContent(v.String()) }
	b.accessor(p, `textContent`, textContent, setTextContent)
	b.accessor(p, `text`, textContent, setTextContent)
	b.accessor(p, `innerHTML`, func(n *dom.Node) goja.Value {
		var s string
		for _, c := range n.ChildNodes() {
			s += c.OuterHTML()
		}
		return rt.ToValue(s)
	}, func(n *dom.Node, v goja.Value) {
		nodes, err := n.Document().ParseFragment(v.String())
		if err != nil {
			b.throw(err)
		}
		for _, c := range n.ChildNodes() {
			_, _ = n.RawRemoveChild(c)
		}
		for _, c := range nodes {
			if _, err := n.RawAppendChild(c); err != nil {
				b.throw(err)
			}
		}
	})
	for _, name := range [...]string{`id`, `src`, `href`, `rel`, `type`} {
		b.reflectAttr(p, name)
	}
	b.accessor(p, `async`, func(n *dom.Node) goja.Value {
		return rt.ToValue(n.HasAttr(`async`))
	}, func(n *dom.Node, v goja.Value) {
		if v.ToBoolean() {
			n.SetAttr(`async`, ``)
		} else {
			n.RemoveAttr(`async`)
		}
	})
	b.accessor(p, `sheet`, func(n *dom.Node) goja.Value {
		if s := n.Sheet(); s != nil {
			return b.sheet(s)
		}
		return goja.Null()
	}, nil)

	return p
}

func (b *binder) newEvent(typ string, target *goja.Object) *goja.Object {
	e := b.h.rt.NewObject()
	_ = e.Set(`type`, typ)
	_ = e.Set(`target`, target)
	return e
}

func (b *binder) dispatch(n *dom.Node, target, event *goja.Object) error {
	typ := event.Get(`type`)
	if typ == nil {
		return nil
	}
	_ = event.Set(`target`, target)
	_ = event.Set(`currentTarget`, target)
	var errs []error
	if fn, ok := goja.AssertFunction(target.Get(`on` + typ.String())); ok {
		if _, err := fn(target, event); err != nil {
			errs = append(errs, err)
		}
	}
	for _, v := range append([]goja.Value(nil), b.bound(n).listeners[typ.String()]...) {
		fn, _ := goja.AssertFunction(v)
		if _, err := fn(target, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *binder) sheet(s *dom.StyleSheet) *goja.Object {
	if v, ok := s.Binding().(*binding); ok && v.b == b {
		return v.obj
	}
	v := &binding{b: b, obj: b.newWrapper(b.sheetProt, &handle{sheet: s})}
	s.SetBinding(v)
	return v.obj
}

func (b *binder) newSheetProto() *goja.Object {
	rt := b.h.rt
	p := rt.NewObject()
	this := func(call goja.FunctionCall) *dom.StyleSheet {
		if o, h := b.handle(call.This); h != nil && h.sheet != nil && b.owns(o, h.sheet.Binding()) {
			return h.sheet
		}
		panic(rt.NewTypeError("Illegal invocation"))
	}
	_ = p.DefineAccessorProperty(`cssRules`, rt.ToValue(func(call goja.FunctionCall) goja.Value {
		rules := this(call).CSSRules()
		values := make([]any, len(rules))
		for i, text := range rules {
			rule := rt.NewObject()
			_ = rule.Set(`cssText`, text)
			values[i] = rule
		}
		return rt.NewArray(values...)
	}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = p.Set(`insertRule`, func(call goja.FunctionCall) goja.Value {
		s := this(call)
		index := int(call.Argument(1).ToInteger())
		i, err := s.InsertRule(call.Argument(0).String(), index)
		if err != nil {
			b.throw(err)
		}
		return rt.ToValue(i)
	})
	_ = p.Set(`deleteRule`, func(call goja.FunctionCall) goja.Value {
		if err := this(call).DeleteRule(int(call.Argument(0).ToInteger())); err != nil {
			b.throw(err)
		}
		return goja.Undefined()
	})
	return p
}

func (b *binder) document() *goja.Object {
	if b.doc != nil {
		return b.doc
	}
	rt := b.h.rt
	doc := b.h.doc
	o := rt.NewObject()
	_ = o.Set(`createElement`, func(call goja.FunctionCall) goja.Value {
		return b.wrap(doc.CreateElement(call.Argument(0).String()))
	})
	_ = o.Set(`createComment`, func(call goja.FunctionCall) goja.Value {
		return b.wrap(doc.CreateComment(call.Argument(0).String()))
	})
	_ = o.Set(`createTextNode`, func(call goja.FunctionCall) goja.Value {
		return b.wrap(doc.CreateTextNode(call.Argument(0).String()))
	})
	_ = o.Set(`querySelector`, func(call goja.FunctionCall) goja.Value {
		return b.value(doc.QuerySelector(call.Argument(0).String()))
	})
	_ = o.Set(`querySelectorAll`, func(call goja.FunctionCall) goja.Value {
		return b.array(doc.QuerySelectorAll(call.Argument(0).String()))
	})
	_ = o.Set(`getElementById`, func(call goja.FunctionCall) goja.Value {
		for _, n := range doc.QuerySelectorAll(`[id]`) {
			if v, _ := n.Attr(`id`); v == call.Argument(0).String() {
				return b.wrap(n)
			}
		}
		return goja.Null()
	})
	for name, fn := range map[string]func() *dom.Node{
		`head`:            doc.Head,
		`body`:            doc.Body,
		`documentElement`: doc.DocumentElement,
	} {
		_ = o.DefineAccessorProperty(name, rt.ToValue(func(goja.FunctionCall) goja.Value {
			return b.value(fn())
		}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}
	b.doc = o
	return o
}
