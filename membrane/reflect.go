package membrane

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// reflector holds the host intrinsics captured at creation, so later
// monkeypatching of Object or Reflect by app code has no effect on the
// membrane itself.
type reflector struct {
	rt                       *goja.Runtime
	proxy                    *goja.Object
	getOwnPropertyDescriptor goja.Callable
	getOwnPropertyNames      goja.Callable
	defineProperty           goja.Callable
	deleteProperty           goja.Callable
	ownKeys                  goja.Callable
	has                      goja.Callable
	set                      goja.Callable
	hasOwnProperty           goja.Callable
	functionToString         goja.Callable
}

var (
	constructableFunctionPattern = regexp.MustCompile(`^function\b\s[A-Z].*`)
	classPattern                 = regexp.MustCompile(`^class\b`)
)

func newReflector(rt *goja.Runtime) (*reflector, error) {
	global := rt.GlobalObject()
	lookupObject := func(path ...string) (*goja.Object, error) {
		var v goja.Value = global
		for _, name := range path {
			o, ok := v.(*goja.Object)
			if !ok {
				return nil, fmt.Errorf(`%w: %s is unavailable`, ErrHostIncompatible, strings.Join(path, `.`))
			}
			v = o.Get(name)
		}
		o, ok := v.(*goja.Object)
		if !ok {
			return nil, fmt.Errorf(`%w: %s is unavailable`, ErrHostIncompatible, strings.Join(path, `.`))
		}
		return o, nil
	}
	lookup := func(path ...string) (goja.Callable, error) {
		o, err := lookupObject(path...)
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(o)
		if !ok {
			return nil, fmt.Errorf(`%w: %s is not a function`, ErrHostIncompatible, strings.Join(path, `.`))
		}
		return fn, nil
	}

	r := reflector{rt: rt}
	var err error
	if r.proxy, err = lookupObject(`Proxy`); err != nil {
		return nil, err
	}
	for _, v := range [...]struct {
		dst  *goja.Callable
		path []string
	}{
		{&r.getOwnPropertyDescriptor, []string{`Object`, `getOwnPropertyDescriptor`}},
		{&r.getOwnPropertyNames, []string{`Object`, `getOwnPropertyNames`}},
		{&r.defineProperty, []string{`Reflect`, `defineProperty`}},
		{&r.deleteProperty, []string{`Reflect`, `deleteProperty`}},
		{&r.ownKeys, []string{`Reflect`, `ownKeys`}},
		{&r.has, []string{`Reflect`, `has`}},
		{&r.set, []string{`Reflect`, `set`}},
		{&r.hasOwnProperty, []string{`Object`, `prototype`, `hasOwnProperty`}},
		{&r.functionToString, []string{`Function`, `prototype`, `toString`}},
	} {
		if *v.dst, err = lookup(v.path...); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// call invokes fn, rethrowing any exception into the calling script.
func (r *reflector) call(fn goja.Callable, this goja.Value, args ...goja.Value) goja.Value {
	v, err := fn(this, args...)
	if err != nil {
		panic(err)
	}
	return v
}

func (r *reflector) hasOwn(o *goja.Object, key goja.Value) bool {
	return r.call(r.hasOwnProperty, o, key).ToBoolean()
}

func (r *reflector) in(o *goja.Object, key goja.Value) bool {
	return r.call(r.has, goja.Undefined(), o, key).ToBoolean()
}

func (r *reflector) keys(o *goja.Object) []goja.Value {
	arr, ok := r.call(r.ownKeys, goja.Undefined(), o).(*goja.Object)
	if !ok {
		return nil
	}
	n := int(arr.Get(`length`).ToInteger())
	keys := make([]goja.Value, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, arr.Get(strconv.Itoa(i)))
	}
	return keys
}

func (r *reflector) names(o *goja.Object) []string {
	var names []string
	_ = r.rt.ExportTo(r.call(r.getOwnPropertyNames, goja.Undefined(), o), &names)
	return names
}

// get reads key, returning undefined rather than nil for missing keys.
func (r *reflector) get(o *goja.Object, key goja.Value) goja.Value {
	var v goja.Value
	if s, ok := key.(*goja.Symbol); ok {
		v = o.GetSymbol(s)
	} else {
		v = o.Get(key.String())
	}
	if v == nil {
		return goja.Undefined()
	}
	return v
}

func (r *reflector) put(o *goja.Object, key, value goja.Value) bool {
	return r.call(r.set, goja.Undefined(), o, key, value).ToBoolean()
}

func (r *reflector) remove(o *goja.Object, key goja.Value) bool {
	return r.call(r.deleteProperty, goja.Undefined(), o, key).ToBoolean()
}

// descriptor returns the raw descriptor object, or nil.
func (r *reflector) descriptor(o *goja.Object, key goja.Value) *goja.Object {
	v := r.call(r.getOwnPropertyDescriptor, goja.Undefined(), o, key)
	if d, ok := v.(*goja.Object); ok {
		return d
	}
	return nil
}

func (r *reflector) define(o *goja.Object, key goja.Value, desc *goja.Object) bool {
	return r.call(r.defineProperty, goja.Undefined(), o, key, desc).ToBoolean()
}

// frozen reports whether the own property is non-configurable, and either
// non-writable or a getter without a setter.
func (r *reflector) frozen(o *goja.Object, key goja.Value) bool {
	d := r.descriptor(o, key)
	if d == nil || flagOf(d, `configurable`) != goja.FLAG_FALSE {
		return false
	}
	if flagOf(d, `writable`) == goja.FLAG_FALSE {
		return true
	}
	return isDefined(d, `get`) && !isDefined(d, `set`)
}

func flagOf(d *goja.Object, name string) goja.Flag {
	v := d.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return goja.FLAG_NOT_SET
	}
	if v.ToBoolean() {
		return goja.FLAG_TRUE
	}
	return goja.FLAG_FALSE
}

func isDefined(d *goja.Object, name string) bool {
	v := d.Get(name)
	return v != nil && !goja.IsUndefined(v)
}

// toPropertyDescriptor converts a descriptor object.
func (r *reflector) toPropertyDescriptor(d *goja.Object) goja.PropertyDescriptor {
	var desc goja.PropertyDescriptor
	has := func(name string) bool { return r.hasOwn(d, r.rt.ToValue(name)) }
	if has(`value`) {
		desc.Value = d.Get(`value`)
	}
	if has(`get`) {
		desc.Getter = d.Get(`get`)
	}
	if has(`set`) {
		desc.Setter = d.Get(`set`)
	}
	desc.Writable = flagOf(d, `writable`)
	desc.Configurable = flagOf(d, `configurable`)
	desc.Enumerable = flagOf(d, `enumerable`)
	return desc
}

// fromPropertyDescriptor converts to a descriptor object.
func (r *reflector) fromPropertyDescriptor(desc goja.PropertyDescriptor) *goja.Object {
	d := r.rt.NewObject()
	if desc.Value != nil {
		_ = d.Set(`value`, desc.Value)
	}
	if desc.Getter != nil {
		_ = d.Set(`get`, desc.Getter)
	}
	if desc.Setter != nil {
		_ = d.Set(`set`, desc.Setter)
	}
	for _, v := range [...]struct {
		name string
		flag goja.Flag
	}{
		{`writable`, desc.Writable},
		{`configurable`, desc.Configurable},
		{`enumerable`, desc.Enumerable},
	} {
		if v.flag != goja.FLAG_NOT_SET {
			_ = d.Set(v.name, v.flag == goja.FLAG_TRUE)
		}
	}
	return d
}

// plainCallable returns the function, if value is callable, not already bound,
// and not plausibly a constructor.
func (r *reflector) plainCallable(value goja.Value) (*goja.Object, goja.Callable, bool) {
	fn, ok := value.(*goja.Object)
	if !ok {
		return nil, nil, false
	}
	call, ok := goja.AssertFunction(fn)
	if !ok || r.bound(fn) || r.constructable(fn) {
		return nil, nil, false
	}
	return fn, call, true
}

func (r *reflector) bound(fn *goja.Object) bool {
	name := fn.Get(`name`)
	return name != nil && strings.HasPrefix(name.String(), `bound `) && !r.hasOwn(fn, r.rt.ToValue(`prototype`))
}

func (r *reflector) constructable(fn *goja.Object) bool {
	if proto, ok := fn.Get(`prototype`).(*goja.Object); ok {
		if ctor := proto.Get(`constructor`); ctor != nil && ctor.SameAs(fn) && len(r.names(proto)) > 1 {
			return true
		}
	}
	source, err := r.functionToString(fn)
	if err != nil {
		return false
	}
	s := source.String()
	return constructableFunctionPattern.MatchString(s) || classPattern.MatchString(s)
}

// rebind wraps fn so the host receives calls made with a window-like (or
// absent) receiver. Enumerable properties are copied by value, and an own
// prototype by descriptor, since assignment may hit a read-only prototype
// further up the chain.
func (r *reflector) rebind(target, fn *goja.Object, call goja.Callable, isWindow func(goja.Value) bool) *goja.Object {
	bound := r.rt.ToValue(func(c goja.FunctionCall) goja.Value {
		this := c.This
		if this == nil || goja.IsUndefined(this) || isWindow(this) {
			this = target
		}
		return r.call(call, this, c.Arguments...)
	}).(*goja.Object)
	for _, k := range fn.Keys() {
		_ = bound.Set(k, fn.Get(k))
	}
	if key := r.rt.ToValue(`prototype`); r.hasOwn(fn, key) {
		r.define(bound, key, r.fromPropertyDescriptor(goja.PropertyDescriptor{
			Value:      fn.Get(`prototype`),
			Writable:   goja.FLAG_TRUE,
			Enumerable: goja.FLAG_FALSE,
		}))
	}
	return bound
}

// Rebind returns value unchanged unless it is a plain callable (callable,
// not bound, not a constructor), in which case it returns a wrapper that
// substitutes target as the receiver whenever the receiver is undefined or
// is window-like (has a window property referencing itself).
func Rebind(rt *goja.Runtime, target *goja.Object, value goja.Value) (goja.Value, error) {
	r, err := newReflector(rt)
	if err != nil {
		return nil, err
	}
	fn, call, ok := r.plainCallable(value)
	if !ok {
		return value, nil
	}
	return r.rebind(target, fn, call, func(v goja.Value) bool { return isWindowLike(v, target) }), nil
}

func isWindowLike(v goja.Value, known ...*goja.Object) bool {
	o, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	for _, k := range known {
		if o == k {
			return true
		}
	}
	w := o.Get(`window`)
	return w != nil && w.SameAs(o)
}
