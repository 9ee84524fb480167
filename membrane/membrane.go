package membrane

import (
	"errors"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

var (
	// ErrHostIncompatible indicates the runtime lacks a primitive the
	// membrane depends on, e.g. Proxy.
	ErrHostIncompatible = errors.New(`membrane: host runtime is incompatible`)
)

type (
	// Membrane is a virtual global for a single app. See the package docs.
	Membrane struct {
		rt          *goja.Runtime
		r           *reflector
		logger      *logiface.Logger[logiface.Event]
		warnings    *catrate.Limiter
		host        *goja.Object
		native      *goja.Object
		target      *goja.Object
		proxy       *goja.Object
		unscopables *goja.Object
		hasOwn      *goja.Object
		escape      map[string]struct{}
		nativeNames map[string]struct{}
		fastLookup  map[string]struct{}
		// accessors are the host properties read from the host on every
		// access, to preserve their getter side effects
		accessors map[string]struct{}
		// fromHost records where the most recent descriptor lookup resolved
		fromHost    map[string]bool
		modified    map[string]struct{}
		order       []string
		bound       map[boundKey]*goja.Object
		name        string
		latest      string
		hasLatest   bool
		locked      bool
		development bool
	}

	boundKey struct {
		fn     *goja.Object
		target *goja.Object
	}
)

// New creates a membrane over global, which is normally the runtime's global
// object. A membrane starts unlocked.
func New(rt *goja.Runtime, global *goja.Object, opts ...Option) (*Membrane, error) {
	cfg, err := resolveMembraneOptions(opts)
	if err != nil {
		return nil, err
	}
	r, err := newReflector(rt)
	if err != nil {
		return nil, err
	}
	if global == nil {
		global = rt.GlobalObject()
	}

	m := &Membrane{
		rt:          rt,
		r:           r,
		logger:      cfg.logger,
		host:        global,
		native:      cfg.native,
		target:      rt.NewObject(),
		escape:      toSet(cfg.escapeList),
		nativeNames: toSet(cfg.nativeBindings),
		fastLookup:  fastLookupGlobals(),
		accessors:   make(map[string]struct{}),
		fromHost:    make(map[string]bool),
		modified:    make(map[string]struct{}),
		bound:       make(map[boundKey]*goja.Object),
		name:        cfg.name,
		development: cfg.development,
	}
	if m.native == nil {
		m.native = global
	}
	if m.development {
		m.warnings = catrate.NewLimiter(map[time.Duration]int{time.Minute: 1})
	}

	for k, v := range cfg.seed {
		if err := m.target.Set(k, v); err != nil {
			return nil, err
		}
	}
	if err := m.copyHostProperties(); err != nil {
		return nil, err
	}

	m.unscopables = rt.NewObject()
	for _, name := range es2015Globals {
		if r.in(global, rt.ToValue(name)) {
			_ = m.unscopables.Set(name, true)
		}
	}

	m.hasOwn = rt.ToValue(m.hasOwnProperty).(*goja.Object)

	proxy, err := rt.New(r.proxy, m.target, m.handler())
	if err != nil {
		return nil, errors.Join(ErrHostIncompatible, err)
	}
	m.proxy = proxy

	return m, nil
}

// copyHostProperties copies every non-configurable host property onto the
// target, reported as configurable. A proxy cannot report a property as
// non-configurable unless the target has it that way, and the get trap must
// be free to return the membrane for the window aliases.
func (m *Membrane) copyHostProperties() (err error) {
	defer func() {
		if v := recover(); v != nil {
			if e, ok := v.(error); ok {
				err = errors.Join(ErrHostIncompatible, e)
				return
			}
			panic(v)
		}
	}()
	for _, name := range m.r.names(m.host) {
		key := m.rt.ToValue(name)
		d := m.r.descriptor(m.host, key)
		if d == nil || flagOf(d, `configurable`) != goja.FLAG_FALSE {
			continue
		}
		desc := m.r.toPropertyDescriptor(d)
		desc.Configurable = goja.FLAG_TRUE
		accessor := desc.Getter != nil
		if isForcedWritable(name) && !accessor {
			desc.Writable = goja.FLAG_TRUE
		}
		if accessor {
			m.accessors[name] = struct{}{}
		}
		m.r.define(m.target, key, m.r.fromPropertyDescriptor(desc))
	}
	return nil
}

// Instance returns the proxy scripts should use as their global.
func (m *Membrane) Instance() *goja.Object { return m.proxy }

// Target returns the private object holding the app's own properties.
func (m *Membrane) Target() *goja.Object { return m.target }

// Host returns the host global the membrane falls back to.
func (m *Membrane) Host() *goja.Object { return m.host }

// Name returns the configured app name.
func (m *Membrane) Name() string { return m.name }

// Lock causes subsequent writes to be discarded.
func (m *Membrane) Lock() { m.locked = true }

// Unlock resumes accepting writes.
func (m *Membrane) Unlock() { m.locked = false }

// Locked reports the lock state.
func (m *Membrane) Locked() bool { return m.locked }

// Modifications returns the string keys written through the membrane, in
// the order they were first written, excluding those since deleted.
func (m *Membrane) Modifications() []string {
	return append([]string(nil), m.order...)
}

// LatestWrittenKey returns the key of the most recent accepted write.
func (m *Membrane) LatestWrittenKey() (string, bool) { return m.latest, m.hasLatest }

// AddIntrinsic defines an app-scoped value on the target, without
// recording a modification. The key will be read from the target from then
// on, even if the host defines it as an accessor.
func (m *Membrane) AddIntrinsic(key string, value goja.Value) {
	delete(m.accessors, key)
	m.r.define(m.target, m.rt.ToValue(key), m.r.fromPropertyDescriptor(goja.PropertyDescriptor{
		Value:        value,
		Writable:     goja.FLAG_TRUE,
		Configurable: goja.FLAG_TRUE,
		Enumerable:   goja.FLAG_TRUE,
	}))
}

// Get reads key as a script would, e.g. window[key].
func (m *Membrane) Get(key string) goja.Value {
	return m.get(m.rt.ToValue(key), m.proxy)
}

// Set writes key as a script would. It always reports success.
func (m *Membrane) Set(key string, value goja.Value) bool {
	return m.set(m.rt.ToValue(key), value)
}

// Has implements the in operator.
func (m *Membrane) Has(key string) bool {
	return m.has(m.rt.ToValue(key))
}

// Delete implements the delete operator. It always reports success.
func (m *Membrane) Delete(key string) bool {
	return m.deleteProperty(m.rt.ToValue(key))
}

// OwnKeys returns the deduplicated string keys of the host and the target.
func (m *Membrane) OwnKeys() []string {
	var keys []string
	for _, k := range m.ownKeys() {
		if _, ok := k.(*goja.Symbol); !ok {
			keys = append(keys, k.String())
		}
	}
	return keys
}

// GetOwnPropertyDescriptor returns the descriptor from whichever side owns
// key. Host descriptors are always reported as configurable.
func (m *Membrane) GetOwnPropertyDescriptor(key string) (goja.PropertyDescriptor, bool) {
	d := m.getOwnPropertyDescriptor(m.rt.ToValue(key))
	if d == nil {
		return goja.PropertyDescriptor{}, false
	}
	return m.r.toPropertyDescriptor(d), true
}

// DefineProperty defines key on the side the most recent descriptor lookup
// for key resolved against, defaulting to the target.
func (m *Membrane) DefineProperty(key string, desc goja.PropertyDescriptor) bool {
	return m.defineProperty(m.rt.ToValue(key), m.r.fromPropertyDescriptor(desc))
}

// GetPrototypeOf returns the host global's prototype.
func (m *Membrane) GetPrototypeOf() *goja.Object { return m.host.Prototype() }

func (m *Membrane) get(key goja.Value, receiver goja.Value) goja.Value {
	if s, ok := key.(*goja.Symbol); ok {
		if s == goja.SymUnscopables {
			return m.unscopables
		}
		return m.lookup(key, ``)
	}
	name := key.String()
	switch {
	case isSelfAlias(name):
		return receiver
	case isFrameAlias(name):
		if parent := m.host.Get(`parent`); parent == nil || parent.SameAs(m.host) {
			return receiver
		}
		return m.r.get(m.host, key)
	case name == `hasOwnProperty`:
		return m.hasOwn
	case name == `eval`:
		return m.r.get(m.host, key)
	}
	return m.lookup(key, name)
}

func (m *Membrane) lookup(key goja.Value, name string) goja.Value {
	owner := m.host
	if _, ok := m.accessors[name]; !ok && m.r.in(m.target, key) {
		owner = m.target
	}
	value := m.r.get(owner, key)
	if m.r.frozen(owner, key) {
		return value
	}
	boundTarget := m.host
	if _, ok := m.nativeNames[name]; ok && name != `` {
		boundTarget = m.native
	}
	return m.rebind(boundTarget, value)
}

func (m *Membrane) rebind(target *goja.Object, value goja.Value) goja.Value {
	fn, call, ok := m.r.plainCallable(value)
	if !ok {
		return value
	}
	k := boundKey{fn: fn, target: target}
	if b, ok := m.bound[k]; ok {
		return b
	}
	b := m.r.rebind(target, fn, call, m.isWindow)
	m.bound[k] = b
	return b
}

func (m *Membrane) isWindow(v goja.Value) bool {
	return isWindowLike(v, m.proxy, m.host, m.native)
}

func (m *Membrane) set(key goja.Value, value goja.Value) bool {
	_, isSymbol := key.(*goja.Symbol)
	name := key.String()

	if m.locked {
		if m.development && m.allowWarning(name) {
			m.logger.Warning().
				Str(`app`, m.name).
				Str(`key`, name).
				Log(`membrane: write discarded while locked`)
		}
		return true
	}

	if !m.r.hasOwn(m.target, key) && m.r.hasOwn(m.host, key) {
		// keep the host's attributes, but never invoke its setter
		desc := m.r.toPropertyDescriptor(m.r.descriptor(m.host, key))
		if desc.Writable == goja.FLAG_TRUE || (desc.Setter != nil && !goja.IsUndefined(desc.Setter)) {
			m.r.define(m.target, key, m.r.fromPropertyDescriptor(goja.PropertyDescriptor{
				Value:        value,
				Writable:     goja.FLAG_TRUE,
				Configurable: desc.Configurable,
				Enumerable:   desc.Enumerable,
			}))
		}
	} else {
		m.r.put(m.target, key, value)
	}

	if !isSymbol {
		if _, ok := m.escape[name]; ok {
			_ = m.host.Set(name, value)
		}
		if _, ok := m.modified[name]; !ok {
			m.modified[name] = struct{}{}
			m.order = append(m.order, name)
		}
		m.latest, m.hasLatest = name, true
	}

	return true
}

func (m *Membrane) allowWarning(key string) bool {
	_, ok := m.warnings.Allow([2]string{m.name, key})
	return ok
}

func (m *Membrane) has(key goja.Value) bool {
	if _, ok := key.(*goja.Symbol); !ok {
		if _, ok := m.fastLookup[key.String()]; ok {
			return true
		}
	}
	return m.r.in(m.target, key) || m.r.in(m.host, key)
}

func (m *Membrane) deleteProperty(key goja.Value) bool {
	if m.r.hasOwn(m.target, key) {
		m.r.remove(m.target, key)
		if _, ok := key.(*goja.Symbol); !ok {
			m.forget(key.String())
		}
	}
	return true
}

func (m *Membrane) forget(name string) {
	if _, ok := m.modified[name]; !ok {
		return
	}
	delete(m.modified, name)
	for i, v := range m.order {
		if v == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Membrane) ownKeys() []goja.Value {
	var (
		keys    []goja.Value
		names   = make(map[string]struct{})
		symbols = make(map[*goja.Symbol]struct{})
	)
	for _, o := range [...]*goja.Object{m.host, m.target} {
		for _, k := range m.r.keys(o) {
			if s, ok := k.(*goja.Symbol); ok {
				if _, ok := symbols[s]; ok {
					continue
				}
				symbols[s] = struct{}{}
			} else {
				if _, ok := names[k.String()]; ok {
					continue
				}
				names[k.String()] = struct{}{}
			}
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *Membrane) getOwnPropertyDescriptor(key goja.Value) *goja.Object {
	_, isSymbol := key.(*goja.Symbol)
	if m.r.hasOwn(m.target, key) {
		if !isSymbol {
			m.fromHost[key.String()] = false
		}
		return m.r.descriptor(m.target, key)
	}
	if m.r.hasOwn(m.host, key) {
		if !isSymbol {
			m.fromHost[key.String()] = true
		}
		d := m.r.descriptor(m.host, key)
		if d != nil && flagOf(d, `configurable`) == goja.FLAG_FALSE {
			_ = d.Set(`configurable`, true)
		}
		return d
	}
	return nil
}

func (m *Membrane) defineProperty(key goja.Value, desc *goja.Object) bool {
	if _, ok := key.(*goja.Symbol); !ok && m.fromHost[key.String()] {
		return m.r.define(m.host, key, desc)
	}
	return m.r.define(m.target, key, desc)
}

func (m *Membrane) hasOwnProperty(call goja.FunctionCall) goja.Value {
	key := call.Argument(0)
	if this, ok := call.This.(*goja.Object); ok && this != m.proxy {
		return m.rt.ToValue(m.r.hasOwn(this, key))
	}
	return m.rt.ToValue(m.r.hasOwn(m.target, key) || m.r.hasOwn(m.host, key))
}

func (m *Membrane) handler() *goja.Object {
	h := m.rt.NewObject()
	_ = h.Set(`get`, func(call goja.FunctionCall) goja.Value {
		return m.get(call.Argument(1), call.Argument(2))
	})
	_ = h.Set(`set`, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.set(call.Argument(1), call.Argument(2)))
	})
	_ = h.Set(`has`, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.has(call.Argument(1)))
	})
	_ = h.Set(`deleteProperty`, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.deleteProperty(call.Argument(1)))
	})
	_ = h.Set(`ownKeys`, func(goja.FunctionCall) goja.Value {
		keys := m.ownKeys()
		values := make([]any, len(keys))
		for i, k := range keys {
			values[i] = k
		}
		return m.rt.NewArray(values...)
	})
	_ = h.Set(`getOwnPropertyDescriptor`, func(call goja.FunctionCall) goja.Value {
		if d := m.getOwnPropertyDescriptor(call.Argument(1)); d != nil {
			return d
		}
		return goja.Undefined()
	})
	_ = h.Set(`defineProperty`, func(call goja.FunctionCall) goja.Value {
		desc, _ := call.Argument(2).(*goja.Object)
		if desc == nil {
			panic(m.rt.NewTypeError(`Property description must be an object`))
		}
		return m.rt.ToValue(m.defineProperty(call.Argument(1), desc))
	})
	_ = h.Set(`getPrototypeOf`, func(goja.FunctionCall) goja.Value {
		if proto := m.GetPrototypeOf(); proto != nil {
			return proto
		}
		return goja.Null()
	})
	return h
}

func toSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}
