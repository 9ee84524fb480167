package patcher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-microapp/activation"
	"github.com/joeycumines/go-microapp/dom"
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/membrane"
	"github.com/joeycumines/logiface"
)

// ContainerHeadTag is the element that stands in for the document head
// inside an app's container.
const ContainerHeadTag = `qiankun-head`

var (
	// ErrDuplicateApp is returned when registering an app name twice.
	ErrDuplicateApp = errors.New(`patcher: app already registered`)

	// ErrNoContainer is returned when an app's container accessor returns
	// nil.
	ErrNoContainer = errors.New(`patcher: app has no container`)
)

type (
	// Dispatcher is the document interceptor shared by every app on a
	// host. See the package docs.
	Dispatcher struct {
		host      *host.Host
		counters  *Counters
		logger    *logiface.Logger[logiface.Event]
		apps      map[string]*Registration
		order     []*Registration
		previous  dom.Interceptor
		creating  string
		installed bool
	}

	// App configures [Dispatcher.Register].
	App struct {
		// Container returns the app's current container. Required.
		Container func() *dom.Node

		// Exec evaluates script source in the app's sandbox. Required.
		Exec func(code, sourceURL string) error

		// Fetcher retrieves external scripts. Defaults to the host fetcher.
		Fetcher fetch.Fetcher

		// Exclude reports whether an asset URL should bypass the patch,
		// falling through to the shared document.
		Exclude func(url string) bool

		// Activation attributes nodes without an owner to this app when it
		// is exclusive, and active for the current location.
		Activation activation.Evaluator

		// Global, if set, receives an app-scoped document view, which
		// attributes the elements it creates to this app.
		Global *membrane.Membrane

		Name string

		Exclusive bool
	}
)

var (
	sharedMu          sync.Mutex
	sharedDispatchers = make(map[*host.Host]*Dispatcher)
)

// NewDispatcher creates a dispatcher for h. Counters defaults to fresh,
// unexported counts. Only one dispatcher should be used per host, see
// [Shared].
func NewDispatcher(h *host.Host, counters *Counters) *Dispatcher {
	if counters == nil {
		counters, _ = NewCounters()
	}
	return &Dispatcher{
		host:     h,
		counters: counters,
		logger:   h.Logger(),
		apps:     make(map[string]*Registration),
	}
}

// Shared returns the dispatcher for h, creating it on first use.
func Shared(h *host.Host) *Dispatcher {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	d := sharedDispatchers[h]
	if d == nil {
		d = NewDispatcher(h, nil)
		sharedDispatchers[h] = d
	}
	return d
}

// Release forgets the shared dispatcher for h.
func Release(h *host.Host) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	delete(sharedDispatchers, h)
}

// Counters returns the patch counters.
func (d *Dispatcher) Counters() *Counters { return d.counters }

// Installed reports whether the dispatcher is the document's interceptor.
func (d *Dispatcher) Installed() bool { return d.installed }

// Register adds an app. Must be called on the loop goroutine.
func (d *Dispatcher) Register(app App) (*Registration, error) {
	if app.Container == nil || app.Exec == nil {
		return nil, fmt.Errorf("patcher: app %q requires a container and an executor", app.Name)
	}
	if _, ok := d.apps[app.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateApp, app.Name)
	}
	if app.Fetcher == nil {
		app.Fetcher = d.host.Fetcher()
	}

	reg := &Registration{
		d:            d,
		app:          app,
		logger:       d.logger.Clone().Str(`app`, app.Name).Logger(),
		placeholders: make(map[*dom.Node]*dom.Node),
	}
	d.apps[app.Name] = reg
	d.order = append(d.order, reg)

	if app.Global != nil {
		app.Global.AddIntrinsic(`document`, d.documentView(reg))
	}

	return reg, nil
}

// Unregister removes an app, so its nodes are no longer intercepted.
func (d *Dispatcher) Unregister(reg *Registration) {
	if d.apps[reg.app.Name] != reg {
		return
	}
	delete(d.apps, reg.app.Name)
	for i, v := range d.order {
		if v == reg {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
}

// documentView returns an object inheriting from the host document, whose
// createElement attributes new elements to reg.
func (d *Dispatcher) documentView(reg *Registration) *goja.Object {
	rt := d.host.Runtime()
	view := rt.NewObject()
	_ = view.SetPrototype(d.host.DocumentObject())
	_ = view.Set(`createElement`, func(call goja.FunctionCall) goja.Value {
		return d.host.Wrap(d.createElement(reg, call.Argument(0).String()))
	})
	return view
}

func (d *Dispatcher) createElement(reg *Registration, tag string) *dom.Node {
	claimed := d.creating == ``
	if claimed {
		d.creating = reg.app.Name
	}
	n := d.host.Document().CreateElement(tag)
	if d.creating == reg.app.Name {
		n.SetOwner(reg.app.Name)
		if claimed {
			d.creating = ``
		}
	}
	return n
}

func (d *Dispatcher) install() {
	if d.installed {
		return
	}
	doc := d.host.Document()
	d.previous = doc.Interceptor()
	doc.SetInterceptor(d)
	d.installed = true
	d.logger.Debug().Log(`patcher: document interceptor installed`)
}

func (d *Dispatcher) uninstall() {
	if !d.installed || !d.counters.AllReleased() {
		return
	}
	doc := d.host.Document()
	if doc.Interceptor() == dom.Interceptor(d) {
		doc.SetInterceptor(d.previous)
	}
	d.previous = nil
	d.installed = false
	d.logger.Debug().Log(`patcher: document interceptor removed`)
}

// attribute returns the registration an inserted node belongs to, or nil.
func (d *Dispatcher) attribute(n *dom.Node) *Registration {
	if owner := n.Owner(); owner != `` {
		return d.apps[owner]
	}
	location := d.host.Location()
	for _, reg := range d.order {
		if reg.app.Exclusive && reg.app.Activation != nil && d.counters.Applied(reg.app.Name) &&
			reg.app.Activation.IsActive(reg.app.Name, location) {
			return reg
		}
	}
	return nil
}

// Insert implements [dom.Interceptor].
func (d *Dispatcher) Insert(parent, child, ref *dom.Node) (*dom.Node, bool, error) {
	if reg := d.hijacked(child); reg != nil {
		if result, handled, err := reg.insert(parent == d.host.Document().Head(), child, ref); handled || err != nil {
			return result, handled, err
		}
	}
	if d.previous != nil {
		return d.previous.Insert(parent, child, ref)
	}
	return nil, false, nil
}

// Remove implements [dom.Interceptor].
func (d *Dispatcher) Remove(parent, child *dom.Node) (*dom.Node, bool, error) {
	if child != nil && child.Parent() != parent {
		if reg := d.hijacked(child); reg != nil {
			return reg.remove(child)
		}
	}
	if d.previous != nil {
		return d.previous.Remove(parent, child)
	}
	return nil, false, nil
}

func (d *Dispatcher) hijacked(n *dom.Node) *Registration {
	if n == nil || !isHijackingTag(n) {
		return nil
	}
	reg := d.attribute(n)
	if reg == nil || !d.counters.Applied(reg.app.Name) {
		return nil
	}
	return reg
}

func isHijackingTag(n *dom.Node) bool {
	return n.Is(`style`) || n.Is(`link`) || n.Is(`script`)
}
