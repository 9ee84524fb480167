package loader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-microapp/dom"
	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/sandbox"
	"github.com/joeycumines/logiface"
)

var (
	// ErrLifecycleContract is returned by [Load] when the entry does not
	// export bootstrap, mount and unmount functions.
	ErrLifecycleContract = errors.New(`loader: invalid lifecycle exports`)

	// ErrInvalidConfig is returned for an app config missing a required
	// field.
	ErrInvalidConfig = errors.New(`loader: invalid app config`)
)

const (
	// PoweredByKey is set to true on every app's virtual global.
	PoweredByKey = `__POWERED_BY_QIANKUN__`

	// PublicPathKey is set to the directory of the app's entry on its
	// virtual global.
	PublicPathKey = `__INJECTED_PUBLIC_PATH_BY_QIANKUN__`
)

type (
	// AppConfig describes an app to load.
	AppConfig struct {
		// Container returns the element the app mounts into. Required.
		Container func() *dom.Node

		// Props are passed to each lifecycle function, alongside name and
		// container.
		Props map[string]any

		// Name is the app name, which must be unique per host. Required.
		Name string

		// Entry is the URL of the entry script. Required.
		Entry string
	}

	// Hook runs around a lifecycle of app.
	Hook func(ctx context.Context, app *App) error

	// Hooks are run in order, stopping at the first error.
	Hooks struct {
		BeforeLoad    []Hook
		BeforeMount   []Hook
		AfterMount    []Hook
		BeforeUnmount []Hook
		AfterUnmount  []Hook
	}

	// App is a loaded app. Its lifecycle methods must be called from a
	// goroutine other than the loop goroutine.
	App struct {
		sandbox *sandbox.Sandbox
		host    *host.Host
		logger  *logiface.Logger[logiface.Event]
		hooks   Hooks
		config  AppConfig
		// lifecycles, each a chain of functions called in order
		bootstrap []goja.Callable
		mount     []goja.Callable
		unmount   []goja.Callable
		// mu serializes the lifecycle methods
		mu           sync.Mutex
		bootstrapped bool
	}
)

func (x Hooks) concat(o Hooks) Hooks {
	return Hooks{
		BeforeLoad:    append(x.BeforeLoad[:len(x.BeforeLoad):len(x.BeforeLoad)], o.BeforeLoad...),
		BeforeMount:   append(x.BeforeMount[:len(x.BeforeMount):len(x.BeforeMount)], o.BeforeMount...),
		AfterMount:    append(x.AfterMount[:len(x.AfterMount):len(x.AfterMount)], o.AfterMount...),
		BeforeUnmount: append(x.BeforeUnmount[:len(x.BeforeUnmount):len(x.BeforeUnmount)], o.BeforeUnmount...),
		AfterUnmount:  append(x.AfterUnmount[:len(x.AfterUnmount):len(x.AfterUnmount)], o.AfterUnmount...),
	}
}

func runHooks(ctx context.Context, app *App, stage string, hooks []Hook) error {
	for _, hook := range hooks {
		if err := hook(ctx, app); err != nil {
			return fmt.Errorf("loader: %s hook failed for %q: %w", stage, app.config.Name, err)
		}
	}
	return nil
}

// Selector returns a container accessor that queries the host document.
// The accessor must be called on the loop goroutine.
func Selector(h *host.Host, selector string) func() *dom.Node {
	return func() *dom.Node { return h.Document().QuerySelector(selector) }
}

// Load fetches and evaluates the entry of an app in a new sandbox, and
// resolves its lifecycle functions. It must not be called from the loop
// goroutine.
func Load(ctx context.Context, h *host.Host, config AppConfig, opts ...Option) (*App, error) {
	if config.Name == `` || config.Entry == `` || config.Container == nil {
		return nil, fmt.Errorf("%w: name, entry and container are required", ErrInvalidConfig)
	}
	cfg, err := resolveLoaderOptions(opts)
	if err != nil {
		return nil, err
	}
	if !cfg.hasLogger {
		cfg.logger = h.Logger()
	}
	if cfg.fetcher == nil {
		cfg.fetcher = h.Fetcher()
	}

	app := &App{
		host:   h,
		logger: cfg.logger.Clone().Str(`app`, config.Name).Logger(),
		hooks:  cfg.hooks,
		config: config,
	}

	if err := runHooks(ctx, app, `beforeLoad`, app.hooks.BeforeLoad); err != nil {
		return nil, err
	}

	code, err := cfg.fetcher.Fetch(ctx, config.Entry)
	if err != nil {
		return nil, fmt.Errorf("loader: failed to fetch entry of %q: %w", config.Name, err)
	}

	sopts := append([]sandbox.Option{
		sandbox.WithLogger(cfg.logger),
		sandbox.WithSeed(map[string]any{
			PoweredByKey:  true,
			PublicPathKey: PublicPath(config.Entry),
		}),
	}, cfg.sandbox...)
	if app.sandbox, err = sandbox.New(ctx, h, config.Name, config.Container, sopts...); err != nil {
		return nil, err
	}

	if err := app.sandbox.Exec(ctx, code, config.Entry); err != nil {
		return nil, errors.Join(
			fmt.Errorf("loader: failed to evaluate entry of %q: %w", config.Name, err),
			app.sandbox.Destroy(ctx),
		)
	}

	if err := h.Do(ctx, app.resolveLifecycles); err != nil {
		return nil, errors.Join(err, app.sandbox.Destroy(ctx))
	}

	app.logger.Debug().Str(`entry`, config.Entry).Log(`loader: app loaded`)

	return app, nil
}

// PublicPath returns the directory of entry, with a trailing slash.
func PublicPath(entry string) string {
	u, err := url.Parse(entry)
	if err != nil {
		return `/`
	}
	u.RawQuery = ``
	u.Fragment = ``
	if i := strings.LastIndexByte(u.Path, '/'); i >= 0 {
		u.Path = u.Path[:i+1]
	} else {
		u.Path = `/`
	}
	return u.String()
}

// resolveLifecycles reads the exports from the global most recently
// written by the entry, falling back to the global named after the app.
func (a *App) resolveLifecycles() error {
	global := a.sandbox.Global()
	var candidates []goja.Value
	if key, ok := global.LatestWrittenKey(); ok {
		candidates = append(candidates, global.Get(key))
	}
	candidates = append(candidates, global.Get(a.config.Name))

	for _, v := range candidates {
		if a.setLifecycles(v) {
			return nil
		}
	}
	return fmt.Errorf("%w: You need to export the functional lifecycles in %s entry", ErrLifecycleContract, a.config.Name)
}

func (a *App) setLifecycles(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	exports, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	bootstrap, ok1 := lifecycle(exports.Get(`bootstrap`))
	mount, ok2 := lifecycle(exports.Get(`mount`))
	unmount, ok3 := lifecycle(exports.Get(`unmount`))
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	a.bootstrap, a.mount, a.unmount = bootstrap, mount, unmount
	return true
}

// lifecycle accepts a function, or a non-empty array of functions.
func lifecycle(v goja.Value) ([]goja.Callable, bool) {
	if fn, ok := goja.AssertFunction(v); ok {
		return []goja.Callable{fn}, true
	}
	o, ok := v.(*goja.Object)
	if !ok || o.ClassName() != `Array` {
		return nil, false
	}
	n := int(o.Get(`length`).ToInteger())
	if n == 0 {
		return nil, false
	}
	fns := make([]goja.Callable, n)
	for i := range fns {
		if fns[i], ok = goja.AssertFunction(o.Get(strconv.Itoa(i))); !ok {
			return nil, false
		}
	}
	return fns, true
}

// Name returns the app name.
func (a *App) Name() string { return a.config.Name }

// Config returns the config the app was loaded with.
func (a *App) Config() AppConfig { return a.config }

// Sandbox returns the app's sandbox.
func (a *App) Sandbox() *sandbox.Sandbox { return a.sandbox }

// props builds the argument passed to lifecycle functions.
func (a *App) props() goja.Value {
	rt := a.host.Runtime()
	o := rt.NewObject()
	for k, v := range a.config.Props {
		_ = o.Set(k, v)
	}
	_ = o.Set(`name`, a.config.Name)
	if c := a.host.Wrap(a.config.Container()); c != nil {
		_ = o.Set(`container`, c)
	} else {
		_ = o.Set(`container`, goja.Null())
	}
	return o
}

func (a *App) call(ctx context.Context, stage string, fns []goja.Callable) error {
	for _, fn := range fns {
		if err := a.host.Await(ctx, func() (goja.Value, error) {
			return fn(goja.Undefined(), a.props())
		}); err != nil {
			return fmt.Errorf("loader: %s of %q failed: %w", stage, a.config.Name, err)
		}
	}
	return nil
}

// Bootstrap calls the app's bootstrap lifecycle, once.
func (a *App) Bootstrap(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doBootstrap(ctx)
}

func (a *App) doBootstrap(ctx context.Context) error {
	if a.bootstrapped {
		return nil
	}
	if err := a.call(ctx, `bootstrap`, a.bootstrap); err != nil {
		return err
	}
	a.bootstrapped = true
	return nil
}

// Mount bootstraps the app if necessary, then mounts its sandbox and calls
// its mount lifecycle, between the before and after mount hooks.
//
// If the mount lifecycle fails the sandbox is left mounted, with any
// effects the lifecycle had. Callers must then call [App.Unmount] or
// [App.Unload] to release it.
func (a *App) Mount(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.doBootstrap(ctx); err != nil {
		return err
	}
	if err := runHooks(ctx, a, `beforeMount`, a.hooks.BeforeMount); err != nil {
		return err
	}
	if err := a.sandbox.Mount(ctx); err != nil {
		return err
	}
	if err := a.call(ctx, `mount`, a.mount); err != nil {
		return err
	}
	return runHooks(ctx, a, `afterMount`, a.hooks.AfterMount)
}

// Unmount calls the app's unmount lifecycle, then unmounts its sandbox,
// between the before and after unmount hooks. The sandbox is unmounted even
// if the lifecycle fails.
func (a *App) Unmount(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := runHooks(ctx, a, `beforeUnmount`, a.hooks.BeforeUnmount); err != nil {
		return err
	}
	callErr := a.call(ctx, `unmount`, a.unmount)
	if err := a.sandbox.Unmount(ctx); err != nil {
		return errors.Join(callErr, err)
	}
	if callErr != nil {
		return callErr
	}
	return runHooks(ctx, a, `afterUnmount`, a.hooks.AfterUnmount)
}

// Unload destroys the app's sandbox. The app cannot be mounted again.
func (a *App) Unload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sandbox.Destroy(ctx)
}
