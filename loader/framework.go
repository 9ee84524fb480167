package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-microapp/activation"
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/sandbox"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownApp is returned for an app name that was never registered.
var ErrUnknownApp = errors.New(`loader: unknown app`)

type (
	// RegistrableApp is an app managed by a [Framework], active while the
	// location matches one of its rules.
	RegistrableApp struct {
		AppConfig
		ActiveRule []string
		// Options are applied after those of the framework.
		Options []Option
	}

	// Framework loads, mounts and unmounts registered apps as the location
	// changes. In singular mode, at most one app is mounted at a time.
	Framework struct {
		host    *host.Host
		logger  *logiface.Logger[logiface.Event]
		fetcher *fetch.Cache
		// slot is held by the mounted app, in singular mode
		slot         chan struct{}
		loadOpts     []Option
		rules        activation.Rules
		apps         map[string]*managedApp
		order        []string
		prefetchSize int
		mu           sync.Mutex
		singular     bool
	}

	managedApp struct {
		app    *App
		config RegistrableApp
		// mu serializes loading and the lifecycle
		mu      sync.Mutex
		mounted atomic.Bool
	}

	frameworkOptions struct {
		logger       *logiface.Logger[logiface.Event]
		loadOpts     []Option
		prefetchSize int
		singular     bool
		hasLogger    bool
	}

	// FrameworkOption configures [NewFramework].
	FrameworkOption interface {
		applyFramework(*frameworkOptions) error
	}

	frameworkOptionImpl struct {
		applyFrameworkFunc func(*frameworkOptions) error
	}
)

func (o *frameworkOptionImpl) applyFramework(opts *frameworkOptions) error {
	return o.applyFrameworkFunc(opts)
}

// WithSingular controls whether only one app may be mounted at a time.
// Defaults to true.
func WithSingular(singular bool) FrameworkOption {
	return &frameworkOptionImpl{func(opts *frameworkOptions) error {
		opts.singular = singular
		return nil
	}}
}

// WithLoadOptions appends options used to load every app.
func WithLoadOptions(options ...Option) FrameworkOption {
	return &frameworkOptionImpl{func(opts *frameworkOptions) error {
		opts.loadOpts = append(opts.loadOpts, options...)
		return nil
	}}
}

// WithFrameworkLogger sets the logger. Defaults to the host logger.
func WithFrameworkLogger(logger *logiface.Logger[logiface.Event]) FrameworkOption {
	return &frameworkOptionImpl{func(opts *frameworkOptions) error {
		opts.logger = logger
		opts.hasLogger = true
		return nil
	}}
}

// WithPrefetchConcurrency limits the concurrent fetches of
// [Framework.Prefetch]. Defaults to 4.
func WithPrefetchConcurrency(n int) FrameworkOption {
	return &frameworkOptionImpl{func(opts *frameworkOptions) error {
		if n <= 0 {
			return fmt.Errorf("loader: invalid prefetch concurrency %d", n)
		}
		opts.prefetchSize = n
		return nil
	}}
}

// NewFramework creates a framework for h. Entries are fetched through a
// cache over the host fetcher, shared by [Framework.Prefetch].
func NewFramework(h *host.Host, opts ...FrameworkOption) (*Framework, error) {
	cfg := &frameworkOptions{
		singular:     true,
		prefetchSize: 4,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyFramework(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.hasLogger {
		cfg.logger = h.Logger()
	}
	f := &Framework{
		host:         h,
		logger:       cfg.logger,
		fetcher:      fetch.NewCache(h.Fetcher()),
		loadOpts:     cfg.loadOpts,
		rules:        make(activation.Rules),
		apps:         make(map[string]*managedApp),
		prefetchSize: cfg.prefetchSize,
		singular:     cfg.singular,
	}
	if f.singular {
		f.slot = make(chan struct{}, 1)
	}
	return f, nil
}

// Register adds apps, skipping any whose name is already registered.
func (f *Framework) Register(apps ...RegistrableApp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, app := range apps {
		if app.Name == `` || app.Entry == `` || app.Container == nil {
			return fmt.Errorf("%w: name, entry and container are required", ErrInvalidConfig)
		}
		if err := (activation.Rules{app.Name: app.ActiveRule}).Validate(); err != nil {
			return fmt.Errorf("loader: invalid active rule for %q: %w", app.Name, err)
		}
	}
	for _, app := range apps {
		if _, ok := f.apps[app.Name]; ok {
			continue
		}
		f.apps[app.Name] = &managedApp{config: app}
		f.order = append(f.order, app.Name)
		f.rules[app.Name] = slices.Clone(app.ActiveRule)
	}
	return nil
}

// Rules returns a copy of the activation rules of the registered apps.
func (f *Framework) Rules() activation.Rules {
	f.mu.Lock()
	defer f.mu.Unlock()
	rules := make(activation.Rules, len(f.rules))
	for k, v := range f.rules {
		rules[k] = slices.Clone(v)
	}
	return rules
}

// Active returns the registered apps active at location, in registration
// order.
func (f *Framework) Active(location string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, name := range f.order {
		if f.rules.IsActive(name, location) {
			names = append(names, name)
		}
	}
	return names
}

// Mounted returns the mounted apps, in registration order.
func (f *Framework) Mounted() []string {
	f.mu.Lock()
	apps := make([]*managedApp, 0, len(f.order))
	for _, name := range f.order {
		apps = append(apps, f.apps[name])
	}
	f.mu.Unlock()
	var names []string
	for _, m := range apps {
		if m.mounted.Load() {
			names = append(names, m.config.Name)
		}
	}
	return names
}

// App returns the loaded app, or nil if it has not been loaded.
func (f *Framework) App(name string) *App {
	m, err := f.lookup(name)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.app
}

func (f *Framework) lookup(name string) (*managedApp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.apps[name]; m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownApp, name)
}

func (f *Framework) loadOptions() []Option {
	opts := append([]Option{WithFetcher(f.fetcher), WithLogger(f.logger)}, f.loadOpts...)
	return append(opts, WithSandboxOptions(
		sandbox.WithExclusive(f.singular),
		sandbox.WithActivation(f.Rules()),
	))
}

// load must be called with m.mu held.
func (f *Framework) load(ctx context.Context, m *managedApp) error {
	if m.app != nil {
		return nil
	}
	app, err := Load(ctx, f.host, m.config.AppConfig, append(f.loadOptions(), m.config.Options...)...)
	if err != nil {
		return err
	}
	m.app = app
	return nil
}

func (f *Framework) acquire(ctx context.Context) error {
	if f.slot == nil {
		return nil
	}
	select {
	case f.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Framework) release() {
	if f.slot == nil {
		return
	}
	select {
	case <-f.slot:
	default:
	}
}

// Mount loads the app if necessary, then mounts it. In singular mode, it
// waits until no other app is mounted.
func (f *Framework) Mount(ctx context.Context, name string) error {
	m, err := f.lookup(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mounted.Load() {
		return nil
	}
	if err := f.load(ctx, m); err != nil {
		return err
	}
	if err := f.acquire(ctx); err != nil {
		return fmt.Errorf("loader: waiting to mount %q: %w", name, err)
	}
	if err := m.app.Mount(ctx); err != nil {
		if m.app.Sandbox().State() == sandbox.Mounted {
			// free the patches applied so far
			if uerr := m.app.Unmount(ctx); uerr != nil {
				f.logger.Warning().Err(uerr).Str(`app`, name).Log(`loader: failed to clean up after mount`)
			}
		}
		f.release()
		return err
	}
	m.mounted.Store(true)
	f.logger.Info().Str(`app`, name).Log(`loader: app mounted`)
	return nil
}

// Unmount unmounts the app, if mounted.
func (f *Framework) Unmount(ctx context.Context, name string) error {
	m, err := f.lookup(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted.Load() {
		return nil
	}
	err = m.app.Unmount(ctx)
	m.mounted.Store(false)
	f.release()
	f.logger.Info().Str(`app`, name).Log(`loader: app unmounted`)
	return err
}

// Switch navigates to location, unmounting the apps no longer active, then
// mounting the active ones. In singular mode, only the first active app is
// mounted.
func (f *Framework) Switch(ctx context.Context, location string) error {
	f.host.SetLocation(location)
	active := f.Active(location)
	if f.singular && len(active) > 1 {
		active = active[:1]
	}
	for _, name := range f.Mounted() {
		if !slices.Contains(active, name) {
			if err := f.Unmount(ctx, name); err != nil {
				return err
			}
		}
	}
	for _, name := range active {
		if err := f.Mount(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Prefetch fetches the entry of every registered app, so later loads are
// served from the cache.
func (f *Framework) Prefetch(ctx context.Context) error {
	f.mu.Lock()
	entries := make([]string, 0, len(f.order))
	for _, name := range f.order {
		entries = append(entries, f.apps[name].config.Entry)
	}
	f.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.prefetchSize)
	for _, entry := range entries {
		eg.Go(func() error {
			if _, err := f.fetcher.Fetch(ctx, entry); err != nil {
				return fmt.Errorf("loader: failed to prefetch %s: %w", entry, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Close unmounts and unloads every app.
func (f *Framework) Close(ctx context.Context) error {
	var errs []error
	for _, name := range f.Mounted() {
		errs = append(errs, f.Unmount(ctx, name))
	}
	f.mu.Lock()
	apps := make([]*managedApp, 0, len(f.order))
	for _, name := range f.order {
		apps = append(apps, f.apps[name])
	}
	f.mu.Unlock()
	for _, m := range apps {
		m.mu.Lock()
		if m.app != nil {
			errs = append(errs, m.app.Unload(ctx))
			m.app = nil
		}
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}
