package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/joeycumines/go-microapp/dom"
	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/membrane"
	"github.com/joeycumines/go-microapp/patcher"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrInvalidState is returned by lifecycle methods called out of order.
	ErrInvalidState = errors.New(`sandbox: invalid state`)

	// ErrEmptyName is returned by [New] for an empty app name.
	ErrEmptyName = errors.New(`sandbox: app name must not be empty`)
)

// State is the lifecycle state of a [Sandbox].
type State int32

const (
	Created State = iota
	Bootstrapped
	Mounted
	Unmounted
	Destroyed
)

func (s State) String() string {
	switch s {
	case Created:
		return `created`
	case Bootstrapped:
		return `bootstrapped`
	case Mounted:
		return `mounted`
	case Unmounted:
		return `unmounted`
	case Destroyed:
		return `destroyed`
	default:
		return fmt.Sprintf(`State(%d)`, int32(s))
	}
}

// Sandbox isolates one app. See the package docs.
type Sandbox struct {
	host        *host.Host
	global      *membrane.Membrane
	dispatcher  *patcher.Dispatcher
	reg         *patcher.Registration
	logger      *logiface.Logger[logiface.Event]
	transitions *prometheus.CounterVec
	container   func() *dom.Node
	bootstrap   []patcher.Freer
	mounted     []patcher.Freer
	// rebuilds are the rebuilders from the most recent unmount, by phase
	rebuilds map[patcher.Phase][]patcher.Rebuilder
	name     string
	id       uuid.UUID
	state    atomic.Int32
}

// New creates a sandbox for the app, and applies its bootstrapping
// patches. The container accessor returns the app's current container,
// which may change between mounts.
func New(ctx context.Context, h *host.Host, name string, container func() *dom.Node, opts ...Option) (*Sandbox, error) {
	if name == `` {
		return nil, ErrEmptyName
	}
	if container == nil {
		return nil, fmt.Errorf("%w: container accessor", ErrNilOption)
	}
	cfg, err := resolveSandboxOptions(opts)
	if err != nil {
		return nil, err
	}
	transitions, err := newTransitions(cfg.registerer)
	if err != nil {
		return nil, err
	}

	s := &Sandbox{
		host:        h,
		dispatcher:  cfg.dispatcher,
		transitions: transitions,
		container:   container,
		rebuilds:    make(map[patcher.Phase][]patcher.Rebuilder),
		name:        name,
		id:          uuid.New(),
	}
	if s.dispatcher == nil {
		s.dispatcher = patcher.Shared(h)
	}
	logger := cfg.logger
	if !cfg.hasLogger {
		logger = h.Logger()
	}
	s.logger = logger.Clone().Str(`app`, name).Stringer(`sandbox`, s.id).Logger()
	s.setState(Created)

	if err := h.Do(ctx, func() error { return s.create(cfg) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sandbox) create(cfg *sandboxOptions) (err error) {
	mopts := []membrane.Option{
		membrane.WithName(s.name),
		membrane.WithLogger(s.logger),
		membrane.WithDevelopment(cfg.development),
		membrane.WithSeed(cfg.seed),
	}
	if cfg.escapeSet {
		mopts = append(mopts, membrane.WithEscapeList(cfg.escapeList...))
	}
	if s.global, err = membrane.New(s.host.Runtime(), s.host.Global(), mopts...); err != nil {
		return err
	}

	if s.reg, err = s.dispatcher.Register(patcher.App{
		Container:  s.container,
		Exec:       s.exec,
		Fetcher:    cfg.fetcher,
		Exclude:    cfg.exclude,
		Activation: cfg.activation,
		Global:     s.global,
		Name:       s.name,
		Exclusive:  cfg.exclusive,
	}); err != nil {
		return err
	}

	if s.bootstrap, err = patcher.Bootstrap(s.target()); err != nil {
		s.dispatcher.Unregister(s.reg)
		return err
	}

	s.setState(Bootstrapped)
	return nil
}

func (s *Sandbox) target() patcher.Target {
	return patcher.Target{
		Host:         s.host,
		Global:       s.global,
		Registration: s.reg,
	}
}

// ID returns the unique id of this sandbox instance.
func (s *Sandbox) ID() uuid.UUID { return s.id }

// Name returns the app name.
func (s *Sandbox) Name() string { return s.name }

// Instance returns the virtual global, as seen by scripts.
func (s *Sandbox) Instance() *goja.Object { return s.global.Instance() }

// Global returns the membrane backing the virtual global.
func (s *Sandbox) Global() *membrane.Membrane { return s.global }

// Host returns the shared execution host.
func (s *Sandbox) Host() *host.Host { return s.host }

// Registration returns the app's dynamic insertion state.
func (s *Sandbox) Registration() *patcher.Registration { return s.reg }

// State returns the current lifecycle state. It is safe to call from any
// goroutine.
func (s *Sandbox) State() State { return State(s.state.Load()) }

func (s *Sandbox) setState(state State) {
	s.state.Store(int32(state))
	s.transitions.WithLabelValues(s.name, state.String()).Inc()
	s.logger.Debug().Str(`state`, state.String()).Log(`sandbox: state changed`)
}

func (s *Sandbox) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s %s sandbox %q", ErrInvalidState, op, s.State(), s.name)
}

// Mount unlocks the virtual global, replays the effects captured by the
// previous unmount, and applies the mounting patches.
func (s *Sandbox) Mount(ctx context.Context) error {
	return s.host.Do(ctx, s.mount)
}

func (s *Sandbox) mount() error {
	switch s.State() {
	case Bootstrapped, Unmounted:
	default:
		return s.invalid(`mount`)
	}

	s.global.Unlock()

	if err := patcher.RebuildAll(s.rebuilds[patcher.Bootstrapping]); err != nil {
		s.global.Lock()
		return fmt.Errorf("sandbox: failed to rebuild bootstrapping effects: %w", err)
	}

	mounted, err := patcher.Mount(s.target())
	if err != nil {
		s.global.Lock()
		return err
	}

	if err := patcher.RebuildAll(s.rebuilds[patcher.Mounting]); err != nil {
		_, freeErr := patcher.FreeAll(mounted)
		s.global.Lock()
		return errors.Join(fmt.Errorf("sandbox: failed to rebuild mounting effects: %w", err), freeErr)
	}

	s.mounted = mounted
	clear(s.rebuilds)
	s.setState(Mounted)
	return nil
}

// Unmount frees every patch, keeping their rebuilders for the next mount,
// then locks the virtual global. The sandbox is unmounted even if freeing
// fails.
func (s *Sandbox) Unmount(ctx context.Context) error {
	return s.host.Do(ctx, s.unmount)
}

func (s *Sandbox) unmount() error {
	if s.State() != Mounted {
		return s.invalid(`unmount`)
	}

	bootstrap, err1 := patcher.FreeAll(s.bootstrap)
	mounting, err2 := patcher.FreeAll(s.mounted)
	s.mounted = nil
	s.rebuilds[patcher.Bootstrapping] = bootstrap
	s.rebuilds[patcher.Mounting] = mounting

	s.global.Lock()
	s.setState(Unmounted)

	if err := errors.Join(err1, err2); err != nil {
		s.logger.Warning().Err(err).Log(`sandbox: failed to free patches`)
		return err
	}
	return nil
}

// Destroy unmounts the sandbox if needed, releases its patches, and
// unregisters the app. It is a no-op if already destroyed.
func (s *Sandbox) Destroy(ctx context.Context) error {
	return s.host.Do(ctx, func() error {
		var errs []error
		switch s.State() {
		case Destroyed:
			return nil
		case Mounted:
			errs = append(errs, s.unmount())
		}
		_, err := patcher.FreeAll(s.bootstrap)
		errs = append(errs, err)
		s.bootstrap = nil
		clear(s.rebuilds)
		s.dispatcher.Unregister(s.reg)
		s.global.Lock()
		s.setState(Destroyed)
		return errors.Join(errs...)
	})
}

// Exec evaluates code with the virtual global as window, self, globalThis
// and this. The sandbox must not be destroyed.
func (s *Sandbox) Exec(ctx context.Context, code, sourceURL string) error {
	return s.host.Do(ctx, func() error {
		if s.State() == Destroyed {
			return s.invalid(`exec in`)
		}
		return s.exec(code, sourceURL)
	})
}

// exec must be called on the loop goroutine.
func (s *Sandbox) exec(code, sourceURL string) error {
	fn, err := s.host.Runtime().RunScript(sourceURL, wrap(code))
	if err != nil {
		return err
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return fmt.Errorf("sandbox: wrapped script is not a function")
	}
	proxy := s.global.Instance()
	_, err = call(proxy, proxy, proxy, proxy)
	return err
}

func wrap(code string) string {
	return "(function (window, self, globalThis) { with (window) {;" + code + "\n} })"
}
