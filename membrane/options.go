package membrane

import (
	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// membraneOptions holds configuration options for Membrane creation.
type membraneOptions struct {
	logger         *logiface.Logger[logiface.Event]
	native         *goja.Object
	seed           map[string]any
	name           string
	escapeList     []string
	nativeBindings []string
	development    bool
	escapeListSet  bool
	nativeSet      bool
}

// Option configures a Membrane instance.
type Option interface {
	applyMembrane(*membraneOptions) error
}

type membraneOptionImpl struct {
	applyMembraneFunc func(*membraneOptions) error
}

func (o *membraneOptionImpl) applyMembrane(opts *membraneOptions) error {
	return o.applyMembraneFunc(opts)
}

// WithEscapeList replaces the names written through to the host global.
// Defaults to [DefaultEscapeList], plus [DevelopmentEscapeList] in
// development mode.
func WithEscapeList(names ...string) Option {
	return &membraneOptionImpl{func(opts *membraneOptions) error {
		opts.escapeList = append([]string(nil), names...)
		opts.escapeListSet = true
		return nil
	}}
}

// WithSeed defines the given properties on the membrane's private target,
// before any host properties are copied.
func WithSeed(props map[string]any) Option {
	return &membraneOptionImpl{func(opts *membraneOptions) error {
		opts.seed = props
		return nil
	}}
}

// WithNative sets the unwrapped host global, which receives calls to
// functions named by [WithNativeBindings]. Defaults to the host global.
func WithNative(native *goja.Object) Option {
	return &membraneOptionImpl{func(opts *membraneOptions) error {
		opts.native = native
		return nil
	}}
}

// WithNativeBindings replaces [DefaultNativeBindings].
func WithNativeBindings(names ...string) Option {
	return &membraneOptionImpl{func(opts *membraneOptions) error {
		opts.nativeBindings = append([]string(nil), names...)
		opts.nativeSet = true
		return nil
	}}
}

// WithName sets the app name, used in log output.
func WithName(name string) Option {
	return &membraneOptionImpl{func(opts *membraneOptions) error {
		opts.name = name
		return nil
	}}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &membraneOptionImpl{func(opts *membraneOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithDevelopment enables development mode, which warns on locked writes
// and extends the default escape list.
func WithDevelopment(enabled bool) Option {
	return &membraneOptionImpl{func(opts *membraneOptions) error {
		opts.development = enabled
		return nil
	}}
}

func resolveMembraneOptions(opts []Option) (*membraneOptions, error) {
	cfg := &membraneOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyMembrane(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.escapeListSet {
		cfg.escapeList = append(cfg.escapeList, DefaultEscapeList...)
		if cfg.development {
			cfg.escapeList = append(cfg.escapeList, DevelopmentEscapeList...)
		}
	}
	if !cfg.nativeSet {
		cfg.nativeBindings = DefaultNativeBindings
	}
	return cfg, nil
}
