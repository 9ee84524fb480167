package sandbox

import (
	"errors"

	"github.com/joeycumines/go-microapp/activation"
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/go-microapp/patcher"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNilOption is returned by options given a required value that is nil.
var ErrNilOption = errors.New(`sandbox: option value must not be nil`)

// sandboxOptions holds configuration options for Sandbox creation.
type sandboxOptions struct {
	logger      *logiface.Logger[logiface.Event]
	fetcher     fetch.Fetcher
	activation  activation.Evaluator
	exclude     func(url string) bool
	dispatcher  *patcher.Dispatcher
	registerer  prometheus.Registerer
	seed        map[string]any
	escapeList  []string
	escapeSet   bool
	exclusive   bool
	development bool
	hasLogger   bool
}

// Option configures a Sandbox instance.
type Option interface {
	applySandbox(*sandboxOptions) error
}

type sandboxOptionImpl struct {
	applySandboxFunc func(*sandboxOptions) error
}

func (o *sandboxOptionImpl) applySandbox(opts *sandboxOptions) error {
	return o.applySandboxFunc(opts)
}

// WithEscapeList replaces the names whose writes propagate to the host
// global. See [membrane.WithEscapeList].
//
// [membrane.WithEscapeList]: https://pkg.go.dev/github.com/joeycumines/go-microapp/membrane#WithEscapeList
func WithEscapeList(names ...string) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		opts.escapeList = append([]string(nil), names...)
		opts.escapeSet = true
		return nil
	}}
}

// WithSeed defines extra properties on the virtual global.
func WithSeed(props map[string]any) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		opts.seed = props
		return nil
	}}
}

// WithExclusive controls whether nodes created without the app's document
// view are attributed to the app while its activation rule matches.
// Defaults to true.
func WithExclusive(exclusive bool) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		opts.exclusive = exclusive
		return nil
	}}
}

// WithActivation sets the activation rule evaluator.
func WithActivation(evaluator activation.Evaluator) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		opts.activation = evaluator
		return nil
	}}
}

// WithFetcher sets the fetcher for dynamically inserted scripts. Defaults
// to the host fetcher.
func WithFetcher(fetcher fetch.Fetcher) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		if fetcher == nil {
			return ErrNilOption
		}
		opts.fetcher = fetcher
		return nil
	}}
}

// WithExcludeAssetFilter sets a filter for asset URLs that bypass the
// dynamic insertion patch.
func WithExcludeAssetFilter(filter func(url string) bool) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		opts.exclude = filter
		return nil
	}}
}

// WithLogger sets the logger. Defaults to the host logger. A nil logger
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		opts.logger = logger
		opts.hasLogger = true
		return nil
	}}
}

// WithDevelopment enables development mode, see [membrane.WithDevelopment].
//
// [membrane.WithDevelopment]: https://pkg.go.dev/github.com/joeycumines/go-microapp/membrane#WithDevelopment
func WithDevelopment(enabled bool) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		opts.development = enabled
		return nil
	}}
}

// WithDispatcher sets the dispatcher the app registers with. Defaults to
// [patcher.Shared] for the host.
func WithDispatcher(dispatcher *patcher.Dispatcher) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		if dispatcher == nil {
			return ErrNilOption
		}
		opts.dispatcher = dispatcher
		return nil
	}}
}

// WithMetrics registers the lifecycle transition counter with registerer.
// Sandboxes sharing a registerer share the counter.
func WithMetrics(registerer prometheus.Registerer) Option {
	return &sandboxOptionImpl{func(opts *sandboxOptions) error {
		opts.registerer = registerer
		return nil
	}}
}

func resolveSandboxOptions(opts []Option) (*sandboxOptions, error) {
	cfg := &sandboxOptions{
		exclusive: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySandbox(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
