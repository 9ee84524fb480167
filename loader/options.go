package loader

import (
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/go-microapp/sandbox"
	"github.com/joeycumines/logiface"
)

// loaderOptions holds configuration options for loading an app.
type loaderOptions struct {
	logger    *logiface.Logger[logiface.Event]
	fetcher   fetch.Fetcher
	hooks     Hooks
	sandbox   []sandbox.Option
	hasLogger bool
}

// Option configures [Load].
type Option interface {
	applyLoader(*loaderOptions) error
}

type loaderOptionImpl struct {
	applyLoaderFunc func(*loaderOptions) error
}

func (o *loaderOptionImpl) applyLoader(opts *loaderOptions) error {
	return o.applyLoaderFunc(opts)
}

// WithLogger sets the logger. Defaults to the host logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &loaderOptionImpl{func(opts *loaderOptions) error {
		opts.logger = logger
		opts.hasLogger = true
		return nil
	}}
}

// WithFetcher sets the fetcher for the entry script. Defaults to the host
// fetcher.
func WithFetcher(fetcher fetch.Fetcher) Option {
	return &loaderOptionImpl{func(opts *loaderOptions) error {
		if fetcher == nil {
			return sandbox.ErrNilOption
		}
		opts.fetcher = fetcher
		return nil
	}}
}

// WithHooks appends lifecycle hooks. It may be given more than once.
func WithHooks(hooks Hooks) Option {
	return &loaderOptionImpl{func(opts *loaderOptions) error {
		opts.hooks = opts.hooks.concat(hooks)
		return nil
	}}
}

// WithSandboxOptions appends options for the app's sandbox.
func WithSandboxOptions(options ...sandbox.Option) Option {
	return &loaderOptionImpl{func(opts *loaderOptions) error {
		opts.sandbox = append(opts.sandbox, options...)
		return nil
	}}
}

func resolveLoaderOptions(opts []Option) (*loaderOptions, error) {
	cfg := &loaderOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoader(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
