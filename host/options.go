package host

import (
	"errors"
	"strings"

	"github.com/joeycumines/go-microapp/dom"
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/logiface"
)

// ErrNilFetcher is returned by [WithFetcher] when given a nil fetcher.
var ErrNilFetcher = errors.New(`host: fetcher must not be nil`)

// hostOptions holds configuration options for Host creation.
type hostOptions struct {
	logger   *logiface.Logger[logiface.Event]
	fetcher  fetch.Fetcher
	document string
	location string
	framed   bool
}

// Option configures a Host instance.
type Option interface {
	applyHost(*hostOptions) error
}

type hostOptionImpl struct {
	applyHostFunc func(*hostOptions) error
}

func (o *hostOptionImpl) applyHost(opts *hostOptions) error {
	return o.applyHostFunc(opts)
}

// WithLogger sets the logger, which also receives console output.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &hostOptionImpl{func(opts *hostOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithDocumentHTML sets the initial document markup.
func WithDocumentHTML(markup string) Option {
	return &hostOptionImpl{func(opts *hostOptions) error {
		opts.document = markup
		return nil
	}}
}

// WithLocation sets the initial location. Defaults to "http://localhost/".
func WithLocation(href string) Option {
	return &hostOptionImpl{func(opts *hostOptions) error {
		opts.location = href
		return nil
	}}
}

// WithFramed makes top and parent resolve to a distinct object, as they
// would for a page embedded in a frame.
func WithFramed(framed bool) Option {
	return &hostOptionImpl{func(opts *hostOptions) error {
		opts.framed = framed
		return nil
	}}
}

// WithFetcher sets the fetcher backing the fetch global. Defaults to an
// empty [fetch.Static].
func WithFetcher(fetcher fetch.Fetcher) Option {
	return &hostOptionImpl{func(opts *hostOptions) error {
		if fetcher == nil {
			return ErrNilFetcher
		}
		opts.fetcher = fetcher
		return nil
	}}
}

func resolveHostOptions(opts []Option) (*hostOptions, error) {
	cfg := &hostOptions{
		location: `http://localhost/`,
		fetcher:  fetch.Static{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyHost(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (x *hostOptions) parseDocument() (*dom.Document, error) {
	if x.document == `` {
		return dom.NewDocument(), nil
	}
	return dom.ParseDocument(strings.NewReader(x.document))
}
