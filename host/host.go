package host

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/go-microapp/dom"
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/logiface"
)

var (
	// ErrReentrantAwait is returned by [Host.Await] when called from the
	// loop goroutine, where waiting would deadlock.
	ErrReentrantAwait = errors.New(`host: cannot await from the loop goroutine`)

	// ErrRejected wraps the reason of a rejected promise.
	ErrRejected = errors.New(`host: promise rejected`)
)

// Host is the shared execution host. See the package docs.
type Host struct {
	loop        *eventloop.Loop
	js          *eventloop.JS
	rt          *goja.Runtime
	global      *goja.Object
	doc         *dom.Document
	logger      *logiface.Logger[logiface.Event]
	fetcher     fetch.Fetcher
	ctx         context.Context
	cancel      context.CancelFunc
	bind        *binder
	frameParent *goja.Object
	// timers maps live timer ids to their cancellation state, loop only
	timers      map[uint64]*timer
	promise     *goja.Object
	resolve     goja.Callable
	wg          sync.WaitGroup
	mu          sync.Mutex
	location    string
	closed      bool
	loopID      atomic.Uint64
}

// New creates a host. The loop is not started, see [Host.Run].
func New(opts ...Option) (*Host, error) {
	cfg, err := resolveHostOptions(opts)
	if err != nil {
		return nil, err
	}

	doc, err := cfg.parseDocument()
	if err != nil {
		return nil, fmt.Errorf("host: failed to parse document: %w", err)
	}

	loop, err := eventloop.New()
	if err != nil {
		return nil, err
	}

	js, err := eventloop.NewJS(loop)
	if err != nil {
		_ = loop.Close()
		return nil, fmt.Errorf("host: failed to create JS adapter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Host{
		loop:     loop,
		js:       js,
		rt:       goja.New(),
		doc:      doc,
		logger:   cfg.logger,
		fetcher:  cfg.fetcher,
		ctx:      ctx,
		cancel:   cancel,
		location: cfg.location,
		timers:   make(map[uint64]*timer),
	}
	h.global = h.rt.GlobalObject()
	h.bind = newBinder(h)

	if err := h.bindGlobals(cfg.framed); err != nil {
		cancel()
		_ = loop.Close()
		return nil, err
	}

	return h, nil
}

// Runtime returns the JS runtime. Only use it on the loop goroutine.
func (h *Host) Runtime() *goja.Runtime { return h.rt }

// Global returns the host global object.
func (h *Host) Global() *goja.Object { return h.global }

// Document returns the shared document. Only use it on the loop goroutine.
func (h *Host) Document() *dom.Document { return h.doc }

// Loop returns the underlying event loop.
func (h *Host) Loop() *eventloop.Loop { return h.loop }

// JS returns the timer adapter bound to the loop.
func (h *Host) JS() *eventloop.JS { return h.js }

// Logger returns the host logger, which may be nil.
func (h *Host) Logger() *logiface.Logger[logiface.Event] { return h.logger }

// Fetcher returns the fetcher backing the fetch global.
func (h *Host) Fetcher() fetch.Fetcher { return h.fetcher }

// Location returns the current location href.
func (h *Host) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.location
}

// SetLocation changes the current location, e.g. to simulate navigation.
func (h *Host) SetLocation(href string) {
	h.mu.Lock()
	h.location = href
	h.mu.Unlock()
}

// Run runs the event loop until it is shut down, or ctx is canceled.
func (h *Host) Run(ctx context.Context) error {
	h.loopID.CompareAndSwap(0, currentGoroutine())
	return h.loop.Run(ctx)
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (h *Host) OnLoop() bool {
	id := h.loopID.Load()
	return id != 0 && id == currentGoroutine()
}

// Do runs fn on the loop goroutine, and waits for it to return. It runs fn
// inline if already on the loop goroutine. Panics raised by fn, including
// JS exceptions, are returned as errors.
func (h *Host) Do(ctx context.Context, fn func() error) error {
	if h.OnLoop() {
		return h.call(fn)
	}
	done := make(chan error, 1)
	if err := h.loop.Submit(func() { done <- h.call(fn) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await runs fn like [Host.Do], then waits for the value it returned to
// settle, if it is a promise (or thenable). Rejections are returned as an
// error wrapping [ErrRejected].
func (h *Host) Await(ctx context.Context, fn func() (goja.Value, error)) error {
	if h.OnLoop() {
		return ErrReentrantAwait
	}
	settled := make(chan error, 1)
	if err := h.Do(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		return h.whenSettled(v, func(err error) { settled <- err })
	}); err != nil {
		return err
	}
	select {
	case err := <-settled:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Background runs work on a new goroutine, then calls done with its result
// on the loop goroutine. Work receives a context that is canceled on
// shutdown. Must be called on the loop goroutine.
func (h *Host) Background(work func(ctx context.Context) error, done func(err error)) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.logger.Debug().Log(`host: background work rejected after shutdown`)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		result := work(h.ctx)
		if err := h.loop.Submit(func() {
			if err := h.call(func() error { done(result); return nil }); err != nil {
				h.logger.Err().Err(err).Log(`host: background completion failed`)
			}
		}); err != nil {
			h.logger.Debug().Err(err).Log(`host: dropped background completion`)
		}
	}()
}

// Shutdown stops background work and the event loop. It must not be called
// from the loop goroutine.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	h.wg.Wait()

	var err error
	if h.loopID.Load() == 0 {
		err = h.loop.Close()
	} else {
		err = h.loop.Shutdown(ctx)
	}
	if err != nil && !errors.Is(err, eventloop.ErrLoopTerminated) {
		return err
	}
	return nil
}

// NewPromise returns a pending promise, and the functions that settle it.
// Must be called on the loop goroutine.
func (h *Host) NewPromise() (promise *goja.Object, resolve, reject func(goja.Value)) {
	var res, rej goja.Callable
	promise, err := h.rt.New(h.promise, h.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		res, _ = goja.AssertFunction(call.Argument(0))
		rej, _ = goja.AssertFunction(call.Argument(1))
		return goja.Undefined()
	}))
	if err != nil {
		panic(err)
	}
	resolve = func(v goja.Value) { _, _ = res(goja.Undefined(), v) }
	reject = func(v goja.Value) { _, _ = rej(goja.Undefined(), v) }
	return promise, resolve, reject
}

// Resolved returns Promise.resolve(v).
func (h *Host) Resolved(v goja.Value) (*goja.Object, error) {
	if v == nil {
		v = goja.Undefined()
	}
	p, err := h.resolve(h.promise, v)
	if err != nil {
		return nil, err
	}
	return p.ToObject(h.rt), nil
}

func (h *Host) whenSettled(v goja.Value, cb func(err error)) error {
	p, err := h.Resolved(v)
	if err != nil {
		return err
	}
	then, ok := goja.AssertFunction(p.Get(`then`))
	if !ok {
		return fmt.Errorf("host: promise has no then method")
	}
	_, err = then(p,
		h.rt.ToValue(func(goja.FunctionCall) goja.Value {
			cb(nil)
			return goja.Undefined()
		}),
		h.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			cb(fmt.Errorf("%w: %s", ErrRejected, call.Argument(0).String()))
			return goja.Undefined()
		}),
	)
	return err
}

func (h *Host) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("host: panic: %v", r)
			}
		}
	}()
	return fn()
}

// pathname returns the path component of the current location.
func (h *Host) pathname() string {
	u, err := url.Parse(h.Location())
	if err != nil || u.Path == `` {
		return `/`
	}
	return u.Path
}
