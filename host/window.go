package host

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// windowPrototype installs the Window constructor, and makes it the
// prototype of the global object.
const windowPrototype = `(function (g) {
	function Window() { throw new TypeError('Illegal constructor') }
	Object.defineProperty(Window.prototype, Symbol.toStringTag, { value: 'Window', configurable: true });
	Object.setPrototypeOf(g, Window.prototype);
	Object.defineProperty(g, Symbol.toStringTag, { value: 'Window', configurable: true });
	Object.defineProperty(g, 'Window', { value: Window, writable: true, configurable: true });
})`

func (h *Host) bindGlobals(framed bool) error {
	v, err := h.rt.RunString(windowPrototype)
	if err != nil {
		return err
	}
	install, ok := goja.AssertFunction(v)
	if !ok {
		return fmt.Errorf("host: window prototype did not evaluate to a function")
	}
	if _, err := install(goja.Undefined(), h.global); err != nil {
		return err
	}

	promise, ok := h.global.Get(`Promise`).(*goja.Object)
	if !ok {
		return fmt.Errorf("host: runtime has no Promise")
	}
	h.promise = promise
	if h.resolve, ok = goja.AssertFunction(promise.Get(`resolve`)); !ok {
		return fmt.Errorf("host: runtime has no Promise.resolve")
	}

	if framed {
		h.frameParent = h.rt.NewObject()
		if err := h.frameParent.Set(`window`, h.frameParent); err != nil {
			return err
		}
	}

	getter := func(fn func() goja.Value) goja.Value {
		return h.rt.ToValue(func(goja.FunctionCall) goja.Value { return fn() })
	}
	frame := func() goja.Value {
		if h.frameParent != nil {
			return h.frameParent
		}
		return h.global
	}

	location := h.newLocation()
	document := h.bind.document()

	for _, err := range [...]error{
		h.global.DefineDataProperty(`window`, h.global, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE),
		h.global.DefineAccessorProperty(`self`, getter(func() goja.Value { return h.global }), nil, goja.FLAG_TRUE, goja.FLAG_TRUE),
		h.global.DefineAccessorProperty(`top`, getter(frame), nil, goja.FLAG_FALSE, goja.FLAG_TRUE),
		h.global.DefineAccessorProperty(`parent`, getter(frame), nil, goja.FLAG_FALSE, goja.FLAG_TRUE),
		h.global.DefineAccessorProperty(`document`, getter(func() goja.Value { return document }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE),
		h.global.DefineAccessorProperty(`location`, getter(func() goja.Value { return location }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE),
		h.rt.Set(`console`, h.newConsole()),
		h.rt.Set(`setTimeout`, h.setTimeout),
		h.rt.Set(`clearTimeout`, h.clearTimeout),
		h.rt.Set(`setInterval`, h.setInterval),
		h.rt.Set(`clearInterval`, h.clearInterval),
		h.rt.Set(`queueMicrotask`, h.queueMicrotask),
		h.rt.Set(`fetch`, h.fetch),
	} {
		if err != nil {
			return err
		}
	}

	return nil
}

func (h *Host) newLocation() *goja.Object {
	o := h.rt.NewObject()
	_ = o.DefineAccessorProperty(`href`, h.rt.ToValue(func(goja.FunctionCall) goja.Value {
		return h.rt.ToValue(h.Location())
	}), h.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		h.SetLocation(call.Argument(0).String())
		return goja.Undefined()
	}), goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = o.DefineAccessorProperty(`pathname`, h.rt.ToValue(func(goja.FunctionCall) goja.Value {
		return h.rt.ToValue(h.pathname())
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = o.Set(`toString`, func(goja.FunctionCall) goja.Value {
		return h.rt.ToValue(h.Location())
	})
	return o
}

func (h *Host) newConsole() *goja.Object {
	o := h.rt.NewObject()
	for name, level := range map[string]logiface.Level{
		`log`:   logiface.LevelInformational,
		`info`:  logiface.LevelInformational,
		`warn`:  logiface.LevelWarning,
		`error`: logiface.LevelError,
		`debug`: logiface.LevelDebug,
	} {
		_ = o.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			h.logger.Build(level).
				Str(`source`, `console`).
				Log(strings.Join(parts, ` `))
			return goja.Undefined()
		})
	}
	return o
}

// fetch binding for Goja, resolving to a minimal Response.
func (h *Host) fetch(call goja.FunctionCall) goja.Value {
	h.checkReceiver(call.This)

	if len(call.Arguments) == 0 {
		panic(h.rt.NewTypeError("fetch requires 1 argument"))
	}
	url := call.Argument(0).String()

	promise, resolve, reject := h.NewPromise()
	var body string
	h.Background(func(ctx context.Context) (err error) {
		body, err = h.fetcher.Fetch(ctx, url)
		return
	}, func(err error) {
		if err != nil {
			reject(h.rt.NewGoError(err))
			return
		}
		resolve(h.newResponse(url, body))
	})

	return promise
}

func (h *Host) newResponse(url, body string) *goja.Object {
	o := h.rt.NewObject()
	_ = o.Set(`ok`, true)
	_ = o.Set(`status`, 200)
	_ = o.Set(`url`, url)
	_ = o.Set(`text`, func(goja.FunctionCall) goja.Value {
		p, err := h.Resolved(h.rt.ToValue(body))
		if err != nil {
			panic(err)
		}
		return p
	})
	return o
}
