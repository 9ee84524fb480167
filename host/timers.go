// Copyright 2025 Joseph Cumines
//
// Timer bindings, backed by the JS adapter of the host event loop.

package host

import (
	"errors"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-eventloop"
)

// checkReceiver rejects calls with a this value other than undefined, null,
// or the host global, as browsers do for window methods.
func (h *Host) checkReceiver(this goja.Value) {
	if this == nil || goja.IsUndefined(this) || goja.IsNull(this) {
		return
	}
	if o, ok := this.(*goja.Object); ok && o == h.global {
		return
	}
	panic(h.rt.NewTypeError("Illegal invocation"))
}

// timerArgs extracts the callback, the delay, and any extra arguments.
// Negative delays are clamped to zero.
func (h *Host) timerArgs(name string, call goja.FunctionCall) (goja.Callable, int, []goja.Value) {
	h.checkReceiver(call.This)

	fnCallable, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(h.rt.NewTypeError(name + " requires a function as first argument"))
	}

	delayMs := int(call.Argument(1).ToInteger())
	if delayMs < 0 {
		delayMs = 0
	}

	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	return fnCallable, delayMs, args
}

// invoke runs a scheduled callback, logging uncaught exceptions.
func (h *Host) invoke(name string, fn goja.Callable, args []goja.Value) {
	if _, err := fn(goja.Undefined(), args...); err != nil {
		h.logger.Err().
			Str(`source`, name).
			Err(err).
			Log(`host: uncaught exception in callback`)
	}
}

// timer is the host side of a scheduled callback. Clearing it takes effect
// immediately, while the loop timer is released asynchronously, since the
// loop cannot wait on its own cancellation request.
type timer struct {
	interval bool
	cleared  bool
}

func (h *Host) schedule(name string, interval bool, call goja.FunctionCall) goja.Value {
	fn, delayMs, args := h.timerArgs(name, call)

	t := &timer{interval: interval}
	var id uint64
	callback := func() {
		if t.cleared {
			return
		}
		if !t.interval {
			delete(h.timers, id)
		}
		h.invoke(name, fn, args)
	}

	var err error
	if interval {
		id, err = h.js.SetInterval(callback, delayMs)
	} else {
		id, err = h.js.SetTimeout(callback, delayMs)
	}
	if err != nil {
		panic(h.rt.NewGoError(err))
	}
	h.timers[id] = t

	return h.rt.ToValue(id)
}

// clear cancels the timer, ignoring unknown ids and ids of the other kind,
// as browsers do.
func (h *Host) clear(interval bool, call goja.FunctionCall) {
	h.checkReceiver(call.This)
	id := uint64(call.Argument(0).ToInteger())
	t := h.timers[id]
	if t == nil || t.interval != interval {
		return
	}
	t.cleared = true
	delete(h.timers, id)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		var err error
		if interval {
			err = h.js.ClearInterval(id)
		} else {
			err = h.js.ClearTimeout(id)
		}
		if err != nil && !errors.Is(err, eventloop.ErrTimerNotFound) {
			h.logger.Debug().Uint64(`timer`, id).Err(err).Log(`host: failed to release timer`)
		}
	}()
}

// Timers returns the number of pending timers and intervals. Must be called
// on the loop goroutine.
func (h *Host) Timers() int { return len(h.timers) }

func (h *Host) setTimeout(call goja.FunctionCall) goja.Value {
	return h.schedule(`setTimeout`, false, call)
}

func (h *Host) clearTimeout(call goja.FunctionCall) goja.Value {
	h.clear(false, call)
	return goja.Undefined()
}

func (h *Host) setInterval(call goja.FunctionCall) goja.Value {
	return h.schedule(`setInterval`, true, call)
}

func (h *Host) clearInterval(call goja.FunctionCall) goja.Value {
	h.clear(true, call)
	return goja.Undefined()
}

// queueMicrotask binding for Goja
func (h *Host) queueMicrotask(call goja.FunctionCall) goja.Value {
	h.checkReceiver(call.This)

	fnCallable, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(h.rt.NewTypeError("queueMicrotask requires a function as first argument"))
	}

	if err := h.js.QueueMicrotask(func() {
		h.invoke(`queueMicrotask`, fnCallable, nil)
	}); err != nil {
		panic(h.rt.NewGoError(err))
	}

	return goja.Undefined()
}
