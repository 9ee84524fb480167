package patcher

import (
	"errors"
	"slices"

	"github.com/dop251/goja"
)

// ErrNoIntervals is returned by [Interval] if the host lacks setInterval or
// clearInterval.
var ErrNoIntervals = errors.New(`patcher: host has no setInterval/clearInterval`)

type (
	// Global is the part of a virtual global the timer patcher writes
	// through, satisfied by *membrane.Membrane.
	Global interface {
		Get(key string) goja.Value
		Set(key string, value goja.Value) bool
	}

	// IntervalPatch is the timer patcher returned by [Interval].
	IntervalPatch struct {
		rt       *goja.Runtime
		global   Global
		host     *goja.Object
		rawSet   goja.Value
		rawClear goja.Value
		set      goja.Callable
		clear    goja.Callable
		ids      []int64
	}
)

// Interval replaces setInterval and clearInterval on global with versions
// that track the live interval ids, calling through to the functions of
// host with host as the receiver.
func Interval(rt *goja.Runtime, global Global, host *goja.Object) (*IntervalPatch, error) {
	p := &IntervalPatch{
		rt:       rt,
		global:   global,
		host:     host,
		rawSet:   host.Get(`setInterval`),
		rawClear: host.Get(`clearInterval`),
	}
	var ok bool
	if p.set, ok = goja.AssertFunction(p.rawSet); !ok {
		return nil, ErrNoIntervals
	}
	if p.clear, ok = goja.AssertFunction(p.rawClear); !ok {
		return nil, ErrNoIntervals
	}

	global.Set(`setInterval`, rt.ToValue(func(call goja.FunctionCall) goja.Value {
		id, err := p.set(host, call.Arguments...)
		if err != nil {
			panic(err)
		}
		p.ids = append(p.ids, id.ToInteger())
		return id
	}))

	global.Set(`clearInterval`, rt.ToValue(func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		p.ids = slices.DeleteFunc(p.ids, func(v int64) bool { return v == id })
		v, err := p.clear(host, call.Arguments...)
		if err != nil {
			panic(err)
		}
		return v
	}))

	return p, nil
}

// Live returns the ids of the intervals started through the patch, and not
// yet cleared.
func (p *IntervalPatch) Live() []int64 { return slices.Clone(p.ids) }

// Free clears every live interval, and restores the host functions on the
// virtual global. Timers are not rebuilt.
func (p *IntervalPatch) Free() (Rebuilder, error) {
	var errs []error
	for _, id := range p.ids {
		if _, err := p.clear(p.host, p.rt.ToValue(id)); err != nil {
			errs = append(errs, err)
		}
	}
	p.ids = nil
	p.global.Set(`setInterval`, p.rawSet)
	p.global.Set(`clearInterval`, p.rawClear)
	return Nop, errors.Join(errs...)
}
