package membrane

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

func rebindJS(t *testing.T, rt *goja.Runtime) {
	t.Helper()
	require.NoError(t, rt.Set(`rebind`, func(call goja.FunctionCall) goja.Value {
		v, err := Rebind(rt, rt.GlobalObject(), call.Argument(0))
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return v
	}))
}

func TestRebind_passthrough(t *testing.T) {
	rt := goja.New()
	for _, v := range []goja.Value{goja.Undefined(), goja.Null(), rt.ToValue(1), rt.NewObject()} {
		out, err := Rebind(rt, rt.GlobalObject(), v)
		require.NoError(t, err)
		require.True(t, out.SameAs(v))
	}
}

func TestRebind_bindsToTarget(t *testing.T) {
	rt := goja.New()
	rebindJS(t, rt)
	v, err := rt.RunString(`
		var bound = rebind(function bindThis() { 'use strict'; return this });
		bound() === this;
	`)
	require.NoError(t, err)
	require.True(t, v.ToBoolean())
}

func TestRebind_prototypeAddedAfterFirstInvocation(t *testing.T) {
	rt := goja.New()
	rebindJS(t, rt)
	v, err := rt.RunString(`
		function prototypeAddedAfterFirstInvocation(field) { this.field = field }
		var notConstructable = rebind(prototypeAddedAfterFirstInvocation);
		var result = {};
		notConstructable('123');
		var ok1 = Object.keys(result).length === 0 && this.field === '123';
		notConstructable.call(result, '456');
		var ok2 = result.field === '456' && this.field === '123';
		prototypeAddedAfterFirstInvocation.prototype.addedFn = function () {};
		var constructable = rebind(prototypeAddedAfterFirstInvocation);
		var result3 = {};
		constructable.call(result3, '789');
		[ok1, ok2, constructable === prototypeAddedAfterFirstInvocation, result3.field === '789', this.field === '123'].join();
	`)
	require.NoError(t, err)
	require.Equal(t, `true,true,true,true,true`, v.String())
}

func TestRebind_readOnlyPrototypeOnChain(t *testing.T) {
	rt := goja.New()
	rebindJS(t, rt)
	v, err := rt.RunString(`
		function callableFunction() {}
		var functionWithReadonlyPrototype = function () {};
		Object.defineProperty(functionWithReadonlyPrototype, 'prototype', {
			writable: false, enumerable: false, configurable: false, value: 123,
		});
		Object.setPrototypeOf(callableFunction, functionWithReadonlyPrototype);
		var boundFn = rebind(callableFunction);
		boundFn !== callableFunction && boundFn.prototype === callableFunction.prototype;
	`)
	require.NoError(t, err)
	require.True(t, v.ToBoolean())
}

func TestRebind_copiesEnumerableProperties(t *testing.T) {
	rt := goja.New()
	rebindJS(t, rt)
	v, err := rt.RunString(`
		function moment() {}
		moment.version = '2.0';
		var bound = rebind(moment);
		bound !== moment && bound.version === '2.0';
	`)
	require.NoError(t, err)
	require.True(t, v.ToBoolean())
}

func TestRebind_skipsBoundAndClasses(t *testing.T) {
	rt := goja.New()
	rebindJS(t, rt)
	v, err := rt.RunString(`
		var bound = (function () {}).bind({});
		class Foo {}
		function Bar() {}
		[rebind(bound) === bound, rebind(Foo) === Foo, rebind(Bar) === Bar].join();
	`)
	require.NoError(t, err)
	require.Equal(t, `true,true,true`, v.String())
}
