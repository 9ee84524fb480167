package membrane

var (
	// DefaultEscapeList are the names written through to the host global.
	DefaultEscapeList = []string{
		// System.js evaluates with an indirect eval, escaping the sandbox
		`System`,
		`__cjsWrapper`,
	}

	// DevelopmentEscapeList is appended to [DefaultEscapeList] in
	// development mode.
	DevelopmentEscapeList = []string{
		`__REACT_ERROR_OVERLAY_GLOBAL_HOOK__`,
	}

	// DefaultNativeBindings are the names whose functions are bound to the
	// unwrapped host global.
	DefaultNativeBindings = []string{`fetch`}

	// spiedGlobals are the names read on every access, never cached.
	spiedGlobals = []string{`document`, `top`, `parent`, `eval`}

	// overwrittenGlobals resolve to values owned by the membrane.
	overwrittenGlobals = []string{`window`, `self`, `globalThis`, `hasOwnProperty`}

	// es2015Globals are candidate unscopables, filtered by what the host
	// global provides.
	es2015Globals = []string{
		`Array`,
		`ArrayBuffer`,
		`Boolean`,
		`constructor`,
		`DataView`,
		`Date`,
		`decodeURI`,
		`decodeURIComponent`,
		`encodeURI`,
		`encodeURIComponent`,
		`Error`,
		`escape`,
		`eval`,
		`EvalError`,
		`Float32Array`,
		`Float64Array`,
		`Function`,
		`hasOwnProperty`,
		`Infinity`,
		`Int16Array`,
		`Int32Array`,
		`Int8Array`,
		`isFinite`,
		`isNaN`,
		`isPrototypeOf`,
		`JSON`,
		`Map`,
		`Math`,
		`NaN`,
		`Number`,
		`Object`,
		`parseFloat`,
		`parseInt`,
		`Promise`,
		`propertyIsEnumerable`,
		`Proxy`,
		`RangeError`,
		`ReferenceError`,
		`Reflect`,
		`RegExp`,
		`Set`,
		`String`,
		`Symbol`,
		`SyntaxError`,
		`toLocaleString`,
		`toString`,
		`TypeError`,
		`Uint16Array`,
		`Uint32Array`,
		`Uint8Array`,
		`Uint8ClampedArray`,
		`undefined`,
		`unescape`,
		`URIError`,
		`valueOf`,
		`WeakMap`,
		`WeakSet`,
	}
)

// fastLookupGlobals returns the names that always report as present.
func fastLookupGlobals() map[string]struct{} {
	m := make(map[string]struct{})
	for _, names := range [...][]string{{`window`, `this`}, overwrittenGlobals, {`requestAnimationFrame`}} {
		for _, name := range names {
			m[name] = struct{}{}
		}
	}
	for _, name := range spiedGlobals {
		delete(m, name)
	}
	return m
}

// isSelfAlias reports names that resolve to the membrane itself.
func isSelfAlias(key string) bool {
	switch key {
	case `window`, `self`, `globalThis`:
		return true
	}
	return false
}

// isFrameAlias reports names that resolve to the membrane, unless the host
// global is itself framed.
func isFrameAlias(key string) bool {
	return key == `top` || key == `parent`
}

// isForcedWritable reports the non-configurable host properties copied onto
// the target as writable, so the get trap may return the membrane for them.
func isForcedWritable(key string) bool {
	switch key {
	case `top`, `parent`, `self`, `window`, `document`:
		return true
	}
	return false
}
