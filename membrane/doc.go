// Package membrane implements the virtual global that stands in for the
// shared JavaScript global object, for a single micro app.
//
// A [Membrane] overlays a private object (the "target") on top of the host
// global. Reads fall through to the host, writes land on the target, and a
// small set of names (the escape list) are written through to the host as
// well. Scripts observe the membrane via [Membrane.Instance], an ECMAScript
// Proxy whose traps delegate to the same methods Go callers use ([Membrane.Get],
// [Membrane.Set], [Membrane.Has], [Membrane.Delete], [Membrane.OwnKeys],
// [Membrane.GetOwnPropertyDescriptor], [Membrane.DefineProperty] and
// [Membrane.GetPrototypeOf]).
//
// # Locking
//
// A locked membrane accepts every write without error, and discards it. This
// is how an unmounted app's background code is prevented from mutating state.
//
// # Receivers
//
// Plain functions read through the membrane are rebound (see [Rebind]), so
// that calling them with the membrane, or no receiver, uses the host global
// instead. Host natives that validate their receiver would otherwise throw.
//
// # Thread Safety
//
// A membrane must only be used from the goroutine that owns its runtime.
package membrane
