// Package host implements the shared execution host that every micro app
// runs inside: one [goja.Runtime] with a browser-like global namespace, one
// [dom.Document], and one [eventloop.Loop] which owns the only thread
// allowed to touch either.
//
// # Globals
//
// The global object mimics the parts of a browser window that sandboxing
// cares about. Notably, window is a non-configurable data property, top
// and parent are non-configurable accessors, and the native functions
// (timers and fetch) reject any receiver other than the global itself with
// "TypeError: Illegal invocation".
//
// # Running Code
//
// Nothing may touch the runtime or the document except from the loop
// goroutine. [Host.Do] runs a function there and waits for it, [Host.Await]
// additionally waits for a returned Promise to settle.
//
//	h, err := host.New(host.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	go h.Run(ctx)
//	defer h.Shutdown(ctx)
//	err = h.Do(ctx, func() error {
//	    _, err := h.Runtime().RunString(`document.body.appendChild(document.createElement('div'))`)
//	    return err
//	})
//
// # DOM Bindings
//
// [Host.Wrap] returns the script-visible object for a [dom.Node], and is
// stable, i.e. the same node always maps to the same object. [Host.Unwrap]
// reverses the mapping.
package host
