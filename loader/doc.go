// Package loader loads micro apps into sandboxes, and drives their
// lifecycles.
//
// An app's entry is a script that, evaluated against the app's virtual
// global, exports an object with bootstrap, mount and unmount lifecycle
// functions, either as the last global it writes, or as the global named
// after the app:
//
//	var main = document.createElement('main');
//	window.app1 = {
//		bootstrap: function () { return Promise.resolve() },
//		mount: function (props) { props.container.appendChild(main) },
//		unmount: function (props) { props.container.removeChild(main) },
//	}
//
// Each lifecycle may also be an array of functions, called in order. Any
// function may return a promise, which is awaited. Each receives a props
// object holding the app's name, its container, and the configured props.
//
// [Framework] manages registered apps by location, pairing each with an
// activation rule, and by default mounts at most one app at a time.
package loader
