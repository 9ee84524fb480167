// Package dom implements the shared document tree that micro apps insert
// into.
//
// The tree is a thin identity-preserving layer over [golang.org/x/net/html]
// nodes. Every [html.Node] maps to exactly one [Node], so callers may compare
// nodes with ==, which the insertion interception logic relies upon.
//
// # Interception
//
// A [Document] has at most one [Interceptor]. [Node.AppendChild],
// [Node.InsertBefore] and [Node.RemoveChild], when invoked on the document's
// head or body element, consult the interceptor first. The Raw variants
// ([Node.RawAppendChild] etc) never do, and are what an interceptor uses to
// perform the redirected operation.
//
// # Style sheets
//
// A <style> element has a [StyleSheet] only while it is connected to the
// document. The sheet is parsed from the element's text content on
// connection, and discarded on disconnection, so rules added with
// [StyleSheet.InsertRule] do not survive a remove/re-append cycle.
//
// # Thread Safety
//
// Nothing in this package is safe for concurrent use. The host confines all
// access to its event loop goroutine.
package dom
