// Package patcher implements the effect patchers applied to a sandboxed
// app: the [Interval] timer patcher, and the dynamic insertion patcher
// returned by [Registration.Patch], which redirects style, link and script
// elements appended to the shared document head or body into the app's
// container.
//
// # Free and Rebuild
//
// Applying a patch yields a [Freer]. Freeing it cancels or removes the
// effects captured so far, and yields a [Rebuilder], which recreates the
// rebuildable effects on the next mount. Both are explicit values, and
// the records they operate on (captured style nodes, their sibling
// position, and rule snapshots) are plain structs owned by the app's
// [Registration].
//
// # Sharing
//
// A [Dispatcher] is the single [dom.Interceptor] installed on a host's
// document. It is installed when the first app applies a patch, and
// removed only when the [Counters] report that every app, in both phases,
// has released its patches.
//
// # Attribution
//
// An inserted node belongs to the app whose document view created it (see
// [Node.Owner]). The view's createElement claims a single creating slot for
// the duration of the call. The slot is held per dispatcher, so nested
// creation by a second app within that window is attributed to the first.
// Nodes without an owner are attributed to the first exclusive
// registration whose activation rule matches the current location.
//
// [Node.Owner]: https://pkg.go.dev/github.com/joeycumines/go-microapp/dom#Node.Owner
package patcher
