// Package sandbox sequences the virtual global and effect patches of one
// app through its lifecycle.
//
// A [Sandbox] is created bootstrapped, with its bootstrapping patches
// applied. It then alternates between [Sandbox.Mount] and
// [Sandbox.Unmount], until [Sandbox.Destroy]:
//
//	created -> bootstrapped -> mounted <-> unmounted -> destroyed
//
// Mounting unlocks the virtual global, rebuilds the effects freed from the
// bootstrapping patches, applies fresh mounting patches, then rebuilds the
// effects freed from the previous mounting patches. Unmounting frees both
// sets of patches, keeping their rebuilders, and locks the virtual global,
// so code left running in the background can no longer write to it.
//
// All lifecycle methods run on the host's loop goroutine, which serializes
// them. Methods called out of order return an error wrapping
// [ErrInvalidState].
//
// # Evaluation
//
// [Sandbox.Exec] evaluates source as though the virtual global were the
// real one, by running it inside a with statement over the virtual
// global, in a function that shadows window, self and globalThis.
package sandbox
