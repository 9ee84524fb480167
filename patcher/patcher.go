package patcher

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/membrane"
)

// Phase distinguishes the one-time bootstrapping patches from the patches
// applied on every mount.
type Phase int

const (
	Bootstrapping Phase = iota
	Mounting
)

func (p Phase) String() string {
	switch p {
	case Bootstrapping:
		return `bootstrapping`
	case Mounting:
		return `mounting`
	default:
		return fmt.Sprintf(`Phase(%d)`, int(p))
	}
}

type (
	// Freer is an applied patch.
	Freer interface {
		// Free removes the patch, and the effects it captured. It may be
		// called more than once.
		Free() (Rebuilder, error)
	}

	// Rebuilder recreates the effects removed by [Freer.Free].
	Rebuilder interface {
		Rebuild() error
	}

	// Target is what [Apply] patches.
	Target struct {
		Host         *host.Host
		Global       *membrane.Membrane
		Registration *Registration
	}

	nopRebuilder struct{}
)

// Nop is a [Rebuilder] that does nothing.
var Nop Rebuilder = nopRebuilder{}

func (nopRebuilder) Rebuild() error { return nil }

// Apply applies the patches for phase, returning a handle for each. If any
// patch fails, those already applied are freed.
func Apply(t Target, phase Phase) ([]Freer, error) {
	interval, err := Interval(t.Host.Runtime(), t.Global, t.Host.Global())
	if err != nil {
		return nil, err
	}
	dynamic, err := t.Registration.Patch(phase)
	if err != nil {
		_, freeErr := interval.Free()
		return nil, errors.Join(err, freeErr)
	}
	return []Freer{interval, dynamic}, nil
}

// Bootstrap applies the bootstrapping phase patches.
func Bootstrap(t Target) ([]Freer, error) { return Apply(t, Bootstrapping) }

// Mount applies the mounting phase patches.
func Mount(t Target) ([]Freer, error) { return Apply(t, Mounting) }

// FreeAll frees every patch, in order, returning their rebuilders. All
// patches are freed even if some fail.
func FreeAll(patches []Freer) ([]Rebuilder, error) {
	rebuilders := make([]Rebuilder, 0, len(patches))
	var errs []error
	for _, p := range patches {
		r, err := p.Free()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rebuilders = append(rebuilders, r)
	}
	return rebuilders, errors.Join(errs...)
}

// RebuildAll runs every rebuilder, in order, stopping at the first error.
func RebuildAll(rebuilders []Rebuilder) error {
	for _, r := range rebuilders {
		if err := r.Rebuild(); err != nil {
			return err
		}
	}
	return nil
}
