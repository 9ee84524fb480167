package patcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/membrane"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testDocument = `<html><head></head><body>` +
	`<div id="app1"><qiankun-head></qiankun-head></div>` +
	`<div id="app2"><qiankun-head></qiankun-head></div>` +
	`</body></html>`

func newTestHost(t *testing.T, opts ...host.Option) *host.Host {
	t.Helper()
	h, err := host.New(append([]host.Option{host.WithDocumentHTML(testDocument)}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := h.Shutdown(sctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		cancel()
		<-done
		Release(h)
	})

	require.NoError(t, h.Do(ctx, func() error { return nil }))

	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func do(t *testing.T, h *host.Host, fn func() error) {
	t.Helper()
	require.NoError(t, h.Do(testContext(t), fn))
}

func eval(t *testing.T, h *host.Host, src string) any {
	t.Helper()
	var result any
	do(t, h, func() error {
		v, err := h.Runtime().RunString(src)
		if err != nil {
			return err
		}
		result = v.Export()
		return nil
	})
	return result
}

// newTestMembrane creates a membrane, exposed to scripts as the global
// named after the app.
func newTestMembrane(t *testing.T, h *host.Host, name string, opts ...membrane.Option) *membrane.Membrane {
	t.Helper()
	var m *membrane.Membrane
	do(t, h, func() (err error) {
		m, err = membrane.New(h.Runtime(), h.Global(), append([]membrane.Option{membrane.WithName(name)}, opts...)...)
		if err != nil {
			return err
		}
		return h.Runtime().Set(name, m.Instance())
	})
	return m
}

// execIn returns an executor running code with the membrane as its global.
func execIn(h *host.Host, m *membrane.Membrane) func(code, sourceURL string) error {
	return func(code, sourceURL string) error {
		fn, err := h.Runtime().RunScript(sourceURL, `(function (window) { with (window) {`+code+`
} })`)
		if err != nil {
			return err
		}
		call, ok := goja.AssertFunction(fn)
		if !ok {
			return errors.New(`not a function`)
		}
		_, err = call(m.Instance(), m.Instance())
		return err
	}
}
