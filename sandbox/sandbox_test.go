package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/go-microapp/dom"
	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/patcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
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

func newTestHost(t *testing.T) *host.Host {
	t.Helper()
	h, err := host.New(host.WithDocumentHTML(testDocument))
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
		patcher.Release(h)
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

func containerOf(h *host.Host, name string) func() *dom.Node {
	return func() *dom.Node { return h.Document().QuerySelector(`#` + name) }
}

func newTestSandbox(t *testing.T, h *host.Host, name string, opts ...Option) *Sandbox {
	t.Helper()
	s, err := New(testContext(t), h, name, containerOf(h, name), opts...)
	require.NoError(t, err)
	return s
}

func exec(t *testing.T, s *Sandbox, code string) {
	t.Helper()
	require.NoError(t, s.Exec(testContext(t), code, ``))
}

// eval evaluates src against the host global.
func eval(t *testing.T, h *host.Host, src string) any {
	t.Helper()
	var result any
	require.NoError(t, h.Do(testContext(t), func() error {
		v, err := h.Runtime().RunString(src)
		if err != nil {
			return err
		}
		result = v.Export()
		return nil
	}))
	return result
}

// read returns window[key] as seen by the app.
func read(t *testing.T, s *Sandbox, key string) any {
	t.Helper()
	var result any
	require.NoError(t, s.Host().Do(testContext(t), func() error {
		result = s.Global().Get(key).Export()
		return nil
	}))
	return result
}

func TestSandbox_writesStayLocal(t *testing.T) {
	h := newTestHost(t)
	s := newTestSandbox(t, h, `app1`)
	require.NoError(t, s.Mount(testContext(t)))

	exec(t, s, `window.foo = 1`)
	require.Equal(t, int64(1), read(t, s, `foo`))
	require.Equal(t, `undefined`, eval(t, h, `typeof foo`))
	require.Contains(t, s.Global().Modifications(), `foo`)
	key, ok := s.Global().LatestWrittenKey()
	require.True(t, ok)
	require.Equal(t, `foo`, key)
}

func TestSandbox_escapeList(t *testing.T) {
	h := newTestHost(t)
	s := newTestSandbox(t, h, `app2`, WithEscapeList(`Bar`))
	require.NoError(t, s.Mount(testContext(t)))

	exec(t, s, `window.Bar = 2`)
	require.Equal(t, int64(2), eval(t, h, `Bar`))
}

func TestSandbox_lockedAfterUnmount(t *testing.T) {
	h := newTestHost(t)
	s := newTestSandbox(t, h, `app1`)
	require.NoError(t, s.Mount(testContext(t)))
	exec(t, s, `window.foo = 1`)
	require.NoError(t, s.Unmount(testContext(t)))

	// strict mode code requires the write to report success
	exec(t, s, `(function () { 'use strict'; window.foo = 99 })()`)
	require.Equal(t, int64(1), read(t, s, `foo`))

	require.NoError(t, s.Mount(testContext(t)))
	exec(t, s, `window.foo = 3`)
	require.Equal(t, int64(3), read(t, s, `foo`))
}

func TestSandbox_stateMachine(t *testing.T) {
	h := newTestHost(t)
	reg := prometheus.NewRegistry()
	s := newTestSandbox(t, h, `app1`, WithMetrics(reg))
	require.Equal(t, Bootstrapped, s.State())
	require.NotEmpty(t, s.ID().String())

	require.ErrorIs(t, s.Unmount(testContext(t)), ErrInvalidState)
	require.NoError(t, s.Mount(testContext(t)))
	require.Equal(t, Mounted, s.State())
	require.ErrorIs(t, s.Mount(testContext(t)), ErrInvalidState)
	require.NoError(t, s.Unmount(testContext(t)))
	require.Equal(t, Unmounted, s.State())
	require.NoError(t, s.Mount(testContext(t)))

	require.NoError(t, s.Destroy(testContext(t)))
	require.Equal(t, Destroyed, s.State())
	require.NoError(t, s.Destroy(testContext(t)))
	require.ErrorIs(t, s.Mount(testContext(t)), ErrInvalidState)
	require.ErrorIs(t, s.Exec(testContext(t), `1`, ``), ErrInvalidState)

	require.Equal(t, float64(2), testutil.ToFloat64(s.transitions.WithLabelValues(`app1`, `mounted`)))
	require.Equal(t, float64(2), testutil.ToFloat64(s.transitions.WithLabelValues(`app1`, `unmounted`)))
	require.Equal(t, float64(1), testutil.ToFloat64(s.transitions.WithLabelValues(`app1`, `destroyed`)))

	// shared counter, for sandboxes using the same registerer
	other := newTestSandbox(t, h, `app2`, WithMetrics(reg))
	require.Same(t, s.transitions, other.transitions)

	// the app name is free again
	newTestSandbox(t, h, `app1`)
}

func TestSandbox_newErrors(t *testing.T) {
	h := newTestHost(t)
	_, err := New(testContext(t), h, ``, containerOf(h, `app1`))
	require.ErrorIs(t, err, ErrEmptyName)
	_, err = New(testContext(t), h, `app1`, nil)
	require.ErrorIs(t, err, ErrNilOption)
	_, err = New(testContext(t), h, `app1`, containerOf(h, `app1`), WithDispatcher(nil))
	require.ErrorIs(t, err, ErrNilOption)

	newTestSandbox(t, h, `app1`)
	_, err = New(testContext(t), h, `app1`, containerOf(h, `app1`))
	require.ErrorIs(t, err, patcher.ErrDuplicateApp)
}

func TestSandbox_exec(t *testing.T) {
	h := newTestHost(t)
	s := newTestSandbox(t, h, `app1`)
	require.NoError(t, s.Mount(testContext(t)))

	exec(t, s, `
window.same = this === window && self === window && globalThis === window && window.window === window;
var declared = 1;
`)
	require.Equal(t, true, read(t, s, `same`))
	require.Equal(t, `undefined`, eval(t, h, `typeof declared`))

	err := s.Exec(testContext(t), `throw new Error('boom')`, `boom.js`)
	require.ErrorContains(t, err, `boom`)
}

func TestSandbox_intervalsStopOnUnmount(t *testing.T) {
	h := newTestHost(t)
	s := newTestSandbox(t, h, `app1`)
	require.NoError(t, s.Mount(testContext(t)))

	exec(t, s, `window.ticks = 0; setInterval(function () { ticks++ }, 1); setInterval(function () { ticks++ }, 1);`)
	require.Eventually(t, func() bool {
		var ticks int64
		_ = h.Do(testContext(t), func() error {
			ticks = s.Global().Get(`ticks`).ToInteger()
			return nil
		})
		return ticks >= 4
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, s.Unmount(testContext(t)))
	before := read(t, s, `ticks`)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, read(t, s, `ticks`))
}

func TestSandbox_stylesSurviveRemount(t *testing.T) {
	h := newTestHost(t)
	s1 := newTestSandbox(t, h, `app1`)
	s2 := newTestSandbox(t, h, `app2`)
	require.NoError(t, s1.Mount(testContext(t)))
	require.NoError(t, s2.Mount(testContext(t)))

	const code = `
var s = document.createElement('style');
s.textContent = '.NAME { color: red; }';
document.head.appendChild(s);
var generated = document.createElement('style');
document.head.appendChild(generated);
generated.sheet.insertRule('.NAME-generated { color: blue; }', 0);
`
	exec(t, s1, strings.ReplaceAll(code, `NAME`, `app1`))
	exec(t, s2, strings.ReplaceAll(code, `NAME`, `app2`))

	type summary struct {
		head   int
		styles [2]int
		rules  []string
	}
	inspect := func() (v summary) {
		require.NoError(t, h.Do(testContext(t), func() error {
			v.head = len(h.Document().Head().ChildNodes())
			for i, name := range []string{`app1`, `app2`} {
				nodes := h.Document().QuerySelectorAll(`#` + name + ` style`)
				v.styles[i] = len(nodes)
				if i == 0 && len(nodes) == 2 && nodes[1].Sheet() != nil {
					v.rules = nodes[1].Sheet().CSSRules()
				}
			}
			return nil
		}))
		return
	}

	got := inspect()
	require.Equal(t, 0, got.head)
	require.Equal(t, [2]int{2, 2}, got.styles)

	require.NoError(t, s1.Unmount(testContext(t)))
	require.NoError(t, h.Do(testContext(t), func() error {
		doc := h.Document()
		doc.QuerySelector(`#app1`).Remove()
		div := doc.CreateElement(`div`)
		div.SetAttr(`id`, `app1`)
		if _, err := div.RawAppendChild(doc.CreateElement(patcher.ContainerHeadTag)); err != nil {
			return err
		}
		_, err := doc.Body().RawAppendChild(div)
		return err
	}))
	require.Equal(t, [2]int{0, 2}, inspect().styles)

	require.NoError(t, s1.Mount(testContext(t)))
	got = inspect()
	require.Equal(t, 0, got.head)
	require.Equal(t, [2]int{2, 2}, got.styles)
	require.Len(t, got.rules, 1)
	require.Contains(t, got.rules[0], `.app1-generated`)

	require.NoError(t, s1.Unmount(testContext(t)))
	require.NoError(t, s2.Unmount(testContext(t)))
	require.False(t, patcher.Shared(h).Installed())
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{
		Created:      `created`,
		Bootstrapped: `bootstrapped`,
		Mounted:      `mounted`,
		Unmounted:    `unmounted`,
		Destroyed:    `destroyed`,
		State(9):     `State(9)`,
	} {
		require.Equal(t, want, state.String())
	}
}
