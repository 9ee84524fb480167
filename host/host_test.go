package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestHost starts a host, stopped on test cleanup.
func newTestHost(t *testing.T, opts ...Option) *Host {
	t.Helper()
	h, err := New(opts...)
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
	})

	// the loop goroutine is known once the first task runs
	require.NoError(t, h.Do(ctx, func() error { return nil }))

	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// eval runs src on the loop, returning the exported result.
func eval(t *testing.T, h *Host, src string) any {
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

func TestHost_windowGlobals(t *testing.T) {
	h := newTestHost(t)
	for _, src := range []string{
		`window === this`,
		`self === window`,
		`top === window && parent === window`,
		`window instanceof Window`,
		`Object.prototype.toString.call(window) === '[object Window]'`,
		`!Object.getOwnPropertyDescriptor(window, 'window').configurable`,
		`!Object.getOwnPropertyDescriptor(window, 'window').writable`,
		`Object.getOwnPropertyDescriptor(window, 'self').configurable`,
		`!Object.getOwnPropertyDescriptor(window, 'top').configurable`,
		`typeof Object.getOwnPropertyDescriptor(window, 'document').get === 'function'`,
		`document === window.document`,
	} {
		require.Equal(t, true, eval(t, h, src), src)
	}
}

func TestHost_framed(t *testing.T) {
	h := newTestHost(t, WithFramed(true))
	require.Equal(t, true, eval(t, h, `top !== window && top === parent && top.window === top`))
}

func TestHost_illegalInvocation(t *testing.T) {
	h := newTestHost(t, WithFetcher(fetch.Static{}))
	for _, src := range []string{
		`setTimeout.call({}, function () {})`,
		`clearInterval.call({}, 1)`,
		`fetch.call({}, '/a.js')`,
	} {
		var ex *goja.Exception
		err := h.Do(testContext(t), func() error {
			_, err := h.Runtime().RunString(src)
			return err
		})
		require.ErrorAs(t, err, &ex, src)
		require.Contains(t, ex.Error(), `Illegal invocation`, src)
	}
	require.Equal(t, true, eval(t, h, `typeof setTimeout.call(window, function () {}) === 'number'`))
}

func TestHost_setTimeout(t *testing.T) {
	h := newTestHost(t)
	fired := make(chan string, 1)
	require.NoError(t, h.Do(testContext(t), func() error {
		if err := h.Runtime().Set(`signal`, func(v string) { fired <- v }); err != nil {
			return err
		}
		_, err := h.Runtime().RunString(`setTimeout(function (a, b) { signal(a + b) }, 1, 'x', 'y')`)
		return err
	}))
	select {
	case v := <-fired:
		require.Equal(t, `xy`, v)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout not fired")
	}
}

func TestHost_setInterval(t *testing.T) {
	h := newTestHost(t)
	fired := make(chan struct{}, 8)
	require.NoError(t, h.Do(testContext(t), func() error {
		if err := h.Runtime().Set(`signal`, func() { fired <- struct{}{} }); err != nil {
			return err
		}
		_, err := h.Runtime().RunString(`var n = 0, id = setInterval(function () { if (++n === 3) { clearInterval(id) } signal() }, 1)`)
		return err
	}))
	for range 3 {
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatal("interval not fired")
		}
	}
	require.Equal(t, int64(3), eval(t, h, `n`))
}

func TestHost_clearAfterTick(t *testing.T) {
	h := newTestHost(t)
	fired := make(chan struct{}, 64)
	require.NoError(t, h.Do(testContext(t), func() error {
		if err := h.Runtime().Set(`signal`, func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		}); err != nil {
			return err
		}
		_, err := h.Runtime().RunString(`
var n = 0;
var interval = setInterval(function () { n++; signal() }, 1);
var timeout = setTimeout(function () { n += 1000 }, 60000);
`)
		return err
	}))
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("interval not fired")
	}

	var pending int
	require.NoError(t, h.Do(testContext(t), func() error {
		pending = h.Timers()
		_, err := h.Runtime().RunString(`clearInterval(interval); clearTimeout(timeout); clearInterval(interval)`)
		if err != nil {
			return err
		}
		if h.Timers() != 0 {
			return fmt.Errorf("%d timers left", h.Timers())
		}
		return nil
	}))
	require.Equal(t, 2, pending)

	before := eval(t, h, `n`)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, eval(t, h, `n`))
	require.Less(t, before.(int64), int64(1000))

	// ids of the other kind are ignored
	var counts [2]int
	require.NoError(t, h.Do(testContext(t), func() error {
		if _, err := h.Runtime().RunString(`var id = setTimeout(function () {}, 60000); clearInterval(id)`); err != nil {
			return err
		}
		counts[0] = h.Timers()
		_, err := h.Runtime().RunString(`clearTimeout(id)`)
		counts[1] = h.Timers()
		return err
	}))
	require.Equal(t, [2]int{1, 0}, counts)
}

func TestHost_Await_fetch(t *testing.T) {
	h := newTestHost(t, WithFetcher(fetch.Static{`/a.js`: `content`}))
	require.NoError(t, h.Await(testContext(t), func() (goja.Value, error) {
		return h.Runtime().RunString(`fetch('/a.js').then(function (r) { return r.text() }).then(function (t) { window.got = t })`)
	}))
	require.Equal(t, `content`, eval(t, h, `got`))
}

func TestHost_Await_rejected(t *testing.T) {
	h := newTestHost(t, WithFetcher(fetch.Static{}))
	err := h.Await(testContext(t), func() (goja.Value, error) {
		return h.Runtime().RunString(`fetch('/missing.js')`)
	})
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), `/missing.js`)
}

func TestHost_Await_value(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.Await(testContext(t), func() (goja.Value, error) {
		return h.Runtime().ToValue(1), nil
	}))
}

func TestHost_Await_reentrant(t *testing.T) {
	h := newTestHost(t)
	ctx := testContext(t)
	var (
		onLoop   bool
		awaitErr error
	)
	require.NoError(t, h.Do(ctx, func() error {
		onLoop = h.OnLoop()
		awaitErr = h.Await(ctx, func() (goja.Value, error) { return goja.Undefined(), nil })
		return nil
	}))
	require.True(t, onLoop)
	require.ErrorIs(t, awaitErr, ErrReentrantAwait)
	require.False(t, h.OnLoop())
}

func TestHost_Do_recoversPanic(t *testing.T) {
	h := newTestHost(t)
	sentinel := errors.New(`sentinel`)
	require.ErrorIs(t, h.Do(testContext(t), func() error { panic(sentinel) }), sentinel)
	require.ErrorContains(t, h.Do(testContext(t), func() error { panic(`boom`) }), `boom`)
}

func TestHost_console(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``))).Logger()
	h := newTestHost(t, WithLogger(logger))
	eval(t, h, `console.warn('hello', 1, true)`)
	out := buf.String()
	require.Contains(t, out, `"lvl":"warning"`)
	require.Contains(t, out, `"source":"console"`)
	require.Contains(t, out, `"msg":"hello 1 true"`)
}

func TestHost_location(t *testing.T) {
	h := newTestHost(t, WithLocation(`http://localhost/app1/page`))
	require.Equal(t, `/app1/page`, eval(t, h, `location.pathname`))
	h.SetLocation(`http://localhost/app2`)
	require.Equal(t, `/app2`, eval(t, h, `location.pathname`))
	eval(t, h, `location.href = 'http://localhost/app3/x'`)
	require.Equal(t, `http://localhost/app3/x`, h.Location())
	require.True(t, strings.HasSuffix(eval(t, h, `String(location)`).(string), `/app3/x`))
}

func TestHost_shutdownNeverRun(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	require.NoError(t, h.Shutdown(testContext(t)))
}
