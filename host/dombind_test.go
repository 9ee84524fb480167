package host

import (
	"runtime"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-microapp/dom"
	"github.com/stretchr/testify/require"
)

func TestHost_Wrap_identity(t *testing.T) {
	h := newTestHost(t, WithDocumentHTML(`<html><head></head><body><div id="c"></div></body></html>`))
	var (
		body, unwrapped *dom.Node
		first, second   *goja.Object
		ok, plain       bool
		none            *goja.Object
	)
	require.NoError(t, h.Do(testContext(t), func() error {
		body = h.Document().Body()
		first, second = h.Wrap(body), h.Wrap(body)
		unwrapped, ok = h.Unwrap(first)
		_, plain = h.Unwrap(h.Runtime().NewObject())
		none = h.Wrap(nil)
		return nil
	}))
	require.Same(t, first, second)
	require.True(t, ok)
	require.Same(t, body, unwrapped)
	require.False(t, plain)
	require.Nil(t, none)
	require.Equal(t, true, eval(t, h, `document.body === document.querySelector('body')`))
	require.Equal(t, true, eval(t, h, `document.getElementById('c').parentNode === document.body`))
}

func TestHost_domMutation(t *testing.T) {
	h := newTestHost(t)
	eval(t, h, `
var a = document.createElement('div');
a.id = 'a';
a.setAttribute('data-x', '1');
document.body.appendChild(a);
var b = document.createElement('span');
document.body.insertBefore(b, a);
`)
	require.Equal(t, `<body><span></span><div id="a" data-x="1"></div></body>`, eval(t, h, `document.body.outerHTML`))
	require.Equal(t, true, eval(t, h, `document.body.firstChild === b && b.nextSibling === a`))
	require.Equal(t, true, eval(t, h, `document.body.contains(a) && a.isConnected && a.tagName === 'DIV'`))
	require.Equal(t, `1`, eval(t, h, `a.getAttribute('data-x')`))
	require.Nil(t, eval(t, h, `a.getAttribute('missing')`))

	eval(t, h, `document.body.removeChild(b); a.remove()`)
	require.Equal(t, int64(0), eval(t, h, `document.body.childNodes.length`))
	require.Equal(t, false, eval(t, h, `a.isConnected`))

	require.Equal(t, `NotFoundError`, eval(t, h, `
try { document.body.removeChild(a); 'none' } catch (e) { e.name }
`))
	require.Equal(t, true, eval(t, h, `
try { document.body.appendChild({}); false } catch (e) { e instanceof TypeError }
`))
}

func TestHost_innerHTML(t *testing.T) {
	h := newTestHost(t)
	eval(t, h, `document.body.innerHTML = '<p>one</p><p>two</p>'`)
	require.Equal(t, int64(2), eval(t, h, `document.body.querySelectorAll('p').length`))
	require.Equal(t, `<p>one</p><p>two</p>`, eval(t, h, `document.body.innerHTML`))
	require.Equal(t, `onetwo`, eval(t, h, `document.body.textContent`))
}

func TestHost_scriptProperties(t *testing.T) {
	h := newTestHost(t)
	eval(t, h, `var s = document.createElement('script'); s.src = '/a.js'; s.async = true; s.text = 'x = 1'`)
	require.Equal(t, `/a.js`, eval(t, h, `s.src`))
	require.Equal(t, true, eval(t, h, `s.hasAttribute('async') && s.async`))
	require.Equal(t, `x = 1`, eval(t, h, `s.textContent`))
	eval(t, h, `s.async = false`)
	require.Equal(t, false, eval(t, h, `s.hasAttribute('async')`))
}

func TestHost_DispatchEvent(t *testing.T) {
	h := newTestHost(t)
	eval(t, h, `
var s = document.createElement('script'), calls = [];
s.onload = function (e) { calls.push('onload:' + e.type + ':' + (e.target === s)) };
function listener(e) { calls.push('listener:' + e.type) }
s.addEventListener('load', listener);
s.addEventListener('load', listener);
s.addEventListener('error', function () { calls.push('error') });
`)
	require.NoError(t, h.Do(testContext(t), func() error {
		n, ok := h.Unwrap(h.Runtime().Get(`s`))
		if !ok {
			return dom.ErrNotFound
		}
		return h.DispatchEvent(n, `load`)
	}))
	require.Equal(t, `onload:load:true,listener:load`, eval(t, h, `calls.join(',')`))

	eval(t, h, `calls = []; s.removeEventListener('load', listener); s.dispatchEvent({ type: 'load' })`)
	require.Equal(t, `onload:load:true`, eval(t, h, `calls.join(',')`))
}

func TestHost_DispatchEvent_handlerError(t *testing.T) {
	h := newTestHost(t)
	eval(t, h, `var s = document.createElement('script'); s.onerror = function () { throw new Error('handler failed') }`)
	err := h.Do(testContext(t), func() error {
		n, _ := h.Unwrap(h.Runtime().Get(`s`))
		return h.DispatchEvent(n, `error`)
	})
	var ex *goja.Exception
	require.ErrorAs(t, err, &ex)
	require.Contains(t, ex.Error(), `handler failed`)
}

func TestHost_styleSheet(t *testing.T) {
	h := newTestHost(t)
	eval(t, h, `var st = document.createElement('style'); st.textContent = 'a { color: red }'`)
	require.Nil(t, eval(t, h, `st.sheet`))
	eval(t, h, `document.head.appendChild(st)`)
	require.Equal(t, int64(1), eval(t, h, `st.sheet.cssRules.length`))
	require.Equal(t, true, eval(t, h, `st.sheet === st.sheet`))
	eval(t, h, `st.sheet.insertRule('b { color: blue }', 1)`)
	require.Equal(t, int64(2), eval(t, h, `st.sheet.cssRules.length`))
	require.Contains(t, eval(t, h, `st.sheet.cssRules[1].cssText`), `blue`)
	require.Equal(t, `IndexSizeError`, eval(t, h, `try { st.sheet.deleteRule(5); 'none' } catch (e) { e.name }`))
	eval(t, h, `st.sheet.deleteRule(0)`)
	require.Equal(t, int64(1), eval(t, h, `st.sheet.cssRules.length`))
}

func TestHost_detachedNodesReleased(t *testing.T) {
	h := newTestHost(t)
	eval(t, h, `
var kept = document.createElement('div'), hits = 0;
kept.addEventListener('ping', function () { hits++ });
(function () {
	for (var i = 0; i < 200; i++) {
		var el = document.createElement('div');
		el.appendChild(document.createElement('span'));
		el.addEventListener('ping', function () {});
		document.body.appendChild(el);
		document.body.appendChild(kept);
		document.body.removeChild(el);
		kept.remove();
	}
})();
`)
	ctx := testContext(t)
	require.Eventually(t, func() bool {
		var connected, detached int
		err := h.Do(ctx, func() error {
			runtime.GC()
			connected, detached = h.Document().Tracked()
			return nil
		})
		return err == nil && connected <= 2 && detached < 10
	}, 5*time.Second, 10*time.Millisecond)

	eval(t, h, `document.body.appendChild(kept); kept.dispatchEvent({ type: 'ping' })`)
	require.Equal(t, int64(1), eval(t, h, `hits`))
	require.Equal(t, true, eval(t, h, `document.body.firstChild === kept`))
}
