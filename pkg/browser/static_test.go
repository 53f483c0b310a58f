package browser

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body>
<div class="logo-w"><img src="logo.png"></div>
<form action="/login" method="post">
  <input id="username" name="username">
  <input id="password" name="password" type="password">
  <input type="hidden" name="csrf" value="tok">
  <button id="submit" type="submit">Sign in</button>
</form>
<a id="log-in" href="/app.html">Log In</a>
<div style="display: none"><span class="ghost">Hidden</span></div>
<ul class="menu"><li><span>Card types</span></li><li><span>Loans</span></li></ul>
</body></html>`

const appPage = `<html><body><h1>Dashboard</h1><p>Make   Payment</p></body></html>`

func staticServer() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", httphelpers.HandlerWithResponse(200, http.Header{"Content-Type": {"text/html"}}, []byte(loginPage)))
	mux.Handle("/app.html", httphelpers.HandlerWithResponse(200, http.Header{"Content-Type": {"text/html"}}, []byte(appPage)))
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body><p id=\"who\">"+r.PostForm.Get("username")+"/"+r.PostForm.Get("csrf")+"</p></body></html>")
	})
	return mux
}

func newStaticPage(t *testing.T) Page {
	t.Helper()
	d := NewStatic(Options{Timeout: time.Second})
	p, err := d.NewPage(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestStaticQuery(t *testing.T) {
	httphelpers.WithServer(staticServer(), func(server *httptest.Server) {
		ctx := context.Background()
		p := newStaticPage(t)
		require.NoError(t, p.Navigate(ctx, server.URL))

		els, err := p.Query(ctx, "ul.menu li span")
		require.NoError(t, err)
		require.Len(t, els, 2)
		assert.Equal(t, "Card types", els[0].Text)
		assert.True(t, els[1].Visible)

		els, err = p.Query(ctx, "span.ghost")
		require.NoError(t, err)
		require.Len(t, els, 1)
		assert.False(t, els[0].Visible)

		els, err = p.Query(ctx, "id=username")
		require.NoError(t, err)
		assert.Len(t, els, 1)

		_, err = p.Query(ctx, "xpath=//ul")
		assert.True(t, errors.Is(err, ErrUnsupported))
	})
}

func TestStaticTextLocator(t *testing.T) {
	httphelpers.WithServer(staticServer(), func(server *httptest.Server) {
		ctx := context.Background()
		p := newStaticPage(t)
		require.NoError(t, p.Navigate(ctx, server.URL+"/app.html"))

		els, err := p.Query(ctx, "text=make payment")
		require.NoError(t, err)
		require.Len(t, els, 1, "only the deepest element should match")
		assert.Equal(t, "Make   Payment", els[0].Text)
	})
}

func TestStaticClickFollowsLink(t *testing.T) {
	httphelpers.WithServer(staticServer(), func(server *httptest.Server) {
		ctx := context.Background()
		p := newStaticPage(t)
		require.NoError(t, p.Navigate(ctx, server.URL))
		require.NoError(t, p.Click(ctx, "id=log-in"))

		u, err := p.URL(ctx)
		require.NoError(t, err)
		assert.Equal(t, server.URL+"/app.html", u)
	})
}

func TestStaticFillAndSubmit(t *testing.T) {
	httphelpers.WithServer(staticServer(), func(server *httptest.Server) {
		ctx := context.Background()
		p := newStaticPage(t)
		require.NoError(t, p.Navigate(ctx, server.URL))
		require.NoError(t, p.Fill(ctx, "id=username", "andy"))
		require.NoError(t, p.Click(ctx, "#submit"))

		els, err := p.Query(ctx, "#who")
		require.NoError(t, err)
		require.Len(t, els, 1)
		assert.Equal(t, "andy/tok", els[0].Text)
	})
}

func TestStaticMissingElementTimesOut(t *testing.T) {
	httphelpers.WithServer(staticServer(), func(server *httptest.Server) {
		ctx := context.Background()
		p := newStaticPage(t)
		require.NoError(t, p.Navigate(ctx, server.URL))

		err := p.Click(ctx, "span.ghost")
		var te *TimeoutError
		require.True(t, errors.As(err, &te), "got %v", err)
		assert.Equal(t, "click", te.Action)
		assert.Equal(t, "span.ghost", te.Locator)
		assert.Equal(t, time.Second, te.Bound)
	})
}

func TestStaticNavigationError(t *testing.T) {
	p := newStaticPage(t)
	err := p.Navigate(context.Background(), "http://127.0.0.1:1/")
	var ne *NavigationError
	assert.True(t, errors.As(err, &ne), "got %v", err)
}

func TestStaticScreenshotUnsupported(t *testing.T) {
	p := newStaticPage(t)
	_, err := p.Screenshot(context.Background(), true)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestOptionsTimeoutFor(t *testing.T) {
	opts := Options{
		Timeout:        10 * time.Second,
		ActionTimeouts: map[string]time.Duration{"navigate": 20 * time.Second},
	}
	assert.Equal(t, 20*time.Second, opts.timeoutFor("navigate"))
	assert.Equal(t, 10*time.Second, opts.timeoutFor("click"))
	assert.Equal(t, 30*time.Second, Options{}.timeoutFor("click"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("lynx", Options{})
	assert.Error(t, err)
}

func TestStaticErrorStatusFailsNavigation(t *testing.T) {
	for _, status := range []int{404, 500} {
		handler := httphelpers.HandlerWithResponse(status, http.Header{"Content-Type": {"text/html"}}, []byte(loginPage))
		httphelpers.WithServer(handler, func(server *httptest.Server) {
			p := newStaticPage(t)
			err := p.Navigate(context.Background(), server.URL)

			var ne *NavigationError
			require.True(t, errors.As(err, &ne), "status %d: got %v", status, err)
			assert.Equal(t, status, ne.Status)
			assert.Equal(t, server.URL, ne.URL)

			_, err = p.Query(context.Background(), "div.logo-w")
			assert.Error(t, err, "an error page must not become the loaded document")
		})
	}
}
