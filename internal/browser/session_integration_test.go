package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

const formPage = `<html><body>
<form id="apply" action="/done">
<input id="email" name="email">
<select id="country"><option value="">-</option><option value="de">Germany</option></select>
<button id="next" type="button" onclick="document.getElementById('status').innerText='clicked'">Next</button>
</form>
<div id="status"></div>
</body></html>`

func findChrome() bool {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "google-chrome-stable"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func TestSession_AgainstRealChrome(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	if !findChrome() {
		t.Skip("chrome not installed")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s1", Path: "/"})
		fmt.Fprint(w, formPage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m := NewManager(ctx, config.BrowserConfig{Headless: true, NavigationTimeout: 20 * time.Second}, zaptest.NewLogger(t))
	defer m.Shutdown(context.Background())

	b, err := m.NewBrowser(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Navigate(ctx, srv.URL))
	html, _, err := b.PageSource(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `id="apply"`)

	require.NoError(t, b.Type(ctx, "#email", "a@b.c"))
	require.NoError(t, b.Select(ctx, "#country", "Germany"))
	require.NoError(t, b.Click(ctx, "#next"))

	_, text, err := b.PageSource(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "clicked")

	err = b.Click(ctx, "#does-not-exist")
	assert.ErrorIs(t, err, schemas.ErrLocatorNotFound)
	err = b.Select(ctx, "#country", "Mars")
	assert.ErrorIs(t, err, schemas.ErrElementNotInteractable)

	cookies, err := b.Cookies(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cookies)

	require.NoError(t, b.Close(ctx))
	assert.ErrorIs(t, b.Click(ctx, "#next"), schemas.ErrBrowserUnavailable)
}
