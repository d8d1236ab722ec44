// File: internal/mocks/fake_browser.go
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// FakePage is one scripted page state.
type FakePage struct {
	URL  string
	HTML string
	Text string
}

// FakeBrowser is an in-memory schemas.Browser driven by a script of pages
// and element behaviours. It is safe for concurrent use.
type FakeBrowser struct {
	mu sync.Mutex

	Page FakePage
	// Elements lists the selectors present on every page. A nil value means
	// the element works; an error is returned from every interaction.
	Elements map[string]error
	// Transitions maps a clicked selector to the page it leads to.
	Transitions map[string]FakePage
	// Dead makes every call fail with ErrBrowserUnavailable.
	Dead bool

	Typed     map[string]string
	Uploaded  map[string]string
	Selected  map[string]string
	CookieJar []schemas.Cookie
	Calls     []string
	Closed    bool
}

// NewFakeBrowser starts on page with the given working selectors.
func NewFakeBrowser(page FakePage, selectors ...string) *FakeBrowser {
	b := &FakeBrowser{
		Page:        page,
		Elements:    make(map[string]error),
		Transitions: make(map[string]FakePage),
		Typed:       make(map[string]string),
		Uploaded:    make(map[string]string),
		Selected:    make(map[string]string),
	}
	for _, s := range selectors {
		b.Elements[s] = nil
	}
	return b
}

func (b *FakeBrowser) record(format string, args ...interface{}) error {
	b.Calls = append(b.Calls, fmt.Sprintf(format, args...))
	if b.Dead || b.Closed {
		return fmt.Errorf("fake browser: %w", schemas.ErrBrowserUnavailable)
	}
	return nil
}

func (b *FakeBrowser) element(selector string) error {
	err, ok := b.Elements[selector]
	if !ok {
		return fmt.Errorf("%w: %s", schemas.ErrLocatorNotFound, selector)
	}
	return err
}

// CallCount reports how many recorded calls start with prefix.
func (b *FakeBrowser) CallCount(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.Calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (b *FakeBrowser) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("navigate %s", url); err != nil {
		return err
	}
	b.Page.URL = url
	return ctx.Err()
}

func (b *FakeBrowser) CurrentURL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("url"); err != nil {
		return "", err
	}
	return b.Page.URL, nil
}

func (b *FakeBrowser) PageSource(ctx context.Context) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("source"); err != nil {
		return "", "", err
	}
	return b.Page.HTML, b.Page.Text, nil
}

func (b *FakeBrowser) ScrollIntoView(ctx context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("scroll %s", selector); err != nil {
		return err
	}
	if _, ok := b.Elements[selector]; !ok {
		return fmt.Errorf("%w: %s", schemas.ErrLocatorNotFound, selector)
	}
	return nil
}

func (b *FakeBrowser) Click(ctx context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("click %s", selector); err != nil {
		return err
	}
	if err := b.element(selector); err != nil {
		return err
	}
	if next, ok := b.Transitions[selector]; ok {
		b.Page = next
	}
	return nil
}

func (b *FakeBrowser) Clear(ctx context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("clear %s", selector); err != nil {
		return err
	}
	if err := b.element(selector); err != nil {
		return err
	}
	b.Typed[selector] = ""
	return nil
}

func (b *FakeBrowser) Type(ctx context.Context, selector, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("type %s", selector); err != nil {
		return err
	}
	if err := b.element(selector); err != nil {
		return err
	}
	b.Typed[selector] += text
	return nil
}

func (b *FakeBrowser) Upload(ctx context.Context, selector, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("upload %s", selector); err != nil {
		return err
	}
	if err := b.element(selector); err != nil {
		return err
	}
	b.Uploaded[selector] = path
	return nil
}

func (b *FakeBrowser) Select(ctx context.Context, selector, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("select %s", selector); err != nil {
		return err
	}
	if err := b.element(selector); err != nil {
		return err
	}
	b.Selected[selector] = value
	return nil
}

func (b *FakeBrowser) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("cookies"); err != nil {
		return nil, err
	}
	return append([]schemas.Cookie(nil), b.CookieJar...), nil
}

func (b *FakeBrowser) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record("set_cookies"); err != nil {
		return err
	}
	b.CookieJar = append(b.CookieJar, cookies...)
	return nil
}

func (b *FakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, "close")
	b.Closed = true
	return nil
}

// FakeBrowserFactory hands out browsers built by New, one per session.
type FakeBrowserFactory struct {
	mu     sync.Mutex
	New    func(session int) *FakeBrowser
	Err    error
	Opened []*FakeBrowser
}

func (f *FakeBrowserFactory) NewBrowser(ctx context.Context) (schemas.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	b := f.New(len(f.Opened))
	f.Opened = append(f.Opened, b)
	return b, nil
}

// Sessions reports how many browsers have been opened.
func (f *FakeBrowserFactory) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Opened)
}

var (
	_ schemas.Browser        = (*FakeBrowser)(nil)
	_ schemas.BrowserFactory = (*FakeBrowserFactory)(nil)
	_ schemas.LLMClient      = (*MockLLMClient)(nil)
	_ schemas.OutcomeStore   = (*MockOutcomeStore)(nil)
	_ schemas.BrowserFactory = (*MockBrowserFactory)(nil)
	_ config.Interface       = (*MockConfig)(nil)
)
