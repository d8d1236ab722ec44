// File: internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

const defaultNavigationTimeout = 45 * time.Second

// selectScript picks an option by value or visible label and fires the
// events frameworks listen for. It reports "missing", "no-option" or "ok".
const selectScript = `(function(sel, val) {
	const el = document.querySelector(sel);
	if (!el) { return "missing"; }
	const opts = Array.from(el.options || []);
	const opt = opts.find(o => o.value === val) || opts.find(o => o.text.trim() === val);
	if (!opt) { return "no-option"; }
	el.value = opt.value;
	el.dispatchEvent(new Event("input", { bubbles: true }));
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return "ok";
})(%s, %s)`

const visibleTextScript = `document.body ? document.body.innerText : ""`

// Session is a single chromedp browser context implementing schemas.Browser.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	onClose func()
}

var _ schemas.Browser = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, id string, cfg config.BrowserConfig, logger *zap.Logger, onClose func()) *Session {
	return &Session{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		logger:  logger.With(zap.String("session_id", id)),
		onClose: onClose,
	}
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string { return s.id }

// runActions executes chromedp actions under a context bound to both the
// session and the caller.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.alive(); err != nil {
		return err
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if s.ctx.Err() != nil {
			return fmt.Errorf("%w: %v", schemas.ErrBrowserUnavailable, err)
		}
		return err
	}
	return nil
}

func (s *Session) alive() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.ctx.Err() != nil {
		return fmt.Errorf("%w: session %s is closed", schemas.ErrBrowserUnavailable, s.id)
	}
	return nil
}

// Navigate loads url and waits for the document body, then lets the page
// settle for the configured post-load wait.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug("Navigating", zap.String("url", url))
	if err := s.runActions(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if errors.Is(err, schemas.ErrBrowserUnavailable) {
			return err
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return s.settle(ctx)
}

// settle waits PostLoadWait so script-driven pages can render.
func (s *Session) settle(ctx context.Context) error {
	if s.cfg.PostLoadWait <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.PostLoadWait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.runActions(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (s *Session) PageSource(ctx context.Context) (string, string, error) {
	var html, text string
	err := s.runActions(ctx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(visibleTextScript, &text),
	)
	if err != nil {
		return "", "", err
	}
	return html, text, nil
}

// locate confirms selector matches at least one node without waiting for it
// to appear.
func (s *Session) locate(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	if err := s.runActions(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		if errors.Is(err, schemas.ErrBrowserUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", schemas.ErrLocatorNotFound, selector, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", schemas.ErrLocatorNotFound, selector)
	}
	return nil
}

// interact locates selector and then runs the element actions, mapping any
// failure after a successful lookup to ErrElementNotInteractable.
func (s *Session) interact(ctx context.Context, selector string, actions ...chromedp.Action) error {
	if err := s.locate(ctx, selector); err != nil {
		return err
	}
	if err := s.runActions(ctx, actions...); err != nil {
		if errors.Is(err, schemas.ErrBrowserUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", schemas.ErrElementNotInteractable, selector, err)
	}
	return nil
}

func (s *Session) ScrollIntoView(ctx context.Context, selector string) error {
	return s.interact(ctx, selector, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.interact(ctx, selector, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return err
	}
	// A click may start a navigation; give it the same settle time.
	if err := s.settle(ctx); err != nil && ctx.Err() == nil {
		s.logger.Debug("Settle after click interrupted", zap.Error(err))
	}
	return nil
}

func (s *Session) Clear(ctx context.Context, selector string) error {
	return s.interact(ctx, selector, chromedp.Clear(selector, chromedp.ByQuery))
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	return s.interact(ctx, selector, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (s *Session) Upload(ctx context.Context, selector, path string) error {
	return s.interact(ctx, selector, chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery))
}

func (s *Session) Select(ctx context.Context, selector, value string) error {
	selJSON, err := jsoniter.MarshalToString(selector)
	if err != nil {
		return err
	}
	valJSON, err := jsoniter.MarshalToString(value)
	if err != nil {
		return err
	}

	var status string
	if err := s.runActions(ctx, chromedp.Evaluate(fmt.Sprintf(selectScript, selJSON, valJSON), &status)); err != nil {
		if errors.Is(err, schemas.ErrBrowserUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", schemas.ErrElementNotInteractable, selector, err)
	}
	switch status {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("%w: %s", schemas.ErrLocatorNotFound, selector)
	default:
		return fmt.Errorf("%w: %s has no option %q", schemas.ErrElementNotInteractable, selector, value)
	}
}

func (s *Session) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var cookies []*network.Cookie
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return fromCDPCookies(cookies), nil
}

func (s *Session) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	params := toCookieParams(cookies)
	if len(params) == 0 {
		return nil
	}
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return network.SetCookies(params).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("restore cookies: %w", err)
	}
	return nil
}

// Close shuts the browser down. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.cancel()
	if s.onClose != nil {
		s.onClose()
	}
	if err != nil && !errors.Is(err, context.Canceled) && !strings.Contains(err.Error(), "context canceled") {
		s.logger.Warn("Browser session did not close cleanly", zap.Error(err))
		return err
	}
	s.logger.Debug("Browser session closed")
	return nil
}
