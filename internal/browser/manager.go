// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// Manager owns the Chrome exec allocator and hands out isolated sessions.
// Every session gets its own browser process, so a restart never inherits
// state from the session it replaces.
type Manager struct {
	cfg         config.BrowserConfig
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

var _ schemas.BrowserFactory = (*Manager)(nil)

// NewManager prepares the allocator. No browser starts until NewBrowser.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)
	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		sessions:    make(map[string]*Session),
	}
}

// NewBrowser launches a fresh browser. Launch failures wrap
// ErrBrowserUnavailable.
func (m *Manager) NewBrowser(ctx context.Context) (schemas.Browser, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: manager is shut down", schemas.ErrBrowserUnavailable)
	}
	m.mu.Unlock()

	opts := []chromedp.ContextOption{chromedp.WithErrorf(m.logger.Sugar().Debugf)}
	if m.cfg.Debug {
		opts = append(opts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	browserCtx, cancel := chromedp.NewContext(m.allocCtx, opts...)

	width, height := viewport(m.cfg)
	launched := make(chan error, 1)
	go func() {
		// The first Run must use the browser context itself; a derived
		// context would tear the browser down with it.
		launched <- chromedp.Run(browserCtx, chromedp.EmulateViewport(int64(width), int64(height)))
	}()

	select {
	case err := <-launched:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: launch: %v", schemas.ErrBrowserUnavailable, err)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	id := uuid.New().String()
	sess := newSession(browserCtx, cancel, id, m.cfg, m.logger, func() { m.forget(id) })

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.logger.Info("Browser session started", zap.String("session_id", id))
	return sess, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Shutdown closes every open session and releases the allocator.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range open {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Close(closeCtx)
		}(s)
	}
	wg.Wait()

	m.allocCancel()
	m.logger.Info("Browser manager shut down", zap.Int("sessions_closed", len(open)))
	return nil
}
