// File: internal/session/manager.go
package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// Manager moves cookies between a Store and live browsers. Both directions
// are best effort: callers log the error and carry on.
type Manager struct {
	store  Store
	logger *zap.Logger
}

func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger.Named("session")}
}

// Load restores the cookies saved for origin into b.
func (m *Manager) Load(ctx context.Context, origin string, b schemas.Browser) error {
	cookies, err := m.store.Get(ctx, origin)
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		return nil
	}
	if err := b.SetCookies(ctx, cookies); err != nil {
		return fmt.Errorf("restore session for %s: %w", origin, err)
	}
	m.logger.Debug("Restored session cookies", zap.String("origin", origin), zap.Int("count", len(cookies)))
	return nil
}

// Save stores the cookies of b that belong to origin's host. Third-party
// cookies are dropped. An empty jar leaves the stored set untouched.
func (m *Manager) Save(ctx context.Context, origin string, b schemas.Browser) error {
	cookies, err := b.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("read session for %s: %w", origin, err)
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("invalid origin %q", origin)
	}
	host := u.Hostname()

	kept := cookies[:0]
	for _, c := range cookies {
		if domainMatches(host, c.Domain) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if err := m.store.Put(ctx, origin, kept); err != nil {
		return err
	}
	m.logger.Debug("Saved session cookies", zap.String("origin", origin), zap.Int("count", len(kept)))
	return nil
}

// domainMatches applies the cookie domain-match rule: an exact match, or
// host ending in "."+domain.
func domainMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	host = strings.ToLower(host)
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
