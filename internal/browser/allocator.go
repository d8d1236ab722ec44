// internal/browser/allocator.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/autoapply/internal/config"
)

const (
	defaultWidth  = 1366
	defaultHeight = 900
)

// allocatorFlags builds the Chrome command-line flags for cfg. Values are
// either bool (switch on/off) or string (--key=value).
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"no-sandbox":               true,
		"disable-gpu":              true,
		"disable-dev-shm-usage":    true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"disable-sync":             true,
		"disable-translate":        true,
		"mute-audio":               true,
		"disable-infobars":         true,
		"disable-features":         "TranslateUI",
		"disable-blink-features":   "AutomationControlled",
		"headless":                 cfg.Headless,
	}
	if cfg.Headless {
		flags["hide-scrollbars"] = true
	}

	if cfg.DisableCache {
		flags["disk-cache-size"] = "1"
		flags["media-cache-size"] = "1"
		flags["disable-cache"] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}

	// Extra args: "--flag" switches a flag on, "--key=value" sets a value.
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags[key] = strings.Trim(value, `"'`)
		} else {
			flags[key] = true
		}
	}
	return flags
}

// DefaultAllocatorOptions returns the exec allocator options for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for key, value := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(key, value))
	}

	width, height := viewport(cfg)
	opts = append(opts, chromedp.WindowSize(width, height))
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

func viewport(cfg config.BrowserConfig) (int, int) {
	width, height := cfg.Viewport["width"], cfg.Viewport["height"]
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	return width, height
}
