// -- internal/humanoid/typist.go --
// Package humanoid paces keyboard input like a person typing: inter-key
// delays drawn from a clamped normal distribution, shortened where the
// current key completes a common English n-gram.
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/autoapply/internal/config"
)

// -- commonNgrams --
// Stored as strings for easy lookup.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true, "co": true, "om": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true, "com": true,
}

// SendFunc delivers one chunk of text to the focused input.
type SendFunc func(ctx context.Context, text string) error

// Typist produces inter-key delays. It is safe for concurrent use.
type Typist struct {
	cfg config.HumanoidConfig

	mu  sync.Mutex
	rng *rand.Rand

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTypist builds a typist. A zero seed picks one from the clock.
func NewTypist(cfg config.HumanoidConfig, seed int64) *Typist {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Typist{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		sleep: contextSleep,
	}
}

// Delay is the pause to take before typing runes[index].
func (t *Typist) Delay(runes []rune, index int) time.Duration {
	if !t.cfg.Enabled {
		return 0
	}

	mean := t.cfg.KeyPauseMeanMs * t.ngramFactor(runes, index)

	t.mu.Lock()
	randNorm := t.rng.NormFloat64()
	t.mu.Unlock()

	delay := randNorm*t.cfg.KeyPauseStdDevMs + mean
	delay = math.Max(t.cfg.KeyPauseMinMs, delay)
	if t.cfg.KeyPauseMaxMs > 0 {
		delay = math.Min(t.cfg.KeyPauseMaxMs, delay)
	}
	return time.Duration(delay * float64(time.Millisecond))
}

// ngramFactor checks the trigram ending at index first, then the digram.
func (t *Typist) ngramFactor(runes []rune, index int) float64 {
	if index <= 0 || index >= len(runes) {
		return 1.0
	}
	if index >= 2 && commonNgrams[strings.ToLower(string(runes[index-2:index+1]))] && t.cfg.TrigramFactor > 0 {
		return t.cfg.TrigramFactor
	}
	if commonNgrams[strings.ToLower(string(runes[index-1:index+1]))] && t.cfg.DigramFactor > 0 {
		return t.cfg.DigramFactor
	}
	return 1.0
}

// keyRoundTrip is the allowance for delivering one key to the browser.
const keyRoundTrip = 20 * time.Millisecond

// Budget is the longest Type can spend on text: the pauses plus one browser
// round trip per rune. The browser dispatches key events per rune even when
// the text is sent in one call.
func (t *Typist) Budget(text string) time.Duration {
	runes := len([]rune(text))
	allowance := time.Duration(runes) * keyRoundTrip
	if !t.cfg.Enabled {
		return allowance
	}
	perKey := math.Max(t.cfg.KeyPauseMaxMs, t.cfg.KeyPauseMeanMs+3*t.cfg.KeyPauseStdDevMs)
	return allowance + time.Duration(float64(runes)*perKey*float64(time.Millisecond))
}

// Type sends text one rune at a time, pausing before each.
func (t *Typist) Type(ctx context.Context, text string, send SendFunc) error {
	runes := []rune(text)
	if !t.cfg.Enabled {
		return send(ctx, text)
	}
	for i, r := range runes {
		if err := t.sleep(ctx, t.Delay(runes, i)); err != nil {
			return err
		}
		if err := send(ctx, string(r)); err != nil {
			return err
		}
	}
	return nil
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
