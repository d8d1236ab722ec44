// Package sitememory remembers, per origin, which actions worked on which
// page shapes so later attempts can skip the oracle.
package sitememory

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// Record is one remembered (page shape, action) pair.
type Record struct {
	Fingerprint string                 `json:"fingerprint"`
	Proposal    schemas.ActionProposal `json:"proposal"`
	RecordedAt  time.Time              `json:"recorded_at"`
}

// Entry is everything remembered about one origin.
type Entry struct {
	Origin    string    `json:"origin"`
	Successes []Record  `json:"successes"`
	Failures  []Record  `json:"failures"`
	Attempts  int       `json:"attempts"`
	Succeeded int       `json:"succeeded"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats summarizes an origin.
type Stats struct {
	Origin         string  `json:"origin"`
	Attempts       int     `json:"attempts"`
	Successes      int     `json:"successes"`
	SuccessRatio   float64 `json:"success_ratio"`
	SuccessRecords int     `json:"success_records"`
	FailureRecords int     `json:"failure_records"`
}

// Hint is a prior outcome for a proposal, shown to the oracle.
type Hint struct {
	Proposal  schemas.ActionProposal `json:"proposal"`
	Successes int                    `json:"successes"`
	Failures  int                    `json:"failures"`
	SamePage  bool                   `json:"same_page"`
}

// Memory is the per-origin store. Each origin has its own lock so that
// attempts against different sites never contend; the outer lock only
// guards the origin map.
type Memory struct {
	cfg    config.MemoryConfig
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	sites map[string]*site
}

type site struct {
	mu    sync.Mutex
	entry Entry
}

// New creates an empty memory.
func New(cfg config.MemoryConfig, logger *zap.Logger) *Memory {
	if cfg.ListCap <= 0 {
		cfg.ListCap = 50
	}
	if cfg.ReuseMinUses <= 0 {
		cfg.ReuseMinUses = 3
	}
	if cfg.ReuseMinRatio <= 0 {
		cfg.ReuseMinRatio = 0.7
	}
	return &Memory{
		cfg:    cfg,
		logger: logger.Named("site_memory"),
		now:    time.Now,
		sites:  make(map[string]*site),
	}
}

func (m *Memory) site(origin string, create bool) *site {
	m.mu.RLock()
	s, ok := m.sites[origin]
	m.mu.RUnlock()
	if ok || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sites[origin]; !ok {
		s = &site{entry: Entry{Origin: origin}}
		m.sites[origin] = s
	}
	return s
}

// Record appends the outcome of a proposal on a page shape. Lists are FIFO
// bounded by the configured cap.
func (m *Memory) Record(origin, fingerprint string, proposal schemas.ActionProposal, success bool) {
	s := m.site(origin, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{Fingerprint: fingerprint, Proposal: proposal, RecordedAt: m.now()}
	e := &s.entry
	e.Attempts++
	if success {
		e.Succeeded++
		e.Successes = appendBounded(e.Successes, rec, m.cfg.ListCap)
	} else {
		e.Failures = appendBounded(e.Failures, rec, m.cfg.ListCap)
	}
	e.UpdatedAt = rec.RecordedAt

	m.logger.Debug("Recorded proposal outcome",
		zap.String("origin", origin),
		zap.String("fingerprint", fingerprint),
		zap.String("kind", string(proposal.Kind)),
		zap.Bool("success", success))
}

func appendBounded(list []Record, rec Record, limit int) []Record {
	list = append(list, rec)
	if over := len(list) - limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}

type tally struct {
	key       string
	proposal  schemas.ActionProposal
	successes int
	failures  int
	lastUsed  time.Time
}

func (t *tally) uses() int { return t.successes + t.failures }

func (t *tally) ratio() float64 {
	if t.uses() == 0 {
		return 0
	}
	return float64(t.successes) / float64(t.uses())
}

func tallies(e *Entry, match func(Record) bool) map[string]*tally {
	out := make(map[string]*tally)
	add := func(rec Record, success bool) {
		if !match(rec) {
			return
		}
		key := rec.Proposal.Signature()
		t, ok := out[key]
		if !ok {
			t = &tally{key: key, proposal: rec.Proposal}
			out[key] = t
		}
		if success {
			t.successes++
		} else {
			t.failures++
		}
		if rec.RecordedAt.After(t.lastUsed) {
			t.lastUsed = rec.RecordedAt
			t.proposal = rec.Proposal
		}
	}
	for _, rec := range e.Successes {
		add(rec, true)
	}
	for _, rec := range e.Failures {
		add(rec, false)
	}
	return out
}

// Suggest returns a remembered proposal for the page shape when one has
// succeeded often enough to skip the oracle. Equal ratios resolve to the most
// recently used proposal. Suggest never mutates memory.
func (m *Memory) Suggest(origin, fingerprint string) (*schemas.ActionProposal, bool) {
	return m.SuggestExcluding(origin, fingerprint, nil)
}

// SuggestExcluding is Suggest restricted to proposals whose Signature is not
// in exclude.
func (m *Memory) SuggestExcluding(origin, fingerprint string, exclude map[string]bool) (*schemas.ActionProposal, bool) {
	s := m.site(origin, false)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *tally
	for _, t := range tallies(&s.entry, func(r Record) bool { return r.Fingerprint == fingerprint }) {
		if exclude[t.key] || t.uses() < m.cfg.ReuseMinUses || t.ratio() < m.cfg.ReuseMinRatio {
			continue
		}
		if best == nil || preferred(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, false
	}

	p := best.proposal
	p.Candidates = append([]string(nil), p.Candidates...)
	p.Source = schemas.SourceMemory
	p.Confidence = int(best.ratio() * 100)
	return &p, true
}

// preferred orders candidates by ratio, then recency, then signature so the
// choice never depends on map iteration order.
func preferred(a, b *tally) bool {
	if a.ratio() != b.ratio() {
		return a.ratio() > b.ratio()
	}
	if !a.lastUsed.Equal(b.lastUsed) {
		return a.lastUsed.After(b.lastUsed)
	}
	return a.key < b.key
}

// Hints lists prior outcomes on the origin for prompt context, same-page
// records first, then by most recent use. At most limit hints are returned.
func (m *Memory) Hints(origin, fingerprint string, limit int) []Hint {
	s := m.site(origin, false)
	if s == nil || limit <= 0 {
		return nil
	}
	s.mu.Lock()
	all := tallies(&s.entry, func(Record) bool { return true })
	same := tallies(&s.entry, func(r Record) bool { return r.Fingerprint == fingerprint })
	s.mu.Unlock()

	type ranked struct {
		Hint
		lastUsed time.Time
	}
	hints := make([]ranked, 0, len(all))
	for key, t := range all {
		_, onPage := same[key]
		hints = append(hints, ranked{
			Hint:     Hint{Proposal: t.proposal, Successes: t.successes, Failures: t.failures, SamePage: onPage},
			lastUsed: t.lastUsed,
		})
	}
	sort.Slice(hints, func(i, j int) bool {
		if hints[i].SamePage != hints[j].SamePage {
			return hints[i].SamePage
		}
		if !hints[i].lastUsed.Equal(hints[j].lastUsed) {
			return hints[i].lastUsed.After(hints[j].lastUsed)
		}
		return hints[i].Proposal.Signature() < hints[j].Proposal.Signature()
	})

	if len(hints) > limit {
		hints = hints[:limit]
	}
	out := make([]Hint, len(hints))
	for i, h := range hints {
		out[i] = h.Hint
	}
	return out
}

// Stats returns the counters for an origin. Unknown origins report zeros.
func (m *Memory) Stats(origin string) Stats {
	st := Stats{Origin: origin}
	s := m.site(origin, false)
	if s == nil {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st.Attempts = s.entry.Attempts
	st.Successes = s.entry.Succeeded
	st.SuccessRecords = len(s.entry.Successes)
	st.FailureRecords = len(s.entry.Failures)
	if st.Attempts > 0 {
		st.SuccessRatio = float64(st.Successes) / float64(st.Attempts)
	}
	return st
}

// Snapshot copies every entry, for persistence.
func (m *Memory) Snapshot() []Entry {
	m.mu.RLock()
	sites := make([]*site, 0, len(m.sites))
	for _, s := range m.sites {
		sites = append(sites, s)
	}
	m.mu.RUnlock()

	out := make([]Entry, 0, len(sites))
	for _, s := range sites {
		s.mu.Lock()
		e := s.entry
		e.Successes = append([]Record(nil), e.Successes...)
		e.Failures = append([]Record(nil), e.Failures...)
		s.mu.Unlock()
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

// Restore replaces the memory for each given origin. Lists longer than the
// cap keep their newest records.
func (m *Memory) Restore(entries []Entry) {
	for _, e := range entries {
		if e.Origin == "" {
			continue
		}
		if over := len(e.Successes) - m.cfg.ListCap; over > 0 {
			e.Successes = e.Successes[over:]
		}
		if over := len(e.Failures) - m.cfg.ListCap; over > 0 {
			e.Failures = e.Failures[over:]
		}
		s := m.site(e.Origin, true)
		s.mu.Lock()
		s.entry = e
		s.mu.Unlock()
	}
	m.logger.Info("Restored site memory", zap.Int("origins", len(entries)))
}
