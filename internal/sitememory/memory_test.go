package sitememory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

const origin = "https://jobs.example.com"

func newTestMemory(t *testing.T) (*Memory, *time.Time) {
	t.Helper()
	m := New(config.MemoryConfig{ListCap: 50, ReuseMinUses: 3, ReuseMinRatio: 0.7}, zaptest.NewLogger(t))
	clock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return m, &clock
}

func click(sel ...string) schemas.ActionProposal {
	return schemas.ActionProposal{Kind: schemas.ActionClick, Candidates: sel, Source: schemas.SourceOracle, Confidence: 60}
}

func TestSuggest_RequiresEnoughSuccessfulUses(t *testing.T) {
	m, _ := newTestMemory(t)
	p := click("#apply")

	for i := 0; i < 2; i++ {
		m.Record(origin, "fp1", p, true)
	}
	_, ok := m.Suggest(origin, "fp1")
	assert.False(t, ok, "two uses are below the reuse threshold")

	m.Record(origin, "fp1", p, true)
	got, ok := m.Suggest(origin, "fp1")
	require.True(t, ok)
	assert.Equal(t, schemas.SourceMemory, got.Source)
	assert.Equal(t, []string{"#apply"}, got.Candidates)
	assert.Equal(t, 100, got.Confidence)

	_, ok = m.Suggest(origin, "other-page")
	assert.False(t, ok, "suggestions are keyed by fingerprint")
	_, ok = m.Suggest("https://elsewhere.example.com", "fp1")
	assert.False(t, ok, "suggestions are keyed by origin")
}

func TestSuggest_ZeroConfigUsesDefaultThresholds(t *testing.T) {
	m := New(config.MemoryConfig{}, zaptest.NewLogger(t))
	gone := click("#gone")
	for i := 0; i < 3; i++ {
		m.Record(origin, "fp1", gone, false)
	}
	_, ok := m.Suggest(origin, "fp1")
	assert.False(t, ok, "an action that never succeeded is not reused")

	p := click("#apply")
	for i := 0; i < 2; i++ {
		m.Record(origin, "fp2", p, true)
	}
	m.Record(origin, "fp2", p, false)
	_, ok = m.Suggest(origin, "fp2")
	assert.False(t, ok, "two of three is below the default ratio")

	m.Record(origin, "fp2", p, true)
	m.Record(origin, "fp2", p, true)
	got, ok := m.Suggest(origin, "fp2")
	require.True(t, ok)
	assert.Equal(t, 80, got.Confidence)
}

func TestSuggestExcluding(t *testing.T) {
	m, _ := newTestMemory(t)
	first := click("#first")
	second := click("#second")
	for i := 0; i < 4; i++ {
		m.Record(origin, "fp1", first, true)
	}
	for i := 0; i < 3; i++ {
		m.Record(origin, "fp1", second, true)
	}

	got, ok := m.Suggest(origin, "fp1")
	require.True(t, ok)
	assert.Equal(t, []string{"#second"}, got.Candidates, "equal ratios pick the most recent")

	got, ok = m.SuggestExcluding(origin, "fp1", map[string]bool{second.Signature(): true})
	require.True(t, ok)
	assert.Equal(t, []string{"#first"}, got.Candidates)

	_, ok = m.SuggestExcluding(origin, "fp1", map[string]bool{first.Signature(): true, second.Signature(): true})
	assert.False(t, ok)
}

func TestSuggest_RatioThreshold(t *testing.T) {
	m, _ := newTestMemory(t)
	p := click("#next")

	// 2 successes out of 3 uses is 66%, below 70%.
	m.Record(origin, "fp", p, true)
	m.Record(origin, "fp", p, true)
	m.Record(origin, "fp", p, false)
	_, ok := m.Suggest(origin, "fp")
	assert.False(t, ok)

	// 5 of 7 is 71%.
	for i := 0; i < 3; i++ {
		m.Record(origin, "fp", p, true)
	}
	m.Record(origin, "fp", p, false)
	got, ok := m.Suggest(origin, "fp")
	require.True(t, ok)
	assert.Equal(t, 71, got.Confidence)
}

func TestSuggest_IsIdempotent(t *testing.T) {
	m, _ := newTestMemory(t)
	for i := 0; i < 4; i++ {
		m.Record(origin, "fp", click("#a"), true)
	}
	before := m.Snapshot()

	first, ok1 := m.Suggest(origin, "fp")
	second, ok2 := m.Suggest(origin, "fp")

	require.True(t, ok1)
	require.True(t, ok2)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("Suggest is not idempotent (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(before, m.Snapshot()); diff != "" {
		t.Fatalf("Suggest mutated memory (-before +after):\n%s", diff)
	}

	first.Candidates[0] = "#mutated"
	again, _ := m.Suggest(origin, "fp")
	assert.Equal(t, "#a", again.Candidates[0], "returned proposals must not alias stored state")
}

func TestSuggest_TieBreaksOnMostRecentlyUsed(t *testing.T) {
	m, _ := newTestMemory(t)
	older := click("#older")
	newer := click("#newer")

	for i := 0; i < 3; i++ {
		m.Record(origin, "fp", older, true)
	}
	for i := 0; i < 3; i++ {
		m.Record(origin, "fp", newer, true)
	}

	got, ok := m.Suggest(origin, "fp")
	require.True(t, ok)
	assert.Equal(t, []string{"#newer"}, got.Candidates)

	// Touching the older proposal again makes it the most recent.
	m.Record(origin, "fp", older, true)
	got, _ = m.Suggest(origin, "fp")
	assert.Equal(t, []string{"#older"}, got.Candidates)
}

func TestSuggest_HigherRatioBeatsRecency(t *testing.T) {
	m, _ := newTestMemory(t)
	for i := 0; i < 4; i++ {
		m.Record(origin, "fp", click("#perfect"), true)
	}
	for i := 0; i < 4; i++ {
		m.Record(origin, "fp", click("#mostly"), true)
	}
	m.Record(origin, "fp", click("#mostly"), false)

	got, ok := m.Suggest(origin, "fp")
	require.True(t, ok)
	assert.Equal(t, []string{"#perfect"}, got.Candidates)
}

func TestRecord_ListsAreBounded(t *testing.T) {
	m, _ := newTestMemory(t)
	for i := 0; i < 120; i++ {
		m.Record(origin, "fp", click(fmt.Sprintf("#s%d", i)), true)
		m.Record(origin, "fp", click(fmt.Sprintf("#f%d", i)), false)
	}

	st := m.Stats(origin)
	assert.Equal(t, 50, st.SuccessRecords)
	assert.Equal(t, 50, st.FailureRecords)
	assert.Equal(t, 240, st.Attempts)
	assert.Equal(t, 120, st.Successes)
	assert.InDelta(t, 0.5, st.SuccessRatio, 1e-9)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []string{"#s70"}, snap[0].Successes[0].Proposal.Candidates, "oldest records are evicted first")
	assert.Equal(t, []string{"#s119"}, snap[0].Successes[49].Proposal.Candidates)
}

func TestStats_UnknownOrigin(t *testing.T) {
	m, _ := newTestMemory(t)
	st := m.Stats("https://never.example.com")
	assert.Equal(t, Stats{Origin: "https://never.example.com"}, st)
}

func TestHints_SamePageFirst(t *testing.T) {
	m, _ := newTestMemory(t)
	m.Record(origin, "fp-a", click("#same"), false)
	m.Record(origin, "fp-b", click("#elsewhere"), true)
	m.Record(origin, "fp-b", click("#latest-elsewhere"), true)

	hints := m.Hints(origin, "fp-a", 2)
	require.Len(t, hints, 2)
	assert.True(t, hints[0].SamePage)
	assert.Equal(t, []string{"#same"}, hints[0].Proposal.Candidates)
	assert.Equal(t, 1, hints[0].Failures)
	assert.Equal(t, []string{"#latest-elsewhere"}, hints[1].Proposal.Candidates)

	assert.Nil(t, m.Hints("https://unknown.example.com", "fp-a", 5))
	assert.Nil(t, m.Hints(origin, "fp-a", 0))
}

func TestSnapshotRestore(t *testing.T) {
	m, _ := newTestMemory(t)
	for i := 0; i < 3; i++ {
		m.Record(origin, "fp", click("#a"), true)
	}
	snap := m.Snapshot()

	restored, _ := newTestMemory(t)
	restored.Restore(snap)

	got, ok := restored.Suggest(origin, "fp")
	require.True(t, ok)
	assert.Equal(t, []string{"#a"}, got.Candidates)
	assert.Equal(t, m.Stats(origin), restored.Stats(origin))
}

func TestRestore_TrimsOversizedLists(t *testing.T) {
	m, _ := newTestMemory(t)
	records := make([]Record, 60)
	for i := range records {
		records[i] = Record{Fingerprint: "fp", Proposal: click(fmt.Sprintf("#%d", i))}
	}
	m.Restore([]Entry{{Origin: origin, Successes: records}, {Origin: ""}})

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Len(t, snap[0].Successes, 50)
	assert.Equal(t, []string{"#10"}, snap[0].Successes[0].Proposal.Candidates)
}

func TestConcurrentAccess(t *testing.T) {
	m := New(config.MemoryConfig{ListCap: 50, ReuseMinUses: 3, ReuseMinRatio: 0.7}, zaptest.NewLogger(t))
	origins := []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				o := origins[(w+i)%len(origins)]
				m.Record(o, "fp", click("#go"), i%4 != 0)
				m.Suggest(o, "fp")
				m.Stats(o)
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, o := range origins {
		st := m.Stats(o)
		assert.LessOrEqual(t, st.SuccessRecords, 50)
		assert.LessOrEqual(t, st.FailureRecords, 50)
		total += st.Attempts
	}
	assert.Equal(t, 800, total)
}
