package suppress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/resolvix/collector/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	rules   []model.SuppressionRule
	err     error
	matches map[int64]int
	loads   int
}

func (f *fakeStore) ActiveRules(ctx context.Context) ([]model.SuppressionRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.SuppressionRule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeStore) RecordMatch(ctx context.Context, ruleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.matches == nil {
		f.matches = make(map[int64]int)
	}
	f.matches[ruleID]++
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) matchCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matches[id]
}

func rule(id int64, text string) model.SuppressionRule {
	return model.SuppressionRule{ID: id, Name: "r", MatchText: text, Enabled: true}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestShouldSuppressMatch(t *testing.T) {
	store := &fakeStore{rules: []model.SuppressionRule{rule(1, "XYZ")}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())

	v := e.ShouldSuppress("ERROR xyz happened")
	if !v.Suppressed || v.RuleID != 1 {
		t.Fatalf("expected suppression by rule 1, got %+v", v)
	}
	waitFor(t, func() bool { return store.matchCount(1) == 1 })
}

func TestShouldSuppressNoMatch(t *testing.T) {
	store := &fakeStore{rules: []model.SuppressionRule{rule(1, "nothing")}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())

	if v := e.ShouldSuppress("ERROR xyz"); v.Suppressed {
		t.Fatalf("unexpected suppression: %+v", v)
	}
}

func TestShouldSuppressDisabledRule(t *testing.T) {
	r := rule(1, "xyz")
	r.Enabled = false
	store := &fakeStore{rules: []model.SuppressionRule{r}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())

	if v := e.ShouldSuppress("xyz"); v.Suppressed {
		t.Fatal("disabled rule must not suppress")
	}
}

func TestShouldSuppressExpiredRule(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	r := rule(1, "xyz")
	r.ExpiresAt = &past
	store := &fakeStore{rules: []model.SuppressionRule{r}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())

	if v := e.ShouldSuppress("xyz"); v.Suppressed {
		t.Fatal("expired rule must not suppress")
	}
}

func TestShouldSuppressOtherNode(t *testing.T) {
	other := "192.168.1.99"
	r := rule(1, "xyz")
	r.NodeIP = &other
	store := &fakeStore{rules: []model.SuppressionRule{r}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())

	if v := e.ShouldSuppress("xyz"); v.Suppressed {
		t.Fatal("rule pinned to another node must not suppress")
	}
}

func TestFirstMatchWinsByID(t *testing.T) {
	store := &fakeStore{rules: []model.SuppressionRule{rule(7, "abc"), rule(3, "abc")}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())

	v := e.ShouldSuppress("abc")
	if !v.Suppressed || v.RuleID != 3 {
		t.Fatalf("expected lowest id to win, got %+v", v)
	}
}

func TestFailOpenOnStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())

	if v := e.ShouldSuppress("anything"); v.Suppressed {
		t.Fatal("store error must fail open")
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	store := &fakeStore{rules: []model.SuppressionRule{rule(1, "xyz")}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())
	e.ForceReload()

	store.mu.Lock()
	store.err = errors.New("store down")
	store.mu.Unlock()
	e.ForceReload()

	if v := e.ShouldSuppress("xyz"); !v.Suppressed {
		t.Fatal("cached rules should survive a failed refresh")
	}
}

func TestCacheTTLAvoidsReload(t *testing.T) {
	store := &fakeStore{rules: []model.SuppressionRule{rule(1, "xyz")}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())

	e.ShouldSuppress("a")
	e.ShouldSuppress("b")
	e.ShouldSuppress("c")

	store.mu.Lock()
	loads := store.loads
	store.mu.Unlock()
	if loads != 1 {
		t.Fatalf("expected a single load within TTL, got %d", loads)
	}
}

func TestDisabledEngine(t *testing.T) {
	e := NewEngine(nil, "10.0.0.1", time.Minute, zerolog.Nop())
	if v := e.ShouldSuppress("fatal error"); v.Suppressed {
		t.Fatal("nil store must pass everything through")
	}
	if s := e.Stats(); s.Enabled {
		t.Fatal("stats should report disabled")
	}
}

func TestStats(t *testing.T) {
	store := &fakeStore{rules: []model.SuppressionRule{rule(1, "xyz")}}
	e := NewEngine(store, "10.0.0.1", time.Minute, zerolog.Nop())
	e.ShouldSuppress("xyz")
	e.ShouldSuppress("xyz")

	s := e.Stats()
	if !s.Enabled || s.RuleCount != 1 || s.Suppressed != 2 || s.HitsByRule[1] != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}
