// Package suppress filters classified log events through operator-defined
// suppression rules. The rule store is external and authoritative; this
// package keeps a TTL-refreshed in-memory snapshot and fails open — an
// unreachable store must never cause an event to be dropped silently, and
// must never cause one to be suppressed either.
package suppress

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/resolvix/collector/internal/model"
)

// DefaultTTL is how long a rule snapshot is served before a refresh is
// attempted on the next evaluation.
const DefaultTTL = 60 * time.Second

const refreshTimeout = 5 * time.Second

// Verdict is the outcome of evaluating one line. RuleID is meaningful
// only when Suppressed is true.
type Verdict struct {
	Suppressed bool
	RuleID     int64
}

// Stats is a point-in-time view of the engine for the status endpoint.
type Stats struct {
	Enabled     bool             `json:"enabled"`
	RuleCount   int              `json:"rule_count"`
	CacheAge    float64          `json:"cache_age_seconds"`
	Suppressed  uint64           `json:"suppressed_total"`
	HitsByRule  map[int64]uint64 `json:"hits_by_rule"`
	LastRefresh time.Time        `json:"last_refresh"`
}

// Engine evaluates lines against the cached rule set.
type Engine struct {
	store  Store
	selfIP string
	ttl    time.Duration
	log    zerolog.Logger

	mu          sync.Mutex
	rules       []model.SuppressionRule
	lastRefresh time.Time

	statsMu    sync.Mutex
	suppressed uint64
	hitsByRule map[int64]uint64
}

// NewEngine builds a suppression engine over the given store. A nil store
// yields a disabled engine whose ShouldSuppress always passes through.
func NewEngine(store Store, selfIP string, ttl time.Duration, log zerolog.Logger) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{
		store:      store,
		selfIP:     selfIP,
		ttl:        ttl,
		log:        log,
		hitsByRule: make(map[int64]uint64),
	}
}

// ShouldSuppress evaluates a line against the active rules in id order,
// lowercased substring match, first hit wins. On a hit the rule's store
// counters are bumped in the background; a counter write failure never
// changes the verdict. Any internal error yields a pass-through verdict.
func (e *Engine) ShouldSuppress(line string) Verdict {
	if e.store == nil {
		return Verdict{}
	}

	rules := e.snapshot()
	lower := strings.ToLower(line)
	for _, r := range rules {
		if r.MatchText == "" {
			continue
		}
		if !r.ActiveAt(time.Now(), e.selfIP) {
			continue
		}
		if strings.Contains(lower, strings.ToLower(r.MatchText)) {
			e.recordHit(r.ID)
			return Verdict{Suppressed: true, RuleID: r.ID}
		}
	}
	return Verdict{}
}

// snapshot returns the cached rules, refreshing first when the TTL has
// lapsed. A failed refresh keeps serving the previous snapshot.
func (e *Engine) snapshot() []model.SuppressionRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.lastRefresh) >= e.ttl {
		e.refreshLocked()
	}
	return e.rules
}

// ForceReload discards the TTL and refreshes now. Used by tests and after
// control-plane mutations of the rule set.
func (e *Engine) ForceReload() {
	if e.store == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshLocked()
}

func (e *Engine) refreshLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("rule refresh failed, serving cached rules")
		// Push the next attempt out a full TTL so an unreachable store
		// does not add a refresh timeout to every evaluation.
		e.lastRefresh = time.Now()
		return
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	e.rules = rules
	e.lastRefresh = time.Now()
	e.log.Debug().Int("rules", len(rules)).Msg("suppression rules refreshed")
}

func (e *Engine) recordHit(ruleID int64) {
	e.statsMu.Lock()
	e.suppressed++
	e.hitsByRule[ruleID]++
	e.statsMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := e.store.RecordMatch(ctx, ruleID); err != nil {
			e.log.Warn().Err(err).Int64("rule_id", ruleID).Msg("failed to record rule match")
		}
	}()
}

// Stats reports engine state for the status endpoint.
func (e *Engine) Stats() Stats {
	s := Stats{Enabled: e.store != nil, HitsByRule: make(map[int64]uint64)}

	e.mu.Lock()
	s.RuleCount = len(e.rules)
	s.LastRefresh = e.lastRefresh
	if !e.lastRefresh.IsZero() {
		s.CacheAge = time.Since(e.lastRefresh).Seconds()
	}
	e.mu.Unlock()

	e.statsMu.Lock()
	s.Suppressed = e.suppressed
	for id, n := range e.hitsByRule {
		s.HitsByRule[id] = n
	}
	e.statsMu.Unlock()
	return s
}
