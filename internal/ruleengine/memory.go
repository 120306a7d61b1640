package ruleengine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/rulebook/internal/ir"
)

// Memory is an in-process Engine that interprets compiled ruleset
// documents. Sessions are independent; one mutex guards all of them.
//
// Callbacks never run under the lock. Synchronous matches are delivered
// before Post or AssertFact returns; timed matches (not_all timeouts and
// once_after throttles) are delivered from timer goroutines.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*session
	logger   *slog.Logger
	now      func() time.Time
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithLogger sets the logger used for per-item debug output.
func WithLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) {
		m.logger = l
	}
}

// WithClock overrides the wall clock used for stats and expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty engine.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		sessions: make(map[string]*session),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Engine = (*Memory)(nil)

type session struct {
	name          string
	rules         []*rule
	facts         []map[string]any
	matchMultiple bool
	ttl           time.Duration
	stats         Stats
	ev            *evaluator
	timers        map[*time.Timer]struct{}
	closed        bool
}

type condSpec struct {
	alias string
	expr  any
}

type partial struct {
	bindings map[string]map[string]any
	started  time.Time
}

type throttle struct {
	groupBy []string
	within  time.Duration
	after   time.Duration

	last    map[string]time.Time
	pending map[string]bool
}

type rule struct {
	name     string
	kind     string
	conds    []condSpec
	timeout  time.Duration
	throttle *throttle
	cb       Callback
	partials []*partial
}

// firing is a match collected under the lock and delivered after it.
type firing struct {
	cb    Callback
	match Match
}

// CreateSession registers a compiled ruleset document under name.
func (m *Memory) CreateSession(name string, document map[string]any, callbacks map[string]Callback) error {
	kind, payload, ok := ir.Kind(document)
	if !ok || kind != "RuleSet" {
		return fmt.Errorf("create session %s: document is not a RuleSet node", name)
	}
	body, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("create session %s: RuleSet payload is %T", name, payload)
	}

	s := &session{
		name:   name,
		ev:     newEvaluator(),
		timers: make(map[*time.Timer]struct{}),
	}
	s.matchMultiple, _ = body["match_multiple_rules"].(bool)
	if ttl, ok := body["default_events_ttl"].(string); ok && ttl != "" {
		d, err := ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("create session %s: default_events_ttl: %w", name, err)
		}
		s.ttl = d
	}

	rules, _ := body["rules"].([]any)
	for i, rv := range rules {
		_, rp, ok := ir.Kind(rv)
		rb, _ := rp.(map[string]any)
		if !ok || rb == nil {
			return fmt.Errorf("create session %s: rule %d is malformed", name, i)
		}
		if enabled, ok := rb["enabled"].(bool); ok && !enabled {
			s.stats.NumberOfDisabledRules++
			continue
		}
		r, err := parseRule(rb)
		if err != nil {
			return fmt.Errorf("create session %s: %w", name, err)
		}
		r.cb = callbacks[r.name]
		s.rules = append(s.rules, r)
	}
	s.stats.NumberOfRules = len(s.rules)
	s.stats.Start = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[name]; exists {
		return fmt.Errorf("create session %s: already exists", name)
	}
	m.sessions[name] = s
	return nil
}

func parseRule(body map[string]any) (*rule, error) {
	name, _ := body["name"].(string)
	r := &rule{name: name}

	cond, ok := body["condition"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rule %s: missing condition", name)
	}
	var exprs []any
	for _, k := range []string{"AllCondition", "AnyCondition", "NotAllCondition"} {
		if v, ok := cond[k]; ok {
			r.kind = k
			exprs, _ = v.([]any)
			break
		}
	}
	if r.kind == "" || len(exprs) == 0 {
		return nil, fmt.Errorf("rule %s: condition has no expressions", name)
	}
	if t, ok := cond["timeout"].(string); ok && t != "" {
		d, err := ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("rule %s: timeout: %w", name, err)
		}
		r.timeout = d
	}
	if r.kind == "NotAllCondition" && r.timeout <= 0 {
		return nil, fmt.Errorf("rule %s: not_all requires a timeout", name)
	}

	for i, e := range exprs {
		spec := condSpec{expr: e}
		switch {
		case r.kind == "AnyCondition" || len(exprs) == 1:
			spec.alias = "m"
		default:
			spec.alias = fmt.Sprintf("m_%d", i)
		}
		if k, payload, ok := ir.Kind(e); ok && k == "AssignmentExpression" {
			lhs, rhs, err := ir.Operands(payload)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", name, err)
			}
			_, alias, _ := ir.Kind(lhs)
			if a, ok := alias.(string); ok && a != "" {
				spec.alias = a
			}
			spec.expr = rhs
		}
		r.conds = append(r.conds, spec)
	}

	if tv, ok := body["throttle"].(map[string]any); ok {
		th := &throttle{last: make(map[string]time.Time), pending: make(map[string]bool)}
		if groups, ok := tv["group_by_attributes"].([]any); ok {
			for _, g := range groups {
				if s, ok := g.(string); ok {
					th.groupBy = append(th.groupBy, s)
				}
			}
		}
		var err error
		if w, ok := tv["once_within"].(string); ok {
			if th.within, err = ParseDuration(w); err != nil {
				return nil, fmt.Errorf("rule %s: once_within: %w", name, err)
			}
		}
		if a, ok := tv["once_after"].(string); ok {
			if th.after, err = ParseDuration(a); err != nil {
				return nil, fmt.Errorf("rule %s: once_after: %w", name, err)
			}
		}
		r.throttle = th
	}
	return r, nil
}

// Post matches a transient event.
func (m *Memory) Post(name string, event map[string]any) error {
	return m.process(name, event, false)
}

// AssertFact stores fact in working memory and matches it.
func (m *Memory) AssertFact(name string, fact map[string]any) error {
	return m.process(name, fact, true)
}

func (m *Memory) process(name string, item map[string]any, isFact bool) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}

	item = ir.CloneMap(item)
	if item == nil {
		item = map[string]any{}
	}
	if !isFact {
		s.stats.EventsProcessed++
	}

	fired, matched, observed, err := m.match(s, item)
	if isFact {
		s.facts = append(s.facts, item)
		s.stats.PermanentStorageCount = len(s.facts)
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ruleset %s: %w", name, err)
	}

	for _, f := range fired {
		if f.cb != nil {
			f.cb(f.match)
		}
	}

	switch {
	case matched:
		return nil
	case observed:
		m.logger.Debug("item observed", "ruleset", name)
		return ErrObserved
	default:
		m.logger.Debug("item not handled", "ruleset", name)
		return ErrNotHandled
	}
}

// match runs item through every rule in order. matched reports that some
// rule fired or was throttled; observed that the item joined a partial
// match. Caller holds m.mu.
func (m *Memory) match(s *session, item map[string]any) (fired []firing, matched, observed bool, err error) {
	now := m.now()
	for _, r := range s.rules {
		var data map[string]map[string]any
		var consumed bool

		switch r.kind {
		case "AnyCondition":
			for _, c := range r.conds {
				ok, err := s.ev.truthy(c.expr, scope{current: item})
				if err != nil {
					return nil, false, false, fmt.Errorf("rule %s: %w", r.name, err)
				}
				if ok {
					data = map[string]map[string]any{c.alias: item}
					break
				}
			}
		default:
			data, consumed, err = m.correlate(s, r, item, now)
			if err != nil {
				return nil, false, false, fmt.Errorf("rule %s: %w", r.name, err)
			}
		}

		if consumed {
			observed = true
		}
		if data == nil {
			continue
		}

		if f := m.fire(s, r, data, now); f != nil {
			fired = append(fired, *f)
		}
		matched = true
		s.stats.EventsMatched++
		if !s.matchMultiple {
			break
		}
	}
	return fired, matched, observed, nil
}

// correlate advances the partial matches of an all or not_all rule.
// It returns bindings when an all rule completes; consumed reports
// whether the item was taken into a partial match.
func (m *Memory) correlate(s *session, r *rule, item map[string]any, now time.Time) (map[string]map[string]any, bool, error) {
	if len(r.conds) == 1 && r.kind == "AllCondition" {
		ok, err := s.ev.truthy(r.conds[0].expr, scope{current: item})
		if err != nil || !ok {
			return nil, false, err
		}
		return map[string]map[string]any{r.conds[0].alias: item}, false, nil
	}

	m.expire(s, r, now)

	for pi, p := range r.partials {
		idx, err := m.nextCondition(s, r, p.bindings, item)
		if err != nil {
			return nil, false, err
		}
		if idx < 0 {
			continue
		}
		p.bindings[r.conds[idx].alias] = item
		if len(p.bindings) < len(r.conds) {
			return nil, true, nil
		}
		r.partials = append(r.partials[:pi], r.partials[pi+1:]...)
		if r.kind == "NotAllCondition" {
			// Completed in time: nothing to report.
			return nil, true, nil
		}
		return p.bindings, true, nil
	}

	idx, err := m.nextCondition(s, r, map[string]map[string]any{}, item)
	if err != nil || idx < 0 {
		return nil, false, err
	}
	p := &partial{
		bindings: map[string]map[string]any{r.conds[idx].alias: item},
		started:  now,
	}
	if err := m.fillFromFacts(s, r, p); err != nil {
		return nil, false, err
	}
	if len(p.bindings) == len(r.conds) {
		if r.kind == "NotAllCondition" {
			return nil, true, nil
		}
		return p.bindings, true, nil
	}
	r.partials = append(r.partials, p)
	if r.kind == "NotAllCondition" {
		m.armNotAll(s, r, p)
	}
	return nil, true, nil
}

// nextCondition returns the first unbound condition item satisfies, or -1.
func (m *Memory) nextCondition(s *session, r *rule, bindings map[string]map[string]any, item map[string]any) (int, error) {
	for i, c := range r.conds {
		if _, bound := bindings[c.alias]; bound {
			continue
		}
		ok, err := s.ev.truthy(c.expr, scope{current: item, bindings: bindings})
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

// fillFromFacts binds conditions of a new partial to facts already in
// working memory.
func (m *Memory) fillFromFacts(s *session, r *rule, p *partial) error {
	for _, fact := range s.facts {
		if len(p.bindings) == len(r.conds) {
			return nil
		}
		idx, err := m.nextCondition(s, r, p.bindings, fact)
		if err != nil {
			return err
		}
		if idx >= 0 {
			p.bindings[r.conds[idx].alias] = fact
		}
	}
	return nil
}

// expire drops all-rule partials older than the rule timeout, or the
// session TTL when the rule has none. not_all partials are owned by their
// timers.
func (m *Memory) expire(s *session, r *rule, now time.Time) {
	if r.kind != "AllCondition" {
		return
	}
	window := r.timeout
	if window <= 0 {
		window = s.ttl
	}
	if window <= 0 {
		return
	}
	kept := r.partials[:0]
	for _, p := range r.partials {
		if now.Sub(p.started) <= window {
			kept = append(kept, p)
		}
	}
	r.partials = kept
}

func (m *Memory) armNotAll(s *session, r *rule, p *partial) {
	var t *time.Timer
	t = time.AfterFunc(r.timeout, func() {
		m.mu.Lock()
		delete(s.timers, t)
		if s.closed || !removePartial(r, p) {
			m.mu.Unlock()
			return
		}
		f := m.fire(s, r, p.bindings, m.now())
		m.mu.Unlock()
		if f != nil && f.cb != nil {
			f.cb(f.match)
		}
	})
	s.timers[t] = struct{}{}
}

func removePartial(r *rule, p *partial) bool {
	for i, q := range r.partials {
		if q == p {
			r.partials = append(r.partials[:i], r.partials[i+1:]...)
			return true
		}
	}
	return false
}

// fire applies the rule throttle and records stats. It returns nil when
// the firing was suppressed or deferred. Caller holds m.mu.
func (m *Memory) fire(s *session, r *rule, data map[string]map[string]any, now time.Time) *firing {
	match := Match{Ruleset: s.name, Rule: r.name, Data: data}

	if th := r.throttle; th != nil {
		key := groupKey(th.groupBy, data)
		switch {
		case th.within > 0:
			if last, ok := th.last[key]; ok && now.Sub(last) < th.within {
				s.stats.EventsSuppressed++
				return nil
			}
			th.last[key] = now
		case th.after > 0:
			if th.pending[key] {
				s.stats.EventsSuppressed++
				return nil
			}
			th.pending[key] = true
			m.armOnceAfter(s, r, key, match)
			return nil
		}
	}

	s.recordFiring(r.name, now)
	return &firing{cb: r.cb, match: match}
}

func (m *Memory) armOnceAfter(s *session, r *rule, key string, match Match) {
	var t *time.Timer
	t = time.AfterFunc(r.throttle.after, func() {
		m.mu.Lock()
		delete(s.timers, t)
		delete(r.throttle.pending, key)
		if s.closed {
			m.mu.Unlock()
			return
		}
		s.recordFiring(r.name, m.now())
		cb := r.cb
		m.mu.Unlock()
		if cb != nil {
			cb(match)
		}
	})
	s.timers[t] = struct{}{}
}

func (s *session) recordFiring(rule string, at time.Time) {
	s.stats.RulesTriggered++
	s.stats.LastRuleFired = rule
	s.stats.LastRuleFiredAt = at
}

func groupKey(paths []string, data map[string]map[string]any) string {
	if len(paths) == 0 {
		return ""
	}
	var item map[string]any
	if m, ok := data["m"]; ok {
		item = m
	} else {
		for _, alias := range sortedAliases(data) {
			item = data[alias]
			break
		}
	}
	parts := make([]string, len(paths))
	for i, p := range paths {
		head, rest, _ := strings.Cut(p, ".")
		if head != "event" && head != "fact" {
			rest = p
		}
		v, _ := ir.Lookup(item, rest)
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f")
}

func sortedAliases(data map[string]map[string]any) []string {
	keys := make(map[string]any, len(data))
	for k := range data {
		keys[k] = nil
	}
	return ir.SortedKeys(keys)
}

// RetractFact removes the first fact equal to fact.
func (m *Memory) RetractFact(name string, fact map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	for i, f := range s.facts {
		if equal(f, fact) {
			s.facts = append(s.facts[:i], s.facts[i+1:]...)
			break
		}
	}
	s.stats.PermanentStorageCount = len(s.facts)
	return nil
}

// RetractMatchingFacts removes every fact equal to fact, or containing all
// of its keys when partial is set. Keys in excludeKeys are ignored on both
// sides.
func (m *Memory) RetractMatchingFacts(name string, fact map[string]any, partial bool, excludeKeys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	want := withoutKeys(fact, excludeKeys)
	kept := s.facts[:0]
	for _, f := range s.facts {
		have := withoutKeys(f, excludeKeys)
		if partial && subset(want, have) || !partial && equal(have, want) {
			continue
		}
		kept = append(kept, f)
	}
	s.facts = kept
	s.stats.PermanentStorageCount = len(s.facts)
	return nil
}

func withoutKeys(m map[string]any, keys []string) map[string]any {
	if len(keys) == 0 {
		return m
	}
	out := ir.CloneMap(m)
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func subset(want, have map[string]any) bool {
	for k, wv := range want {
		hv, ok := have[k]
		if !ok {
			return false
		}
		wm, wok := wv.(map[string]any)
		hm, hok := hv.(map[string]any)
		if wok && hok {
			if !subset(wm, hm) {
				return false
			}
			continue
		}
		if !equal(wv, hv) {
			return false
		}
	}
	return true
}

// GetFacts returns a copy of working memory.
func (m *Memory) GetFacts(name string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	out := make([]map[string]any, len(s.facts))
	for i, f := range s.facts {
		out[i] = ir.CloneMap(f)
	}
	return out, nil
}

// SessionStats returns the current statistics of a session.
func (m *Memory) SessionStats(name string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	return s.stats, nil
}

// EndSession stops pending timers and discards the session.
func (m *Memory) EndSession(name string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	delete(m.sessions, name)
	s.stats.End = m.now()
	return s.stats, nil
}
