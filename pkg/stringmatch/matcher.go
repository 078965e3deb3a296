package stringmatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/waddlebot/router/pkg/cache"
)

// RuleSource abstracts the rule lookups the matcher needs.
type RuleSource interface {
	ListForEntity(ctx context.Context, entityID string) ([]Rule, error)
	IncrementMatch(ctx context.Context, id int64) error
}

// Matcher evaluates string match rules against message content. Rule lists
// are cached per entity; compiled regexes are cached per (pattern, case
// sensitivity) with invalid patterns pinned as non-matching.
type Matcher struct {
	rules   RuleSource
	cache   *cache.Cache
	ttl     time.Duration
	logger  *slog.Logger
	mu      sync.RWMutex
	regexes map[regexKey]*regexp.Regexp // nil entry = invalid pattern
}

type regexKey struct {
	pattern       string
	caseSensitive bool
}

// NewMatcher creates a Matcher. ttl is the per-entity rule cache lifetime
// (five minutes when zero).
func NewMatcher(rules RuleSource, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *Matcher {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Matcher{
		rules:   rules,
		cache:   c,
		ttl:     ttl,
		logger:  logger,
		regexes: make(map[regexKey]*regexp.Regexp),
	}
}

// Match evaluates the entity's rules against content in ascending priority and
// returns the first matching rule, or nil. A match bumps the rule's counters.
func (m *Matcher) Match(ctx context.Context, entityID, content string) (*Rule, error) {
	rules, err := m.rulesFor(ctx, entityID)
	if err != nil {
		return nil, err
	}

	for i := range rules {
		if m.ruleMatches(&rules[i], content) {
			matched := rules[i]
			if err := m.rules.IncrementMatch(ctx, matched.ID); err != nil {
				m.logger.Warn("incrementing rule match count", "error", err, "rule_id", matched.ID)
			}
			return &matched, nil
		}
	}
	return nil, nil
}

// rulesFor returns the entity's rule list, from cache when fresh.
func (m *Matcher) rulesFor(ctx context.Context, entityID string) ([]Rule, error) {
	key := cache.StringRulesKey(entityID)
	if v, ok := m.cache.Get(key); ok {
		if rules, ok := v.([]Rule); ok {
			return rules, nil
		}
	}

	rules, err := m.rules.ListForEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	m.cache.SetTTL(key, rules, m.ttl)
	return rules, nil
}

// ruleMatches evaluates one rule against the content.
func (m *Matcher) ruleMatches(r *Rule, content string) bool {
	if content == "" {
		return false
	}
	if r.Pattern == WildcardPattern {
		return true
	}

	pattern, haystack := r.Pattern, content
	if !r.CaseSensitive {
		pattern = strings.ToLower(pattern)
		haystack = strings.ToLower(haystack)
	}

	switch r.MatchType {
	case MatchExact:
		return haystack == pattern
	case MatchContains:
		return strings.Contains(haystack, pattern)
	case MatchWord:
		re := m.compiled(`\b`+regexp.QuoteMeta(r.Pattern)+`\b`, r.CaseSensitive)
		return re != nil && re.MatchString(content)
	case MatchRegex:
		re := m.compiled(r.Pattern, r.CaseSensitive)
		return re != nil && re.MatchString(content)
	default:
		return false
	}
}

// compiled returns the cached compiled regex for (pattern, caseSensitive).
// Invalid patterns are logged once and cached as nil.
func (m *Matcher) compiled(pattern string, caseSensitive bool) *regexp.Regexp {
	key := regexKey{pattern: pattern, caseSensitive: caseSensitive}

	m.mu.RLock()
	re, ok := m.regexes[key]
	m.mu.RUnlock()
	if ok {
		return re
	}

	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		m.logger.Warn("invalid string match pattern, treating as non-matching",
			"pattern", pattern, "error", err)
		re = nil
	}

	m.mu.Lock()
	m.regexes[key] = re
	m.mu.Unlock()
	return re
}

// Invalidate drops the cached rule list for one entity.
func (m *Matcher) Invalidate(entityID string) {
	m.cache.Delete(cache.StringRulesKey(entityID))
}

// InvalidateAll drops every cached rule list. Used when a global rule changes.
func (m *Matcher) InvalidateAll() {
	m.cache.DeletePrefix(cache.StringRulesPrefix)
}
