package stringmatch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/waddlebot/router/pkg/cache"
)

// fakeRules is an in-memory RuleSource recording match increments.
type fakeRules struct {
	rules      []Rule
	increments []int64
	listCalls  int
}

func (f *fakeRules) ListForEntity(_ context.Context, _ string) ([]Rule, error) {
	f.listCalls++
	return f.rules, nil
}

func (f *fakeRules) IncrementMatch(_ context.Context, id int64) error {
	f.increments = append(f.increments, id)
	return nil
}

func newTestMatcher(rules []Rule) (*Matcher, *fakeRules) {
	src := &fakeRules{rules: rules}
	return NewMatcher(src, cache.New(time.Minute), time.Minute, slog.Default()), src
}

func TestMatcher_MatchTypes(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		content string
		want    bool
	}{
		{"exact hit", Rule{Pattern: "hello", MatchType: MatchExact}, "hello", true},
		{"exact miss on extra text", Rule{Pattern: "hello", MatchType: MatchExact}, "hello there", false},
		{"exact case-insensitive by default", Rule{Pattern: "Hello", MatchType: MatchExact}, "hELLO", true},
		{"exact case-sensitive", Rule{Pattern: "Hello", MatchType: MatchExact, CaseSensitive: true}, "hello", false},
		{"contains hit", Rule{Pattern: "spam", MatchType: MatchContains}, "this is spam content", true},
		{"contains miss", Rule{Pattern: "spam", MatchType: MatchContains}, "perfectly fine", false},
		{"word hit", Rule{Pattern: "buy", MatchType: MatchWord}, "please buy now", true},
		{"word does not match substring", Rule{Pattern: "buy", MatchType: MatchWord}, "buying things", false},
		{"regex hit", Rule{Pattern: `\d{3}-\d{4}`, MatchType: MatchRegex}, "call 555-1234", true},
		{"regex miss", Rule{Pattern: `\d{3}-\d{4}`, MatchType: MatchRegex}, "no numbers here", false},
		{"wildcard matches anything", Rule{Pattern: WildcardPattern, MatchType: MatchExact}, "anything", true},
		{"empty content never matches", Rule{Pattern: WildcardPattern, MatchType: MatchExact}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.ID = 1
			tt.rule.Enabled = true
			m, _ := newTestMatcher([]Rule{tt.rule})

			got, err := m.Match(context.Background(), "twitch+a", tt.content)
			if err != nil {
				t.Fatal(err)
			}
			if (got != nil) != tt.want {
				t.Errorf("match = %v, want %v", got != nil, tt.want)
			}
		})
	}
}

func TestMatcher_PriorityOrder(t *testing.T) {
	// The store returns rules pre-sorted by ascending priority; the first
	// match wins.
	m, src := newTestMatcher([]Rule{
		{ID: 2, Pattern: "bad", MatchType: MatchContains, Priority: 5},
		{ID: 1, Pattern: "bad word", MatchType: MatchContains, Priority: 10},
	})

	got, err := m.Match(context.Background(), "twitch+a", "a bad word indeed")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != 2 {
		t.Fatalf("matched rule = %+v, want ID 2", got)
	}
	if len(src.increments) != 1 || src.increments[0] != 2 {
		t.Errorf("increments = %v, want [2]", src.increments)
	}
}

func TestMatcher_InvalidRegexNeverMatches(t *testing.T) {
	m, _ := newTestMatcher([]Rule{
		{ID: 1, Pattern: "([unclosed", MatchType: MatchRegex},
	})

	got, err := m.Match(context.Background(), "twitch+a", "([unclosed")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("invalid regex should be treated as non-matching")
	}
}

func TestMatcher_CachesRuleList(t *testing.T) {
	m, src := newTestMatcher([]Rule{
		{ID: 1, Pattern: "x", MatchType: MatchContains},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := m.Match(ctx, "twitch+a", "nothing"); err != nil {
			t.Fatal(err)
		}
	}
	if src.listCalls != 1 {
		t.Errorf("listCalls = %d, want 1 (cached)", src.listCalls)
	}

	m.Invalidate("twitch+a")
	if _, err := m.Match(ctx, "twitch+a", "nothing"); err != nil {
		t.Fatal(err)
	}
	if src.listCalls != 2 {
		t.Errorf("listCalls after invalidate = %d, want 2", src.listCalls)
	}
}

func TestRule_Message(t *testing.T) {
	warn := Rule{Action: ActionWarn, WarningMessage: "careful"}
	if warn.Message() != "careful" {
		t.Errorf("warn message = %q", warn.Message())
	}

	block := Rule{Action: ActionBlock, BlockMessage: "blocked", WarningMessage: "careful"}
	if block.Message() != "blocked" {
		t.Errorf("block message = %q", block.Message())
	}

	blockNoMsg := Rule{Action: ActionBlock, WarningMessage: "careful"}
	if blockNoMsg.Message() != "careful" {
		t.Errorf("block fallback message = %q", blockNoMsg.Message())
	}
}
