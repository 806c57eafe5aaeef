package console

import (
	"fmt"
	"regexp"

	"github.com/yourusername/craft-server-supervisor/internal/config"
)

// Kind is the classification assigned to a console line
type Kind string

const (
	KindReady        Kind = "ready"
	KindCrash        Kind = "crash"
	KindPlayerJoined Kind = "player_joined"
	KindPlayerLeft   Kind = "player_left"
	KindError        Kind = "error"
	KindWarning      Kind = "warning"
	KindRaw          Kind = "raw"
)

// Rule is one ordered classification rule
type Rule struct {
	Name    string
	Kind    Kind
	Pattern *regexp.Regexp
}

// Line is one classified console line
type Line struct {
	Text   string
	Kind   Kind
	Player string
}

// Classifier matches console lines against an ordered rule table. The
// first matching rule wins; unmatched lines are KindRaw.
type Classifier struct {
	rules []Rule
}

// DefaultRules returns the built-in rule table for vanilla server logs.
// Ready and crash signatures come first so that a line mentioning both a
// player name and an exception classifies as the more specific event.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "ready",
			Kind:    KindReady,
			Pattern: regexp.MustCompile(`Done \([0-9.,]+s\)! For help`),
		},
		{
			Name:    "crash_tick_loop",
			Kind:    KindCrash,
			Pattern: regexp.MustCompile(`Exception in server tick loop`),
		},
		{
			Name:    "crash_report",
			Kind:    KindCrash,
			Pattern: regexp.MustCompile(`This crash report has been saved`),
		},
		{
			Name:    "crash_oom",
			Kind:    KindCrash,
			Pattern: regexp.MustCompile(`java\.lang\.OutOfMemoryError`),
		},
		{
			Name:    "player_joined",
			Kind:    KindPlayerJoined,
			Pattern: regexp.MustCompile(`(?P<player>[A-Za-z0-9_]{1,16}) joined the game`),
		},
		{
			Name:    "player_left",
			Kind:    KindPlayerLeft,
			Pattern: regexp.MustCompile(`(?P<player>[A-Za-z0-9_]{1,16}) left the game`),
		},
		{
			Name:    "error",
			Kind:    KindError,
			Pattern: regexp.MustCompile(`\[[^\]]*ERROR[^\]]*\]|^ERROR\b`),
		},
		{
			Name:    "warning",
			Kind:    KindWarning,
			Pattern: regexp.MustCompile(`\[[^\]]*WARN[^\]]*\]|^WARN(ING)?\b`),
		},
	}
}

// NewClassifier creates a classifier with the given rules. An empty rule
// list falls back to the built-in table.
func NewClassifier(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// CompileRules builds a rule table from configuration. Order is
// preserved. An unknown kind or an invalid pattern fails loudly so that
// a misconfigured table is caught at startup rather than at match time.
func CompileRules(configs []config.RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(configs))
	for i, rc := range configs {
		kind := Kind(rc.Kind)
		switch kind {
		case KindReady, KindCrash, KindPlayerJoined, KindPlayerLeft, KindError, KindWarning:
		default:
			return nil, fmt.Errorf("rule %d (%s): unknown kind %q", i, rc.Name, rc.Kind)
		}

		pattern, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): invalid pattern: %w", i, rc.Name, err)
		}

		rules = append(rules, Rule{Name: rc.Name, Kind: kind, Pattern: pattern})
	}
	return rules, nil
}

// Classify matches one complete line against the rule table
func (c *Classifier) Classify(text string) Line {
	for _, rule := range c.rules {
		match := rule.Pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		line := Line{Text: text, Kind: rule.Kind}
		for i, name := range rule.Pattern.SubexpNames() {
			if name == "player" && i < len(match) {
				line.Player = match[i]
			}
		}
		return line
	}
	return Line{Text: text, Kind: KindRaw}
}
