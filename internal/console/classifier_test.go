package console

import (
	"regexp"
	"testing"

	"github.com/yourusername/craft-server-supervisor/internal/config"
)

func TestClassifyDefaultRules(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name   string
		line   string
		kind   Kind
		player string
	}{
		{
			name: "ready signature",
			line: `[12:00:01] [Server thread/INFO]: Done (12.345s)! For help, type "help"`,
			kind: KindReady,
		},
		{
			name: "ready with comma decimal",
			line: `[12:00:01] [Server thread/INFO]: Done (3,21s)! For help, type "help"`,
			kind: KindReady,
		},
		{
			name: "crash tick loop",
			line: `[12:05:00] [Server thread/ERROR]: Encountered an unexpected exception Exception in server tick loop`,
			kind: KindCrash,
		},
		{
			name: "crash out of memory",
			line: `java.lang.OutOfMemoryError: Java heap space`,
			kind: KindCrash,
		},
		{
			name:   "player joined",
			line:   `[12:01:00] [Server thread/INFO]: Steve joined the game`,
			kind:   KindPlayerJoined,
			player: "Steve",
		},
		{
			name:   "player left",
			line:   `[12:02:00] [Server thread/INFO]: Alex_99 left the game`,
			kind:   KindPlayerLeft,
			player: "Alex_99",
		},
		{
			name: "error level",
			line: `[12:03:00] [Server thread/ERROR]: Failed to save chunk`,
			kind: KindError,
		},
		{
			name: "warning level",
			line: `[12:03:00] [Server thread/WARN]: Can't keep up!`,
			kind: KindWarning,
		},
		{
			name: "plain chatter",
			line: `[12:04:00] [Server thread/INFO]: Preparing spawn area: 47%`,
			kind: KindRaw,
		},
		{
			name: "empty line",
			line: "",
			kind: KindRaw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.line)
			if got.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", got.Kind, tt.kind)
			}
			if got.Player != tt.player {
				t.Errorf("player = %q, want %q", got.Player, tt.player)
			}
			if got.Text != tt.line {
				t.Errorf("text not preserved: %q", got.Text)
			}
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	rules := []Rule{
		{Name: "first", Kind: KindError, Pattern: regexp.MustCompile(`boom`)},
		{Name: "second", Kind: KindWarning, Pattern: regexp.MustCompile(`boom`)},
	}
	c := NewClassifier(rules)

	got := c.Classify("something went boom")
	if got.Kind != KindError {
		t.Errorf("expected first rule to win, got %s", got.Kind)
	}
}

func TestCompileRules(t *testing.T) {
	rules, err := CompileRules([]config.RuleConfig{
		{Name: "modded_ready", Kind: "ready", Pattern: `Server startup complete`},
		{Name: "modded_crash", Kind: "crash", Pattern: `FATAL\b`},
	})
	if err != nil {
		t.Fatalf("failed to compile rules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}

	c := NewClassifier(rules)
	if got := c.Classify("Server startup complete in 8s"); got.Kind != KindReady {
		t.Errorf("custom ready rule did not match: %s", got.Kind)
	}
}

func TestCompileRulesRejectsBadInput(t *testing.T) {
	if _, err := CompileRules([]config.RuleConfig{{Name: "x", Kind: "bogus", Pattern: `ok`}}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := CompileRules([]config.RuleConfig{{Name: "x", Kind: "crash", Pattern: `([`}}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
