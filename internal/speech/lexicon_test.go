package speech

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLexiconLiteralAndRegexRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	contents := `
rules:
  - "NLU => N L U"
  - 's/\b(\d+)\s*km\b/$1 kilometers/g'
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write lexicon: %v", err)
	}

	lexicon, err := LoadLexicon(path)
	if err != nil {
		t.Fatalf("failed to load lexicon: %v", err)
	}
	if lexicon.Len() != 2 {
		t.Fatalf("expected 2 rules, got %d", lexicon.Len())
	}

	got := lexicon.Apply("the nlu says 5km then 12 km")
	if got != "the N L U says 5 kilometers then 12 kilometers" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestLexiconLiteralRespectsWordEdges(t *testing.T) {
	t.Parallel()

	lexicon, err := ParseLexicon([]byte("rules:\n  - \"AI => A I\"\n"), nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := lexicon.Apply("AI said hail"); got != "A I said hail" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestLexiconIteratesUntilStable(t *testing.T) {
	t.Parallel()

	lexicon, err := ParseLexicon([]byte("rules:\n  - \"b => c\"\n  - \"a => b\"\n"), nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := lexicon.Apply("a"); got != "c" {
		t.Fatalf("expected chained substitution, got %q", got)
	}
}

func TestLexiconLoopLimitStopsRunaway(t *testing.T) {
	t.Parallel()

	lexicon, err := ParseLexicon([]byte("loop_limit: 3\nrules:\n  - 's/x/xx/'\n"), nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := lexicon.Apply("x"); got != "xxxx" {
		t.Fatalf("expected three iterations, got %q", got)
	}
}

func TestLexiconRegexFirstMatchOnly(t *testing.T) {
	t.Parallel()

	lexicon, err := ParseLexicon([]byte("loop_limit: 1\nrules:\n  - 's|/|slash|'\n"), nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := lexicon.Apply("a/b/c"); got != "aslashb/c" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestLexiconMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	lexicon, err := LoadLexicon(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lexicon.Len() != 0 || lexicon.Apply("unchanged") != "unchanged" {
		t.Fatalf("expected empty lexicon")
	}

	var nilLexicon *Lexicon
	if nilLexicon.Apply("same") != "same" {
		t.Fatalf("nil lexicon must be a no-op")
	}
}

func TestLexiconRejectsInvalidRules(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unsupported":  "rules:\n  - \"just words\"\n",
		"empty source": "rules:\n  - \" => x\"\n",
		"bad flag":     "rules:\n  - 's/a/b/q'\n",
		"unterminated": "rules:\n  - 's/a/b'\n",
		"bad yaml":     "rules: [unclosed\n",
	}
	for name, contents := range cases {
		if _, err := ParseLexicon([]byte(contents), nil); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if name != "bad yaml" && !strings.Contains(err.Error(), "rule 1") {
			t.Fatalf("%s: expected rule position in error, got %v", name, err)
		}
	}
}
