package speech

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// lexiconFile is the on-disk shape of a pronunciation lexicon:
//
//	loop_limit: 20
//	rules:
//	  - "NLU => N L U"
//	  - 's/\bkm\b/kilometers/g'
type lexiconFile struct {
	LoopLimit int      `yaml:"loop_limit"`
	Rules     []string `yaml:"rules"`
}

type substitution interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser compiles one lexicon rule.
type RuleParser interface {
	CanParse(rule string) bool
	Parse(rule string) (substitution, error)
}

// Lexicon rewrites response text so the synthesizer pronounces it well.
// A nil Lexicon leaves text unchanged.
type Lexicon struct {
	rules     []substitution
	loopLimit int
}

// LoadLexicon reads a YAML lexicon. An empty path or missing file yields an
// empty lexicon.
func LoadLexicon(path string) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return &Lexicon{loopLimit: defaultLoopLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Lexicon{loopLimit: defaultLoopLimit}, nil
		}
		return nil, fmt.Errorf("failed to read lexicon %q: %w", path, err)
	}

	lexicon, err := ParseLexicon(contents, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lexicon %q: %w", path, err)
	}
	return lexicon, nil
}

const defaultLoopLimit = 30

// ParseLexicon compiles YAML lexicon contents. Nil parsers selects the
// built-in literal and regex parsers.
func ParseLexicon(contents []byte, parsers []RuleParser) (*Lexicon, error) {
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	var file lexiconFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, err
	}
	if file.LoopLimit <= 0 {
		file.LoopLimit = defaultLoopLimit
	}

	rules := make([]substitution, 0, len(file.Rules))
	for index, raw := range file.Rules {
		rule := strings.TrimSpace(raw)
		if rule == "" {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(rule) {
				continue
			}
			compiled, err := parser.Parse(rule)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", index+1, err)
			}
			rules = append(rules, compiled)
			parsed = true
			break
		}
		if !parsed {
			return nil, fmt.Errorf("rule %d: unsupported rule format", index+1)
		}
	}

	return &Lexicon{rules: rules, loopLimit: file.LoopLimit}, nil
}

// Len reports the number of compiled rules.
func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.rules)
}

// Apply runs every rule until the text stops changing or the loop limit is
// reached.
func (l *Lexicon) Apply(text string) string {
	if l == nil || len(l.rules) == 0 {
		return text
	}

	result := text
	for i := 0; i < l.loopLimit; i++ {
		changed := false
		for _, rule := range l.rules {
			if next, ruleChanged := rule.Apply(result); ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{regexRuleParser{}, literalRuleParser{}}
}

type literalRuleParser struct{}

func (literalRuleParser) CanParse(rule string) bool {
	return strings.Contains(rule, "=>")
}

// Parse compiles "word => spoken form". Matching is case-insensitive and
// bounded by word edges when the source starts and ends with word characters.
func (literalRuleParser) Parse(rule string) (substitution, error) {
	from, to, _ := strings.Cut(rule, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if isWordByte(from[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(from[len(from)-1]) {
		pattern += `\b`
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, replacement: to}, nil
}

type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type regexRuleParser struct{}

func (regexRuleParser) CanParse(rule string) bool {
	return len(rule) > 1 && rule[0] == 's' && !isWordByte(rule[1]) && rule[1] != ' ' && rule[1] != '\t'
}

// Parse compiles sed-style "s/pattern/replacement/flags" rules. Flags are i,
// g, m and s; matching is case-insensitive unless I is given.
func (regexRuleParser) Parse(rule string) (substitution, error) {
	delim := rule[1]
	pattern, pos, err := splitDelimited(rule, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := splitDelimited(rule, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	ignoreCase := true
	global := false
	var extra string
	for _, flag := range strings.TrimSpace(rule[pos:]) {
		switch flag {
		case 'i':
			ignoreCase = true
		case 'I':
			ignoreCase = false
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(extra, flag) {
				extra += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	if ignoreCase {
		extra = "i" + extra
	}
	if extra != "" {
		pattern = "(?" + extra + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, replacement: replacement, global: global}, nil
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

// splitDelimited reads up to the next unescaped delim. An escaped delimiter
// is unescaped; other escapes pass through for the regexp engine.
func splitDelimited(rule string, start int, delim byte) (string, int, error) {
	if start >= len(rule) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	for index := start; index < len(rule); index++ {
		char := rule[index]
		if char == '\\' && index+1 < len(rule) {
			next := rule[index+1]
			if next != delim {
				builder.WriteByte(char)
			}
			builder.WriteByte(next)
			index++
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '_'
}
