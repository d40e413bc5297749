package command

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Command identifies one entry of the command table.
type Command string

const (
	Hello Command = "hello"
	Wave  Command = "wave"
	Jump  Command = "jump"
	Spin  Command = "spin"
	Dance Command = "dance"
)

// MatchMode controls how a keyword is located in the spoken text.
type MatchMode string

const (
	// MatchSubstring matches anywhere, including inside other words.
	MatchSubstring MatchMode = "substring"
	// MatchPrefix requires the keyword to start at a word boundary. The word
	// may continue past the keyword, so "waved" matches "wave". It is the
	// default, and stricter than plain substring matching: "shine", "this"
	// and "they" do not trigger hello. Use MatchSubstring for the looser
	// behaviour.
	MatchPrefix MatchMode = "prefix"
	// MatchWord requires the keyword to be a whole word.
	MatchWord MatchMode = "word"
)

// Rule maps keywords to a command plus the status shown when it fires.
type Rule struct {
	Name     Command
	Keywords []string
	Match    MatchMode
	Message  string
	Color    string
}

// Event is produced by detection and handed to the command handler.
type Event struct {
	Command    Command `json:"command"`
	SourceText string  `json:"source_text"`
	Message    string  `json:"message"`
	Color      string  `json:"color"`
}

// Table is an ordered list of rules. The first rule that matches wins.
type Table struct {
	rules []Rule
}

// DefaultRules returns the built-in command set in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: Hello, Keywords: []string{"hello", "hi", "hey"}, Message: "👋 Hello! I heard you!", Color: "rgba(76, 175, 80, 0.3)"},
		{Name: Wave, Keywords: []string{"wave"}, Message: "👋 Waving!", Color: "rgba(33, 150, 243, 0.3)"},
		{Name: Jump, Keywords: []string{"jump"}, Message: "⬆️ Jumping!", Color: "rgba(156, 39, 176, 0.3)"},
		{Name: Spin, Keywords: []string{"spin", "turn"}, Message: "🌀 Spinning!", Color: "rgba(255, 193, 7, 0.3)"},
		{Name: Dance, Keywords: []string{"dance"}, Message: "💃 Dancing!", Color: "rgba(233, 30, 99, 0.3)"},
	}
}

// Default compiles DefaultRules. It cannot fail.
func Default() *Table {
	t, err := NewTable(DefaultRules())
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable validates and normalizes rules. Keywords are lower-cased and an
// empty match mode means MatchPrefix.
func NewTable(rules []Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, errors.New("command table is empty")
	}

	seen := make(map[Command]struct{}, len(rules))
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		name := Command(strings.ToLower(strings.TrimSpace(string(r.Name))))
		if name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("rule %d: duplicate command %q", i, name)
		}
		seen[name] = struct{}{}

		mode := r.Match
		switch mode {
		case "":
			mode = MatchPrefix
		case MatchSubstring, MatchPrefix, MatchWord:
		default:
			return nil, fmt.Errorf("rule %q: unknown match mode %q", name, mode)
		}

		keywords := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("rule %q: at least one keyword is required", name)
		}

		compiled = append(compiled, Rule{
			Name:     name,
			Keywords: keywords,
			Match:    mode,
			Message:  r.Message,
			Color:    r.Color,
		})
	}

	return &Table{rules: compiled}, nil
}

// Rules returns a copy of the compiled rules in priority order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		r.Keywords = append([]string(nil), r.Keywords...)
		out[i] = r
	}
	return out
}

// Detect returns the first matching rule's event for text.
func (t *Table) Detect(text string) (Event, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Event{}, false
	}

	for _, r := range t.rules {
		for _, k := range r.Keywords {
			if matches(normalized, k, r.Match) {
				return Event{
					Command:    r.Name,
					SourceText: normalized,
					Message:    r.Message,
					Color:      r.Color,
				}, true
			}
		}
	}
	return Event{}, false
}

func matches(text, keyword string, mode MatchMode) bool {
	if mode == MatchSubstring {
		return strings.Contains(text, keyword)
	}

	for offset := 0; offset <= len(text)-len(keyword); {
		idx := strings.Index(text[offset:], keyword)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(keyword)
		if wordBoundaryBefore(text, start) && (mode == MatchPrefix || wordBoundaryAfter(text, end)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func wordBoundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func wordBoundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
