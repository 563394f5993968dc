// Package extract turns recognized receipt text into typed fields.
//
// Extraction is driven by a RuleSet: for each field kind an ordered list of
// label/value rules. The engine tries the rules in declaration order and
// returns the first non-empty capture; when nothing matches it returns the
// kind's sentinel, so callers never deal with a missing field.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"pettycash/internal/core"
)

// Engine applies a compiled RuleSet. It is safe for concurrent use.
type Engine struct {
	name  string
	rules map[FieldKind][]*regexp.Regexp
}

// NewEngine compiles rs into an Engine.
func NewEngine(rs RuleSet) (*Engine, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{name: rs.Name, rules: make(map[FieldKind][]*regexp.Regexp, len(Kinds))}
	for _, kind := range Kinds {
		for i, r := range rs.Fields[kind] {
			re, err := compileRule(kind, r)
			if err != nil {
				return nil, fmt.Errorf("%s rule %d: %w", kind, i+1, err)
			}
			e.rules[kind] = append(e.rules[kind], re)
		}
	}
	return e, nil
}

// NewBuiltinEngine compiles one of the shipped rule sets.
func NewBuiltinEngine(name string) (*Engine, error) {
	rs, err := Builtin(name)
	if err != nil {
		return nil, err
	}
	return NewEngine(rs)
}

// Name returns the rule set name.
func (e *Engine) Name() string {
	return e.name
}

// Extract returns the value for kind found in text, or the kind's sentinel.
//
// Rules are tried in order and the first rule with a non-empty capture wins,
// regardless of where in the text a later rule would have matched.
func (e *Engine) Extract(kind FieldKind, text string) string {
	for _, re := range e.rules[kind] {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return kind.Sentinel()
}

// ExtractText extracts every field from already-joined text.
func (e *Engine) ExtractText(text string) core.ExtractionResult {
	date, tm := SplitDateTime(e.Extract(DateTime, text))
	return core.ExtractionResult{
		ReferenceNumber: e.Extract(ReferenceNumber, text),
		Date:            date,
		Time:            tm,
		AmountPaid:      e.Extract(AmountPaid, text),
	}
}

// ExtractFragments joins OCR fragments and extracts every field.
func (e *Engine) ExtractFragments(fragments []string) core.ExtractionResult {
	return e.ExtractText(JoinFragments(fragments))
}
