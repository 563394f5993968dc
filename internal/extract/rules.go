package extract

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"pettycash/internal/core"
)

// FieldKind names one of the extracted receipt fields.
type FieldKind string

const (
	ReferenceNumber FieldKind = "reference_number"
	DateTime        FieldKind = "date_time"
	AmountPaid      FieldKind = "amount_paid"
)

// Kinds lists every field kind in extraction order.
var Kinds = []FieldKind{ReferenceNumber, DateTime, AmountPaid}

// IsValid reports whether k is a known field kind.
func (k FieldKind) IsValid() bool {
	switch k {
	case ReferenceNumber, DateTime, AmountPaid:
		return true
	default:
		return false
	}
}

// Sentinel returns the placeholder used when no rule matches.
func (k FieldKind) Sentinel() string {
	switch k {
	case ReferenceNumber:
		return core.UnknownReferenceNumber
	case DateTime:
		return core.UnknownDateTime
	case AmountPaid:
		return core.UnknownAmount
	default:
		return ""
	}
}

// valuePattern is the default value grammar for the kind.
func (k FieldKind) valuePattern() string {
	switch k {
	case ReferenceNumber:
		return `[\w-]+`
	case DateTime:
		return `[\d/:\s-]+`
	case AmountPaid:
		return `[\d.,]+`
	default:
		return ""
	}
}

type (
	// FieldRule pairs a set of label phrases with the grammar of the value that
	// follows them. Value overrides the kind's default grammar when set.
	FieldRule struct {
		Labels []string `yaml:"labels"`
		Value  string   `yaml:"value,omitempty"`
	}

	// RuleSet is the ordered rule list for every field kind. Rule order is
	// precedence: an earlier rule wins even when a later rule matches earlier
	// in the text.
	RuleSet struct {
		Name   string                    `yaml:"name"`
		Fields map[FieldKind][]FieldRule `yaml:"fields"`
	}
)

var (
	ErrUnknownRuleSet = errors.New("unknown rule set")
	ErrInvalidRuleSet = errors.New("invalid rule set")
)

//go:embed rulesets/*.yaml
var rulesetsFS embed.FS

// DefaultRuleSet is used when no rule set is configured.
const DefaultRuleSet = "retail"

// Builtin returns one of the rule sets shipped with the binary.
func Builtin(name string) (RuleSet, error) {
	data, err := rulesetsFS.ReadFile("rulesets/" + name + ".yaml")
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownRuleSet, name, strings.Join(BuiltinNames(), ", "))
	}
	return ParseRuleSet(data)
}

// BuiltinNames lists the shipped rule sets, sorted.
func BuiltinNames() []string {
	entries, err := rulesetsFS.ReadDir("rulesets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// LoadRuleSetFile reads a rule set from a YAML file on disk.
func LoadRuleSetFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rule set %s: %w", path, err)
	}
	rs, err := ParseRuleSet(data)
	if err != nil {
		return RuleSet{}, fmt.Errorf("rule set %s: %w", path, err)
	}
	return rs, nil
}

// ParseRuleSet decodes and validates a YAML rule set.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Validate checks that every field kind has at least one rule and that every
// rule compiles.
func (rs RuleSet) Validate() error {
	var problems []string
	for kind := range rs.Fields {
		if !kind.IsValid() {
			problems = append(problems, fmt.Sprintf("unknown field kind %q", kind))
		}
	}
	for _, kind := range Kinds {
		rules := rs.Fields[kind]
		if len(rules) == 0 {
			problems = append(problems, fmt.Sprintf("%s: no rules", kind))
			continue
		}
		for i, r := range rules {
			if _, err := compileRule(kind, r); err != nil {
				problems = append(problems, fmt.Sprintf("%s rule %d: %v", kind, i+1, err))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidRuleSet, strings.Join(problems, "; "))
	}
	return nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// compileRule builds the case-insensitive pattern
//
//	(?:label|label...)[:\s]*(value)
//
// Longer labels come first so that "OR number" is not cut short by "OR".
// Word boundaries are only added next to word characters, so labels such as
// "OR No." still match when followed by a colon.
func compileRule(kind FieldKind, r FieldRule) (*regexp.Regexp, error) {
	labels := make([]string, 0, len(r.Labels))
	for _, l := range r.Labels {
		l = strings.TrimSpace(l)
		if l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return nil, errors.New("no labels")
	}
	sort.SliceStable(labels, func(i, j int) bool { return len(labels[i]) > len(labels[j]) })

	alts := make([]string, len(labels))
	for i, l := range labels {
		alts[i] = labelPattern(l)
	}

	value := r.Value
	if value == "" {
		value = kind.valuePattern()
	}
	if value == "" {
		return nil, fmt.Errorf("no value grammar for kind %q", kind)
	}

	pattern := `(?i)(?:` + strings.Join(alts, "|") + `)[:\s]*(` + value + `)`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return re, nil
}

func labelPattern(label string) string {
	words := whitespaceRun.Split(label, -1)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	p := strings.Join(words, `\s+`)
	if isWordByte(label[0]) {
		p = `\b` + p
	}
	if isWordByte(label[len(label)-1]) {
		p += `\b`
	}
	return p
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
