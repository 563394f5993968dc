// Command extract runs the field extraction rules over receipt text and
// prints the result as JSON. It is used to tune rule sets against OCR output
// without running the service.
//
// Usage:
//
//	extract [-ruleset retail | -rules rules.yaml] [-fields] [file ...]
//
// With no files the text is read from standard input. Each file is extracted
// on its own and printed as one JSON object per line.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"pettycash/internal/extract"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "extract:", err)
		os.Exit(1)
	}
}

type output struct {
	Source  string `json:"source,omitempty"`
	RuleSet string `json:"rule_set"`
	OR      string `json:"or_number"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Amount  string `json:"amount_paid"`
	// Raw captures before the date-time split, with -fields.
	Fields map[extract.FieldKind]string `json:"fields,omitempty"`
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	ruleSet := fs.String("ruleset", extract.DefaultRuleSet, "builtin rule set ("+strings.Join(extract.BuiltinNames(), ", ")+")")
	rulesFile := fs.String("rules", "", "YAML rule set file; overrides -ruleset")
	fields := fs.Bool("fields", false, "include the raw capture of every field kind")
	list := fs.Bool("list", false, "list builtin rule sets and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *list {
		for _, name := range extract.BuiltinNames() {
			fmt.Fprintln(stdout, name)
		}
		return nil
	}

	engine, err := loadEngine(*ruleSet, *rulesFile)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)

	if fs.NArg() == 0 {
		text, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		return enc.Encode(extractText(engine, "", string(text), *fields))
	}

	var errs []error
	for _, path := range fs.Args() {
		text, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		if err := enc.Encode(extractText(engine, path, string(text), *fields)); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func loadEngine(name, path string) (*extract.Engine, error) {
	if path != "" {
		rs, err := extract.LoadRuleSetFile(path)
		if err != nil {
			return nil, err
		}
		return extract.NewEngine(rs)
	}
	return extract.NewBuiltinEngine(name)
}

// extractText treats every line of text as one recognized fragment.
func extractText(engine *extract.Engine, source, text string, withFields bool) output {
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	res := engine.ExtractFragments(lines)
	out := output{
		Source:  source,
		RuleSet: engine.Name(),
		OR:      res.ReferenceNumber,
		Date:    res.Date,
		Time:    res.Time,
		Amount:  res.AmountPaid,
	}
	if withFields {
		joined := extract.JoinFragments(lines)
		out.Fields = make(map[extract.FieldKind]string, len(extract.Kinds))
		for _, kind := range extract.Kinds {
			out.Fields[kind] = engine.Extract(kind, joined)
		}
	}
	return out
}
