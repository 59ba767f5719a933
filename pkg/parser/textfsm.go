package parser

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// textFSMRule is one compiled line rule: Start.re matched in order against
// each line of raw output; a match captures its named values into the
// in-progress record and performs the rule's action.
type textFSMRule struct {
	re     *regexp.Regexp
	action string // "Record", "Continue", or "" (implicit continue)
}

// textFSMTemplate is a compiled Engine T template: a set of named field
// regexes plus an ordered list of line rules built against them.
type textFSMTemplate struct {
	rules []textFSMRule
}

var valueLineRe = regexp.MustCompile(`^Value\s+(\w+)\s+\((.*)\)\s*$`)
var placeholderRe = regexp.MustCompile(`\$\{(\w+)\}`)

// compileTextFSM parses Engine T template text: "Value NAME (regex)"
// declarations, a blank line, then a "Start" section of
// "  ^linepattern -> Action" rules referencing declared values as
// "${NAME}".
func compileTextFSM(text string) (*textFSMTemplate, error) {
	values := map[string]string{}
	var order []string

	scanner := bufio.NewScanner(strings.NewReader(text))
	inStart := false
	var rules []textFSMRule

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inStart {
			if trimmed == "" {
				continue
			}
			if trimmed == "Start" {
				inStart = true
				continue
			}
			m := valueLineRe.FindStringSubmatch(trimmed)
			if m == nil {
				return nil, fmt.Errorf("textfsm: invalid Value line: %q", line)
			}
			values[m[1]] = m[2]
			order = append(order, m[1])
			continue
		}

		if trimmed == "" {
			continue
		}
		pattern, action := splitRuleAction(trimmed)
		expanded := placeholderRe.ReplaceAllStringFunc(pattern, func(ph string) string {
			name := placeholderRe.FindStringSubmatch(ph)[1]
			if fieldRe, ok := values[name]; ok {
				return fmt.Sprintf("(?P<%s>%s)", name, fieldRe)
			}
			return ph
		})
		re, err := regexp.Compile(expanded)
		if err != nil {
			return nil, fmt.Errorf("textfsm: compile rule %q: %w", pattern, err)
		}
		rules = append(rules, textFSMRule{re: re, action: action})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("textfsm: scan template: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("textfsm: template has no Start rules")
	}
	return &textFSMTemplate{rules: rules}, nil
}

// splitRuleAction splits "^pattern -> Action" into its pattern and action;
// a rule with no arrow continues accumulating without emitting a record.
func splitRuleAction(line string) (pattern, action string) {
	idx := strings.Index(line, "->")
	if idx < 0 {
		return line, ""
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+2:])
}

// Parse runs the compiled template against raw command output, producing
// a sequence of records (field name -> captured string).
func (t *textFSMTemplate) Parse(raw string) ([]map[string]string, error) {
	var records []map[string]string
	current := map[string]string{}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		for _, rule := range t.rules {
			m := rule.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			for i, name := range rule.re.SubexpNames() {
				if name == "" || i >= len(m) {
					continue
				}
				current[name] = m[i]
			}
			if strings.HasPrefix(rule.action, "Record") {
				records = append(records, current)
				current = map[string]string{}
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("textfsm: scan input: %w", err)
	}
	return records, nil
}
