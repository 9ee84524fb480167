package dom

import (
	"errors"

	"github.com/aymerick/douceur/parser"
)

var (
	// ErrSyntax is returned by [StyleSheet.InsertRule] for text that is not
	// exactly one rule.
	ErrSyntax = errors.New(`dom: failed to parse the rule`)

	// ErrIndexSize is returned for rule indexes that are out of range.
	ErrIndexSize = errors.New(`dom: rule index out of range`)
)

// StyleSheet models CSSStyleSheet, holding the serialized text of each rule.
type StyleSheet struct {
	rules   []string
	binding any
}

func newStyleSheet(text string) *StyleSheet {
	var s StyleSheet
	if sheet, err := parser.Parse(text); err == nil {
		for _, rule := range sheet.Rules {
			s.rules = append(s.rules, rule.String())
		}
	}
	return &s
}

// Binding returns the value attached by [StyleSheet.SetBinding], or nil.
func (s *StyleSheet) Binding() any { return s.binding }

// SetBinding attaches an opaque value to s.
func (s *StyleSheet) SetBinding(v any) { s.binding = v }

// Len returns the number of rules.
func (s *StyleSheet) Len() int { return len(s.rules) }

// CSSRules returns a copy of the serialized rules.
func (s *StyleSheet) CSSRules() []string {
	return append([]string(nil), s.rules...)
}

// InsertRule parses text as a single rule, and inserts it at index,
// returning the index.
func (s *StyleSheet) InsertRule(text string, index int) (int, error) {
	if index < 0 || index > len(s.rules) {
		return 0, ErrIndexSize
	}
	sheet, err := parser.Parse(text)
	if err != nil || len(sheet.Rules) != 1 {
		return 0, ErrSyntax
	}
	s.rules = append(s.rules, ``)
	copy(s.rules[index+1:], s.rules[index:])
	s.rules[index] = sheet.Rules[0].String()
	return index, nil
}

// DeleteRule removes the rule at index.
func (s *StyleSheet) DeleteRule(index int) error {
	if index < 0 || index >= len(s.rules) {
		return ErrIndexSize
	}
	s.rules = append(s.rules[:index], s.rules[index+1:]...)
	return nil
}
