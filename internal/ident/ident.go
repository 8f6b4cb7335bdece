// Package ident validates identifiers (table names, field names, query
// variables) before they are composed into query text or sent on the wire.
// The grammar: a bare identifier matches ^[A-Za-z_][A-Za-z0-9_]*$ and is
// not a reserved keyword (case-insensitive); anything else must be
// backtick-quoted with backslash-escaped backticks.
package ident

import (
	"fmt"
	"regexp"
	"strings"
)

var bareIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedKeywords covers SQL commands, schema terms, primitive type
// names, control-flow words, logical operators, and literal constants.
// Matching is case-insensitive.
var reservedKeywords = map[string]bool{
	// commands
	"select": true, "create": true, "update": true, "delete": true,
	"insert": true, "upsert": true, "relate": true, "merge": true,
	"patch": true, "live": true, "kill": true, "define": true,
	"remove": true, "alter": true, "info": true, "use": true,
	"let": true, "begin": true, "commit": true, "cancel": true,
	"return": true, "show": true, "sleep": true, "rebuild": true,
	// schema terms
	"table": true, "field": true, "index": true, "event": true,
	"function": true, "param": true, "scope": true, "access": true,
	"user": true, "token": true, "database": true, "namespace": true,
	"analyzer": true, "schemafull": true, "schemaless": true,
	// clauses
	"from": true, "where": true, "group": true, "order": true,
	"limit": true, "start": true, "fetch": true, "split": true,
	"timeout": true, "parallel": true, "explain": true, "with": true,
	"omit": true, "only": true, "value": true, "set": true,
	"content": true, "unset": true,
	// control flow
	"if": true, "else": true, "then": true, "end": true, "for": true,
	"break": true, "continue": true, "throw": true,
	// operators and predicates
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"contains": true, "inside": true, "outside": true, "intersects": true,
	// primitive type names
	"bool": true, "int": true, "float": true, "string": true,
	"number": true, "decimal": true, "datetime": true, "duration": true,
	"object": true, "array": true, "record": true, "geometry": true,
	"bytes": true, "uuid": true, "any": true, "option": true,
	// literal constants
	"true": true, "false": true, "null": true, "none": true,
}

// IsBare reports whether s is a bare identifier under the grammar,
// ignoring the reserved-keyword set.
func IsBare(s string) bool {
	return bareIdent.MatchString(s)
}

// IsReserved reports whether s is a reserved keyword (case-insensitive).
func IsReserved(s string) bool {
	return reservedKeywords[strings.ToLower(s)]
}

// Validate checks an identifier for use as a table, field, or variable
// name. Accepts bare identifiers that are not reserved, and backtick-
// quoted identifiers with no unescaped backtick inside. Bare identifiers
// never contain commas; backtick-quoted ones may.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("identifier is empty")
	}
	if strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") && len(s) >= 2 {
		inner := s[1 : len(s)-1]
		if inner == "" {
			return fmt.Errorf("quoted identifier is empty")
		}
		if hasUnescapedBacktick(inner) {
			return fmt.Errorf("quoted identifier %q contains an unescaped backtick", s)
		}
		return nil
	}
	if !bareIdent.MatchString(s) {
		return fmt.Errorf("identifier %q is not a bare identifier and is not backtick-quoted", s)
	}
	if IsReserved(s) {
		return fmt.Errorf("identifier %q is a reserved keyword (quote it with backticks to use it)", s)
	}
	return nil
}

// Escape returns s unchanged when it is a usable bare identifier, and a
// backtick-quoted form otherwise.
func Escape(s string) string {
	if bareIdent.MatchString(s) && !IsReserved(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('`')
	for _, r := range s {
		if r == '`' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('`')
	return b.String()
}

// Unescape reverses Escape for a backtick-quoted identifier. Bare
// identifiers pass through unchanged.
func Unescape(s string) (string, error) {
	if !strings.HasPrefix(s, "`") {
		if err := Validate(s); err != nil {
			return "", err
		}
		return s, nil
	}
	if !strings.HasSuffix(s, "`") || len(s) < 3 {
		return "", fmt.Errorf("unterminated quoted identifier %q", s)
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	escaped := false
	for _, r := range inner {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '`' {
			return "", fmt.Errorf("quoted identifier %q contains an unescaped backtick", s)
		}
		b.WriteRune(r)
	}
	if escaped {
		return "", fmt.Errorf("quoted identifier %q ends with a dangling escape", s)
	}
	return b.String(), nil
}

func hasUnescapedBacktick(inner string) bool {
	escaped := false
	for _, r := range inner {
		if escaped {
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '`' {
			return true
		}
	}
	return false
}
