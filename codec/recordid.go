package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/surgo/internal/errs"
	"github.com/steveyegge/surgo/internal/ident"
)

// RecordID identifies a single record: a table name plus an id payload.
// The id is a scalar, object, or array value. The textual form is
// "table:id" where a bare-identifier id stays bare and everything else
// is escaped.
type RecordID struct {
	Table string
	ID    Value
}

// NewRecordID builds a record id with a string id part.
func NewRecordID(table, id string) RecordID {
	return RecordID{Table: table, ID: String(id)}
}

// String composes the textual form. Integer ids render as digits, bare
// string ids stay bare, other string ids are backtick-escaped, and
// structured ids render as their text-encoded literal.
func (r RecordID) String() string {
	return ident.Escape(r.Table) + ":" + r.idText()
}

func (r RecordID) idText() string {
	switch r.ID.Kind() {
	case KindInt:
		i, _ := r.ID.Int()
		return strconv.FormatInt(i, 10)
	case KindString:
		s, _ := r.ID.Str()
		if ident.IsBare(s) {
			return s
		}
		return ident.Escape(s)
	default:
		// Structured literal: object or array ids use the text encoding.
		b, err := SerializeText(r.ID)
		if err != nil {
			return "" // unreachable: record ids never hold non-finite floats
		}
		return string(b)
	}
}

// Validate checks the table segment against the identifier grammar and
// rejects empty id payloads.
func (r RecordID) Validate() error {
	if err := ident.Validate(ident.Escape(r.Table)); err != nil {
		return &errs.InvalidRecordIDError{Msg: fmt.Sprintf("table: %v", err)}
	}
	if r.Table == "" {
		return &errs.InvalidRecordIDError{Msg: "table is empty"}
	}
	switch r.ID.Kind() {
	case KindNull:
		return &errs.InvalidRecordIDError{Msg: "id is empty"}
	case KindString:
		if s, _ := r.ID.Str(); s == "" {
			return &errs.InvalidRecordIDError{Msg: "id is empty"}
		}
	}
	return nil
}

// ParseRecordID parses the textual form "table:id". The table segment is
// a bare or backtick-quoted identifier; the id segment is a bare
// identifier, an integer, a backtick-quoted string, or a structured
// literal opening with '{' or '['. Empty segments are rejected.
func ParseRecordID(s string) (RecordID, error) {
	table, rest, err := splitRecordID(s)
	if err != nil {
		return RecordID{}, err
	}
	id, err := parseIDSegment(rest)
	if err != nil {
		return RecordID{}, &errs.InvalidRecordIDError{Msg: fmt.Sprintf("%q: %v", s, err)}
	}
	return RecordID{Table: table, ID: id}, nil
}

// IsRecordIDText reports whether s parses as a record id. Used by the
// session engine to decide whether a target names a table or one record.
func IsRecordIDText(s string) bool {
	_, err := ParseRecordID(s)
	return err == nil
}

func splitRecordID(s string) (table, rest string, err error) {
	if s == "" {
		return "", "", &errs.InvalidRecordIDError{Msg: "empty input"}
	}
	var sep int
	if strings.HasPrefix(s, "`") {
		// Quoted table: the separator is the first ':' after the closing
		// backtick. Scan for the unescaped terminator.
		escaped := false
		end := -1
		for i := 1; i < len(s); i++ {
			if escaped {
				escaped = false
				continue
			}
			switch s[i] {
			case '\\':
				escaped = true
			case '`':
				end = i
			}
			if end >= 0 {
				break
			}
		}
		if end < 0 || end+1 >= len(s) || s[end+1] != ':' {
			return "", "", &errs.InvalidRecordIDError{Msg: fmt.Sprintf("%q: missing ':' separator", s)}
		}
		tbl, uerr := ident.Unescape(s[:end+1])
		if uerr != nil {
			return "", "", &errs.InvalidRecordIDError{Msg: fmt.Sprintf("%q: %v", s, uerr)}
		}
		sep = end + 1
		table = tbl
	} else {
		sep = strings.IndexByte(s, ':')
		if sep < 0 {
			return "", "", &errs.InvalidRecordIDError{Msg: fmt.Sprintf("%q: missing ':' separator", s)}
		}
		table = s[:sep]
		if table == "" {
			return "", "", &errs.InvalidRecordIDError{Msg: fmt.Sprintf("%q: empty table segment", s)}
		}
		if !ident.IsBare(table) {
			return "", "", &errs.InvalidRecordIDError{Msg: fmt.Sprintf("%q: table segment is not an identifier", s)}
		}
	}
	rest = s[sep+1:]
	if rest == "" {
		return "", "", &errs.InvalidRecordIDError{Msg: fmt.Sprintf("%q: empty id segment", s)}
	}
	return table, rest, nil
}

func parseIDSegment(rest string) (Value, error) {
	switch {
	case strings.HasPrefix(rest, "`"):
		id, err := ident.Unescape(rest)
		if err != nil {
			return Value{}, err
		}
		return String(id), nil
	case rest[0] == '{' || rest[0] == '[':
		v, err := ParseText([]byte(rest))
		if err != nil {
			return Value{}, fmt.Errorf("structured id: %w", err)
		}
		return v, nil
	default:
		if i, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return Int(i), nil
		}
		if !ident.IsBare(rest) {
			return Value{}, fmt.Errorf("id segment %q is not bare, quoted, or structured", rest)
		}
		return String(rest), nil
	}
}
