package flow

import (
	"strings"
	"unicode"
)

// Value is one resolved flow variable. Multi-part values come from list
// inputs (e.g. several files); Join flattens them for templates.
type Value struct {
	parts []string
}

// Text builds a single-part value.
func Text(s string) Value { return Value{parts: []string{s}} }

// List builds a multi-part value.
func List(parts []string) Value { return Value{parts: parts} }

// IsEmpty reports whether the value has no non-empty part.
func (v Value) IsEmpty() bool {
	for _, p := range v.parts {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}

// Join flattens the value with the given separator.
func (v Value) Join(sep string) string { return strings.Join(v.parts, sep) }

// String flattens with newlines, the default presentation.
func (v Value) String() string { return v.Join("\n") }

// Interpolate replaces $name tokens with values from vars. Unresolved
// tokens stay as literal text: templates may legitimately contain dollar
// signs. List values join with a comma when the token sits inline after
// a bracket or comma, with a newline otherwise.
func Interpolate(template string, vars map[string]Value) string {
	var sb strings.Builder
	i := 0
	for i < len(template) {
		c := template[i]
		if c != '$' {
			sb.WriteByte(c)
			i++
			continue
		}
		name, width := scanName(template[i+1:])
		if width == 0 {
			sb.WriteByte(c)
			i++
			continue
		}
		v, ok := vars[name]
		if !ok {
			sb.WriteString(template[i : i+1+width])
			i += 1 + width
			continue
		}
		sb.WriteString(v.Join(separatorFor(template, i)))
		i += 1 + width
	}
	return sb.String()
}

// scanName reads an identifier ([A-Za-z0-9_]) following the sigil.
func scanName(s string) (string, int) {
	n := 0
	for n < len(s) {
		r := rune(s[n])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		n++
	}
	return s[:n], n
}

// separatorFor picks the list join separator from the template context
// around the token at pos: enumeration-style syntax gets a comma.
func separatorFor(template string, pos int) string {
	for j := pos - 1; j >= 0; j-- {
		c := template[j]
		if c == ' ' || c == '\t' {
			continue
		}
		if c == '[' || c == '(' || c == ',' || c == ':' {
			return ", "
		}
		break
	}
	return "\n"
}
