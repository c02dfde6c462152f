package store

import (
	"encoding/json"
	"strings"

	"tourneyaudit-server-go/internal/audit"
)

// Predicate is a node of a WHERE clause. Nodes bind their own arguments,
// so placeholders are numbered by the statement that renders them.
type Predicate interface {
	render(w *sqlWriter)
}

type sqlWriter struct {
	b    strings.Builder
	args []any
}

func (w *sqlWriter) bind(v any) string {
	w.args = append(w.args, v)
	return "$" + itoa(len(w.args))
}

func (w *sqlWriter) write(s ...string) {
	for _, p := range s {
		w.b.WriteString(p)
	}
}

// Compile renders p on its own, numbering placeholders from $1.
func Compile(p Predicate) (string, []any) {
	if p == nil {
		return "", nil
	}
	var w sqlWriter
	p.render(&w)
	return w.b.String(), w.args
}

type condExpr struct {
	text string
	args []any
}

// Cond is a raw SQL condition. Each '?' is replaced by a placeholder for
// the next argument.
func Cond(text string, args ...any) Predicate {
	return condExpr{text: text, args: args}
}

func (c condExpr) render(w *sqlWriter) {
	n := 0
	for i := 0; i < len(c.text); i++ {
		if c.text[i] == '?' && n < len(c.args) {
			w.write(w.bind(c.args[n]))
			n++
			continue
		}
		w.b.WriteByte(c.text[i])
	}
}

type junction struct {
	op    string
	parts []Predicate
}

func And(ps ...Predicate) Predicate { return newJunction(" AND ", ps) }

func Or(ps ...Predicate) Predicate { return newJunction(" OR ", ps) }

func newJunction(op string, ps []Predicate) Predicate {
	parts := make([]Predicate, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return junction{op: op, parts: parts}
}

func (j junction) render(w *sqlWriter) {
	w.write("(")
	for i, p := range j.parts {
		if i > 0 {
			w.write(j.op)
		}
		p.render(w)
	}
	w.write(")")
}

type notExpr struct{ p Predicate }

func Not(p Predicate) Predicate {
	if p == nil {
		return nil
	}
	return notExpr{p: p}
}

func (n notExpr) render(w *sqlWriter) {
	w.write("NOT (")
	n.p.render(w)
	w.write(")")
}

// jsonKeyVariants returns the stored spellings of a diff field: the
// camelCase key and, when different, its snake_case form.
func jsonKeyVariants(field string) []string {
	camel := audit.CamelCase(field)
	snake := audit.SnakeCase(camel)
	if snake == camel {
		return []string{camel}
	}
	return []string{camel, snake}
}

func newValueExpr(col, key string) string {
	return "COALESCE(" + col + " -> " + key + " -> 'newValue', " + col + " -> " + key + " -> 'NewValue')"
}

func originalValueExpr(col, key string) string {
	return "COALESCE(" + col + " -> " + key + " -> 'originalValue', " + col + " -> " + key + " -> 'OriginalValue')"
}

// orJSONNull reads a missing side of a diff as JSON null, the same way
// the diff normalizer does.
func orJSONNull(expr string) string {
	return "COALESCE(" + expr + ", 'null'::jsonb)"
}

type fieldChanged struct {
	col   string
	field string
}

// FieldChanged matches rows whose diff in col holds field under either
// key casing with a new value that differs from the original.
func FieldChanged(col, field string) Predicate {
	return fieldChanged{col: col, field: field}
}

func (f fieldChanged) render(w *sqlWriter) {
	variants := jsonKeyVariants(f.field)
	w.write("(")
	for i, v := range variants {
		if i > 0 {
			w.write(" OR ")
		}
		k := w.bind(v) + "::text"
		w.write("(", f.col, " -> ", k, " IS NOT NULL AND ",
			orJSONNull(newValueExpr(f.col, k)), " IS DISTINCT FROM ", orJSONNull(originalValueExpr(f.col, k)), ")")
	}
	w.write(")")
}

type fieldNewValue struct {
	col   string
	field string
	value json.RawMessage
}

// FieldNewValueEquals matches rows whose diff sets field to value.
func FieldNewValueEquals(col, field string, value json.RawMessage) Predicate {
	return fieldNewValue{col: col, field: field, value: value}
}

func (f fieldNewValue) render(w *sqlWriter) {
	val := w.bind(string(f.value)) + "::jsonb"
	variants := jsonKeyVariants(f.field)
	w.write("(")
	for i, v := range variants {
		if i > 0 {
			w.write(" OR ")
		}
		k := w.bind(v) + "::text"
		w.write(newValueExpr(f.col, k), " = ", val)
	}
	w.write(")")
}
