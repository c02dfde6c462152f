package audit

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Change is one field transition inside an audit diff.
type Change struct {
	OriginalValue json.RawMessage `json:"originalValue"`
	NewValue      json.RawMessage `json:"newValue"`
}

// Changes maps camelCase field names to their transitions.
type Changes map[string]Change

// Has reports whether field (any casing) is present.
func (c Changes) Has(field string) bool {
	_, ok := c[CamelCase(field)]
	return ok
}

// Get returns the transition for field (any casing).
func (c Changes) Get(field string) (Change, bool) {
	ch, ok := c[CamelCase(field)]
	return ch, ok
}

// Raw serializes the changes back into a JSON payload.
func (c Changes) Raw() json.RawMessage {
	if len(c) == 0 {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return b
}

var jsonNull = json.RawMessage("null")

// NormalizeChanges canonicalizes a stored diff payload:
// top-level keys become camelCase, inner pair keys become
// originalValue/newValue, and fields whose values are deep-equal are
// dropped. It returns nil when nothing meaningful remains. Malformed
// input yields nil; it never fails.
func NormalizeChanges(raw json.RawMessage) Changes {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}

	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	// Keys already in camelCase win over snake_case duplicates.
	sort.SliceStable(keys, func(i, j int) bool {
		ci, cj := CamelCase(keys[i]) == keys[i], CamelCase(keys[j]) == keys[j]
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})

	out := Changes{}
	for _, k := range keys {
		name := CamelCase(k)
		if name == "" {
			continue
		}
		if _, seen := out[name]; seen {
			continue
		}
		ch, ok := normalizePair(top[k])
		if !ok {
			continue
		}
		if bytes.Equal(ch.OriginalValue, ch.NewValue) {
			continue
		}
		out[name] = ch
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizePair(raw json.RawMessage) (Change, bool) {
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil || inner == nil {
		return Change{}, false
	}
	ch := Change{OriginalValue: jsonNull, NewValue: jsonNull}
	for k, v := range inner {
		switch pairKey(k) {
		case "originalvalue":
			ch.OriginalValue = canonicalJSON(v)
		case "newvalue":
			ch.NewValue = canonicalJSON(v)
		}
	}
	return ch, true
}

func pairKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

// canonicalJSON re-encodes v so that structurally equal values compare
// equal byte for byte (object keys sorted, whitespace removed).
func canonicalJSON(v json.RawMessage) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return jsonNull
	}
	b, err := json.Marshal(canonicalNumbers(x))
	if err != nil {
		return jsonNull
	}
	return b
}

// canonicalNumbers rewrites every number to one spelling, so 1, 1.0 and
// 1e0 encode identically. Integers keep full precision.
func canonicalNumbers(x any) any {
	switch v := x.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = canonicalNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = canonicalNumbers(e)
		}
		return v
	case json.Number:
		r, ok := new(big.Rat).SetString(v.String())
		if !ok {
			return v
		}
		if r.IsInt() {
			return json.Number(r.Num().String())
		}
		f, _ := r.Float64()
		return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return x
}

// CamelCase converts foo_bar to fooBar. Keys without underscores are
// returned unchanged.
func CamelCase(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	first := true
	for _, p := range parts {
		if p == "" {
			continue
		}
		if first {
			b.WriteString(p)
			first = false
			continue
		}
		r, size := utf8.DecodeRuneInString(p)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(p[size:])
	}
	return b.String()
}

// SnakeCase converts fooBar to foo_bar.
func SnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CoerceValue turns a filter string into the JSON value it most likely
// denotes: numbers parse as numbers, true/false as booleans, anything
// else stays a string.
func CoerceValue(s string) json.RawMessage {
	t := strings.TrimSpace(s)
	if n, err := strconv.ParseInt(t, 10, 64); err == nil {
		return json.RawMessage(strconv.FormatInt(n, 10))
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return json.RawMessage(strconv.FormatFloat(f, 'f', -1, 64))
	}
	switch strings.ToLower(t) {
	case "true":
		return json.RawMessage("true")
	case "false":
		return json.RawMessage("false")
	}
	b, _ := json.Marshal(s)
	return b
}

// Int64Value extracts an integer id from a JSON value. Numeric strings
// are accepted; anything else reports false.
func Int64Value(v json.RawMessage) (int64, bool) {
	var x any
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&x); err != nil {
		return 0, false
	}
	switch n := x.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
