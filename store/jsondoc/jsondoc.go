// Package jsondoc evaluates queries and array mutations over JSON-normalized documents.
// It backs the stores that keep documents as JSON (memstore, pgstore).
package jsondoc

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/klipach/picchu/store"
)

// Fields is a document body after a JSON round trip: maps, []any, strings, float64, bool, nil.
type Fields map[string]any

// Normalize converts a document value (struct or map) into Fields.
func Normalize(data any) (Fields, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("document must encode to a JSON object: %w", err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}

// NormalizeValue converts a single field value into its JSON-normalized form.
func NormalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Row is a keyed document body.
type Row struct {
	Key    string
	Fields Fields
}

// Document returns a store.Document that decodes the row through its json tags.
func (r Row) Document() (store.Document, error) {
	raw, err := json.Marshal(r.Fields)
	if err != nil {
		return nil, err
	}
	return NewDocument(r.Key, raw), nil
}

type document struct {
	key string
	raw []byte
}

func NewDocument(key string, raw []byte) store.Document {
	return document{key: key, raw: raw}
}

func (d document) Key() string {
	return d.key
}

func (d document) DataTo(v any) error {
	return json.Unmarshal(d.raw, v)
}

// Apply filters, orders and limits rows the way the query asks.
func Apply(q store.Query, rows []Row) ([]Row, error) {
	preds := make([]store.Predicate, 0, len(q.Where))
	for _, p := range q.Where {
		v, err := NormalizeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("predicate %s: %w", p.Field, err)
		}
		preds = append(preds, store.Predicate{Field: p.Field, Op: p.Op, Value: v})
	}

	var out []Row
	for _, r := range rows {
		ok, err := r.Fields.Match(preds)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}

	if len(q.OrderBy) > 0 {
		slices.SortStableFunc(out, func(a, b Row) int {
			for _, o := range q.OrderBy {
				c := Compare(a.Fields[o.Field], b.Fields[o.Field])
				if o.Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Match reports whether the body satisfies every (already normalized) predicate.
// A missing field never matches.
func (f Fields) Match(preds []store.Predicate) (bool, error) {
	for _, p := range preds {
		v, ok := f[p.Field]
		if !ok {
			return false, nil
		}
		match, err := matchOne(v, p.Op, p.Value)
		if err != nil {
			return false, err
		}
		if !match {
			return false, nil
		}
	}
	return true, nil
}

func matchOne(v any, op store.Op, want any) (bool, error) {
	switch op {
	case store.OpEqual:
		return Equal(v, want), nil
	case store.OpLess:
		return sameKind(v, want) && Compare(v, want) < 0, nil
	case store.OpLessEqual:
		return sameKind(v, want) && Compare(v, want) <= 0, nil
	case store.OpGreater:
		return sameKind(v, want) && Compare(v, want) > 0, nil
	case store.OpGreaterEqual:
		return sameKind(v, want) && Compare(v, want) >= 0, nil
	case store.OpIn:
		options, ok := want.([]any)
		if !ok {
			return false, fmt.Errorf("operator in needs an array, got %T", want)
		}
		return slices.ContainsFunc(options, func(o any) bool { return Equal(v, o) }), nil
	case store.OpArrayContains:
		arr, ok := v.([]any)
		if !ok {
			return false, nil
		}
		return slices.ContainsFunc(arr, func(e any) bool { return Equal(e, want) }), nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// Equal is structural equality of normalized values.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func sameKind(a, b any) bool {
	return rank(a) == rank(b)
}

// rank orders values of different types: null < bool < number < timestamp < string < other.
func rank(v any) int {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		if _, ok := parseTime(x); ok {
			return 3
		}
		return 4
	}
	return 5
}

// Compare orders two normalized values. Timestamps encoded as RFC 3339 strings compare as times.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		y := b.(string)
		if ra == 3 {
			tx, _ := parseTime(x)
			ty, _ := parseTime(y)
			return tx.Compare(ty)
		}
		return strings.Compare(x, y)
	}
	return 0
}

func parseTime(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02T15:04:05Z") || s[4] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

// SetField applies a scalar value or a store.ArrayOp to one field.
func (f Fields) SetField(field string, value any) error {
	op, ok := value.(store.ArrayOp)
	if !ok {
		v, err := NormalizeValue(value)
		if err != nil {
			return err
		}
		f[field] = v
		return nil
	}

	elems := make([]any, 0, len(op.Elems))
	for _, e := range op.Elems {
		v, err := NormalizeValue(e)
		if err != nil {
			return err
		}
		elems = append(elems, v)
	}
	current, _ := f[field].([]any)
	current = slices.Clone(current)

	switch op.Kind {
	case store.ArrayUnionOp:
		for _, e := range elems {
			if !slices.ContainsFunc(current, func(c any) bool { return Equal(c, e) }) {
				current = append(current, e)
			}
		}
	case store.ArrayRemoveOp:
		current = slices.DeleteFunc(current, func(c any) bool {
			return slices.ContainsFunc(elems, func(e any) bool { return Equal(c, e) })
		})
	default:
		return fmt.Errorf("unknown array operation %d", op.Kind)
	}
	if current == nil {
		current = []any{}
	}
	f[field] = current
	return nil
}
