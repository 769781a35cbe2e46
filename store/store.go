// Package store defines the document store capability the sync core consumes.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrTransient = errors.New("document store unavailable")
)

type Op string

const (
	OpEqual         Op = "=="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

type Predicate struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Predicate {
	return Predicate{Field: field, Op: op, Value: value}
}

type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Collection string
	Where      []Predicate
	OrderBy    []Order
	Limit      int
}

// Document is a single stored record.
type Document interface {
	Key() string
	DataTo(v any) error
}

// Snapshot is one delivery of a live subscription: the complete current result set, or an error.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Subscription re-delivers the full query result on every change until stopped.
// The Snapshots channel is closed after Stop, context cancellation or a terminal error.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Stop()
}

type DocumentStore interface {
	Get(ctx context.Context, collection, key string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query) (Subscription, error)
	// Update applies a single field mutation atomically. value is a scalar or an ArrayOp.
	Update(ctx context.Context, collection, key, field string, value any) error
	Set(ctx context.Context, collection, key string, data any) error
	Add(ctx context.Context, collection string, data any) (string, error)
}

type ArrayOpKind int

const (
	ArrayUnionOp ArrayOpKind = iota
	ArrayRemoveOp
)

// ArrayOp is an atomic array mutation of a single field.
type ArrayOp struct {
	Kind  ArrayOpKind
	Elems []any
}

// ArrayUnion appends the elements not already present in the array.
func ArrayUnion(elems ...any) ArrayOp {
	return ArrayOp{Kind: ArrayUnionOp, Elems: elems}
}

// ArrayRemove deletes every array element equal by value to one of elems.
func ArrayRemove(elems ...any) ArrayOp {
	return ArrayOp{Kind: ArrayRemoveOp, Elems: elems}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
