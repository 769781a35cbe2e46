package pgstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/klipach/picchu/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{name: "connection failure", err: &pq.Error{Code: "08006"}, wantTransient: true},
		{name: "too many connections", err: &pq.Error{Code: "53300"}, wantTransient: true},
		{name: "admin shutdown", err: &pq.Error{Code: "57P01"}, wantTransient: true},
		{name: "unique violation", err: &pq.Error{Code: "23505"}},
		{name: "bad connection", err: driver.ErrBadConn, wantTransient: true},
		{name: "deadline", err: context.DeadlineExceeded, wantTransient: true},
		{name: "other", err: errors.New("syntax")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.wantTransient, store.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, classify(nil))
}

func TestSelectQuery(t *testing.T) {
	tests := []struct {
		name         string
		q            store.Query
		expectedSQL  string
		expectedArgs []any
	}{
		{
			name:         "whole collection",
			q:            store.Query{Collection: "users"},
			expectedSQL:  `SELECT key, data FROM documents WHERE collection = $1 ORDER BY created_at, key`,
			expectedArgs: []any{"users"},
		},
		{
			name: "direction",
			q: store.Query{
				Collection: "messages",
				Where: []store.Predicate{
					store.Where("sender", store.OpEqual, "a"),
					store.Where("receiver", store.OpEqual, "b"),
				},
			},
			expectedSQL:  `SELECT key, data FROM documents WHERE collection = $1 AND data->>$2::text = $3 AND data->>$4::text = $5 ORDER BY created_at, key`,
			expectedArgs: []any{"messages", "sender", "a", "receiver", "b"},
		},
		{
			name: "membership",
			q: store.Query{
				Collection: "messages",
				Where:      []store.Predicate{store.Where("sender", store.OpIn, []any{"a", "b"})},
			},
			expectedSQL:  `SELECT key, data FROM documents WHERE collection = $1 AND data->>$2::text = ANY($3::text[]) ORDER BY created_at, key`,
			expectedArgs: []any{"messages", "sender", pq.Array([]string{"a", "b"})},
		},
		{
			name: "non-string predicates stay in process",
			q: store.Query{
				Collection: "users",
				Where: []store.Predicate{
					store.Where("points", store.OpEqual, 3),
					store.Where("username", store.OpGreaterEqual, "an"),
					store.Where("badges", store.OpIn, []any{"x", 1}),
				},
			},
			expectedSQL:  `SELECT key, data FROM documents WHERE collection = $1 ORDER BY created_at, key`,
			expectedArgs: []any{"users"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := selectQuery(tt.q)
			assert.Equal(t, tt.expectedSQL, sql)
			assert.Equal(t, tt.expectedArgs, args)
		})
	}
}
