package jsondoc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/store"
)

func rows(t *testing.T, msgs ...contract.Message) []Row {
	t.Helper()
	var out []Row
	for i, m := range msgs {
		f, err := Normalize(m)
		require.NoError(t, err)
		out = append(out, Row{Key: string(rune('a' + i)), Fields: f})
	}
	return out
}

func at(sec int) *time.Time {
	ts := time.Date(2024, 5, 1, 12, 0, sec, 0, time.UTC)
	return &ts
}

func keys(rs []Row) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Key)
	}
	return out
}

func TestApply(t *testing.T) {
	data := rows(t,
		contract.Message{Sender: "u1", Receiver: "u2", Body: "hi", Timestamp: at(1)},
		contract.Message{Sender: "u2", Receiver: "u1", Body: "hey", Timestamp: at(30)},
		contract.Message{Sender: "u1", Receiver: "u3", Body: "yo", Timestamp: at(5)},
		contract.Message{Sender: "u1", Receiver: "u2", Body: "later", Timestamp: at(10)},
	)

	tests := []struct {
		name     string
		query    store.Query
		expected []string
	}{
		{
			name: "equality on two fields",
			query: store.Query{Where: []store.Predicate{
				store.Where("sender", store.OpEqual, "u1"),
				store.Where("receiver", store.OpEqual, "u2"),
			}},
			expected: []string{"a", "d"},
		},
		{
			name: "in on both fields ordered desc with limit",
			query: store.Query{
				Where: []store.Predicate{
					store.Where("sender", store.OpIn, []string{"u1", "u2"}),
					store.Where("receiver", store.OpIn, []string{"u1", "u2"}),
				},
				OrderBy: []store.Order{{Field: "timestamp", Desc: true}},
				Limit:   1,
			},
			expected: []string{"b"},
		},
		{
			name:     "timestamps order as times",
			query:    store.Query{OrderBy: []store.Order{{Field: "timestamp"}}},
			expected: []string{"a", "c", "d", "b"},
		},
		{
			name: "range on timestamp",
			query: store.Query{Where: []store.Predicate{
				store.Where("timestamp", store.OpGreaterEqual, at(5)),
			}},
			expected: []string{"b", "c", "d"},
		},
		{
			name: "no match",
			query: store.Query{Where: []store.Predicate{
				store.Where("sender", store.OpEqual, "nobody"),
			}},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(tt.query, data)
			require.NoError(t, err)
			got := keys(out)
			if tt.name == "range on timestamp" {
				assert.ElementsMatch(t, tt.expected, got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestApplyUsernamePrefix(t *testing.T) {
	var data []Row
	for _, name := range []string{"anna", "annabel", "bob", "ann"} {
		f, err := Normalize(contract.User{Username: name})
		require.NoError(t, err)
		data = append(data, Row{Key: name, Fields: f})
	}
	out, err := Apply(store.Query{Where: []store.Predicate{
		store.Where("username", store.OpGreaterEqual, "anna"),
		store.Where("username", store.OpLessEqual, "anna\uf8ff"),
	}}, data)
	require.NoError(t, err)
	assert.Equal(t, []string{"anna", "annabel"}, keys(out))
}

func TestSetFieldArrayOps(t *testing.T) {
	pending := contract.FriendRequest{From: "x", Status: contract.StatusPending}
	other := contract.FriendRequest{From: "y", Status: contract.StatusPending}

	tests := []struct {
		name     string
		initial  []contract.FriendRequest
		op       store.ArrayOp
		expected []contract.FriendRequest
	}{
		{
			name:     "union appends to missing field",
			initial:  nil,
			op:       store.ArrayUnion(pending),
			expected: []contract.FriendRequest{pending},
		},
		{
			name:     "union skips present element",
			initial:  []contract.FriendRequest{pending},
			op:       store.ArrayUnion(pending),
			expected: []contract.FriendRequest{pending},
		},
		{
			name:     "remove deletes every structural match",
			initial:  []contract.FriendRequest{pending, other, pending},
			op:       store.ArrayRemove(pending),
			expected: []contract.FriendRequest{other},
		},
		{
			name:     "remove ignores other status",
			initial:  []contract.FriendRequest{{From: "x", Status: contract.StatusAccepted}},
			op:       store.ArrayRemove(pending),
			expected: []contract.FriendRequest{{From: "x", Status: contract.StatusAccepted}},
		},
		{
			name:     "remove on missing field leaves empty array",
			initial:  nil,
			op:       store.ArrayRemove(pending),
			expected: []contract.FriendRequest{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Normalize(contract.User{Email: "me", FriendRequests: tt.initial})
			require.NoError(t, err)
			require.NoError(t, f.SetField(contract.FieldFriendRequests, tt.op))

			doc, err := Row{Key: "me", Fields: f}.Document()
			require.NoError(t, err)
			var u contract.User
			require.NoError(t, doc.DataTo(&u))
			assert.Equal(t, tt.expected, u.FriendRequests)
		})
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(nil, nil))
	assert.Negative(t, Compare(nil, "a"))
	assert.Negative(t, Compare(1.0, 2.0))
	assert.Positive(t, Compare("b", "a"))
	assert.Negative(t, Compare("2024-05-01T12:00:05Z", "2024-05-01T12:00:05.5Z"))
	assert.Negative(t, Compare(false, true))
}
