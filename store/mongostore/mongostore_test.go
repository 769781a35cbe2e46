package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/store"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name     string
		preds    []store.Predicate
		expected bson.M
	}{
		{
			name:     "no predicates",
			preds:    nil,
			expected: bson.M{},
		},
		{
			name: "two equality fields",
			preds: []store.Predicate{
				store.Where("sender", store.OpEqual, "u1"),
				store.Where("receiver", store.OpEqual, "u2"),
			},
			expected: bson.M{
				"sender":   bson.M{"$eq": "u1"},
				"receiver": bson.M{"$eq": "u2"},
			},
		},
		{
			name: "range on one field merges",
			preds: []store.Predicate{
				store.Where("username", store.OpGreaterEqual, "ann"),
				store.Where("username", store.OpLessEqual, "ann"),
			},
			expected: bson.M{
				"username": bson.M{"$gte": "ann", "$lte": "ann"},
			},
		},
		{
			name: "in and array-contains",
			preds: []store.Predicate{
				store.Where("sender", store.OpIn, []string{"a", "b"}),
				store.Where("friends", store.OpArrayContains, "c"),
			},
			expected: bson.M{
				"sender":  bson.M{"$in": []string{"a", "b"}},
				"friends": bson.M{"$elemMatch": bson.M{"$eq": "c"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildFilter(tt.preds))
		})
	}
}

func TestBuildSort(t *testing.T) {
	assert.Nil(t, buildSort(nil))
	assert.Equal(t,
		bson.D{{Key: "timestamp", Value: -1}, {Key: "sender", Value: 1}},
		buildSort([]store.Order{{Field: "timestamp", Desc: true}, {Field: "sender"}}),
	)
}

func TestWithID(t *testing.T) {
	doc, err := withID("a@x", contract.FriendRequest{From: "b@x", Status: contract.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "_id", Value: "a@x"},
		{Key: "from", Value: "b@x"},
		{Key: "status", Value: "pending"},
	}, doc)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	d, err := newDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, "a@x", d.Key())

	var req contract.FriendRequest
	require.NoError(t, d.DataTo(&req))
	assert.Equal(t, contract.FriendRequest{From: "b@x", Status: contract.StatusPending}, req)
}
