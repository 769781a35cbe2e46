package friend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/store/memstore"
)

func TestRequests(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	seedUsers(t, mem,
		contract.User{Email: "me", FriendRequests: []contract.FriendRequest{pending("a"), pending("b"), pending("a")}},
		contract.User{Email: "a", Username: "anna"},
		contract.User{Email: "b", Username: "bob"},
	)
	requests := New(mem).Requests("me")
	require.NoError(t, requests.Load(ctx))
	require.Len(t, requests.Items(), 3)

	mem.FailUpdates(contract.UsersCollection, "me", boom)
	assert.ErrorIs(t, requests.Reject(ctx, "b"), boom)
	assert.ErrorIs(t, requests.Accept(ctx, "a"), boom)
	assert.Len(t, requests.Items(), 3)

	mem.FailUpdates(contract.UsersCollection, "me", nil)
	require.NoError(t, requests.Accept(ctx, "a"))
	assert.Equal(t, []PendingRequest{{From: "b", DisplayName: "bob"}}, requests.Items())

	require.NoError(t, requests.Reject(ctx, "b"))
	assert.Empty(t, requests.Items())

	require.NoError(t, requests.Load(ctx))
	assert.Empty(t, requests.Items())
}

func TestRequestsKeepEntryOnPartialAccept(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	seedUsers(t, mem,
		contract.User{Email: "me", FriendRequests: []contract.FriendRequest{pending("a")}},
		contract.User{Email: "a", Username: "anna"},
	)
	requests := New(mem).Requests("me")
	require.NoError(t, requests.Load(ctx))

	mem.FailUpdates(contract.UsersCollection, "a", boom)
	var partial *PartialFailureError
	require.ErrorAs(t, requests.Accept(ctx, "a"), &partial)
	assert.Equal(t, []PendingRequest{{From: "a", DisplayName: "anna"}}, requests.Items())
}
