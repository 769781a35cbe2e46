package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassifyFirestore(t *testing.T) {
	plain := errors.New("boom")
	tests := []struct {
		name          string
		err           error
		wantNotFound  bool
		wantTransient bool
	}{
		{name: "nil", err: nil},
		{name: "not found", err: status.Error(codes.NotFound, "no doc"), wantNotFound: true},
		{name: "unavailable", err: status.Error(codes.Unavailable, "down"), wantTransient: true},
		{name: "deadline", err: status.Error(codes.DeadlineExceeded, "slow"), wantTransient: true},
		{name: "permission denied", err: status.Error(codes.PermissionDenied, "no")},
		{name: "plain error", err: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyFirestore(tt.err)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantNotFound, IsNotFound(err))
			assert.Equal(t, tt.wantTransient, IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, stopped(ctx, iterator.Done))
	assert.True(t, stopped(ctx, status.Error(codes.Canceled, "stop")))
	assert.False(t, stopped(ctx, status.Error(codes.Unavailable, "down")))
	cancel()
	assert.True(t, stopped(ctx, status.Error(codes.Unavailable, "down")))
}

func TestArrayOps(t *testing.T) {
	union := ArrayUnion("a", "b")
	assert.Equal(t, ArrayUnionOp, union.Kind)
	assert.Equal(t, []any{"a", "b"}, union.Elems)

	remove := ArrayRemove("a")
	assert.Equal(t, ArrayRemoveOp, remove.Kind)
	assert.Equal(t, []any{"a"}, remove.Elems)
}

func TestFirestoreSubscriptionStopOnlyCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// no iterator: Stop must leave it to the goroutine blocked in Next
	sub := &firestoreSubscription{cancel: cancel, out: make(chan Snapshot)}

	assert.NotPanics(t, sub.Stop)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.NotPanics(t, sub.Stop)
}
