// Package friend implements the friend request lifecycle on top of users/{email} documents.
//
// A request lives as a {from, status: pending} entry in the receiver's friendRequests array.
// Accepting it touches two user documents with independent updates and no transaction.
package friend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/log"
	"github.com/klipach/picchu/store"
)

var ErrSelfRequest = errors.New("cannot send a friend request to yourself")

// Status is the relation between the current user and another user.
type Status string

const (
	None     Status = "none"
	Pending  Status = Status(contract.StatusPending)
	Accepted Status = Status(contract.StatusAccepted)
)

// Step names one of the updates Accept performs, in order.
type Step string

const (
	StepAddToOwnFriends  Step = "add requester to own friends"
	StepAddToPeerFriends Step = "add self to requester friends"
	StepRemoveRequest    Step = "remove pending request"
)

// PartialFailureError reports an Accept that stopped after at least one update went through.
// Completed updates are not rolled back.
type PartialFailureError struct {
	Completed []Step
	Failed    Step
	Err       error
}

func (e *PartialFailureError) Error() string {
	done := make([]string, 0, len(e.Completed))
	for _, s := range e.Completed {
		done = append(done, string(s))
	}
	return fmt.Sprintf("friend request partially accepted: %q failed after %q: %v",
		e.Failed, strings.Join(done, ", "), e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// PendingRequest is a pending request ready for display.
type PendingRequest struct {
	From        string
	DisplayName string
}

type Machine struct {
	ds store.DocumentStore
}

func New(ds store.DocumentStore) *Machine {
	return &Machine{ds: ds}
}

func pendingFrom(from string) contract.FriendRequest {
	return contract.FriendRequest{From: from, Status: contract.StatusPending}
}

// Send adds a pending request from `from` to the request list of `to`.
// The write is an array union, so repeated sends are deduplicated: sending the same
// request twice leaves a single entry, not two.
func (m *Machine) Send(ctx context.Context, from, to string) error {
	if from == to {
		return ErrSelfRequest
	}
	err := m.ds.Update(ctx, contract.UsersCollection, to, contract.FieldFriendRequests, store.ArrayUnion(pendingFrom(from)))
	if err != nil {
		return fmt.Errorf("send friend request to %s: %w", to, err)
	}
	log.LoggerFromContext(ctx).InfoContext(ctx, "friend request sent",
		slog.String(log.UserLogField, from),
		slog.String(log.PeerLogField, to),
	)
	return nil
}

// Accept makes me and from friends, then drops every pending request from `from`.
// It returns a *PartialFailureError when an update fails after an earlier one succeeded.
func (m *Machine) Accept(ctx context.Context, me, from string) error {
	steps := []struct {
		step  Step
		key   string
		field string
		value any
	}{
		{StepAddToOwnFriends, me, contract.FieldFriends, store.ArrayUnion(from)},
		{StepAddToPeerFriends, from, contract.FieldFriends, store.ArrayUnion(me)},
		{StepRemoveRequest, me, contract.FieldFriendRequests, store.ArrayRemove(pendingFrom(from))},
	}

	completed := make([]Step, 0, len(steps))
	for _, s := range steps {
		if err := m.ds.Update(ctx, contract.UsersCollection, s.key, s.field, s.value); err != nil {
			if len(completed) == 0 {
				return fmt.Errorf("accept friend request from %s: %w", from, err)
			}
			log.LoggerFromContext(ctx).ErrorContext(ctx, "friend request partially accepted",
				slog.String(log.UserLogField, me),
				slog.String(log.PeerLogField, from),
				slog.String("failedStep", string(s.step)),
				slog.Any(log.ErrorMsgLogField, err),
			)
			return &PartialFailureError{Completed: completed, Failed: s.step, Err: err}
		}
		completed = append(completed, s.step)
	}
	return nil
}

// Reject drops every pending request from `from` without touching either friend list.
func (m *Machine) Reject(ctx context.Context, me, from string) error {
	err := m.ds.Update(ctx, contract.UsersCollection, me, contract.FieldFriendRequests, store.ArrayRemove(pendingFrom(from)))
	if err != nil {
		return fmt.Errorf("reject friend request from %s: %w", from, err)
	}
	return nil
}

// Cancel withdraws the pending request me sent to `to`.
func (m *Machine) Cancel(ctx context.Context, me, to string) error {
	err := m.ds.Update(ctx, contract.UsersCollection, to, contract.FieldFriendRequests, store.ArrayRemove(pendingFrom(me)))
	if err != nil {
		return fmt.Errorf("cancel friend request to %s: %w", to, err)
	}
	return nil
}

// Status tells whether me is a friend of other, has a request pending with other, or neither.
func (m *Machine) Status(ctx context.Context, me, other string) (Status, error) {
	user, err := m.user(ctx, other)
	if err != nil {
		return None, err
	}
	if slices.Contains(user.Friends, me) {
		return Accepted, nil
	}
	if slices.Contains(user.FriendRequests, pendingFrom(me)) {
		return Pending, nil
	}
	return None, nil
}

// LoadPending lists the pending requests of me in stored order. Each requester is
// resolved to a username; a failed or empty lookup falls back to the raw id.
func (m *Machine) LoadPending(ctx context.Context, me string) ([]PendingRequest, error) {
	user, err := m.user(ctx, me)
	if err != nil {
		return nil, err
	}

	var pending []PendingRequest
	for _, r := range user.FriendRequests {
		if r.Status == contract.StatusPending {
			pending = append(pending, PendingRequest{From: r.From, DisplayName: r.From})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range pending {
		g.Go(func() error {
			pending[i].DisplayName = m.displayName(gctx, pending[i].From)
			return nil
		})
	}
	_ = g.Wait()
	return pending, nil
}

func (m *Machine) displayName(ctx context.Context, id string) string {
	user, err := m.user(ctx, id)
	if err != nil {
		log.LoggerFromContext(ctx).WarnContext(ctx, "requester lookup failed, showing raw id",
			slog.String(log.PeerLogField, id),
			slog.Any(log.ErrorMsgLogField, err),
		)
		return id
	}
	if user.Username == "" {
		return id
	}
	return user.Username
}

func (m *Machine) user(ctx context.Context, id string) (contract.User, error) {
	doc, err := m.ds.Get(ctx, contract.UsersCollection, id)
	if err != nil {
		return contract.User{}, fmt.Errorf("load user %s: %w", id, err)
	}
	var user contract.User
	if err := doc.DataTo(&user); err != nil {
		return contract.User{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	return user, nil
}
