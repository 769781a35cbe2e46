package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/log"
	"github.com/klipach/picchu/store"
)

// Side is one direction of a conversation as seen by the current user.
type Side int

const (
	Sent Side = iota
	Received
)

func (s Side) String() string {
	if s == Sent {
		return "sent"
	}
	return "received"
}

// TranscriptFunc receives every merged transcript. Returning an error stops the merge.
type TranscriptFunc func(ctx context.Context, messages []contract.Message) error

// Transcript caches the latest result set of each side.
type Transcript struct {
	sides [2][]contract.Message
}

// Replace swaps the cached messages of side for msgs.
func (t *Transcript) Replace(side Side, msgs []contract.Message) {
	t.sides[side] = msgs
}

// Messages returns both sides ordered by timestamp, oldest first. Messages without
// a timestamp come last; equal timestamps keep sent before received.
func (t *Transcript) Messages() []contract.Message {
	out := make([]contract.Message, 0, len(t.sides[Sent])+len(t.sides[Received]))
	out = append(out, t.sides[Sent]...)
	out = append(out, t.sides[Received]...)
	slices.SortStableFunc(out, compareTimestamp)
	return out
}

func compareTimestamp(a, b contract.Message) int {
	switch {
	case a.Timestamp == nil && b.Timestamp == nil:
		return 0
	case a.Timestamp == nil:
		return 1
	case b.Timestamp == nil:
		return -1
	}
	return a.Timestamp.Compare(*b.Timestamp)
}

type Merger struct {
	ds store.DocumentStore
}

func NewMerger(ds store.DocumentStore) *Merger {
	return &Merger{ds: ds}
}

// Watch publishes the transcript between me and peer until ctx is done or publish fails.
func (m *Merger) Watch(ctx context.Context, me, peer string, publish TranscriptFunc) error {
	sent, err := m.ds.Subscribe(ctx, directionQuery(me, peer))
	if err != nil {
		return fmt.Errorf("subscribe to sent messages: %w", err)
	}
	received, err := m.ds.Subscribe(ctx, directionQuery(peer, me))
	if err != nil {
		sent.Stop()
		return fmt.Errorf("subscribe to received messages: %w", err)
	}
	return Merge(ctx, sent, received, publish)
}

func directionQuery(from, to string) store.Query {
	return store.Query{
		Collection: contract.MessagesCollection,
		Where: []store.Predicate{
			store.Where(contract.FieldSender, store.OpEqual, from),
			store.Where(contract.FieldReceiver, store.OpEqual, to),
		},
	}
}

// Merge folds the snapshots of both subscriptions into one transcript and publishes it
// after every snapshot. A failing side keeps its last-known messages while the other
// side goes on updating. Both subscriptions are stopped on return.
func Merge(ctx context.Context, sent, received store.Subscription, publish TranscriptFunc) error {
	defer sent.Stop()
	defer received.Stop()

	logger := log.LoggerFromContext(ctx)
	var transcript Transcript
	inputs := [2]<-chan store.Snapshot{sent.Snapshots(), received.Snapshots()}

	for inputs[Sent] != nil || inputs[Received] != nil {
		var (
			side Side
			snap store.Snapshot
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok = <-inputs[Sent]:
			side = Sent
		case snap, ok = <-inputs[Received]:
			side = Received
		}
		if !ok {
			logger.DebugContext(ctx, "message subscription closed", slog.String("side", side.String()))
			inputs[side] = nil
			continue
		}
		if snap.Err != nil {
			logger.WarnContext(ctx, "message subscription failed, keeping last-known messages",
				slog.String("side", side.String()),
				slog.Any(log.ErrorMsgLogField, snap.Err),
			)
			continue
		}

		transcript.Replace(side, decodeMessages(ctx, snap.Docs))
		if err := publish(ctx, transcript.Messages()); err != nil {
			return err
		}
	}
	return nil
}

// decodeMessages skips documents that do not decode.
func decodeMessages(ctx context.Context, docs []store.Document) []contract.Message {
	msgs := make([]contract.Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := decodeMessage(doc)
		if err != nil {
			log.LoggerFromContext(ctx).WarnContext(ctx, "skipping malformed message",
				slog.String("id", doc.Key()),
				slog.Any(log.ErrorMsgLogField, err),
			)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func decodeMessage(doc store.Document) (contract.Message, error) {
	var msg contract.Message
	if err := doc.DataTo(&msg); err != nil {
		return contract.Message{}, err
	}
	msg.ID = doc.Key()
	return msg, nil
}
