package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/log"
	"github.com/klipach/picchu/store"
)

// Conversation summarizes the latest message exchanged with Peer.
// A peer without messages has an empty LastMessage and a nil LastMessageTime.
type Conversation struct {
	Peer            string
	LastMessage     string
	LastMessageTime *time.Time
}

// ConversationsFunc receives the full, sorted conversation list after every change.
type ConversationsFunc func(ctx context.Context, conversations []Conversation) error

// compareRecency orders the most recent conversation first and peers without messages last.
func compareRecency(a, b Conversation) int {
	switch {
	case a.LastMessageTime == nil && b.LastMessageTime == nil:
		return 0
	case a.LastMessageTime == nil:
		return 1
	case b.LastMessageTime == nil:
		return -1
	}
	return b.LastMessageTime.Compare(*a.LastMessageTime)
}

// conversationList keeps entries in arrival order so peers without messages stay in that order.
type conversationList struct {
	entries []Conversation
	index   map[string]int
}

func (l *conversationList) has(peer string) bool {
	_, ok := l.index[peer]
	return ok
}

func (l *conversationList) upsert(c Conversation) {
	if l.index == nil {
		l.index = map[string]int{}
	}
	if i, ok := l.index[c.Peer]; ok {
		l.entries[i] = c
		return
	}
	l.index[c.Peer] = len(l.entries)
	l.entries = append(l.entries, c)
}

func (l *conversationList) sorted() []Conversation {
	out := slices.Clone(l.entries)
	slices.SortStableFunc(out, compareRecency)
	return out
}

type Aggregator struct {
	ds store.DocumentStore
}

func NewAggregator(ds store.DocumentStore) *Aggregator {
	return &Aggregator{ds: ds}
}

// Friends returns the friend list of me.
func (a *Aggregator) Friends(ctx context.Context, me string) ([]string, error) {
	doc, err := a.ds.Get(ctx, contract.UsersCollection, me)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", me, err)
	}
	var user contract.User
	if err := doc.DataTo(&user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", me, err)
	}
	return user.Friends, nil
}

// lastMessageQueries returns the newest-message query of each direction between me and peer,
// indexed by Side.
func lastMessageQueries(me, peer string) [2]store.Query {
	qs := [2]store.Query{Sent: directionQuery(me, peer), Received: directionQuery(peer, me)}
	for i := range qs {
		qs[i].OrderBy = []store.Order{{Field: contract.FieldTimestamp, Desc: true}}
		qs[i].Limit = 1
	}
	return qs
}

// newest returns whichever of a and b carries the later message.
func newest(a, b Conversation) Conversation {
	if compareRecency(a, b) <= 0 {
		return a
	}
	return b
}

// Load queries the last message of every peer concurrently and publishes the sorted
// list each time one peer resolves. A failed direction query contributes no message.
func (a *Aggregator) Load(ctx context.Context, me string, peers []string, publish ConversationsFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Conversation, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		g.Go(func() error {
			results <- a.lastConversation(gctx, me, peer)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var list conversationList
	for conv := range results {
		list.upsert(conv)
		if err := publish(ctx, list.sorted()); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) lastConversation(ctx context.Context, me, peer string) Conversation {
	conv := Conversation{Peer: peer}
	for side, q := range lastMessageQueries(me, peer) {
		docs, err := a.ds.Query(ctx, q)
		if err != nil {
			log.LoggerFromContext(ctx).WarnContext(ctx, "last message query failed",
				slog.String(log.PeerLogField, peer),
				slog.String("side", Side(side).String()),
				slog.Any(log.ErrorMsgLogField, err),
			)
			continue
		}
		conv = newest(conv, conversationFrom(ctx, peer, docs))
	}
	return conv
}

// conversationFrom builds the summary from a last-message result set.
// A message someone sent to themselves is not part of any conversation.
func conversationFrom(ctx context.Context, peer string, docs []store.Document) Conversation {
	conv := Conversation{Peer: peer}
	if len(docs) == 0 {
		return conv
	}
	msg, err := decodeMessage(docs[0])
	if err != nil {
		log.LoggerFromContext(ctx).WarnContext(ctx, "skipping malformed last message",
			slog.String(log.PeerLogField, peer),
			slog.Any(log.ErrorMsgLogField, err),
		)
		return conv
	}
	if msg.Sender == msg.Receiver {
		return conv
	}
	conv.LastMessage = msg.Body
	conv.LastMessageTime = msg.Timestamp
	return conv
}

type peerSnapshot struct {
	peer string
	side Side
	snap store.Snapshot
}

type peerSub struct {
	peer string
	side Side
	sub  store.Subscription
}

// Watch keeps one live last-message subscription per peer and direction and publishes
// the sorted list after every snapshot. A failing direction keeps its last-known message,
// or none if it never delivered. All subscriptions are stopped on return.
func (a *Aggregator) Watch(ctx context.Context, me string, peers []string, publish ConversationsFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := log.LoggerFromContext(ctx)

	var (
		list  conversationList
		subs  []peerSub
		sides = make(map[string]*[2]Conversation, len(peers))
	)
	defer func() {
		for _, s := range subs {
			s.sub.Stop()
		}
	}()
	for _, peer := range peers {
		if _, ok := sides[peer]; ok {
			continue
		}
		sides[peer] = &[2]Conversation{{Peer: peer}, {Peer: peer}}
		for side, q := range lastMessageQueries(me, peer) {
			sub, err := a.ds.Subscribe(ctx, q)
			if err != nil {
				logger.WarnContext(ctx, "last message subscription failed",
					slog.String(log.PeerLogField, peer),
					slog.String("side", Side(side).String()),
					slog.Any(log.ErrorMsgLogField, err),
				)
				list.upsert(Conversation{Peer: peer})
				continue
			}
			subs = append(subs, peerSub{peer: peer, side: Side(side), sub: sub})
		}
	}
	if len(list.entries) > 0 {
		if err := publish(ctx, list.sorted()); err != nil {
			return err
		}
	}

	updates := make(chan peerSnapshot)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		g.Go(func() error {
			for snap := range s.sub.Snapshots() {
				select {
				case updates <- peerSnapshot{peer: s.peer, side: s.side, snap: snap}:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(updates)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			known := sides[u.peer]
			if u.snap.Err != nil {
				logger.WarnContext(ctx, "last message subscription failed",
					slog.String(log.PeerLogField, u.peer),
					slog.String("side", u.side.String()),
					slog.Any(log.ErrorMsgLogField, u.snap.Err),
				)
				if list.has(u.peer) {
					continue
				}
			} else {
				known[u.side] = conversationFrom(ctx, u.peer, u.snap.Docs)
			}
			list.upsert(newest(known[Sent], known[Received]))
			if err := publish(ctx, list.sorted()); err != nil {
				return err
			}
		}
	}
}
