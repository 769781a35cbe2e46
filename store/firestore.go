package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is the DocumentStore backed by Cloud Firestore.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

type firestoreDocument struct {
	snap *firestore.DocumentSnapshot
}

func (d firestoreDocument) Key() string {
	return d.snap.Ref.ID
}

func (d firestoreDocument) DataTo(v any) error {
	return d.snap.DataTo(v)
}

func (f *Firestore) Get(ctx context.Context, collection, key string) (Document, error) {
	snap, err := f.client.Collection(collection).Doc(key).Get(ctx)
	if err != nil {
		return nil, classifyFirestore(err)
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	return firestoreDocument{snap: snap}, nil
}

func (f *Firestore) Query(ctx context.Context, q Query) ([]Document, error) {
	snaps, err := f.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, classifyFirestore(err)
	}
	return wrapSnapshots(snaps), nil
}

func (f *Firestore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &firestoreSubscription{
		it:     f.query(q).Snapshots(ctx),
		cancel: cancel,
		out:    make(chan Snapshot),
	}
	go sub.run(ctx)
	return sub, nil
}

func (f *Firestore) Update(ctx context.Context, collection, key, field string, value any) error {
	if op, ok := value.(ArrayOp); ok {
		switch op.Kind {
		case ArrayUnionOp:
			value = firestore.ArrayUnion(op.Elems...)
		case ArrayRemoveOp:
			value = firestore.ArrayRemove(op.Elems...)
		}
	}
	_, err := f.client.Collection(collection).Doc(key).Update(ctx, []firestore.Update{
		{Path: field, Value: value},
	})
	return classifyFirestore(err)
}

func (f *Firestore) Set(ctx context.Context, collection, key string, data any) error {
	_, err := f.client.Collection(collection).Doc(key).Set(ctx, data)
	return classifyFirestore(err)
}

func (f *Firestore) Add(ctx context.Context, collection string, data any) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", classifyFirestore(err)
	}
	return ref.ID, nil
}

func (f *Firestore) query(q Query) firestore.Query {
	fq := f.client.Collection(q.Collection).Query
	for _, p := range q.Where {
		fq = fq.Where(p.Field, string(p.Op), p.Value)
	}
	for _, o := range q.OrderBy {
		dir := firestore.Asc
		if o.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(o.Field, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

type firestoreSubscription struct {
	it     *firestore.QuerySnapshotIterator
	cancel context.CancelFunc
	out    chan Snapshot
}

func (s *firestoreSubscription) Snapshots() <-chan Snapshot {
	return s.out
}

// Stop cancels the listener. The iterator itself is stopped by run, which owns Next.
func (s *firestoreSubscription) Stop() {
	s.cancel()
}

func (s *firestoreSubscription) run(ctx context.Context) {
	defer close(s.out)
	defer s.it.Stop()
	for {
		qs, err := s.it.Next()
		if err != nil {
			if stopped(ctx, err) {
				return
			}
			// the iterator is unusable after an error
			s.send(ctx, Snapshot{Err: classifyFirestore(err)})
			return
		}
		snaps, err := qs.Documents.GetAll()
		if err != nil {
			if !s.send(ctx, Snapshot{Err: classifyFirestore(err)}) {
				return
			}
			continue
		}
		if !s.send(ctx, Snapshot{Docs: wrapSnapshots(snaps)}) {
			return
		}
	}
}

func (s *firestoreSubscription) send(ctx context.Context, snap Snapshot) bool {
	select {
	case s.out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled
}

func wrapSnapshots(snaps []*firestore.DocumentSnapshot) []Document {
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, firestoreDocument{snap: snap})
	}
	return docs
}

// classifyFirestore maps gRPC status codes onto ErrNotFound and ErrTransient.
func classifyFirestore(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
