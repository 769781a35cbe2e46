// Package mongostore is a DocumentStore on MongoDB. Each collection maps to a Mongo collection
// keyed by _id; live subscriptions re-run their query on every change stream event.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/klipach/picchu/log"
	"github.com/klipach/picchu/store"
)

const idField = "_id"

type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, classify(err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, classify(err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type document struct {
	key string
	raw bson.Raw
}

func (d document) Key() string {
	return d.key
}

func (d document) DataTo(v any) error {
	return bson.Unmarshal(d.raw, v)
}

func newDocument(raw bson.Raw) (store.Document, error) {
	id, err := raw.LookupErr(idField)
	if err != nil {
		return nil, fmt.Errorf("document without %s: %w", idField, err)
	}
	key, ok := id.StringValueOK()
	if !ok {
		return nil, fmt.Errorf("document %s is not a string", idField)
	}
	return document{key: key, raw: raw}, nil
}

func (m *Mongo) Get(ctx context.Context, collection, key string) (store.Document, error) {
	raw, err := m.db.Collection(collection).FindOne(ctx, bson.M{idField: key}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, store.ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return newDocument(raw)
}

func (m *Mongo) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	opts := options.Find()
	if sort := buildSort(q.OrderBy); len(sort) > 0 {
		opts.SetSort(sort)
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := m.db.Collection(q.Collection).Find(ctx, buildFilter(q.Where), opts)
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)

	var docs []store.Document
	for cur.Next(ctx) {
		// cur.Current is reused by the next call to Next
		d, err := newDocument(append(bson.Raw(nil), cur.Current...))
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, classify(cur.Err())
}

func (m *Mongo) Update(ctx context.Context, collection, key, field string, value any) error {
	var update bson.M
	switch v := value.(type) {
	case store.ArrayOp:
		switch v.Kind {
		case store.ArrayUnionOp:
			update = bson.M{"$addToSet": bson.M{field: bson.M{"$each": v.Elems}}}
		case store.ArrayRemoveOp:
			// $pullAll removes every element equal to one of the given values
			update = bson.M{"$pullAll": bson.M{field: v.Elems}}
		default:
			return fmt.Errorf("unknown array operation %d", v.Kind)
		}
	default:
		update = bson.M{"$set": bson.M{field: value}}
	}

	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{idField: key}, update)
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, key, store.ErrNotFound)
	}
	return nil
}

func (m *Mongo) Set(ctx context.Context, collection, key string, data any) error {
	doc, err := withID(key, data)
	if err != nil {
		return err
	}
	_, err = m.db.Collection(collection).ReplaceOne(ctx, bson.M{idField: key}, doc, options.Replace().SetUpsert(true))
	return classify(err)
}

func (m *Mongo) Add(ctx context.Context, collection string, data any) (string, error) {
	key := primitive.NewObjectID().Hex()
	doc, err := withID(key, data)
	if err != nil {
		return "", err
	}
	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", classify(err)
	}
	return key, nil
}

// withID encodes data through its bson tags and sets _id to key.
func withID(key string, data any) (bson.D, error) {
	raw, err := bson.Marshal(data)
	if err != nil {
		return nil, err
	}
	var fields bson.D
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	doc := bson.D{{Key: idField, Value: key}}
	for _, e := range fields {
		if e.Key != idField {
			doc = append(doc, e)
		}
	}
	return doc, nil
}

func (m *Mongo) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := m.db.Collection(q.Collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, classify(err)
	}
	s := &subscription{
		m:      m,
		q:      q,
		stream: stream,
		cancel: cancel,
		out:    make(chan store.Snapshot),
	}
	go s.run(ctx)
	return s, nil
}

type subscription struct {
	m      *Mongo
	q      store.Query
	stream *mongo.ChangeStream
	cancel context.CancelFunc
	out    chan store.Snapshot
}

func (s *subscription) Snapshots() <-chan store.Snapshot {
	return s.out
}

func (s *subscription) Stop() {
	s.cancel()
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.out)
	defer s.stream.Close(context.WithoutCancel(ctx))

	if !s.deliver(ctx) {
		return
	}
	for s.stream.Next(ctx) {
		if !s.deliver(ctx) {
			return
		}
	}
	if err := s.stream.Err(); err != nil && ctx.Err() == nil {
		log.LoggerFromContext(ctx).Error("change stream closed",
			slog.String("collection", s.q.Collection),
			slog.String(log.ErrorMsgLogField, err.Error()),
		)
		s.send(ctx, store.Snapshot{Err: classify(err)})
	}
}

func (s *subscription) deliver(ctx context.Context) bool {
	docs, err := s.m.Query(ctx, s.q)
	if ctx.Err() != nil {
		return false
	}
	return s.send(ctx, store.Snapshot{Docs: docs, Err: err})
}

func (s *subscription) send(ctx context.Context, snap store.Snapshot) bool {
	select {
	case s.out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

var operators = map[store.Op]string{
	store.OpEqual:         "$eq",
	store.OpLess:          "$lt",
	store.OpLessEqual:     "$lte",
	store.OpGreater:       "$gt",
	store.OpGreaterEqual:  "$gte",
	store.OpIn:            "$in",
	store.OpArrayContains: "$elemMatch",
}

// buildFilter merges predicates on the same field into one operator document.
func buildFilter(preds []store.Predicate) bson.M {
	filter := bson.M{}
	for _, p := range preds {
		ops, ok := filter[p.Field].(bson.M)
		if !ok {
			ops = bson.M{}
			filter[p.Field] = ops
		}
		op := operators[p.Op]
		if p.Op == store.OpArrayContains {
			ops[op] = bson.M{"$eq": p.Value}
			continue
		}
		ops[op] = p.Value
	}
	return filter
}

func buildSort(orders []store.Order) bson.D {
	var sort bson.D
	for _, o := range orders {
		dir := 1
		if o.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: o.Field, Value: dir})
	}
	return sort
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}
