// Package memstore is an in-process DocumentStore with live subscriptions.
// It is used by tests and by local runs with STORE_BACKEND=memory.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/klipach/picchu/store"
	"github.com/klipach/picchu/store/jsondoc"
)

type docID struct {
	collection string
	key        string
}

type Memory struct {
	mu    sync.Mutex
	docs  map[string]map[string]jsondoc.Fields
	order map[string][]string
	subs  map[string][]*subscription

	failGets    map[docID]error
	failUpdates map[docID]error
	failQueries map[string]error
}

func New() *Memory {
	return &Memory{
		docs:        map[string]map[string]jsondoc.Fields{},
		order:       map[string][]string{},
		subs:        map[string][]*subscription{},
		failGets:    map[docID]error{},
		failUpdates: map[docID]error{},
		failQueries: map[string]error{},
	}
}

// FailGets makes every Get of collection/key return err until cleared with a nil err.
func (m *Memory) FailGets(collection, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	setFault(m.failGets, docID{collection, key}, err)
}

// FailUpdates makes every Update of collection/key return err until cleared with a nil err.
func (m *Memory) FailUpdates(collection, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	setFault(m.failUpdates, docID{collection, key}, err)
}

// FailQueries makes every Query and subscription delivery on collection return err until cleared with a nil err.
func (m *Memory) FailQueries(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failQueries, collection)
		return
	}
	m.failQueries[collection] = err
}

func setFault(faults map[docID]error, id docID, err error) {
	if err == nil {
		delete(faults, id)
		return
	}
	faults[id] = err
}

func (m *Memory) Get(_ context.Context, collection, key string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGets[docID{collection, key}]; err != nil {
		return nil, err
	}
	f, ok := m.docs[collection][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, store.ErrNotFound)
	}
	return jsondoc.Row{Key: key, Fields: f}.Document()
}

func (m *Memory) Query(_ context.Context, q store.Query) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.query(q)
}

// query runs q with m.mu held. Injected query faults apply to subscriptions too.
func (m *Memory) query(q store.Query) ([]store.Document, error) {
	if err := m.failQueries[q.Collection]; err != nil {
		return nil, err
	}
	rows := make([]jsondoc.Row, 0, len(m.order[q.Collection]))
	for _, key := range m.order[q.Collection] {
		rows = append(rows, jsondoc.Row{Key: key, Fields: m.docs[q.Collection][key]})
	}
	matched, err := jsondoc.Apply(q, rows)
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(matched))
	for _, r := range matched {
		d, err := r.Document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (m *Memory) Update(_ context.Context, collection, key, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpdates[docID{collection, key}]; err != nil {
		return err
	}
	current, ok := m.docs[collection][key]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, key, store.ErrNotFound)
	}
	next := clone(current)
	if err := next.SetField(field, value); err != nil {
		return err
	}
	m.docs[collection][key] = next
	m.changed(collection)
	return nil
}

func (m *Memory) Set(_ context.Context, collection, key string, data any) error {
	f, err := jsondoc.Normalize(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, key, f)
	return nil
}

func (m *Memory) Add(_ context.Context, collection string, data any) (string, error) {
	f, err := jsondoc.Normalize(data)
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, key, f)
	return key, nil
}

func (m *Memory) put(collection, key string, f jsondoc.Fields) {
	if m.docs[collection] == nil {
		m.docs[collection] = map[string]jsondoc.Fields{}
	}
	if _, ok := m.docs[collection][key]; !ok {
		m.order[collection] = append(m.order[collection], key)
	}
	m.docs[collection][key] = f
	m.changed(collection)
}

// changed wakes every subscription on the collection. Callers hold m.mu.
func (m *Memory) changed(collection string) {
	for _, s := range m.subs[collection] {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (m *Memory) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		m:      m,
		q:      q,
		out:    make(chan store.Snapshot),
		notify: make(chan struct{}, 1),
		cancel: cancel,
	}
	m.mu.Lock()
	m.subs[q.Collection] = append(m.subs[q.Collection], s)
	m.mu.Unlock()
	go s.run(ctx)
	return s, nil
}

func (m *Memory) unsubscribe(s *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.q.Collection] = slices.DeleteFunc(m.subs[s.q.Collection], func(o *subscription) bool {
		return o == s
	})
}

type subscription struct {
	m      *Memory
	q      store.Query
	out    chan store.Snapshot
	notify chan struct{}
	cancel context.CancelFunc
}

func (s *subscription) Snapshots() <-chan store.Snapshot {
	return s.out
}

func (s *subscription) Stop() {
	s.cancel()
}

// run delivers the current result set, then a fresh one after every change.
// Changes that arrive while a delivery is pending collapse into one snapshot.
func (s *subscription) run(ctx context.Context) {
	defer close(s.out)
	defer s.m.unsubscribe(s)
	for {
		s.m.mu.Lock()
		docs, err := s.m.query(s.q)
		s.m.mu.Unlock()

		select {
		case s.out <- store.Snapshot{Docs: docs, Err: err}:
		case <-ctx.Done():
			return
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		}
	}
}

func clone(f jsondoc.Fields) jsondoc.Fields {
	out := make(jsondoc.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
