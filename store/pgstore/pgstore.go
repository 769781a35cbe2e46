// Package pgstore keeps documents as JSONB rows in Postgres.
// Live subscriptions re-run their query on every NOTIFY for the collection.
package pgstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/klipach/picchu/log"
	"github.com/klipach/picchu/store"
	"github.com/klipach/picchu/store/jsondoc"
)

const (
	dbDriver      = "postgres"
	notifyChannel = "documents"

	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
)

var schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key TEXT NOT NULL,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
);`

type row struct {
	Key  string `db:"key"`
	Data []byte `db:"data"`
}

type Postgres struct {
	db  *sqlx.DB
	dsn string
}

// Open connects and creates the documents table when missing.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, dbDriver, dsn)
	if err != nil {
		return nil, classify(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{db: db, dsn: dsn}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Get(ctx context.Context, collection, key string) (store.Document, error) {
	var r row
	err := p.db.GetContext(ctx, &r, `SELECT key, data FROM documents WHERE collection = $1 AND key = $2`, collection, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, store.ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return jsondoc.NewDocument(r.Key, r.Data), nil
}

// Query narrows the scan in SQL with the string equality and membership predicates,
// then evaluates the full query, order and limit in process.
func (p *Postgres) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	query, args := selectQuery(q)
	var rows []row
	err := p.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, classify(err)
	}

	decoded := make([]jsondoc.Row, 0, len(rows))
	for _, r := range rows {
		var f jsondoc.Fields
		if err := json.Unmarshal(r.Data, &f); err != nil {
			return nil, fmt.Errorf("%s/%s: %w", q.Collection, r.Key, err)
		}
		decoded = append(decoded, jsondoc.Row{Key: r.Key, Fields: f})
	}
	matched, err := jsondoc.Apply(q, decoded)
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

// selectQuery builds a scan that returns a superset of the rows matching q.
// Only predicates on string values are pushed down; ->> compares their text form exactly.
func selectQuery(q store.Query) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT key, data FROM documents WHERE collection = $1`)
	args := []any{q.Collection}
	for _, pred := range q.Where {
		switch pred.Op {
		case store.OpEqual:
			v, ok := pred.Value.(string)
			if !ok {
				continue
			}
			args = append(args, pred.Field, v)
			fmt.Fprintf(&sb, ` AND data->>$%d::text = $%d`, len(args)-1, len(args))
		case store.OpIn:
			values, ok := stringValues(pred.Value)
			if !ok {
				continue
			}
			args = append(args, pred.Field, pq.Array(values))
			fmt.Fprintf(&sb, ` AND data->>$%d::text = ANY($%d::text[])`, len(args)-1, len(args))
		}
	}
	sb.WriteString(` ORDER BY created_at, key`)
	return sb.String(), args
}

func stringValues(v any) ([]string, bool) {
	switch vs := v.(type) {
	case []string:
		return vs, true
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Update locks the row, applies the mutation and notifies subscribers in one transaction.
func (p *Postgres) Update(ctx context.Context, collection, key, field string, value any) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	var data []byte
	err = tx.GetContext(ctx, &data, `SELECT data FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`, collection, key)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, key, store.ErrNotFound)
	}
	if err != nil {
		return classify(err)
	}

	var f jsondoc.Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if err := f.SetField(field, value); err != nil {
		return err
	}
	data, err = json.Marshal(f)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = $3, updated_at = now() WHERE collection = $1 AND key = $2`, collection, key, data); err != nil {
		return classify(err)
	}
	if err := notify(ctx, tx, collection); err != nil {
		return err
	}
	return classify(tx.Commit())
}

func (p *Postgres) Set(ctx context.Context, collection, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.upsert(ctx, collection, key, raw)
}

func (p *Postgres) Add(ctx context.Context, collection string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	return key, p.upsert(ctx, collection, key, raw)
}

func (p *Postgres) upsert(ctx context.Context, collection, key string, data []byte) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, key, data)
	if err != nil {
		return classify(err)
	}
	if err := notify(ctx, tx, collection); err != nil {
		return err
	}
	return classify(tx.Commit())
}

func notify(ctx context.Context, tx *sqlx.Tx, collection string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection)
	return classify(err)
}

func (p *Postgres) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	logger := log.LoggerFromContext(ctx)
	listener := pq.NewListener(p.dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error("postgres listener event", slog.Int("event", int(ev)), slog.String(log.ErrorMsgLogField, err.Error()))
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, classify(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		p:        p,
		q:        q,
		listener: listener,
		cancel:   cancel,
		out:      make(chan store.Snapshot),
	}
	go s.run(ctx)
	return s, nil
}

type subscription struct {
	p        *Postgres
	q        store.Query
	listener *pq.Listener
	cancel   context.CancelFunc
	out      chan store.Snapshot
}

func (s *subscription) Snapshots() <-chan store.Snapshot {
	return s.out
}

func (s *subscription) Stop() {
	s.cancel()
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.out)
	defer s.listener.Close()

	if !s.deliver(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.listener.Notify:
			// nil after a reconnect: notifications may have been missed, so re-query
			if n != nil && n.Extra != s.q.Collection {
				continue
			}
			if !s.deliver(ctx) {
				return
			}
		}
	}
}

func (s *subscription) deliver(ctx context.Context) bool {
	docs, err := s.p.Query(ctx, s.q)
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.out <- store.Snapshot{Docs: docs, Err: err}:
		return true
	case <-ctx.Done():
		return false
	}
}

// classify marks connection-level failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 53: insufficient resources, 57: operator intervention
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}
