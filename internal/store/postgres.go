package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying committed changes.
const NotifyChannel = "store_changes"

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// Postgres stores documents as JSONB rows in the documents table. Every
// transaction runs at SERIALIZABLE isolation; serialization failures surface
// as ErrConflict.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	listen func(ctx context.Context) (changeListener, error)

	subMu   sync.Mutex
	subs    map[string]map[int]func(Change)
	nextSub int
	feed    context.CancelFunc
}

// NewPostgres wraps an established pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Postgres{pool: pool, logger: logger, subs: map[string]map[int]func(Change){}}
	p.listen = p.acquireListener
	return p
}

// NewID returns a random document id.
func (p *Postgres) NewID() string {
	return uuid.NewString()
}

// Get reads a document outside any transaction.
func (p *Postgres) Get(ctx context.Context, ref Ref) (Snapshot, error) {
	const query = `SELECT data, version FROM documents WHERE collection=$1 AND id=$2`
	return scanSnapshot(p.pool.QueryRow(ctx, query, ref.Collection, ref.ID), ref)
}

// Set writes a whole document.
func (p *Postgres) Set(ctx context.Context, ref Ref, doc Document) error {
	return p.RunTransaction(ctx, func(_ context.Context, tx Tx) error {
		return tx.Set(ref, doc)
	})
}

// Update applies dot-path field updates to an existing document.
func (p *Postgres) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	return p.RunTransaction(ctx, func(_ context.Context, tx Tx) error {
		return tx.Update(ref, fields)
	})
}

// Delete removes a document.
func (p *Postgres) Delete(ctx context.Context, ref Ref) error {
	return p.RunTransaction(ctx, func(_ context.Context, tx Tx) error {
		return tx.Delete(ref)
	})
}

// Query returns documents in collection matching every filter, ordered by id.
// Filters are compiled to a single JSONB containment predicate.
func (p *Postgres) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	containment := Document{}
	for _, f := range filters {
		value, err := normalize(f.Value)
		if err != nil {
			return nil, err
		}
		setPath(containment, f.Path, value)
	}
	raw, err := json.Marshal(containment)
	if err != nil {
		return nil, fmt.Errorf("store: encode filter: %w", err)
	}

	const query = `
        SELECT id, data, version FROM documents
        WHERE collection=$1 AND data @> $2::jsonb
        ORDER BY id`
	rows, err := p.pool.Query(ctx, query, collection, string(raw))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Snapshot
	for rows.Next() {
		var (
			id      string
			data    []byte
			version int64
		)
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("store: decode %s/%s: %w", collection, id, err)
		}
		result = append(result, Snapshot{
			Ref:     Ref{Collection: collection, ID: id},
			Data:    doc,
			Exists:  true,
			Version: version,
		})
	}
	return result, rows.Err()
}

// RunTransaction runs fn inside a SERIALIZABLE transaction and applies its
// buffered writes before committing.
func (p *Postgres) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapPgError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ptx := &pgTx{tx: tx, written: map[Ref]struct{}{}}
	if err := fn(ctx, ptx); err != nil {
		return mapPgError(err)
	}
	if err := ptx.flush(ctx); err != nil {
		return mapPgError(err)
	}
	return mapPgError(tx.Commit(ctx))
}

// Subscribe registers fn for changes to collection. All subscribers share one
// LISTEN connection, opened by the first subscriber and released when the
// last one leaves.
func (p *Postgres) Subscribe(ctx context.Context, collection string, fn func(Change)) (func(), error) {
	p.subMu.Lock()
	if p.feed == nil {
		conn, err := p.listen(ctx)
		if err != nil {
			p.subMu.Unlock()
			return nil, err
		}
		feedCtx, stop := context.WithCancel(context.Background())
		p.feed = stop
		go p.runFeed(feedCtx, conn)
	}
	id := p.nextSub
	p.nextSub++
	if p.subs[collection] == nil {
		p.subs[collection] = map[int]func(Change){}
	}
	p.subs[collection][id] = fn
	p.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.subMu.Lock()
			defer p.subMu.Unlock()
			delete(p.subs[collection], id)
			if len(p.subs[collection]) == 0 {
				delete(p.subs, collection)
			}
			if len(p.subs) == 0 && p.feed != nil {
				p.feed()
				p.feed = nil
			}
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return cancel, nil
}

// changeListener is a connection with LISTEN active.
type changeListener interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type poolListener struct {
	*pgxpool.Conn
}

func (l poolListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return l.Conn.Conn().WaitForNotification(ctx)
}

// Release stops listening before handing the connection back to the pool.
func (l poolListener) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = l.Conn.Exec(ctx, "UNLISTEN *")
	l.Conn.Release()
}

func (p *Postgres) acquireListener(ctx context.Context) (changeListener, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, err
	}
	return poolListener{Conn: conn}, nil
}

// runFeed pumps notifications to subscribers and reconnects until ctx ends.
func (p *Postgres) runFeed(ctx context.Context, conn changeListener) {
	for conn != nil {
		err := p.pump(ctx, conn)
		conn.Release()
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("store change feed interrupted", zap.Error(err))
		conn = p.relisten(ctx)
	}
}

// relisten retries listen once a second until it succeeds or ctx ends, in
// which case it returns nil.
func (p *Postgres) relisten(ctx context.Context) changeListener {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
		conn, err := p.listen(ctx)
		if err == nil {
			return conn
		}
		p.logger.Warn("store change feed reconnect failed", zap.Error(err))
	}
}

func (p *Postgres) pump(ctx context.Context, conn changeListener) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var change Change
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			p.logger.Warn("invalid store change payload", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		p.dispatch(change)
	}
}

func (p *Postgres) dispatch(change Change) {
	p.subMu.Lock()
	handlers := make([]func(Change), 0, len(p.subs[change.Ref.Collection]))
	for _, fn := range p.subs[change.Ref.Collection] {
		handlers = append(handlers, fn)
	}
	p.subMu.Unlock()
	for _, fn := range handlers {
		fn(change)
	}
}

type pgTx struct {
	tx      pgx.Tx
	written map[Ref]struct{}
	writes  []writeOp
}

func (t *pgTx) Get(ctx context.Context, ref Ref) (Snapshot, error) {
	if _, ok := t.written[ref]; ok {
		return Snapshot{}, ErrReadAfterWrite
	}
	const query = `SELECT data, version FROM documents WHERE collection=$1 AND id=$2 FOR UPDATE`
	return scanSnapshot(t.tx.QueryRow(ctx, query, ref.Collection, ref.ID), ref)
}

func (t *pgTx) Set(ref Ref, doc Document) error {
	t.written[ref] = struct{}{}
	t.writes = append(t.writes, writeOp{kind: opSet, ref: ref, doc: copyDocument(doc)})
	return nil
}

func (t *pgTx) Update(ref Ref, fields map[string]any) error {
	t.written[ref] = struct{}{}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = copyValue(v)
	}
	t.writes = append(t.writes, writeOp{kind: opUpdate, ref: ref, fields: copied})
	return nil
}

func (t *pgTx) Delete(ref Ref) error {
	t.written[ref] = struct{}{}
	t.writes = append(t.writes, writeOp{kind: opDelete, ref: ref})
	return nil
}

func (t *pgTx) flush(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}
	var now time.Time
	if err := t.tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return err
	}

	type staged struct {
		data   Document
		exists bool
		loaded bool
	}
	next := map[Ref]*staged{}
	order := make([]Ref, 0, len(t.writes))
	for _, op := range t.writes {
		st, ok := next[op.ref]
		if !ok {
			st = &staged{}
			next[op.ref] = st
			order = append(order, op.ref)
		}
		if op.kind == opUpdate && !st.loaded {
			const query = `SELECT data, version FROM documents WHERE collection=$1 AND id=$2 FOR UPDATE`
			snap, err := scanSnapshot(t.tx.QueryRow(ctx, query, op.ref.Collection, op.ref.ID), op.ref)
			if err != nil {
				return err
			}
			st.data, st.exists = snap.Data, snap.Exists
		}
		data, exists, err := applyOp(st.data, st.exists, op, now)
		if err != nil {
			return err
		}
		st.data, st.exists, st.loaded = data, exists, true
	}

	for _, ref := range order {
		st := next[ref]
		if st.exists {
			raw, err := json.Marshal(st.data)
			if err != nil {
				return fmt.Errorf("store: encode %s: %w", ref, err)
			}
			const upsert = `
                INSERT INTO documents (collection, id, data, version, updated_at)
                VALUES ($1, $2, $3::jsonb, 1, $4)
                ON CONFLICT (collection, id)
                DO UPDATE SET data=EXCLUDED.data, version=documents.version+1, updated_at=EXCLUDED.updated_at`
			if _, err := t.tx.Exec(ctx, upsert, ref.Collection, ref.ID, string(raw), now); err != nil {
				return err
			}
		} else {
			const del = `DELETE FROM documents WHERE collection=$1 AND id=$2`
			if _, err := t.tx.Exec(ctx, del, ref.Collection, ref.ID); err != nil {
				return err
			}
		}
	}

	for _, op := range t.writes {
		payload, err := json.Marshal(Change{Ref: op.ref, Kind: op.changeKind()})
		if err != nil {
			return err
		}
		if _, err := t.tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
			return err
		}
	}
	return nil
}

func scanSnapshot(row pgx.Row, ref Ref) (Snapshot, error) {
	var (
		data    []byte
		version int64
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{Ref: ref}, nil
		}
		return Snapshot{}, mapPgError(err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("store: decode %s: %w", ref, err)
	}
	return Snapshot{Ref: ref, Data: doc, Exists: true, Version: version}, nil
}

// mapPgError folds Postgres concurrency failures into ErrConflict.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}
