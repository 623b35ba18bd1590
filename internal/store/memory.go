package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tallerflow/ticket-service/internal/clock"
)

type memDoc struct {
	data    Document
	version int64
}

// Memory is an in-process Store with optimistic concurrency control. Every
// committed write bumps the document version; a transaction whose read set
// no longer matches at commit fails with ErrConflict.
type Memory struct {
	clock clock.Clock

	mu      sync.Mutex
	docs    map[string]map[string]*memDoc
	version int64

	subMu   sync.RWMutex
	subs    map[string]map[int]func(Change)
	nextSub int
}

// NewMemory builds an empty in-memory store using c for server timestamps.
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.System{}
	}
	return &Memory{
		clock: c,
		docs:  make(map[string]map[string]*memDoc),
		subs:  make(map[string]map[int]func(Change)),
	}
}

// NewID returns a random document id.
func (m *Memory) NewID() string {
	return uuid.NewString()
}

// Get reads a document outside any transaction.
func (m *Memory) Get(_ context.Context, ref Ref) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(ref), nil
}

// Set writes a whole document.
func (m *Memory) Set(ctx context.Context, ref Ref, doc Document) error {
	return m.RunTransaction(ctx, func(_ context.Context, tx Tx) error {
		return tx.Set(ref, doc)
	})
}

// Update applies dot-path field updates to an existing document.
func (m *Memory) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	return m.RunTransaction(ctx, func(_ context.Context, tx Tx) error {
		return tx.Update(ref, fields)
	})
}

// Delete removes a document.
func (m *Memory) Delete(ctx context.Context, ref Ref) error {
	return m.RunTransaction(ctx, func(_ context.Context, tx Tx) error {
		return tx.Delete(ref)
	})
}

// Query returns documents in collection matching every filter, ordered by id.
func (m *Memory) Query(_ context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.docs[collection]))
	for id := range m.docs[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		doc := m.docs[collection][id]
		ok, err := matches(doc.data, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Snapshot{
				Ref:     Ref{Collection: collection, ID: id},
				Data:    copyDocument(doc.data),
				Exists:  true,
				Version: doc.version,
			})
		}
	}
	return out, nil
}

// RunTransaction runs fn once and commits its buffered writes atomically.
// Callers wanting retries wrap it in a RetryPolicy.
func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: m, reads: map[Ref]int64{}, written: map[Ref]struct{}{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	changes, err := m.commit(tx)
	if err != nil {
		return err
	}
	m.notify(changes)
	return nil
}

// Subscribe registers fn for commits touching collection. fn runs on the
// committing goroutine after the store lock is released.
func (m *Memory) Subscribe(ctx context.Context, collection string, fn func(Change)) (func(), error) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[collection] == nil {
		m.subs[collection] = map[int]func(Change){}
	}
	m.subs[collection][id] = fn
	m.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs[collection], id)
			m.subMu.Unlock()
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

func (m *Memory) snapshotLocked(ref Ref) Snapshot {
	doc, ok := m.docs[ref.Collection][ref.ID]
	if !ok {
		return Snapshot{Ref: ref}
	}
	return Snapshot{Ref: ref, Data: copyDocument(doc.data), Exists: true, Version: doc.version}
}

func (m *Memory) commit(tx *memTx) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ref, seen := range tx.reads {
		var current int64
		if doc, ok := m.docs[ref.Collection][ref.ID]; ok {
			current = doc.version
		}
		if current != seen {
			return nil, ErrConflict
		}
	}

	type staged struct {
		data   Document
		exists bool
	}
	now := m.clock.Now()
	next := map[Ref]*staged{}
	order := make([]Ref, 0, len(tx.writes))
	for _, op := range tx.writes {
		cur, ok := next[op.ref]
		if !ok {
			snap := m.snapshotLocked(op.ref)
			cur = &staged{data: snap.Data, exists: snap.Exists}
			next[op.ref] = cur
			order = append(order, op.ref)
		}
		data, exists, err := applyOp(cur.data, cur.exists, op, now)
		if err != nil {
			return nil, err
		}
		cur.data, cur.exists = data, exists
	}

	for _, ref := range order {
		st := next[ref]
		if !st.exists {
			delete(m.docs[ref.Collection], ref.ID)
			continue
		}
		if m.docs[ref.Collection] == nil {
			m.docs[ref.Collection] = map[string]*memDoc{}
		}
		m.version++
		m.docs[ref.Collection][ref.ID] = &memDoc{data: st.data, version: m.version}
	}

	changes := make([]Change, 0, len(tx.writes))
	for _, op := range tx.writes {
		changes = append(changes, Change{Ref: op.ref, Kind: op.changeKind()})
	}
	return changes, nil
}

func (m *Memory) notify(changes []Change) {
	for _, change := range changes {
		m.subMu.RLock()
		handlers := make([]func(Change), 0, len(m.subs[change.Ref.Collection]))
		for _, fn := range m.subs[change.Ref.Collection] {
			handlers = append(handlers, fn)
		}
		m.subMu.RUnlock()
		for _, fn := range handlers {
			fn(change)
		}
	}
}

type memTx struct {
	store   *Memory
	reads   map[Ref]int64
	written map[Ref]struct{}
	writes  []writeOp
}

func (t *memTx) Get(_ context.Context, ref Ref) (Snapshot, error) {
	if _, ok := t.written[ref]; ok {
		return Snapshot{}, ErrReadAfterWrite
	}
	t.store.mu.Lock()
	snap := t.store.snapshotLocked(ref)
	t.store.mu.Unlock()
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = snap.Version
	}
	return snap, nil
}

func (t *memTx) Set(ref Ref, doc Document) error {
	t.written[ref] = struct{}{}
	t.writes = append(t.writes, writeOp{kind: opSet, ref: ref, doc: copyDocument(doc)})
	return nil
}

func (t *memTx) Update(ref Ref, fields map[string]any) error {
	t.written[ref] = struct{}{}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = copyValue(v)
	}
	t.writes = append(t.writes, writeOp{kind: opUpdate, ref: ref, fields: copied})
	return nil
}

func (t *memTx) Delete(ref Ref) error {
	t.written[ref] = struct{}{}
	t.writes = append(t.writes, writeOp{kind: opDelete, ref: ref})
	return nil
}
