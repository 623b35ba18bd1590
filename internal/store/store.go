// Package store defines the transactional document store the ticket engine
// runs on, plus an in-memory engine and a Postgres (JSONB) engine.
//
// Documents are addressed by Ref and normalised to JSON shapes on write, so
// every engine hands back maps, slices, strings, float64 and bool values.
// Transactions buffer their writes and apply them atomically on commit; a
// commit fails with ErrConflict when any document the transaction read has
// changed since it was read.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	// ErrConflict signals a concurrent modification detected at commit.
	ErrConflict = errors.New("store: transaction conflict")
	// ErrNotFound is returned when updating a document that does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrReadAfterWrite is returned when a transaction reads a document it
	// has already written.
	ErrReadAfterWrite = errors.New("store: read after write in transaction")
)

// Ref addresses a document.
type Ref struct {
	Collection string
	ID         string
}

// Doc builds a Ref.
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Child addresses a document in a subcollection of r.
func (r Ref) Child(collection, id string) Ref {
	return Ref{Collection: r.ChildCollection(collection), ID: id}
}

// ChildCollection returns the collection path of a subcollection of r.
func (r Ref) ChildCollection(collection string) string {
	return r.Collection + "/" + r.ID + "/" + collection
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Document is a JSON-shaped record.
type Document map[string]any

// Snapshot is a point-in-time read of a document.
type Snapshot struct {
	Ref     Ref
	Data    Document
	Exists  bool
	Version int64
}

// DataTo decodes the snapshot into v.
func (s Snapshot) DataTo(v any) error {
	return Decode(s.Data, v)
}

// Filter is an equality predicate on a dot path.
type Filter struct {
	Path  string
	Value any
}

// Where builds an equality filter.
func Where(path string, value any) Filter {
	return Filter{Path: path, Value: value}
}

// ChangeKind describes a committed write.
type ChangeKind string

const (
	ChangeSet    ChangeKind = "set"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is delivered to subscribers after a commit.
type Change struct {
	Ref  Ref        `json:"ref"`
	Kind ChangeKind `json:"kind"`
}

// Tx is the transactional view handed to RunTransaction callbacks. Reads
// must come before writes.
type Tx interface {
	Get(ctx context.Context, ref Ref) (Snapshot, error)
	Set(ref Ref, doc Document) error
	Update(ref Ref, fields map[string]any) error
	Delete(ref Ref) error
}

// Store is the document store contract.
type Store interface {
	NewID() string
	Get(ctx context.Context, ref Ref) (Snapshot, error)
	Set(ctx context.Context, ref Ref, doc Document) error
	Update(ctx context.Context, ref Ref, fields map[string]any) error
	Delete(ctx context.Context, ref Ref) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Subscribe(ctx context.Context, collection string, fn func(Change)) (cancel func(), err error)
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's commit time when written.
var ServerTimestamp any = serverTimestamp{}

// Encode converts a typed value into a Document.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return doc, nil
}

// Decode converts a Document into a typed value.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

// FormatTimestamp renders t the way the store persists timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opDelete
)

type writeOp struct {
	kind   opKind
	ref    Ref
	doc    Document
	fields map[string]any
}

func (op writeOp) changeKind() ChangeKind {
	switch op.kind {
	case opSet:
		return ChangeSet
	case opUpdate:
		return ChangeUpdate
	default:
		return ChangeDelete
	}
}

// applyOp computes the state of a document after op. It never mutates
// current.
func applyOp(current Document, exists bool, op writeOp, now time.Time) (Document, bool, error) {
	switch op.kind {
	case opSet:
		doc, err := normalizeDocument(resolve(op.doc, now))
		if err != nil {
			return nil, false, err
		}
		return doc, true, nil
	case opUpdate:
		if !exists {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, op.ref)
		}
		next := copyDocument(current)
		for path, value := range op.fields {
			normalized, err := normalize(resolve(value, now))
			if err != nil {
				return nil, false, err
			}
			setPath(next, path, normalized)
		}
		return next, true, nil
	default:
		return nil, false, nil
	}
}

// resolve replaces ServerTimestamp sentinels anywhere in maps and slices.
func resolve(v any, now time.Time) any {
	switch val := v.(type) {
	case serverTimestamp:
		return FormatTimestamp(now)
	case Document:
		out := make(Document, len(val))
		for k, item := range val {
			out[k] = resolve(item, now)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = resolve(item, now)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolve(item, now)
		}
		return out
	default:
		return v
	}
}

func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: normalize: %w", err)
	}
	return out, nil
}

func normalizeDocument(v any) (Document, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]any)
	if !ok {
		if n == nil {
			return Document{}, nil
		}
		return nil, fmt.Errorf("store: document must be an object, got %T", n)
	}
	return Document(m), nil
}

func copyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	return Document(copyValue(map[string]any(doc)).(map[string]any))
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case Document:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// setPath writes value at a dot path, creating intermediate objects.
func setPath(doc Document, path string, value any) {
	parts := strings.Split(path, ".")
	current := map[string]any(doc)
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// getPath reads the value at a dot path.
func getPath(doc Document, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = map[string]any(doc)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matches(doc Document, filters []Filter) (bool, error) {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false, err
		}
		got, ok := getPath(doc, f.Path)
		if !ok || !reflect.DeepEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}
