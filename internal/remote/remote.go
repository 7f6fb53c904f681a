// Package remote describes the hosted platform the client is a view over:
// a document store with realtime listeners, an auth service, blob storage
// and a position source. Production adapters live in internal/firebase and
// the in-memory backend in internal/store.
package remote

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"local.dev/socialdemo-sync/internal/geo"
)

// Collection names of the persisted layout.
const (
	Users     = "users"
	Posts     = "posts"
	UserChats = "userchats"
	Chats     = "chats"
)

// Target is anything a listener can be attached to.
type Target interface {
	Key() string
}

// Ref addresses one document.
type Ref struct {
	Collection string
	ID         string
}

// Doc builds a document reference.
func Doc(collection, id string) Ref { return Ref{Collection: collection, ID: id} }

func (r Ref) Path() string { return r.Collection + "/" + r.ID }

func (r Ref) Key() string { return "doc:" + r.Path() }

// Filter is a single equality/comparison clause.
type Filter struct {
	Field string
	Op    string // "==", "!=", "<", "<=", ">", ">=", "array-contains"
	Value any
}

// Query is a collection query.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Where returns a copy of q with one more filter.
func (q Query) Where(field, op string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Key() string {
	var b strings.Builder
	b.WriteString("query:")
	b.WriteString(q.Collection)
	fs := append([]Filter(nil), q.Filters...)
	sort.Slice(fs, func(i, j int) bool { return fs[i].Field+fs[i].Op < fs[j].Field+fs[j].Op })
	for _, f := range fs {
		fmt.Fprintf(&b, "|%s%s%v", f.Field, f.Op, f.Value)
	}
	if q.OrderBy != "" {
		fmt.Fprintf(&b, "|order:%s:%t", q.OrderBy, q.Descending)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "|limit:%d", q.Limit)
	}
	return b.String()
}

// Record is a raw document as delivered by the store.
type Record struct {
	ID         string
	Data       map[string]any
	UpdateTime time.Time
}

// Snapshot is the full result set of a target at one point in time. For a
// document target Records holds zero (missing) or one record.
type Snapshot struct {
	Records  []Record
	Version  uint64
	ReadTime time.Time
}

// OpKind selects how a FieldOp is applied.
type OpKind int

const (
	OpSet OpKind = iota
	OpArrayUnion
	OpArrayRemove
	OpServerTime
	OpDelete
)

// FieldOp is one field mutation inside an atomic Update.
type FieldOp struct {
	Path   string
	Kind   OpKind
	Value  any
	Values []any
}

func SetField(path string, v any) FieldOp { return FieldOp{Path: path, Kind: OpSet, Value: v} }

func ArrayUnion(path string, vs ...any) FieldOp {
	return FieldOp{Path: path, Kind: OpArrayUnion, Values: vs}
}

func ArrayRemove(path string, vs ...any) FieldOp {
	return FieldOp{Path: path, Kind: OpArrayRemove, Values: vs}
}

func ServerTime(path string) FieldOp { return FieldOp{Path: path, Kind: OpServerTime} }

func DeleteField(path string) FieldOp { return FieldOp{Path: path, Kind: OpDelete} }

// Tx is the read-modify-write view of a transaction. Reads must happen
// before writes.
type Tx interface {
	Get(ref Ref) (Record, bool, error)
	Set(ref Ref, data map[string]any, merge bool) error
	Update(ref Ref, ops ...FieldOp) error
}

// DocStore is the document database.
type DocStore interface {
	// Get returns errs.ErrNotFound when the document does not exist.
	Get(ctx context.Context, ref Ref) (Record, error)
	Query(ctx context.Context, q Query) ([]Record, error)
	// Listen delivers full snapshots of target, in source order, on a
	// goroutine owned by the store. The initial snapshot is delivered too.
	// onErr receives transport failures; the listener keeps retrying
	// unless the error is permanent. The returned func stops delivery.
	Listen(target Target, onSnap func(Snapshot), onErr func(error)) (cancel func())
	NewRef(collection string) Ref
	Set(ctx context.Context, ref Ref, data map[string]any, merge bool) error
	// Update applies every op atomically in one round trip.
	Update(ctx context.Context, ref Ref, ops ...FieldOp) error
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Session is an authenticated identity.
type Session struct {
	UserID  string
	Email   string
	IDToken string
}

// Auth is the credential service.
type Auth interface {
	SignUp(ctx context.Context, email, password string) (string, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context) error
	// OnSessionChange calls fn on every session transition, starting with
	// the restored session (nil when signed out).
	OnSessionChange(fn func(*Session)) (cancel func())
}

// BlobRef names an uploaded object.
type BlobRef struct {
	Bucket string
	Path   string
}

// Blobs is the file storage.
type Blobs interface {
	Upload(ctx context.Context, path string, r io.Reader, contentType string) (BlobRef, error)
	PublicURL(ctx context.Context, ref BlobRef) (string, error)
}

// Locator is the device position source.
type Locator interface {
	Current(ctx context.Context) (geo.Point, error)
	Watch(ctx context.Context, fn func(geo.Point, error)) (cancel func())
}
