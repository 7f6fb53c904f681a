// Package firebase adapts Cloud Firestore, Firebase Auth and Cloud
// Storage to the remote interfaces.
package firebase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// DocStore is remote.DocStore over Firestore.
type DocStore struct {
	client *firestore.Client
}

func NewDocStore(client *firestore.Client) *DocStore {
	return &DocStore{client: client}
}

func (d *DocStore) doc(ref remote.Ref) *firestore.DocumentRef {
	return d.client.Collection(ref.Collection).Doc(ref.ID)
}

func (d *DocStore) Get(ctx context.Context, ref remote.Ref) (remote.Record, error) {
	snap, err := d.doc(ref).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return remote.Record{}, errs.NotFound("%s", ref.Path())
		}
		return remote.Record{}, errs.Classify(err, "get "+ref.Path())
	}
	return toRecord(snap), nil
}

func (d *DocStore) query(q remote.Query) firestore.Query {
	fq := d.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, f.Op, f.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func (d *DocStore) Query(ctx context.Context, q remote.Query) ([]remote.Record, error) {
	iter := d.query(q).Documents(ctx)
	defer iter.Stop()
	var out []remote.Record
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errs.Classify(err, "query "+q.Collection)
		}
		out = append(out, toRecord(snap))
	}
	return out, nil
}

func (d *DocStore) NewRef(collection string) remote.Ref {
	return remote.Doc(collection, d.client.Collection(collection).NewDoc().ID)
}

func (d *DocStore) Set(ctx context.Context, ref remote.Ref, data map[string]any, merge bool) error {
	var err error
	if merge {
		_, err = d.doc(ref).Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = d.doc(ref).Set(ctx, data)
	}
	return errs.Classify(err, "set "+ref.Path())
}

func (d *DocStore) Update(ctx context.Context, ref remote.Ref, ops ...remote.FieldOp) error {
	_, err := d.doc(ref).Update(ctx, toUpdates(ops))
	return errs.Classify(err, "update "+ref.Path())
}

func (d *DocStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx remote.Tx) error) error {
	err := d.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &txn{d: d, tx: tx})
	})
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.Classify(err, "transaction")
}

type txn struct {
	d  *DocStore
	tx *firestore.Transaction
}

func (t *txn) Get(ref remote.Ref) (remote.Record, bool, error) {
	snap, err := t.tx.Get(t.d.doc(ref))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return remote.Record{ID: ref.ID}, false, nil
		}
		return remote.Record{}, false, err
	}
	return toRecord(snap), true, nil
}

func (t *txn) Set(ref remote.Ref, data map[string]any, merge bool) error {
	if merge {
		return t.tx.Set(t.d.doc(ref), data, firestore.MergeAll)
	}
	return t.tx.Set(t.d.doc(ref), data)
}

func (t *txn) Update(ref remote.Ref, ops ...remote.FieldOp) error {
	return t.tx.Update(t.d.doc(ref), toUpdates(ops))
}

func toRecord(snap *firestore.DocumentSnapshot) remote.Record {
	return remote.Record{ID: snap.Ref.ID, Data: snap.Data(), UpdateTime: snap.UpdateTime}
}

func toUpdates(ops []remote.FieldOp) []firestore.Update {
	out := make([]firestore.Update, 0, len(ops))
	for _, op := range ops {
		u := firestore.Update{Path: op.Path}
		switch op.Kind {
		case remote.OpArrayUnion:
			u.Value = firestore.ArrayUnion(op.Values...)
		case remote.OpArrayRemove:
			u.Value = firestore.ArrayRemove(op.Values...)
		case remote.OpServerTime:
			u.Value = firestore.ServerTimestamp
		case remote.OpDelete:
			u.Value = firestore.Delete
		default:
			u.Value = op.Value
		}
		out = append(out, u)
	}
	return out
}

// Listen runs a snapshot iterator on its own goroutine and restarts it
// with backoff after transient failures.
func (d *DocStore) Listen(target remote.Target, onSnap func(remote.Snapshot), onErr func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var version atomic.Uint64
	var once sync.Once

	go func() {
		backoff := minBackoff
		for {
			err := d.listenOnce(ctx, target, &version, onSnap, func() { backoff = minBackoff })
			if ctx.Err() != nil {
				return
			}
			if onErr != nil {
				onErr(errs.Classify(err, "listen "+target.Key()))
			}
			if permanent(err) {
				jww.ERROR.Printf("listener %s stopped: %v", target.Key(), err)
				return
			}
			jww.WARN.Printf("listener %s: %v, retrying in %s", target.Key(), err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
	return func() { once.Do(cancel) }
}

func (d *DocStore) listenOnce(ctx context.Context, target remote.Target, version *atomic.Uint64,
	onSnap func(remote.Snapshot), healthy func()) error {
	switch t := target.(type) {
	case remote.Ref:
		it := d.doc(t).Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				return err
			}
			healthy()
			out := remote.Snapshot{Version: version.Add(1), ReadTime: snap.ReadTime}
			if snap.Exists() {
				out.Records = []remote.Record{toRecord(snap)}
			}
			onSnap(out)
		}
	case remote.Query:
		it := d.query(t).Snapshots(ctx)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return err
			}
			healthy()
			docs, err := qs.Documents.GetAll()
			if err != nil {
				return err
			}
			out := remote.Snapshot{Version: version.Add(1), ReadTime: qs.ReadTime}
			out.Records = make([]remote.Record, 0, len(docs))
			for _, doc := range docs {
				out.Records = append(out.Records, toRecord(doc))
			}
			onSnap(out)
		}
	default:
		return errors.Wrapf(errs.ErrValidation, "unsupported listen target %T", target)
	}
}

func permanent(err error) bool {
	switch status.Code(errors.Cause(err)) {
	case codes.PermissionDenied, codes.InvalidArgument, codes.Unauthenticated, codes.NotFound:
		return true
	}
	return errs.KindOf(err) == errs.KindValidation
}
