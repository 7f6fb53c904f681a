package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/metrics"
)

// DefaultMutationTimeout bounds one remote write.
const DefaultMutationTimeout = 10 * time.Second

// ErrUnmounted is returned for mutations applied to a released view.
var ErrUnmounted = errors.New("view unmounted")

// Outcome is the final state of a pending mutation.
type Outcome int

const (
	InFlight Outcome = iota
	Committed
	RolledBack
	Superseded
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	case Superseded:
		return "superseded"
	case Discarded:
		return "discarded"
	default:
		return "in_flight"
	}
}

// Pending is a handle on one optimistic mutation.
type Pending struct {
	ID      string
	Key     string
	Kind    string
	done    chan struct{}
	err     error
	outcome Outcome
}

func newPending(id, key, kind string) *Pending {
	return &Pending{ID: id, Key: key, Kind: kind, done: make(chan struct{})}
}

// Done is closed once the remote write has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err is the remote error, valid after Done is closed.
func (p *Pending) Err() error { return p.err }

// Outcome is valid after Done is closed.
func (p *Pending) Outcome() Outcome { return p.outcome }

// Wait blocks until the mutation settles or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pending) finish(err error, o Outcome) {
	p.err = err
	p.outcome = o
	close(p.done)
}

type entry[T any] struct {
	ov         *overlay[T]
	p          *Pending
	run        func(ctx context.Context) error
	superseded bool
}

// QueueOption configures a MutationQueue.
type QueueOption func(*queueConfig)

type queueConfig struct {
	exec    func(func())
	timeout time.Duration
}

// WithExecutor replaces the goroutine used for remote writes. Tests pass
// Inline to run them synchronously.
func WithExecutor(exec func(func())) QueueOption {
	return func(c *queueConfig) { c.exec = exec }
}

// WithTimeout sets the per-write deadline.
func WithTimeout(d time.Duration) QueueOption {
	return func(c *queueConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Inline runs fn on the calling goroutine.
func Inline(fn func()) { fn() }

func goExec(fn func()) { go fn() }

// MutationQueue applies local changes to a List immediately and confirms
// them against the remote store. Writes sharing a key are sent one at a
// time in issue order.
type MutationQueue[T any] struct {
	loop   *Loop
	list   *List[T]
	owner  *Owner
	cfg    queueConfig
	seq    uint64
	chains map[string][]*entry[T]
}

func NewMutationQueue[T any](loop *Loop, list *List[T], owner *Owner, opts ...QueueOption) *MutationQueue[T] {
	cfg := queueConfig{exec: goExec, timeout: DefaultMutationTimeout}
	for _, o := range opts {
		o(&cfg)
	}
	return &MutationQueue[T]{
		loop:   loop,
		list:   list,
		owner:  owner,
		cfg:    cfg,
		chains: map[string][]*entry[T]{},
	}
}

// Apply layers transform over the list now and sends run to the remote.
// On failure the overlay is removed, which restores the pre-mutation view
// unless a newer mutation on the same key has replaced it. transform must
// be idempotent.
func (q *MutationQueue[T]) Apply(key, kind string, transform func([]T) []T,
	run func(ctx context.Context) error) *Pending {
	q.seq++
	p := newPending(kind+"-"+strconv.FormatUint(q.seq, 10), key, kind)
	if q.owner != nil && q.owner.Released() {
		p.finish(ErrUnmounted, Discarded)
		return p
	}

	for _, prev := range q.chains[key] {
		prev.superseded = true
	}
	e := &entry[T]{
		ov:  &overlay[T]{seq: q.seq, key: key, apply: transform},
		p:   p,
		run: run,
	}
	q.list.push(e.ov)
	q.chains[key] = append(q.chains[key], e)
	metrics.IncMutation(kind, "applied")
	jww.DEBUG.Printf("mutation %s on %s applied locally", p.ID, key)

	if len(q.chains[key]) == 1 {
		q.issue(e)
	}
	return p
}

// ApplyLocal is Apply for a single element. It fails with a NotFound
// error when id is not displayed, and returns the optimistic element.
func (q *MutationQueue[T]) ApplyLocal(id, kind string, transform func(T) T,
	run func(ctx context.Context, before, after T) error) (*Pending, T, error) {
	before, ok := q.list.Get(id)
	if !ok {
		var zero T
		return nil, zero, errs.NotFound("%s %s", kind, id)
	}
	after := transform(before)
	p := q.Apply(id, kind, MapByID(q.list.idOf, id, transform),
		func(ctx context.Context) error { return run(ctx, before, after) })
	return p, after, nil
}

// InFlight reports the number of mutations not yet settled.
func (q *MutationQueue[T]) InFlight() int {
	n := 0
	for _, c := range q.chains {
		n += len(c)
	}
	return n
}

func (q *MutationQueue[T]) issue(e *entry[T]) {
	timeout := q.cfg.timeout
	q.cfg.exec(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := e.run(ctx)
		q.loop.Post(func() { q.complete(e, err) })
	})
}

func (q *MutationQueue[T]) complete(e *entry[T], err error) {
	key := e.p.Key
	chain := q.chains[key]
	if len(chain) > 0 && chain[0] == e {
		chain = chain[1:]
	}
	if len(chain) == 0 {
		delete(q.chains, key)
	} else {
		q.chains[key] = chain
		q.issue(chain[0])
	}

	if err != nil {
		err = errs.Classify(err, e.p.Kind)
	}

	if q.owner != nil && q.owner.Released() {
		metrics.IncMutation(e.p.Kind, Discarded.String())
		jww.DEBUG.Printf("mutation %s settled after unmount, discarded", e.p.ID)
		e.p.finish(err, Discarded)
		return
	}

	if err == nil {
		e.ov.acked = true
		metrics.IncMutation(e.p.Kind, Committed.String())
		jww.DEBUG.Printf("mutation %s committed", e.p.ID)
		e.p.finish(nil, Committed)
		return
	}

	outcome := RolledBack
	if e.superseded {
		outcome = Superseded
	}
	q.list.drop(e.ov)
	metrics.IncMutation(e.p.Kind, outcome.String())
	jww.WARN.Printf("mutation %s failed (%s): %v", e.p.ID, outcome, err)
	e.p.finish(err, outcome)
}
