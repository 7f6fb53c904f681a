package engine

import (
	"local.dev/socialdemo-sync/internal/remote"
)

// Releaser is anything the coordinator can tear down when the value it is
// keyed on changes.
type Releaser interface {
	Release()
}

// Owner groups the subscriptions of one mounted view so they can be
// released together at unmount. Mutation queues bound to a released owner
// discard their completions.
type Owner struct {
	name      string
	subs      *Subscriptions
	handles   []*Handle
	onRelease []func()
	released  bool
}

func (s *Subscriptions) NewOwner(name string) *Owner {
	return &Owner{name: name, subs: s}
}

func (o *Owner) Name() string { return o.name }

// Subscribe is Subscriptions.Subscribe recorded against o. Subscribing on
// a released owner returns a closed handle.
func (o *Owner) Subscribe(target remote.Target, pred Predicate,
	onChange func(remote.Snapshot), onError func(error)) *Handle {
	if o.released {
		return &Handle{closed: true, key: subscriptionKey(target, pred)}
	}
	h := o.subs.Subscribe(target, pred, onChange, onError)
	o.handles = append(o.handles, h)
	return h
}

// Unsubscribe releases one handle early.
func (o *Owner) Unsubscribe(h *Handle) {
	o.subs.Unsubscribe(h)
	for i, x := range o.handles {
		if x == h {
			o.handles = append(o.handles[:i], o.handles[i+1:]...)
			return
		}
	}
}

// OnRelease registers fn to run when o is released.
func (o *Owner) OnRelease(fn func()) { o.onRelease = append(o.onRelease, fn) }

// Release synchronously releases every handle of o. Idempotent.
func (o *Owner) Release() {
	if o.released {
		return
	}
	o.released = true
	for _, h := range o.handles {
		o.subs.Unsubscribe(h)
	}
	o.handles = nil
	for _, fn := range o.onRelease {
		fn()
	}
	o.onRelease = nil
}

func (o *Owner) Released() bool { return o.released }
