package topology

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type StaticProviderOptions struct {
	Initial *Snapshot
}

// StaticProvider keeps snapshots in process memory. It is used by tests and
// by single-node deployments that have no external coordination store.
type StaticProvider struct {
	lock     sync.Mutex
	current  *Snapshot
	watchers []chan *Snapshot
}

var _ Provider = (*StaticProvider)(nil)

func NewStaticProvider(opts StaticProviderOptions) *StaticProvider {
	return &StaticProvider{
		current: opts.Initial,
	}
}

func (p *StaticProvider) Publish(ctx context.Context, snap *Snapshot) error {
	p.lock.Lock()
	p.current = snap
	watchers := p.watchers
	p.lock.Unlock()

	for _, ch := range watchers {
		// watcher channels hold only the latest snapshot; drop any value
		// the watcher has not consumed yet.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}

	return nil
}

func (p *StaticProvider) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	ch := make(chan *Snapshot, 1)

	p.lock.Lock()
	if p.current != nil {
		ch <- p.current
	}
	p.watchers = append(p.watchers, ch)
	p.lock.Unlock()

	return ch, nil
}

func (p *StaticProvider) Get(ctx context.Context) (*Snapshot, error) {
	p.lock.Lock()
	snap := p.current
	p.lock.Unlock()

	if snap == nil {
		return nil, errors.WithStack(ErrNoPublishedSnapshot)
	}
	return snap, nil
}
