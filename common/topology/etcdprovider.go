package topology

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/meridiandb/placement/utils/latestonlychannel"
)

type EtcdProviderOptions struct {
	Logger     *zap.Logger
	EtcdClient *clientv3.Client
	KeyPrefix  string
}

// EtcdProvider distributes topology snapshots through etcd. The driver
// publishes the encoded snapshot under a single key; followers watch that
// key and install each new version locally.
type EtcdProvider struct {
	logger     *zap.Logger
	etcdClient *clientv3.Client
	snapKey    string
}

var _ Provider = (*EtcdProvider)(nil)

func NewEtcdProvider(opts EtcdProviderOptions) (*EtcdProvider, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("an etcd client must be provided")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EtcdProvider{
		logger:     logger,
		etcdClient: opts.EtcdClient,
		snapKey:    opts.KeyPrefix + "/topology/snapshot",
	}, nil
}

func (p *EtcdProvider) Publish(ctx context.Context, snap *Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = p.etcdClient.Put(ctx, p.snapKey, string(data))
	if err != nil {
		return errors.Wrap(err, "failed to publish topology snapshot")
	}

	p.logger.Debug("published topology snapshot to etcd",
		zap.Uint64("version", snap.Version()),
		zap.Int("bytes", len(data)))

	return nil
}

func (p *EtcdProvider) get(ctx context.Context) (*Snapshot, int64, error) {
	resp, err := p.etcdClient.Get(ctx, p.snapKey)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to fetch topology snapshot")
	}

	if len(resp.Kvs) == 0 {
		return nil, resp.Header.Revision, errors.WithStack(ErrNoPublishedSnapshot)
	}

	snap, err := DecodeSnapshot(resp.Kvs[0].Value)
	if err != nil {
		return nil, 0, err
	}

	return snap, resp.Header.Revision, nil
}

func (p *EtcdProvider) Get(ctx context.Context) (*Snapshot, error) {
	snap, _, err := p.get(ctx)
	return snap, err
}

func (p *EtcdProvider) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	outputCh := make(chan *Snapshot)

	snap, rev, err := p.get(ctx)
	if err != nil && !errors.Is(err, ErrNoPublishedSnapshot) {
		return nil, err
	}

	go func() {
		defer close(outputCh)

		if snap != nil {
			select {
			case outputCh <- snap:
			case <-ctx.Done():
				return
			}
		}

		watchRev := rev + 1
		bo := backoff.NewExponentialBackOff()

		for ctx.Err() == nil {
			watchCh := p.etcdClient.Watch(ctx, p.snapKey, clientv3.WithRev(watchRev))

			for resp := range watchCh {
				if err := resp.Err(); err != nil {
					p.logger.Warn("topology watch failed, will retry", zap.Error(err))
					break
				}
				bo.Reset()

				for _, evt := range resp.Events {
					if !evt.IsCreate() && !evt.IsModify() {
						continue
					}

					newSnap, err := DecodeSnapshot(evt.Kv.Value)
					if err != nil {
						// a malformed snapshot is a driver bug; skip it so a
						// later good publish can still be picked up.
						p.logger.Error("failed to decode topology snapshot", zap.Error(err))
						continue
					}

					watchRev = evt.Kv.ModRevision + 1
					select {
					case outputCh <- newSnap:
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
		}
	}()

	return latestonlychannel.Wrap(outputCh), nil
}
