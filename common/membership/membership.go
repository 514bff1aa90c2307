package membership

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/topology"
	"github.com/meridiandb/placement/utils/latestonlychannel"
)

type RegistryOptions struct {
	Logger     *zap.Logger
	EtcdClient *clientv3.Client
	KeyPrefix  string
}

// Registry tracks the live placement nodes through etcd. Each node registers
// its host entry under a lease; when a node dies, the lease expires and the
// entry disappears, so watching the registry yields the current host set.
type Registry struct {
	logger     *zap.Logger
	etcdClient *clientv3.Client
	keyPrefix  string
}

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("an etcd client must be provided")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		logger:     logger,
		etcdClient: opts.EtcdClient,
		keyPrefix:  opts.KeyPrefix + "/hosts/",
	}, nil
}

type JoinOptions struct {
	// LeasePeriod controls how long after a node dies its entry lingers.
	// etcd enforces a 5 second minimum.
	LeasePeriod time.Duration
}

// Join registers a host in the registry and returns its registration, which
// must be kept alive for as long as the node serves.
func (r *Registry) Join(ctx context.Context, host topology.Host, opts JoinOptions) (*Registration, error) {
	leasePeriod := 5 * time.Second
	if opts.LeasePeriod != 0 {
		if opts.LeasePeriod < 5*time.Second {
			return nil, errors.New("lease period must be at least 5 seconds")
		}
		leasePeriod = opts.LeasePeriod
	}

	reg := &Registration{
		logger:      r.logger,
		etcdClient:  r.etcdClient,
		key:         r.keyPrefix + string(host.ID),
		leasePeriod: leasePeriod,
		host:        host,
	}

	if err := reg.join(ctx); err != nil {
		return nil, err
	}

	r.logger.Info("joined the host registry",
		zap.String("host", string(host.ID)),
		zap.String("endpoint", host.Endpoint.HostPort()))

	return reg, nil
}

// Hosts returns the currently registered hosts and the etcd revision the
// listing was taken at.
func (r *Registry) Hosts(ctx context.Context) ([]topology.Host, int64, error) {
	resp, err := r.etcdClient.KV.Get(ctx, r.keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list registered hosts")
	}

	hosts := make([]topology.Host, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		host, err := topology.DecodeHost(kv.Value)
		if err != nil {
			return nil, 0, err
		}
		hosts = append(hosts, host)
	}

	return hosts, resp.Header.Revision, nil
}

// WatchHosts emits the full host set whenever a node joins, leaves, or
// updates its entry. The channel carries only the latest set; slow consumers
// skip intermediate states.
func (r *Registry) WatchHosts(ctx context.Context) (<-chan []topology.Host, error) {
	entries := make(map[string]topology.Host)

	resp, err := r.etcdClient.KV.Get(ctx, r.keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list registered hosts")
	}
	for _, kv := range resp.Kvs {
		host, err := topology.DecodeHost(kv.Value)
		if err != nil {
			return nil, err
		}
		entries[string(kv.Key)] = host
	}

	outputCh := make(chan []topology.Host)

	emit := func() bool {
		hosts := make([]topology.Host, 0, len(entries))
		for _, h := range entries {
			hosts = append(hosts, h)
		}
		select {
		case outputCh <- hosts:
			return true
		case <-ctx.Done():
			return false
		}
	}

	watchCh := r.etcdClient.Watcher.Watch(ctx, r.keyPrefix,
		clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))

	go func() {
		defer close(outputCh)

		if !emit() {
			return
		}

		for watchResp := range watchCh {
			if err := watchResp.Err(); err != nil {
				r.logger.Warn("host registry watch failed", zap.Error(err))
				return
			}

			for _, evt := range watchResp.Events {
				switch evt.Type {
				case mvccpb.PUT:
					host, err := topology.DecodeHost(evt.Kv.Value)
					if err != nil {
						// a malformed entry is a node bug; keep the previous
						// state for that key.
						r.logger.Error("failed to decode a host entry", zap.Error(err))
						continue
					}
					entries[string(evt.Kv.Key)] = host
				case mvccpb.DELETE:
					delete(entries, string(evt.Kv.Key))
				}
			}

			if !emit() {
				return
			}
		}
	}()

	return latestonlychannel.Wrap(outputCh), nil
}

// Registration is one node's live entry in the registry. The entry stays
// visible for as long as the underlying lease is kept alive.
type Registration struct {
	logger      *zap.Logger
	etcdClient  *clientv3.Client
	key         string
	leasePeriod time.Duration
	host        topology.Host

	leaseID clientv3.LeaseID
}

func (reg *Registration) join(ctx context.Context) error {
	lease, err := reg.etcdClient.Lease.Grant(ctx, int64(reg.leasePeriod/time.Second))
	if err != nil {
		return errors.Wrap(err, "failed to grant a registry lease")
	}
	reg.leaseID = lease.ID

	// keep-alive must outlive the join call
	kaCh, err := reg.etcdClient.Lease.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return errors.Wrap(err, "failed to keep the registry lease alive")
	}

	go func() {
		for range kaCh {
		}
		reg.logger.Warn("lost the host registry lease",
			zap.String("host", string(reg.host.ID)))
	}()

	return reg.put(ctx)
}

func (reg *Registration) put(ctx context.Context) error {
	data, err := topology.EncodeHost(reg.host)
	if err != nil {
		return err
	}

	_, err = reg.etcdClient.KV.Put(ctx, reg.key, string(data), clientv3.WithLease(reg.leaseID))
	if err != nil {
		return errors.Wrap(err, "failed to register the host entry")
	}
	return nil
}

// UpdateState republishes the entry with a new lifecycle state, e.g. when
// the node starts draining before decommission.
func (reg *Registration) UpdateState(ctx context.Context, state cluster.HostState) error {
	reg.host.State = state
	return reg.put(ctx)
}

// Leave removes the entry immediately rather than waiting for lease expiry.
func (reg *Registration) Leave(ctx context.Context) error {
	_, err := reg.etcdClient.KV.Delete(ctx, reg.key)
	if err != nil {
		return errors.Wrap(err, "failed to remove the host entry")
	}
	return nil
}
