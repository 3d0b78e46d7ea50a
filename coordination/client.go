// Package coordination is the typed wrapper over the external coordination
// store. It owns TTL semantics, compare-and-swap primitives, and cluster-view
// assembly; it never retries internally, leaving cadence to the caller.
package coordination

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"governor/haerr"
)

// CC is the interface the HA decision engine consumes. Production code uses
// Client; tests substitute an in-memory fake.
type CC interface {
	GetCluster(ctx context.Context) (*ClusterView, error)
	TouchMember(ctx context.Context, name, connURL string, ttl time.Duration) bool
	TakeLeader(ctx context.Context, name string, ttl time.Duration) bool
	AttemptAcquireLeader(ctx context.Context, name string, ttl time.Duration) bool
	UpdateLeader(ctx context.Context, name string, lastOperation int64, ttl time.Duration) bool
	Race(ctx context.Context, subkey, value string) bool
	DeleteLeader(ctx context.Context, name string) bool
	DeleteMember(ctx context.Context, name string) bool
}

// Client is a clientv3-backed Coordination Client scoped under one cluster
// namespace prefix.
type Client struct {
	kv    clientv3.KV
	lease clientv3.Lease
	scope string
}

// NewClient dials the given etcd endpoints and builds a Client scoped under
// the cluster-scope prefix (spec.md §6, "P").
func NewClient(endpoints []string, dialTimeout time.Duration, scope string) (*Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("coordination: dial etcd: %w", err)
	}
	return &Client{kv: cli, lease: cli, scope: strings.TrimRight(scope, "/")}, nil
}

// NewClientFromKV allows tests and the embedded-etcd variant to inject an
// already-constructed KV/Lease pair instead of dialing.
func NewClientFromKV(kv clientv3.KV, lease clientv3.Lease, scope string) *Client {
	return &Client{kv: kv, lease: lease, scope: strings.TrimRight(scope, "/")}
}

func (c *Client) key(parts ...string) string {
	return c.scope + "/" + strings.Join(parts, "/")
}

func (c *Client) leaderKey() string  { return c.key("leader") }
func (c *Client) optimeKey() string  { return c.key("optime", "leader") }
func (c *Client) initKey() string    { return c.key("initialize") }
func (c *Client) memberKey(n string) string { return c.key("members", n) }

// GetCluster performs a single recursive read of the cluster namespace and
// projects it into a ClusterView.
func (c *Client) GetCluster(ctx context.Context) (*ClusterView, error) {
	resp, err := c.kv.Get(ctx, c.scope+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", haerr.ErrStoreUnavailable, err)
	}

	view := &ClusterView{Members: make(map[string]Member)}
	var leaderName string
	membersPrefix := c.key("members") + "/"

	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		val := string(kv.Value)
		switch {
		case key == c.initKey():
			view.Initialize = val
		case key == c.leaderKey():
			leaderName = val
		case key == c.optimeKey():
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				view.LastLeaderOperation = n
			}
		case strings.HasPrefix(key, membersPrefix):
			name := strings.TrimPrefix(key, membersPrefix)
			view.Members[name] = Member{Name: name, ConnURL: val}
		}
	}

	if leaderName != "" {
		if m, ok := view.Members[leaderName]; ok {
			view.Leader = &m
		}
		// else: leader key names a member absent from the live set — a
		// stale/expired lease. View reports leader = nil (invariant I3).
	}

	return view, nil
}

// TouchMember is an idempotent upsert of the per-member key with the given
// TTL, backed by an etcd lease.
func (c *Client) TouchMember(ctx context.Context, name, connURL string, ttl time.Duration) bool {
	grant, err := c.lease.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		log.Printf("coordination: touch_member lease grant failed for %s: %v", name, err)
		return false
	}
	_, err = c.kv.Put(ctx, c.memberKey(name), connURL, clientv3.WithLease(grant.ID))
	if err != nil {
		log.Printf("coordination: touch_member put failed for %s: %v", name, err)
		return false
	}
	return true
}

// TakeLeader unconditionally sets the leader key with a TTL. Used only
// immediately after winning Race("/initialize", ...); other callers must use
// AttemptAcquireLeader.
func (c *Client) TakeLeader(ctx context.Context, name string, ttl time.Duration) bool {
	grant, err := c.lease.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		log.Printf("coordination: take_leader lease grant failed: %v", err)
		return false
	}
	_, err = c.kv.Put(ctx, c.leaderKey(), name, clientv3.WithLease(grant.ID))
	if err != nil {
		log.Printf("coordination: take_leader put failed: %v", err)
		return false
	}
	return true
}

// AttemptAcquireLeader performs a compare-and-set on absence of the leader
// key. Returns true only when this call created the key.
func (c *Client) AttemptAcquireLeader(ctx context.Context, name string, ttl time.Duration) bool {
	grant, err := c.lease.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		log.Printf("coordination: attempt_to_acquire_leader lease grant failed: %v", err)
		return false
	}

	txn := c.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(c.leaderKey()), "=", 0)).
		Then(clientv3.OpPut(c.leaderKey(), name, clientv3.WithLease(grant.ID)))
	resp, err := txn.Commit()
	if err != nil {
		log.Printf("coordination: attempt_to_acquire_leader txn failed: %v", err)
		return false
	}
	return resp.Succeeded
}

// UpdateLeader compare-and-sets the leader key guarded by previous value =
// name, refreshing its TTL, and writes last_operation under the optime key
// best-effort.
func (c *Client) UpdateLeader(ctx context.Context, name string, lastOperation int64, ttl time.Duration) bool {
	grant, err := c.lease.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		log.Printf("coordination: update_leader lease grant failed: %v", err)
		return false
	}

	txn := c.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(c.leaderKey()), "=", name)).
		Then(clientv3.OpPut(c.leaderKey(), name, clientv3.WithLease(grant.ID)))
	resp, err := txn.Commit()
	if err != nil {
		log.Printf("coordination: update_leader txn failed: %v", err)
		return false
	}
	if !resp.Succeeded {
		return false
	}

	if _, err := c.kv.Put(ctx, c.optimeKey(), strconv.FormatInt(lastOperation, 10)); err != nil {
		log.Printf("coordination: optime write failed (non-fatal): %v", err)
	}
	return true
}

// Race compare-and-sets subkey on absence; used for "/initialize".
func (c *Client) Race(ctx context.Context, subkey, value string) bool {
	key := c.key(strings.TrimPrefix(subkey, "/"))
	txn := c.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value))
	resp, err := txn.Commit()
	if err != nil {
		log.Printf("coordination: race(%s) txn failed: %v", subkey, err)
		return false
	}
	return resp.Succeeded
}

// DeleteLeader conditionally deletes the leader key guarded by value = name.
func (c *Client) DeleteLeader(ctx context.Context, name string) bool {
	txn := c.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(c.leaderKey()), "=", name)).
		Then(clientv3.OpDelete(c.leaderKey()))
	resp, err := txn.Commit()
	if err != nil {
		log.Printf("coordination: delete_leader txn failed: %v", err)
		return false
	}
	return resp.Succeeded
}

// DeleteMember unconditionally deletes the caller's own member entry.
func (c *Client) DeleteMember(ctx context.Context, name string) bool {
	_, err := c.kv.Delete(ctx, c.memberKey(name))
	if err != nil {
		log.Printf("coordination: delete_member failed: %v", err)
		return false
	}
	return true
}
