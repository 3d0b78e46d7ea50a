package coordination

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory CC used by ha and supervisor tests. It reproduces the
// compare-and-set semantics of Client without a network dependency, matching
// the corpus's pattern of interface-backed mocks rather than monkeypatched
// calls.
type Fake struct {
	mu         sync.Mutex
	Now        func() time.Time
	initialize string
	leader     string
	leaderExp  time.Time
	optime     int64
	members    map[string]Member
}

// NewFake builds an empty Fake cluster namespace.
func NewFake() *Fake {
	return &Fake{
		Now:     time.Now,
		members: make(map[string]Member),
	}
}

func (f *Fake) leaderLive() bool {
	return f.leader != "" && f.Now().Before(f.leaderExp)
}

func (f *Fake) GetCluster(ctx context.Context) (*ClusterView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	view := &ClusterView{
		Members:             make(map[string]Member, len(f.members)),
		LastLeaderOperation: f.optime,
		Initialize:          f.initialize,
	}
	for k, v := range f.members {
		view.Members[k] = v
	}
	if f.leaderLive() {
		if m, ok := view.Members[f.leader]; ok {
			view.Leader = &m
		}
	}
	return view, nil
}

func (f *Fake) TouchMember(ctx context.Context, name, connURL string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[name] = Member{Name: name, ConnURL: connURL, TTLExpiresAt: f.Now().Add(ttl)}
	return true
}

func (f *Fake) TakeLeader(ctx context.Context, name string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leader = name
	f.leaderExp = f.Now().Add(ttl)
	return true
}

func (f *Fake) AttemptAcquireLeader(ctx context.Context, name string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaderLive() {
		return false
	}
	f.leader = name
	f.leaderExp = f.Now().Add(ttl)
	return true
}

func (f *Fake) UpdateLeader(ctx context.Context, name string, lastOperation int64, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.leaderLive() || f.leader != name {
		return false
	}
	f.leaderExp = f.Now().Add(ttl)
	f.optime = lastOperation
	return true
}

func (f *Fake) Race(ctx context.Context, subkey, value string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subkey != "/initialize" {
		return false
	}
	if f.initialize != "" {
		return false
	}
	f.initialize = value
	return true
}

func (f *Fake) DeleteLeader(ctx context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leader != name {
		return false
	}
	f.leader = ""
	f.leaderExp = time.Time{}
	return true
}

func (f *Fake) DeleteMember(ctx context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, name)
	return true
}

// ExpireLeader is a test-only hook simulating TTL expiry without advancing
// the injected clock.
func (f *Fake) ExpireLeader() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderExp = time.Time{}
}

var _ CC = (*Fake)(nil)
