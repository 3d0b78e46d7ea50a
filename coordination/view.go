package coordination

import "time"

// Member is the identity of one database node as advertised in the
// coordination store.
type Member struct {
	Name         string
	ConnURL      string
	TTLExpiresAt time.Time
}

// ClusterView is a read-only snapshot assembled from a single recursive read
// of the cluster namespace.
type ClusterView struct {
	// Leader is resolved by name against Members; it is nil if the lease key
	// is missing, expired, or names a member absent from Members (stale
	// lease protection, invariant I3).
	Leader *Member
	// Members is the live member set, keyed by name.
	Members map[string]Member
	// LastLeaderOperation is the last known write position the leader
	// reported at its most recent renewal (best effort).
	LastLeaderOperation int64
	// Initialize is the name of the node that won the initialization race,
	// or the empty string if no node has initialized the cluster yet.
	Initialize string
}

// LeaderIsSelf reports whether name currently holds the leader lease
// according to this view.
func (v *ClusterView) LeaderIsSelf(name string) bool {
	return v.Leader != nil && v.Leader.Name == name
}

// PeerNames returns the set of member names other than self, used for
// replication-slot reconciliation (invariant I4).
func (v *ClusterView) PeerNames(self string) []string {
	peers := make([]string, 0, len(v.Members))
	for name := range v.Members {
		if name != self {
			peers = append(peers, name)
		}
	}
	return peers
}
