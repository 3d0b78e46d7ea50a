package dbadapter

import (
	"database/sql"
	"sync"
	"time"

	"governor/coordination"
)

// peerCheckResult is the outcome of probing one peer, fanned out
// concurrently the way health.go's runChecks probes container targets.
type peerCheckResult struct {
	name        string
	reachable   bool
	inRecovery  bool
	aheadOfSelf bool
}

// IsHealthiestNode implements §4.2.2. It returns true if this node is
// currently leader (stability), false if its own lag beyond the leader's
// last known operation exceeds MaximumLagOnFailover, and otherwise consults
// every other member concurrently: any reachable primary or any reachable
// peer strictly ahead disqualifies self.
func (p *Postgres) IsHealthiestNode(view *coordination.ClusterView) bool {
	if view.LeaderIsSelf(p.cfg.Name) {
		return true
	}

	selfPos, err := p.XlogPosition()
	if err != nil {
		return false
	}

	// maximum_lag_on_failover defaults to the Go zero value, 0, matching
	// original_source/helpers/postgresql.py's
	// config.get('maximum_lag_on_failover', 0): with no operator-configured
	// slack, any lag at all disqualifies this candidate.
	if view.LastLeaderOperation-selfPos > p.cfg.MaximumLagOnFailover {
		return false
	}

	peers := view.PeerNames(p.cfg.Name)
	if len(peers) == 0 {
		return true
	}

	results := make(chan peerCheckResult, len(peers))
	var wg sync.WaitGroup
	for _, name := range peers {
		member, ok := view.Members[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(m coordination.Member) {
			defer wg.Done()
			results <- checkPeer(m, selfPos)
		}(member)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if !r.reachable {
			continue // unreachable members are ignored: no evidence against self
		}
		if !r.inRecovery {
			return false // a reachable running primary disqualifies self
		}
		if r.aheadOfSelf {
			return false
		}
	}
	return true
}

func checkPeer(member coordination.Member, selfPos int64) peerCheckResult {
	db, err := sql.Open("postgres", member.ConnURL)
	if err != nil {
		return peerCheckResult{name: member.Name}
	}
	defer db.Close()
	db.SetConnMaxLifetime(5 * time.Second)

	var inRecovery bool
	var replayPos int64
	row := db.QueryRow(
		"SELECT pg_is_in_recovery(), COALESCE(pg_wal_lsn_diff(pg_last_wal_replay_lsn(), '0/0'), 0)",
	)
	if err := row.Scan(&inRecovery, &replayPos); err != nil {
		return peerCheckResult{name: member.Name}
	}

	diff := selfPos - replayPos
	return peerCheckResult{
		name:        member.Name,
		reachable:   true,
		inRecovery:  inRecovery,
		aheadOfSelf: diff < 0,
	}
}
