package ha

import (
	"context"
	"log"
	"time"

	"governor/coordination"
	"governor/dbadapter"
	"governor/haerr"
)

// Input is the snapshot the decision function consumes each tick. All
// fields are read once at the start of the cycle; Decide performs no I/O.
type Input struct {
	Self              string
	Healthy           bool
	LocalIsLeader     bool
	WasLeaderLastTick bool
	View              *coordination.ClusterView
	LastOperation     int64
	IsHealthiestNode  bool
	// PreviousLeader is the last leader this node followed, consulted only
	// when the cluster currently has none and this node is not the
	// healthiest candidate.
	PreviousLeader string
}

// Decide reduces Input to one Action per spec.md §4.3's decision table,
// first matching row wins.
func Decide(in Input) Action {
	if !in.Healthy {
		if in.WasLeaderLastTick {
			return Action{Kind: KindReleaseLease, Status: "demoted self; database not healthy"}
		}
		return Action{Kind: KindReportUnhealthy, Status: "database not running"}
	}

	leader := in.View.Leader

	if in.LocalIsLeader {
		switch {
		case leader != nil && leader.Name == in.Self:
			return Action{Kind: KindRenewLease, Status: "renewing leader lease"}
		case leader != nil:
			return Action{Kind: KindDemoteAndFollow, Follow: leader.Name, Status: "demoting to follow " + leader.Name}
		default:
			return Action{Kind: KindRegainLease, Status: "regaining lease we still believe is ours"}
		}
	}

	switch {
	case leader != nil && leader.Name == in.Self:
		return Action{Kind: KindPromote, Status: "promoting to leader"}
	case leader != nil:
		return Action{Kind: KindFollow, Follow: leader.Name, Status: "following " + leader.Name}
	case in.IsHealthiestNode:
		return Action{Kind: KindAttemptAcquire, Status: "attempting to acquire leader lease"}
	case in.PreviousLeader != "":
		return Action{Kind: KindFollow, Follow: in.PreviousLeader, Status: "following previous leader " + in.PreviousLeader}
	default:
		return Action{Kind: KindIdle, Status: "idle: no leader, not healthiest"}
	}
}

// Dispatcher applies an Action via the coordination client and database
// adapter; it is the imperative half the design note in spec.md §9 asks to
// be kept separate from Decide.
type Dispatcher struct {
	Self      string
	CC        coordination.CC
	DA        dbadapter.DA
	LeaderTTL time.Duration
	// CCTimeout bounds each coordination-store call Apply makes, per
	// spec.md §5 ("coordination-store operations ≤ loop_interval"). Falls
	// back to LeaderTTL if unset, so zero-value Dispatchers in tests still
	// get a bounded context rather than none at all.
	CCTimeout time.Duration
}

func (d *Dispatcher) ccContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := d.CCTimeout
	if timeout <= 0 {
		timeout = d.LeaderTTL
	}
	return context.WithTimeout(parent, timeout)
}

// Apply executes the side effects named by action and returns the status
// string for logging, matching the run_cycle() return value of the
// original implementation.
func (d *Dispatcher) Apply(ctx context.Context, action Action, view *coordination.ClusterView) string {
	switch action.Kind {
	case KindReleaseLease:
		ccCtx, cancel := d.ccContext(ctx)
		d.CC.DeleteLeader(ccCtx, d.Self)
		cancel()

	case KindReportUnhealthy:
		log.Printf("ha: %v", haerr.ErrDatabaseUnavailable)

	case KindRenewLease:
		if err := d.DA.CreateReplicationSlots(view.Members, d.Self); err != nil {
			log.Printf("ha: slot reconciliation failed: %v", err)
		}
		lastOp, err := d.DA.LastOperation()
		if err != nil {
			log.Printf("ha: last_operation failed: %v", err)
		}
		ccCtx, cancel := d.ccContext(ctx)
		ok := d.CC.UpdateLeader(ccCtx, d.Self, lastOp, d.LeaderTTL)
		cancel()
		if !ok {
			log.Printf("ha: %v; will retry next tick", haerr.ErrLeaseContended)
		}

	case KindDemoteAndFollow:
		member, ok := view.Members[action.Follow]
		if ok {
			if err := d.DA.Demote(member); err != nil {
				log.Printf("ha: demote failed: %v", err)
			}
		}

	case KindRegainLease:
		lastOp, _ := d.DA.LastOperation()
		ccCtx, cancel := d.ccContext(ctx)
		ok := d.CC.UpdateLeader(ccCtx, d.Self, lastOp, d.LeaderTTL)
		cancel()
		if !ok {
			log.Printf("ha: %v; next tick retries", haerr.ErrLeaseContended)
		}

	case KindPromote:
		if err := d.DA.Promote(); err != nil {
			log.Printf("ha: promote failed: %v", err)
		}

	case KindFollow:
		member, ok := view.Members[action.Follow]
		if ok && !d.DA.CheckRecoveryConf(member) {
			if err := d.DA.WriteRecoveryConf(member); err != nil {
				log.Printf("ha: write_recovery_conf failed: %v", err)
			} else if err := d.DA.Restart(); err != nil {
				log.Printf("ha: restart after recovery conf change failed: %v", err)
			}
		}

	case KindAttemptAcquire:
		ccCtx, cancel := d.ccContext(ctx)
		acquired := d.CC.AttemptAcquireLeader(ccCtx, d.Self, d.LeaderTTL)
		cancel()
		if acquired {
			if err := d.DA.Promote(); err != nil {
				log.Printf("ha: promote after acquiring lease failed: %v", err)
			}
		} else {
			log.Printf("ha: %v; another node won this tick's acquisition", haerr.ErrLeaseContended)
		}

	case KindIdle:
		// no store or DA action
	}

	return action.Status
}
