package supervisor

import (
	"context"
	"log"
	"time"

	"governor/coordination"
	"governor/dbadapter"
	"governor/ha"
	"governor/haerr"
)

// Clock is injected so property tests can drive tick cadence
// deterministically (spec.md §9, "clock discipline" — monotonic for
// cadence, wall clock only for TTL comparisons sourced from the store).
type Clock interface {
	Now() time.Time
}

// Sleeper is injected so tests never actually block.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Supervisor encapsulates all per-process state in one value with explicit
// Bootstrap/Run/Teardown, replacing the source's reliance on module-level
// globals (spec.md §9, "Global state").
type Supervisor struct {
	Self     string
	ConnURL  string
	Cfg      *Config
	CC       coordination.CC
	DA       dbadapter.DA
	Clock    Clock
	Sleeper  Sleeper

	wasLeaderLastTick bool
	previousLeader    string
	nextRun           time.Time
	stopped           bool
}

// New builds a Supervisor with production clock/sleeper; tests construct one
// directly with fakes instead.
func New(self, connURL string, cfg *Config, cc coordination.CC, da dbadapter.DA) *Supervisor {
	return &Supervisor{
		Self:    self,
		ConnURL: connURL,
		Cfg:     cfg,
		CC:      cc,
		DA:      da,
		Clock:   realClock{},
		Sleeper: realSleeper{},
	}
}

const memberTouchBackoff = 2 * time.Second

// ccTimeout bounds one coordination-store operation to loop_interval, per
// spec.md §5: "coordination-store operations ≤ loop_interval". Every CC call
// on the tick hot path is wrapped through this helper instead of being
// handed the bare parent context.
func (s *Supervisor) ccTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.Cfg.LoopInterval())
}

// Bootstrap implements spec.md §4.4's bootstrap sequence: touch_member until
// success, then, on an empty data directory, either win or lose the
// initialize race. On a populated data directory it only logs whether the
// server is already running; it does not load the replication-slot inventory
// of a server that is already running (Start loads it when it starts one).
func (s *Supervisor) Bootstrap(ctx context.Context) error {
	for {
		touchCtx, cancel := s.ccTimeout(ctx)
		ok := s.CC.TouchMember(touchCtx, s.Self, s.ConnURL, s.Cfg.LeaderTTL())
		cancel()
		if ok {
			break
		}
		log.Printf("supervisor: touch_member failed, retrying in %s", memberTouchBackoff)
		s.Sleeper.Sleep(memberTouchBackoff)
	}

	if s.DA.DataDirectoryEmpty() {
		raceCtx, raceCancel := s.ccTimeout(ctx)
		won := s.CC.Race(raceCtx, "/initialize", s.Self)
		raceCancel()

		if won {
			log.Printf("🏁 won initialize race, bootstrapping fresh cluster")
			if err := s.DA.Initialize(); err != nil {
				return err
			}
			takeCtx, takeCancel := s.ccTimeout(ctx)
			ok := s.CC.TakeLeader(takeCtx, s.Self, s.Cfg.LeaderTTL())
			takeCancel()
			if !ok {
				log.Printf("supervisor: take_leader failed immediately after winning initialize")
			}
			return s.DA.Start()
		}

		log.Printf("supervisor: %v, cloning from current leader", haerr.ErrInitializeContended)
		for {
			getCtx, getCancel := s.ccTimeout(ctx)
			view, err := s.CC.GetCluster(getCtx)
			getCancel()
			if err != nil || view.Leader == nil {
				s.Sleeper.Sleep(memberTouchBackoff)
				continue
			}
			if err := s.DA.SyncFromLeader(*view.Leader); err != nil {
				log.Printf("supervisor: sync_from_leader failed, retrying: %v", err)
				s.Sleeper.Sleep(memberTouchBackoff)
				continue
			}
			if err := s.DA.WriteRecoveryConf(*view.Leader); err != nil {
				return err
			}
			s.previousLeader = view.Leader.Name
			return s.DA.Start()
		}
	}

	if s.DA.IsRunning() {
		log.Printf("supervisor: data directory present and server running, resuming")
	}
	return nil
}

// Run anchors the tick clock to now and loops forever, running one HA cycle
// per tick with no catch-up burst if a cycle overruns the interval.
func (s *Supervisor) Run(ctx context.Context) {
	s.nextRun = s.Clock.Now()

	for !s.stopped {
		touchCtx, cancel := s.ccTimeout(ctx)
		s.CC.TouchMember(touchCtx, s.Self, s.ConnURL, s.Cfg.LeaderTTL())
		cancel()

		status := s.runCycle(ctx)
		log.Printf("ha: %s", status)

		s.nextRun = s.nextRun.Add(s.Cfg.LoopInterval())
		now := s.Clock.Now()
		if now.After(s.nextRun) {
			s.nextRun = now
			continue
		}
		s.Sleeper.Sleep(s.nextRun.Sub(now))
	}
}

// runCycle executes one HA decision cycle: CC -> HA -> DA -> CC, per the
// data-flow diagram of spec.md §2.
func (s *Supervisor) runCycle(ctx context.Context) string {
	healthy := s.DA.IsHealthy()
	var localIsLeader bool
	if healthy {
		localIsLeader = s.DA.IsLeader()
	}

	getCtx, cancel := s.ccTimeout(ctx)
	view, err := s.CC.GetCluster(getCtx)
	cancel()
	if err != nil {
		return "coordination store unavailable this tick"
	}

	var healthiest bool
	if healthy && !localIsLeader && view.Leader == nil {
		healthiest = s.DA.IsHealthiestNode(view)
	}

	action := ha.Decide(ha.Input{
		Self:              s.Self,
		Healthy:           healthy,
		LocalIsLeader:     localIsLeader,
		WasLeaderLastTick: s.wasLeaderLastTick,
		View:              view,
		IsHealthiestNode:  healthiest,
		PreviousLeader:    s.previousLeader,
	})

	s.wasLeaderLastTick = localIsLeader
	if action.Follow != "" {
		s.previousLeader = action.Follow
	}

	dispatcher := &ha.Dispatcher{
		Self:      s.Self,
		CC:        s.CC,
		DA:        s.DA,
		LeaderTTL: s.Cfg.LeaderTTL(),
		CCTimeout: s.Cfg.LoopInterval(),
	}
	return dispatcher.Apply(ctx, action, view)
}

// gracePeriod is the TTL the member entry gets during teardown, matching
// the source's touch_member(300) call so peers still see the departing
// node's advertisement for a bounded window after it stops renewing
// (original_source/governor.py: main's finally block).
const gracePeriod = 300 * time.Second

// Teardown implements spec.md §4.4's shutdown sequence: schedule member
// removal via a short-lived TTL, stop the database, delete the leader key
// if held.
func (s *Supervisor) Teardown(ctx context.Context) {
	s.stopped = true

	touchCtx, touchCancel := s.ccTimeout(ctx)
	s.CC.TouchMember(touchCtx, s.Self, s.ConnURL, gracePeriod)
	touchCancel()

	if err := s.DA.Stop(); err != nil {
		log.Printf("supervisor: stop during teardown failed: %v", err)
	}

	deleteCtx, deleteCancel := s.ccTimeout(ctx)
	s.CC.DeleteLeader(deleteCtx, s.Self)
	deleteCancel()
}
