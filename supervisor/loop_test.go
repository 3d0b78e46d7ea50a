package supervisor

import (
	"context"
	"testing"
	"time"

	"governor/coordination"
	"governor/dbadapter"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type noopSleeper struct{ slept []time.Duration }

func (s *noopSleeper) Sleep(d time.Duration) { s.slept = append(s.slept, d) }

func testConfig() *Config {
	return &Config{
		LoopWait: 10,
		Etcd:     EtcdConfig{TTL: 30, Scope: "/service/test"},
		Postgresql: PostgresqlConfig{
			Name:                 "a",
			MaximumLagOnFailover: 50,
		},
	}
}

// TestColdBootstrapTwoNodes models scenario 1 of spec.md §8: A wins
// initialize, B clones from A.
func TestColdBootstrapTwoNodes(t *testing.T) {
	cc := coordination.NewFake()
	daA := dbadapter.NewFake("a")
	daA.DirEmpty = true
	daA.Leader = true

	supA := New("a", "postgres://a", testConfig(), cc, daA)
	if err := supA.Bootstrap(context.Background()); err != nil {
		t.Fatalf("A bootstrap failed: %v", err)
	}
	if daA.StartCalls == 0 {
		t.Fatal("A should have started as primary")
	}

	cc.TouchMember(context.Background(), "a", "postgres://a", testConfig().LeaderTTL())

	daB := dbadapter.NewFake("b")
	daB.DirEmpty = true
	supB := New("b", "postgres://b", testConfig(), cc, daB)
	if err := supB.Bootstrap(context.Background()); err != nil {
		t.Fatalf("B bootstrap failed: %v", err)
	}
	if daB.StartCalls == 0 {
		t.Fatal("B should have started as standby after cloning")
	}
	if daB.RecoveryConfL != "a" {
		t.Fatalf("B should have written recovery conf pointing at a, got %q", daB.RecoveryConfL)
	}
}

// TestLeaderLossPromotesHealthiestFollower models scenario 2: after leader
// A's lease expires, B (the only candidate) acquires the lease and promotes.
func TestLeaderLossPromotesHealthiestFollower(t *testing.T) {
	cc := coordination.NewFake()
	ctx := context.Background()
	cc.TouchMember(ctx, "a", "postgres://a", time.Minute)
	cc.TouchMember(ctx, "b", "postgres://b", time.Minute)
	cc.TakeLeader(ctx, "a", time.Minute)
	cc.ExpireLeader()

	daB := dbadapter.NewFake("b")
	daB.Healthiest = true

	supB := &Supervisor{
		Self: "b", ConnURL: "postgres://b", Cfg: testConfig(),
		CC: cc, DA: daB, Clock: &fakeClock{}, Sleeper: &noopSleeper{},
	}
	status := supB.runCycle(ctx)
	t.Logf("status: %s", status)

	if daB.PromoteCalls == 0 {
		t.Fatal("B should have promoted after acquiring the lease")
	}
	view, _ := cc.GetCluster(ctx)
	if !view.LeaderIsSelf("b") {
		t.Fatalf("store should show b as leader, got %+v", view.Leader)
	}
}

// TestStaleLeaderDemotesOnNextTick models scenario 4: A believes it is
// leader but the store shows B; A must demote and never claim to be
// writable at the same time B is.
func TestStaleLeaderDemotesOnNextTick(t *testing.T) {
	cc := coordination.NewFake()
	ctx := context.Background()
	cc.TouchMember(ctx, "a", "postgres://a", time.Minute)
	cc.TouchMember(ctx, "b", "postgres://b", time.Minute)
	cc.AttemptAcquireLeader(ctx, "b", time.Minute)

	daA := dbadapter.NewFake("a")
	daA.Leader = true

	supA := &Supervisor{
		Self: "a", ConnURL: "postgres://a", Cfg: testConfig(),
		CC: cc, DA: daA, Clock: &fakeClock{}, Sleeper: &noopSleeper{},
	}
	supA.runCycle(ctx)

	if len(daA.DemoteCalls) != 1 || daA.DemoteCalls[0] != "b" {
		t.Fatalf("expected A to demote toward b, got %+v", daA.DemoteCalls)
	}
	if daA.Leader {
		t.Fatal("A must not still believe itself leader after demoting")
	}
}

// TestGracefulShutdownReleasesLease models scenario 6.
func TestGracefulShutdownReleasesLease(t *testing.T) {
	cc := coordination.NewFake()
	ctx := context.Background()
	cc.TouchMember(ctx, "a", "postgres://a", time.Minute)
	cc.TakeLeader(ctx, "a", time.Minute)

	da := dbadapter.NewFake("a")
	sup := New("a", "postgres://a", testConfig(), cc, da)
	sup.Teardown(ctx)

	if da.StopCalls == 0 {
		t.Fatal("teardown must stop the database")
	}
	view, _ := cc.GetCluster(ctx)
	if view.Leader != nil {
		t.Fatalf("teardown must delete the leader key, got %+v", view.Leader)
	}
}

func TestConfigValidateRejectsShortTTL(t *testing.T) {
	cfg := &Config{LoopWait: 10, Etcd: EtcdConfig{TTL: 15}, Postgresql: PostgresqlConfig{Name: "a"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Fatal error when etcd.ttl <= 2x loop_wait")
	}
}

func TestConfigValidateAccepts(t *testing.T) {
	cfg := &Config{LoopWait: 10, Etcd: EtcdConfig{TTL: 30}, Postgresql: PostgresqlConfig{Name: "a"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
