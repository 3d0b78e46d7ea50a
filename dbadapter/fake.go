package dbadapter

import "governor/coordination"

// Fake is an in-memory DA used by ha and supervisor tests, replacing the
// Python suite's mock.patch-based Postgresql stubs with an explicit fake
// satisfying the same interface production code depends on.
type Fake struct {
	Name string

	Healthy       bool
	Running       bool
	Leader        bool
	Healthiest    bool
	DirEmpty      bool
	XlogPos       int64
	RecoveryConfL string // name of the leader the on-disk recovery conf matches

	PromoteCalls        int
	DemoteCalls         []string
	StartCalls          int
	StopCalls           int
	RestartCalls        int
	WriteRecoveryCalls  []string
	ReconciledSlotNames map[string]struct{}
}

// NewFake returns a Fake with healthy defaults; tests flip fields to model
// the scenario they drive.
func NewFake(name string) *Fake {
	return &Fake{Name: name, Healthy: true, Running: true}
}

func (f *Fake) DataDirectoryEmpty() bool { return f.DirEmpty }

func (f *Fake) Initialize() error { f.DirEmpty = false; return nil }

func (f *Fake) SyncFromLeader(leader coordination.Member) error {
	f.DirEmpty = false
	return nil
}

func (f *Fake) Start() error { f.StartCalls++; f.Running = true; return nil }
func (f *Fake) Stop() error  { f.StopCalls++; f.Running = false; return nil }
func (f *Fake) Restart() error {
	f.RestartCalls++
	return nil
}
func (f *Fake) Reload() error { return nil }

func (f *Fake) IsRunning() bool { return f.Running }
func (f *Fake) IsLeader() bool  { return f.Leader }
func (f *Fake) IsHealthy() bool { return f.Healthy }

func (f *Fake) Promote() error {
	f.PromoteCalls++
	f.Leader = true
	return nil
}

func (f *Fake) Demote(leader coordination.Member) error {
	f.DemoteCalls = append(f.DemoteCalls, leader.Name)
	f.Leader = false
	f.RecoveryConfL = leader.Name
	return nil
}

func (f *Fake) WriteRecoveryConf(leader coordination.Member) error {
	f.WriteRecoveryCalls = append(f.WriteRecoveryCalls, leader.Name)
	f.RecoveryConfL = leader.Name
	return nil
}

func (f *Fake) CheckRecoveryConf(leader coordination.Member) bool {
	return f.RecoveryConfL == leader.Name
}

func (f *Fake) CreateReplicationSlots(members map[string]coordination.Member, self string) error {
	want := make(map[string]struct{})
	for name := range members {
		if name != self {
			want[name] = struct{}{}
		}
	}
	f.ReconciledSlotNames = want
	return nil
}

func (f *Fake) XlogPosition() (int64, error) { return f.XlogPos, nil }
func (f *Fake) LastOperation() (int64, error) { return f.XlogPos, nil }

func (f *Fake) IsHealthiestNode(view *coordination.ClusterView) bool {
	if view.LeaderIsSelf(f.Name) {
		return true
	}
	return f.Healthiest
}

var _ DA = (*Fake)(nil)
