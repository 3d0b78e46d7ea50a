// Package dbadapter exposes the local database instance as a set of
// declarative operations with well-defined success/failure signals. It is
// the only package in this module permitted to invoke child processes or
// hold a long-lived database connection.
package dbadapter

import (
	"governor/coordination"
)

// Role is the inferred role of the local database process, derived from its
// recovery flag rather than from the presence of a standby-configuration
// file (spec.md §9, "role-change callback on start").
type Role string

const (
	RoleMaster  Role = "master"
	RoleReplica Role = "replica"
)

// RoleChangeFunc is fired whenever the locally observed role changes, e.g.
// to drive cloud-provider tagging hooks.
type RoleChangeFunc func(Role)

// DA is the interface the HA decision engine and supervisor loop consume.
// Postgres (in postgres.go) implements it against a real local Postgres
// process; Fake (in fake.go) implements it in-memory for tests.
type DA interface {
	DataDirectoryEmpty() bool
	Initialize() error
	SyncFromLeader(leader coordination.Member) error
	Start() error
	Stop() error
	Restart() error
	Reload() error
	IsRunning() bool
	IsLeader() bool
	IsHealthy() bool
	Promote() error
	Demote(leader coordination.Member) error
	WriteRecoveryConf(leader coordination.Member) error
	CheckRecoveryConf(leader coordination.Member) bool
	CreateReplicationSlots(members map[string]coordination.Member, self string) error
	XlogPosition() (int64, error)
	IsHealthiestNode(view *coordination.ClusterView) bool
	LastOperation() (int64, error)
}
