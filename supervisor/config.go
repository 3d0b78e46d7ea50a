// Package supervisor is the periodic driver (SL) that composes the
// coordination client, database adapter, and HA decision engine: it
// enforces the tick cadence, renews membership, and handles bootstrap and
// shutdown.
package supervisor

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"governor/haerr"
)

// EtcdConfig names the coordination-store endpoint and cluster scope
// (spec.md §6).
type EtcdConfig struct {
	Host  string `yaml:"host"`
	TTL   int    `yaml:"ttl"`
	Scope string `yaml:"scope"`
}

// RestAPIConfig is the admin HTTP binding and advertised address.
type RestAPIConfig struct {
	Listen         string `yaml:"listen"`
	ConnectAddress string `yaml:"connect_address"`
}

// ReplicationUserConfig mirrors postgresql.replication/.admin/.superuser.
type ReplicationUserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Network  string `yaml:"network"`
}

// WALEConfig is the optional archive integration, postgresql.wal_e.
type WALEConfig struct {
	EnvDir                        string `yaml:"env_dir"`
	ThresholdMegabytes            int    `yaml:"threshold_megabytes"`
	ThresholdBackupSizePercentage int    `yaml:"threshold_backup_size_percentage"`
}

// PostgresqlConfig is postgresql.* from spec.md §6.
type PostgresqlConfig struct {
	Name                 string                `yaml:"name"`
	Listen               string                `yaml:"listen"`
	ConnectAddress        string                `yaml:"connect_address"`
	DataDir              string                `yaml:"data_dir"`
	Replication          ReplicationUserConfig `yaml:"replication"`
	Superuser            ReplicationUserConfig `yaml:"superuser"`
	Admin                ReplicationUserConfig `yaml:"admin"`
	Parameters           map[string]string     `yaml:"parameters"`
	PGHBA                []string              `yaml:"pg_hba"`
	MaximumLagOnFailover int64                 `yaml:"maximum_lag_on_failover"`
	WALE                 *WALEConfig           `yaml:"wal_e"`
}

// Config is the full set of options recognized by the supervisor, matching
// spec.md §6 verbatim.
type Config struct {
	LoopWait   int              `yaml:"loop_wait"`
	Etcd       EtcdConfig       `yaml:"etcd"`
	RestAPI    RestAPIConfig    `yaml:"restapi"`
	Postgresql PostgresqlConfig `yaml:"postgresql"`
}

// LoadConfig reads and parses a YAML config file with yaml.Unmarshal.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("supervisor: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("supervisor: parse config: %w", err)
	}

	// An unset postgresql.name gets a generated node identity rather than a
	// startup failure, matching controller_go/cluster.go's
	// NewDistributedController: `if nodeID == "" { nodeID = uuid.New().String() }`.
	if cfg.Postgresql.Name == "" {
		cfg.Postgresql.Name = uuid.New().String()
	}
	return &cfg, nil
}

// LoopInterval is LoopWait as a time.Duration.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.LoopWait) * time.Second
}

// LeaderTTL is Etcd.TTL as a time.Duration.
func (c *Config) LeaderTTL() time.Duration {
	return time.Duration(c.Etcd.TTL) * time.Second
}

// Validate enforces invariant I2: leader_ttl must exceed 2x loop_wait so
// that two consecutive ticks of the holder may renew before expiry. This is
// a Fatal condition — the process must not start with a config that can
// never maintain a live lease.
func (c *Config) Validate() error {
	if c.Etcd.TTL <= 2*c.LoopWait {
		return haerr.NewFatal(
			fmt.Sprintf("etcd.ttl (%ds) must be greater than 2x loop_wait (%ds)", c.Etcd.TTL, c.LoopWait),
			nil,
		)
	}
	return nil
}
