package dbadapter

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// ReplicationConfig names the replication role and the network CIDR it is
// allowed to connect from (spec.md §6, postgresql.replication).
type ReplicationConfig struct {
	Username string
	Password string
	Network  string
}

// WALEConfig is the optional archive integration (spec.md §6,
// postgresql.wal_e).
type WALEConfig struct {
	EnvDir                        string
	ThresholdMegabytes            int
	ThresholdBackupSizePercentage int
}

// Config is everything a Postgres needs to manage one local instance.
type Config struct {
	Name                  string
	Listen                string
	ConnectAddress        string
	DataDir               string
	Replication           ReplicationConfig
	Superuser             ReplicationConfig
	Admin                 ReplicationConfig
	Parameters            map[string]string
	PGHBA                 []string
	MaximumLagOnFailover  int64
	WALE                  *WALEConfig
	OnRoleChange          RoleChangeFunc
}

// Postgres is the DA implementation backed by a real local postgres process
// reached via lib/pq, controlled via pg_ctl/initdb/pg_basebackup child
// processes. Connection handling (DSN construction, pool sizing, bounded
// retry) is grounded on the teacher's PostgreSQLManager.
type Postgres struct {
	cfg Config

	mu             sync.RWMutex
	db             *sql.DB
	running        bool
	promoted       bool
	slots          map[string]struct{}
	lastRole       Role
	hasObservedRole bool
}

// NewPostgres constructs an unconnected adapter; Start() establishes the
// connection and loads the replication-slot inventory.
func NewPostgres(cfg Config) *Postgres {
	return &Postgres{cfg: cfg, slots: make(map[string]struct{})}
}

// statementTimeoutMillis bounds every query issued over this connection to
// 2s, per spec.md §5 ("database queries with a statement timeout of 2 s")
// and original_source/helpers/postgresql.py's parseurl, which sets
// options='-c statement_timeout=2000' on every connection it opens.
const statementTimeoutMillis = 2000

func (p *Postgres) dsn() string {
	return fmt.Sprintf(
		"host=%s dbname=postgres user=%s password=%s sslmode=disable connect_timeout=5 "+
			"options='-c statement_timeout=%d'",
		p.cfg.ConnectAddress, p.cfg.Superuser.Username, p.cfg.Superuser.Password, statementTimeoutMillis,
	)
}

// connect (re-)establishes the connection handle, retrying up to 3 times
// with a fixed back-off, per spec.md §5.
func (p *Postgres) connect() (*sql.DB, error) {
	p.mu.RLock()
	db := p.db
	p.mu.RUnlock()
	if db != nil {
		if err := db.Ping(); err == nil {
			return db, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		db, err := sql.Open("postgres", p.dsn())
		if err != nil {
			lastErr = err
		} else {
			db.SetMaxOpenConns(4)
			db.SetMaxIdleConns(1)
			db.SetConnMaxLifetime(time.Hour)
			if err := db.Ping(); err == nil {
				p.mu.Lock()
				p.db = db
				p.mu.Unlock()
				return db, nil
			} else {
				lastErr = err
				db.Close()
			}
		}
		if attempt < 3 {
			time.Sleep(time.Second)
		}
	}
	return nil, fmt.Errorf("dbadapter: connect failed after 3 attempts: %w", lastErr)
}

// queryRow runs a statement-timeout-bounded query with the shared retry
// discipline, matching the "up to 3 attempts" contract of spec.md §5.
func (p *Postgres) queryRow(query string, args ...interface{}) *sql.Row {
	db, err := p.connect()
	if err != nil {
		log.Printf("dbadapter: query %q failed to get connection: %v", query, err)
		return nil
	}
	return db.QueryRow(query, args...)
}

func (p *Postgres) setRole(role Role) {
	p.mu.Lock()
	changed := !p.hasObservedRole || p.lastRole != role
	p.lastRole = role
	p.hasObservedRole = true
	cb := p.cfg.OnRoleChange
	p.mu.Unlock()

	if changed && cb != nil {
		log.Printf("🔄 role changed to %s", role)
		cb(role)
	}
}
