package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"governor/api"
	"governor/cloudtags"
	"governor/coordination"
	"governor/dbadapter"
	"governor/supervisor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "governor.yaml", "path to the supervisor config file")
	flag.Parse()

	cfg, err := supervisor.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// ctx is the process lifetime, not a per-operation deadline: every
	// coordination-store call the supervisor makes derives its own bounded
	// child context from this one (supervisor.ccTimeout, ha.Dispatcher.ccContext).
	ctx := context.Background()
	cc, err := coordination.NewClient([]string{cfg.Etcd.Host}, 5*time.Second, cfg.Etcd.Scope)
	if err != nil {
		log.Fatalf("failed to build coordination client: %v", err)
	}

	tagger := cloudtags.NewTagger(ctx)

	p := cfg.Postgresql
	connURL := fmt.Sprintf(
		"postgres://%s:%s@%s/postgres?application_name=%s",
		p.Replication.Username, p.Replication.Password, p.ConnectAddress, cfg.RestAPI.ConnectAddress,
	)

	var wale *dbadapter.WALEConfig
	if p.WALE != nil {
		wale = &dbadapter.WALEConfig{
			EnvDir:                        p.WALE.EnvDir,
			ThresholdMegabytes:            p.WALE.ThresholdMegabytes,
			ThresholdBackupSizePercentage: p.WALE.ThresholdBackupSizePercentage,
		}
	}

	da := dbadapter.NewPostgres(dbadapter.Config{
		Name:                 p.Name,
		Listen:               p.Listen,
		ConnectAddress:       p.ConnectAddress,
		DataDir:              p.DataDir,
		Replication:          dbadapter.ReplicationConfig(p.Replication),
		Superuser:            dbadapter.ReplicationConfig(p.Superuser),
		Admin:                dbadapter.ReplicationConfig(p.Admin),
		Parameters:           p.Parameters,
		PGHBA:                p.PGHBA,
		MaximumLagOnFailover: p.MaximumLagOnFailover,
		WALE:                 wale,
		OnRoleChange:         tagger.OnRoleChange,
	})

	sup := supervisor.New(p.Name, connURL, cfg, cc, da)

	if err := sup.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go sup.Run(ctx)

	srv := api.NewServer(p.Name, cc)
	go func() {
		if err := srv.Run(cfg.RestAPI.Listen); err != nil {
			log.Printf("admin api server exited: %v", err)
		}
	}()

	sig := <-sigChan
	log.Printf("received signal %v, shutting down gracefully...", sig)
	sup.Teardown(ctx)
	log.Println("shutdown complete")
}
