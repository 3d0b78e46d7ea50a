package dbadapter

import (
	"testing"

	"governor/coordination"
)

func TestParseBackupStartWAL(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"base_00000001000000000000000A_backup_stop_sentinel.json", false},
		{"not-a-backup-name", true},
		{"base_short_backup_stop_sentinel.json", true},
	}
	for _, c := range cases {
		_, err := parseBackupStartWAL(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("parseBackupStartWAL(%q): err=%v, wantErr=%v", c.name, err, c.wantErr)
		}
	}
}

func TestWALEBucketAndPrefix(t *testing.T) {
	cfg := Config{WALE: &WALEConfig{EnvDir: "my-bucket/clusters/prod"}}
	bucket, prefix, err := cfg.walEBucketAndPrefix()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bucket != "my-bucket" || prefix != "clusters/prod" {
		t.Fatalf("got bucket=%q prefix=%q", bucket, prefix)
	}
}

func TestWALEBucketAndPrefixUnconfigured(t *testing.T) {
	cfg := Config{}
	if _, _, err := cfg.walEBucketAndPrefix(); err == nil {
		t.Fatal("expected error when wal_e is not configured")
	}
}

// TestPreferArchive covers spec.md §8 scenario 5: threshold_megabytes=100,
// threshold_backup_size_percentage=30, backup size 1 GiB.
func TestPreferArchive(t *testing.T) {
	const (
		thresholdMegabytes            = 100
		thresholdBackupSizePercentage = 30
		backupSizeBytes               = 1 << 30 // 1 GiB
	)
	cases := []struct {
		name      string
		diffBytes int64
		want      bool
	}{
		{"50MiB delta prefers archive", 50 << 20, true},
		{"400MiB delta prefers basecopy", 400 << 20, false},
	}
	for _, c := range cases {
		got := preferArchive(c.diffBytes, backupSizeBytes, thresholdMegabytes, thresholdBackupSizePercentage)
		if got != c.want {
			t.Errorf("%s: preferArchive() = %v, want %v", c.name, got, c.want)
		}
	}
}

// TestShouldUseArchiveMalformedListingFallsBackToBasecopy covers the third
// scenario-5 case through the error path a malformed listing also takes: no
// usable archive listing can be read (here wal_e has no env_dir), so the
// archive path is disqualified before the threshold comparison is reached.
func TestShouldUseArchiveMalformedListingFallsBackToBasecopy(t *testing.T) {
	p := NewPostgres(Config{WALE: &WALEConfig{
		ThresholdMegabytes:            100,
		ThresholdBackupSizePercentage: 30,
	}})
	prefer, err := p.shouldUseArchive(coordination.Member{ConnURL: "postgres://bad"})
	if err == nil {
		t.Fatal("expected error from unconfigured wal_e listing")
	}
	if prefer {
		t.Fatal("malformed listing must not prefer archive")
	}
}
