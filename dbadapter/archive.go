package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"governor/coordination"
	"governor/haerr"
)

// backupEntry is one archived base backup's metadata, equivalent to a
// parsed row of `wal-e backup-list` output
// (original_source/helpers/postgresql.py: should_use_s3_to_create_replica).
type backupEntry struct {
	Name          string
	StartWALBytes int64
	SizeBytes     int64
}

// shouldUseArchive implements §4.2.1: prefer archive iff the WAL delta to
// replay is small relative to both an absolute and a backup-size-relative
// threshold. Any error in the decision path falls back to basecopy.
func (p *Postgres) shouldUseArchive(leader coordination.Member) (bool, error) {
	backup, err := p.latestBackup()
	if err != nil {
		return false, fmt.Errorf("dbadapter: archive listing unusable: %w", err)
	}

	leaderPos, err := p.leaderXlogPosition(leader)
	if err != nil {
		return false, fmt.Errorf("dbadapter: could not read leader xlog position: %w", err)
	}

	diffBytes := leaderPos - backup.StartWALBytes
	if diffBytes < 0 {
		diffBytes = 0
	}

	return preferArchive(diffBytes, backup.SizeBytes, p.cfg.WALE.ThresholdMegabytes, p.cfg.WALE.ThresholdBackupSizePercentage), nil
}

// preferArchive is the pure §4.2.1 comparison, split out of shouldUseArchive
// so the threshold logic is testable without live S3/Postgres I/O: archive
// wins iff the WAL delta to replay is smaller than both the absolute
// threshold and the backup-size-relative threshold.
func preferArchive(diffBytes, backupSizeBytes int64, thresholdMegabytes, thresholdBackupSizePercentage int) bool {
	thresholdBytes := int64(thresholdMegabytes) * 1048576
	percentBytes := backupSizeBytes * int64(thresholdBackupSizePercentage) / 100
	return diffBytes < thresholdBytes && diffBytes < percentBytes
}

func (p *Postgres) leaderXlogPosition(leader coordination.Member) (int64, error) {
	db, err := sql.Open("postgres", leader.ConnURL)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var pos int64
	row := db.QueryRow("SELECT pg_wal_lsn_diff(pg_current_wal_lsn(), '0/0')")
	if err := row.Scan(&pos); err != nil {
		return 0, err
	}
	return pos, nil
}

// latestBackup lists the archive bucket and returns the most recent backup's
// metadata. A malformed or empty listing disqualifies the archive path.
func (p *Postgres) latestBackup() (*backupEntry, error) {
	bucket, prefix, err := p.cfg.walEBucketAndPrefix()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix + "/basebackups_005/"),
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	if len(out.Contents) == 0 {
		return nil, fmt.Errorf("no backups found under %s", prefix)
	}

	sort.Slice(out.Contents, func(i, j int) bool {
		return aws.ToTime(out.Contents[i].LastModified).After(aws.ToTime(out.Contents[j].LastModified))
	})
	newest := out.Contents[0]

	name := strings.TrimPrefix(aws.ToString(newest.Key), prefix+"/basebackups_005/")
	startWAL, err := parseBackupStartWAL(name)
	if err != nil {
		return nil, fmt.Errorf("malformed backup name %q: %w", name, err)
	}

	return &backupEntry{
		Name:          name,
		StartWALBytes: startWAL,
		SizeBytes:     aws.ToInt64(newest.Size),
	}, nil
}

// parseBackupStartWAL extracts the starting WAL byte offset encoded in a
// WAL-E style backup directory name of the form
// "base_<timeline><log><seg>_backup_stop_sentinel.json", falling back to an
// error (and thus basecopy) on anything unrecognized.
func parseBackupStartWAL(name string) (int64, error) {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) < 2 || parts[0] != "base" {
		return 0, fmt.Errorf("unexpected backup name shape")
	}
	hexSeg := parts[1]
	if len(hexSeg) < 16 {
		return 0, fmt.Errorf("segment identifier too short")
	}
	logID, err := strconv.ParseInt(hexSeg[len(hexSeg)-16:len(hexSeg)-8], 16, 64)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(hexSeg[len(hexSeg)-8:], 16, 64)
	if err != nil {
		return 0, err
	}
	return logID*0x100000000 + n*16*1024*1024, nil
}

func (c *Config) walEBucketAndPrefix() (bucket, prefix string, err error) {
	if c.WALE == nil || c.WALE.EnvDir == "" {
		return "", "", fmt.Errorf("wal_e not configured")
	}
	// WAL-E conventionally stores its target as an s3:// URL in
	// <env_dir>/WALE_S3_PREFIX; the supervisor reads it once at startup and
	// keeps the parsed form in EnvDir as "bucket/prefix" for this adapter.
	parts := strings.SplitN(c.WALE.EnvDir, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("malformed WALE_S3_PREFIX %q", c.WALE.EnvDir)
	}
	return parts[0], parts[1], nil
}

// restoreFromArchive restores the data directory from the latest archived
// backup via WAL-E, used when shouldUseArchive returns true.
func (p *Postgres) restoreFromArchive() error {
	backup, err := p.latestBackup()
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p.cfg.DataDir); err != nil {
		return fmt.Errorf("clear data dir before archive restore: %w", err)
	}
	if err := os.MkdirAll(p.cfg.DataDir, 0700); err != nil {
		return err
	}
	if err := runCmd("envdir", p.cfg.WALE.EnvDir, "wal-e", "backup-fetch", p.cfg.DataDir, backup.Name); err != nil {
		return fmt.Errorf("%w: wal-e backup-fetch %s: %v", haerr.ErrArchiveRestoreFailed, backup.Name, err)
	}
	return nil
}
