package mbbackup

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/function61/mongos3backup/pkg/mbarchive"
	"github.com/function61/mongos3backup/pkg/mbnaming"
	"github.com/function61/mongos3backup/pkg/mbstorage"
)

// downloads a backup into the temp dir and extracts it into destDir. the dump directory
// ends up as destDir/<backup name>/, ready for mongorestore.
func (b *Backupper) Restore(ctx context.Context, key string, destDir string) (string, error) {
	if err := b.conf.ValidateStorage(); err != nil {
		return "", b.fail(StageValidatingConfig, err)
	}

	tempDir := b.conf.Backup.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	if err := os.MkdirAll(tempDir, 0700); err != nil {
		return "", err
	}

	downloadPath := filepath.Join(tempDir, mbnaming.ObjectKey(key))

	defer func() {
		if err := os.Remove(downloadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.logl.Error.Printf("error removing downloaded archive: %v", err)
		}
	}()

	if _, err := b.storage.Download(ctx, b.conf.Storage.S3.Bucket, key, downloadPath); err != nil {
		return "", err
	}

	if ts, isBackup := b.layout.ParseTimestamp(key); isBackup {
		b.logl.Info.Printf("restoring backup taken at %s", ts.Format("2006-01-02 15:04:05Z"))
	}

	return mbarchive.Decompress(downloadPath, destDir)
}

// the retention sweep on its own, without taking a backup
func (b *Backupper) Sweep(ctx context.Context, opts RunOptions) ([]string, error) {
	if err := b.conf.ValidateStorage(); err != nil {
		return nil, b.fail(StageValidatingConfig, err)
	}

	retentionDays := b.conf.Backup.RetentionDays
	if opts.RetentionDays != nil {
		retentionDays = *opts.RetentionDays
	}

	deleted, err := b.sweeper.Sweep(ctx, b.conf.Storage.S3.Bucket, retentionDays)
	if err != nil {
		return nil, b.fail(StageSweeping, err)
	}

	return deleted, nil
}

func (b *Backupper) List(ctx context.Context, prefix string) ([]mbstorage.RemoteObject, error) {
	return b.storage.List(ctx, b.conf.Storage.S3.Bucket, prefix)
}

// the archive as-is, without extracting
func (b *Backupper) Download(ctx context.Context, key string, destPath string) (string, error) {
	return b.storage.Download(ctx, b.conf.Storage.S3.Bucket, key, destPath)
}
