// Sequences one backup run: validate config, dump, compress, upload, clean up, sweep
package mbbackup

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/function61/gokit/logex"
	"github.com/function61/mongos3backup/pkg/mbarchive"
	"github.com/function61/mongos3backup/pkg/mbconfig"
	"github.com/function61/mongos3backup/pkg/mbdump"
	"github.com/function61/mongos3backup/pkg/mblog"
	"github.com/function61/mongos3backup/pkg/mbnaming"
	"github.com/function61/mongos3backup/pkg/mbretention"
	"github.com/function61/mongos3backup/pkg/mbstorage"
	"github.com/function61/mongos3backup/pkg/mbtypes"
	"github.com/juju/clock"
)

type Dumper interface {
	Dump(ctx context.Context, outDir string) (*mbdump.DumpResult, error)
}

type RunOptions struct {
	RetentionDays *int // overrides the configured retention for this run
}

type Result struct {
	Job         *mbtypes.BackupJob
	ArchiveSize int64
	Deleted     []string // by the retention sweep
}

type Backupper struct {
	conf    *mbconfig.Config
	dumper  Dumper
	storage mbstorage.Storage
	sweeper *mbretention.Sweeper
	layout  *mbnaming.Layout
	clock   clock.Clock
	logl    *logex.Leveled

	removeAll func(path string) error
}

func New(
	conf *mbconfig.Config,
	dumper Dumper,
	storage mbstorage.Storage,
	clk clock.Clock,
	logger *mblog.Logger,
) *Backupper {
	layout := mbnaming.NewLayout(conf.Backup.Dir, conf.Backup.Prefix)

	return &Backupper{
		conf:    conf,
		dumper:  dumper,
		storage: storage,
		sweeper: mbretention.NewSweeper(storage, clk, layout, mblog.Levels("sweep", logger)),
		layout:  layout,
		clock:   clk,
		logl:    mblog.Levels("backup", logger),

		removeAll: os.RemoveAll,
	}
}

func (b *Backupper) Layout() *mbnaming.Layout {
	return b.layout
}

// cron spec (with seconds) for the scheduler
func (b *Backupper) Schedule() string {
	if b.conf.Backup.Schedule == "" {
		return mbconfig.DefaultSchedule
	}

	return b.conf.Backup.Schedule
}

// any error aborts the run. the error is a *StageError naming where it happened. when
// only the sweep failed, the result is returned too because the backup itself is stored.
func (b *Backupper) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	runStarted := b.clock.Now()

	b.enter(StageValidatingConfig)

	if err := b.conf.Validate(); err != nil {
		return nil, b.fail(StageValidatingConfig, err)
	}

	retentionDays := b.conf.Backup.RetentionDays
	if opts.RetentionDays != nil {
		retentionDays = *opts.RetentionDays
	}
	if retentionDays < 0 {
		return nil, b.fail(StageValidatingConfig, &mbconfig.ConfigurationError{Reason: "retention days must not be negative"})
	}

	bucket := b.conf.Storage.S3.Bucket

	b.enter(StageDumping)

	job, err := b.layout.NewJob(runStarted)
	if err != nil {
		return nil, b.fail(StageDumping, err)
	}

	uploaded := false
	defer func() {
		if !uploaded { // failed run. don't leave dumps lying around
			b.removeLocalFiles(job)
		}
	}()

	if _, err := b.dumper.Dump(ctx, job.DumpDir); err != nil {
		return nil, b.fail(StageDumping, err)
	}

	b.enter(StageCompressing)

	archivePath, err := mbarchive.Compress(job.DumpDir, b.layout)
	if err != nil {
		return nil, b.fail(StageCompressing, err)
	}
	job.ArchivePath = archivePath

	result := &Result{Job: job}

	if info, err := os.Stat(job.ArchivePath); err == nil {
		result.ArchiveSize = info.Size()
		b.logl.Info.Printf("compressed to %s (%s)", job.ArchivePath, humanize.Bytes(uint64(info.Size())))
	}

	b.enter(StageUploading)

	uploadStarted := b.clock.Now()

	if err := b.storage.Upload(ctx, job.ArchivePath, bucket, job.ObjectKey); err != nil {
		return nil, b.fail(StageUploading, err)
	}
	uploaded = true

	b.logl.Debug.Printf("upload completed in %s", b.clock.Now().Sub(uploadStarted))

	b.enter(StageLocalCleanup)

	// the backup is safe in the bucket already. leftovers are logged, not fatal
	b.removeLocalFiles(job)

	b.enter(StageSweeping)

	deleted, err := b.sweeper.Sweep(ctx, bucket, retentionDays)
	if err != nil {
		return result, b.fail(StageSweeping, err)
	}
	result.Deleted = deleted

	b.enter(StageDone)

	b.logl.Info.Printf(
		"backup %s completed in %s",
		job.ObjectKey,
		b.clock.Now().Sub(runStarted).Round(time.Millisecond))

	return result, nil
}

// tolerates either path being gone already
func (b *Backupper) removeLocalFiles(job *mbtypes.BackupJob) {
	if err := b.removeAll(job.DumpDir); err != nil {
		b.logl.Error.Printf("error removing dump directory: %v", err)
	}

	if err := b.removeAll(job.ArchivePath); err != nil {
		b.logl.Error.Printf("error removing archive: %v", err)
	}
}

func (b *Backupper) enter(stage Stage) {
	b.logl.Info.Printf("stage: %s", stage)
}

func (b *Backupper) fail(stage Stage, err error) error {
	b.logl.Error.Printf("%s failed: %v", stage, err)

	return &StageError{stage, err}
}
