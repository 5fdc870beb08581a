package main

import (
	"context"
	"fmt"
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/function61/mongos3backup/pkg/mbbackup"
	"github.com/function61/mongos3backup/pkg/mbconfig"
	"github.com/function61/mongos3backup/pkg/mbdump"
	"github.com/function61/mongos3backup/pkg/mblog"
	"github.com/function61/mongos3backup/pkg/mbstorage"
	"github.com/juju/clock"
	"github.com/spf13/cobra"
)

func main() {
	retentionDays := mbconfig.DefaultRetentionDays

	app := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Backs up MongoDB to S3 and prunes expired backups",
		Version: dynversion.Version,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(withBackupper(true, func(ctx context.Context, backupper *mbbackup.Backupper, logger *mblog.Logger) error {
				if _, err := backupper.Run(ctx, runOptions(cmd, retentionDays)); err != nil {
					return err
				}

				mblog.Levels("main", logger).Info.Println("backup process completed successfully")

				return nil
			}))
		},
	}

	app.Flags().IntVarP(&retentionDays, "retention-days", "", retentionDays, "Override "+mbconfig.EnvRetentionDays+" for this run")

	app.AddCommand(schedulerEntry())
	app.AddCommand(configEntry())
	app.AddCommand(storageEntry())
	app.AddCommand(restoreEntry())
	app.AddCommand(sweepEntry())

	exitIfError(app.Execute())
}

// reads & validates config, sets up logging and the pipeline's collaborators
func withBackupper(
	needsDatabase bool,
	fn func(ctx context.Context, backupper *mbbackup.Backupper, logger *mblog.Logger) error,
) error {
	conf, err := mbconfig.ReadFromEnv()
	if err != nil {
		return err
	}

	logger, err := mblog.New(conf.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	logl := mblog.Levels("main", logger)

	// before constructing anything, so that every missing variable gets reported
	validate := conf.ValidateStorage
	if needsDatabase {
		validate = conf.Validate
	}
	if err := validate(); err != nil {
		logl.Error.Println(err.Error())
		return err
	}

	storage, err := mbstorage.NewS3Storage(conf.Storage.S3, mblog.Levels("s3", logger))
	if err != nil {
		logl.Error.Println(err.Error())
		return err
	}

	dumper := mbdump.NewMongoDumper(conf.DumpCommand, conf.MongoURI, mblog.Levels("dump", logger))

	backupper := mbbackup.New(conf, dumper, storage, clock.WallClock, logger)

	return fn(
		ossignal.InterruptOrTerminateBackgroundCtx(logex.Prefix("main", logger.Logger)),
		backupper,
		logger)
}

func runOptions(cmd *cobra.Command, retentionDays int) mbbackup.RunOptions {
	if !cmd.Flags().Changed("retention-days") {
		return mbbackup.RunOptions{}
	}

	return mbbackup.RunOptions{RetentionDays: &retentionDays}
}

// exit status is the only machine-readable result
func exitIfError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
