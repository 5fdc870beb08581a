package main

import (
	"context"
	"fmt"
	"time"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/stopper"
	"github.com/function61/gokit/systemdinstaller"
	"github.com/function61/mongos3backup/pkg/mbbackup"
	"github.com/function61/mongos3backup/pkg/mblog"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// same fields as cron.WithSeconds()
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	return schedule, nil
}

func runScheduler(
	ctx context.Context,
	backupper *mbbackup.Backupper,
	schedule cron.Schedule,
	logger *mblog.Logger,
	stop *stopper.Stopper,
) {
	defer stop.Done()
	logl := mblog.Levels("scheduler", logger)

	// a run still going on when the next one is due makes the next one skip
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logex.Prefix("cron", logger.Logger)))))

	scheduler.Schedule(schedule, cron.FuncJob(func() {
		logl.Info.Println("it's backup time!")

		// failures are reported but never stop the scheduler
		if _, err := backupper.Run(ctx, mbbackup.RunOptions{}); err != nil {
			logl.Error.Printf("error: %v", err)
		} else {
			logl.Info.Println("backup succeeded :)")
		}

		logl.Info.Printf("next backup will be at: %s", schedule.Next(time.Now()).Format(time.RFC3339))
	}))

	scheduler.Start()

	logl.Info.Println("started")
	defer logl.Info.Println("stopped")

	logl.Info.Printf("next backup will be at: %s", schedule.Next(time.Now()).Format(time.RFC3339))

	<-stop.Signal

	// waits for a backup in progress
	<-scheduler.Stop().Done()
}

// what the installed service runs, from the binary's directory (where .env is looked up)
var schedulerServiceArgs = []string{"scheduler", "run"}

func schedulerEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Scheduled backup related commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run a scheduler to periodically take backups",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(withBackupper(true, func(ctx context.Context, backupper *mbbackup.Backupper, logger *mblog.Logger) error {
				logl := mblog.Levels("main", logger)

				schedule, err := parseSchedule(backupper.Schedule())
				if err != nil {
					return err
				}

				workers := stopper.NewManager()

				go runScheduler(ctx, backupper, schedule, logger, workers.Stopper())

				logl.Info.Printf("Started %s", dynversion.Version)

				// SIGINT or SIGTERM. the same cancellation aborts a backup in progress
				// (mongodump gets killed), and stopping waits for that run to clean up.
				<-ctx.Done()

				workers.StopAllWorkersAndWait()

				return nil
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "install-systemd-service-file",
		Short: "Install scheduled backups as a system service",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			service := systemdinstaller.SystemdServiceFile(
				"mongos3backup",
				"MongoDB backups to S3",
				systemdinstaller.Args(schedulerServiceArgs...),
				systemdinstaller.RequireNetworkOnline)

			exitIfError(systemdinstaller.Install(service))

			fmt.Println(systemdinstaller.GetHints(service))
			fmt.Println("Configuration is read from .env next to the binary, or from the service's environment.")
		},
	})

	return cmd
}
