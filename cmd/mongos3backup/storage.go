package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/function61/mongos3backup/pkg/mbbackup"
	"github.com/function61/mongos3backup/pkg/mblog"
	"github.com/function61/mongos3backup/pkg/mbnaming"
	"github.com/function61/mongos3backup/pkg/mbstorage"
	"github.com/spf13/cobra"
)

func storageEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Storage related commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls [prefix]",
		Short: "List objects in the backup bucket",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			prefix := ""
			if len(args) > 0 {
				prefix = args[0]
			}

			exitIfError(withBackupper(false, func(ctx context.Context, backupper *mbbackup.Backupper, logger *mblog.Logger) error {
				objects, err := backupper.List(ctx, prefix)
				if err != nil {
					return err
				}

				return printListing(os.Stdout, objects, backupper.Layout())
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key] [destPath]",
		Short: "Download a backup from storage as-is",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(withBackupper(false, func(ctx context.Context, backupper *mbbackup.Backupper, logger *mblog.Logger) error {
				_, err := backupper.Download(ctx, args[0], args[1])
				return err
			}))
		},
	})

	return cmd
}

func restoreEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [key] [destDir]",
		Short: "Download a backup and extract it for mongorestore",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(withBackupper(false, func(ctx context.Context, backupper *mbbackup.Backupper, logger *mblog.Logger) error {
				destDir, err := backupper.Restore(ctx, args[0], args[1])
				if err != nil {
					return err
				}

				mblog.Levels("main", logger).Info.Printf("restored %s into %s", args[0], destDir)

				return nil
			}))
		},
	}
}

func sweepEntry() *cobra.Command {
	retentionDays := 0

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired backups without taking a new one",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(withBackupper(false, func(ctx context.Context, backupper *mbbackup.Backupper, logger *mblog.Logger) error {
				deleted, err := backupper.Sweep(ctx, runOptions(cmd, retentionDays))
				if err != nil {
					return err
				}

				for _, key := range deleted {
					fmt.Println(key)
				}

				return nil
			}))
		},
	}

	cmd.Flags().IntVarP(&retentionDays, "retention-days", "", retentionDays, "Override configured retention")

	return cmd
}

func printListing(out io.Writer, objects []mbstorage.RemoteObject, layout *mbnaming.Layout) error {
	tabulate := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tabulate, "KEY\tLAST MODIFIED\tSIZE\tBACKUP TAKEN")

	for _, obj := range objects {
		taken := "-"
		if ts, isBackup := layout.ParseTimestamp(obj.Key); isBackup {
			taken = ts.Format("2006-01-02 15:04:05Z")
		}

		fmt.Fprintf(
			tabulate,
			"%s\t%s\t%s\t%s\n",
			obj.Key,
			obj.LastModified.UTC().Format("2006-01-02 15:04:05Z"),
			humanize.Bytes(uint64(obj.Size)),
			taken)
	}

	return tabulate.Flush()
}
