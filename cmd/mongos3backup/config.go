package main

import (
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/mongos3backup/pkg/mbconfig"
	"github.com/spf13/cobra"
)

func configEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Commands related to the " + mbconfig.EnvConf + " JSON configuration",
		Version: dynversion.Version,
	}

	cmd.AddCommand(configExampleEntry())
	cmd.AddCommand(configValidateEntry())

	return cmd
}

func configValidateEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validates your JSON config (from stdin)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf := mbconfig.Defaults()

			exitIfError(jsonfile.Unmarshal(os.Stdin, conf, true))
			exitIfError(conf.Validate())
		},
	}
}

func configExampleEntry() *cobra.Command {
	kitchenSink := false

	cmd := &cobra.Command{
		Use:   "example",
		Short: "Shows you an example JSON config",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			exitIfError(jsonfile.Marshal(os.Stdout, mbconfig.ExampleConfig(kitchenSink)))
		},
	}

	cmd.Flags().BoolVarP(&kitchenSink, "kitchensink", "", kitchenSink, "All the possible configuration option examples")

	return cmd
}
