package main

import (
	"github.com/spf13/cobra"

	"github.com/moc-dev/moc-runtime/config"
)

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "moc",
		Short:         "Serve WebAssembly modules and static blobs over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a TOML or YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newVersionCmd(),
		newSchemaCmd(),
		newTokenCmd(opts),
	)
	return cmd
}
