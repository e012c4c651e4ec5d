package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "blogsync",
		Short: "Write blog posts offline and publish them when you are ready",
		Long: `blogsync keeps posts in a local database and reconciles them with a
WordPress-compatible REST API. Everything except sync, fetch, upload and
remote deletes works without a network connection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newNewCommand(opts),
		newEditCommand(opts),
		newListCommand(opts),
		newShowCommand(opts),
		newTermsCommand(opts),
		newSyncCommand(opts),
		newFetchCommand(opts),
		newDeleteCommand(opts),
		newUploadCommand(opts),
		newWatchCommand(opts),
	)

	return cmd
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(opts *rootOptions, run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}
