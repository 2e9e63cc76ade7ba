// Package console is a terminal client for the picturetalk API. Typed lines
// stand in for recognized speech and replies are saved as MP3 files.
package console

import (
	"time"

	"github.com/spf13/cobra"

	"picturetalk-backend/internal/apiclient"
)

const defaultServer = "http://localhost:3001"

type options struct {
	server  string
	timeout time.Duration
}

func (o *options) client() *apiclient.Client {
	return apiclient.New(o.server, apiclient.WithTimeout(o.timeout))
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "picturetalk",
		Short:         "Talk about pictures with the picturetalk assistant from a terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "picturetalk API base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "per-request timeout")

	rootCmd.AddCommand(
		newHealthCmd(opts),
		newSayCmd(opts),
		newTalkCmd(opts),
	)
	return rootCmd
}
