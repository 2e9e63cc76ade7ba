package console

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"picturetalk-backend/internal/presentation"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := opts.client().HealthCheck(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", health.Status, health.Timestamp.Format("15:04:05"))
			return err
		},
	}
}

func newSayCmd(opts *options) *cobra.Command {
	var speakTo string

	cmd := &cobra.Command{
		Use:   "say <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			message := strings.Join(args, " ")

			reply, err := client.SendMessage(cmd.Context(), message, nil, "")
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), presentation.StripDirectives(reply)); err != nil {
				return err
			}

			if speakTo == "" {
				return nil
			}
			text := presentation.StripDirectives(reply)
			if text == "" {
				return nil
			}
			uri, err := client.SynthesizeSpeech(cmd.Context(), text)
			if err != nil {
				return err
			}
			audio, err := decodeDataURI(uri)
			if err != nil {
				return err
			}
			return os.WriteFile(speakTo, audio, 0o644)
		},
	}
	cmd.Flags().StringVar(&speakTo, "speak", "", "also synthesize the reply into this MP3 file")
	return cmd
}
