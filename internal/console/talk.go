package console

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"picturetalk-backend/internal/catalog"
	"picturetalk-backend/internal/presentation"
	"picturetalk-backend/internal/services"
	"picturetalk-backend/internal/turn"
)

const endWait = 2 * time.Second

type talkOptions struct {
	audioDir    string
	greet       bool
	noImages    bool
	settleDelay time.Duration
}

func newTalkCmd(opts *options) *cobra.Command {
	talk := &talkOptions{}

	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Hold a conversation, one typed line per spoken sentence",
		Long: "Each line you type is sent as if it had been spoken. Commands:\n" +
			"  /pause   pause the conversation\n" +
			"  /resume  resume after a pause\n" +
			"  /picture switch to another picture\n" +
			"  /end     finish the conversation and exit",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTalk(cmd, opts, talk)
		},
	}
	cmd.Flags().StringVar(&talk.audioDir, "audio-out", "", "directory to save spoken replies in (discarded when empty)")
	cmd.Flags().BoolVar(&talk.greet, "greet", true, "let the assistant speak first")
	cmd.Flags().BoolVar(&talk.noImages, "no-images", false, "do not send the picture to the assistant")
	cmd.Flags().DurationVar(&talk.settleDelay, "settle-delay", 300*time.Millisecond, "pause after each reply before listening again")
	return cmd
}

func runTalk(cmd *cobra.Command, opts *options, talk *talkOptions) error {
	if talk.audioDir != "" {
		if err := os.MkdirAll(talk.audioDir, 0o755); err != nil {
			return fmt.Errorf("create audio dir: %w", err)
		}
	}

	client := opts.client()
	out := &printer{out: cmd.OutOrStdout(), stopped: make(chan struct{}, 1)}

	var load turn.LoadFunc
	if !talk.noImages {
		load = services.NewImageFetcher(nil).Load
	}
	images := turn.NewCatalogImages(catalog.Default(), load)
	images.OnAdvance = func(img catalog.Image) { out.println("🖼  %s", img.Context) }

	mic := &keyboardMic{}
	audio := &fileAudio{dir: talk.audioDir}

	cfg := turn.DefaultConfig()
	cfg.GreetOnStart = talk.greet
	cfg.PlaybackSettleDelay = talk.settleDelay
	cfg.MicReleaseDelay = 0
	cfg.SpeechText = presentation.StripDirectives

	coord := turn.New(cfg, turn.Deps{
		Mic:      mic,
		Chat:     client,
		Speech:   client,
		Audio:    audio,
		Images:   images,
		Observer: out,
	})
	audio.ended = coord.PlaybackEnded
	audio.failed = coord.PlaybackFailed

	ctx, cancel := context.WithCancel(cmd.Context())
	defer func() {
		cancel()
		<-coord.Done()
	}()
	go coord.Run(ctx)

	out.println("🖼  %s", images.Current().Context)
	coord.Start()

	scanner := bufio.NewScanner(cmd.InOrStdin())
read:
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/pause":
			coord.Pause()
		case "/resume":
			coord.Resume()
		case "/picture":
			coord.NewPicture()
		case "/end", "/quit":
			break read
		default:
			if !mic.Capturing() {
				out.println("%s", presentation.Status(coord.Snapshot()))
				continue
			}
			coord.Transcript(line, true)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if coord.Snapshot().Active {
		coord.End()
		select {
		case <-out.stopped:
		case <-time.After(endWait):
		}
	}
	return nil
}
