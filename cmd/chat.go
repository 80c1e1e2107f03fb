package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/adapters/stt"
	"github.com/satriahrh/voicechat/adapters/tts"
	"github.com/satriahrh/voicechat/config"
	"github.com/satriahrh/voicechat/domain/entities"
)

func newChatCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Talk to the assistant from the terminal",
		Long: "Each line read from stdin is treated as a finished transcript. " +
			"When a question is given as arguments it is asked once and the command exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			in := cmd.InOrStdin()
			if len(args) > 0 {
				in = strings.NewReader(strings.Join(args, " ") + "\n")
			}
			return chat(cmd.Context(), cfg, logger, in, cmd.OutOrStdout(), quiet)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print state changes")
	return cmd
}

func chat(ctx context.Context, cfg *config.Config, logger *zap.Logger, in io.Reader, out io.Writer, quiet bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(context.Background(), logger)

	speaker := tts.NewConsoleSpeaker(out, "assistant> ")
	orchestrator := svc.conversations(cfg, logger).Start(ctx, uuid.NewString(), speaker)
	defer orchestrator.Close()

	if !quiet {
		var thinking bool
		unsubscribe := orchestrator.Subscribe(func(s entities.State) {
			if s.Thinking && !thinking {
				fmt.Fprintln(out, "...")
			}
			thinking = s.Thinking
			if s.HasError() {
				fmt.Fprintln(out, "error:", s.Error)
			}
		})
		defer unsubscribe()
	}

	feed := stt.NewFeed()
	detach := orchestrator.Attach(feed)
	defer detach()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		feed.StartListening(ctx)
		feed.Publish(entities.TranscriptUpdate{Transcript: line, Listening: true})
		feed.StopListening(ctx)

		orchestrator.Wait()
		if ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}
