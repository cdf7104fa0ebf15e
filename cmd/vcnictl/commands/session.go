package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vcni/internal/bootstrap"
	"vcni/internal/ports"
)

const speechWaitLimit = 2 * time.Minute

var (
	listenOnce     bool
	listenPartials bool
	askQuiet       bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen hands-free until interrupted",
	Long: `Open the microphone and stream it to the transcription service.

Finalized utterances are sent to the assistant and the answer is spoken.
Listening resumes after each answer unless auto resume is disabled.

Example:
  vcnictl listen --partials`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		console := NewConsole(cmd.OutOrStdout(), noColor, listenPartials)
		services, err := bootstrap.BuildWithConfig(cfg, console)
		if err != nil {
			return err
		}
		defer services.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := services.Orchestrator.StartListening(ctx); err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case result := <-console.Results():
				if !listenOnce {
					continue
				}
				if services.Speaker != nil && strings.TrimSpace(result.Response) != "" {
					waitForSpeech(ctx, console.SpeechDone(), speechWaitLimit)
				}
				return nil
			}
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Send a typed command to the assistant",
	Long: `Send text to the assistant as if it had been spoken.

The answer is printed and, unless --quiet is set, spoken.

Example:
  vcnictl ask "turn on the kitchen lights"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Session.AutoResume = false
		if askQuiet {
			cfg.Speech.Enabled = false
		}

		console := NewConsole(cmd.OutOrStdout(), noColor, false)
		services, err := bootstrap.BuildWithConfig(cfg, console)
		if err != nil {
			return err
		}
		defer services.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := services.Orchestrator.ProcessCommand(ctx, strings.Join(args, " "), true); err != nil {
			return err
		}
		result, ok := services.Orchestrator.LastResult()
		if !ok {
			return errors.New("assistant did not return a result")
		}
		if services.Speaker != nil && strings.TrimSpace(result.Response) != "" {
			waitForSpeech(ctx, console.SpeechDone(), speechWaitLimit)
		}
		return nil
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Speak text through the synthesis chain",
	Long: `Speak text with the backend TTS stream, falling back to the
on-device engine when the stream fails.

Example:
  vcnictl say "hello there"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Speech.Enabled = true

		console := NewConsole(cmd.OutOrStdout(), noColor, false)
		services, err := bootstrap.BuildWithConfig(cfg, console)
		if err != nil {
			return err
		}
		defer services.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		started := time.Now()
		err = services.Speaker.Speak(ctx, strings.Join(args, " "), ports.SpeechCallbacks{
			OnStart: func() { console.SpeakingChanged(true) },
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		console.println(console.styles.State.Render(fmt.Sprintf("done in %s", time.Since(started).Round(time.Millisecond))))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch a transcription credential from the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Speech.Enabled = false

		console := NewConsole(cmd.OutOrStdout(), noColor, false)
		services, err := bootstrap.BuildWithConfig(cfg, console)
		if err != nil {
			return err
		}
		defer services.Close()

		token, err := services.Tokens.GetToken(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token %s (valid for %s)\n", maskToken(token), cfg.Backend.TokenTTL)
		return nil
	},
}

func init() {
	listenCmd.Flags().BoolVar(&listenOnce, "once", false, "exit after the first answer")
	listenCmd.Flags().BoolVar(&listenPartials, "partials", false, "print interim transcripts")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "print the answer without speaking it")
}

// waitForSpeech blocks until playback ends, ctx is done or limit elapses.
func waitForSpeech(ctx context.Context, done <-chan struct{}, limit time.Duration) {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-done:
	case <-ctx.Done():
	case <-timer.C:
	}
}

// maskToken keeps a short prefix so tokens can be told apart in logs.
func maskToken(token string) string {
	const visible = 6
	if len(token) <= visible {
		return strings.Repeat("*", len(token))
	}
	return token[:visible] + strings.Repeat("*", min(len(token)-visible, 12))
}
