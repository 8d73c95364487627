package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dstn-dev/autoenroll/internal/ctxlog"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "ae",
		Short:         "Auto Enroll (ae): unattended lab-platform account registration",
		Long:          "ae registers lab-platform accounts end to end: it generates an identity, provisions a relay mailbox, drives the signup form in a headless browser, solves the audio captcha, confirms the account over email, and extracts the lab API key.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(app),
		newAccountsCmd(app),
		newMailboxCmd(app),
	)

	return rootCmd
}
