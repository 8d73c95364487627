package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMailboxCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailbox",
		Short: "Inspect and test the relay mailbox provider",
	}
	cmd.AddCommand(newMailboxTestCmd(app), newMailboxListCmd(app))
	return cmd
}

// newMailboxTestCmd provisions a mask and immediately releases it, proving
// the relay credentials work before a long run depends on them.
func newMailboxTestCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Provision and release a throwaway mask to verify relay access",
		RunE: func(cmd *cobra.Command, _ []string) error {
			handle, err := app.mailboxes.Provision(cmd.Context(), "ae-mailbox-test")
			if err != nil {
				return fmt.Errorf("provision test mask: %w", err)
			}

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s (mask %s)\n",
				handle.ForwardingAddress, handle.ProviderID); err != nil {
				return err
			}

			if err := app.mailboxes.Deactivate(cmd.Context(), handle); err != nil {
				return fmt.Errorf("release test mask: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "released")
			return err
		},
	}
}

func newMailboxListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List relay masks on the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			masks, err := app.mailboxes.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list masks: %w", err)
			}

			if len(masks) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no masks")
				return err
			}
			for _, mask := range masks {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n",
					mask.ProviderID, mask.ForwardingAddress); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
