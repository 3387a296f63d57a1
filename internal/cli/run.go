package cli

import (
	"fmt"

	"mailtriage/internal/triage/usecase"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var accountID string
	var all bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Triage one batch of unprocessed mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var accounts []string
			if all {
				for _, ac := range a.cfg.Accounts {
					accounts = append(accounts, ac.ID)
				}
			} else {
				ac, err := a.account(accountID)
				if err != nil {
					return err
				}
				accounts = append(accounts, ac.ID)
			}

			prompter := consolePrompter()
			for _, id := range accounts {
				ac, err := a.account(id)
				if err != nil {
					return err
				}
				sess, err := a.session(ac, prompter)
				if err != nil {
					return err
				}
				stats, err := sess.Run(ctx, ac.ID)
				if err != nil {
					return fmt.Errorf("account %s: %w", ac.ID, err)
				}
				printStats(cmd, stats)
				if stats.Aborted {
					break
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account to triage (defaults to the first configured)")
	cmd.Flags().BoolVar(&all, "all", false, "triage every configured account in turn")
	return cmd
}

func printStats(cmd *cobra.Command, stats usecase.SessionStats) {
	cmd.Printf("account %s: %d processed (%d kept, %d discarded), %d auto-accepted, %d skipped, %d corrections, %d pending\n",
		stats.AccountID, stats.Processed, stats.Kept, stats.Discarded,
		stats.AutoAccepted, stats.Skipped, stats.Corrections, stats.Pending)
}
