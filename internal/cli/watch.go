package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"mailtriage/internal/notification"
	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/usecase"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Triage continuously, driven by Gmail push notifications",
		Long: `watch subscribes to the configured Pub/Sub topic for Gmail mailbox
change notifications and runs a triage pass whenever mail arrives. Threads
below the confidence threshold are left pending rather than prompted, so
watch mode never blocks on a terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.GoogleProjectID == "" {
				return fmt.Errorf("GOOGLE_PROJECT_ID not set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Unattended mode: no terminal. Low-confidence threads stay
			// pending and are picked up by the next interactive run.
			sessions := make(map[string]*usecase.Session, len(a.cfg.Accounts))
			addresses := make(map[string]string, len(a.cfg.Accounts))
			for _, ac := range a.cfg.Accounts {
				sess, err := a.session(ac, skipPrompter{})
				if err != nil {
					return err
				}
				sessions[ac.ID] = sess
				addr := ac.GmailAddress
				if addr == "" {
					addr = ac.ID
				}
				addresses[addr] = ac.ID
			}

			var mu sync.Mutex
			trigger := func(ctx context.Context, accountID string) error {
				// One pass at a time; Gmail can burst notifications.
				mu.Lock()
				defer mu.Unlock()
				sess, ok := sessions[accountID]
				if !ok {
					return fmt.Errorf("no session for account %s", accountID)
				}
				stats, err := sess.Run(ctx, accountID)
				if err != nil {
					return err
				}
				a.log.Info("watch pass complete",
					zap.String("account", accountID),
					zap.Int("processed", stats.Processed),
					zap.Int("pending", stats.Pending))
				return nil
			}

			svc, err := notification.NewService(a.cfg.GoogleProjectID, a.cfg.GmailPubSubTopic,
				a.cfg.GoogleCredentialsFile, addresses, trigger, a.log)
			if err != nil {
				return err
			}
			defer svc.Close()

			// Initial pass picks up whatever accumulated since the last run.
			for _, ac := range a.cfg.Accounts {
				if err := trigger(ctx, ac.ID); err != nil {
					a.log.Error("initial pass failed", zap.String("account", ac.ID), zap.Error(err))
				}
			}

			return svc.Start(ctx)
		},
	}
	return cmd
}

// skipPrompter stands in for the operator in unattended mode: every thread
// below the confidence threshold is skipped, so it comes back in the next
// interactive run. Rule conflicts are never auto-resolved; the learner is
// wired without a prompter in this mode, so they stay pending for the rules
// command.
type skipPrompter struct{}

func (skipPrompter) PresentThread(ctx context.Context, t domain.Thread, d domain.ThreadDecision) (domain.HumanAction, error) {
	return domain.HumanAction{Kind: domain.ActionSkip}, nil
}

func (skipPrompter) ResolveConflict(ctx context.Context, existing, proposed domain.Rule) (domain.ConflictResolution, error) {
	return domain.ConflictKeepExisting, fmt.Errorf("conflict resolution requires an operator")
}
