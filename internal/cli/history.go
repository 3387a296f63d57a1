package cli

import (
	"fmt"
	"sort"
	"strings"

	"mailtriage/internal/triage/domain"
	"mailtriage/pkg/fuzzy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and undo recorded decisions",
	}
	cmd.AddCommand(newHistoryStatsCmd(a))
	cmd.AddCommand(newHistoryShowCmd(a))
	cmd.AddCommand(newHistoryFindCmd(a))
	cmd.AddCommand(newHistoryUndoCmd(a))
	return cmd
}

func newHistoryFindCmd(a *app) *cobra.Command {
	var accountID string
	var limit int

	cmd := &cobra.Command{
		Use:   "find <query>",
		Short: "Search decisions by sender or subject",
		Long: `find fuzzy-matches the query against the sender and subject of
recorded decisions, so a half-remembered name is enough to locate the
key for show or undo.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, err := a.account(accountID)
			if err != nil {
				return err
			}
			entries, err := a.ledger.Recent(ac.ID, 0)
			if err != nil {
				return err
			}

			query := args[0]
			type hit struct {
				entry domain.LedgerEntry
				score float64
			}
			var hits []hit
			seen := make(map[string]bool)
			for _, e := range entries {
				// Entries are newest first; keep one hit per key.
				if seen[e.Key] {
					continue
				}
				if s := fuzzy.Score(query, e.Sender, e.Subject); s > 0 {
					hits = append(hits, hit{entry: e, score: s})
					seen[e.Key] = true
				}
			}
			sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
			if limit > 0 && len(hits) > limit {
				hits = hits[:limit]
			}

			if len(hits) == 0 {
				cmd.Printf("no decisions match %q\n", query)
				return nil
			}
			for _, h := range hits {
				e := h.entry
				cmd.Printf("%s  %-8s  %s  %s\n",
					e.CreatedAt.Format("2006-01-02"), e.Outcome, e.Key, e.Sender)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account (defaults to the first configured)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	return cmd
}

func newHistoryStatsCmd(a *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show outcome counts for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, err := a.account(accountID)
			if err != nil {
				return err
			}
			stats, err := a.ledger.Stats(ac.ID)
			if err != nil {
				return err
			}
			cmd.Printf("account %s: %d entries\n", ac.ID, stats.Total)
			cmd.Printf("  accepted: %d\n", stats.Accepted)
			cmd.Printf("  rejected: %d\n", stats.Rejected)
			cmd.Printf("  skipped:  %d\n", stats.Skipped)
			cmd.Printf("  updated:  %d\n", stats.Updated)
			cmd.Printf("  undone:   %d\n", stats.Undone)
			return nil
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account (defaults to the first configured)")
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Show the full decision trail for a thread or message key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, err := a.account(accountID)
			if err != nil {
				return err
			}
			entries, err := a.ledger.History(ac.ID, args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Printf("no entries for %s\n", args[0])
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-8s  recommended %s (%.2f)  applied %s",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Outcome, e.RecCategory, e.RecConfidence, e.Applied)
				if e.HumanCorrection != "" {
					line += "  // " + e.HumanCorrection
				}
				cmd.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account (defaults to the first configured)")
	return cmd
}

func newHistoryUndoCmd(a *app) *cobra.Command {
	var accountID string
	var restore bool

	cmd := &cobra.Command{
		Use:   "undo <key>",
		Short: "Reopen a decided key so it is re-presented next run",
		Long: `undo appends an UNDONE entry for the key. The prior entries are kept;
the key simply stops counting as processed. With --restore, a discarded
message also gets its junk label removed and moves back to the inbox.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, err := a.account(accountID)
			if err != nil {
				return err
			}
			key := args[0]

			entry, err := a.ledger.Undo(ac.ID, key)
			if err != nil {
				return err
			}
			cmd.Printf("reopened %s (last applied %s)\n", key, entry.Applied)

			if restore && entry.Applied == domain.CategoryJunkCandidate {
				uid, ok := strings.CutPrefix(key, "msg:")
				if !ok {
					cmd.Println("note: --restore only moves single messages; thread keys need manual cleanup")
					return nil
				}
				provider, err := a.provider(ac)
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				if err := provider.RemoveLabel(ctx, uid, a.cfg.JunkLabel); err != nil {
					a.log.Warn("failed to remove junk label", zap.String("uid", uid), zap.Error(err))
				}
				if err := provider.ApplyLabel(ctx, uid, "INBOX"); err != nil {
					a.log.Warn("failed to restore to inbox", zap.String("uid", uid), zap.Error(err))
				}
				cmd.Printf("restored message %s to the inbox\n", uid)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account (defaults to the first configured)")
	cmd.Flags().BoolVar(&restore, "restore", false, "also move a discarded message back to the inbox")
	return cmd
}
