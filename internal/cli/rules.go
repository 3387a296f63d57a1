package cli

import (
	"fmt"

	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/usecase"

	"github.com/spf13/cobra"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and maintain learned rules",
	}
	cmd.AddCommand(newRulesListCmd(a))
	cmd.AddCommand(newRulesConflictsCmd(a))
	cmd.AddCommand(newRulesAddCmd(a))
	return cmd
}

func newRulesListCmd(a *app) *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules (active versions by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := a.rules.ActiveRules()
			if showAll {
				rules, err = a.rules.All()
			}
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				cmd.Println("no rules learned yet")
				return nil
			}
			for _, r := range rules {
				cmd.Printf("%-8s %-40s → %-14s v%d %s\n",
					r.Pattern, r.PatternValue, r.Action, r.Version, r.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showAll, "all", false, "include superseded and conflicted versions")
	return cmd
}

func newRulesConflictsCmd(a *app) *cobra.Command {
	var resolve bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List pending rule conflicts, optionally resolving them",
		RunE: func(cmd *cobra.Command, args []string) error {
			learner := usecase.NewLearner(a.rules, a.ledger, consolePrompter(),
				a.cfg.CorrectionThreshold, a.cfg.CorrectionWindow, a.log)

			pending, err := learner.PendingConflicts()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("no pending conflicts")
				return nil
			}
			for _, r := range pending {
				cmd.Printf("%-8s %-40s proposed %s (v%d)\n",
					r.Pattern, r.PatternValue, r.Action, r.Version)
				if resolve {
					if err := learner.ResolvePending(cmd.Context(), r); err != nil {
						return fmt.Errorf("failed to resolve %s %q: %w", r.Pattern, r.PatternValue, err)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "interactively resolve each conflict")
	return cmd
}

func newRulesAddCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <sender|domain|subject> <value> <keep|junk>",
		Short: "Add a rule by hand",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := parseRuleArgs(args)
			if err != nil {
				return err
			}
			learner := usecase.NewLearner(a.rules, a.ledger, consolePrompter(),
				a.cfg.CorrectionThreshold, a.cfg.CorrectionWindow, a.log)
			if err := learner.ApplyManual(cmd.Context(), spec, "manual rules add"); err != nil {
				return err
			}
			cmd.Printf("rule recorded: %s %q → %s\n", spec.Pattern, spec.PatternValue, spec.Action)
			return nil
		},
	}
	return cmd
}

func parseRuleArgs(args []string) (domain.RuleSpec, error) {
	var spec domain.RuleSpec
	switch args[0] {
	case "sender":
		spec.Pattern = domain.PatternSender
	case "domain":
		spec.Pattern = domain.PatternDomain
	case "subject":
		spec.Pattern = domain.PatternSubject
	default:
		return spec, fmt.Errorf("unknown pattern kind %q (want sender, domain or subject)", args[0])
	}
	spec.PatternValue = args[1]
	switch args[2] {
	case "keep":
		spec.Action = domain.CategoryKeep
	case "junk":
		spec.Action = domain.CategoryJunkCandidate
	default:
		return spec, fmt.Errorf("unknown action %q (want keep or junk)", args[2])
	}
	return spec, nil
}
