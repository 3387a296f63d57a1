package cli

import (
	"fmt"
	"os"

	"mailtriage/internal/triage/delivery"
	"mailtriage/internal/triage/domain"
	"mailtriage/internal/triage/repository"
	"mailtriage/internal/triage/usecase"
	"mailtriage/pkg/ai"
	"mailtriage/pkg/config"
	"mailtriage/pkg/database"
	"mailtriage/pkg/gmail"
	"mailtriage/pkg/imap"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/retry"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app carries the wired dependencies shared by the subcommands.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *gorm.DB
	ledger repository.LedgerRepository
	rules  repository.RuleRepository
}

// Execute runs the root command.
func Execute() {
	a := &app{}

	root := &cobra.Command{
		Use:   "mailtriage",
		Short: "Thread-aware inbox triage with learned rules",
		Long: `mailtriage fetches unprocessed mail, groups it into threads, asks a
local language model for a keep/junk recommendation, and either applies it
automatically at high confidence or asks the operator. Every applied
decision lands in an append-only ledger; repeated corrections become rules
that bias future recommendations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newWatchCmd(a))
	root.AddCommand(newRulesCmd(a))
	root.AddCommand(newHistoryCmd(a))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	a.cfg = config.Load()

	log, err := logger.New(a.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log = log

	db, err := database.Open(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.LedgerEntry{}, &domain.Rule{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	a.db = db
	a.ledger = repository.NewLedgerRepository(db)
	a.rules = repository.NewRuleRepository(db)
	return nil
}

// provider builds the configured mail transport for one account.
func (a *app) provider(ac config.AccountConfig) (domain.MailProvider, error) {
	switch ac.MailProvider {
	case "imap":
		if ac.IMAPHost == "" {
			return nil, fmt.Errorf("account %s: IMAP_HOST not set", ac.ID)
		}
		return imap.NewService(imap.Config{
			Addr:     ac.IMAPHost,
			Username: ac.IMAPUsername,
			Password: ac.IMAPPassword,
		}, a.log), nil
	case "gmail", "":
		if a.cfg.GoogleClientID == "" {
			return nil, fmt.Errorf("account %s: GOOGLE_CLIENT_ID not set", ac.ID)
		}
		return gmail.NewService(gmail.Config{
			ClientID:     a.cfg.GoogleClientID,
			ClientSecret: a.cfg.GoogleClientSecret,
			AccessToken:  ac.GmailAccessToken,
			RefreshToken: ac.GmailRefreshToken,
		}, a.log), nil
	}
	return nil, fmt.Errorf("account %s: unknown mail provider %q", ac.ID, ac.MailProvider)
}

// session wires the full triage pipeline for one account.
func (a *app) session(ac config.AccountConfig, prompter domain.Prompter) (*usecase.Session, error) {
	provider, err := a.provider(ac)
	if err != nil {
		return nil, err
	}

	client := ai.NewClient(ai.Config{
		Provider:        ai.ProviderType(a.cfg.AIProvider),
		LMStudioBaseURL: a.cfg.LMStudioBaseURL,
		LMStudioModel:   a.cfg.LMStudioModel,
		OllamaBaseURL:   a.cfg.OllamaBaseURL,
		OllamaModel:     a.cfg.OllamaModel,
		GeminiAPIKey:    a.cfg.GeminiAPIKey,
		GeminiModel:     a.cfg.GeminiModel,
		Timeout:         a.cfg.InferTimeout,
	}, a.log)

	policy := retry.DefaultPolicy()
	recommender := usecase.NewRecommender(client, a.rules, policy, a.log)
	analyzer := usecase.NewAnalyzer(recommender)
	// Unattended sessions get no conflict prompter: conflicts stay pending
	// until the rules command resolves them.
	learnerPrompter := prompter
	if _, unattended := prompter.(skipPrompter); unattended {
		learnerPrompter = nil
	}
	learner := usecase.NewLearner(a.rules, a.ledger, learnerPrompter,
		a.cfg.CorrectionThreshold, a.cfg.CorrectionWindow, a.log)
	engine := usecase.NewEngine(provider, prompter, a.ledger, analyzer, learner, policy,
		usecase.EngineConfig{
			Threshold: a.cfg.ConfidenceThreshold,
			JunkLabel: a.cfg.JunkLabel,
		}, a.log)

	return usecase.NewSession(provider, a.ledger, engine, learner, usecase.SessionConfig{
		Mailbox:    ac.Mailbox,
		BatchSize:  a.cfg.BatchSize,
		JunkLabel:  a.cfg.JunkLabel,
		ThreadMode: a.cfg.ThreadMode,
	}, a.log), nil
}

func (a *app) account(id string) (config.AccountConfig, error) {
	if id == "" {
		if len(a.cfg.Accounts) == 0 {
			return config.AccountConfig{}, fmt.Errorf("no accounts configured")
		}
		return a.cfg.Accounts[0], nil
	}
	for _, ac := range a.cfg.Accounts {
		if ac.ID == id {
			return ac, nil
		}
	}
	return config.AccountConfig{}, fmt.Errorf("unknown account %q", id)
}

func consolePrompter() domain.Prompter {
	return delivery.NewConsolePrompter(os.Stdin, os.Stdout)
}
