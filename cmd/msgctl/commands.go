package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinicdesk/messaging/internal/application"
	"github.com/clinicdesk/messaging/internal/auth"
	"github.com/clinicdesk/messaging/internal/config"
	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/clinicdesk/messaging/internal/repository/sqlstore"
	"github.com/clinicdesk/messaging/internal/tx"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "msgctl",
		Short: "Administration tool for the clinic messaging service",
		Long: `msgctl operates on the messaging database directly. It reads the same
environment as the server (DATABASE_DRIVER, DATABASE_URL, JWT_*).`,
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(userCmd())
	root.AddCommand(tokenCmd())
	return root
}

func openRepo(ctx context.Context, cfg *config.Config) (*sqlstore.Repository, error) {
	dialect, err := sqlstore.DialectFor(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DatabaseURL
	if dialect.Name == sqlstore.SQLite.Name {
		dsn = sqlstore.SQLiteDSN(dsn)
	}
	db, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	return &sqlstore.Repository{DB: db, Dialect: dialect}, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  `Applies the schema for the configured driver. Safe to run multiple times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			repo, err := openRepo(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer repo.DB.Close()

			if err := repo.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date (%s)\n",
				color.New(color.FgGreen).Sprint("✓"), repo.Dialect.Name)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair conversation summaries from the message history",
		Long: `Recomputes each conversation's last message and sequence from the stored
messages and rewrites the ones that disagree. Safe to run while the server is up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			repo, err := openRepo(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer repo.DB.Close()

			svc := application.New(repo, tx.NewManager(repo.DB, nil), zap.NewNop(), application.Config{})
			out := cmd.OutOrStdout()

			if conversationID != "" {
				repaired, err := svc.ReconcileConversation(ctx, conversationID)
				if err != nil {
					return err
				}
				if repaired {
					fmt.Fprintf(out, "%s %s repaired\n", color.New(color.FgYellow).Sprint("!"), conversationID)
				} else {
					fmt.Fprintf(out, "%s %s consistent\n", color.New(color.FgGreen).Sprint("✓"), conversationID)
				}
				return nil
			}

			n, err := svc.ReconcileAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s reconcile complete: %d conversation(s) repaired\n",
				color.New(color.FgGreen).Sprint("✓"), n)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "only reconcile this conversation id")
	return cmd
}

func userCmd() *cobra.Command {
	var u domain.UserSummary

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Insert or update a directory entry",
		Long:  `Maintains the local mirror of the identity provider used to resolve participant details.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if u.ID == "" {
				return fmt.Errorf("--id is required")
			}
			cfg := config.Load()
			repo, err := openRepo(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer repo.DB.Close()

			if err := repo.UpsertUser(cmd.Context(), u); err != nil {
				return fmt.Errorf("failed to save user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s user %s saved\n", color.New(color.FgGreen).Sprint("✓"), u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&u.ID, "id", "", "user id")
	cmd.Flags().StringVar(&u.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&u.Role, "role", "", "clinic role")
	cmd.Flags().StringVar(&u.AvatarURL, "avatar", "", "avatar url")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		id  auth.Identity
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development bearer token",
		Long:  `Signs an HS256 token with JWT_SECRET for local testing against AUTH_MODE=jwt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id.UserID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg := config.LoadAuth()
			if cfg.Secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			a := &auth.JWTAuthenticator{Secret: []byte(cfg.Secret), Issuer: cfg.Issuer, Audience: cfg.Audience}
			tok, err := a.Issue(id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&id.UserID, "user", "", "subject user id")
	cmd.Flags().StringVar(&id.Role, "role", "", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
