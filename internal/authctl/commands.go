package authctl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the authctl command tree around env.
func NewRootCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Operator tool for the authgate auth service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// parsed by the config loader from os.Args; declared so cobra accepts them
	cmd.PersistentFlags().StringP("config", "c", "", "Path to JSON config file")

	cmd.AddCommand(newMigrateCommand(env))
	cmd.AddCommand(newPurgeCommand(env))
	cmd.AddCommand(newRevokeUserCommand(env))
	cmd.AddCommand(newUserCommand(env))
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	run := func(up bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			db, err := env.OpenDB(ctx, env.Config.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("db init error: %w", err)
			}
			defer db.Close()

			if up {
				err = env.Migrations.RunMigrations(ctx, db)
			} else {
				err = env.Migrations.RollbackMigration(ctx, db)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "ok")
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: run(true)})
	cmd.AddCommand(&cobra.Command{Use: "down", Short: "Roll back the latest migration", RunE: run(false)})
	return cmd
}

func newPurgeCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired refresh tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := env.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			n, err := s.sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "purged %d expired refresh tokens\n", n)
			return nil
		},
	}
}

func newRevokeUserCommand(env *Env) *cobra.Command {
	var email, userID string

	cmd := &cobra.Command{
		Use:   "revoke-user",
		Short: "Revoke every refresh token of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (email == "") == (userID == "") {
				return fmt.Errorf("%w: give exactly one of --email or --user-id", common.ErrInvalidInput)
			}
			ctx := commandContext(cmd)
			s, err := env.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			if userID == "" {
				c, err := s.creds.Lookup(ctx, email)
				if err != nil {
					return lookupError(email, err)
				}
				userID = c.UserID
			}
			if err := s.tokens.RevokeAll(ctx, userID); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "revoked refresh tokens of user %s\n", userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&userID, "user-id", "", "Account id")
	return cmd
}

func newUserCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Account administration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newUserCreateCommand(env))
	cmd.AddCommand(newUserEnabledCommand(env, "disable", false))
	cmd.AddCommand(newUserEnabledCommand(env, "enable", true))
	return cmd
}

func newUserCreateCommand(env *Env) *cobra.Command {
	var email, nickname, role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a password account, prompting for the password",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			fmt.Fprint(env.Out, "Enter password: ")
			password, err := env.ReadPassword()
			fmt.Fprintln(env.Out)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			defer common.WipeByteArray(password)

			s, err := env.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			c, err := s.creds.CreateAccount(ctx, email, string(password), nickname, strings.ToUpper(role))
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "created user %s (%s, %s)\n", c.UserID, c.Email, c.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&nickname, "nickname", "", "Display name (defaults to the email local part)")
	cmd.Flags().StringVar(&role, "role", models.RoleUser, "USER or ADMIN")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUserEnabledCommand(env *Env, name string, enabled bool) *cobra.Command {
	var email string

	short := "Disable an account and revoke its refresh tokens"
	if enabled {
		short = "Re-enable a disabled account"
	}

	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := env.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.creds.SetEnabled(ctx, email, enabled); err != nil {
				return lookupError(email, err)
			}
			fmt.Fprintf(env.Out, "%sd %s\n", name, email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func lookupError(email string, err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("no account with email %q", email)
	}
	return err
}
