package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/session-guard/internal/config"
	"github.com/sandeepkv93/session-guard/internal/di"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "session-guard",
		Short:         "Credential login and refresh token rotation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newHashPasswordCommand())
	cmd.AddCommand(newCreateUserCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			log, lp, err := observability.NewLogger(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			slog.SetDefault(log)

			runtime, err := observability.InitRuntime(ctx, cfg, log, lp)
			if err != nil {
				return fmt.Errorf("init observability: %w", err)
			}
			a, cleanup, err := di.InitializeApp(ctx, cfg, log, runtime)
			if err != nil {
				_ = runtime.Shutdown(context.Background())
				return fmt.Errorf("wire app: %w", err)
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(commandContext(cmd))
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg.DBDriver, cfg.DatabaseURL, logger.Warn)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repository.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := security.NewPasswordHasher(cost).Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost")
	return cmd
}

func newCreateUserCommand() *cobra.Command {
	var (
		orgCode  string
		orgName  string
		username string
		email    string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user, and its organisation if missing; the password is read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if orgCode == "" || username == "" {
				return errors.New("--org and --username are required")
			}
			userRole, ok := domain.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg.DBDriver, cfg.DatabaseURL, logger.Warn)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			orgs := repository.NewOrganisationRepository(db)
			org, err := orgs.FindByCode(ctx, orgCode)
			if errors.Is(err, repository.ErrOrganisationNotFound) {
				if orgName == "" {
					orgName = orgCode
				}
				org = &domain.Organisation{Code: orgCode, Name: orgName, IsActive: true}
				err = orgs.Create(ctx, org)
			}
			if err != nil {
				return fmt.Errorf("resolve organisation: %w", err)
			}

			hash, err := security.NewPasswordHasher(cfg.BcryptCost).Hash(password)
			if err != nil {
				return err
			}
			u := &domain.User{
				OrganisationID: org.ID,
				Username:       username,
				Email:          email,
				PasswordHash:   hash,
				Role:           userRole,
				IsActive:       true,
			}
			if err := repository.NewUserRepository(db).Create(ctx, u); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id=%d) in %s\n", u.Username, u.ID, org.Code)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgCode, "org", "", "organisation code")
	cmd.Flags().StringVar(&orgName, "org-name", "", "organisation display name when it is created")
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleMember), "member, manager, admin or superadmin")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
