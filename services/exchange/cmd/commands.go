package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/config"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/handler"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/repository"
	"github.com/kyungseok/msa-exchange-go/services/exchange/internal/service"
)

func newMigrateCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if cfg.Storage != config.StoragePostgres {
				return errors.New("migrate requires postgres storage")
			}

			a := &app{cfg: cfg, log: log}
			defer a.Close()
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			return repository.Migrate(cmd.Context(), db, log)
		},
	}
}

func newReconcileCommand(configFile *string) *cobra.Command {
	var (
		limit      int
		exchangeID string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair exchanges whose post-commit bookkeeping is incomplete",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			var out interface{}
			if exchangeID != "" {
				out, err = a.service.ReconcileExchange(cmd.Context(), exchangeID, service.SystemActorID)
			} else {
				out, err = a.service.ReconcilePending(cmd.Context(), limit, service.SystemActorID)
			}
			if err != nil {
				a.log.Error("reconciliation failed", zap.Error(err))
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of exchanges to reconcile")
	cmd.Flags().StringVar(&exchangeID, "exchange-id", "", "reconcile a single exchange")
	return cmd
}

func newTokenCommand(configFile *string) *cobra.Command {
	var (
		actor string
		role  string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required")
			}
			tok, err := handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).IssueToken(actor, handler.Role(role), ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (token subject)")
	cmd.Flags().StringVar(&role, "role", string(handler.RoleCustomer), "customer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
