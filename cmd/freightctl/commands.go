package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"freightflow/app"
	"freightflow/config"
	"freightflow/db"
	"freightflow/logging"
)

var errNoDSN = errors.New("freightctl: postgres dsn is required (DATABASE_URL)")

type cli struct {
	configPath string
	out        io.Writer
	cfg        *config.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:          "freightctl",
		Short:        "Operator tooling for the freightflow marketplace",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "path to the YAML config file")

	root.AddCommand(c.migrateCmd(), c.sweepQuotesCmd(), c.verifyAgentCmd(), c.relayOnceCmd())
	return root
}

// withApp builds the application for one command and tears it down afterwards.
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.Build(ctx, c.cfg, logging.NewLogger(c.cfg.Log.Level))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Postgres.DSN == "" {
				return errNoDSN
			}
			pool, err := db.NewPool(cmd.Context(), c.cfg.Postgres.DSN, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(c.out, "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(c.out, "applied %s\n", name)
			}
			return nil
		},
	}
}

func (c *cli) sweepQuotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-quotes",
		Short: "Expire every pending quote past its expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Services.Quotes.ExpireStale(cmd.Context(), time.Now().UTC())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "expired %d quotes\n", n)
				return nil
			})
		},
	}
}

func (c *cli) verifyAgentCmd() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "verify-agent [user-id]",
		Short: "Mark an agent as verified, or revoke it with --revoke",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				profile, err := a.Services.Agents.SetVerified(cmd.Context(), args[0], !revoke)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "agent %s verified=%t\n", profile.UserID, profile.Verified)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "clear the verified flag instead of setting it")
	return cmd
}

func (c *cli) relayOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay-once",
		Short: "Publish one batch of pending outbox events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Relay.RelayOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "published %d events\n", n)
				return nil
			})
		},
	}
}
