package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/okian/mindshare/internal/client"
	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/simulate"
	"github.com/okian/mindshare/pkg/logger"
)

const (
	defaultURL     = "http://localhost:9080"
	defaultTimeout = 10 * time.Second
)

type rootOptions struct {
	url      string
	timeout  time.Duration
	logLevel string
}

func (o *rootOptions) client() (*client.Client, error) {
	return client.New(o.url, client.WithTimeout(o.timeout))
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "mindsharectl",
		Short:        "Operate and exercise a mindshare node",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			return logger.SetLevelString(opts.logLevel)
		},
	}
	root.PersistentFlags().StringVar(&opts.url, "url", defaultURL, "base URL of the node")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "per-request timeout")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		simulateCmd(opts),
		roundCmd(opts),
		settleCmd(opts),
		leaderboardCmd(opts),
		reputationCmd(opts),
		balanceCmd(opts),
		depositCmd(opts),
	)
	return root
}

func simulateCmd(opts *rootOptions) *cobra.Command {
	cfg := simulate.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the node with synthetic projects, deposits and predictions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			report, err := simulate.Run(cmd.Context(), c, cfg, logger.Named("simulate"))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.Projects, "projects", cfg.Projects, "number of projects to register")
	f.StringSliceVar(&cfg.Categories, "categories", cfg.Categories, "project categories")
	f.IntVar(&cfg.Users, "users", cfg.Users, "number of funded users")
	f.Int64Var(&cfg.Deposit, "deposit", cfg.Deposit, "deposit per user")
	f.IntVar(&cfg.Predictions, "predictions", cfg.Predictions, "number of predictions to submit")
	f.Int64Var(&cfg.MaxStake, "max-stake", cfg.MaxStake, "largest stake per prediction")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent requests")
	f.BoolVar(&cfg.Confirm, "confirm", cfg.Confirm, "confirm every accepted stake on chain")
	f.BoolVar(&cfg.Settle, "settle", cfg.Settle, "settle the round at the end")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	f.DurationVar(&cfg.FundingTimeout, "funding-timeout", cfg.FundingTimeout, "how long to wait for chain events to apply")
	return cmd
}

func roundCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "round",
		Short: "Show the open round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			r, err := c.CurrentRound(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
}

func settleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settle [round-id]",
		Short: "Settle a round now; defaults to the open round",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				r, err := c.CurrentRound(cmd.Context())
				if err != nil {
					return err
				}
				id = r.ID
			}
			res, err := c.Settle(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func leaderboardCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the published project ranking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			entries, err := c.Leaderboard(cmd.Context(), category, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	cmd.Flags().IntVar(&limit, "limit", 10, "entries to show")
	return cmd
}

func reputationCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reputation <address>",
		Short: "Show a user's trust score and tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := model.ParseAddress(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			rec, err := c.Reputation(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func balanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Show an account's funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := model.ParseAddress(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			b, err := c.Balance(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
}

func depositCmd(opts *rootOptions) *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "deposit <address> <amount>",
		Short: "Report a confirmed chain deposit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := model.ParseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer: %q", args[1])
			}
			if eventID == "" {
				eventID = uuid.NewString()
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ack, err := c.SendChainEvent(cmd.Context(), client.ChainEvent{
				EventID: eventID,
				Kind:    string(model.ChainDeposit),
				Owner:   string(owner),
				Amount:  amount,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ack)
		},
	}
	cmd.Flags().StringVar(&eventID, "event-id", "", "chain event id; random when empty")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
