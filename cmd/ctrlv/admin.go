package main

import (
	"context"
	"ctrlv/svc/db"
	"ctrlv/svc/svc"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const adminTimeout = 5 * time.Minute

var resetConfirmed bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "ping the paste store and exit non-zero when it is unreachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		store, err := db.Open(ctx, conf)
		if err != nil {
			return err
		}
		defer store.Close()
		return errors.Wrap(store.Ping(ctx), "ping store")
	},
}
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "remove expired pastes once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			n, err := svc.NewReaper(store, conf.ReaperInterval, conf.ReaperBatchSize).RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired pastes\n", n)
			return nil
		})
	},
}
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "print every visible paste as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			out, err := svc.NewPaste(store, conf).List(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		})
	},
}
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "delete every paste",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetConfirmed {
			return errors.New("refusing to delete all pastes without --yes")
		}
		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			n, err := store.DeleteAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d pastes\n", n)
			return nil
		})
	},
}
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print shared rate limiter totals from redis",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if conf.RedisURL == "" {
			return errors.New("REDIS_URL is not set")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		rdb, err := db.NewRedis(ctx, conf)
		if err != nil {
			return err
		}
		defer rdb.Close()
		allowed, denied, err := rdb.Totals(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "allowed %d\ndenied  %d\n", allowed, denied)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "confirm deleting every paste")
	rootCmd.AddCommand(healthCmd, purgeCmd, listCmd, resetCmd, statsCmd)
}
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store db.Store) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()
	store, err := db.Open(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer store.Close()
	return fn(ctx, store)
}
