package main

import (
	"context"
	"ctrlv/pkg/secrets"
	"ctrlv/svc/api"
	"ctrlv/svc/db"
	"ctrlv/svc/lim"
	"ctrlv/svc/svc"
	"ctrlv/svc/util"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	pepperSecretKey = "ip_hash_pepper"
	shutdownTimeout = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	util.Info().
		Str("environment", conf.Environment).
		Str("backend", conf.StoreBackend).
		Msg("starting ctrlv")

	pepper, err := loadPepper(ctx)
	if err != nil {
		return err
	}
	hasher, err := util.NewIPHasher(pepper, conf.IPHashRotationInterval)
	util.Wipe(pepper)
	if err != nil {
		return errors.Wrap(err, "init ip hasher")
	}
	defer hasher.Stop()
	util.Info().Dur("rotation_interval", conf.IPHashRotationInterval).Msg("IP hasher initialized")

	store, err := db.Open(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer store.Close()

	var rdb *db.Redis
	limOpts := []lim.Option{}
	if conf.RedisURL != "" {
		rdb, err = db.NewRedis(ctx, conf)
		if err != nil {
			if conf.Environment == "production" {
				return errors.Wrap(err, "redis required in production")
			}
			util.Warn().Err(err).Msg("redis unavailable, limiter stats disabled")
			rdb = nil
		} else {
			defer rdb.Close()
			limOpts = append(limOpts, lim.WithStats(rdb))
			util.Info().Msg("redis connected")
		}
	}
	limiter, err := lim.New(conf.RateLimit, conf.TrustedProxies, limOpts...)
	if err != nil {
		return errors.Wrap(err, "init rate limiter")
	}
	defer limiter.Stop()
	util.Info().
		Int("create_max", conf.RateLimit.CreateMax).
		Dur("create_window", conf.RateLimit.CreateWindow).
		Int("api_max", conf.RateLimit.APIMax).
		Dur("api_window", conf.RateLimit.APIWindow).
		Strs("trusted_proxies", conf.TrustedProxies).
		Msg("rate limiter initialized")

	pasteSvc := svc.NewPaste(store, conf)
	reaper := svc.NewReaper(store, conf.ReaperInterval, conf.ReaperBatchSize)
	server := api.NewServer(conf, api.Deps{
		Paste:   pasteSvc,
		Limiter: limiter,
		Store:   store,
		Redis:   rdb,
		Hasher:  hasher,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return reaper.Run(gctx) })
	if s, ok := store.(*db.SQLite); ok {
		g.Go(func() error { return s.MaintainWAL(gctx, 0) })
	}
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		pasteSvc.Shutdown()
		return errors.Wrap(err, "server shutdown")
	})
	if err := g.Wait(); err != nil {
		return err
	}
	util.Info().Msg("shutdown complete")
	return nil
}

// loadPepper returns the IP hash pepper from the secrets chain when
// configured, otherwise from the environment. An empty result makes the
// hasher pick a random pepper.
func loadPepper(ctx context.Context) ([]byte, error) {
	if !conf.IPHashPepperSecrets {
		if conf.IPHashPepper.Value() == "" {
			util.Warn().Msg("IP_HASH_PEPPER not set, using a random pepper for this process")
		}
		return []byte(conf.IPHashPepper.Value()), nil
	}
	chain, err := secrets.FromEnv(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "init secrets chain")
	}
	val, err := chain.GetSecret(ctx, pepperSecretKey)
	if err != nil {
		return nil, errors.Wrap(err, "load ip hash pepper")
	}
	util.Info().Strs("providers", chain.Names()).Msg("IP hash pepper loaded from secrets")
	return []byte(val), nil
}
