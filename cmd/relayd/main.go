package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/matst80/tcprelay/internal/config"
	"github.com/matst80/tcprelay/internal/endpoint"
	"github.com/matst80/tcprelay/internal/obs"
	"github.com/matst80/tcprelay/internal/ratelimit"
	"github.com/matst80/tcprelay/internal/relay"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}
	if opts.Version {
		fmt.Println(version)
		return 0
	}
	if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		obs.Error("config.env_file", obs.Fields{"err": err.Error(), "path": opts.EnvFile})
		return 1
	}
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		obs.Error("config.load", obs.Fields{"err": err.Error()})
		return 1
	}
	opts.apply(&cfg)
	opts.configureLogging(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		obs.Error("config.invalid", obs.Fields{"err": err.Error()})
		return 1
	}
	rc, err := cfg.RelayConfig()
	if err != nil {
		obs.Error("config.invalid", obs.Fields{"err": err.Error()})
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err = endpoint.NewRedisClient(pctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			obs.Error("redis.connect", obs.Fields{"err": err.Error(), "addr": cfg.Redis.Addr})
			return 1
		}
		defer rdb.Close()
	}

	table, err := loadTable(ctx, cfg, rdb)
	if err != nil {
		obs.Error("mapping.load", obs.Fields{"err": err.Error()})
		return 1
	}
	logMappings(table)

	state := newStateStore(rdb, cfg.Redis.StatsInterval)
	srvOpts := []relay.Option{relay.WithSink(newEventSink(state))}
	limiter := ratelimit.NewRateLimiter(cfg.RateLimit.Global, cfg.RateLimit.PerClient, cfg.RateLimit.Burst)
	if limiter.Enabled() {
		srvOpts = append(srvOpts, relay.WithLimiter(limiter))
	}
	srv, err := relay.NewServer(rc, table, srvOpts...)
	if err != nil {
		obs.Error("server.config", obs.Fields{"err": err.Error()})
		return 1
	}
	if err := srv.Listen(); err != nil {
		obs.Error("server.listen", obs.Fields{"err": err.Error()})
		return 1
	}
	obs.Info("server.start", obs.Fields{
		"version":  version,
		"strategy": string(rc.Strategy),
		"dispatch": string(rc.Dispatch),
		"backend":  cfg.Backend,
		"mappings": table.Len(),
		"metrics":  cfg.MetricsAddr,
	})

	started := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		startMetricsServer(gctx, cfg.MetricsAddr, state, table, started)
		return nil
	})
	if limiter.Enabled() {
		g.Go(func() error {
			runCleanupLoop(gctx, limiter, cfg.RateLimit.SweepInterval, cfg.RateLimit.MaxIdle)
			return nil
		})
	}
	if rs, ok := state.(*redisStateStore); ok {
		g.Go(func() error {
			rs.startMaintenance(gctx)
			return nil
		})
	}

	state.setReady(true)
	obs.Info("server.ready", obs.Fields{})

	<-gctx.Done()
	obs.Info("server.shutdown.signal", obs.Fields{})
	state.setClosing(true)
	if err := g.Wait(); err != nil {
		obs.Error("server.stopped", obs.Fields{"err": err.Error()})
		return 1
	}
	obs.Info("server.shutdown.complete", obs.Fields{})
	return 0
}

// runCleanupLoop drops idle per-client rate limit buckets.
func runCleanupLoop(ctx context.Context, limiter *ratelimit.RateLimiter, interval, maxIdle time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := limiter.Sweep(maxIdle); n > 0 {
				obs.Debug("ratelimit.sweep", obs.Fields{"removed": n, "tracked": limiter.Clients()})
			}
		}
	}
}
