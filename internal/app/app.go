// Package app assembles the server: providers, persistence, the dialer, the
// media gateways, and the HTTP surface, wired from one Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/gateway"
	"github.com/dialcast/dialcast/internal/health"
	"github.com/dialcast/dialcast/internal/httpapi"
	"github.com/dialcast/dialcast/internal/observe"
	"github.com/dialcast/dialcast/internal/recording"
	"github.com/dialcast/dialcast/internal/session"
	"github.com/dialcast/dialcast/internal/sip"
	"github.com/dialcast/dialcast/internal/store"
)

// App is the assembled server. Build with [New], drive with [Run], release
// with [Close].
type App struct {
	cfg *config.Config
	log *slog.Logger

	pool    *pgxpool.Pool
	rdb     *redis.Client
	store   *store.Store
	queue   *dialer.Queue
	worker  *dialer.Worker
	runner  *runner
	wsgw    *gateway.WSGateway
	sip     *sip.Server
	httpSrv *http.Server
	metrics *observe.Metrics

	shutdownMetrics func(context.Context) error
}

// New builds the full server from cfg. It connects to Postgres (running
// migrations) and, when configured, Redis; provider API keys are resolved
// from the environment here so a missing key fails startup, not a call.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: metrics provider: %w", err)
	}
	a.shutdownMetrics = shutdown
	a.metrics = observe.DefaultMetrics()

	dsn, err := cfg.Postgres.ResolveDSN()
	if err != nil {
		return nil, err
	}
	a.pool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	a.store = store.New(a.pool, store.WithCostRate(cfg.Billing.RatePerSecond))
	if err := a.store.Migrate(ctx); err != nil {
		a.pool.Close()
		return nil, fmt.Errorf("app: migrate: %w", err)
	}

	var qs dialer.QueueStore
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.ResolvePassword(),
		})
		qs = dialer.NewRedisStore(a.rdb)
	} else {
		log.Warn("redis not configured, dialer queue is in-memory and single-node")
		qs = dialer.NewMemoryStore()
	}
	a.queue = dialer.NewQueue(qs, log)

	sttP, err := buildSTTStack(cfg.Providers, log)
	if err != nil {
		a.close()
		return nil, err
	}
	llmP, err := buildLLMStack(cfg.Providers, log)
	if err != nil {
		a.close()
		return nil, err
	}
	ttsP, err := buildTTSStack(cfg.Providers, log)
	if err != nil {
		a.close()
		return nil, err
	}

	blobs, err := recording.NewDirStore(cfg.Recording.Dir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: recording dir: %w", err)
	}

	a.runner = newRunner(a.store, session.NewRegistry(), sttP, llmP, ttsP,
		recording.NewUploader(blobs), a.metrics, cfg.Agent, cfg.Pipeline, log)
	a.wsgw = gateway.NewWSGateway(log, a.runner)
	a.runner.bindGateway(a.wsgw)

	var starter CallStarter
	if cfg.Telephony.BaseURL != "" {
		starter, err = newRESTTelephony(cfg.Telephony, log)
		if err != nil {
			a.close()
			return nil, err
		}
	} else {
		starter = &logTelephony{log: log}
	}

	limiter := dialer.NewLimiter()
	a.worker = dialer.NewWorker(dialer.WorkerConfig{
		PollInterval:         cfg.Dialer.PollInterval.Std(),
		SweepInterval:        cfg.Dialer.SweepInterval.Std(),
		MaxConsecutiveErrors: cfg.Dialer.MaxConsecutiveErrors,
		DeferDelay:           cfg.Dialer.DeferDelay.Std(),
		RetryBackoffCap:      cfg.Dialer.RetryBackoffCap.Std(),
	}, a.queue, a.store,
		newPlacer(cfg.Server.PublicURL, cfg.Telephony.FromNumber, a.store, starter, log),
		limiter, log)
	a.runner.bindCompleter(a.worker)

	if cfg.SIP.Enabled {
		rtpgw := gateway.NewRTPGateway(log, a.runner, cfg.SIP.RTPPortMin)
		a.runner.bindGateway(rtpgw)
		a.sip, err = sip.NewServer(sip.Config{
			ListenAddr:    cfg.SIP.ListenAddr,
			AdvertiseAddr: cfg.SIP.AdvertiseHost,
			TenantID:      cfg.SIP.TenantID,
			CampaignID:    cfg.SIP.CampaignID,
		}, rtpgw, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("app: sip server: %w", err)
		}
	}

	checkers := []health.Checker{health.PingChecker("postgres", a.pool)}
	if a.rdb != nil {
		rdb := a.rdb
		checkers = append(checkers, health.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	api := httpapi.New(httpapi.Config{
		WSBase:        cfg.Server.WSBase,
		LeadBatchSize: cfg.Dialer.LeadBatchSize,
	}, a.wsgw, a.store, a.store, a.queue, a.worker,
		health.New(checkers...), a.metrics, log)

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run drives the HTTP server, the dial loop, and (when enabled) the SIP
// endpoint until ctx is cancelled or one of them fails. In-flight calls get
// their post-call chains before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.runner.bindContext(ctx)

	if a.sip != nil {
		a.sip.Start(ctx)
		defer a.sip.Stop()
	}

	g.Go(func() error {
		err := a.worker.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.httpSrv.Addr)
		errCh := make(chan error, 1)
		go func() { errCh <- a.httpSrv.ListenAndServe() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})

	err := g.Wait()
	a.runner.Wait()
	return err
}

// Close releases connections and flushes metrics.
func (a *App) Close() error {
	return a.close()
}

func (a *App) close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownMetrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdownMetrics(ctx))
	}
	return errors.Join(errs...)
}
