// Command genjobs is the process entrypoint: it wires one instance each of
// the HTTP client, DB pool, event bus, clock, provider adapter, metrics
// sink, and scheduler client, then threads them through constructors down to
// the handlers and the poller (spec.md §9's explicit-injection design note).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	jobsdb "github.com/neurobridge/genjobs/internal/data/db"
	jobsrepo "github.com/neurobridge/genjobs/internal/data/repos/jobs"
	httpboundary "github.com/neurobridge/genjobs/internal/http"
	httpH "github.com/neurobridge/genjobs/internal/http/handlers"
	"github.com/neurobridge/genjobs/internal/metrics"
	"github.com/neurobridge/genjobs/internal/orchestrator"
	"github.com/neurobridge/genjobs/internal/pkg/clock"
	"github.com/neurobridge/genjobs/internal/pkg/logger"
	"github.com/neurobridge/genjobs/internal/poller"
	"github.com/neurobridge/genjobs/internal/provider"
	redisforward "github.com/neurobridge/genjobs/internal/clients/redis"
	"github.com/neurobridge/genjobs/internal/sse"
	"github.com/neurobridge/genjobs/internal/temporalx"
	"github.com/neurobridge/genjobs/internal/temporalx/temporalworker"
	"github.com/neurobridge/genjobs/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "genjobs: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	m := metrics.New()

	pg, err := jobsdb.NewPostgresService(log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	db := pg.DB()

	bus := sse.NewBus(log)
	if addr := utils.GetEnv("REDIS_ADDR", "", log); addr != "" {
		fwd, err := redisforward.New(log, addr)
		if err != nil {
			log.Warn("redis event forwarder disabled", "error", err)
		} else {
			bus.SetForwarder(func(msg sse.Message) {
				_ = fwd.Publish(context.Background(), msg)
			})
			if err := fwd.StartForwarder(context.Background(), bus.PublishLocal); err != nil {
				log.Warn("redis event forwarder subscribe failed", "error", err)
			}
			defer fwd.Close()
		}
	}

	prov, err := provider.New(log, provider.Config{
		BaseURL: utils.GetEnv("PROVIDER_BASE_URL", "", log),
		APIKey:  utils.GetEnv("PROVIDER_API_KEY", "", log),
		Secret:  utils.GetEnv("PROVIDER_SECRET", "", log),
		Timeout: utils.GetEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second, log),
	})
	if err != nil {
		return fmt.Errorf("init provider adapter: %w", err)
	}

	jobsStore := jobsrepo.NewStore(db, log)
	optionRepo := jobsrepo.NewOptionRepo(db, log)

	tc, err := temporalx.NewClient(log)
	if err != nil {
		return fmt.Errorf("init temporal client: %w", err)
	}
	if tc != nil {
		defer tc.Close()
	}

	cfg := temporalx.LoadConfig()
	scheduler := temporalx.NewScheduler(tc, cfg.TaskQueue)

	orch := orchestrator.New(log, clock.Real{}, optionRepo, jobsStore, scheduler, m)
	pollWorker := poller.New(log, clock.Real{}, clock.RealRand{}, jobsStore, optionRepo, prov, bus, m)
	sweeper := poller.NewSweeper(log, jobsStore, scheduler, m)

	httpSrv := httpboundary.NewServer(httpboundary.RouterConfig{
		GenerateHandler: httpH.NewGenerateHandler(orch),
		JobHandler:      httpH.NewJobHandler(jobsStore, clock.Real{}),
		SSEHandler:      httpH.NewSSEHandler(bus),
		HealthHandler:   httpH.NewHealthHandler(),
		Metrics:         m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sweeper.Run(gctx) })

	if tc != nil {
		runner, err := temporalworker.NewRunner(log, tc, pollWorker)
		if err != nil {
			return fmt.Errorf("init temporal worker: %w", err)
		}
		if err := runner.Start(gctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	} else {
		log.Warn("TEMPORAL_ADDRESS not set; jobs will be created but never polled")
	}

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{Addr: ":" + port, Handler: httpSrv.Engine}

	g.Go(func() error {
		log.Info("server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
