// Command api is the tradesim simulator's entrypoint: it loads
// configuration, wires the persistence store and every engine component
// (confidence/price/execution/checklist/discussionstatus/manager/llm/
// discussion/scheduler), starts the embedded event bus, the metrics
// server, and the REST API, then blocks until an OS signal requests a
// graceful shutdown. Wiring order: config -> logger -> infra clients ->
// engines -> servers -> signal-driven shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sectorsim/tradesim/internal/api"
	"github.com/sectorsim/tradesim/internal/bus"
	"github.com/sectorsim/tradesim/internal/config"
	"github.com/sectorsim/tradesim/internal/discussion"
	"github.com/sectorsim/tradesim/internal/discussionstatus"
	"github.com/sectorsim/tradesim/internal/execution"
	"github.com/sectorsim/tradesim/internal/llm"
	"github.com/sectorsim/tradesim/internal/manager"
	"github.com/sectorsim/tradesim/internal/metrics"
	"github.com/sectorsim/tradesim/internal/pricesim"
	"github.com/sectorsim/tradesim/internal/risk"
	"github.com/sectorsim/tradesim/internal/scheduler"
	"github.com/sectorsim/tradesim/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("fatal startup error")
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("TRADESIM_CONFIG_PATH"))
	if err != nil {
		return err
	}

	config.InitLogger(cfg.App.LogLevel, "json")
	log.Info().Str("version", cfg.App.Version).Str("env", cfg.App.Environment).Msg("starting tradesim")

	st, err := store.New(cfg.Store.DataDir)
	if err != nil {
		return err
	}

	eventBus, err := bus.New(bus.Config{Port: cfg.NATS.Port})
	if err != nil {
		return err
	}

	breakers := risk.NewCircuitBreakerManager()

	llmClient := llm.NewClient(llm.ClientConfig{
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.PrimaryModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond,
	})
	adapter := llm.NewAdapter(llmClient, cfg.LLM.Enabled, time.Duration(cfg.LLM.TimeoutMS)*time.Millisecond).
		WithCircuitBreaker(breakers.LLM())

	mgr := manager.New()
	book := execution.New()
	statusSvc := discussionstatus.New(st.Discussions())

	discEngine := discussion.New(
		st.Sectors(), st.Agents(), st.Discussions(),
		func(sectorID string) discussion.TradeLog { return st.ExecutionLog(sectorID) },
		st.RejectedItems(),
		statusSvc, mgr, book, adapter,
		discussion.Config{
			DefaultRounds: cfg.Scheduler.RoundsPerDiscussion,
			RoundSleep:    200 * time.Millisecond,
		},
	).WithBus(eventBus)

	sched := scheduler.New(st.Sectors(), st.PriceHistory(), st.Discussions(), discEngine, eventBus, scheduler.Config{
		TickInterval:        time.Duration(cfg.Scheduler.TickIntervalMS) * time.Millisecond,
		RoundsPerDiscussion: cfg.Scheduler.RoundsPerDiscussion,
		RingCapacity:        cfg.Sectors.PriceRingCapacity,
	})
	if addr := cfg.Redis.Addr(); addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Redis.DB})
		sched.WithTickCache(pricesim.NewTickCache(redisClient, 0))
	}

	metricsServer := metrics.NewServer(cfg.Monitoring.PrometheusPort, config.NewLogger("metrics"))
	metricsUpdater := metrics.NewUpdater(st.Sectors(), st.Agents(), 5*time.Second)

	apiServer := api.NewServer(api.Config{
		Host:       cfg.API.Host,
		Port:       cfg.API.Port,
		Store:      st,
		Discussion: discEngine,
		Status:     statusSvc,
		Manager:    mgr,
		Scheduler:  sched,
		Bus:        eventBus,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- err
		}
	}()
	if cfg.Monitoring.EnableMetrics {
		if err := metricsServer.Start(); err != nil {
			return err
		}
		go metricsUpdater.Start(ctx)
	}
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped with error")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping api server")
	}
	if cfg.Monitoring.EnableMetrics {
		metricsUpdater.Stop()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error stopping metrics server")
		}
	}
	if err := eventBus.Drain(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error draining event bus")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
