// README: Entry point; loads config, wires store, hub and relays, starts HTTP server and the wait-time sweeper.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"floortwin/internal/broadcast"
	"floortwin/internal/config"
	httptransport "floortwin/internal/http"
	"floortwin/internal/infra"
	"floortwin/internal/modules/floor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := broadcast.NewHub(broadcast.Options{
		Buffer:  cfg.SubscriberBuffer,
		Metrics: broadcast.NewMetrics(reg),
		Logger:  log.WithField("component", "hub"),
	})
	defer hub.Close()

	pub, err := newPublisher(ctx, cfg, hub, log)
	if err != nil {
		log.Fatal(err)
	}

	repo, closeRepo, err := newRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal(err)
	}
	defer closeRepo()

	floorSvc := floor.NewService(repo, pub, floor.WithLogger(log.WithField("component", "floor")))

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Floor:          floorSvc,
		Hub:            hub,
		Gatherer:       reg,
		Logger:         log.WithField("component", "http"),
		SweepThreshold: cfg.Sweep.Threshold,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go floorSvc.RunSweeper(ctx, cfg.Sweep.Interval, cfg.Sweep.Threshold)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Open streams end once the hub closes their subscriptions.
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":  cfg.HTTP.Addr,
		"bus":   cfg.Bus,
		"store": storeKind(cfg),
	}).Info("floor api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// newPublisher picks the event backing. For a shared bus the relay's
// subscription loop feeds this process's hub.
func newPublisher(ctx context.Context, cfg config.Config, hub *broadcast.Hub, log *logrus.Logger) (broadcast.Publisher, error) {
	switch cfg.Bus {
	case config.BusRedis:
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		relay := broadcast.NewRedisRelay(client, cfg.Redis.Channel, hub, log)
		go runRelay(ctx, relay.Run, log, func() { _ = client.Close() })
		return relay, nil
	case config.BusNATS:
		conn, err := infra.NewNATS(cfg.NATS.URL, log)
		if err != nil {
			return nil, err
		}
		relay := broadcast.NewNATSRelay(conn, cfg.NATS.Subject, hub, log)
		go runRelay(ctx, relay.Run, log, conn.Close)
		return relay, nil
	default:
		return hub, nil
	}
}

func runRelay(ctx context.Context, run func(context.Context) error, log logrus.FieldLogger, cleanup func()) {
	defer cleanup()
	if err := run(ctx); err != nil {
		log.WithError(err).Error("relay stopped")
	}
}

func newRepository(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (floor.Repository, func(), error) {
	if cfg.DB.DSN == "" {
		log.Warn("FLOOR_DB_DSN not set; using in-memory store")
		return floor.NewMemoryStore(), func() {}, nil
	}
	version, err := infra.Migrate(cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("version", version).Info("schema migrated")

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	return floor.NewStore(pool), pool.Close, nil
}

func storeKind(cfg config.Config) string {
	if cfg.DB.DSN == "" {
		return "memory"
	}
	return "postgres"
}
