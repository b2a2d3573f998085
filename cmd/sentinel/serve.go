package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sentinel/internal/archive"
	"github.com/alfredjeanlab/sentinel/internal/config"
	"github.com/alfredjeanlab/sentinel/internal/deadman"
	"github.com/alfredjeanlab/sentinel/internal/dispatch"
	"github.com/alfredjeanlab/sentinel/internal/events"
	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/ingest"
	"github.com/alfredjeanlab/sentinel/internal/metrics"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/registry"
	"github.com/alfredjeanlab/sentinel/internal/scorer"
	"github.com/alfredjeanlab/sentinel/internal/server"
	"github.com/alfredjeanlab/sentinel/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Run the control plane",
	GroupID:           "system",
	Args:              cobra.NoArgs,
	PersistentPreRunE: local,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Postgres, with migrations applied by New.
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.AcquireInstanceLock(ctx); err != nil {
			return err
		}

		m := metrics.New(prometheus.NewRegistry())
		h := hub.New(hub.Options{Metrics: m, Logger: logger})

		// Message bus.
		var (
			publisher  events.Publisher
			subscriber events.Subscriber
			conn       events.Connectivity
		)
		if cfg.NATSURL != "" {
			bus, err := events.NewNATSBus(events.NATSOptions{
				URL:      cfg.NATSURL,
				Name:     "sentinel",
				User:     cfg.NATSUser,
				Password: cfg.NATSPassword,
				Token:    cfg.NATSToken,
				Logger:   logger,
				Metrics:  m,
			})
			if err != nil {
				return err
			}
			publisher, subscriber, conn = bus, bus, bus
			logger.Info("bus enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher, conn = events.OfflinePublisher{}, events.OfflinePublisher{}
			logger.Warn("bus disabled (SENTINEL_NATS_URL not set); commands are recorded as pending and not delivered")
		}
		defer publisher.Close()

		// Registry, rehydrated before any traffic is accepted.
		reg := registry.New(logger)
		if err := reg.Rehydrate(ctx, store); err != nil {
			return err
		}
		m.SetFleet(reg.Counts())
		reg.StartSweeper(&registry.SweeperConfig{
			Window:   cfg.StaleWindow,
			Interval: cfg.SweepInterval,
			Store:    store,
			OnStale: func(a *model.Agent) {
				h.Publish(hub.EventAgentStale, a)
				m.SetFleet(reg.Counts())
			},
		})
		defer reg.Stop()

		// Tactics and scorer.
		tactics := scorer.NewTacticBook()
		if err := tactics.Load(ctx, store); err != nil {
			return err
		}
		sc := scorer.New(scorer.Config{
			WindowSize:           cfg.ScoreWindow,
			Trees:                cfg.ScoreTrees,
			Threshold:            cfg.ScoreThreshold,
			TrafficCeiling:       cfg.TrafficCeiling,
			KnownVulnerabilities: cfg.KnownVulnerabilities,
			Seed:                 uint64(time.Now().UnixNano()),
		}, tactics, m, logger)

		var wg sync.WaitGroup
		goRun := func(fn func()) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn()
			}()
		}
		if cfg.TacticRefresh > 0 {
			goRun(func() { tactics.Refresh(ctx, store, cfg.TacticRefresh, logger) })
		}
		if cfg.ScoreInterval > 0 {
			goRun(func() {
				sc.Run(ctx, cfg.ScoreInterval, func(flagged []*model.ThreatAssessment) {
					agents := make([]string, 0, len(flagged))
					for _, a := range flagged {
						agents = append(agents, a.AgentID)
					}
					logger.Info("scorer: batch pass flagged outliers", "count", len(flagged), "agents", agents)
				})
			})
		}

		// Deadman supervisor.
		var supervisor *deadman.Supervisor
		if cfg.DeadmanTimeout > 0 {
			policy, err := deadman.ParseResetPolicy(cfg.DeadmanReset)
			if err != nil {
				return err
			}
			supervisor = deadman.New(deadman.Config{
				Timeout:       cfg.DeadmanTimeout,
				CheckInterval: cfg.DeadmanInterval,
				Reset:         policy,
				Action:        model.Action(cfg.DeadmanAction),
			}, &deadman.FleetEmitter{Bus: publisher, Hub: h}, m, logger)
			goRun(func() { supervisor.Run(ctx) })
			logger.Info("deadman armed", "timeout", cfg.DeadmanTimeout, "reset", policy)
		}

		dispatcher := dispatch.New(store, publisher, h, m, logger)

		deps := ingest.Deps{
			Store:      store,
			Registry:   reg,
			Scorer:     sc,
			Hub:        h,
			Dispatcher: dispatcher,
			Metrics:    m,
			Logger:     logger,
		}
		if supervisor != nil {
			deps.Deadman = supervisor
		}
		ingestor := ingest.New(ingest.Config{
			AutoRespond:    cfg.AutoRespond,
			MinTacticScore: cfg.MinTacticScore,
			CommandIntake:  cfg.CommandIntake,
		}, deps)
		if subscriber != nil {
			goRun(func() {
				if err := ingestor.Run(ctx, subscriber); err != nil {
					logger.Error("ingest stopped", "err", err)
				}
			})
		}

		// Audit archive.
		if sched := newArchiveScheduler(ctx, cfg, store, m, logger); sched != nil {
			sched.Start(ctx)
			defer sched.Stop()
		}

		srv := server.New(server.Deps{
			Store:      store,
			Registry:   reg,
			Ingestor:   ingestor,
			Dispatcher: dispatcher,
			Hub:        h,
			Tactics:    tactics,
			Deadman:    supervisor,
			Bus:        conn,
			Metrics:    m,
			Logger:     logger,

			AllowedOrigins: cfg.WSAllowedOrigins,
		})

		grpcServer := server.NewGRPCServer(srv, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
			// Streaming handlers end when ctx is cancelled at shutdown.
			BaseContext: func(net.Listener) context.Context { return ctx },
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		logger.Info("sentinel started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"agents", reg.Len(),
			"tactics", tactics.Len(),
			"auth", cfg.AuthToken != "",
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		cancel()
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		wg.Wait()
		logger.Info("shutdown complete")
		return nil
	},
}

// newArchiveScheduler returns nil when archiving is disabled or no
// destination is configured.
func newArchiveScheduler(ctx context.Context, cfg *config.Config, src archive.Source, m *metrics.Metrics, logger *slog.Logger) *archive.Scheduler {
	if cfg.ArchiveInterval <= 0 {
		return nil
	}
	var dests []archive.Destination
	if cfg.ArchiveS3Bucket != "" {
		d, err := archive.NewS3Destination(ctx, archive.S3Config{
			Bucket:   cfg.ArchiveS3Bucket,
			Key:      cfg.ArchiveS3Key,
			Region:   cfg.ArchiveS3Region,
			Endpoint: cfg.ArchiveS3Endpoint,
		})
		if err != nil {
			logger.Error("failed to create S3 archive destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "key", cfg.ArchiveS3Key)
		}
	}
	if cfg.ArchiveGitRepo != "" {
		dests = append(dests, archive.NewGitDestination(archive.GitConfig{
			Repo:   cfg.ArchiveGitRepo,
			File:   cfg.ArchiveGitFile,
			Branch: cfg.ArchiveGitBranch,
		}))
		logger.Info("archive git destination enabled", "repo", cfg.ArchiveGitRepo, "file", cfg.ArchiveGitFile)
	}
	if len(dests) == 0 {
		return nil
	}
	return archive.NewScheduler(src, dests, archive.Options{
		Interval: cfg.ArchiveInterval,
		Logger:   logger,
		Metrics:  m,
	})
}
