package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/verifyd/internal/archive"
	"github.com/alfredjeanlab/verifyd/internal/config"
	"github.com/alfredjeanlab/verifyd/internal/events"
	"github.com/alfredjeanlab/verifyd/internal/metrics"
	"github.com/alfredjeanlab/verifyd/internal/notify"
	"github.com/alfredjeanlab/verifyd/internal/outbox"
	"github.com/alfredjeanlab/verifyd/internal/presence"
	"github.com/alfredjeanlab/verifyd/internal/server"
	"github.com/alfredjeanlab/verifyd/internal/store"
	"github.com/alfredjeanlab/verifyd/internal/store/memory"
	"github.com/alfredjeanlab/verifyd/internal/store/postgres"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

// orphanGrace is how old a session must be before the sweeper treats a
// session without items as abandoned.
const orphanGrace = 2 * time.Minute

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the verification server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, err := openStore(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		// The SSE stream always receives changes; NATS is optional.
		stream := server.NewSSEPublisher()
		publishers := events.Fanout{stream}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publishers = append(publishers, pub)
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("NATS events disabled (VERIFY_NATS_URL not set)")
		}

		svc := verify.New(st, publishers,
			verify.WithPolicy(cfg.Policy.TransferGate()),
			verify.WithLogger(logger),
		)

		tracker := presence.New()
		tracker.StartReaper(&presence.ReaperConfig{
			OnIdle: func(agentID, sessionID string) {
				logger.Info("agent went idle", "agent_id", agentID, "session_id", sessionID)
			},
		})

		srv := server.New(svc, stream, tracker, logger)
		grpcServer := server.NewGRPCServer(srv, cfg.AuthToken)
		metrics.Register()

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			tracker.Stop()
			publishers.Close()
			st.Close()
			return err
		}

		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: srv.NewHTTPHandler(cfg.AuthToken),
		}

		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		dispatcher := outbox.NewDispatcher(st,
			outbox.Handlers(tracker,
				notify.ForURL(notify.ChannelLeadVendor, cfg.NotifyLeadVendorURL),
				notify.ForURL(notify.ChannelTransfer, cfg.NotifyTransferURL),
			),
			cfg.Policy.OutboxRetry(),
			cfg.OutboxInterval,
			logger,
		)
		dispatcher.Start()
		logger.Info("outbox dispatcher started", "interval", cfg.OutboxInterval)

		var sweeper *verify.Sweeper
		if cfg.SweepInterval > 0 {
			sweeper = verify.NewSweeper(svc, orphanGrace, cfg.SweepInterval, logger)
			sweeper.Start()
			logger.Info("orphan sweeper started", "interval", cfg.SweepInterval)
		}

		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 {
			s3Dest, err := archive.NewS3Destination(
				context.Background(),
				cfg.ArchiveS3Bucket,
				cfg.ArchiveS3Prefix,
				cfg.ArchiveS3Region,
				cfg.ArchiveS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				scheduler = archive.NewScheduler(st, []archive.Destination{s3Dest}, cfg.ArchiveInterval, logger)
				scheduler.Start()
				logger.Info("archive scheduler started",
					"interval", cfg.ArchiveInterval,
					"bucket", cfg.ArchiveS3Bucket,
					"prefix", cfg.ArchiveS3Prefix)
			}
		}

		logger.Info("verification server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"transfer_threshold", cfg.Policy.Transfer.Threshold,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}
		if sweeper != nil {
			sweeper.Stop()
			logger.Info("orphan sweeper stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		// Drain the outbox after the servers stop accepting writes.
		dispatcher.Stop()
		logger.Info("outbox dispatcher stopped")
		tracker.Stop()

		if err := publishers.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// openStore returns the in-memory store for memory:// and PostgreSQL
// otherwise.
func openStore(url string) (store.Store, error) {
	if url == config.MemoryDatabaseURL {
		return memory.New(), nil
	}
	return postgres.New(url)
}
