package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_relay/internal/auth"
	"chat_relay/internal/broker"
	"chat_relay/internal/config"
	"chat_relay/internal/delivery"
	"chat_relay/internal/httpapi"
	"chat_relay/internal/logging"
	"chat_relay/internal/notify"
	"chat_relay/internal/outbox"
	"chat_relay/internal/presence"
	"chat_relay/internal/push"
	"chat_relay/internal/receipt"
	"chat_relay/internal/repository"
	"chat_relay/internal/ws"

	"github.com/coreos/go-systemd/v22/daemon"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration & Logger
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodeID := cfg.NodeID
	log = log.With().Str("node_id", nodeID).Logger()

	// 2. Storage
	var (
		store    repository.Store
		sessions presence.SessionRepository
	)
	switch cfg.StoreDriver {
	case config.DriverBadger:
		bs, err := repository.OpenBadger(cfg.BadgerPath, log)
		if err != nil {
			return err
		}
		store = bs
	default:
		ps, err := repository.OpenPostgres(ctx, cfg.DBConnStr)
		if err != nil {
			return err
		}
		store = ps
		sessionRepo := presence.NewPostgresSessions(ps.DB())
		if err := sessionRepo.ClearNode(ctx, nodeID); err != nil {
			log.Warn().Err(err).Msg("Failed to clear stale sessions")
		}
		sessions = sessionRepo
	}
	defer func() {
		log.Info().Msg("Closing store...")
		_ = store.Close()
	}()

	// 3. RabbitMQ: offline push and event journal
	var (
		offline broker.OfflinePublisher
		journal outbox.Journal
	)
	if cfg.AMQPURL != "" {
		mqClient, err := broker.NewRabbitMQClient(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer mqClient.Close()
		offline = mqClient

		if cfg.StreamURI != "" {
			if err := mqClient.ConnectStream(cfg.StreamURI, cfg.JournalStream); err != nil {
				log.Warn().Err(err).Msg("Event journal disabled")
			} else {
				sj, err := outbox.NewStreamJournal(mqClient.StreamEnv, cfg.JournalStream, log)
				if err != nil {
					return err
				}
				defer func() { _ = sj.Close() }()
				journal = sj
			}
		}

		// 4. Push Worker
		pushWorker := push.NewWorker(mqClient, push.LogSender{Log: log}, log)
		go func() {
			if err := pushWorker.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Push worker stopped")
			}
		}()
	} else {
		log.Warn().Msg("AMQP_URL not set, offline push and journal disabled")
	}

	// 5. WebSocket Hub
	hub := ws.NewHub(presence.NewRegistry(), sessions, journal, nodeID, log)
	go hub.Run(ctx)

	// 6. Services
	engine := delivery.NewEngine(store, store, hub.Registry(), hub, offline, journal, log)
	receipts := receipt.NewPropagator(store, hub.Registry(), hub, journal, log)
	fanout := notify.NewFanout(store, hub.Registry(), hub, offline, journal, log)

	// 7. Orphan notification sweeper
	sweeper := notify.NewSweeper(store, cfg.SweepRatePerSec, cfg.SweepBatchSize, log)
	if err := sweeper.Start(ctx, cfg.SweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	// 8. HTTP Handlers
	verifier := auth.NewVerifier(cfg.JWTSecret, store, log)
	dispatcher := ws.NewDispatcher(hub, engine, receipts, log)
	wsServer := ws.NewServer(ctx, hub, dispatcher, ws.Options{
		SendBufferSize: cfg.SendBufferSize,
		PingInterval:   cfg.PingInterval,
		PongTimeout:    cfg.PongTimeout,
	}, checkOrigin(cfg.FrontendURL), log)
	api := httpapi.NewHandler(engine, receipts, fanout, log)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Routes(verifier, wsServer, cfg.FrontendURL),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("Failed to notify systemd")
	} else if ok {
		log.Debug().Msg("Notified systemd")
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info().Msg("Shutting down...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// checkOrigin accepts any origin when frontend is "*", otherwise only frontend.
func checkOrigin(frontend string) func(r *http.Request) bool {
	if frontend == "" || frontend == "*" {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == frontend
	}
}
