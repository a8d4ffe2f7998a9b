package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"blitz/internal/api"
	"blitz/internal/config"
	"blitz/internal/engine"
	"blitz/internal/logging"
	"blitz/internal/messaging"
	"blitz/internal/metrics"
	"blitz/internal/net"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	logger, closer := logging.New(cfg)
	defer closer.Close()
	log.Logger = logger

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	m := metrics.New()
	eng := engine.New(
		engine.WithLogger(logger.With().Str("component", "engine").Logger()),
		engine.WithMetrics(m),
		engine.WithHoldBuffer(cfg.Engine.HoldBuffer),
	)
	hub := api.NewHub(logger.With().Str("component", "feed").Logger())

	t, ctx := tomb.WithContext(ctx)

	// With kafka on, every surface publishes through the processor, which
	// also feeds the hub.
	var processor *messaging.Processor
	if cfg.Kafka.Enabled {
		producer := messaging.NewKafkaProducer(cfg.Kafka.Brokers)
		defer func() {
			if err := producer.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close producer")
			}
		}()

		kafkaLogger := logger.With().Str("component", "kafka").Logger()
		processor = messaging.NewProcessor(eng, producer, cfg.Kafka.Topics, cfg.Engine.DepthLevel, kafkaLogger)
		processor.SetFeed(hub)

		orders := messaging.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topics.OrderCreated, processor.HandleOrder, kafkaLogger)
		cancels := messaging.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topics.OrderCancel, processor.HandleCancel, kafkaLogger)
		t.Go(func() error { return orders.Run(ctx) })
		t.Go(func() error { return cancels.Run(ctx) })
	}

	if cfg.Gateway.Enabled {
		opts := []net.Option{
			net.WithLanes(uint(cfg.Engine.Lanes)),
			net.WithReadTimeout(cfg.Gateway.ReadTimeout),
			net.WithLogger(logger.With().Str("component", "gateway").Logger()),
		}
		if processor != nil {
			opts = append(opts, net.WithEvents(processor))
		} else {
			opts = append(opts, net.WithBookListener(func(securityID string) {
				hub.Broadcast(messaging.Snapshot(eng, securityID, cfg.Engine.DepthLevel))
			}))
		}
		gateway := net.New(cfg.Gateway.Address, cfg.Gateway.Port, eng, opts...)
		t.Go(func() error { return gateway.Run(ctx) })
	}

	srv := api.NewServer(eng, hub, m, cfg.Engine.DepthLevel, logger.With().Str("component", "http").Logger())
	srv.SetCORSOrigins(cfg.HTTP.CORSOrigins)
	if processor != nil {
		srv.SetEvents(processor)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.Go(func() error {
		log.Info().Str("address", cfg.HTTP.Address).Msg("http server running")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	t.Go(func() error {
		<-t.Dying()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("matching engine stopped")
		return
	}
	log.Info().Msg("matching engine stopped")
}
