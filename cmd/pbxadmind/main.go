package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/gonopbx/pbxadmin/internal/ami"
	"github.com/gonopbx/pbxadmin/internal/config"
	"github.com/gonopbx/pbxadmin/internal/httpapi"
	"github.com/gonopbx/pbxadmin/internal/hub"
	"github.com/gonopbx/pbxadmin/internal/live"
	"github.com/gonopbx/pbxadmin/internal/logging"
	"github.com/gonopbx/pbxadmin/internal/mqtt"
	"github.com/gonopbx/pbxadmin/internal/publish"
	"github.com/gonopbx/pbxadmin/internal/store"
	"github.com/gonopbx/pbxadmin/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "/etc/pbxadmin/pbxadmin.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.S().Fatalf("loading config: %v", err)
	}

	log, err := logging.Init(cfg.LogEnv)
	if err != nil {
		zap.S().Fatalf("initializing logger: %v", err)
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("shutting down", "signal", sig)
		cancel()
	}()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatalw("connecting to database", "error", err)
	}
	defer pool.Close()
	db := store.New(pool)

	agg := live.New()
	h := hub.New(func() any { return agg.Snapshot() }, log)

	sink := supervisor.Sink{
		Change: func(c live.Change) { h.Broadcast(c) },
		Status: h.SetStatus,
		Event: func(evt ami.Event) {
			h.Broadcast(map[string]any{"name": evt.Type(), "fields": evt.Fields()})
		},
	}

	if cfg.MQTT.Enabled() {
		pub, err := mqtt.NewPahoPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         1,
		})
		if err != nil {
			log.Fatalw("connecting to MQTT", "error", err)
		}
		defer pub.Close()
		bridge := mqtt.NewBridge(pub, cfg.MQTT.TopicPrefix, log)
		log.Infow("MQTT bridge enabled", "broker", cfg.MQTT.Broker)

		change, status := sink.Change, sink.Status
		sink.Change = func(c live.Change) {
			change(c)
			bridge.HandleChange(ctx, c)
		}
		sink.Status = func(s string) {
			status(s)
			bridge.PublishStatus(ctx, s)
		}
	}

	connect := func(ctx context.Context) (supervisor.Conn, error) {
		return ami.Dial(ctx, ami.Options{
			Host:           cfg.AMI.Host,
			Port:           cfg.AMI.Port,
			Username:       cfg.AMI.Username,
			Secret:         cfg.AMI.Secret,
			ExecuteTimeout: cfg.AMI.ExecuteTimeout(),
			Logger:         log,
		})
	}
	sup := supervisor.New(connect, agg, sink, log)

	publisher := publish.New(cfg.Asterisk.ConfigDir, sup, log)

	api := httpapi.New(httpapi.Options{
		DB:        db,
		Applier:   publisher,
		Executor:  sup,
		Live:      agg,
		Hub:       h,
		JWTSecret: []byte(cfg.HTTP.JWTSecret),
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("http server listening", "addr", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("http server failed", "error", err)
			cancel()
		}
	}()

	if err := sup.Run(ctx); err != nil {
		log.Errorw("supervisor stopped", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	log.Infow("shutdown complete")
}
