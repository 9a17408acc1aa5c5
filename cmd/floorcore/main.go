package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"floorcore/config"
	"floorcore/engine"
	"floorcore/messaging"
	"floorcore/nodestate"
	"floorcore/store"
	"floorcore/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "floorcore.yaml", "path to config file")
	writeConfig := flag.Bool("write-config", false, "write the effective config to -config and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("floorcore", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("wrote", *configPath)
		return
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	var db *store.DB
	if cfg.Database.Driver != "none" {
		db, err = store.Open(&cfg.Database)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		log.Infof("floorcore: database open (%s)", cfg.Database.Driver)
	}

	// Redis mirror
	var nodeStateMgr *nodestate.Manager
	redisStore := nodestate.NewRedisStore(&cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := redisStore.Ping(pingCtx); err != nil {
		log.Warnf("floorcore: redis not available (%v), running without mirror", err)
		redisStore.Close()
	} else {
		nodeStateMgr = nodestate.NewManager(redisStore, log.Named("nodestate"), 0)
		if err := nodeStateMgr.Start(pingCtx); err != nil {
			log.Warnf("floorcore: redis mirror start: %v", err)
		}
		log.Infof("floorcore: redis connected (%s)", cfg.Redis.Address)
	}
	cancel()
	if nodeStateMgr != nil {
		defer redisStore.Close()
	}

	// Messaging client
	var msgClient *messaging.Client
	if cfg.Messaging.Backend != "none" {
		msgClient = messaging.NewClient(&cfg.Messaging, log.Named("messaging"))
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := msgClient.Connect(connCtx); err != nil {
			log.Warnf("floorcore: %v", err)
		}
		cancel()
	}

	// Engine
	eng, err := engine.New(engine.Config{
		AppConfig:  cfg,
		DB:         db,
		NodeState:  nodeStateMgr,
		MsgClient:  msgClient,
		Logger:     log,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warnf("floorcore: shutdown: %v", err)
		}
	}()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil {
			log.Errorf("engine: %v", err)
		}
	}()

	if msgClient != nil {
		// Messaging consumer (inbound orders)
		consumer := messaging.NewConsumer(eng, log.Named("consumer"))
		if err := consumer.Start(ctx, msgClient, cfg.Messaging.OrdersTopic); err != nil {
			log.Warnf("floorcore: consumer start failed: %v", err)
		}

		// Outbox drainer (outbound events)
		if db != nil {
			drainer := messaging.NewOutboxDrainer(db, msgClient, nil, cfg.Messaging.OutboxDrainInterval, log.Named("outbox"))
			go drainer.Run(ctx)
		}
	}

	// Web server
	handler, err := www.NewRouter(eng, &cfg.Web, prometheus.DefaultGatherer, log.Named("www"))
	if err != nil {
		log.Fatalf("web: %v", err)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("floorcore: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("web server: %v", err)
			stop()
		}
	}()

	log.Infof("floorcore: ready (%s, %d units)", cfg.FactoryID, len(cfg.Units))
	<-ctx.Done()

	log.Infof("floorcore: shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	<-engineDone

	log.Infof("floorcore: stopped")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}
