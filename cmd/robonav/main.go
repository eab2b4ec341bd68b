package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"robonav/config"
	"robonav/devicestate"
	"robonav/engine"
	"robonav/logging"
	"robonav/messaging"
	"robonav/motion/robotapi"
	"robonav/store"
	"robonav/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "robonav.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("robonav", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	lg := logger.Named("robonav")

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		lg.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	lg.Info("database open", zap.String("driver", cfg.Database.Driver))

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		lg.Warn("redis not available, running without cache", zap.Error(err))
	} else {
		lg.Info("redis connected", zap.String("address", cfg.Redis.Address))
	}
	cancel()
	defer redisClient.Close()
	redisStore := devicestate.NewRedisStore(redisClient, cfg.Redis.TTL)

	// Robot movement API
	robotAdapter := robotapi.New(robotapi.Config{
		BaseURL:        cfg.Robot.BaseURL,
		StreamURL:      cfg.Robot.StreamURL,
		Timeout:        cfg.Robot.Timeout,
		ReconnectDelay: cfg.Robot.ReconnectDelay,
	}, logger)
	if err := robotAdapter.Ping(); err == nil {
		lg.Info("robot connected", zap.String("gateway", robotAdapter.Name()))
	} else {
		lg.Warn("robot not available", zap.Error(err))
	}

	// Messaging client
	msgClient := messaging.NewClient(&cfg.Messaging, logger)
	if err := msgClient.Connect(); err != nil {
		lg.Warn("messaging connect failed", zap.String("backend", msgClient.Backend()), zap.Error(err))
	} else {
		lg.Info("messaging connected", zap.String("backend", msgClient.Backend()))
	}
	defer msgClient.Close()

	// Engine
	eng, err := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		Gateway:    robotAdapter,
		MsgClient:  msgClient,
		Redis:      redisStore,
		Logger:     logger,
	})
	if err != nil {
		lg.Fatal("engine", zap.Error(err))
	}
	eng.Start()
	defer eng.Stop()

	// Web server
	handler, stopWeb := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		lg.Info("web server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("web server", zap.Error(err))
		}
	}()

	lg.Info("ready", zap.String("version", Version))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("shutting down")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	lg.Info("stopped")
}
