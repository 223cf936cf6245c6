package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/params"
	"github.com/standardweb3/standard-substrate-sub001/pkg/api"
	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core"
	"github.com/standardweb3/standard-substrate-sub001/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger initialized", zap.String("log_file", cfg.Node.LogFile))

	// ---- Engine stack ----
	c, err := core.New(cfg, util.RealClock{}, logger)
	if err != nil {
		logger.Fatal("core init failed", zap.Error(err))
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API server ----
	server := api.NewServer(c, logger)
	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	logger.Info("node started",
		zap.String("api_addr", cfg.Node.APIAddr),
		zap.String("data_dir", cfg.Node.DataDir))

	<-ctx.Done()
	logger.Info("shutting down")
}
