package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/meatsales_backend/config"
	"bitbucket.org/mmdatafocus/meatsales_backend/models"
	"bitbucket.org/mmdatafocus/meatsales_backend/workflow"
	"github.com/joho/godotenv"
)

// meatsales-worker runs schema migration and the order event outbox
// dispatcher. Several instances may run at once; the dispatcher claims
// rows with SKIP LOCKED so they never double-publish.
func main() {
	godotenv.Load()

	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil || config.GetRedisDB() == nil {
		logger.Fatal("database or redis not ready after connect")
	}

	if os.Getenv("SKIP_MIGRATION") == "" {
		models.MigrateTable()
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	logger.Info("meatsales-worker started")
	dispatcher := workflow.NewOutboxDispatcher(config.GetDB(), logger)
	dispatcher.Run(sigCtx)
	logger.Info("meatsales-worker stopped")
}
