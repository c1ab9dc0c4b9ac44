package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/Qualiasolutions/qualia-erp-sub000/config"
	"github.com/Qualiasolutions/qualia-erp-sub000/storage"
)

func main() {
	if config.EnvBool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	boards, err := config.Load(os.Getenv("BOARDS_FILE"))
	if err != nil {
		log.Fatalf("boards: %v", err)
	}

	ctx := context.Background()
	tables := boards.Tables()
	if err := storage.CreateTables(ctx, connStr, tables); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	log.WithField("tables", tables).Debug("tables ready")

	if err := storage.CreateQueues(ctx, connStr, []string{os.Getenv("CHANGES_QUEUE")}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.Info("storage init complete")
}
