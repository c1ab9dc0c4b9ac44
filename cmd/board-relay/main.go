package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Qualiasolutions/qualia-erp-sub000/config"
	"github.com/Qualiasolutions/qualia-erp-sub000/feed"
)

func main() {
	if config.EnvBool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("board relay starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	queueName := os.Getenv("CHANGES_QUEUE")
	if connStr == "" || queueName == "" {
		log.Fatal("missing storage config")
	}
	redisOpts, err := config.RedisOptions(os.Getenv("REDIS_CONNECTION_STRING"))
	if err != nil {
		log.Fatal(err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	logger := log.New()
	logger.SetLevel(log.GetLevel())
	relay, err := feed.NewRelay(connStr, queueName, feed.NewRedis(rc, logger), logger)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := relay.Run(ctx); err != nil {
		log.Fatal(err)
	}
	log.Info("board relay stopped")
}
