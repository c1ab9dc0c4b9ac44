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

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Qualiasolutions/qualia-erp-sub000/api"
	"github.com/Qualiasolutions/qualia-erp-sub000/config"
	"github.com/Qualiasolutions/qualia-erp-sub000/feed"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
	"github.com/Qualiasolutions/qualia-erp-sub000/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if config.EnvBool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing storage config")
	}
	boards, err := config.Load(os.Getenv("BOARDS_FILE"))
	if err != nil {
		log.Fatalf("boards: %v", err)
	}
	tables, err := storage.New(connStr)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.RedisOptions(os.Getenv("REDIS_CONNECTION_STRING"))
	if err != nil {
		log.Fatal(err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	cacheTTL, err := config.EnvDur("RECORDS_CACHE_TTL", time.Minute)
	if err != nil {
		log.Fatal(err)
	}
	dedupeTTL, err := config.EnvDur("DEDUPER_TTL", 24*time.Hour)
	if err != nil {
		log.Fatal(err)
	}

	logger := log.New()
	logger.SetLevel(log.GetLevel())
	realtime := feed.NewRedis(rc, logger)
	publishers, err := changePublishers(connStr, realtime)
	if err != nil {
		log.Fatalf("changes: %v", err)
	}

	auth, err := newAuth()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(api.DecompressRequests())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, consts.HeaderIdempotencyKey},
	}))

	api.Register(e,
		api.NewTableSet(boards.Tables()...),
		storage.NewCache(tables, rc, cacheTTL),
		feed.NewHub(publishers, realtime),
		auth,
		api.NewRedisDeduper(rc, dedupeTTL),
		logger,
	)

	listenAddr := ":" + config.EnvString("FUNCTIONS_CUSTOMHANDLER_PORT", "8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	log.Info("board api stopped")
}

// changePublishers decides where writes are announced. With CHANGES_QUEUE
// set every change is also enqueued; CHANGES_VIA_QUEUE leaves realtime
// delivery to board-relay.
func changePublishers(connStr string, realtime *feed.Redis) (feed.Multi, error) {
	var out feed.Multi
	queueName := os.Getenv("CHANGES_QUEUE")
	viaQueue := config.EnvBool("CHANGES_VIA_QUEUE")
	if viaQueue && queueName == "" {
		return nil, errors.New("CHANGES_VIA_QUEUE needs CHANGES_QUEUE")
	}
	if !viaQueue {
		out = append(out, realtime)
	}
	if queueName != "" {
		sink, err := feed.NewQueueSink(connStr, queueName)
		if err != nil {
			return nil, err
		}
		out = append(out, sink)
	}
	return out, nil
}

func newAuth() (*api.Auth, error) {
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			return nil, errors.New("TEST_JWT_SECRET must be set in test mode")
		}
		return api.NewSharedSecretAuth([]byte(secret), os.Getenv("AUTH0_AUDIENCE"), ""), nil
	}
	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || domain == "" {
		return nil, errors.New("missing Auth0 config")
	}
	cacheTTL, err := config.EnvDur("JWKS_CACHE_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, jwtAudience, "https://"+domain+"/", cacheTTL), nil
}
