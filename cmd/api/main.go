package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"marketplace/api/internal/app"
	"marketplace/api/internal/authpw"
	"marketplace/api/internal/config"
	"marketplace/api/internal/email"
	"marketplace/api/internal/gitrepo"
	"marketplace/api/internal/lifecycle"
	"marketplace/api/internal/logging"
	"marketplace/api/internal/regen"
	"marketplace/api/internal/search"
	"marketplace/api/internal/session"
	"marketplace/api/internal/sideeffect"
	"marketplace/api/internal/store"
)

const memoryQueueCapacity = 1024

func main() {
	cfg := config.Load()
	log, logFile := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer logFile.Close()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Environment}); err != nil {
			log.WithError(err).Warn("sentry init failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{})
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	pg := store.NewPostgresStore(db)
	registry := lifecycle.DefaultRegistry()
	checks := map[string]app.Pinger{"database": pg}

	var sessions app.SessionStore = pg
	var queue sideeffect.Queue = sideeffect.NewMemoryQueue(memoryQueueCapacity)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Connect(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		redisStore := session.NewRedisStoreWithClient(client)
		defer redisStore.Close()
		sessions = redisStore
		checks["redis"] = redisStore
		if cfg.QueueBackend == "redis" {
			queue = sideeffect.NewRedisQueue(client, cfg.QueueName)
		}
		log.WithField("queue", cfg.QueueBackend).Info("using redis for sessions")
	} else if cfg.QueueBackend == "redis" {
		log.Warn("QUEUE_BACKEND=redis needs REDIS_URL, falling back to the in-process queue")
	}
	dispatcher := sideeffect.NewDispatcher(queue)

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		StartTLS: cfg.SMTPStartTLS,
		SiteURL:  cfg.SiteURL,
	})
	notifier := email.NewNotifier(mail, email.OwnerRecipients{Users: pg}, registry, email.NotifierOptions{
		PerSecond: cfg.NotifyPerSecond,
		Logger:    log,
	})

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(db, registry, cfg.SiteURL), log)

	if err := os.MkdirAll(cfg.SiteRepoDir, 0o755); err != nil {
		log.WithError(err).Fatal("create site repo dir")
	}
	siteRepo := gitrepo.New(cfg.SiteRepoDir, gitrepo.Options{
		Branch:    cfg.SiteRepoBranch,
		RemoteURL: cfg.SiteRepoRemote,
		Username:  cfg.SiteRepoUsername,
		Token:     cfg.SiteRepoToken,
	})
	publishers := []regen.Publisher{regen.NewGitPublisher(siteRepo)}
	if cfg.ObjectStorageEnabled() {
		objects, err := regen.NewObjectPublisher(ctx, regen.ObjectConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.WithError(err).Fatal("object storage unavailable")
		}
		publishers = append(publishers, objects)
	}
	regenerator := regen.New(registry, pg, regen.Options{
		SiteURL:    cfg.SiteURL,
		Publishers: publishers,
		Index:      searchService,
		Runs:       pg,
		Logger:     log,
	})

	pool := sideeffect.NewPool(queue, map[sideeffect.Kind]sideeffect.Handler{
		sideeffect.KindNotify:     sideeffect.NotifyHandler(notifier),
		sideeffect.KindRegenerate: sideeffect.RegenerateHandler(regenerator),
	}, sideeffect.PoolOptions{
		Workers:     cfg.Workers,
		Timeout:     cfg.EffectTimeout,
		MaxAttempts: cfg.EffectAttempts,
		Logger:      log,
		Reporter:    sideeffect.SentryReporter{},
	})
	poolCtx, stopPool := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		_ = pool.Run(poolCtx)
	}()

	schedule, err := regen.NewSchedule(cfg.RegenSchedule, cfg.RegenTimeout, regenerator, searchService, log)
	if err != nil {
		log.WithError(err).Fatal("invalid regeneration schedule")
	}
	if err := schedule.Every("@hourly", "purge_sessions", func(ctx context.Context) error {
		n, err := pg.PurgeExpiredSessions(ctx)
		if n > 0 {
			log.WithField("purged", n).Info("expired sessions purged")
		}
		return err
	}); err != nil {
		log.WithError(err).Fatal("schedule session purge")
	}
	schedule.Start()

	engine := lifecycle.NewEngine(registry, pg, lifecycle.Options{
		Notifier:      dispatcher,
		Regenerator:   dispatcher,
		EffectTimeout: cfg.EffectTimeout,
		Logger:        log,
	})

	service := app.New(cfg, app.Deps{
		Engine:    engine,
		Accounts:  pg,
		Sessions:  sessions,
		Passwords: authpw.NewService(pg),
		Catalog:   searchService,
		Runs:      pg,
		Site:      siteRepo,
		Checks:    checks,
		Logger:    log,
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.WithError(err).Warn("bootstrap failed, will retry on next restart")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("marketplace api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	shutdown(shutdownCtx, log, server, engine, schedule, stopPool, poolDone, queue)
}

// shutdown stops intake first, then drains detached effects into the queue
// before the workers stop.
func shutdown(ctx context.Context, log logrus.FieldLogger, server *http.Server, engine *lifecycle.Engine, schedule *regen.Schedule, stopPool context.CancelFunc, poolDone <-chan struct{}, queue sideeffect.Queue) {
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	schedule.Stop(ctx)

	drained := make(chan struct{})
	go func() {
		engine.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		log.Warn("side effects still in flight at shutdown")
	}

	stopPool()
	select {
	case <-poolDone:
	case <-ctx.Done():
	}
	if err := queue.Close(); err != nil {
		log.WithError(err).Warn("close queue")
	}
	log.Info("shutdown complete")
}
