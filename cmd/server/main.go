package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/tdn1104/swapmeet/internal/adapter/handler"
	"github.com/tdn1104/swapmeet/internal/adapter/push"
	"github.com/tdn1104/swapmeet/internal/adapter/storage"
	"github.com/tdn1104/swapmeet/internal/config"
	"github.com/tdn1104/swapmeet/internal/core/domain"
	"github.com/tdn1104/swapmeet/internal/core/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL (remote document store)
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure mysql schema: %v", err)
	}
	log.Println("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	redisAdapter := storage.NewRedisAdapter(rdb)
	log.Println("connected to redis")

	// Initialize the durable mutation log
	mutationLog, err := storage.OpenSQLiteAdapter(cfg.SQLite.Path)
	if err != nil {
		log.Fatalf("failed to open mutation log: %v", err)
	}
	log.Printf("mutation log at %s", cfg.SQLite.Path)

	// Wire the core. The conflict resolver reloads the remote document and
	// drops the local mutation: losers of a claim race must claim afresh.
	var registry *service.ListingRegistry
	resolver := func(ctx context.Context, m domain.PendingMutation) error {
		if m.Kind != domain.MutationPutListing {
			return nil
		}
		remote, err := mysqlAdapter.GetListing(ctx, m.EntityID)
		if err != nil || remote == nil {
			return err
		}
		registry.AdoptRemote(*remote)
		return nil
	}

	syncQueue := service.NewSyncQueue(mutationLog, mysqlAdapter, resolver, cfg.Sync.MaxBackoff)

	dispatcher := service.NewNotificationDispatcher(
		push.NewHTTPPushSender(cfg.Push.Endpoint, cfg.Push.APIKey), cfg.Push.Buffer)
	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run()
		close(dispatcherDone)
	}()

	registry = service.NewListingRegistry(syncQueue, dispatcher)
	if err := syncQueue.Start(ctx); err != nil {
		log.Fatalf("failed to start sync queue: %v", err)
	}

	tokens := service.NewVerificationTokenService([]byte(cfg.Token.Secret), redisAdapter)
	machine := service.NewExchangeSessionMachine(registry, tokens, cfg.Token.TTL)

	sweeper := service.NewSweeper(registry, machine,
		cfg.Handoff.SweepInterval, cfg.Handoff.MaxDwell, cfg.Handoff.Retention)
	sweeperDone := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(sweeperDone)
	}()

	// Forward queue outcomes to the affected owner
	forwarderDone := make(chan struct{})
	go func() {
		for e := range syncQueue.Events() {
			if e.ListingID != "" {
				if l, err := registry.Get(e.ListingID); err == nil {
					e.OwnerID = l.OwnerID
				}
			}
			dispatcher.Notify(e)
		}
		close(forwarderDone)
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(registry, machine, redisAdapter, cfg.Claim.MaxRadiusMeters)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpHandler.Routes(),
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Println("HTTP server stopped")

	cancel()
	<-sweeperDone

	syncQueue.Stop()
	<-forwarderDone
	log.Println("sync queue stopped")

	// everyone who can Notify is drained; closing the buffer is now safe
	dispatcher.Close()
	<-dispatcherDone
	log.Println("dispatcher stopped")

	mutationLog.Close()
	rdb.Close()
	db.Close()
	log.Println("connections closed")
}
