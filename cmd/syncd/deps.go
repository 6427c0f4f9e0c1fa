package main

import (
	"context"
	"log"

	"ledgerline/internal/domain/connection"
	"ledgerline/internal/domain/normalize"
	"ledgerline/internal/domain/notification"
	"ledgerline/internal/domain/persist"
	"ledgerline/internal/domain/rawstore"
	"ledgerline/internal/domain/reconcile"
	"ledgerline/internal/domain/syncer"
	"ledgerline/internal/domain/syncwindow"
	"ledgerline/internal/infrastructure/crypto"
	"ledgerline/internal/infrastructure/firebase"
	"ledgerline/internal/infrastructure/locks"
	"ledgerline/internal/infrastructure/postgres"
	"ledgerline/internal/provider"
	"ledgerline/internal/shared/config"
	"ledgerline/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB          *postgres.DB
	RedisLocker *locks.RedisLocker

	Orchestrator *syncer.Orchestrator
	Registry     *provider.Registry

	// Repositories (for the scheduler job provider)
	ConnectionRepo *postgres.ConnectionRepository
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	// Initialize encryptor for credential storage
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Initialize repositories
	connectionRepo := postgres.NewConnectionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	rawRecordRepo := postgres.NewRawRecordRepository(db)
	cursorRepo := postgres.NewCursorRepository(db)
	credentialRepo := postgres.NewCredentialRepository(db, encryptor)
	deviceTokenRepo := postgres.NewDeviceTokenRepository(db)

	// Sync lock: Redis when configured, otherwise in-process
	var locker syncer.Locker
	var redisLocker *locks.RedisLocker
	if cfg.Locks.RedisAddr != "" {
		redisLocker, err = locks.NewRedisLocker(cfg.Locks.RedisAddr, cfg.Locks.RedisPassword)
		if err != nil {
			db.Close()
			return nil, err
		}
		locker = redisLocker
		log.Printf("Using Redis sync lock at %s", cfg.Locks.RedisAddr)
	} else {
		locker = locks.NewMemoryLocker()
		log.Println("Using in-memory sync lock (single instance)")
	}

	// Notification copy and FCM client (optional)
	texts, err := messages.Load(cfg.Firebase.MessagesFile)
	if err != nil {
		log.Printf("Warning: Failed to load notification messages: %v", err)
		texts = &messages.Messages{}
	}

	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcmClient, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, deviceTokenRepo.Deactivate)
		if err != nil {
			log.Printf("Warning: Failed to initialize FCM client: %v", err)
		} else {
			messenger = fcmClient
		}
	} else {
		log.Println("FCM credentials not configured, notifications disabled")
	}
	notifier := notification.NewService(messenger, deviceTokenRepo, texts)

	// Provider adapters are registered by the integration build; each one
	// is wrapped with a circuit breaker before registration.
	registry := provider.NewRegistry()
	registerAdapters(registry)

	// Domain services
	store := rawstore.NewStore(rawRecordRepo, cursorRepo)
	engine := normalize.NewEngine(store)
	reconciler := reconcile.NewService(accountRepo)
	batcher := persist.NewBatcher(transactionRepo, cfg.Sync.BatchChunkSize)
	health := connection.NewHealthTracker(connectionRepo)
	planner := syncwindow.NewPlanner(syncwindow.DefaultConfig())

	orchestrator := syncer.NewOrchestrator(
		syncer.Config{
			RunBudget:       cfg.Sync.RunBudget,
			AccountFanout:   cfg.Sync.AccountFanout,
			MinSyncInterval: cfg.Sync.MinSyncInterval,
		},
		syncer.Deps{
			Connections: connectionRepo,
			Registry:    registry,
			Store:       store,
			Engine:      engine,
			Reconciler:  reconciler,
			Batcher:     batcher,
			Health:      health,
			Notifier:    notifier,
			Planner:     planner,
			Credentials: credentialRepo,
			Locker:      locker,
		},
	)

	return &Dependencies{
		DB:             db,
		RedisLocker:    redisLocker,
		Orchestrator:   orchestrator,
		Registry:       registry,
		ConnectionRepo: connectionRepo,
	}, nil
}

// registerAdapters wires the provider integrations available to this build.
// Concrete adapters live outside the sync core; wrap each with
// provider.WithBreaker before registering:
//
//	registry.Register(provider.WithBreaker(plaid.New(cfg), provider.BreakerSettings{}))
func registerAdapters(registry *provider.Registry) {
	if len(registry.Providers()) == 0 {
		log.Println("Warning: No provider adapters registered; syncs will fail until an integration is configured")
	}
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.RedisLocker != nil {
		d.RedisLocker.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
