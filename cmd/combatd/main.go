// Package main provides the combat daemon binary that runs the session
// engine with its Redis snapshot store and PostgreSQL event log.
package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/duskmire/engine/internal/config"
	"github.com/duskmire/engine/internal/engine"
	"github.com/duskmire/engine/internal/game/brain"
	"github.com/duskmire/engine/internal/game/combat"
	"github.com/duskmire/engine/internal/game/content"
	"github.com/duskmire/engine/internal/observability"
	"github.com/duskmire/engine/internal/server"
	"github.com/duskmire/engine/internal/storage/postgres"
	sessredis "github.com/duskmire/engine/internal/storage/redis"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	abilitiesDir := flag.String("abilities-dir", "content/abilities", "path to ability YAML definitions directory")
	creaturesDir := flag.String("creatures-dir", "content/creatures", "path to creature template YAML directory")
	brainsDir := flag.String("brains-dir", "content/brains", "root directory for creature Lua brain scripts")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting combat daemon")

	// Load content
	contentStart := time.Now()
	abilities, err := content.LoadAbilities(*abilitiesDir)
	if err != nil {
		logger.Fatal("loading abilities", zap.Error(err))
	}
	creatures, err := content.LoadCreatures(*creaturesDir)
	if err != nil {
		logger.Fatal("loading creature templates", zap.Error(err))
	}
	library, err := content.NewLibrary(abilities, creatures)
	if err != nil {
		logger.Fatal("building content library", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("abilities", library.AbilityCount()),
		zap.Int("creatures", library.CreatureCount()),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	// Load creature brains. A creature whose script fails to load still
	// fights with the built-in fallback, so this only warns.
	brains := brain.New(library, logger, brain.DefaultInstructionLimit)
	defer brains.Close()
	scripted := 0
	for _, tmpl := range creatures {
		if tmpl.BrainScript == "" {
			continue
		}
		path := filepath.Join(*brainsDir, tmpl.BrainScript)
		if err := brains.LoadScript(tmpl.ID, path); err != nil {
			logger.Warn("loading brain script",
				zap.String("template_id", tmpl.ID),
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		scripted++
	}
	logger.Info("creature brains loaded", zap.Int("scripted", scripted))

	// Connect to PostgreSQL for the event log and character sync
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	eventRepo := postgres.NewEventLogRepository(pool.DB())
	charRepo := postgres.NewCharacterRepository(pool.DB())

	// Connect to Redis for session snapshots
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal("connecting to redis", zap.Error(err))
	}
	cancel()
	logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))
	sessionStore := sessredis.NewSessionStore(redisClient, cfg.Combat.EndedSessionTTL)

	notify := func(locationID string, events []combat.Event) {
		logger.Debug("combat events",
			zap.String("location_id", locationID),
			zap.Int("count", len(events)),
		)
	}

	combatEngine, err := engine.New(engine.Options{
		Config:     cfg.Combat,
		Provider:   library,
		Brain:      brains,
		Store:      sessionStore,
		Events:     eventRepo,
		Characters: charRepo,
		Logger:     logger,
		Notify:     notify,
	})
	if err != nil {
		logger.Fatal("creating combat engine", zap.Error(err))
	}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	engineDone := make(chan struct{})
	lifecycle.Add("engine", &server.FuncService{
		StartFn: func() error {
			<-engineDone
			return nil
		},
		StopFn: func() {
			combatEngine.Close()
			close(engineDone)
		},
	})

	postgresStop := make(chan struct{})
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-postgresStop:
					return nil
				case <-ticker.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
		StopFn: func() {
			close(postgresStop)
			pool.Close()
		},
	})

	if cfg.Combat.EventRetention > 0 {
		retentionStop := make(chan struct{})
		lifecycle.Add("event-retention", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-retentionStop:
						return nil
					case <-ticker.C:
						cutoff := time.Now().Add(-cfg.Combat.EventRetention)
						purged, err := eventRepo.PurgeOlderThan(ctx, cutoff)
						if err != nil {
							logger.Warn("purging expired events", zap.Error(err))
							continue
						}
						if purged > 0 {
							logger.Info("purged expired events", zap.Int64("count", purged))
						}
					}
				}
			},
			StopFn: func() {
				close(retentionStop)
			},
		})
	}

	redisDone := make(chan struct{})
	lifecycle.Add("redis", &server.FuncService{
		StartFn: func() error {
			<-redisDone
			return nil
		},
		StopFn: func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("closing redis client", zap.Error(err))
			}
			close(redisDone)
		},
	})

	logger.Info("combat daemon initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
