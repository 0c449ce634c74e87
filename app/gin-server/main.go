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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mindpal/backend/config"
	"github.com/mindpal/backend/internal/api/handlers"
	"github.com/mindpal/backend/internal/api/routes"
	"github.com/mindpal/backend/internal/assistant"
	"github.com/mindpal/backend/internal/auth"
	"github.com/mindpal/backend/internal/cache"
	"github.com/mindpal/backend/internal/logger"
	"github.com/mindpal/backend/internal/metrics"
	"github.com/mindpal/backend/internal/providers/embedding"
	"github.com/mindpal/backend/internal/providers/llm"
	"github.com/mindpal/backend/internal/providers/stt"
	"github.com/mindpal/backend/internal/rag"
	"github.com/mindpal/backend/internal/repositories"
	mongorepo "github.com/mindpal/backend/internal/repositories/mongo"
	"github.com/mindpal/backend/internal/repositories/postgres"
	"github.com/mindpal/backend/internal/repositories/sqlite"
	"github.com/mindpal/backend/internal/services"
	"github.com/mindpal/backend/internal/storage"
	"github.com/mindpal/backend/internal/workers"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	store, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)
	log.WithField("driver", cfg.Database.Driver).Info("relational store ready")

	// Init MongoDB (optional turn telemetry)
	var turns mongorepo.TurnRepository
	if cfg.Mongo.URI != "" {
		client, err := config.InitMongo(ctx, cfg.Mongo)
		if err != nil {
			return fmt.Errorf("mongo init: %w", err)
		}
		closers = append(closers, func() { _ = client.Disconnect(context.Background()) })
		db := client.Database(cfg.Mongo.Database)
		if err := config.EnsureMongoIndexes(ctx, db); err != nil {
			return fmt.Errorf("mongo indexes: %w", err)
		}
		turns = mongorepo.NewTurnRepo(db)
		log.Info("MongoDB connected")
	}

	// Init Redis (optional embedding cache and journal queue)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = config.InitRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		log.Info("Redis connected")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	provider, err := openProvider(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	closers = append(closers, func() { _ = provider.Close() })

	var objects storage.ObjectStore
	if cfg.RAG.CorpusBucket != "" {
		gcs, err := storage.NewGCSStore(ctx, cfg.RAG.CorpusBucket)
		if err != nil {
			return fmt.Errorf("corpus bucket: %w", err)
		}
		closers = append(closers, func() { _ = gcs.Close() })
		objects = gcs
	}

	var (
		retriever assistant.Retriever
		index     handlers.IndexAdmin
	)
	if cfg.RAG.Enabled {
		mgr, closeIndex, err := openIndex(ctx, cfg, rdb, objects, log)
		closers = append(closers, closeIndex)
		if err != nil {
			return err
		}
		retriever, index = mgr, mgr
	}

	var speech stt.Provider
	if cfg.STT.Enabled {
		gs, err := stt.NewGoogleSpeech(ctx, cfg.STT.Language)
		if err != nil {
			return fmt.Errorf("speech client: %w", err)
		}
		closers = append(closers, func() { _ = gs.Close() })
		speech = gs
	}

	tokens, err := auth.NewIssuer(auth.Config{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTokenExpiry,
		RefreshTTL:    cfg.Auth.RefreshTokenExpiry,
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// services
	sessions := services.NewSessionCache(store, services.SessionCacheConfig{
		TTL:     cfg.Session.TTL,
		MaxSize: cfg.Session.MaxSize,
	}, m, log)
	workflow := assistant.NewWorkflow(provider, retriever, assistant.WorkflowConfig{
		RetrievalEnabled: cfg.RAG.Enabled,
		TopK:             cfg.RAG.TopK,
	}, log)
	chat := services.NewChatService(services.ChatDeps{
		Store:    store,
		Cache:    sessions,
		Workflow: workflow,
		Turns:    turns,
		STT:      speech,
		Metrics:  m,
		Logger:   log,
		TurnTTL:  cfg.Mongo.TurnTTL,
	})
	maker, err := assistant.NewJournalMaker(provider)
	if err != nil {
		return err
	}
	journals := services.NewJournalService(store, maker, m, log)

	corpus := services.NewCorpusService(store.Documents, objects, cfg.RAG.CorpusPrefix)

	// workers
	var queue handlers.JournalQueue
	if rdb != nil {
		pool := &workers.JournalWorkerPool{
			Redis:      rdb,
			Journals:   journals,
			NumWorkers: cfg.Journal.Workers,
			Logger:     log,
			Stream:     cfg.Journal.Stream,
		}
		if err := pool.Start(ctx); err != nil {
			return err
		}
		queue = pool
	}

	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterRoutes(r, routes.Deps{
		Tokens:  tokens,
		Logger:  log,
		Metrics: m,
		Auth:    handlers.NewAuthHandler(services.NewAuthService(store.Users, tokens)),
		Chat:    handlers.NewChatHandler(chat),
		Journal: handlers.NewJournalHandler(journals, queue),
		Admin:   handlers.NewAdminHandler(index, corpus),
		WS:      handlers.NewWSHandler(chat, rdb, cfg.Server.WSAllowedOrigins, log),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) (repositories.Store, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := config.InitSQLite(cfg.SQLitePath)
		if err != nil {
			return repositories.Store{}, nil, fmt.Errorf("sqlite init: %w", err)
		}
		if err := sqlite.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return repositories.Store{}, nil, fmt.Errorf("sqlite migrate: %w", err)
		}
		return sqlite.NewStore(db), func() { _ = db.Close() }, nil
	default:
		db, err := config.InitPostgres(cfg, log)
		if err != nil {
			return repositories.Store{}, nil, fmt.Errorf("postgres init: %w", err)
		}
		if err := postgres.AutoMigrate(ctx, db); err != nil {
			return repositories.Store{}, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return postgres.NewStore(db), closeFn, nil
	}
}

func openProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "vertex":
		v, err := llm.NewVertexGemini(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.Model, float32(cfg.Temperature))
		if err != nil {
			return nil, fmt.Errorf("vertex client: %w", err)
		}
		return v, nil
	case "openai", "":
		return llm.NewOpenAICompatible(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.Provider)
	}
}

// openIndex builds the retrieval index. Failing here is fatal: retrieval
// was asked for and cannot be served.
func openIndex(ctx context.Context, cfg config.Config, rdb *redis.Client, objects storage.ObjectStore, log *logrus.Logger) (*rag.Manager, func(), error) {
	closeFn := func() {}

	var embedder embedding.Embedder = embedding.NewOpenAIEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model)
	if rdb != nil {
		embedder = embedding.NewCached(embedder, cache.NewRedisCache(rdb, "mindpal:"), cfg.Embedding.Model, cfg.Embedding.CacheTTL, log)
	}

	length, err := rag.LengthByName(cfg.RAG.ChunkLength)
	if err != nil {
		return nil, closeFn, err
	}
	splitter, err := rag.NewRecursiveSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, length)
	if err != nil {
		return nil, closeFn, err
	}

	var backend rag.Backend
	switch cfg.RAG.Backend {
	case "pgvector":
		db, err := rag.OpenPgVector(cfg.Database.PostgresURI)
		if err != nil {
			return nil, closeFn, fmt.Errorf("pgvector: %w", err)
		}
		closeFn = func() { _ = db.Close() }
		idx, err := rag.NewPgVectorIndex(db, "document_chunks")
		if err != nil {
			return nil, closeFn, err
		}
		backend = rag.PgVectorBackend{Index: idx}
	case "qdrant":
		client, err := rag.NewQdrantClient(cfg.RAG.QdrantHost, cfg.RAG.QdrantPort)
		if err != nil {
			return nil, closeFn, fmt.Errorf("qdrant: %w", err)
		}
		closeFn = func() { _ = client.Close() }
		backend = rag.QdrantBackend{Index: rag.NewQdrantIndex(client, cfg.RAG.QdrantCollection)}
	default:
		backend = rag.FlatBackend{Dir: cfg.RAG.IndexDir}
	}

	source := rag.DirSource(cfg.RAG.DocumentsDir)
	if objects != nil {
		prefix := cfg.RAG.CorpusPrefix
		source = func(ctx context.Context) ([]rag.Document, error) {
			return rag.LoadObjects(ctx, objects, prefix)
		}
	}

	mgr := rag.NewManager(backend, source, splitter, embedder, log)
	if err := mgr.Open(ctx); err != nil {
		return nil, closeFn, fmt.Errorf("open vector index: %w", err)
	}
	return mgr, closeFn, nil
}
