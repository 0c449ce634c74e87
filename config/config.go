package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Redis     RedisConfig     `yaml:"redis"`
	Session   SessionConfig   `yaml:"session"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	RAG       RAGConfig       `yaml:"rag"`
	Journal   JournalConfig   `yaml:"journal"`
	STT       STTConfig       `yaml:"stt"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Port    string `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
	// WSAllowedOrigins restricts websocket upgrades; empty allows any origin.
	WSAllowedOrigins []string `yaml:"ws_allowed_origins"`
}

type AuthConfig struct {
	AccessSecret       string        `yaml:"access_secret"`
	RefreshSecret      string        `yaml:"refresh_secret"`
	AccessTokenExpiry  time.Duration `yaml:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `yaml:"refresh_token_expiry"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // postgres|sqlite
	PostgresURI string `yaml:"postgres_uri"`
	SQLitePath  string `yaml:"sqlite_path"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// SlowQuery is the gorm threshold above which statements are logged.
	SlowQuery time.Duration `yaml:"slow_query"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	TurnTTL        time.Duration `yaml:"turn_ttl"`
	MaxPoolSize    int           `yaml:"max_pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// PinTLS12 works around Atlas clusters that reject some TLS 1.3
	// handshakes from recent Go clients.
	PinTLS12    bool `yaml:"pin_tls12"`
	InsecureTLS bool `yaml:"insecure_tls"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type SessionConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"` // openai|vertex
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	VertexProject  string  `yaml:"vertex_project"`
	VertexLocation string  `yaml:"vertex_location"`
}

type EmbeddingConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type RAGConfig struct {
	Enabled          bool   `yaml:"enabled"`
	TopK             int    `yaml:"top_k"`
	Backend          string `yaml:"backend"` // flat|pgvector|qdrant
	DocumentsDir     string `yaml:"documents_dir"`
	IndexDir         string `yaml:"index_dir"`
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	ChunkLength      string `yaml:"chunk_length"` // chars|tokens
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection"`
	CorpusBucket     string `yaml:"corpus_bucket"`
	CorpusPrefix     string `yaml:"corpus_prefix"`
}

type JournalConfig struct {
	Workers int    `yaml:"workers"`
	Stream  string `yaml:"stream"`
}

type STTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Language string `yaml:"language"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{Port: "8080", GinMode: "release"},
		Auth: AuthConfig{
			AccessTokenExpiry:  30 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			SQLitePath:      "mindpal.db",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SlowQuery:       500 * time.Millisecond,
		},
		Mongo: MongoConfig{
			Database:       "mindpal",
			TurnTTL:        30 * 24 * time.Hour,
			MaxPoolSize:    10,
			ConnectTimeout: 15 * time.Second,
		},
		Session:   SessionConfig{TTL: 1800 * time.Second, MaxSize: 100},
		LLM:       LLMConfig{Provider: "openai", BaseURL: "http://localhost:11434/v1", Model: "llama3.1", Temperature: 0.7, VertexLocation: "us-central1"},
		Embedding: EmbeddingConfig{BaseURL: "http://localhost:11434/v1", Model: "llama3.1", CacheTTL: 24 * time.Hour},
		RAG: RAGConfig{
			TopK:             3,
			Backend:          "flat",
			DocumentsDir:     "./documents",
			IndexDir:         "./data/index",
			ChunkSize:        512,
			ChunkOverlap:     256,
			ChunkLength:      "chars",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "mindpal_documents",
			CorpusPrefix:     "corpus/",
		},
		Journal: JournalConfig{Workers: 2, Stream: "journal:stream"},
		STT:     STTConfig{Language: "en-US"},
	}
}

// Load returns defaults, overlaid by the YAML file at path (if any), overlaid
// by environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Session.MaxSize <= 0 {
		errs = append(errs, errors.New("session max size must be > 0"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session ttl must be > 0"))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, errors.New("rag top_k must be > 0"))
	}
	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("invalid chunking %d/%d: overlap must be smaller than size", c.RAG.ChunkSize, c.RAG.ChunkOverlap))
	}
	if c.Database.MaxOpenConns > 0 && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, fmt.Errorf("database max idle conns %d exceeds max open conns %d", c.Database.MaxIdleConns, c.Database.MaxOpenConns))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	switch c.RAG.Backend {
	case "flat", "pgvector", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("unknown RAG_BACKEND %q", c.RAG.Backend))
	}
	return errors.Join(errs...)
}

func applyEnv(c *Config) error {
	var errs []error
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	integer := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(dst *float64, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(dst *bool, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	// unit-scaled integer durations, e.g. SESSION_TTL_SECONDS=1800
	scaled := func(dst *time.Duration, key string, unit time.Duration) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = time.Duration(n) * unit
		}
	}
	duration := func(dst *time.Duration, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str(&c.LogLevel, "LOG_LEVEL")
	str(&c.Server.Port, "PORT")
	str(&c.Server.GinMode, "GIN_MODE")
	if v := strings.TrimSpace(os.Getenv("WS_ALLOWED_ORIGINS")); v != "" {
		c.Server.WSAllowedOrigins = strings.Split(v, ",")
	}

	str(&c.Auth.AccessSecret, "ACCESS_SECRET_KEY")
	str(&c.Auth.RefreshSecret, "REFRESH_SECRET_KEY")
	scaled(&c.Auth.AccessTokenExpiry, "ACCESS_TOKEN_EXPIRE_MINUTES", time.Minute)
	scaled(&c.Auth.RefreshTokenExpiry, "REFRESH_TOKEN_EXPIRE_DAYS", 24*time.Hour)

	str(&c.Database.Driver, "DB_DRIVER")
	str(&c.Database.PostgresURI, "POSTGRES_URI")
	str(&c.Database.SQLitePath, "SQLITE_PATH")
	integer(&c.Database.MaxOpenConns, "DB_MAX_OPEN_CONNS")
	integer(&c.Database.MaxIdleConns, "DB_MAX_IDLE_CONNS")
	duration(&c.Database.SlowQuery, "DB_SLOW_QUERY")

	str(&c.Mongo.URI, "MONGO_URI")
	str(&c.Mongo.Database, "MONGO_DB")
	duration(&c.Mongo.TurnTTL, "MONGO_TURN_TTL")
	integer(&c.Mongo.MaxPoolSize, "MONGO_MAX_POOL_SIZE")
	boolean(&c.Mongo.PinTLS12, "MONGO_FORCE_TLS_CONFIG")
	boolean(&c.Mongo.InsecureTLS, "MONGO_INSECURE_TLS")

	str(&c.Redis.Addr, "REDIS_ADDR", "REDIS_URI", "REDIS_URL")

	scaled(&c.Session.TTL, "SESSION_TTL_SECONDS", time.Second)
	integer(&c.Session.MaxSize, "SESSION_MAX_SIZE")

	str(&c.LLM.Provider, "LLM_PROVIDER")
	str(&c.LLM.BaseURL, "LLM_BASE_URL")
	str(&c.LLM.APIKey, "LLM_API_KEY")
	str(&c.LLM.Model, "LLM_MODEL")
	float(&c.LLM.Temperature, "LLM_TEMPERATURE")
	str(&c.LLM.VertexProject, "VERTEX_PROJECT")
	str(&c.LLM.VertexLocation, "VERTEX_LOCATION")

	str(&c.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	str(&c.Embedding.APIKey, "EMBEDDING_API_KEY")
	str(&c.Embedding.Model, "EMBEDDING_MODEL")
	duration(&c.Embedding.CacheTTL, "EMBEDDING_CACHE_TTL")

	boolean(&c.RAG.Enabled, "RAG_ENABLED")
	integer(&c.RAG.TopK, "RAG_TOP_K")
	str(&c.RAG.Backend, "RAG_BACKEND")
	str(&c.RAG.DocumentsDir, "DOCUMENTS_DIR")
	str(&c.RAG.IndexDir, "INDEX_DIR")
	integer(&c.RAG.ChunkSize, "CHUNK_SIZE")
	integer(&c.RAG.ChunkOverlap, "CHUNK_OVERLAP")
	str(&c.RAG.ChunkLength, "CHUNK_LENGTH")
	str(&c.RAG.QdrantHost, "QDRANT_HOST")
	integer(&c.RAG.QdrantPort, "QDRANT_PORT")
	str(&c.RAG.QdrantCollection, "QDRANT_COLLECTION")
	str(&c.RAG.CorpusBucket, "CORPUS_BUCKET")
	str(&c.RAG.CorpusPrefix, "CORPUS_PREFIX")

	integer(&c.Journal.Workers, "JOURNAL_WORKERS")
	str(&c.Journal.Stream, "JOURNAL_STREAM")

	boolean(&c.STT.Enabled, "STT_ENABLED")
	str(&c.STT.Language, "STT_LANGUAGE")

	return errors.Join(errs...)
}
