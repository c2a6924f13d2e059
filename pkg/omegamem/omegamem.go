// Package omegamem assembles a ready-to-use memory system from a
// configuration file: persistence backend, embedding provider, Lua hooks
// and the memory management unit that ties them together.
package omegamem

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lexlapax/omegamem/pkg/config"
	"github.com/lexlapax/omegamem/pkg/embedding"
	embedMock "github.com/lexlapax/omegamem/pkg/embedding/adapters/mock"
	"github.com/lexlapax/omegamem/pkg/embedding/adapters/ollama"
	"github.com/lexlapax/omegamem/pkg/embedding/adapters/openai"
	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/consolidation"
	"github.com/lexlapax/omegamem/pkg/mem/persist"
	"github.com/lexlapax/omegamem/pkg/mem/persist/boltdb"
	persistMock "github.com/lexlapax/omegamem/pkg/mem/persist/mock"
	"github.com/lexlapax/omegamem/pkg/mem/persist/postgres"
	"github.com/lexlapax/omegamem/pkg/mem/persist/sqlite"
	"github.com/lexlapax/omegamem/pkg/mmu"
	"github.com/lexlapax/omegamem/pkg/scripting"
)

// Client is an MMU built from configuration, with an optional background
// consolidation scheduler.
type Client struct {
	*mmu.MMU

	cfg    *config.Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option adjusts how New assembles a Client.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	embedder embedding.Embedder
}

// WithLogger uses logger instead of one built from the logging section.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEmbedder uses e instead of the configured provider.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// NewFromConfig loads the configuration at path and calls New.
func NewFromConfig(ctx context.Context, path string, opts ...Option) (*Client, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return New(ctx, cfg, opts...)
}

// New opens the configured backends, builds the MMU and replays persisted
// records into it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.Setup(log.Config{
			Level:  log.Level(cfg.Logging.Level),
			Format: log.Format(cfg.Logging.Format),
		})
	}

	storeCfg, err := cfg.BuildStoreConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	embedder := o.embedder
	if embedder == nil {
		if embedder, err = initEmbedder(cfg, logger); err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}

	scripts, err := initScriptEngine(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scripting engine: %w", err)
	}

	persister, err := initPersister(ctx, cfg, logger)
	if err != nil {
		closeQuietly(scripts)
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}

	m, err := mmu.New(storeCfg, cfg.EngineConfig(), mmu.Dependencies{
		Embedder:  embedder,
		Scripts:   scripts,
		Persister: persister,
		Logger:    logger,
	}, cfg.MMU)
	if err != nil {
		closeQuietly(scripts)
		closeQuietly(persister)
		return nil, err
	}

	n, err := m.Load(ctx)
	if err != nil {
		logger.Warn("Some persisted records could not be restored", "loaded", n, "error", err)
		if n == 0 && persister != nil {
			// nothing usable came back; treat the backend as broken
			m.Close()
			return nil, err
		}
	}

	logger.Info("omegamem client initialized",
		"persistence", cfg.Persistence.Type,
		"embedding_provider", cfg.Embedding.Provider,
		"dimension", storeCfg.Dimension,
		"scripting_enabled", scripts != nil,
		"restored", n,
	)
	return &Client{MMU: m, cfg: cfg, logger: logger}, nil
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config { return c.cfg }

// StartScheduler starts background consolidation at the configured
// interval. It is a no-op when the interval is zero or a scheduler is
// already running.
func (c *Client) StartScheduler(ctx context.Context, onReport func(consolidation.Report, error)) bool {
	interval := c.cfg.Consolidation.Interval
	if interval <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go func() {
		defer close(done)
		c.MMU.Run(runCtx, interval, onReport)
	}()
	c.logger.Info("Background consolidation started", "interval", interval)
	return true
}

// StopScheduler stops background consolidation and waits for an in-flight
// pass to finish.
func (c *Client) StopScheduler() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the scheduler and releases every backend.
func (c *Client) Close() error {
	c.StopScheduler()
	return c.MMU.Close()
}

func closeQuietly(c interface{ Close() error }) {
	if c != nil {
		_ = c.Close()
	}
}

// initPersister opens the configured persistence backend. "none" yields a
// nil Persister.
func initPersister(ctx context.Context, cfg *config.Config, logger *slog.Logger) (persist.Persister, error) {
	kind := strings.ToLower(cfg.Persistence.Type)
	logger.Info("Initializing persistence", "type", kind)

	switch kind {
	case "", "none":
		return nil, nil

	case "memory":
		return persistMock.NewMockStore(), nil

	case "boltdb":
		if err := ensureDir(cfg.Persistence.Path); err != nil {
			return nil, err
		}
		logger.Info("Using BoltDB persistence", "path", cfg.Persistence.Path, "compression", cfg.Persistence.Compression)
		store, err := boltdb.Open(ctx, cfg.Persistence.Path, boltdb.WithCompression(cfg.Persistence.Compression))
		if err != nil {
			return nil, err
		}
		return store, nil

	case "sqlite":
		if err := ensureDir(cfg.Persistence.Path); err != nil {
			return nil, err
		}
		logger.Info("Using SQLite persistence", "path", cfg.Persistence.Path)
		store, err := sqlite.Open(ctx, cfg.Persistence.Path)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "postgres":
		logger.Info("Using PostgreSQL persistence")
		store, err := postgres.Open(ctx, cfg.Persistence.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Persistence.Type)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// initEmbedder builds the configured embedding provider.
func initEmbedder(cfg *config.Config, logger *slog.Logger) (embedding.Embedder, error) {
	provider := strings.ToLower(cfg.Embedding.Provider)
	logger.Info("Initializing embedding provider", "provider", provider)

	switch provider {
	case "", "mock":
		return embedMock.New(cfg.Store.Dimension), nil

	case "openai":
		oc := cfg.Embedding.OpenAI
		if oc.Dimension <= 0 {
			oc.Dimension = cfg.Store.Dimension
		}
		e, err := openai.New(oc)
		if err != nil {
			return nil, err
		}
		logger.Info("Using OpenAI embeddings", "model", oc.Model, "dimension", e.Dimension())
		return e, nil

	case "ollama":
		oc := cfg.Embedding.Ollama
		if oc.Dimension <= 0 {
			oc.Dimension = cfg.Store.Dimension
		}
		logger.Info("Using Ollama embeddings", "model", oc.Model, "base_url", oc.BaseURL)
		return ollama.New(oc), nil
	}
	return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
}

// initScriptEngine creates the Lua engine and loads every configured path.
// Missing paths are skipped with a warning. It returns nil when scripting
// is disabled.
func initScriptEngine(cfg *config.Config, logger *slog.Logger) (scripting.Engine, error) {
	if !cfg.Scripting.Enabled {
		logger.Debug("Lua scripting disabled")
		return nil, nil
	}

	engine, err := scripting.NewLuaEngine(cfg.Scripting.Engine)
	if err != nil {
		return nil, err
	}

	loaded := 0
	for _, path := range cfg.Scripting.Paths {
		info, err := os.Stat(path)
		if err != nil {
			logger.Warn("Script path not found", "path", path, "error", err)
			continue
		}
		if info.IsDir() {
			err = engine.LoadScriptDir(path)
		} else {
			err = engine.LoadScriptFile(path)
		}
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("failed to load scripts from %s: %w", path, err)
		}
		loaded++
	}

	if loaded == 0 {
		logger.Warn("Lua scripting enabled but no scripts were loaded", "paths", cfg.Scripting.Paths)
	} else {
		logger.Info("Loaded Lua scripts", "scripts", engine.Scripts())
	}
	return engine, nil
}
