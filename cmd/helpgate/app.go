package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zen-systems/helpgate/pkg/adapter"
	"github.com/zen-systems/helpgate/pkg/config"
	"github.com/zen-systems/helpgate/pkg/faq"
	"github.com/zen-systems/helpgate/pkg/generator"
	"github.com/zen-systems/helpgate/pkg/logger"
	"github.com/zen-systems/helpgate/pkg/metrics"
	"github.com/zen-systems/helpgate/pkg/policy"
	"github.com/zen-systems/helpgate/pkg/router"
	"github.com/zen-systems/helpgate/pkg/session"
)

// app holds the wired components shared by serve and ask.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	index    *faq.Index
	source   faq.Source
	sessions session.Store
	redis    *redis.Client
	metrics  *metrics.Metrics
	router   *router.Router

	closers []func() error
}

func newLogger(cfg *config.Config) logger.Logger {
	lc := logger.DefaultConfig()
	lc.Level = logger.ParseLevel(cfg.Log.Level)
	lc.JSON = cfg.Log.JSON
	l := logger.NewLogger(lc)
	logger.SetDefault(l)
	return l
}

// newApp wires every component. On failure whatever was already opened is
// closed before returning.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	if err := a.openFAQ(ctx); err != nil {
		return err
	}
	if err := a.openSessions(); err != nil {
		return err
	}

	gen, err := newGenerator(a.cfg, a.log)
	if err != nil {
		return err
	}
	a.log.Info("generator ready", "backend", gen.Backend(), "model", gen.Model(), "timeout", gen.Timeout())

	opts := []router.Option{
		router.WithContextWindow(a.cfg.Session.ContextWindow),
		router.WithMaxMessageLength(a.cfg.Router.MaxMessageLength),
		router.WithLogger(a.log),
	}
	if *a.cfg.Server.Metrics {
		a.metrics = metrics.New()
		opts = append(opts, router.WithObserver(a.metrics))
	}
	a.router = router.New(a.index, a.sessions, gen, policy.New(a.cfg.Escalation), opts...)
	return nil
}

// openFAQ loads the index from SQLite when a DSN is configured, else from
// the YAML file. With neither, the index stays unloaded and every message
// goes to the generator.
func (a *app) openFAQ(ctx context.Context) error {
	a.index = faq.NewIndex(
		faq.WithAcceptanceThreshold(a.cfg.FAQ.AcceptanceThreshold),
		faq.WithMinKeywordOverlap(a.cfg.FAQ.MinKeywordOverlap),
		faq.WithLogger(a.log),
	)

	switch {
	case a.cfg.FAQ.SQLiteDSN != "":
		store, err := faq.OpenSQLite(ctx, a.cfg.FAQ.SQLiteDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.source = store
	case a.cfg.FAQ.Path != "":
		a.source = faq.FileSource{Path: a.cfg.FAQ.Path}
	default:
		a.log.Warn("no faq source configured, answering from the generator only")
		return nil
	}
	return a.index.Reload(ctx, a.source)
}

func (a *app) openSessions() error {
	if a.cfg.Session.RedisURL == "" {
		store, err := session.NewStore(session.StoreTypeMemory,
			session.WithTTL(a.cfg.Session.TTL),
			session.WithLogger(a.log),
		)
		if err != nil {
			return err
		}
		a.sessions = store
		a.closers = append(a.closers, store.Close)
		return nil
	}

	opts, err := redis.ParseURL(a.cfg.Session.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	a.redis = redis.NewClient(opts)
	store, err := session.NewStore(session.StoreTypeRedis,
		session.WithRedisClient(a.redis),
		session.WithTTL(a.cfg.Session.TTL),
		session.WithLogger(a.log),
	)
	if err != nil {
		_ = a.redis.Close()
		return err
	}
	a.sessions = store
	// Closing the store closes the shared client.
	a.closers = append(a.closers, store.Close)
	return nil
}

func newGenerator(cfg *config.Config, log logger.Logger) (*generator.Client, error) {
	backend := cfg.Generator.Backend
	opts := adapter.Options{
		APIKey:  cfg.APIKey(backend),
		BaseURL: cfg.Generator.BaseURL,
	}
	if backend == "openrouter" {
		opts.Headers = map[string]string{"X-Title": "helpgate"}
	}
	a, err := adapter.New(backend, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s adapter: %w", backend, err)
	}

	return generator.New(a,
		generator.WithModel(cfg.ResolveModel(cfg.Generator.Model)),
		generator.WithTimeout(cfg.Generator.Timeout),
		generator.WithTemperature(*cfg.Generator.Temperature),
		generator.WithMaxTokens(cfg.Generator.MaxTokens),
		generator.WithSystemPrompt(cfg.Generator.SystemPrompt),
		generator.WithLogger(log),
	), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
